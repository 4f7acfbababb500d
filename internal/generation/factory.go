package generation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/generator"
	"github.com/maauso/mediagen-api/internal/poller"
	"github.com/maauso/mediagen-api/internal/results"
)

// ErrNotPollable is returned when an adapter reports in-progress work but
// cannot be polled.
var ErrNotPollable = errors.New("adapter does not support status checks")

// Factory builds adapters for catalog models through the adapter registry.
type Factory struct {
	registry   *generator.Registry
	catalog    Catalog
	httpClient *http.Client
}

// NewFactory creates a Factory. httpClient may be nil.
func NewFactory(registry *generator.Registry, cat Catalog, httpClient *http.Client) *Factory {
	return &Factory{registry: registry, catalog: cat, httpClient: httpClient}
}

// Build constructs the adapter declared by the model. It returns
// *generator.UnknownAdapterError for an unregistered adapter name.
func (f *Factory) Build(r catalog.Resolved) (generator.Adapter, error) {
	extra := make(map[string]string, len(r.Provider.Extra)+1)
	maps.Copy(extra, r.Provider.Extra)
	if r.Model.OutputType != "" {
		extra["output_type"] = r.Model.OutputType
	}
	return f.registry.Build(r.Model.Adapter, generator.ProviderConfig{
		Name:        r.Provider.Name,
		APIKey:      r.Provider.APIKey,
		APIEndpoint: r.Provider.APIEndpoint,
		Extra:       extra,
		HTTPClient:  f.httpClient,
	})
}

// ResolveTarget implements poller.TargetResolver. Activity flags are not
// checked: work already dispatched is followed to completion.
func (f *Factory) ResolveTarget(_ context.Context, modelID string) (poller.Target, error) {
	r, ok := f.catalog.Lookup(modelID)
	if !ok {
		return poller.Target{}, fmt.Errorf("%s: %w", modelID, catalog.ErrModelNotFound)
	}
	a, err := f.Build(r)
	if err != nil {
		return poller.Target{}, err
	}
	checker, ok := a.(generator.StatusChecker)
	if !ok {
		return poller.Target{}, fmt.Errorf("%s: %w", a.Name(), ErrNotPollable)
	}
	return poller.Target{
		Adapter:  a.Name(),
		Checker:  checker,
		Interval: r.Provider.PollInterval,
		Timeout:  r.Provider.PollTimeout,
		Policy:   policyOf(r.Provider),
	}, nil
}

func policyOf(p catalog.Provider) results.Policy {
	return results.Policy{Rehost: p.Upload.Rehost, PathPrefix: p.Upload.PathPrefix}
}
