// Package catalog resolves models and providers from a YAML catalog file,
// validates per-model parameters and keeps model usage counters.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Errors returned by model resolution.
var (
	ErrModelNotFound    = errors.New("model not found")
	ErrModelInactive    = errors.New("model is inactive")
	ErrProviderInactive = errors.New("provider is inactive")
)

// UploadPolicy controls re-hosting of a provider's results.
type UploadPolicy struct {
	Rehost     bool   `yaml:"rehost"`
	PathPrefix string `yaml:"path_prefix"`
}

// Provider is a provider connection entry.
type Provider struct {
	Name        string            `yaml:"name"`
	Active      *bool             `yaml:"active"`
	APIKey      string            `yaml:"api_key"`
	APIEndpoint string            `yaml:"api_endpoint"`
	Extra       map[string]string `yaml:"extra"`
	Upload      UploadPolicy      `yaml:"upload"`
	// PollInterval and PollTimeout override the poller defaults when set.
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// IsActive reports whether the provider accepts new work. Unset means active.
func (p *Provider) IsActive() bool {
	return p.Active == nil || *p.Active
}

// Parameter declares one accepted model parameter.
type Parameter struct {
	// Type is one of string, integer, number, boolean. Empty accepts any JSON value.
	Type string `yaml:"type"`
	// Rules is a validator tag, e.g. "min=1,max=50".
	Rules    string `yaml:"rules"`
	Required bool   `yaml:"required"`
	Default  any    `yaml:"default"`
}

// Model is a generation model entry.
type Model struct {
	ID     string `yaml:"id"`
	Slug   string `yaml:"slug"`
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"`
	// Adapter is the registry key of the provider adapter.
	Adapter string `yaml:"adapter"`
	// ProviderName references Provider.Name.
	ProviderName string `yaml:"provider"`
	// ProviderModel is the provider-side model identifier.
	ProviderModel  string               `yaml:"provider_model"`
	OutputType     string               `yaml:"output_type"`
	DefaultOutputs int                  `yaml:"default_outputs"`
	MaxOutputs     int                  `yaml:"max_outputs"`
	AllowUnknown   bool                 `yaml:"allow_unknown_parameters"`
	Parameters     map[string]Parameter `yaml:"parameters"`
}

// IsActive reports whether the model accepts new work. Unset means active.
func (m *Model) IsActive() bool {
	return m.Active == nil || *m.Active
}

// Resolved is a model joined with its provider.
type Resolved struct {
	Model    Model
	Provider Provider
}

type file struct {
	Providers []Provider `yaml:"providers"`
	Models    []Model    `yaml:"models"`
}

// Catalog is an immutable, in-memory model and provider catalog.
type Catalog struct {
	providers map[string]Provider
	models    map[string]Model
	bySlug    map[string]string

	usageMu sync.Mutex
	usage   map[string]int64
}

// Load reads a catalog file. ${VAR} references are expanded from the
// environment before parsing. A missing file yields an empty catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(nil, nil)
		}
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse builds a catalog from YAML content.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return New(f.Providers, f.Models)
}

// New builds a catalog from entries, checking references and uniqueness.
func New(providers []Provider, models []Model) (*Catalog, error) {
	c := &Catalog{
		providers: make(map[string]Provider, len(providers)),
		models:    make(map[string]Model, len(models)),
		bySlug:    make(map[string]string, len(models)),
		usage:     make(map[string]int64),
	}
	for _, p := range providers {
		if p.Name == "" {
			return nil, errors.New("provider without name")
		}
		if _, dup := c.providers[p.Name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.Name)
		}
		c.providers[p.Name] = p
	}
	for _, m := range models {
		if m.ID == "" {
			return nil, errors.New("model without id")
		}
		if _, dup := c.models[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model %q", m.ID)
		}
		if _, ok := c.providers[m.ProviderName]; !ok {
			return nil, fmt.Errorf("model %q references unknown provider %q", m.ID, m.ProviderName)
		}
		if m.Slug == "" {
			m.Slug = m.ID
		}
		if m.DefaultOutputs <= 0 {
			m.DefaultOutputs = 1
		}
		for name, p := range m.Parameters {
			if !validType(p.Type) {
				return nil, fmt.Errorf("model %q parameter %q: unknown type %q", m.ID, name, p.Type)
			}
		}
		c.models[m.ID] = m
		c.bySlug[strings.ToLower(m.Slug)] = m.ID
	}
	return c, nil
}

// Lookup finds a model by id or slug without checking activity flags.
func (c *Catalog) Lookup(idOrSlug string) (Resolved, bool) {
	m, ok := c.models[idOrSlug]
	if !ok {
		mid, found := c.bySlug[strings.ToLower(idOrSlug)]
		if !found {
			return Resolved{}, false
		}
		m = c.models[mid]
	}
	return Resolved{Model: m, Provider: c.providers[m.ProviderName]}, true
}

// ResolveModel finds an active model and its active provider by id or slug.
// Not-found and inactive outcomes are distinguishable via errors.Is.
func (c *Catalog) ResolveModel(idOrSlug string) (Resolved, error) {
	r, ok := c.Lookup(idOrSlug)
	if !ok {
		return Resolved{}, fmt.Errorf("%s: %w", idOrSlug, ErrModelNotFound)
	}
	if !r.Model.IsActive() {
		return Resolved{}, fmt.Errorf("%s: %w", r.Model.ID, ErrModelInactive)
	}
	if !r.Provider.IsActive() {
		return Resolved{}, fmt.Errorf("%s: %w", r.Provider.Name, ErrProviderInactive)
	}
	return r, nil
}

// MaxPollTimeout returns the longest provider poll timeout, or fallback
// when no provider sets a longer one.
func (c *Catalog) MaxPollTimeout(fallback time.Duration) time.Duration {
	longest := fallback
	for _, p := range c.providers {
		longest = max(longest, p.PollTimeout)
	}
	return longest
}

// Models returns every model, ordered by id.
func (c *Catalog) Models() []Model {
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sortModels(out)
	return out
}
