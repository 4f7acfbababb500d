package catalog

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/mediagen-api/internal/domain"
)

var validate = validator.New()

func validType(t string) bool {
	switch t {
	case "", "string", "integer", "number", "boolean":
		return true
	default:
		return false
	}
}

// ValidateParameters checks raw against the model's declared parameters,
// applies defaults and coerces JSON numbers to the declared type.
// It returns domain.ValidationErrors listing every offending field.
func (c *Catalog) ValidateParameters(modelIDOrSlug string, raw map[string]any) (map[string]any, error) {
	r, ok := c.Lookup(modelIDOrSlug)
	if !ok {
		return nil, fmt.Errorf("%s: %w", modelIDOrSlug, ErrModelNotFound)
	}
	return r.Model.ValidateParameters(raw)
}

// ValidateParameters is the per-model form of Catalog.ValidateParameters.
func (m *Model) ValidateParameters(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw)+len(m.Parameters))
	var errs domain.ValidationErrors

	for _, name := range slices.Sorted(maps.Keys(raw)) {
		if _, declared := m.Parameters[name]; !declared && !m.AllowUnknown {
			errs = append(errs, domain.ValidationError{Field: "parameters." + name, Message: "unknown parameter"})
			continue
		}
		out[name] = raw[name]
	}

	for _, name := range slices.Sorted(maps.Keys(m.Parameters)) {
		p := m.Parameters[name]
		field := "parameters." + name
		v, present := out[name]
		if !present || v == nil {
			switch {
			case p.Default != nil:
				out[name] = p.Default
			case p.Required:
				errs = append(errs, domain.ValidationError{Field: field, Message: "is required"})
			}
			continue
		}

		coerced, err := coerce(v, p.Type)
		if err != nil {
			errs = append(errs, domain.ValidationError{Field: field, Message: err.Error()})
			continue
		}
		if p.Rules != "" {
			if err := validate.Var(coerced, p.Rules); err != nil {
				errs = append(errs, domain.ValidationError{Field: field, Message: "must satisfy " + p.Rules})
				continue
			}
		}
		out[name] = coerced
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func coerce(v any, typ string) (any, error) {
	switch typ {
	case "":
		return v, nil
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, errors.New("must be a string")
	case "boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, errors.New("must be a boolean")
	case "number":
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		return nil, errors.New("must be a number")
	case "integer":
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, errors.New("must be an integer")
		}
		return int64(f), nil
	}
	return nil, fmt.Errorf("unsupported type %q", typ)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
