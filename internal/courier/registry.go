package courier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/orderdesk/backend-fulfillment/internal/resilience"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

// ErrProviderNotFound is returned when no active adapter is configured for the id.
var ErrProviderNotFound = errors.New("courier provider not found")

// Registry resolves adapters by provider id. It is built once at startup from
// the settings store and is read-only at request time.
type Registry struct {
	providers map[string]store.Provider
	adapters  map[string]Adapter
	order     []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]store.Provider),
		adapters:  make(map[string]Adapter),
	}
}

// Register adds a provider and its adapter. Later registrations with the same
// id replace earlier ones.
func (r *Registry) Register(p store.Provider, a Adapter) {
	if _, exists := r.providers[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	r.providers[p.ID] = p
	r.adapters[p.ID] = a
}

// Resolve returns the adapter for the provider id. Inactive and unconfigured
// providers both resolve to ErrProviderNotFound.
func (r *Registry) Resolve(providerID string) (Adapter, error) {
	p, ok := r.providers[providerID]
	if !ok || !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	return r.adapters[providerID], nil
}

// Provider returns the stored configuration for the id.
func (r *Registry) Provider(providerID string) (store.Provider, bool) {
	p, ok := r.providers[providerID]
	return p, ok
}

// List returns all configured providers in registration order.
func (r *Registry) List() []store.Provider {
	result := make([]store.Provider, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.providers[id])
	}
	return result
}

type providerLister interface {
	List(ctx context.Context) ([]store.Provider, error)
}

type credentials struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// BuildOptions configures adapter construction from stored settings.
type BuildOptions struct {
	HTTP           *resilience.HTTPClient
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// FromStore loads provider rows and instantiates adapters by adapter type.
// Unrecognised adapter types are logged and skipped rather than failing boot.
func FromStore(ctx context.Context, q providerLister, opts BuildOptions) (*Registry, error) {
	rows, err := q.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	registry := NewRegistry()
	for _, p := range rows {
		var creds credentials
		if len(p.Credentials) > 0 {
			if err := json.Unmarshal(p.Credentials, &creds); err != nil {
				opts.Logger.Error().Err(err).Str("provider", p.ID).Msg("decode provider credentials")
				continue
			}
		}
		adapter, err := buildAdapter(p, creds, opts)
		if err != nil {
			opts.Logger.Warn().Err(err).Str("provider", p.ID).Str("adapter_type", p.AdapterType).Msg("skip provider")
			continue
		}
		registry.Register(p, adapter)
	}
	return registry, nil
}

func buildAdapter(p store.Provider, creds credentials, opts BuildOptions) (Adapter, error) {
	switch p.AdapterType {
	case "jne":
		return &JNE{Provider: p.ID, APIKey: creds.APIKey, BaseURL: creds.BaseURL, HTTP: opts.HTTP, Logger: opts.Logger}, nil
	case "sicepat":
		return &SiCepat{Provider: p.ID, APIKey: creds.APIKey, BaseURL: creds.BaseURL, HTTP: opts.HTTP, Logger: opts.Logger}, nil
	case "mock":
		return &Mock{Provider: p.ID}, nil
	default:
		return nil, fmt.Errorf("unsupported adapter type %q", p.AdapterType)
	}
}
