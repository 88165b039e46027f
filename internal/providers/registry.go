package providers

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"orderhub/internal/apperr"
	"orderhub/internal/config"
	"orderhub/internal/logging"
	"orderhub/internal/providers/careem"
	"orderhub/internal/providers/deliveroo"
	"orderhub/internal/providers/jahez"
	"orderhub/internal/providers/talabat"
	"orderhub/internal/webhooks"
)

// Registry maps provider ids to adapters. Lookups are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{adapters: map[string]Adapter{}, log: logging.OrDiscard(log).With("component", "providers")}
}

func normalize(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

// Register adds or replaces the adapter for id.
func (r *Registry) Register(id string, a Adapter) {
	key := normalize(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[key]; ok {
		r.log.Warn("provider adapter replaced", "provider", key)
	}
	r.adapters[key] = a
}

func (r *Registry) Resolve(id string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[normalize(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Errorf(apperr.KindUnsupportedProvider, "providers.resolve", "%q", id)
	}
	return a, nil
}

func (r *Registry) IsSupported(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[normalize(id)]
	return ok
}

// ListSupported returns the registered ids in sorted order.
func (r *Registry) ListSupported() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// SchemeFor lets the registry act as the verifier's scheme source.
func (r *Registry) SchemeFor(provider string) (webhooks.Scheme, error) {
	a, err := r.Resolve(provider)
	if err != nil {
		return webhooks.Scheme{}, err
	}
	return a.Scheme(), nil
}

// Default registers every enabled built-in provider. Jahez gets its API
// client when a base URL is configured.
func Default(cfg *config.Config, log *slog.Logger) *Registry {
	r := NewRegistry(log)
	if _, ok := cfg.Provider(careem.ID); ok {
		r.Register(careem.ID, careem.New())
	}
	if _, ok := cfg.Provider(talabat.ID); ok {
		r.Register(talabat.ID, talabat.New())
	}
	if _, ok := cfg.Provider(deliveroo.ID); ok {
		r.Register(deliveroo.ID, deliveroo.New())
	}
	if pc, ok := cfg.Provider(jahez.ID); ok {
		if pc.BaseURL != "" {
			r.Register(jahez.ID, jahez.NewWithAPI(pc))
		} else {
			r.Register(jahez.ID, jahez.New())
		}
	}
	return r
}
