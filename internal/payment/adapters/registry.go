package adapters

import (
	"sort"
	"strings"
	"sync"

	"github.com/smallbiznis/donorflow/internal/payment/domain"
)

// Registry resolves a webhook path segment such as "stripe" to the adapter
// that verifies and decodes that processor's events. Adapters are built on
// first use and reused afterwards.
type Registry struct {
	factories map[string]domain.AdapterFactory

	mu    sync.Mutex
	built map[string]domain.PaymentAdapter
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{
		factories: make(map[string]domain.AdapterFactory, len(factories)),
		built:     map[string]domain.PaymentAdapter{},
	}
	for _, f := range factories {
		if f == nil {
			continue
		}
		if name := normalize(f.Provider()); name != "" {
			r.factories[name] = f
		}
	}
	return r
}

// Has reports whether a processor with this name is registered.
func (r *Registry) Has(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

// Providers lists registered processor names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Adapter returns the adapter for provider, building it from cfg the first
// time. A factory error is not cached.
func (r *Registry) Adapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	name := normalize(provider)
	f, ok := r.factories[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.built[name]; ok {
		return a, nil
	}
	a, err := f.NewAdapter(cfg)
	if err != nil {
		return nil, err
	}
	r.built[name] = a
	return a, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
