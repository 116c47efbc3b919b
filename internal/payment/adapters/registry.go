package adapters

import (
	"strings"

	"github.com/smallbiznis/tillpoint/internal/payment/domain"
)

type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	_, ok := r.factory(provider)
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Gateway, error) {
	factory, ok := r.factory(provider)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}

func (r *Registry) ParseCallback(provider string, payload []byte) (*domain.Callback, error) {
	factory, ok := r.factory(provider)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	cb, err := factory.ParseCallback(payload)
	if err != nil {
		return nil, err
	}
	cb.Provider = normalize(provider)
	return cb, nil
}

func (r *Registry) factory(provider string) (domain.AdapterFactory, bool) {
	if r == nil {
		return nil, false
	}
	factory, ok := r.factories[normalize(provider)]
	return factory, ok
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
