package provider

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/config"
	"github.com/filewarden/filewarden/internal/domain"
)

// Build constructs the adapter for one provider configuration. The kind
// switch is exhaustive over the closed variant set; config validation has
// already rejected unknown kinds, so hitting default here is a programming
// error, not a user error.
func Build(ctx context.Context, cfg config.ProviderConfig, logger zerolog.Logger) (Adapter, error) {
	switch cfg.Kind {
	case config.KindLocal:
		return NewLocalAdapter(cfg.Name, cfg.Local, logger)
	case config.KindS3:
		return NewS3Adapter(ctx, cfg.Name, cfg.S3, logger)
	case config.KindGCS:
		return NewGCSAdapter(ctx, cfg.Name, cfg.GCS, logger)
	default:
		return nil, fmt.Errorf("provider %q: unhandled kind %q", cfg.Name, cfg.Kind)
	}
}

// Registry holds the adapters for all enabled providers, keyed by name.
// Folder-to-provider routing resolves against it; the mapping is fixed at
// startup (disabled providers are registered as names only, so lookups can
// distinguish "disabled" from "unknown").
type Registry struct {
	adapters map[string]Adapter
	disabled map[string]bool
}

// NewRegistry builds adapters for every configured provider.
func NewRegistry(ctx context.Context, providers []config.ProviderConfig, logger zerolog.Logger) (*Registry, error) {
	reg := &Registry{
		adapters: make(map[string]Adapter, len(providers)),
		disabled: make(map[string]bool),
	}

	for _, cfg := range providers {
		if !cfg.Enabled {
			reg.disabled[cfg.Name] = true
			logger.Info().Str("provider", cfg.Name).Msg("provider configured but disabled")
			continue
		}

		adapter, err := Build(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		reg.adapters[cfg.Name] = adapter
		logger.Info().
			Str("provider", cfg.Name).
			Str("kind", string(cfg.Kind)).
			Msg("provider ready")
	}

	return reg, nil
}

// NewStaticRegistry builds a registry from pre-constructed adapters, keyed by
// their Name(). Used by tests and anywhere adapters are built out of band.
func NewStaticRegistry(adapters ...Adapter) *Registry {
	reg := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		disabled: make(map[string]bool),
	}
	for _, a := range adapters {
		reg.adapters[a.Name()] = a
	}
	return reg
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	if r.disabled[name] {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderDisabled, name)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, name)
}

// Names returns the enabled provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
