package settings

import (
	"context"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// cacheTTL bounds how long a resolved configuration is reused
const cacheTTL = time.Minute

// Service resolves per-source configuration: environment defaults with the
// stored overrides of the source on top. It implements
// domain.SourceConfigProvider.
type Service struct {
	repo     *Repository
	defaults domain.SourceConfig
	resolved *cache.Cache
	events   *events.Bus
	log      zerolog.Logger
}

// NewService creates a settings service. bus may be nil.
func NewService(repo *Repository, defaults domain.SourceConfig, bus *events.Bus, log zerolog.Logger) *Service {
	if defaults.Thresholds.Version == 0 {
		defaults.Thresholds = domain.DefaultThresholds()
	}
	return &Service{
		repo:     repo,
		defaults: defaults,
		resolved: cache.New(cacheTTL, 5*cacheTTL),
		events:   bus,
		log:      log.With().Str("service", "settings").Logger(),
	}
}

// Defaults returns the configuration of a source without overrides
func (s *Service) Defaults() domain.SourceConfig {
	return s.defaults
}

// GetSourceConfig returns the effective configuration of source
func (s *Service) GetSourceConfig(ctx context.Context, source string) (domain.SourceConfig, error) {
	key := NormalizeSource(source)
	if cfg, ok := s.resolved.Get(key); ok {
		return cfg.(domain.SourceConfig), nil
	}

	o, err := s.repo.Get(ctx, key)
	if err != nil {
		return domain.SourceConfig{}, err
	}

	cfg := s.defaults
	if o != nil {
		cfg = o.Apply(cfg)
	}
	cfg.Source = key
	s.resolved.SetDefault(key, cfg)
	return cfg, nil
}

// GetOverrides returns the stored overrides of source, empty when none
func (s *Service) GetOverrides(ctx context.Context, source string) (SourceOverrides, error) {
	o, err := s.repo.Get(ctx, NormalizeSource(source))
	if err != nil || o == nil {
		return SourceOverrides{}, err
	}
	return *o, nil
}

// Update merges patch into the stored overrides of source and returns the
// new effective configuration
func (s *Service) Update(ctx context.Context, source string, patch SourceOverrides) (domain.SourceConfig, error) {
	if err := patch.Validate(); err != nil {
		return domain.SourceConfig{}, err
	}

	key := NormalizeSource(source)
	current, err := s.GetOverrides(ctx, key)
	if err != nil {
		return domain.SourceConfig{}, err
	}
	merged := current.Merge(patch)
	if err := s.repo.Set(ctx, key, merged); err != nil {
		return domain.SourceConfig{}, err
	}
	s.resolved.Delete(key)

	cfg, err := s.GetSourceConfig(ctx, key)
	if err != nil {
		return domain.SourceConfig{}, err
	}

	s.log.Info().
		Str("source", key).
		Bool("auto_insert", cfg.AutoInsertEnabled).
		Str("duplicate_gate", string(cfg.DuplicateGate)).
		Msg("Source settings updated")
	s.events.EmitTyped("settings", &events.SourceSettingsData{
		Source:            key,
		AutoInsertEnabled: cfg.AutoInsertEnabled,
		DuplicateGate:     string(cfg.DuplicateGate),
	})
	return cfg, nil
}

// Reset removes every override of source
func (s *Service) Reset(ctx context.Context, source string) error {
	key := NormalizeSource(source)
	if err := s.repo.Delete(ctx, key); err != nil {
		return err
	}
	s.resolved.Delete(key)

	s.events.EmitTyped("settings", &events.SourceSettingsData{
		Source:            key,
		AutoInsertEnabled: s.defaults.AutoInsertEnabled,
		DuplicateGate:     string(s.defaults.DuplicateGate),
	})
	return nil
}

// List returns the effective configuration of every source with overrides
func (s *Service) List(ctx context.Context) (map[string]domain.SourceConfig, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]domain.SourceConfig, len(all))
	for source, o := range all {
		cfg := o.Apply(s.defaults)
		cfg.Source = source
		result[source] = cfg
	}
	return result, nil
}
