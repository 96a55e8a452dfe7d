// Package presets holds named scoring configurations.
//
// A Store is passed explicitly to whoever needs presets. Built-in presets are
// visible to every tenant; tenant presets with the same name take precedence.
package presets

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ConfigRepository is the persistence the store loads from and saves to.
// domain.Repository satisfies it.
type ConfigRepository interface {
	SaveScoringConfig(ctx context.Context, tenantID string, cfg *domain.ScoringConfig) error
	ListScoringConfigs(ctx context.Context, tenantID string) ([]*domain.ScoringConfig, error)
}

// Builtins returns the built-in presets.
func Builtins() []domain.ScoringConfig {
	return []domain.ScoringConfig{
		domain.DefaultScoringConfig(),
		domain.ConservativeScoringConfig(),
		domain.AggressiveScoringConfig(),
	}
}

// Store is a concurrency-safe set of named scoring configurations.
type Store struct {
	mu       sync.RWMutex
	builtins map[string]domain.ScoringConfig
	tenants  map[string]map[string]domain.ScoringConfig
	now      func() time.Time
}

// NewStore creates a store seeded with the built-in presets.
func NewStore() *Store {
	s := &Store{
		builtins: make(map[string]domain.ScoringConfig),
		tenants:  make(map[string]map[string]domain.ScoringConfig),
		now:      time.Now,
	}
	for _, cfg := range Builtins() {
		s.builtins[key(cfg.Name)] = cfg
	}
	return s
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get returns a preset by name, case-insensitively.
func (s *Store) Get(tenantID, name string) (domain.ScoringConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key(name)
	if cfg, ok := s.tenants[tenantID][k]; ok {
		return cfg, nil
	}
	if cfg, ok := s.builtins[k]; ok {
		return cfg, nil
	}
	return domain.ScoringConfig{}, fmt.Errorf("preset %q: %w", name, domain.ErrNotFound)
}

// Put validates, normalizes and stores a tenant preset. It returns the
// stored config and any normalization warnings.
func (s *Store) Put(tenantID string, cfg domain.ScoringConfig) (domain.ScoringConfig, []string, error) {
	if tenantID == "" {
		return domain.ScoringConfig{}, nil, &domain.InputError{Field: "tenantId", Reason: "tenant is required"}
	}
	if key(cfg.Name) == "" {
		return domain.ScoringConfig{}, nil, &domain.InputError{Field: "name", Reason: "preset name is required"}
	}

	weights, warnings, err := cfg.Weights.ValidateAndNormalize()
	if err != nil {
		return domain.ScoringConfig{}, nil, err
	}
	cfg.Weights = weights
	if err := cfg.Validate(); err != nil {
		return domain.ScoringConfig{}, nil, err
	}
	cfg.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tenants[tenantID] == nil {
		s.tenants[tenantID] = make(map[string]domain.ScoringConfig)
	}
	s.tenants[tenantID][key(cfg.Name)] = cfg

	return cfg, warnings, nil
}

// List returns the presets visible to a tenant, ordered by name.
func (s *Store) List(tenantID string) []domain.ScoringConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string]domain.ScoringConfig, len(s.builtins))
	for k, cfg := range s.builtins {
		merged[k] = cfg
	}
	for k, cfg := range s.tenants[tenantID] {
		merged[k] = cfg
	}

	out := make([]domain.ScoringConfig, 0, len(merged))
	for _, cfg := range merged {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].Name) < key(out[j].Name) })
	return out
}

// tenantPresets returns the tenant's own presets ordered by name.
func (s *Store) tenantPresets(tenantID string) []domain.ScoringConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ScoringConfig, 0, len(s.tenants[tenantID]))
	for _, cfg := range s.tenants[tenantID] {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].Name) < key(out[j].Name) })
	return out
}

// Load reads the tenant's presets from the repository. Stored presets that
// no longer validate are skipped and reported as an error after the rest
// are loaded.
func (s *Store) Load(ctx context.Context, repo ConfigRepository, tenantID string) error {
	configs, err := repo.ListScoringConfigs(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load presets: %w", err)
	}

	var bad []string
	for _, cfg := range configs {
		updated := cfg.UpdatedAt
		if _, _, err := s.Put(tenantID, *cfg); err != nil {
			bad = append(bad, cfg.Name)
			continue
		}
		if !updated.IsZero() {
			s.setUpdatedAt(tenantID, cfg.Name, updated)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("skipped invalid presets %s: %w", strings.Join(bad, ", "), domain.ErrInvalidInput)
	}
	return nil
}

func (s *Store) setUpdatedAt(tenantID, name string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.tenants[tenantID][key(name)]; ok {
		cfg.UpdatedAt = t
		s.tenants[tenantID][key(name)] = cfg
	}
}

// Save writes the tenant's presets to the repository.
func (s *Store) Save(ctx context.Context, repo ConfigRepository, tenantID string) error {
	for _, cfg := range s.tenantPresets(tenantID) {
		if err := repo.SaveScoringConfig(ctx, tenantID, &cfg); err != nil {
			return fmt.Errorf("failed to save preset %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// presetFile is the YAML layout of a preset file.
type presetFile struct {
	Presets []domain.ScoringConfig `yaml:"presets"`
}

// LoadFile reads presets from a YAML file into the tenant's set. The file
// is all-or-nothing: one invalid preset rejects the file.
func (s *Store) LoadFile(tenantID, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read preset file: %w", err)
	}

	var f presetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to parse preset file %s: %w", path, err)
	}

	for _, cfg := range f.Presets {
		if key(cfg.Name) == "" {
			return fmt.Errorf("preset without a name in %s: %w", path, domain.ErrInvalidInput)
		}
		weights, _, err := cfg.Weights.ValidateAndNormalize()
		if err != nil {
			return fmt.Errorf("preset %q in %s: %w", cfg.Name, path, err)
		}
		cfg.Weights = weights
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("preset %q in %s: %w", cfg.Name, path, err)
		}
	}

	for _, cfg := range f.Presets {
		if _, _, err := s.Put(tenantID, cfg); err != nil {
			return fmt.Errorf("preset %q in %s: %w", cfg.Name, path, err)
		}
	}
	return nil
}

// SaveFile writes every preset visible to the tenant to a YAML file.
func (s *Store) SaveFile(tenantID, path string) error {
	raw, err := yaml.Marshal(presetFile{Presets: s.List(tenantID)})
	if err != nil {
		return fmt.Errorf("failed to encode presets: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write preset file: %w", err)
	}
	return nil
}
