package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/engine"
)

// Admission is consulted before a configuration is accepted. The policy
// package provides a Rego-backed implementation.
type Admission interface {
	AdmitFieldConfig(ctx context.Context, cfg *engine.FieldConfig) error
	AdmitEntityType(ctx context.Context, et *engine.EntityType) error
}

// Writer is the write-side contract shared by registry implementations.
type Writer interface {
	SaveFieldConfig(ctx context.Context, cfg *engine.FieldConfig) error
	SaveEntityType(ctx context.Context, et *engine.EntityType) error
}

// Memory is an in-memory registry. Reads serve copies; stored configs
// are never handed out for mutation.
type Memory struct {
	mu          sync.RWMutex
	fields      map[string]*engine.FieldConfig
	entityTypes map[string]*engine.EntityType
	validator   *Validator
	admission   Admission
	logger      zerolog.Logger
}

// MemoryOptions configure an in-memory registry.
type MemoryOptions struct {
	// Admission, when set, gates every save.
	Admission Admission
}

// NewMemory creates an empty in-memory registry.
func NewMemory(opts MemoryOptions, logger zerolog.Logger) *Memory {
	return &Memory{
		fields:      make(map[string]*engine.FieldConfig),
		entityTypes: make(map[string]*engine.EntityType),
		validator:   NewValidator(),
		admission:   opts.Admission,
		logger:      logger.With().Str("component", "registry").Logger(),
	}
}

// SaveFieldConfig validates and stores a field config, bumping the
// version when the field already exists.
func (m *Memory) SaveFieldConfig(ctx context.Context, cfg *engine.FieldConfig) error {
	if err := m.validator.ValidateFieldConfig(cfg); err != nil {
		return err
	}
	if m.admission != nil {
		if err := m.admission.AdmitFieldConfig(ctx, cfg); err != nil {
			return err
		}
	}

	stored := copyFieldConfig(cfg)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.fields[cfg.FieldName]; ok {
		stored.Version = existing.Version + 1
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.Version = 1
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.fields[cfg.FieldName] = stored

	m.logger.Debug().Str("field", cfg.FieldName).Int64("version", stored.Version).
		Msg("field config saved")
	return nil
}

// DeleteFieldConfig removes a field config. It reports whether the
// field existed.
func (m *Memory) DeleteFieldConfig(_ context.Context, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.fields[name]
	delete(m.fields, name)
	return ok
}

// SaveEntityType validates and stores an entity type, bumping the
// version when the type already exists.
func (m *Memory) SaveEntityType(ctx context.Context, et *engine.EntityType) error {
	if err := m.validator.ValidateEntityType(et); err != nil {
		return err
	}
	if m.admission != nil {
		if err := m.admission.AdmitEntityType(ctx, et); err != nil {
			return err
		}
	}

	stored := copyEntityType(et)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entityTypes[et.TypeName]; ok {
		stored.Version = existing.Version + 1
	} else {
		stored.Version = 1
	}
	m.entityTypes[et.TypeName] = stored

	m.logger.Debug().Str("entityType", et.TypeName).Int64("version", stored.Version).
		Msg("entity type saved")
	return nil
}

// DeleteEntityType removes an entity type. It reports whether the type
// existed.
func (m *Memory) DeleteEntityType(_ context.Context, typeName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entityTypes[typeName]
	delete(m.entityTypes, typeName)
	return ok
}

// FindFieldConfigsByName implements engine.Registry.
func (m *Memory) FindFieldConfigsByName(_ context.Context, names []string) ([]*engine.FieldConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := make([]*engine.FieldConfig, 0, len(names))
	for _, name := range names {
		if cfg, ok := m.fields[name]; ok {
			found = append(found, copyFieldConfig(cfg))
		}
	}
	return found, nil
}

// FindFieldConfig implements engine.Registry.
func (m *Memory) FindFieldConfig(_ context.Context, name string) (*engine.FieldConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.fields[name]
	if !ok {
		return nil, nil
	}
	return copyFieldConfig(cfg), nil
}

// FindEntityType implements engine.Registry.
func (m *Memory) FindEntityType(_ context.Context, typeName string) (*engine.EntityType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	et, ok := m.entityTypes[typeName]
	if !ok {
		return nil, nil
	}
	return copyEntityType(et), nil
}

// ExistsFieldName implements engine.Registry.
func (m *Memory) ExistsFieldName(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.fields[name]
	return ok, nil
}

// ListFieldNames returns every registered field name, sorted.
func (m *Memory) ListFieldNames(_ context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.fields))
	for name := range m.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListEntityTypeNames returns every registered entity type name, sorted.
func (m *Memory) ListEntityTypeNames(_ context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entityTypes))
	for name := range m.entityTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyFieldConfig(cfg *engine.FieldConfig) *engine.FieldConfig {
	out := *cfg
	if cfg.Dependencies != nil {
		out.Dependencies = append([]string(nil), cfg.Dependencies...)
	}
	if cfg.DataService != nil {
		ds := *cfg.DataService
		out.DataService = &ds
	}
	if cfg.Calculator != nil {
		calc := *cfg.Calculator
		out.Calculator = &calc
	}
	return &out
}

func copyEntityType(et *engine.EntityType) *engine.EntityType {
	out := *et
	if et.DataService != nil {
		ds := *et.DataService
		out.DataService = &ds
	}
	if et.FieldMappings != nil {
		out.FieldMappings = make(map[string]string, len(et.FieldMappings))
		for k, v := range et.FieldMappings {
			out.FieldMappings[k] = v
		}
	}
	if et.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(et.Metadata))
		for k, v := range et.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
