package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	jsoniter "github.com/json-iterator/go"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openrules/openrules/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLiteStore persists field configs and entity types in SQLite.
// Deletes are soft; every save bumps the stored version.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	validator *Validator
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a store instance; Init opens the database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path, validator: NewValidator()}, nil
}

// Init opens the database, enables WAL mode and verifies connectivity.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveFieldConfig validates and upserts a field config. An existing row
// gets its version bumped; a soft-deleted row is resurrected with a
// bumped version.
func (s *SQLiteStore) SaveFieldConfig(ctx context.Context, cfg *engine.FieldConfig) error {
	if err := s.validator.ValidateFieldConfig(cfg); err != nil {
		return err
	}

	now := time.Now()
	var version int64
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT version, created_at FROM field_configs WHERE field_name = ?`,
		cfg.FieldName).Scan(&version, &createdAt)
	switch {
	case err == sql.ErrNoRows:
		version = 1
		createdAt = now
	case err != nil:
		return fmt.Errorf("failed to look up field config: %w", err)
	default:
		version++
	}

	stored := copyFieldConfig(cfg)
	stored.Version = version
	stored.CreatedAt = createdAt
	stored.UpdatedAt = now
	document, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal field config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO field_configs (field_name, document, version, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(field_name) DO UPDATE SET
			document = excluded.document,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, cfg.FieldName, string(document), version, createdAt, now)
	if err != nil {
		return fmt.Errorf("failed to save field config: %w", err)
	}
	return nil
}

// DeleteFieldConfig soft-deletes a field config.
func (s *SQLiteStore) DeleteFieldConfig(ctx context.Context, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE field_configs SET deleted_at = ? WHERE field_name = ? AND deleted_at IS NULL`,
		time.Now(), name)
	if err != nil {
		return false, fmt.Errorf("failed to delete field config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SaveEntityType validates and upserts an entity type.
func (s *SQLiteStore) SaveEntityType(ctx context.Context, et *engine.EntityType) error {
	if err := s.validator.ValidateEntityType(et); err != nil {
		return err
	}

	now := time.Now()
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM entity_types WHERE type_name = ?`,
		et.TypeName).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		version = 1
	case err != nil:
		return fmt.Errorf("failed to look up entity type: %w", err)
	default:
		version++
	}

	stored := copyEntityType(et)
	stored.Version = version
	document, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal entity type: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_types (type_name, document, version, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(type_name) DO UPDATE SET
			document = excluded.document,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, et.TypeName, string(document), version, now, now)
	if err != nil {
		return fmt.Errorf("failed to save entity type: %w", err)
	}
	return nil
}

// DeleteEntityType soft-deletes an entity type.
func (s *SQLiteStore) DeleteEntityType(ctx context.Context, typeName string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entity_types SET deleted_at = ? WHERE type_name = ? AND deleted_at IS NULL`,
		time.Now(), typeName)
	if err != nil {
		return false, fmt.Errorf("failed to delete entity type: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// FindFieldConfigsByName implements engine.Registry.
func (s *SQLiteStore) FindFieldConfigsByName(ctx context.Context, names []string) ([]*engine.FieldConfig, error) {
	found := make([]*engine.FieldConfig, 0, len(names))
	for _, name := range names {
		cfg, err := s.FindFieldConfig(ctx, name)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			found = append(found, cfg)
		}
	}
	return found, nil
}

// FindFieldConfig implements engine.Registry.
func (s *SQLiteStore) FindFieldConfig(ctx context.Context, name string) (*engine.FieldConfig, error) {
	var document string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM field_configs WHERE field_name = ? AND deleted_at IS NULL`,
		name).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field config: %w", err)
	}

	cfg := &engine.FieldConfig{}
	if err := json.Unmarshal([]byte(document), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode field config %q: %w", name, err)
	}
	return cfg, nil
}

// FindEntityType implements engine.Registry.
func (s *SQLiteStore) FindEntityType(ctx context.Context, typeName string) (*engine.EntityType, error) {
	var document string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM entity_types WHERE type_name = ? AND deleted_at IS NULL`,
		typeName).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity type: %w", err)
	}

	et := &engine.EntityType{}
	if err := json.Unmarshal([]byte(document), et); err != nil {
		return nil, fmt.Errorf("failed to decode entity type %q: %w", typeName, err)
	}
	return et, nil
}

// ExistsFieldName implements engine.Registry.
func (s *SQLiteStore) ExistsFieldName(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM field_configs WHERE field_name = ? AND deleted_at IS NULL`,
		name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check field name: %w", err)
	}
	return true, nil
}

// ListFieldNames returns every live field name, sorted by name.
func (s *SQLiteStore) ListFieldNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_name FROM field_configs WHERE deleted_at IS NULL ORDER BY field_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list field names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan field name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListEntityTypeNames returns every live entity type name, sorted.
func (s *SQLiteStore) ListEntityTypeNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type_name FROM entity_types WHERE deleted_at IS NULL ORDER BY type_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity types: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan type name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
