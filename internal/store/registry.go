package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quarry-data/quarry/internal/manifest"
)

// OnboardSchema registers a schema major version for a layer on first
// use. Idempotent: re-onboarding the identical definition is a no-op.
// A conflicting definition at an existing (layer, major) slot returns
// an InterfaceConflictError and leaves the registry untouched.
//
// Returns true if a new registration was written.
func (s *Store) OnboardSchema(ctx context.Context, layer manifest.Layer, major int, definition string) (bool, error) {
	hash := manifest.SchemaHash(definition)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("onboard schema %s v%d: begin tx: %w", layer, major, err)
	}
	defer tx.Rollback()

	var existingHash string
	err = tx.QueryRowContext(ctx, `
		SELECT definition_hash FROM schema_versions WHERE layer = ? AND major = ?
	`, string(layer), major).Scan(&existingHash)
	switch {
	case err == nil && existingHash == hash:
		return false, nil
	case err == nil:
		return false, &InterfaceConflictError{
			Slot:     fmt.Sprintf("schema %s v%d", layer, major),
			Existing: existingHash,
			Supplied: hash,
		}
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("onboard schema %s v%d: check existing: %w", layer, major, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_versions (layer, major, definition_hash, definition, onboarded_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(layer), major, hash, definition, s.timestamp())
	if err != nil {
		return false, fmt.Errorf("onboard schema %s v%d: insert: %w", layer, major, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("onboard schema %s v%d: commit: %w", layer, major, err)
	}
	return true, nil
}

// OnboardComponent registers a component version on first use, keyed
// by (engine, layer, name, version). Idempotent like OnboardSchema:
// matching interface id no-ops, a conflicting one is rejected.
//
// Returns true if a new registration was written.
func (s *Store) OnboardComponent(ctx context.Context, engine string, layer manifest.Layer, name, version, interfaceID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("onboard component %s: begin tx: %w", name, err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT interface_id FROM component_versions
		WHERE engine = ? AND layer = ? AND name = ? AND version = ?
	`, engine, string(layer), name, version).Scan(&existing)
	switch {
	case err == nil && existing == interfaceID:
		return false, nil
	case err == nil:
		return false, &InterfaceConflictError{
			Slot:     fmt.Sprintf("component %s/%s/%s v%s", engine, layer, name, version),
			Existing: existing,
			Supplied: interfaceID,
		}
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("onboard component %s: check existing: %w", name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO component_versions (engine, layer, name, version, interface_id, onboarded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, engine, string(layer), name, version, interfaceID, s.timestamp())
	if err != nil {
		return false, fmt.Errorf("onboard component %s: insert: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("onboard component %s: commit: %w", name, err)
	}
	return true, nil
}

// SchemaOnboarded reports whether a (layer, major) schema is registered.
func (s *Store) SchemaOnboarded(ctx context.Context, layer manifest.Layer, major int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM schema_versions WHERE layer = ? AND major = ?
	`, string(layer), major).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("schema onboarded %s v%d: %w", layer, major, err)
	}
	return count > 0, nil
}

// OnboardedSchema is one registered schema version.
type OnboardedSchema struct {
	Layer       string `json:"layer"`
	Major       int    `json:"major"`
	Hash        string `json:"hash"`
	OnboardedAt string `json:"onboardedAt"`
}

// ListSchemas returns all registered schema versions in deterministic
// order. Returns an empty slice, not nil, when none exist.
func (s *Store) ListSchemas(ctx context.Context) ([]OnboardedSchema, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT layer, major, definition_hash, onboarded_at
		FROM schema_versions
		ORDER BY layer ASC, major ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()

	out := make([]OnboardedSchema, 0)
	for rows.Next() {
		var o OnboardedSchema
		if err := rows.Scan(&o.Layer, &o.Major, &o.Hash, &o.OnboardedAt); err != nil {
			return nil, fmt.Errorf("list schemas: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return out, nil
}

// OnboardedComponent is one registered component version.
type OnboardedComponent struct {
	Engine      string `json:"engine"`
	Layer       string `json:"layer"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	InterfaceID string `json:"interfaceId"`
	OnboardedAt string `json:"onboardedAt"`
}

// ListComponents returns all registered component versions in
// deterministic order. Returns an empty slice, not nil, when none exist.
func (s *Store) ListComponents(ctx context.Context) ([]OnboardedComponent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT engine, layer, name, version, interface_id, onboarded_at
		FROM component_versions
		ORDER BY engine ASC, layer ASC, name COLLATE BINARY ASC, version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	out := make([]OnboardedComponent, 0)
	for rows.Next() {
		var o OnboardedComponent
		if err := rows.Scan(&o.Engine, &o.Layer, &o.Name, &o.Version, &o.InterfaceID, &o.OnboardedAt); err != nil {
			return nil, fmt.Errorf("list components: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	return out, nil
}
