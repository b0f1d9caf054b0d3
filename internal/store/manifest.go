package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/quarry-data/quarry/internal/manifest"
)

// DeployStatus reports what a Deploy call did.
type DeployStatus string

const (
	// StatusDeployed indicates a new immutable version was stored.
	StatusDeployed DeployStatus = "DEPLOYED"

	// StatusSkipped indicates the identical version was already
	// deployed; the store was left untouched.
	StatusSkipped DeployStatus = "SKIPPED"
)

// ManifestRecord is a deployed manifest version read back from the store.
type ManifestRecord struct {
	Descriptor  manifest.Descriptor `json:"descriptor"`
	Document    map[string]any      `json:"document"`
	ContentHash string              `json:"contentHash"`
	DeployedAt  string              `json:"deployedAt"`
}

// DeployResult summarizes a Deploy call.
type DeployResult struct {
	ManifestID  string       `json:"manifestId"`
	Version     string       `json:"version"`
	Layer       string       `json:"layer"`
	ContentHash string       `json:"contentHash"`
	Status      DeployStatus `json:"status"`
	Latest      string       `json:"latest"`
	RecordID    string       `json:"recordId"`
}

// Deploy stores a manifest version immutably and maintains the latest
// pointer, all in one transaction:
//
//   - identical redeploy (same version, same content hash): SKIPPED,
//     manifest tables untouched
//   - same version with different content: ConflictError, store untouched
//   - new version: version row inserted, latest pointer advanced only
//     if the new version is semantically greater than the current one
//
// Every non-conflicting call appends a sequenced deployment record,
// skipped redeploys included, so deployment history is itself evidence.
func (s *Store) Deploy(ctx context.Context, d *manifest.Descriptor, doc map[string]any) (*DeployResult, error) {
	hash, err := d.ContentHash()
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", d.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: begin tx: %w", d.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	status := StatusDeployed

	var existingHash string
	err = tx.QueryRowContext(ctx, `
		SELECT content_hash FROM manifest_versions
		WHERE manifest_id = ? AND version = ?
	`, d.ID, d.Version).Scan(&existingHash)
	switch {
	case err == nil && existingHash == hash:
		status = StatusSkipped
	case err == nil:
		// Immutable version, different content: governance violation.
		return nil, &ConflictError{
			ManifestID:   d.ID,
			Version:      d.Version,
			ExistingHash: existingHash,
			NewHash:      hash,
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("deploy %s: check existing: %w", d.ID, err)
	}

	now := s.timestamp()

	if status == StatusDeployed {
		descJSON, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("deploy %s: marshal descriptor: %w", d.ID, err)
		}
		docJSON, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("deploy %s: marshal document: %w", d.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO manifest_versions
			(manifest_id, version, layer, agency, schema_major, engine, content_hash, descriptor, document, deployed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, d.Version, string(d.Layer), d.Agency, d.SchemaMajor, d.Engine, hash, string(descJSON), string(docJSON), now)
		if err != nil {
			return nil, fmt.Errorf("deploy %s: insert version: %w", d.ID, err)
		}
	}

	latest, err := s.advanceLatest(ctx, tx, d.ID, d.Version, now)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", d.ID, err)
	}

	seq, err := NextSeq(ctx, tx, "deploy")
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", d.ID, err)
	}
	recordID := fmt.Sprintf("deploy-%04d-%s-v%s", seq, d.ID, d.Version)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployment_records
		(record_id, seq, manifest_id, version, layer, content_hash, status, deployed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, recordID, seq, d.ID, d.Version, string(d.Layer), hash, string(status), now)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: insert deployment record: %w", d.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("deploy %s: commit: %w", d.ID, err)
	}

	return &DeployResult{
		ManifestID:  d.ID,
		Version:     d.Version,
		Layer:       string(d.Layer),
		ContentHash: hash,
		Status:      status,
		Latest:      latest,
		RecordID:    recordID,
	}, nil
}

// advanceLatest moves the latest pointer to version iff it is
// semantically greater than the current pointer (or no pointer exists).
// Returns the pointer value after the call.
func (s *Store) advanceLatest(ctx context.Context, tx *sql.Tx, manifestID, version, now string) (string, error) {
	var current string
	err := tx.QueryRowContext(ctx, `
		SELECT version FROM manifest_latest WHERE manifest_id = ?
	`, manifestID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = ""
	case err != nil:
		return "", fmt.Errorf("read latest pointer: %w", err)
	}

	if current != "" && manifest.CompareVersions(version, current) <= 0 {
		return current, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO manifest_latest (manifest_id, version, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(manifest_id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
	`, manifestID, version, now)
	if err != nil {
		return "", fmt.Errorf("advance latest pointer: %w", err)
	}
	return version, nil
}

// Resolve returns a deployed manifest version. Pass manifest.Latest
// (or "") as version to follow the latest pointer. Unknown ids and
// versions return a NotFoundError listing the available versions.
func (s *Store) Resolve(ctx context.Context, manifestID, version string) (*ManifestRecord, error) {
	if version == "" || version == manifest.Latest {
		var latest string
		err := s.db.QueryRowContext(ctx, `
			SELECT version FROM manifest_latest WHERE manifest_id = ?
		`, manifestID).Scan(&latest)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Kind: "manifest", ID: manifestID}
		}
		if err != nil {
			return nil, fmt.Errorf("resolve %s: read latest pointer: %w", manifestID, err)
		}
		version = latest
	}

	var rec ManifestRecord
	var descJSON, docJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT descriptor, document, content_hash, deployed_at
		FROM manifest_versions
		WHERE manifest_id = ? AND version = ?
	`, manifestID, version).Scan(&descJSON, &docJSON, &rec.ContentHash, &rec.DeployedAt)
	if errors.Is(err, sql.ErrNoRows) {
		available, verr := s.Versions(ctx, manifestID)
		if verr != nil {
			return nil, verr
		}
		if len(available) == 0 {
			return nil, &NotFoundError{Kind: "manifest", ID: manifestID}
		}
		return nil, &NotFoundError{Kind: "version", ID: manifestID, Version: version, Available: available}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s v%s: %w", manifestID, version, err)
	}

	if err := json.Unmarshal([]byte(descJSON), &rec.Descriptor); err != nil {
		return nil, fmt.Errorf("resolve %s v%s: unmarshal descriptor: %w", manifestID, version, err)
	}
	if err := json.Unmarshal([]byte(docJSON), &rec.Document); err != nil {
		return nil, fmt.Errorf("resolve %s v%s: unmarshal document: %w", manifestID, version, err)
	}

	return &rec, nil
}

// Versions returns all deployed versions of a manifest in ascending
// semantic order. Returns an empty slice, not nil, when none exist.
func (s *Store) Versions(ctx context.Context, manifestID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version FROM manifest_versions WHERE manifest_id = ?
	`, manifestID)
	if err != nil {
		return nil, fmt.Errorf("versions of %s: %w", manifestID, err)
	}
	defer rows.Close()

	versions := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("versions of %s: scan: %w", manifestID, err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("versions of %s: %w", manifestID, err)
	}

	slices.SortFunc(versions, manifest.CompareVersions)
	return versions, nil
}

// Latest returns the latest pointer for a manifest id, or a
// NotFoundError if the manifest was never deployed.
func (s *Store) Latest(ctx context.Context, manifestID string) (string, error) {
	var latest string
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM manifest_latest WHERE manifest_id = ?
	`, manifestID).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &NotFoundError{Kind: "manifest", ID: manifestID}
	}
	if err != nil {
		return "", fmt.Errorf("latest of %s: %w", manifestID, err)
	}
	return latest, nil
}

// ManifestSummary is one row of the deployed-manifest listing.
type ManifestSummary struct {
	ManifestID string `json:"manifestId"`
	Layer      string `json:"layer"`
	Agency     string `json:"agency"`
	Latest     string `json:"latest"`
	Versions   int    `json:"versions"`
}

// ListManifests returns a summary of every deployed manifest, ordered
// by layer then id for deterministic output.
func (s *Store) ListManifests(ctx context.Context) ([]ManifestSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mv.manifest_id, mv.layer, mv.agency, COALESCE(ml.version, ''), COUNT(*)
		FROM manifest_versions mv
		LEFT JOIN manifest_latest ml ON ml.manifest_id = mv.manifest_id
		GROUP BY mv.manifest_id, mv.layer, mv.agency
		ORDER BY mv.layer ASC, mv.manifest_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	out := make([]ManifestSummary, 0)
	for rows.Next() {
		var m ManifestSummary
		if err := rows.Scan(&m.ManifestID, &m.Layer, &m.Agency, &m.Latest, &m.Versions); err != nil {
			return nil, fmt.Errorf("list manifests: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	return out, nil
}

// DeploymentRecord is one append-only row of deployment history.
type DeploymentRecord struct {
	RecordID    string `json:"recordId"`
	Seq         int64  `json:"seq"`
	ManifestID  string `json:"manifestId"`
	Version     string `json:"version"`
	Layer       string `json:"layer"`
	ContentHash string `json:"contentHash"`
	Status      string `json:"status"`
	DeployedAt  string `json:"deployedAt"`
}

// Deployments returns the deployment history for a manifest in
// sequence order. Returns an empty slice, not nil, when none exist.
func (s *Store) Deployments(ctx context.Context, manifestID string) ([]DeploymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, seq, manifest_id, version, layer, content_hash, status, deployed_at
		FROM deployment_records
		WHERE manifest_id = ?
		ORDER BY seq ASC
	`, manifestID)
	if err != nil {
		return nil, fmt.Errorf("deployments of %s: %w", manifestID, err)
	}
	defer rows.Close()

	out := make([]DeploymentRecord, 0)
	for rows.Next() {
		var r DeploymentRecord
		if err := rows.Scan(&r.RecordID, &r.Seq, &r.ManifestID, &r.Version, &r.Layer, &r.ContentHash, &r.Status, &r.DeployedAt); err != nil {
			return nil, fmt.Errorf("deployments of %s: scan: %w", manifestID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deployments of %s: %w", manifestID, err)
	}
	return out, nil
}
