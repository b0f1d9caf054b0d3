package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quarry-data/quarry/internal/manifest"
	"github.com/quarry-data/quarry/internal/store"
)

const recordColumns = `
	record_id, seq, execution_id, layer, manifest_id, version, agency,
	engine, engine_version, status, document_id, content_hash,
	upstream, bom, source_path, output_ref, error, replay_of,
	created_at, updated_at`

// ByExecutionID loads the evidence record for one execution id.
func (r *Recorder) ByExecutionID(ctx context.Context, executionID string) (*Record, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM evidence_records
		WHERE execution_id = ?
	`, executionID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &store.NotFoundError{Kind: "execution", ID: executionID}
	}
	if err != nil {
		return nil, fmt.Errorf("evidence for %s: %w", executionID, err)
	}
	return rec, nil
}

// LatestForLayer returns the layer's record with the greatest sequence
// number. Ties cannot happen (seq is unique per layer); the secondary
// execution id ordering exists only to make the query plan explicit.
func (r *Recorder) LatestForLayer(ctx context.Context, layer manifest.Layer) (*Record, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM evidence_records
		WHERE layer = ?
		ORDER BY seq DESC, execution_id COLLATE BINARY DESC
		LIMIT 1
	`, string(layer))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &store.NotFoundError{Kind: "execution", ID: "latest " + string(layer)}
	}
	if err != nil {
		return nil, fmt.Errorf("latest evidence for %s: %w", layer, err)
	}
	return rec, nil
}

// LatestSuccessForManifest returns the most recent SUCCESS record for
// a manifest id, used to resolve upstream references at trigger time.
func (r *Recorder) LatestSuccessForManifest(ctx context.Context, manifestID string) (*Record, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM evidence_records
		WHERE manifest_id = ? AND status = ?
		ORDER BY seq DESC, execution_id COLLATE BINARY DESC
		LIMIT 1
	`, manifestID, string(StatusSuccess))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &store.NotFoundError{Kind: "execution", ID: "successful execution of " + manifestID}
	}
	if err != nil {
		return nil, fmt.Errorf("latest success for %s: %w", manifestID, err)
	}
	return rec, nil
}

// ListForManifest returns every evidence record for a manifest id in
// chronological (sequence) order. Returns an empty slice, not nil.
func (r *Recorder) ListForManifest(ctx context.Context, manifestID string) ([]Record, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM evidence_records
		WHERE manifest_id = ?
		ORDER BY seq ASC, execution_id COLLATE BINARY ASC
	`, manifestID)
	if err != nil {
		return nil, fmt.Errorf("evidence list for %s: %w", manifestID, err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListForLayer returns every evidence record for a layer in
// chronological (sequence) order. Returns an empty slice, not nil.
func (r *Recorder) ListForLayer(ctx context.Context, layer manifest.Layer) ([]Record, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM evidence_records
		WHERE layer = ?
		ORDER BY seq ASC, execution_id COLLATE BINARY ASC
	`, string(layer))
	if err != nil {
		return nil, fmt.Errorf("evidence list for %s: %w", layer, err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var layer, status, upstreamJSON, bomJSON string

	err := row.Scan(
		&rec.RecordID, &rec.Seq, &rec.ExecutionID, &layer, &rec.ManifestID, &rec.Version, &rec.Agency,
		&rec.Engine, &rec.EngineVersion, &status, &rec.DocumentID, &rec.ContentHash,
		&upstreamJSON, &bomJSON, &rec.SourcePath, &rec.OutputRef, &rec.Error, &rec.ReplayOf,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Layer = manifest.Layer(layer)
	rec.Status = Status(status)

	if err := json.Unmarshal([]byte(upstreamJSON), &rec.Upstream); err != nil {
		return nil, fmt.Errorf("unmarshal upstream: %w", err)
	}
	if err := json.Unmarshal([]byte(bomJSON), &rec.BOM); err != nil {
		return nil, fmt.Errorf("unmarshal bom: %w", err)
	}

	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
