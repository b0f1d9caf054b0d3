package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarry-data/quarry/internal/store"
)

// Recorder writes and transitions evidence records. Appends are
// append-only; the single allowed mutation is the status/BOM
// transition of a live (non-terminal) row.
type Recorder struct {
	store *store.Store

	// now supplies record timestamps. Overridable for deterministic tests.
	now func() time.Time
}

// NewRecorder creates a recorder backed by the platform store.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s, now: time.Now}
}

// SetClock overrides the timestamp source for deterministic tests.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Recorder) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

// Append inserts a new evidence record, allocating the per-layer
// sequence number in the same transaction as the insert. The returned
// record carries the assigned RecordID, Seq, and timestamps.
//
// Concurrent appends to the same layer serialize on the store's write
// lock; no sequence number is ever duplicated or skipped.
func (r *Recorder) Append(ctx context.Context, rec *Record) (*Record, error) {
	if rec.ExecutionID == "" {
		return nil, fmt.Errorf("append evidence: execution id is required")
	}
	if rec.Status == "" {
		rec.Status = StatusQueued
	}

	upstreamJSON, bomJSON, err := marshalLists(rec)
	if err != nil {
		return nil, fmt.Errorf("append evidence: %w", err)
	}

	tx, err := r.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append evidence: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	seq, err := store.NextSeq(ctx, tx, string(rec.Layer))
	if err != nil {
		return nil, fmt.Errorf("append evidence: %w", err)
	}

	out := *rec
	out.Seq = seq
	out.RecordID = fmt.Sprintf("%s-%04d-%s", rec.Layer, seq, rec.ExecutionID)
	out.CreatedAt = r.timestamp()
	out.UpdatedAt = out.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evidence_records
		(record_id, seq, execution_id, layer, manifest_id, version, agency,
		 engine, engine_version, status, document_id, content_hash,
		 upstream, bom, source_path, output_ref, error, replay_of,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		out.RecordID, out.Seq, out.ExecutionID, string(out.Layer), out.ManifestID, out.Version, out.Agency,
		out.Engine, out.EngineVersion, string(out.Status), out.DocumentID, out.ContentHash,
		upstreamJSON, bomJSON, out.SourcePath, out.OutputRef, out.Error, out.ReplayOf,
		out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append evidence: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append evidence: commit: %w", err)
	}

	slog.Debug("evidence appended",
		"record_id", out.RecordID,
		"execution_id", out.ExecutionID,
		"layer", out.Layer,
		"status", out.Status)

	return &out, nil
}

// MarkStarted transitions a QUEUED record to STARTED and stamps the
// engine identity the execution actually dispatched to.
func (r *Recorder) MarkStarted(ctx context.Context, executionID, engine, engineVersion string) error {
	res, err := r.store.DB().ExecContext(ctx, `
		UPDATE evidence_records
		SET status = ?, engine = ?, engine_version = ?, updated_at = ?
		WHERE execution_id = ? AND status = ?
	`, string(StatusStarted), engine, engineVersion, r.timestamp(), executionID, string(StatusQueued))
	if err != nil {
		return fmt.Errorf("mark started %s: %w", executionID, err)
	}
	return r.checkTransition(ctx, res, executionID, StatusStarted)
}

// Completion carries the terminal state of an execution attempt.
type Completion struct {
	Status      Status
	DocumentID  string
	ContentHash string
	Upstream    []string
	BOM         []BOMEntry
	SourcePath  string
	OutputRef   string
	Error       string
}

// Complete writes the terminal status and BOM onto the still-live
// evidence row. A record that already reached a terminal state is
// never downgraded: the update is guarded to live states and a
// violation returns an error rather than silently overwriting history.
func (r *Recorder) Complete(ctx context.Context, executionID string, c Completion) error {
	if !c.Status.Terminal() {
		return fmt.Errorf("complete %s: %q is not a terminal status", executionID, c.Status)
	}

	rec := Record{Upstream: c.Upstream, BOM: c.BOM}
	upstreamJSON, bomJSON, err := marshalLists(&rec)
	if err != nil {
		return fmt.Errorf("complete %s: %w", executionID, err)
	}

	res, err := r.store.DB().ExecContext(ctx, `
		UPDATE evidence_records
		SET status = ?, document_id = ?, content_hash = ?, upstream = ?, bom = ?,
		    source_path = ?, output_ref = ?, error = ?, updated_at = ?
		WHERE execution_id = ? AND status IN (?, ?)
	`,
		string(c.Status), c.DocumentID, c.ContentHash, upstreamJSON, bomJSON,
		c.SourcePath, c.OutputRef, c.Error, r.timestamp(),
		executionID, string(StatusQueued), string(StatusStarted),
	)
	if err != nil {
		return fmt.Errorf("complete %s: %w", executionID, err)
	}
	if err := r.checkTransition(ctx, res, executionID, c.Status); err != nil {
		return err
	}

	slog.Info("evidence completed",
		"execution_id", executionID,
		"status", c.Status,
		"document_id", c.DocumentID)
	return nil
}

// checkTransition distinguishes "no such execution" from "already
// terminal" when a guarded update touched no rows.
func (r *Recorder) checkTransition(ctx context.Context, res interface{ RowsAffected() (int64, error) }, executionID string, want Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition %s: rows affected: %w", executionID, err)
	}
	if n > 0 {
		return nil
	}

	existing, err := r.ByExecutionID(ctx, executionID)
	if err != nil {
		return err
	}
	return fmt.Errorf("transition %s to %s: record is already %s", executionID, want, existing.Status)
}

func marshalLists(rec *Record) (upstreamJSON, bomJSON string, err error) {
	upstream := rec.Upstream
	if upstream == nil {
		upstream = []string{}
	}
	u, err := json.Marshal(upstream)
	if err != nil {
		return "", "", fmt.Errorf("marshal upstream: %w", err)
	}

	bom := rec.BOM
	if bom == nil {
		bom = []BOMEntry{}
	}
	b, err := json.Marshal(bom)
	if err != nil {
		return "", "", fmt.Errorf("marshal bom: %w", err)
	}

	return string(u), string(b), nil
}
