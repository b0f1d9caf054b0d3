// Package lineage reconstructs provenance trees from evidence
// records and renders a verdict over them. A trace walks upstream
// execution ids from a root record down to curation leaves, then
// checks that one document id threads the whole tree and every leaf
// still resolves to its source artifact.
package lineage

import (
	"context"
	"fmt"

	"github.com/quarry-data/quarry/internal/artifact"
	"github.com/quarry-data/quarry/internal/evidence"
	"github.com/quarry-data/quarry/internal/manifest"
)

// Verdict is the outcome of a trace.
type Verdict string

const (
	// VerdictValid means the tree is complete: every upstream record
	// resolved, one document id threads root to leaves, and every
	// leaf's source artifact exists.
	VerdictValid Verdict = "VALID"

	// VerdictFailed means at least one break was found. The partial
	// tree is still returned; the breaks say what is missing.
	VerdictFailed Verdict = "TRACE FAILED"
)

// BreakCode categorizes a lineage break.
type BreakCode string

const (
	// BreakMissingUpstream means a referenced upstream execution has
	// no evidence record.
	BreakMissingUpstream BreakCode = "MISSING_UPSTREAM_RECORD"

	// BreakDocumentMismatch means a node carries a different document
	// id than the root.
	BreakDocumentMismatch BreakCode = "DOCUMENT_MISMATCH"

	// BreakMissingSource means a curation leaf's source artifact no
	// longer exists.
	BreakMissingSource BreakCode = "MISSING_SOURCE_ARTIFACT"

	// BreakCycle means the upstream chain loops back on itself.
	BreakCycle BreakCode = "CYCLE_DETECTED"
)

// Break is one defect found while walking the tree.
type Break struct {
	Code        BreakCode `json:"code"`
	ExecutionID string    `json:"executionId"`
	Message     string    `json:"message"`
}

// Node is one execution in the provenance tree. Children are the
// upstream executions this one consumed, in upstream list order.
type Node struct {
	ExecutionID string          `json:"executionId"`
	ManifestID  string          `json:"manifestId"`
	Version     string          `json:"version"`
	Layer       manifest.Layer  `json:"layer"`
	DocumentID  string          `json:"documentId"`
	Status      evidence.Status `json:"status"`
	SourcePath  string          `json:"sourcePath,omitempty"`
	OutputRef   string          `json:"outputRef,omitempty"`
	Children    []*Node         `json:"children"`
}

// Trace is a reconstructed provenance tree plus its verdict. The tree
// is always as complete as the evidence allows, even when the verdict
// is TRACE FAILED.
type Trace struct {
	Verdict Verdict `json:"verdict"`
	Root    *Node   `json:"root"`
	Breaks  []Break `json:"breaks"`
}

// Tracer walks evidence records and verifies source artifacts.
type Tracer struct {
	recorder  *evidence.Recorder
	artifacts *artifact.Store
}

// NewTracer creates a tracer over the evidence recorder and the
// artifact store.
func NewTracer(r *evidence.Recorder, a *artifact.Store) *Tracer {
	return &Tracer{recorder: r, artifacts: a}
}

// Trace reconstructs the provenance tree rooted at one execution.
// Returns an error only when the root itself has no evidence record;
// everything below the root degrades to breaks, never to errors.
func (t *Tracer) Trace(ctx context.Context, executionID string) (*Trace, error) {
	root, err := t.recorder.ByExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	w := &walk{
		tracer:  t,
		rootDoc: root.DocumentID,
		visited: make(map[string]bool),
	}
	node := w.visit(ctx, root)

	verdict := VerdictValid
	if len(w.breaks) > 0 {
		verdict = VerdictFailed
	}
	return &Trace{Verdict: verdict, Root: node, Breaks: w.breaks}, nil
}

// TraceLatest traces the most recent execution recorded for a layer.
func (t *Tracer) TraceLatest(ctx context.Context, layer manifest.Layer) (*Trace, error) {
	latest, err := t.recorder.LatestForLayer(ctx, layer)
	if err != nil {
		return nil, err
	}
	return t.Trace(ctx, latest.ExecutionID)
}

// walk carries per-trace state: the root's document id and the breaks
// accumulated so far. The visited set spans the whole tree, so a
// cycle is reported once and the walk terminates.
type walk struct {
	tracer  *Tracer
	rootDoc string
	visited map[string]bool
	breaks  []Break
}

func (w *walk) visit(ctx context.Context, rec *evidence.Record) *Node {
	w.visited[rec.ExecutionID] = true

	node := &Node{
		ExecutionID: rec.ExecutionID,
		ManifestID:  rec.ManifestID,
		Version:     rec.Version,
		Layer:       rec.Layer,
		DocumentID:  rec.DocumentID,
		Status:      rec.Status,
		SourcePath:  rec.SourcePath,
		OutputRef:   rec.OutputRef,
		Children:    make([]*Node, 0, len(rec.Upstream)),
	}

	if rec.DocumentID != w.rootDoc {
		w.fail(BreakDocumentMismatch, rec.ExecutionID,
			fmt.Sprintf("document id %q does not match root %q", rec.DocumentID, w.rootDoc))
	}

	if rec.Layer == manifest.LayerCuration {
		if rec.SourcePath == "" || !w.tracer.artifacts.Exists(rec.SourcePath) {
			w.fail(BreakMissingSource, rec.ExecutionID,
				fmt.Sprintf("source artifact %q does not exist", rec.SourcePath))
		}
	}

	for _, upstream := range rec.Upstream {
		if w.visited[upstream] {
			w.fail(BreakCycle, rec.ExecutionID,
				fmt.Sprintf("upstream %q already visited", upstream))
			continue
		}

		up, err := w.tracer.recorder.ByExecutionID(ctx, upstream)
		if err != nil {
			w.fail(BreakMissingUpstream, rec.ExecutionID,
				fmt.Sprintf("no evidence record for upstream %q", upstream))
			continue
		}
		node.Children = append(node.Children, w.visit(ctx, up))
	}

	return node
}

func (w *walk) fail(code BreakCode, executionID, message string) {
	w.breaks = append(w.breaks, Break{Code: code, ExecutionID: executionID, Message: message})
}
