package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quarry-data/quarry/internal/artifact"
	"github.com/quarry-data/quarry/internal/evidence"
	"github.com/quarry-data/quarry/internal/manifest"
	"github.com/quarry-data/quarry/internal/store"
)

// Orchestrator owns the trigger path: resolve the manifest, onboard
// its interfaces, mint execution identity, dispatch steps to the
// engine, and record evidence for every attempt.
//
// The orchestrator is the only writer of execution identity. Engines
// and components receive ids, they never mint them.
type Orchestrator struct {
	store     *store.Store
	recorder  *evidence.Recorder
	artifacts *artifact.Store
	engines   *Registry
	gen       ExecutionIDGenerator
}

// NewOrchestrator wires an orchestrator over the platform store, the
// evidence recorder, the artifact store, and the engine registry.
func NewOrchestrator(s *store.Store, r *evidence.Recorder, a *artifact.Store, engines *Registry, gen ExecutionIDGenerator) *Orchestrator {
	return &Orchestrator{store: s, recorder: r, artifacts: a, engines: engines, gen: gen}
}

// TriggerRequest identifies what to execute.
//
// Version empty or "latest" resolves through the latest pointer.
// ReplayOf re-executes a prior attempt: the manifest coordinates and
// document id are taken from the original record, a fresh execution
// id is minted, and the new record points back via replayOf.
type TriggerRequest struct {
	ManifestID string
	Version    string
	ReplayOf   string
}

// Trigger executes one manifest end to end.
//
// Once evidence is appended, every outcome is recorded: the returned
// record is non-nil even when err is non-nil, and err then explains
// why the attempt reached FAILED. A nil record means the attempt
// never got far enough to leave evidence (unknown manifest, unknown
// engine, interface conflict, storage failure).
func (o *Orchestrator) Trigger(ctx context.Context, req TriggerRequest) (*evidence.Record, error) {
	var original *evidence.Record
	if req.ReplayOf != "" {
		rec, err := o.recorder.ByExecutionID(ctx, req.ReplayOf)
		if err != nil {
			return nil, fmt.Errorf("replay of %s: %w", req.ReplayOf, err)
		}
		original = rec
		req.ManifestID = rec.ManifestID
		req.Version = rec.Version
	}

	mrec, err := o.store.Resolve(ctx, req.ManifestID, req.Version)
	if err != nil {
		return nil, err
	}
	d := &mrec.Descriptor

	eng, ok := o.engines.Lookup(d.Engine)
	if !ok {
		return nil, NewUnknownEngineError(d.ID, d.Engine)
	}

	if err := o.onboard(ctx, d); err != nil {
		return nil, err
	}

	executionID := o.gen.Generate()

	// Resolve upstream before the engine sees anything, so a broken
	// dependency chain is evidence, not a silent no-op.
	prep, prepErr := o.prepare(ctx, d, executionID, original)

	queued := &evidence.Record{
		ExecutionID: executionID,
		Layer:       d.Layer,
		ManifestID:  d.ID,
		Version:     d.Version,
		Agency:      d.Agency,
		Status:      evidence.StatusQueued,
		DocumentID:  prep.documentID,
		ContentHash: mrec.ContentHash,
		Upstream:    prep.upstream,
		SourcePath:  prep.sourcePath,
		ReplayOf:    req.ReplayOf,
	}
	if _, err := o.recorder.Append(ctx, queued); err != nil {
		return nil, err
	}

	slog.Info("execution queued",
		"execution_id", executionID,
		"manifest_id", d.ID,
		"version", d.Version,
		"layer", d.Layer,
		"replay_of", req.ReplayOf)

	if prepErr != nil {
		return o.fail(ctx, executionID, prep, nil, prepErr)
	}

	if err := o.recorder.MarkStarted(ctx, executionID, eng.Name(), eng.Version()); err != nil {
		return nil, err
	}

	return o.dispatch(ctx, eng, d, executionID, prep)
}

// preparation is everything resolved before engine dispatch.
type preparation struct {
	documentID string
	sourcePath string
	upstream   []string
	payload    map[string]any
}

// prepare resolves the execution's inputs by layer.
//
// Curation reads the declared source file and resolves the document
// id. Semantics and retrieval resolve the latest successful upstream
// execution(s) and inherit their document id, so the document id
// threads unchanged through the whole pipeline.
func (o *Orchestrator) prepare(ctx context.Context, d *manifest.Descriptor, executionID string, original *evidence.Record) (preparation, error) {
	switch d.Layer {
	case manifest.LayerCuration:
		return o.prepareCuration(ctx, d, executionID, original)
	case manifest.LayerSemantics:
		return o.prepareSemantics(ctx, d, executionID)
	case manifest.LayerRetrieval:
		return o.prepareRetrieval(ctx, d, executionID)
	}
	return preparation{upstream: []string{}}, fmt.Errorf("layer %q has no preparation path", d.Layer)
}

func (o *Orchestrator) prepareCuration(ctx context.Context, d *manifest.Descriptor, executionID string, original *evidence.Record) (preparation, error) {
	prep := preparation{
		sourcePath: d.Source.Path,
		upstream:   []string{},
	}

	// A replay re-curates the same logical document.
	if original != nil {
		prep.documentID = original.DocumentID
	} else {
		id, err := o.curationDocumentID(ctx, d)
		if err != nil {
			return prep, err
		}
		prep.documentID = id
	}

	if !o.artifacts.Exists(d.Source.Path) {
		return prep, NewMissingSourceError(executionID, d.ID, d.Source.Path)
	}
	data, err := o.artifacts.Read(d.Source.Path)
	if err != nil {
		return prep, err
	}

	prep.payload = map[string]any{
		"source":     string(data),
		"sourcePath": d.Source.Path,
	}
	return prep, nil
}

// curationDocumentID resolves the document id for a curation trigger.
// A document id names the logical document, not the attempt: as long
// as the manifest still curates the same source, re-triggering reuses
// the id of the latest successful curation. A fresh id is minted only
// for the first curation of a source, or when the manifest now points
// at a different source path.
func (o *Orchestrator) curationDocumentID(ctx context.Context, d *manifest.Descriptor) (string, error) {
	prev, err := o.recorder.LatestSuccessForManifest(ctx, d.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return o.gen.Generate(), nil
		}
		return "", err
	}
	if prev.SourcePath == d.Source.Path && prev.DocumentID != "" {
		return prev.DocumentID, nil
	}
	return o.gen.Generate(), nil
}

func (o *Orchestrator) prepareSemantics(ctx context.Context, d *manifest.Descriptor, executionID string) (preparation, error) {
	prep := preparation{upstream: []string{}}

	up, err := o.recorder.LatestSuccessForManifest(ctx, d.Source.Path)
	if err != nil {
		if store.IsNotFound(err) {
			return prep, NewMissingUpstreamError(executionID, d.ID, d.Source.Path)
		}
		return prep, err
	}

	doc, err := o.readDocument(up.OutputRef)
	if err != nil {
		return prep, err
	}

	prep.documentID = up.DocumentID
	prep.sourcePath = up.SourcePath
	prep.upstream = []string{up.ExecutionID}
	prep.payload = doc
	return prep, nil
}

func (o *Orchestrator) prepareRetrieval(ctx context.Context, d *manifest.Descriptor, executionID string) (preparation, error) {
	prep := preparation{upstream: []string{}}

	sources := make([]any, 0, len(d.Sources))
	for _, src := range d.Sources {
		up, err := o.recorder.LatestSuccessForManifest(ctx, src)
		if err != nil {
			if store.IsNotFound(err) {
				return prep, NewMissingUpstreamError(executionID, d.ID, src)
			}
			return prep, err
		}
		doc, err := o.readDocument(up.OutputRef)
		if err != nil {
			return prep, err
		}
		if prep.documentID == "" {
			prep.documentID = up.DocumentID
		}
		prep.upstream = append(prep.upstream, up.ExecutionID)
		sources = append(sources, doc)
	}

	prep.payload = map[string]any{"sources": sources}
	return prep, nil
}

func (o *Orchestrator) readDocument(ref string) (map[string]any, error) {
	data, err := o.artifacts.Read(ref)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", ref, err)
	}
	return doc, nil
}

// dispatch runs the manifest's steps in declaration order, building
// the BOM as it goes. The first non-success verdict ends the run;
// later steps are recorded as SKIPPED rather than dropped.
func (o *Orchestrator) dispatch(ctx context.Context, eng Engine, d *manifest.Descriptor, executionID string, prep preparation) (*evidence.Record, error) {
	exec := Context{
		ExecutionID:   executionID,
		ManifestID:    d.ID,
		Version:       d.Version,
		DocumentID:    prep.documentID,
		Layer:         d.Layer,
		Agency:        d.Agency,
		SourcePath:    prep.sourcePath,
		Engine:        eng.Name(),
		EngineVersion: eng.Version(),
	}

	bom := make([]evidence.BOMEntry, 0, len(d.Steps))
	payload := prep.payload

	for i, step := range d.Steps {
		comp, ok := eng.Resolve(ComponentKey{Layer: d.Layer, Name: step.Component, Version: step.Version})
		if !ok {
			bom = append(bom, evidence.BOMEntry{Component: step.Component, Version: step.Version, Status: string(evidence.StatusFailed)})
			bom = appendSkipped(bom, d.Steps[i+1:])
			return o.fail(ctx, executionID, prep, bom, NewUnknownComponentError(executionID, d.ID, step.Component))
		}

		slog.Debug("step dispatched",
			"execution_id", executionID,
			"component", step.Component,
			"version", step.Version)

		res := comp.Run(ctx, exec, payload, step.Params)
		switch res.Kind {
		case ResultSuccess:
			bom = append(bom, evidence.BOMEntry{Component: step.Component, Version: step.Version, Status: string(evidence.StatusSuccess)})
			payload = res.Output

		case ResultQuarantine:
			bom = append(bom, evidence.BOMEntry{Component: step.Component, Version: step.Version, Status: string(evidence.StatusQuarantined)})
			bom = appendSkipped(bom, d.Steps[i+1:])
			return o.quarantine(ctx, d, executionID, prep, bom, res)

		default:
			bom = append(bom, evidence.BOMEntry{Component: step.Component, Version: step.Version, Status: string(evidence.StatusFailed)})
			bom = appendSkipped(bom, d.Steps[i+1:])
			err := &RuntimeError{
				Code:        ErrCodeStepFailed,
				Message:     res.Message,
				ExecutionID: executionID,
				ManifestID:  d.ID,
				Step:        step.Component,
			}
			return o.fail(ctx, executionID, prep, bom, err)
		}
	}

	return o.succeed(ctx, d, executionID, prep, bom, payload)
}

func (o *Orchestrator) succeed(ctx context.Context, d *manifest.Descriptor, executionID string, prep preparation, bom []evidence.BOMEntry, payload map[string]any) (*evidence.Record, error) {
	data, err := manifest.MarshalCanonical(payload)
	if err != nil {
		return o.fail(ctx, executionID, prep, bom, fmt.Errorf("encode output: %w", err))
	}

	ref, err := o.artifacts.Publish(d.Layer, d.Agency, d.ID, executionID, data)
	if err != nil {
		return o.fail(ctx, executionID, prep, bom, err)
	}

	err = o.recorder.Complete(ctx, executionID, evidence.Completion{
		Status:      evidence.StatusSuccess,
		DocumentID:  prep.documentID,
		ContentHash: manifest.ArtifactHash(data),
		Upstream:    prep.upstream,
		BOM:         bom,
		SourcePath:  prep.sourcePath,
		OutputRef:   ref,
	})
	if err != nil {
		return nil, err
	}
	return o.recorder.ByExecutionID(ctx, executionID)
}

func (o *Orchestrator) quarantine(ctx context.Context, d *manifest.Descriptor, executionID string, prep preparation, bom []evidence.BOMEntry, res Result) (*evidence.Record, error) {
	data, err := manifest.MarshalCanonical(res.Output)
	if err != nil {
		return o.fail(ctx, executionID, prep, bom, fmt.Errorf("encode quarantined output: %w", err))
	}

	ref, err := o.artifacts.PublishQuarantine(d.Layer, d.Agency, d.ID, executionID, data)
	if err != nil {
		return o.fail(ctx, executionID, prep, bom, err)
	}

	slog.Warn("execution quarantined",
		"execution_id", executionID,
		"manifest_id", d.ID,
		"reason", res.Message)

	err = o.recorder.Complete(ctx, executionID, evidence.Completion{
		Status:     evidence.StatusQuarantined,
		DocumentID: prep.documentID,
		Upstream:   prep.upstream,
		BOM:        bom,
		SourcePath: prep.sourcePath,
		OutputRef:  ref,
		Error:      res.Message,
	})
	if err != nil {
		return nil, err
	}
	return o.recorder.ByExecutionID(ctx, executionID)
}

// fail records the terminal FAILED state and returns both the final
// record and the causing error.
func (o *Orchestrator) fail(ctx context.Context, executionID string, prep preparation, bom []evidence.BOMEntry, cause error) (*evidence.Record, error) {
	err := o.recorder.Complete(ctx, executionID, evidence.Completion{
		Status:     evidence.StatusFailed,
		DocumentID: prep.documentID,
		Upstream:   prep.upstream,
		BOM:        bom,
		SourcePath: prep.sourcePath,
		Error:      cause.Error(),
	})
	if err != nil {
		return nil, err
	}

	slog.Error("execution failed",
		"execution_id", executionID,
		"error", cause)

	rec, recErr := o.recorder.ByExecutionID(ctx, executionID)
	if recErr != nil {
		return nil, recErr
	}
	return rec, cause
}

// onboard registers the manifest's schema and step components on
// first use. Idempotent: repeat deployments and triggers are no-ops,
// while a definition drifting under a (layer, major) already onboarded
// is an interface conflict.
func (o *Orchestrator) onboard(ctx context.Context, d *manifest.Descriptor) error {
	def, ok := manifest.SchemaDefinition(d.SchemaMajor)
	if !ok {
		return fmt.Errorf("no schema definition for major %d", d.SchemaMajor)
	}
	if _, err := o.store.OnboardSchema(ctx, d.Layer, d.SchemaMajor, def); err != nil {
		return err
	}

	for _, step := range d.Steps {
		if _, err := o.store.OnboardComponent(ctx, d.Engine, d.Layer, step.Component, step.Version, InterfaceRunV1); err != nil {
			return err
		}
	}
	return nil
}

func appendSkipped(bom []evidence.BOMEntry, rest []manifest.Step) []evidence.BOMEntry {
	for _, step := range rest {
		bom = append(bom, evidence.BOMEntry{Component: step.Component, Version: step.Version, Status: "SKIPPED"})
	}
	return bom
}
