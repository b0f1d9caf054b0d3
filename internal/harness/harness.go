// Package harness executes scenario files end to end against a fresh
// platform: seed sources, deploy manifests, trigger the flow, then
// check assertions and compare golden lineage snapshots. Clocks and
// ids are deterministic, so two runs of the same scenario produce
// byte-identical evidence.
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quarry-data/quarry/internal/artifact"
	"github.com/quarry-data/quarry/internal/engine"
	"github.com/quarry-data/quarry/internal/evidence"
	"github.com/quarry-data/quarry/internal/lineage"
	"github.com/quarry-data/quarry/internal/manifest"
	"github.com/quarry-data/quarry/internal/store"
	"github.com/quarry-data/quarry/internal/testutil"
)

// Harness is a fully wired platform over a scratch directory.
type Harness struct {
	Store        *store.Store
	Recorder     *evidence.Recorder
	Artifacts    *artifact.Store
	Orchestrator *engine.Orchestrator
	Tracer       *lineage.Tracer

	validator *manifest.Validator
}

// New creates a harness rooted at workDir. The store, the recorder,
// and the id generator are all deterministic: timestamps tick from
// testutil.DefaultBase and execution ids run t-0001, t-0002, ...
func New(workDir string) (*Harness, error) {
	s, err := store.Open(filepath.Join(workDir, "quarry.db"))
	if err != nil {
		return nil, err
	}

	clock := testutil.TickingClock(testutil.DefaultBase, time.Second)
	s.SetClock(clock)

	r := evidence.NewRecorder(s)
	r.SetClock(clock)

	a := artifact.NewStore(filepath.Join(workDir, "data"))

	reg := engine.NewRegistry()
	if err := reg.Register(engine.NewNative()); err != nil {
		s.Close()
		return nil, err
	}

	v, err := manifest.NewValidator()
	if err != nil {
		s.Close()
		return nil, err
	}

	return &Harness{
		Store:        s,
		Recorder:     r,
		Artifacts:    a,
		Orchestrator: engine.NewOrchestrator(s, r, a, reg, testutil.NewSequentialIDs("t")),
		Tracer:       lineage.NewTracer(r, a),
		validator:    v,
	}, nil
}

// Close releases the underlying store.
func (h *Harness) Close() error {
	return h.Store.Close()
}

// Result is the outcome of running a scenario's flow.
type Result struct {
	// Records holds the terminal evidence record of each flow step,
	// in flow order.
	Records []evidence.Record

	// FinalTrace is the lineage trace rooted at the last flow step's
	// execution.
	FinalTrace *lineage.Trace

	// Failures lists expectation mismatches. Empty means every flow
	// step ended as expected.
	Failures []string
}

// Run executes a scenario's sources, manifests, and flow.
//
// An execution that ends FAILED is not an error here: the step's
// expect clause decides whether that outcome passes. Run returns an
// error only when the scenario itself cannot proceed (unreadable
// manifest, validation failure, storage fault).
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	for _, seed := range scenario.Sources {
		if err := h.Artifacts.WriteSource(seed.Path, []byte(seed.Content)); err != nil {
			return nil, err
		}
	}

	for _, path := range scenario.Manifests {
		if err := h.deployManifest(ctx, path); err != nil {
			return nil, err
		}
	}

	result := &Result{Records: make([]evidence.Record, 0, len(scenario.Flow))}

	for i, step := range scenario.Flow {
		req := engine.TriggerRequest{ManifestID: step.Trigger, Version: step.Version}
		if step.ReplayStep > 0 {
			req = engine.TriggerRequest{ReplayOf: result.Records[step.ReplayStep-1].ExecutionID}
		}

		rec, err := h.Orchestrator.Trigger(ctx, req)
		if rec == nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
		result.Records = append(result.Records, *rec)

		checkExpect(result, i, step.Expect, rec)
	}

	last := result.Records[len(result.Records)-1]
	trace, err := h.Tracer.Trace(ctx, last.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("trace final execution: %w", err)
	}
	result.FinalTrace = trace

	return result, nil
}

func (h *Harness) deployManifest(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", path, err)
	}

	_, doc, err := manifest.Load(data)
	if err != nil {
		return fmt.Errorf("load manifest %s: %w", path, err)
	}

	d, verrs := h.validator.Validate(doc)
	if len(verrs) > 0 {
		return fmt.Errorf("manifest %s: %s", path, verrs[0].Error())
	}

	if _, err := h.Store.Deploy(ctx, d, doc); err != nil {
		return fmt.Errorf("deploy manifest %s: %w", path, err)
	}
	return nil
}

// checkExpect compares one step's terminal record against its expect
// clause. A step without one is expected to reach SUCCESS.
func checkExpect(result *Result, i int, expect *ExpectClause, rec *evidence.Record) {
	wantStatus := string(evidence.StatusSuccess)
	wantError := ""
	if expect != nil {
		wantStatus = expect.Status
		wantError = expect.Error
	}

	if string(rec.Status) != wantStatus {
		result.Failures = append(result.Failures,
			fmt.Sprintf("flow[%d]: status %s, want %s (error: %s)", i, rec.Status, wantStatus, rec.Error))
	}
	if wantError != "" && !strings.Contains(rec.Error, wantError) {
		result.Failures = append(result.Failures,
			fmt.Sprintf("flow[%d]: error %q does not contain %q", i, rec.Error, wantError))
	}
}
