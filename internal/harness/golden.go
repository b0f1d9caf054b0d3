package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/quarry-data/quarry/internal/evidence"
	"github.com/quarry-data/quarry/internal/manifest"
)

// Snapshot converts a run result into the canonical JSON compared
// against golden files. Timestamps and content hashes are omitted:
// they depend on the wall clock and on exact manifest bytes, and the
// golden files are hand-verified. Everything identity-bearing stays
// in: record ids, execution ids, document ids, upstream links, BOMs,
// and artifact refs.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	executions := make([]any, len(result.Records))
	for i, rec := range result.Records {
		executions[i] = recordMap(&rec)
	}

	return manifest.MarshalCanonical(map[string]any{
		"scenario":   scenario.Name,
		"executions": executions,
		"verdict":    string(result.FinalTrace.Verdict),
	})
}

func recordMap(rec *evidence.Record) map[string]any {
	bom := make([]any, len(rec.BOM))
	for i, e := range rec.BOM {
		bom[i] = map[string]any{
			"component": e.Component,
			"version":   e.Version,
			"status":    e.Status,
		}
	}

	m := map[string]any{
		"recordId":    rec.RecordID,
		"executionId": rec.ExecutionID,
		"layer":       string(rec.Layer),
		"manifestId":  rec.ManifestID,
		"version":     rec.Version,
		"status":      string(rec.Status),
		"documentId":  rec.DocumentID,
		"upstream":    rec.Upstream,
		"bom":         bom,
	}
	if rec.Engine != "" {
		m["engine"] = rec.Engine
		m["engineVersion"] = rec.EngineVersion
	}
	if rec.SourcePath != "" {
		m["sourcePath"] = rec.SourcePath
	}
	if rec.OutputRef != "" {
		m["outputRef"] = rec.OutputRef
	}
	if rec.Error != "" {
		m["error"] = rec.Error
	}
	if rec.ReplayOf != "" {
		m["replayOf"] = rec.ReplayOf
	}
	return m
}

// RunWithGolden runs a scenario in a scratch directory, enforces its
// expect clauses and assertions, and compares the evidence snapshot
// against testdata/golden/{scenario.Name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenarioPath string) {
	t.Helper()

	scenario, err := LoadScenario(scenarioPath)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}

	h, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	defer h.Close()

	ctx := context.Background()
	result, err := h.Run(ctx, scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, f := range result.Failures {
		t.Errorf("scenario %s: %s", scenario.Name, f)
	}

	failures, err := h.CheckAssertions(ctx, scenario, result)
	if err != nil {
		t.Fatalf("assertions for %s: %v", scenario.Name, err)
	}
	for _, f := range failures {
		t.Errorf("scenario %s: %s", scenario.Name, f)
	}

	snapshot, err := Snapshot(scenario, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshot)
}
