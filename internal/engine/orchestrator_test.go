package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-data/quarry/internal/artifact"
	"github.com/quarry-data/quarry/internal/evidence"
	"github.com/quarry-data/quarry/internal/manifest"
	"github.com/quarry-data/quarry/internal/store"
)

type testEnv struct {
	store     *store.Store
	recorder  *evidence.Recorder
	artifacts *artifact.Store
	orch      *Orchestrator
}

// newTestEnv wires a full orchestrator over temp storage with a fixed
// clock and a fixed id sequence, so record ids and artifact refs are
// exact.
func newTestEnv(t *testing.T, ids ...string) *testEnv {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "quarry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	s.SetClock(clock)

	r := evidence.NewRecorder(s)
	r.SetClock(clock)

	a := artifact.NewStore(t.TempDir())

	reg := NewRegistry()
	require.NoError(t, reg.Register(NewNative()))

	return &testEnv{
		store:     s,
		recorder:  r,
		artifacts: a,
		orch:      NewOrchestrator(s, r, a, reg, NewFixedGenerator(ids...)),
	}
}

func (e *testEnv) deploy(t *testing.T, d *manifest.Descriptor) {
	t.Helper()
	_, err := e.store.Deploy(context.Background(), d, d.CanonicalDoc())
	require.NoError(t, err)
}

func (e *testEnv) seedSource(t *testing.T) {
	t.Helper()
	require.NoError(t, e.artifacts.WriteSource("wild/bls/employment_stats.csv", []byte("state,jobs\nCA,1200\nTX,900\n")))
}

func curationManifest() *manifest.Descriptor {
	return &manifest.Descriptor{
		ID:            "bls_employment_stats",
		Agency:        "bls",
		Version:       "1.0.0",
		Layer:         manifest.LayerCuration,
		SchemaMajor:   1,
		Engine:        "native",
		EngineVersion: "1.0.0",
		Source:        manifest.SourceRef{Type: manifest.SourceFile, Path: "wild/bls/employment_stats.csv"},
		Steps: []manifest.Step{
			{Component: "csv_parser", Version: "1.0.0"},
			{Component: "field_mapper", Version: "1.0.0", Params: map[string]any{
				"mappings": map[string]any{"jobs": "employment"},
			}},
			{Component: "quality_validator", Version: "1.0.0", Params: map[string]any{
				"minRows":        1,
				"requiredFields": []any{"state", "employment"},
			}},
			{Component: "fact_writer", Version: "1.0.0"},
		},
	}
}

func semanticsManifest() *manifest.Descriptor {
	return &manifest.Descriptor{
		ID:            "employment_by_state",
		Agency:        "bls",
		Version:       "1.0.0",
		Layer:         manifest.LayerSemantics,
		SchemaMajor:   2,
		Engine:        "native",
		EngineVersion: "1.0.0",
		Source:        manifest.SourceRef{Type: manifest.SourceCurated, Path: "bls_employment_stats"},
		Steps: []manifest.Step{
			{Component: "ontology_mapper", Version: "1.0.0", Params: map[string]any{
				"mappings": map[string]any{
					"state":      "geo.state",
					"employment": "econ.employment",
				},
			}},
		},
	}
}

func retrievalManifest() *manifest.Descriptor {
	return &manifest.Descriptor{
		ID:            "employment_outlook",
		Agency:        "bls",
		Version:       "1.0.0",
		Layer:         manifest.LayerRetrieval,
		SchemaMajor:   2,
		Engine:        "native",
		EngineVersion: "1.0.0",
		Sources:       []string{"employment_by_state"},
		Steps: []manifest.Step{
			{Component: "temporal_joiner", Version: "1.0.0", Params: map[string]any{
				"strategy": "union",
			}},
		},
	}
}

func TestTriggerCurationSuccess(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1")
	env.seedSource(t)
	env.deploy(t, curationManifest())

	rec, err := env.orch.Trigger(context.Background(), TriggerRequest{ManifestID: "bls_employment_stats"})
	require.NoError(t, err)

	assert.Equal(t, evidence.StatusSuccess, rec.Status)
	assert.Equal(t, "curation-0001-exec-1", rec.RecordID)
	assert.Equal(t, "doc-1", rec.DocumentID)
	assert.Equal(t, "native", rec.Engine)
	assert.Equal(t, "wild/bls/employment_stats.csv", rec.SourcePath)
	assert.Empty(t, rec.Upstream)

	require.Len(t, rec.BOM, 4)
	for _, entry := range rec.BOM {
		assert.Equal(t, "SUCCESS", entry.Status)
	}

	data, err := env.artifacts.Read(rec.OutputRef)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "doc-1", doc["documentId"])
	assert.Equal(t, float64(2), doc["count"])
	facts := doc["facts"].([]any)
	assert.Equal(t, map[string]any{"state": "CA", "employment": "1200"}, facts[0])
}

func TestRetriggerMintsFreshExecutionKeepsDocumentID(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1", "exec-2")
	env.seedSource(t)
	env.deploy(t, curationManifest())
	ctx := context.Background()

	first, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats"})
	require.NoError(t, err)
	second, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)
	assert.Equal(t, first.DocumentID, second.DocumentID, "an unchanged source is still the same logical document")
	assert.NotEqual(t, first.OutputRef, second.OutputRef)
}

func TestRetriggerWithNewSourceMintsNewDocumentID(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1", "exec-2", "doc-2")
	env.seedSource(t)
	require.NoError(t, env.artifacts.WriteSource("wild/bls/employment_stats_q2.csv", []byte("state,jobs\nNY,800\n")))

	env.deploy(t, curationManifest())
	v2 := curationManifest()
	v2.Version = "1.1.0"
	v2.Source.Path = "wild/bls/employment_stats_q2.csv"
	env.deploy(t, v2)
	ctx := context.Background()

	first, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats", Version: "1.0.0"})
	require.NoError(t, err)
	second, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats", Version: "1.1.0"})
	require.NoError(t, err)

	assert.Equal(t, "doc-1", first.DocumentID)
	assert.Equal(t, "doc-2", second.DocumentID)
}

func TestReplayMintsNewExecutionKeepsDocumentID(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1", "exec-2")
	env.seedSource(t)
	env.deploy(t, curationManifest())
	ctx := context.Background()

	original, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats"})
	require.NoError(t, err)

	replay, err := env.orch.Trigger(ctx, TriggerRequest{ReplayOf: "exec-1"})
	require.NoError(t, err)

	assert.Equal(t, "exec-2", replay.ExecutionID)
	assert.Equal(t, original.DocumentID, replay.DocumentID, "a replay re-curates the same logical document")
	assert.Equal(t, "exec-1", replay.ReplayOf)
	assert.Equal(t, evidence.StatusSuccess, replay.Status)

	// The original record is untouched.
	orig, err := env.recorder.ByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, evidence.StatusSuccess, orig.Status)
}

func TestQuarantineRoutesArtifactAndRecordsVerdict(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1")
	env.seedSource(t)

	d := curationManifest()
	d.Steps[2].Params["minRows"] = 10
	env.deploy(t, d)

	rec, err := env.orch.Trigger(context.Background(), TriggerRequest{ManifestID: "bls_employment_stats"})
	require.NoError(t, err)

	assert.Equal(t, evidence.StatusQuarantined, rec.Status)
	assert.True(t, strings.HasPrefix(rec.OutputRef, "quarantine/"), "output ref %q", rec.OutputRef)
	assert.True(t, env.artifacts.Exists(rec.OutputRef))
	assert.Contains(t, rec.Error, "need at least 10")

	require.Len(t, rec.BOM, 4)
	assert.Equal(t, "SUCCESS", rec.BOM[0].Status)
	assert.Equal(t, "SUCCESS", rec.BOM[1].Status)
	assert.Equal(t, "QUARANTINED", rec.BOM[2].Status)
	assert.Equal(t, "SKIPPED", rec.BOM[3].Status)
}

func TestSemanticsWithoutUpstreamFails(t *testing.T) {
	env := newTestEnv(t, "exec-1")
	env.deploy(t, semanticsManifest())

	rec, err := env.orch.Trigger(context.Background(), TriggerRequest{ManifestID: "employment_by_state"})
	require.Error(t, err)
	assert.True(t, IsMissingUpstream(err))

	require.NotNil(t, rec, "the failed attempt is still evidence")
	assert.Equal(t, evidence.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "bls_employment_stats")
}

func TestPipelineThreadsDocumentID(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1", "exec-2", "exec-3")
	env.seedSource(t)
	env.deploy(t, curationManifest())
	env.deploy(t, semanticsManifest())
	env.deploy(t, retrievalManifest())
	ctx := context.Background()

	cur, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats"})
	require.NoError(t, err)
	sem, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "employment_by_state"})
	require.NoError(t, err)
	ret, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "employment_outlook"})
	require.NoError(t, err)

	assert.Equal(t, "doc-1", cur.DocumentID)
	assert.Equal(t, "doc-1", sem.DocumentID)
	assert.Equal(t, "doc-1", ret.DocumentID)

	assert.Equal(t, []string{"exec-1"}, sem.Upstream)
	assert.Equal(t, []string{"exec-2"}, ret.Upstream)

	data, err := env.artifacts.Read(ret.OutputRef)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "union", doc["strategy"])
	assert.Equal(t, float64(2), doc["count"])
	records := doc["records"].([]any)
	assert.Equal(t, map[string]any{"geo.state": "CA", "econ.employment": "1200"}, records[0])
}

func TestTriggerUnknownEngineLeavesNoEvidence(t *testing.T) {
	env := newTestEnv(t)
	d := curationManifest()
	d.Engine = "spark"
	env.deploy(t, d)

	rec, err := env.orch.Trigger(context.Background(), TriggerRequest{ManifestID: "bls_employment_stats"})
	require.Error(t, err)
	assert.True(t, IsUnknownEngine(err))
	assert.Nil(t, rec)

	records, err := env.recorder.ListForManifest(context.Background(), "bls_employment_stats")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTriggerUnknownManifestErrors(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.orch.Trigger(context.Background(), TriggerRequest{ManifestID: "ghost"})
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
	assert.Nil(t, rec)
}

func TestTriggerUnknownComponentFails(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1")
	env.seedSource(t)

	d := curationManifest()
	d.Steps = []manifest.Step{
		{Component: "csv_parser", Version: "1.0.0"},
		{Component: "ghost_step", Version: "1.0.0"},
		{Component: "fact_writer", Version: "1.0.0"},
	}
	env.deploy(t, d)

	rec, err := env.orch.Trigger(context.Background(), TriggerRequest{ManifestID: "bls_employment_stats"})
	require.Error(t, err)
	assert.True(t, IsUnknownComponent(err))

	require.NotNil(t, rec)
	assert.Equal(t, evidence.StatusFailed, rec.Status)
	require.Len(t, rec.BOM, 3)
	assert.Equal(t, "SUCCESS", rec.BOM[0].Status)
	assert.Equal(t, "FAILED", rec.BOM[1].Status)
	assert.Equal(t, "SKIPPED", rec.BOM[2].Status)
}

func TestTriggerMissingSourceFails(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1")
	env.deploy(t, curationManifest())

	rec, err := env.orch.Trigger(context.Background(), TriggerRequest{ManifestID: "bls_employment_stats"})
	require.Error(t, err)

	require.NotNil(t, rec)
	assert.Equal(t, evidence.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "wild/bls/employment_stats.csv")
}

func TestTriggerAutoOnboardsSchemaAndComponents(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1", "exec-2", "doc-2")
	env.seedSource(t)
	env.deploy(t, curationManifest())
	ctx := context.Background()

	_, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats"})
	require.NoError(t, err)

	onboarded, err := env.store.SchemaOnboarded(ctx, manifest.LayerCuration, 1)
	require.NoError(t, err)
	assert.True(t, onboarded)

	components, err := env.store.ListComponents(ctx)
	require.NoError(t, err)
	require.Len(t, components, 4)
	for _, c := range components {
		assert.Equal(t, "native", c.Engine)
		assert.Equal(t, InterfaceRunV1, c.InterfaceID)
	}

	// A second trigger re-onboards nothing and changes nothing.
	_, err = env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats"})
	require.NoError(t, err)
	components, err = env.store.ListComponents(ctx)
	require.NoError(t, err)
	assert.Len(t, components, 4)
}

// stubEngine exposes an arbitrary component set under its own
// identity, standing in for an alternate execution backend.
type stubEngine struct {
	name       string
	version    string
	components map[ComponentKey]Component
}

func (e *stubEngine) Name() string    { return e.name }
func (e *stubEngine) Version() string { return e.version }

func (e *stubEngine) Resolve(key ComponentKey) (Component, bool) {
	c, ok := e.components[key]
	return c, ok
}

func (e *stubEngine) Capabilities() []ComponentKey {
	keys := make([]ComponentKey, 0, len(e.components))
	for k := range e.components {
		keys = append(keys, k)
	}
	return keys
}

func TestEngineSubstitutionPreservesDocumentAndBOM(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1", "exec-2")
	env.seedSource(t)
	require.NoError(t, env.orch.engines.Register(&stubEngine{
		name:       "alt",
		version:    "2.0.0",
		components: NewNative().components,
	}))

	env.deploy(t, curationManifest())
	substituted := curationManifest()
	substituted.Version = "1.1.0"
	substituted.Engine = "alt"
	env.deploy(t, substituted)
	ctx := context.Background()

	onNative, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats", Version: "1.0.0"})
	require.NoError(t, err)
	onAlt, err := env.orch.Trigger(ctx, TriggerRequest{ManifestID: "bls_employment_stats", Version: "1.1.0"})
	require.NoError(t, err)

	assert.Equal(t, onNative.DocumentID, onAlt.DocumentID)
	assert.Equal(t, onNative.BOM, onAlt.BOM)
	assert.Equal(t, "native", onNative.Engine)
	assert.Equal(t, "alt", onAlt.Engine)
	assert.Equal(t, "2.0.0", onAlt.EngineVersion)
}

// contextEcho copies the execution context it was dispatched with
// into a caller-owned slot.
type contextEcho struct {
	seen *Context
}

func (c *contextEcho) Name() string    { return "context_echo" }
func (c *contextEcho) Version() string { return "1.0.0" }

func (c *contextEcho) Run(_ context.Context, exec Context, payload map[string]any, _ map[string]any) Result {
	*c.seen = exec
	return Success(payload)
}

func TestDispatchStampsEngineIdentityOnContext(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1")
	env.seedSource(t)

	var seen Context
	key := ComponentKey{Layer: manifest.LayerCuration, Name: "context_echo", Version: "1.0.0"}
	require.NoError(t, env.orch.engines.Register(&stubEngine{
		name:       "capture",
		version:    "0.9.0",
		components: map[ComponentKey]Component{key: &contextEcho{seen: &seen}},
	}))

	d := curationManifest()
	d.Engine = "capture"
	d.Steps = []manifest.Step{{Component: "context_echo", Version: "1.0.0"}}
	env.deploy(t, d)

	_, err := env.orch.Trigger(context.Background(), TriggerRequest{ManifestID: "bls_employment_stats"})
	require.NoError(t, err)

	assert.Equal(t, "exec-1", seen.ExecutionID)
	assert.Equal(t, "doc-1", seen.DocumentID)
	assert.Equal(t, "capture", seen.Engine)
	assert.Equal(t, "0.9.0", seen.EngineVersion)
	assert.Equal(t, manifest.LayerCuration, seen.Layer)
}

func TestTriggerResolvesVersionThroughLatestPointer(t *testing.T) {
	env := newTestEnv(t, "exec-1", "doc-1")
	env.seedSource(t)

	env.deploy(t, curationManifest())
	v2 := curationManifest()
	v2.Version = "1.1.0"
	env.deploy(t, v2)

	rec, err := env.orch.Trigger(context.Background(), TriggerRequest{ManifestID: "bls_employment_stats", Version: "latest"})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", rec.Version)
}
