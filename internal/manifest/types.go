package manifest

import "fmt"

// Layer identifies a pipeline stage. Layers form a strict upstream
// ordering: retrieval depends on semantics, semantics on curation.
type Layer string

const (
	LayerCuration  Layer = "curation"
	LayerSemantics Layer = "semantics"
	LayerRetrieval Layer = "retrieval"
)

// ValidLayers defines the allowed layer names.
var ValidLayers = map[Layer]bool{
	LayerCuration:  true,
	LayerSemantics: true,
	LayerRetrieval: true,
}

// ParseLayer converts a string to a Layer, rejecting unknown names.
func ParseLayer(s string) (Layer, error) {
	l := Layer(s)
	if !ValidLayers[l] {
		return "", fmt.Errorf("unknown layer %q, must be curation, semantics, or retrieval", s)
	}
	return l, nil
}

// Upstream returns the layer immediately preceding l, or "" for curation.
func (l Layer) Upstream() Layer {
	switch l {
	case LayerRetrieval:
		return LayerSemantics
	case LayerSemantics:
		return LayerCuration
	default:
		return ""
	}
}

// Descriptor is the normalized in-memory form of a deployed manifest.
// Both schema major versions (flat v1, wrapped v2) normalize into this
// single representation; nothing downstream branches on raw document shape.
type Descriptor struct {
	// ID is the manifest identifier, unique within (layer, agency).
	ID string `json:"manifestId"`

	// Agency is the owning data provider (e.g. "bls", "census").
	Agency string `json:"agency"`

	// Version is the semantic version of this manifest ("1.0.0").
	Version string `json:"version"`

	// Layer is the pipeline stage this manifest executes in.
	Layer Layer `json:"layer"`

	// SchemaMajor is the detected manifest schema major version (1 or 2).
	SchemaMajor int `json:"schemaMajor"`

	// Engine names the execution engine. Purely declarative: the
	// orchestrator dispatches through a capability lookup and records
	// the engine verbatim, nothing else depends on its value.
	Engine string `json:"engine"`

	// EngineVersion is the declared engine version.
	EngineVersion string `json:"engineVersion"`

	// Source references this manifest's input. For curation it names a
	// wild source artifact; for semantics it names the upstream curation
	// manifest. Retrieval manifests use Sources instead.
	Source SourceRef `json:"source"`

	// Steps are the processing steps, executed strictly in order.
	Steps []Step `json:"steps"`

	// Projection holds semantics-layer field mappings.
	Projection []Mapping `json:"projection,omitempty"`

	// Sources lists the upstream semantic manifest ids (retrieval only).
	Sources []string `json:"sources,omitempty"`

	// Synthesis configures retrieval-layer result assembly.
	Synthesis *Synthesis `json:"synthesis,omitempty"`
}

// SourceRef references a manifest's input.
type SourceRef struct {
	// Type is "file" (wild source artifact), "curated" (upstream curation
	// manifest), or "semantic" (upstream semantic manifest).
	Type string `json:"type"`

	// Path is a filesystem path for "file" sources, otherwise the
	// upstream manifest id.
	Path string `json:"path"`
}

// Step declares one processing step: a component invocation.
type Step struct {
	// Component is the component name resolved through the engine's
	// capability set.
	Component string `json:"component"`

	// Version pins the component version.
	Version string `json:"version"`

	// Params are passed verbatim to the component at run time.
	Params map[string]any `json:"params,omitempty"`
}

// Mapping is a semantics-layer projection rule from a curated field
// to a semantic field.
type Mapping struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Synthesis configures how a retrieval manifest assembles results
// from its upstream semantic projections.
type Synthesis struct {
	Strategy string         `json:"strategy"`
	Params   map[string]any `json:"params,omitempty"`
}

// Key returns the store addressing key "layer/agency/id".
func (d *Descriptor) Key() string {
	return fmt.Sprintf("%s/%s/%s", d.Layer, d.Agency, d.ID)
}

// SourceType values for SourceRef.Type.
const (
	SourceFile     = "file"
	SourceCurated  = "curated"
	SourceSemantic = "semantic"
)
