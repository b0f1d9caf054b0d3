package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Load parses a manifest document from raw bytes (JSON or YAML, YAML
// being a superset) and normalizes it through the versioned adapter.
// Returns the descriptor together with the decoded raw document.
func Load(data []byte) (*Descriptor, map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse manifest document: %w", err)
	}
	d, err := Normalize(doc)
	if err != nil {
		return nil, nil, err
	}
	return d, doc, nil
}

// Normalize converts a raw manifest document into the internal
// Descriptor, routing by detected schema major version. Business logic
// never branches on raw document shape; only the adapters here do.
func Normalize(doc map[string]any) (*Descriptor, error) {
	major := DetectSchemaMajor(doc)
	switch major {
	case 1:
		return normalizeV1(doc)
	case 2:
		return normalizeV2(doc)
	default:
		return nil, fmt.Errorf("unsupported manifest schema major version %d", major)
	}
}

// DetectSchemaMajor determines the schema major version of a raw
// document. A top-level "manifest" wrapper marks schema v2; flat
// documents are v1 unless an explicit schemaVersion says otherwise.
func DetectSchemaMajor(doc map[string]any) int {
	if _, wrapped := doc["manifest"]; wrapped {
		if inner, ok := doc["manifest"].(map[string]any); ok {
			if sv := stringField(inner, "schemaVersion"); sv != "" {
				if major, err := SchemaMajorOf(sv); err == nil {
					return major
				}
			}
		}
		return 2
	}
	if sv := stringField(doc, "schemaVersion"); sv != "" {
		if major, err := SchemaMajorOf(sv); err == nil {
			return major
		}
	}
	return 1
}

// normalizeV1 adapts the flat schema v1 form:
//
//	manifestId, version, layer, agency, engine, engineVersion,
//	source: {type, path},
//	processing: {steps: [{component, version, params}]}
func normalizeV1(doc map[string]any) (*Descriptor, error) {
	d := &Descriptor{
		ID:            stringField(doc, "manifestId"),
		Agency:        stringField(doc, "agency"),
		Version:       stringField(doc, "version"),
		Layer:         Layer(stringField(doc, "layer")),
		SchemaMajor:   1,
		Engine:        stringField(doc, "engine"),
		EngineVersion: stringField(doc, "engineVersion"),
	}
	if d.EngineVersion == "" {
		d.EngineVersion = "1.0.0"
	}

	if src, ok := doc["source"].(map[string]any); ok {
		d.Source = SourceRef{
			Type: stringField(src, "type"),
			Path: stringField(src, "path"),
		}
	}

	steps, err := parseSteps(mapField(doc, "processing")["steps"])
	if err != nil {
		return nil, err
	}
	d.Steps = steps

	return d, nil
}

// normalizeV2 adapts the wrapped schema v2 form: the same logical
// fields nested under a single "manifest" root, plus layer-specific
// sections (projection.mappings for semantics, sources.primary and
// synthesis for retrieval).
func normalizeV2(doc map[string]any) (*Descriptor, error) {
	inner, ok := doc["manifest"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema v2 document must nest content under a \"manifest\" key")
	}

	d := &Descriptor{
		ID:            stringField(inner, "manifestId"),
		Agency:        stringField(inner, "agency"),
		Version:       stringField(inner, "version"),
		Layer:         Layer(stringField(inner, "layer")),
		SchemaMajor:   2,
		Engine:        stringField(inner, "engine"),
		EngineVersion: stringField(inner, "engineVersion"),
	}
	if d.EngineVersion == "" {
		d.EngineVersion = "1.0.0"
	}

	if src, ok := inner["source"].(map[string]any); ok {
		d.Source = SourceRef{
			Type: stringField(src, "type"),
			Path: stringField(src, "path"),
		}
	}

	steps, err := parseSteps(mapField(inner, "processing")["steps"])
	if err != nil {
		return nil, err
	}
	d.Steps = steps

	// Semantics: projection.mappings
	if proj, ok := inner["projection"].(map[string]any); ok {
		mappings, err := parseMappings(proj["mappings"])
		if err != nil {
			return nil, err
		}
		d.Projection = mappings
	}

	// Retrieval: sources.primary + synthesis
	if srcs, ok := inner["sources"].(map[string]any); ok {
		primary, err := parseStringList(srcs["primary"])
		if err != nil {
			return nil, fmt.Errorf("sources.primary: %w", err)
		}
		d.Sources = primary
	}
	if syn, ok := inner["synthesis"].(map[string]any); ok {
		d.Synthesis = &Synthesis{
			Strategy: stringField(syn, "strategy"),
			Params:   mapField(syn, "params"),
		}
	}

	return d, nil
}

// parseSteps decodes the processing step list.
func parseSteps(v any) ([]Step, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("processing.steps must be a list, got %T", v)
	}

	steps := make([]Step, 0, len(raw))
	for i, elem := range raw {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("processing.steps[%d] must be an object, got %T", i, elem)
		}
		steps = append(steps, Step{
			Component: stringField(obj, "component"),
			Version:   stringField(obj, "version"),
			Params:    mapField(obj, "params"),
		})
	}
	return steps, nil
}

// parseMappings decodes projection mapping entries.
func parseMappings(v any) ([]Mapping, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("projection.mappings must be a list, got %T", v)
	}

	mappings := make([]Mapping, 0, len(raw))
	for i, elem := range raw {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("projection.mappings[%d] must be an object, got %T", i, elem)
		}
		mappings = append(mappings, Mapping{
			From: stringField(obj, "from"),
			To:   stringField(obj, "to"),
		})
	}
	return mappings, nil
}

// parseStringList decodes a list of strings.
func parseStringList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("must be a list, got %T", v)
	}
	out := make([]string, 0, len(raw))
	for i, elem := range raw {
		s, ok := elem.(string)
		if !ok {
			return nil, fmt.Errorf("[%d] must be a string, got %T", i, elem)
		}
		out = append(out, s)
	}
	return out, nil
}

// CanonicalDoc builds the schema-independent document used for content
// hashing. The same logical manifest expressed as flat v1 or wrapped v2
// hashes identically; the transport shape is not part of identity.
func (d *Descriptor) CanonicalDoc() map[string]any {
	doc := map[string]any{
		"manifestId":    d.ID,
		"agency":        d.Agency,
		"version":       d.Version,
		"layer":         string(d.Layer),
		"engine":        d.Engine,
		"engineVersion": d.EngineVersion,
		"source": map[string]any{
			"type": d.Source.Type,
			"path": d.Source.Path,
		},
	}

	steps := make([]any, len(d.Steps))
	for i, s := range d.Steps {
		step := map[string]any{
			"component": s.Component,
			"version":   s.Version,
		}
		if len(s.Params) > 0 {
			step["params"] = s.Params
		}
		steps[i] = step
	}
	doc["steps"] = steps

	if len(d.Projection) > 0 {
		mappings := make([]any, len(d.Projection))
		for i, m := range d.Projection {
			mappings[i] = map[string]any{"from": m.From, "to": m.To}
		}
		doc["projection"] = mappings
	}
	if len(d.Sources) > 0 {
		doc["sources"] = d.Sources
	}
	if d.Synthesis != nil {
		syn := map[string]any{"strategy": d.Synthesis.Strategy}
		if len(d.Synthesis.Params) > 0 {
			syn["params"] = d.Synthesis.Params
		}
		doc["synthesis"] = syn
	}

	return doc
}

// ContentHash computes the content hash of the normalized manifest.
func (d *Descriptor) ContentHash() (string, error) {
	return ContentHash(d.CanonicalDoc())
}

// stringField extracts a string value from a decoded document,
// returning "" when absent or not a string.
func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

// mapField extracts a nested object, returning nil when absent.
func mapField(doc map[string]any, key string) map[string]any {
	m, _ := doc[key].(map[string]any)
	return m
}
