package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/quarry-data/quarry/internal/manifest"
)

// NativeName is the engine name the built-in backend registers under.
const NativeName = "native"

// NativeVersion is the built-in backend's version.
const NativeVersion = "1.0.0"

// Native is the built-in execution backend. Its capability set covers
// the standard curation chain (parse, map, enrich, gate, write) plus
// the semantic projection and retrieval synthesis components.
type Native struct {
	components map[ComponentKey]Component
}

// NewNative creates the built-in engine with its full capability set.
func NewNative() *Native {
	n := &Native{components: make(map[ComponentKey]Component)}

	n.add(manifest.LayerCuration, &csvParser{})
	n.add(manifest.LayerCuration, &fieldMapper{})
	n.add(manifest.LayerCuration, &enricher{})
	n.add(manifest.LayerCuration, &qualityValidator{})
	n.add(manifest.LayerCuration, &factWriter{})
	n.add(manifest.LayerSemantics, &ontologyMapper{})
	n.add(manifest.LayerRetrieval, &temporalJoiner{})

	return n
}

func (n *Native) add(layer manifest.Layer, c Component) {
	n.components[ComponentKey{Layer: layer, Name: c.Name(), Version: c.Version()}] = c
}

// Name implements Engine.
func (n *Native) Name() string { return NativeName }

// Version implements Engine.
func (n *Native) Version() string { return NativeVersion }

// Resolve implements Engine. Component versions match exactly; a
// manifest pinned to a version the engine does not carry must fail
// loudly rather than run a near-enough substitute.
func (n *Native) Resolve(key ComponentKey) (Component, bool) {
	c, ok := n.components[key]
	return c, ok
}

// Capabilities implements Engine, in deterministic order.
func (n *Native) Capabilities() []ComponentKey {
	keys := make([]ComponentKey, 0, len(n.components))
	for k := range n.components {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Layer != keys[j].Layer {
			return keys[i].Layer < keys[j].Layer
		}
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Version < keys[j].Version
	})
	return keys
}

// csvParser turns raw CSV source text into structured rows. The first
// record is the header; every following record becomes one row keyed
// by header name.
type csvParser struct{}

func (c *csvParser) Name() string    { return "csv_parser" }
func (c *csvParser) Version() string { return "1.0.0" }

func (c *csvParser) Run(_ context.Context, exec Context, payload map[string]any, params map[string]any) Result {
	source, ok := payload["source"].(string)
	if !ok {
		return Failure("csv_parser: payload carries no source text")
	}

	reader := csv.NewReader(strings.NewReader(source))
	if delim, ok := params["delimiter"].(string); ok && len(delim) == 1 {
		reader.Comma = rune(delim[0])
	}

	records, err := reader.ReadAll()
	if err != nil {
		return Failure("csv_parser: %v", err)
	}
	if len(records) == 0 {
		return Failure("csv_parser: source is empty")
	}

	headers := records[0]
	rows := make([]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		rows = append(rows, row)
	}

	headerList := make([]any, len(headers))
	for i, h := range headers {
		headerList[i] = h
	}

	return Success(map[string]any{
		"sourcePath": exec.SourcePath,
		"headers":    headerList,
		"rows":       rows,
		"rowCount":   len(rows),
	})
}

// fieldMapper renames row fields according to the step's mappings
// param. Unmapped fields pass through unchanged.
type fieldMapper struct{}

func (f *fieldMapper) Name() string    { return "field_mapper" }
func (f *fieldMapper) Version() string { return "1.0.0" }

func (f *fieldMapper) Run(_ context.Context, _ Context, payload map[string]any, params map[string]any) Result {
	mappings, ok := params["mappings"].(map[string]any)
	if !ok {
		return Failure("field_mapper: params carry no mappings")
	}

	rows, err := payloadRows(payload, "rows")
	if err != nil {
		return Failure("field_mapper: %v", err)
	}

	mapped := make([]any, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]any, len(row))
		for field, value := range row {
			if to, ok := mappings[field].(string); ok {
				out[to] = value
			} else {
				out[field] = value
			}
		}
		mapped = append(mapped, out)
	}

	out := clonePayload(payload)
	out["rows"] = mapped
	return Success(out)
}

// enricher stamps constant fields from the step params onto every row.
type enricher struct{}

func (e *enricher) Name() string    { return "enricher" }
func (e *enricher) Version() string { return "1.0.0" }

func (e *enricher) Run(_ context.Context, exec Context, payload map[string]any, params map[string]any) Result {
	fields, _ := params["fields"].(map[string]any)

	rows, err := payloadRows(payload, "rows")
	if err != nil {
		return Failure("enricher: %v", err)
	}

	enriched := make([]any, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]any, len(row)+len(fields)+1)
		for k, v := range row {
			out[k] = v
		}
		for k, v := range fields {
			out[k] = v
		}
		out["agency"] = exec.Agency
		enriched = append(enriched, out)
	}

	out := clonePayload(payload)
	out["rows"] = enriched
	return Success(out)
}

// qualityValidator is the quarantine gate. A payload that fails the
// declared thresholds is routed to quarantine, not treated as an
// execution error.
type qualityValidator struct{}

func (q *qualityValidator) Name() string    { return "quality_validator" }
func (q *qualityValidator) Version() string { return "1.0.0" }

func (q *qualityValidator) Run(_ context.Context, _ Context, payload map[string]any, params map[string]any) Result {
	rows, err := payloadRows(payload, "rows")
	if err != nil {
		return Failure("quality_validator: %v", err)
	}

	if min, ok := numberParam(params, "minRows"); ok && len(rows) < min {
		return Quarantine(payload, "quality_validator: %d rows, need at least %d", len(rows), min)
	}

	if required, ok := params["requiredFields"].([]any); ok {
		for i, row := range rows {
			for _, f := range required {
				field, _ := f.(string)
				if _, present := row[field]; !present {
					return Quarantine(payload, "quality_validator: row %d missing required field %q", i, field)
				}
			}
		}
	}

	return Success(payload)
}

// factWriter shapes the curated rows into the layer's fact document.
type factWriter struct{}

func (f *factWriter) Name() string    { return "fact_writer" }
func (f *factWriter) Version() string { return "1.0.0" }

func (f *factWriter) Run(_ context.Context, exec Context, payload map[string]any, _ map[string]any) Result {
	rows, err := payloadRows(payload, "rows")
	if err != nil {
		return Failure("fact_writer: %v", err)
	}

	facts := make([]any, len(rows))
	for i, row := range rows {
		facts[i] = row
	}

	return Success(map[string]any{
		"documentId": exec.DocumentID,
		"manifestId": exec.ManifestID,
		"sourcePath": exec.SourcePath,
		"facts":      facts,
		"count":      len(facts),
	})
}

// ontologyMapper projects curated facts onto semantic concepts using
// the manifest's projection mappings.
type ontologyMapper struct{}

func (o *ontologyMapper) Name() string    { return "ontology_mapper" }
func (o *ontologyMapper) Version() string { return "1.0.0" }

func (o *ontologyMapper) Run(_ context.Context, exec Context, payload map[string]any, params map[string]any) Result {
	mappings, _ := params["mappings"].(map[string]any)

	facts, err := payloadRows(payload, "facts")
	if err != nil {
		return Failure("ontology_mapper: %v", err)
	}

	concepts := make([]any, 0, len(facts))
	for _, fact := range facts {
		concept := make(map[string]any, len(mappings))
		for from, to := range mappings {
			toField, _ := to.(string)
			if value, ok := fact[from]; ok && toField != "" {
				concept[toField] = value
			}
		}
		if len(mappings) == 0 {
			for k, v := range fact {
				concept[k] = v
			}
		}
		concepts = append(concepts, concept)
	}

	return Success(map[string]any{
		"documentId": exec.DocumentID,
		"manifestId": exec.ManifestID,
		"concepts":   concepts,
		"count":      len(concepts),
	})
}

// temporalJoiner synthesizes one retrieval document from the concept
// sets of every upstream semantic execution, in source order.
type temporalJoiner struct{}

func (t *temporalJoiner) Name() string    { return "temporal_joiner" }
func (t *temporalJoiner) Version() string { return "1.0.0" }

func (t *temporalJoiner) Run(_ context.Context, exec Context, payload map[string]any, params map[string]any) Result {
	sources, ok := payload["sources"].([]any)
	if !ok {
		return Failure("temporal_joiner: payload carries no sources")
	}

	strategy, _ := params["strategy"].(string)
	if strategy == "" {
		strategy = "union"
	}

	joined := make([]any, 0)
	for i, src := range sources {
		doc, ok := src.(map[string]any)
		if !ok {
			return Failure("temporal_joiner: source %d is not a document", i)
		}
		concepts, err := payloadRows(doc, "concepts")
		if err != nil {
			return Failure("temporal_joiner: source %d: %v", i, err)
		}
		for _, c := range concepts {
			joined = append(joined, c)
		}
	}

	return Success(map[string]any{
		"documentId": exec.DocumentID,
		"manifestId": exec.ManifestID,
		"strategy":   strategy,
		"records":    joined,
		"count":      len(joined),
	})
}

// payloadRows extracts a list-of-objects field from a payload.
func payloadRows(payload map[string]any, field string) ([]map[string]any, error) {
	raw, ok := payload[field].([]any)
	if !ok {
		return nil, fmt.Errorf("payload carries no %s", field)
	}
	rows := make([]map[string]any, 0, len(raw))
	for i, r := range raw {
		row, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not an object", field, i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// numberParam reads an integer-valued param that may arrive as int
// (YAML) or float64 (JSON).
func numberParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
