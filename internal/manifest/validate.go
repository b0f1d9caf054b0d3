package manifest

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// Validation error codes (E200-E299)
const (
	ErrDocMalformed   = "E200" // document cannot be normalized
	ErrSchemaMismatch = "E201" // CUE schema unification failure
	ErrMissingField   = "E202" // required field absent or empty
	ErrInvalidVersion = "E203" // version is not numeric major.minor.patch
	ErrInvalidLayer   = "E204" // unknown layer name
	ErrNoSteps        = "E205" // processing steps missing or empty
	ErrInvalidSource  = "E206" // source does not match layer requirements
	ErrUnknownSchema  = "E207" // unsupported schema major version
)

// ValidationError represents a manifest validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// schemaV1CUE is the validation schema for flat (schema major 1) manifests.
const schemaV1CUE = `
#Manifest: {
	manifestId:     string & =~"^[a-z][a-z0-9_]*$"
	agency:         string & !=""
	version:        string & =~"^[0-9]+\\.[0-9]+\\.[0-9]+$"
	layer:          "curation" | "semantics" | "retrieval"
	engine:         string & !=""
	engineVersion?: string & =~"^[0-9]+\\.[0-9]+\\.[0-9]+$"
	schemaVersion?: string & =~"^1\\.[0-9]+\\.[0-9]+$"
	source: {
		type: "file" | "curated" | "semantic"
		path: string & !=""
	}
	processing: {
		steps: [...{
			component: string & !=""
			version:   string & =~"^[0-9]+\\.[0-9]+\\.[0-9]+$"
			params?: {...}
		}]
	}
}
`

// schemaV2CUE is the validation schema for wrapped (schema major 2)
// manifests: the same logical fields under a single "manifest" root,
// plus the layer-specific projection, sources, and synthesis sections.
const schemaV2CUE = `
#Manifest: {
	manifest: {
		manifestId:     string & =~"^[a-z][a-z0-9_]*$"
		agency:         string & !=""
		version:        string & =~"^[0-9]+\\.[0-9]+\\.[0-9]+$"
		layer:          "curation" | "semantics" | "retrieval"
		engine:         string & !=""
		engineVersion?: string & =~"^[0-9]+\\.[0-9]+\\.[0-9]+$"
		schemaVersion?: string & =~"^2\\.[0-9]+\\.[0-9]+$"
		source?: {
			type: "file" | "curated" | "semantic"
			path: string & !=""
		}
		processing?: {
			steps: [...{
				component: string & !=""
				version:   string & =~"^[0-9]+\\.[0-9]+\\.[0-9]+$"
				params?: {...}
			}]
		}
		projection?: {
			mappings: [...{
				from: string & !=""
				to:   string & !=""
			}]
		}
		sources?: {
			primary: [...string]
		}
		synthesis?: {
			strategy: string & !=""
			params?: {...}
		}
	}
}
`

// schemaDefs maps schema major version to its CUE definition source.
var schemaDefs = map[int]string{
	1: schemaV1CUE,
	2: schemaV2CUE,
}

// SchemaDefinition returns the CUE definition source for a schema
// major version. The registry hashes and stores this at onboarding.
func SchemaDefinition(major int) (string, bool) {
	def, ok := schemaDefs[major]
	return def, ok
}

// Validator validates raw manifest documents against versioned CUE
// schemas plus layer-specific semantic rules. A Validator is safe for
// concurrent use after construction.
type Validator struct {
	ctx     *cue.Context
	schemas map[int]cue.Value
}

// NewValidator compiles the built-in schemas and returns a validator.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schemas := make(map[int]cue.Value, len(schemaDefs))
	for major, src := range schemaDefs {
		v := ctx.CompileString(src)
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile schema v%d: %w", major, err)
		}
		schema := v.LookupPath(cue.ParsePath("#Manifest"))
		if err := schema.Err(); err != nil {
			return nil, fmt.Errorf("schema v%d has no #Manifest definition: %w", major, err)
		}
		schemas[major] = schema
	}
	return &Validator{ctx: ctx, schemas: schemas}, nil
}

// Validate checks a raw manifest document. Returns the normalized
// descriptor and all errors found (does not fail-fast). The descriptor
// is nil only when the document cannot be normalized at all.
func (v *Validator) Validate(doc map[string]any) (*Descriptor, []ValidationError) {
	major := DetectSchemaMajor(doc)

	schema, ok := v.schemas[major]
	if !ok {
		return nil, []ValidationError{{
			Field:   "schemaVersion",
			Message: fmt.Sprintf("unsupported manifest schema major version %d", major),
			Code:    ErrUnknownSchema,
		}}
	}

	var errs []ValidationError
	errs = append(errs, v.unify(schema, doc)...)

	d, err := Normalize(doc)
	if err != nil {
		errs = append(errs, ValidationError{
			Field:   "manifest",
			Message: err.Error(),
			Code:    ErrDocMalformed,
		})
		return nil, errs
	}

	errs = append(errs, validateDescriptor(d)...)
	return d, errs
}

// unify checks the raw document against the CUE schema and converts
// every unification failure into a field-level ValidationError.
func (v *Validator) unify(schema cue.Value, doc map[string]any) []ValidationError {
	docVal := v.ctx.Encode(doc)
	if err := docVal.Err(); err != nil {
		return []ValidationError{{
			Field:   "manifest",
			Message: err.Error(),
			Code:    ErrDocMalformed,
		}}
	}

	unified := schema.Unify(docVal)
	err := unified.Validate(cue.Concrete(true), cue.Final())
	if err == nil {
		return nil
	}

	var errs []ValidationError
	for _, cueErr := range cueerrors.Errors(err) {
		field := strings.Join(cueErr.Path(), ".")
		if field == "" {
			field = "manifest"
		}
		errs = append(errs, ValidationError{
			Field:   field,
			Message: cueErr.Error(),
			Code:    ErrSchemaMismatch,
		})
	}
	return errs
}

// validateDescriptor applies the semantic rules CUE cannot express:
// cross-field and layer-specific requirements.
func validateDescriptor(d *Descriptor) []ValidationError {
	var errs []ValidationError

	if d.ID == "" {
		errs = append(errs, ValidationError{
			Field:   "manifestId",
			Message: "manifestId is required and must be non-empty",
			Code:    ErrMissingField,
		})
	}
	if d.Agency == "" {
		errs = append(errs, ValidationError{
			Field:   "agency",
			Message: "agency is required and must be non-empty",
			Code:    ErrMissingField,
		})
	}
	if !ValidVersion(d.Version) {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("version %q must be numeric major.minor.patch", d.Version),
			Code:    ErrInvalidVersion,
		})
	}
	if !ValidLayers[d.Layer] {
		errs = append(errs, ValidationError{
			Field:   "layer",
			Message: fmt.Sprintf("unknown layer %q, must be curation, semantics, or retrieval", d.Layer),
			Code:    ErrInvalidLayer,
		})
	}
	if d.Engine == "" {
		errs = append(errs, ValidationError{
			Field:   "engine",
			Message: "engine is required and must be non-empty",
			Code:    ErrMissingField,
		})
	}
	if len(d.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   "processing.steps",
			Message: "at least one processing step is required",
			Code:    ErrNoSteps,
		})
	}
	for i, s := range d.Steps {
		if s.Component == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("processing.steps[%d].component", i),
				Message: "component name is required",
				Code:    ErrMissingField,
			})
		}
		if !ValidVersion(s.Version) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("processing.steps[%d].version", i),
				Message: fmt.Sprintf("component version %q must be numeric major.minor.patch", s.Version),
				Code:    ErrInvalidVersion,
			})
		}
	}

	errs = append(errs, validateLayerSource(d)...)
	return errs
}

// validateLayerSource enforces each layer's upstream reference shape.
func validateLayerSource(d *Descriptor) []ValidationError {
	var errs []ValidationError

	switch d.Layer {
	case LayerCuration:
		if d.Source.Type != SourceFile || d.Source.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "source",
				Message: "curation manifests require a file source with a non-empty path",
				Code:    ErrInvalidSource,
			})
		}
	case LayerSemantics:
		if d.Source.Type != SourceCurated || d.Source.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "source",
				Message: "semantics manifests require a curated source naming the upstream curation manifest",
				Code:    ErrInvalidSource,
			})
		}
	case LayerRetrieval:
		if len(d.Sources) == 0 {
			errs = append(errs, ValidationError{
				Field:   "sources.primary",
				Message: "retrieval manifests require at least one upstream semantic manifest",
				Code:    ErrInvalidSource,
			})
		}
	}

	return errs
}
