package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: seed source files,
// deploy manifests, trigger executions, and assert on the evidence
// and lineage that result.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named
	// after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Sources seeds wild source files before any execution runs.
	Sources []SourceSeed `yaml:"sources,omitempty"`

	// Manifests lists manifest files to validate and deploy, in
	// order. Paths are relative to the scenario file location.
	Manifests []string `yaml:"manifests"`

	// Flow contains the executions to trigger, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final evidence and lineage.
	// Supported types: evidence_count, trace_verdict, document_thread.
	Assertions []Assertion `yaml:"assertions"`
}

// SourceSeed places one wild source file before the flow runs.
type SourceSeed struct {
	// Path is the artifact ref the file is written to.
	Path string `yaml:"path"`

	// Content is the file body.
	Content string `yaml:"content"`
}

// FlowStep triggers one execution.
type FlowStep struct {
	// Trigger is the manifest id to execute.
	Trigger string `yaml:"trigger,omitempty"`

	// Version pins a manifest version. Empty means the latest pointer.
	Version string `yaml:"version,omitempty"`

	// ReplayStep replays the execution started by an earlier flow
	// step (1-based index) instead of triggering a manifest.
	ReplayStep int `yaml:"replay_step,omitempty"`

	// Expect specifies the expected terminal record. If nil, the
	// step is expected to reach SUCCESS.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected terminal state of a flow step.
type ExpectClause struct {
	// Status is the expected terminal status (SUCCESS, FAILED,
	// QUARANTINED).
	Status string `yaml:"status"`

	// Error is a substring the record's error must contain.
	// Only checked when non-empty.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates evidence or lineage after the flow completes.
type Assertion struct {
	// Type specifies the assertion type:
	// - "evidence_count": manifest has exactly Count evidence records
	// - "trace_verdict": tracing the layer's latest execution yields Verdict
	// - "document_thread": every successful flow execution carries the
	//   first step's document id
	Type string `yaml:"type"`

	// Manifest is the manifest id (used by evidence_count).
	Manifest string `yaml:"manifest,omitempty"`

	// Count is the expected record count (used by evidence_count).
	Count int `yaml:"count,omitempty"`

	// Layer roots the trace (used by trace_verdict).
	Layer string `yaml:"layer,omitempty"`

	// Verdict is the expected trace verdict (used by trace_verdict).
	Verdict string `yaml:"verdict,omitempty"`
}

// Assertion type constants.
const (
	AssertEvidenceCount  = "evidence_count"
	AssertTraceVerdict   = "trace_verdict"
	AssertDocumentThread = "document_thread"
)

// LoadScenario reads and parses a scenario YAML file. Manifest paths
// are resolved relative to the scenario file's directory. Unknown
// fields are rejected, so typos fail loudly instead of silently
// skipping an assertion.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, m := range scenario.Manifests {
		if !filepath.IsAbs(m) {
			scenario.Manifests[i] = filepath.Join(base, m)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Manifests) == 0 {
		return fmt.Errorf("manifests list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for _, m := range s.Manifests {
		if _, err := os.Stat(m); os.IsNotExist(err) {
			return fmt.Errorf("manifest file not found: %s", m)
		}
	}

	for i, seed := range s.Sources {
		if seed.Path == "" {
			return fmt.Errorf("sources[%d]: path is required", i)
		}
	}

	for i, step := range s.Flow {
		switch {
		case step.Trigger == "" && step.ReplayStep == 0:
			return fmt.Errorf("flow[%d]: trigger or replay_step is required", i)
		case step.Trigger != "" && step.ReplayStep != 0:
			return fmt.Errorf("flow[%d]: trigger and replay_step are mutually exclusive", i)
		case step.ReplayStep < 0 || step.ReplayStep > i:
			return fmt.Errorf("flow[%d]: replay_step must reference an earlier step", i)
		}
		if step.Expect != nil && step.Expect.Status == "" {
			return fmt.Errorf("flow[%d].expect: status is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEvidenceCount:
		if a.Manifest == "" {
			return fmt.Errorf("assertions[%d]: manifest is required for evidence_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertTraceVerdict:
		if a.Layer == "" {
			return fmt.Errorf("assertions[%d]: layer is required for trace_verdict", index)
		}
		if a.Verdict == "" {
			return fmt.Errorf("assertions[%d]: verdict is required for trace_verdict", index)
		}
	case AssertDocumentThread:
		// No fields required.
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
