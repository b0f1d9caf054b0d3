package harness

import (
	"context"
	"fmt"

	"github.com/quarry-data/quarry/internal/evidence"
	"github.com/quarry-data/quarry/internal/manifest"
)

// CheckAssertions evaluates a scenario's assertions against the run
// result and the evidence store. It returns one failure string per
// violated assertion; an error means the assertion could not be
// evaluated at all.
func (h *Harness) CheckAssertions(ctx context.Context, scenario *Scenario, result *Result) ([]string, error) {
	var failures []string

	for i, a := range scenario.Assertions {
		switch a.Type {
		case AssertEvidenceCount:
			records, err := h.Recorder.ListForManifest(ctx, a.Manifest)
			if err != nil {
				return nil, fmt.Errorf("assertions[%d]: %w", i, err)
			}
			if len(records) != a.Count {
				failures = append(failures,
					fmt.Sprintf("assertions[%d]: manifest %s has %d evidence records, want %d",
						i, a.Manifest, len(records), a.Count))
			}

		case AssertTraceVerdict:
			layer, err := manifest.ParseLayer(a.Layer)
			if err != nil {
				return nil, fmt.Errorf("assertions[%d]: %w", i, err)
			}
			trace, err := h.Tracer.TraceLatest(ctx, layer)
			if err != nil {
				return nil, fmt.Errorf("assertions[%d]: %w", i, err)
			}
			if string(trace.Verdict) != a.Verdict {
				failures = append(failures,
					fmt.Sprintf("assertions[%d]: trace verdict %s, want %s", i, trace.Verdict, a.Verdict))
			}

		case AssertDocumentThread:
			failures = append(failures, checkDocumentThread(i, result)...)
		}
	}

	return failures, nil
}

// checkDocumentThread verifies that every successful flow execution
// carries the document id minted by the first step. The id is assigned
// once at curation and must survive every downstream hop unchanged.
func checkDocumentThread(index int, result *Result) []string {
	if len(result.Records) == 0 {
		return nil
	}
	want := result.Records[0].DocumentID

	var failures []string
	for _, rec := range result.Records {
		if rec.Status != evidence.StatusSuccess {
			continue
		}
		if rec.DocumentID != want {
			failures = append(failures,
				fmt.Sprintf("assertions[%d]: execution %s carries document %s, want %s",
					index, rec.ExecutionID, rec.DocumentID, want))
		}
	}
	return failures
}
