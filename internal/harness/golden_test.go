package harness

import (
	"path/filepath"
	"testing"
)

// The conformance scenarios under testdata/scenarios exercise the
// whole platform: deploy, trigger, quarantine, lineage. Their golden
// files pin identity down to the record id, so any drift in id
// minting, sequencing, or evidence shape shows up as a diff.

func TestGoldenEmploymentPipeline(t *testing.T) {
	RunWithGolden(t, filepath.Join("testdata", "scenarios", "employment_pipeline.yaml"))
}

func TestGoldenQualityQuarantine(t *testing.T) {
	RunWithGolden(t, filepath.Join("testdata", "scenarios", "quality_quarantine.yaml"))
}
