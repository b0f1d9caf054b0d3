package evidence

import "github.com/quarry-data/quarry/internal/manifest"

// Status is the lifecycle state of an execution attempt.
//
// QUEUED is written the moment an execution id is minted: intent is
// evidence even if the engine never runs. STARTED marks engine
// dispatch. Exactly one terminal state follows.
type Status string

const (
	StatusQueued      Status = "QUEUED"
	StatusStarted     Status = "STARTED"
	StatusSuccess     Status = "SUCCESS"
	StatusFailed      Status = "FAILED"
	StatusQuarantined Status = "QUARANTINED"
)

// Terminal reports whether s is a final state. Terminal states are
// never downgraded; replays insert fresh records instead.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusQuarantined:
		return true
	}
	return false
}

// BOMEntry records one component actually invoked during an execution.
type BOMEntry struct {
	Component string `json:"component"`
	Version   string `json:"version"`
	Status    string `json:"status"`
}

// Record is one append-only evidence row: the full audit trail of a
// single execution attempt. The record id combines the per-layer
// sequence number with the execution id, giving stable chronological
// ordering even under identical timestamps and collision-free names
// for concurrent writers.
type Record struct {
	RecordID      string         `json:"recordId"`
	Seq           int64          `json:"seq"`
	ExecutionID   string         `json:"executionId"`
	Layer         manifest.Layer `json:"layer"`
	ManifestID    string         `json:"manifestId"`
	Version       string         `json:"version"`
	Agency        string         `json:"agency,omitempty"`
	Engine        string         `json:"engine,omitempty"`
	EngineVersion string         `json:"engineVersion,omitempty"`
	Status        Status         `json:"status"`
	DocumentID    string         `json:"documentId,omitempty"`
	ContentHash   string         `json:"contentHash,omitempty"`
	Upstream      []string       `json:"upstreamExecutionIds"`
	BOM           []BOMEntry     `json:"bom"`
	SourcePath    string         `json:"sourcePath,omitempty"`
	OutputRef     string         `json:"outputRef,omitempty"`
	Error         string         `json:"error,omitempty"`
	ReplayOf      string         `json:"replayOf,omitempty"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
}
