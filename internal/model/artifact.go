package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Stage identifies one step of the ingestion pipeline.
type Stage string

const (
	StageConvert   Stage = "convert"
	StageSummarize Stage = "summarize"
	StageIndex     Stage = "index"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageConvert, StageSummarize, StageIndex}

// ParseStage converts a string into a Stage.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", eris.Errorf("model: unknown stage %q", s)
}

// ArtifactStatus is the persisted status of a stage artifact.
type ArtifactStatus string

const (
	ArtifactPending ArtifactStatus = "pending"
	ArtifactDone    ArtifactStatus = "done"
	ArtifactFailed  ArtifactStatus = "failed"
	ArtifactSkipped ArtifactStatus = "skipped"
)

// FailureKind classifies why a stage did not produce a Done artifact.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureTransient is retried on the next controller pass.
	FailureTransient FailureKind = "transient"
	// FailurePermanent is not retried automatically.
	FailurePermanent FailureKind = "permanent"
	// FailureConfiguration marks a stage skipped for a missing credential.
	FailureConfiguration FailureKind = "configuration"
	// FailureParse marks a malformed remote response.
	FailureParse FailureKind = "parse"
)

// Artifact is the current output of one stage for one document.
type Artifact struct {
	DocumentID  string            `json:"document_id"`
	Stage       Stage             `json:"stage"`
	Status      ArtifactStatus    `json:"status"`
	FailureKind FailureKind       `json:"failure_kind,omitempty"`
	Error       string            `json:"error,omitempty"`
	Location    string            `json:"location,omitempty"`
	Ref         string            `json:"ref,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ProducedAt  time.Time         `json:"produced_at"`
}

// Done reports whether the artifact is a completed stage output.
func (a *Artifact) Done() bool {
	return a != nil && a.Status == ArtifactDone
}

// Retryable reports whether a fresh pass should attempt the stage again.
// Only permanent failures and completed artifacts are sticky.
func (a *Artifact) Retryable() bool {
	if a == nil {
		return true
	}
	switch a.Status {
	case ArtifactDone:
		return false
	case ArtifactFailed:
		return a.FailureKind != FailurePermanent
	default:
		return true
	}
}
