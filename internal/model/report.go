package model

import (
	"time"
)

// OutcomeState is what happened to one stage during one controller pass.
type OutcomeState string

const (
	OutcomeDone    OutcomeState = "done"
	OutcomeFailed  OutcomeState = "failed"
	OutcomeSkipped OutcomeState = "skipped"
	// OutcomeCached means a Done artifact already existed; no call was made.
	OutcomeCached OutcomeState = "cached"
	// OutcomeBlocked means an upstream stage did not complete this pass.
	OutcomeBlocked OutcomeState = "blocked"
	// OutcomeNotRequested means the stage is disabled for this run.
	OutcomeNotRequested OutcomeState = "not_requested"
)

// StageOutcome records one stage attempt (or non-attempt) within a run.
type StageOutcome struct {
	Stage       Stage        `json:"stage"`
	State       OutcomeState `json:"state"`
	FailureKind FailureKind  `json:"failure_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
	Attempted   bool         `json:"attempted"`
	DurationMs  int64        `json:"duration_ms,omitempty"`
}

// RunReport is the ephemeral record of one controller pass over a document.
type RunReport struct {
	RunID      string         `json:"run_id"`
	DocumentID string         `json:"document_id"`
	SourcePath string         `json:"source_path"`
	Outcomes   []StageOutcome `json:"outcomes"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Err        string         `json:"error,omitempty"`
}

// Outcome returns the outcome for a stage, if the run recorded one.
func (r *RunReport) Outcome(stage Stage) (StageOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Stage == stage {
			return o, true
		}
	}
	return StageOutcome{}, false
}

// Failed reports whether any stage failed or the run aborted.
func (r *RunReport) Failed() bool {
	if r.Err != "" {
		return true
	}
	for _, o := range r.Outcomes {
		if o.State == OutcomeFailed {
			return true
		}
	}
	return false
}

// Calls counts stages that invoked an executor during this run.
func (r *RunReport) Calls() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Attempted {
			n++
		}
	}
	return n
}

// BatchReport collects the run reports of a multi-document pass.
type BatchReport struct {
	Runs []RunReport `json:"runs"`
}

// Failed returns the reports that contain a failed stage.
func (b *BatchReport) Failed() []RunReport {
	var out []RunReport
	for _, r := range b.Runs {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}
