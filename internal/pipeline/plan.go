package pipeline

import (
	"time"

	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/stage"
)

// Action is what a pass intends to do with one stage.
type Action int

const (
	// ActionRun calls the executor.
	ActionRun Action = iota
	// ActionCached reuses a Done artifact.
	ActionCached
	// ActionSticky reports a permanent failure without calling the executor.
	ActionSticky
	// ActionNotRequested leaves a disabled stage alone.
	ActionNotRequested
)

func (a Action) String() string {
	switch a {
	case ActionRun:
		return "run"
	case ActionCached:
		return "cached"
	case ActionSticky:
		return "sticky"
	case ActionNotRequested:
		return "not_requested"
	default:
		return "unknown"
	}
}

// Step pairs an executor with the planned action.
type Step struct {
	Stage    model.Stage
	Executor stage.Executor
	Action   Action
}

// Plan decides, from the current artifacts, what each stage should do this
// pass. A permanent failure recorded before sourceModified is retried, since
// the file it failed on has changed. Dependency blocking is decided during
// execution.
func Plan(executors []stage.Executor, current map[model.Stage]*model.Artifact, opts Options, sourceModified time.Time) []Step {
	steps := make([]Step, 0, len(executors))
	for _, ex := range executors {
		st := ex.Stage()
		a := current[st]
		step := Step{Stage: st, Executor: ex}
		switch {
		case !opts.enabled(st):
			step.Action = ActionNotRequested
		case opts.forced(st):
			step.Action = ActionRun
		case a.Done():
			step.Action = ActionCached
		case !a.Retryable() && !opts.RetryFailed && !sourceModified.After(a.ProducedAt):
			step.Action = ActionSticky
		default:
			step.Action = ActionRun
		}
		steps = append(steps, step)
	}
	return steps
}
