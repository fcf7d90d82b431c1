// Package stage implements the per-stage executors driven by the pipeline
// controller. Executors are stateless; expected failures come back as a
// Result, never as an error.
package stage

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/resilience"
)

// Executor runs one pipeline stage for one document.
type Executor interface {
	Stage() model.Stage
	// Depends lists the stages whose Done artifacts this stage consumes.
	Depends() []model.Stage
	Run(ctx context.Context, doc model.Document, in Input) Result
}

// Input gives an executor read access to upstream artifacts.
type Input struct {
	Upstream    map[model.Stage]*model.Artifact
	ReadContent func(ctx context.Context, stage model.Stage) ([]byte, error)
}

// Result is the outcome of one executor call.
type Result struct {
	Status      model.ArtifactStatus
	FailureKind model.FailureKind
	Err         error
	Content     []byte
	Ref         string
	Metadata    map[string]string
}

// ErrTimeout is reported when a stage call exceeds its own deadline.
var ErrTimeout = errors.New("Timeout")

func done(content []byte, ref string, meta map[string]string) Result {
	return Result{Status: model.ArtifactDone, Content: content, Ref: ref, Metadata: meta}
}

func failed(kind model.FailureKind, err error) Result {
	return Result{Status: model.ArtifactFailed, FailureKind: kind, Err: err}
}

func skipped(err error) Result {
	return Result{Status: model.ArtifactSkipped, FailureKind: model.FailureConfiguration, Err: err}
}

// failedFrom classifies err. A deadline hit by the stage's own timeout is
// reported as ErrTimeout.
func failedFrom(ctx context.Context, err error) Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failed(model.FailureTransient, ErrTimeout)
	}
	return failed(resilience.Classify(err), err)
}

// withTimeout applies d to ctx when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
