package stage

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/paper-cli/internal/index"
	"github.com/sells-group/paper-cli/internal/model"
)

// Index uploads the raw source to the remote index. The stored Ref is the
// remote file name.
type Index struct {
	Client  index.Client
	Timeout time.Duration
}

func (x *Index) Stage() model.Stage { return model.StageIndex }
func (x *Index) Depends() []model.Stage { return []model.Stage{model.StageConvert} }

func (x *Index) Run(ctx context.Context, doc model.Document, _ Input) Result {
	if _, err := os.Stat(doc.SourcePath); err != nil {
		return failed(model.FailurePermanent, eris.Wrapf(err, "index: source %s", doc.SourcePath))
	}

	ctx, cancel := withTimeout(ctx, x.Timeout)
	defer cancel()

	h, err := x.Client.Upload(ctx, doc.SourcePath, doc.ID)
	switch {
	case errors.Is(err, index.ErrMissingKey):
		return skipped(err)
	case errors.Is(err, index.ErrUploadFailed):
		return failed(model.FailurePermanent, err)
	case err != nil:
		return failedFrom(ctx, err)
	}

	meta := map[string]string{}
	if h.URI != "" {
		meta["uri"] = h.URI
	}
	return done(nil, h.Name, meta)
}
