package stage

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/ocr"
)

// Convert turns the raw source PDF into normalized text.
type Convert struct {
	Extractor ocr.Extractor
	Options   ocr.Options
	Timeout   time.Duration
}

func (c *Convert) Stage() model.Stage { return model.StageConvert }
func (c *Convert) Depends() []model.Stage { return nil }

func (c *Convert) Run(ctx context.Context, doc model.Document, _ Input) Result {
	info, err := os.Stat(doc.SourcePath)
	if err != nil {
		return failed(model.FailurePermanent, eris.Wrapf(err, "convert: source %s", doc.SourcePath))
	}
	if info.Size() == 0 {
		return failed(model.FailurePermanent, eris.Errorf("convert: source %s is empty", doc.SourcePath))
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	defer cancel()

	text, err := c.Extractor.ExtractText(ctx, doc.SourcePath, c.Options)
	if err != nil {
		zap.L().Warn("convert: extractor failed",
			zap.String("document", doc.ID),
			zap.String("extractor", c.Extractor.Name()),
			zap.Error(err),
		)
		if errors.Is(err, ocr.ErrExitStatus) {
			return failed(model.FailurePermanent, err)
		}
		return failedFrom(ctx, err)
	}

	text = NormalizeText(text)
	if text == "" {
		return failed(model.FailurePermanent, eris.Errorf("convert: %s produced no text", c.Extractor.Name()))
	}

	return done([]byte(text), "", map[string]string{
		"extractor": c.Extractor.Name(),
		"chars":     strconv.Itoa(len([]rune(text))),
	})
}

// NormalizeText converts line endings to LF, strips NUL bytes and trailing
// whitespace, and ends the text with a single newline.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\f\v")
	}
	s = strings.Trim(strings.Join(lines, "\n"), "\n")
	if s == "" {
		return ""
	}
	return s + "\n"
}
