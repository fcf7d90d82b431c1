// Package ocr converts PDF files to text through external converters.
package ocr

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/config"
)

// Options tune a single conversion. Extractors ignore options they do not
// support.
type Options struct {
	MaxPages     int
	Languages    []string
	HighAccuracy bool
	ForceOCR     bool
}

// Extractor extracts text content from PDF files.
type Extractor interface {
	ExtractText(ctx context.Context, pdfPath string, opts Options) (string, error)
	Name() string
}

// waitDelay bounds how long a killed converter may hold its output pipes.
const waitDelay = 5 * time.Second

// ErrExitStatus marks a converter process that ran and reported failure.
var ErrExitStatus = errors.New("ocr: converter exited with error")

// Keys carries the credentials some providers need.
type Keys struct {
	Google  string
	Mistral string
}

// NewExtractor creates the configured Extractor. A provider whose
// credential is missing degrades to pdftotext with a warning.
func NewExtractor(cfg config.ConverterConfig, mistralModel string, keys Keys) (Extractor, error) {
	switch cfg.Provider {
	case "marker", "":
		return NewMarker(cfg.MarkerPath, cfg.BatchMultiplier, keys.Google), nil
	case "pdftotext":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if keys.Mistral == "" {
			zap.L().Warn("ocr: mistral provider has no API key, falling back to pdftotext")
			return NewPdfToText(cfg.PdfToTextPath), nil
		}
		return NewMistralOCR(keys.Mistral, mistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// OptionsFrom builds per-call options from converter config.
func OptionsFrom(cfg config.ConverterConfig) Options {
	return Options{
		MaxPages:     cfg.MaxPages,
		Languages:    cfg.Languages,
		HighAccuracy: cfg.HighAccuracy,
		ForceOCR:     cfg.ForceOCR,
	}
}

// runError converts an exec failure into ErrExitStatus when the process ran
// and exited non-zero. Context errors are returned as-is.
func runError(ctx context.Context, err error, name, pdfPath, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return eris.Wrapf(ctxErr, "ocr: %s interrupted for %s", name, pdfPath)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return eris.Wrapf(ErrExitStatus, "ocr: %s failed for %s (exit %d): %s", name, pdfPath, exitErr.ExitCode(), tail(stderr, 400))
	}
	return eris.Wrapf(err, "ocr: %s failed for %s", name, pdfPath)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
