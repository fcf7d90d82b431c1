package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Marker converts PDFs to markdown with the marker_single CLI. High accuracy
// mode (--use_llm) calls Gemini and therefore needs a Google API key.
type Marker struct {
	binPath         string
	batchMultiplier int
	googleKey       string
}

// NewMarker creates a Marker extractor. If binPath is empty, "marker_single" is used.
func NewMarker(binPath string, batchMultiplier int, googleKey string) *Marker {
	if binPath == "" {
		binPath = "marker_single"
	}
	if batchMultiplier <= 0 {
		batchMultiplier = 2
	}
	return &Marker{binPath: binPath, batchMultiplier: batchMultiplier, googleKey: googleKey}
}

func (m *Marker) Name() string { return "marker" }

func (m *Marker) args(pdfPath, outDir string, opts Options) []string {
	args := []string{
		pdfPath,
		"--output_dir", outDir,
		"--batch_multiplier", strconv.Itoa(m.batchMultiplier),
	}
	if opts.HighAccuracy {
		if m.googleKey != "" {
			args = append(args, "--use_llm")
		} else {
			zap.L().Warn("ocr: high accuracy requested without a Google API key, using standard mode",
				zap.String("path", pdfPath))
		}
	}
	if opts.ForceOCR {
		args = append(args, "--force_ocr")
	}
	if opts.MaxPages > 0 {
		args = append(args, "--max_pages", strconv.Itoa(opts.MaxPages))
	}
	if len(opts.Languages) > 0 {
		args = append(args, "--languages", strings.Join(opts.Languages, ","))
	}
	return args
}

// ExtractText runs marker_single into a scratch directory and returns the
// markdown it writes to <out>/<stem>/<stem>.md.
func (m *Marker) ExtractText(ctx context.Context, pdfPath string, opts Options) (string, error) {
	outDir, err := os.MkdirTemp("", "marker-*")
	if err != nil {
		return "", eris.Wrap(err, "ocr: marker scratch dir")
	}
	defer os.RemoveAll(outDir) //nolint:errcheck

	cmd := exec.CommandContext(ctx, m.binPath, m.args(pdfPath, outDir, opts)...)
	cmd.Env = os.Environ()
	if m.googleKey != "" {
		cmd.Env = append(cmd.Env, "GOOGLE_API_KEY="+m.googleKey)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		return "", runError(ctx, err, "marker", pdfPath, stderr.String())
	}

	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	out, err := os.ReadFile(filepath.Join(outDir, stem, stem+".md"))
	if err != nil {
		return "", eris.Wrapf(ErrExitStatus, "ocr: marker produced no markdown for %s", pdfPath)
	}
	return string(out), nil
}
