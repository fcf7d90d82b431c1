package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

func (p *PdfToText) Name() string { return "pdftotext" }

// ExtractText runs pdftotext -layout on the given PDF and returns stdout.
// MaxPages maps to -l; pdftotext has no OCR, so the other options are ignored.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string, opts Options) (string, error) {
	args := []string{"-layout", "-enc", "UTF-8"}
	if opts.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(opts.MaxPages))
	}
	if opts.ForceOCR || opts.HighAccuracy {
		zap.L().Debug("ocr: pdftotext ignores OCR options", zap.String("path", pdfPath))
	}
	args = append(args, pdfPath, "-")

	cmd := exec.CommandContext(ctx, p.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		return "", runError(ctx, err, "pdftotext", pdfPath, stderr.String())
	}
	return stdout.String(), nil
}
