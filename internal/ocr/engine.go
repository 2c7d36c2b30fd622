// Package ocr runs the external OCR toolchain on a single page.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Lllllllleong/ocrworker/internal/paths"
	"github.com/Lllllllleong/ocrworker/internal/pdf"
)

// ErrImagePage is returned for a page number past the first of an image
// source. Image sources are OCR'd whole, so they only have one page.
var ErrImagePage = errors.New("image sources have a single page")

// Request describes one page of a source document to recognize.
type Request struct {
	SourcePath   string
	MimeType     string
	OutputDir    string // receives page.pdf, page.txt, page.jpg, page.svg
	SidecarDir   string
	PageID       string
	PageNumber   int // 1-based
	Lang         string
	PreviewWidth int
}

// Engine produces the artifacts of one page inside req.OutputDir.
type Engine interface {
	OCRPage(ctx context.Context, req Request) error
}

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs commands with os/exec and reports their combined output on
// failure.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(out.String()))
	}
	return nil
}

type CommandEngineConfig struct {
	OCRMyPDF   string
	PdfToPPM   string
	PdfToCairo string
	Runner     Runner
	Logger     *slog.Logger
}

// CommandEngine drives ocrmypdf for recognition and poppler for previews.
type CommandEngine struct {
	ocrmypdf   string
	pdftoppm   string
	pdftocairo string
	run        Runner
	logger     *slog.Logger
}

func NewCommandEngine(cfg CommandEngineConfig) *CommandEngine {
	e := &CommandEngine{
		ocrmypdf:   orDefault(cfg.OCRMyPDF, "ocrmypdf"),
		pdftoppm:   orDefault(cfg.PdfToPPM, "pdftoppm"),
		pdftocairo: orDefault(cfg.PdfToCairo, "pdftocairo"),
		run:        cfg.Runner,
		logger:     cfg.Logger,
	}
	if e.run == nil {
		e.run = ExecRunner
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (e *CommandEngine) OCRPage(ctx context.Context, req Request) error {
	logCtx := e.logger.With("pageId", req.PageID, "pageNumber", req.PageNumber, "lang", req.Lang)

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if req.SidecarDir != "" {
		if err := os.MkdirAll(req.SidecarDir, 0o755); err != nil {
			return fmt.Errorf("failed to create sidecar dir: %w", err)
		}
	}

	input := req.SourcePath
	var imageInput bool
	if req.MimeType == "application/pdf" {
		single := filepath.Join(req.OutputDir, "source.pdf")
		if err := pdf.ExtractPage(req.SourcePath, single, req.PageNumber); err != nil {
			return err
		}
		defer os.Remove(single)
		input = single
	} else {
		if req.PageNumber != 1 {
			return fmt.Errorf("%w: page %d of %s", ErrImagePage, req.PageNumber, req.MimeType)
		}
		imageInput = true
	}

	pagePDF := filepath.Join(req.OutputDir, paths.PagePDF)
	sidecar := filepath.Join(req.OutputDir, paths.PageTxt)

	args := []string{"--force-ocr", "--sidecar", sidecar, "--output-type", "pdf"}
	if req.Lang != "" {
		args = append(args, "-l", req.Lang)
	}
	if imageInput {
		args = append(args, "--image-dpi", "300")
	}
	args = append(args, input, pagePDF)

	logCtx.Debug("running ocr", "input", input)
	if err := e.run(ctx, e.ocrmypdf, args...); err != nil {
		return fmt.Errorf("failed to ocr page %d: %w", req.PageNumber, err)
	}

	if err := e.renderPreviews(ctx, pagePDF, req); err != nil {
		return err
	}
	logCtx.Info("page ocr complete", "output", req.OutputDir)
	return nil
}

func (e *CommandEngine) renderPreviews(ctx context.Context, pagePDF string, req Request) error {
	width := req.PreviewWidth
	if width <= 0 {
		width = 300
	}
	jpgBase := filepath.Join(req.OutputDir, strings.TrimSuffix(paths.PageJPG, filepath.Ext(paths.PageJPG)))
	if err := e.run(ctx, e.pdftoppm,
		"-jpeg", "-singlefile", "-scale-to", strconv.Itoa(width), pagePDF, jpgBase); err != nil {
		return fmt.Errorf("failed to render preview of page %d: %w", req.PageNumber, err)
	}
	if err := e.run(ctx, e.pdftocairo,
		"-svg", pagePDF, filepath.Join(req.OutputDir, paths.PageSVG)); err != nil {
		return fmt.Errorf("failed to render svg of page %d: %w", req.PageNumber, err)
	}
	return nil
}
