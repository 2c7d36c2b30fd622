// Package pdf wraps the pdfcpu operations the pipeline needs: counting,
// extracting and merging pages.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoInput is returned when Merge is called without source files.
var ErrNoInput = errors.New("no input files")

// Merger concatenates single-page PDFs into one document in the given order.
type Merger interface {
	Merge(ctx context.Context, srcs []string, dst string) error
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// PDFCPUMerger merges with pdfcpu. The result is written next to dst and
// renamed into place once complete.
type PDFCPUMerger struct{}

func (PDFCPUMerger) Merge(ctx context.Context, srcs []string, dst string) error {
	if len(srcs) == 0 {
		return ErrNoInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}

	tmp := dst + ".part"
	if err := api.MergeCreateFile(srcs, tmp, false, relaxedConfig()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to merge %d pages: %w", len(srcs), err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move merged file into place: %w", err)
	}
	return nil
}

// PageCount returns the number of pages of the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count of %s: %w", path, err)
	}
	return n, nil
}

// ExtractPage writes page number (1-based) of src to dst as a one page PDF.
func ExtractPage(src, dst string, number int) error {
	if number < 1 {
		return fmt.Errorf("invalid page number %d", number)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := api.TrimFile(src, dst, []string{fmt.Sprint(number)}, relaxedConfig()); err != nil {
		return fmt.Errorf("failed to extract page %d of %s: %w", number, src, err)
	}
	return nil
}
