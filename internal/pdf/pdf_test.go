package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeTestPDF writes a minimal valid PDF with n blank pages.
func writeTestPDF(t *testing.T, path string, n int) {
	t.Helper()
	var objs []string
	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for i := 0; i < n; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMergeAndCount(t *testing.T) {
	dir := t.TempDir()
	var srcs []string
	for i := 1; i <= 3; i++ {
		p := filepath.Join(dir, fmt.Sprintf("p%d", i), "page.pdf")
		writeTestPDF(t, p, 1)
		srcs = append(srcs, p)
	}
	dst := filepath.Join(dir, "out", "doc.pdf")

	if err := (PDFCPUMerger{}).Merge(context.Background(), srcs, dst); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	n, err := PageCount(dst)
	if err != nil {
		t.Fatalf("PageCount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("PageCount() = %d, want 3", n)
	}
	if _, err := os.Stat(dst + ".part"); !os.IsNotExist(err) {
		t.Error("temporary merge file left behind")
	}
}

func TestMerge_NoInput(t *testing.T) {
	err := (PDFCPUMerger{}).Merge(context.Background(), nil, filepath.Join(t.TempDir(), "x.pdf"))
	if !errors.Is(err, ErrNoInput) {
		t.Errorf("Merge(nil) error = %v, want ErrNoInput", err)
	}
}

func TestExtractPage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	writeTestPDF(t, src, 4)
	dst := filepath.Join(dir, "pages", "page.pdf")

	if err := ExtractPage(src, dst, 2); err != nil {
		t.Fatalf("ExtractPage() error = %v", err)
	}
	if n, err := PageCount(dst); err != nil || n != 1 {
		t.Errorf("PageCount(extracted) = %d, %v, want 1", n, err)
	}
	if err := ExtractPage(src, dst, 0); err == nil {
		t.Error("ExtractPage(0) succeeded")
	}
}
