package paths

import (
	"path/filepath"
	"testing"
)

func TestDocVerPath(t *testing.T) {
	got := DocVerPath("bdf862be-0000-4000-8000-000000000001", "invoice.pdf")
	want := "docvers/bd/f8/bdf862be-0000-4000-8000-000000000001/invoice.pdf"
	if got != want {
		t.Errorf("DocVerPath() = %s, want %s", got, want)
	}
}

func TestPageArtifactPaths(t *testing.T) {
	id := "a1b2c3d4"
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"dir", PagePath(id), "ocr/pages/a1/b2/a1b2c3d4"},
		{"pdf", PagePDFPath(id), "ocr/pages/a1/b2/a1b2c3d4/page.pdf"},
		{"txt", PageTxtPath(id), "ocr/pages/a1/b2/a1b2c3d4/page.txt"},
		{"svg", PageSVGPath(id), "ocr/pages/a1/b2/a1b2c3d4/page.svg"},
		{"jpg", PageJPGPath(id), "ocr/pages/a1/b2/a1b2c3d4/page.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestResolver_Symmetry(t *testing.T) {
	root := t.TempDir()
	key := PagePDFPath("a1b2c3d4")

	t.Run("with prefix", func(t *testing.T) {
		r := Resolver{MediaRoot: root, Prefix: "/tenant-a/"}
		if got := r.RemoteKey(key); got != "tenant-a/"+key {
			t.Errorf("RemoteKey() = %s", got)
		}
		if got := r.Abs(key); got != filepath.Join(root, "ocr", "pages", "a1", "b2", "a1b2c3d4", "page.pdf") {
			t.Errorf("Abs() = %s", got)
		}
		rel, err := r.Rel(r.Abs(key))
		if err != nil {
			t.Fatalf("Rel() error = %v", err)
		}
		if rel != key {
			t.Errorf("Rel(Abs(key)) = %s, want %s", rel, key)
		}
	})

	t.Run("without prefix", func(t *testing.T) {
		r := Resolver{MediaRoot: root}
		if got := r.RemoteKey(key); got != key {
			t.Errorf("RemoteKey() = %s, want %s", got, key)
		}
	})
}
