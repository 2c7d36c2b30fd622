package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Lllllllleong/ocrworker/internal/metastore"
	"github.com/Lllllllleong/ocrworker/internal/paths"
	"github.com/Lllllllleong/ocrworker/internal/services"
	"github.com/Lllllllleong/ocrworker/internal/storage"
)

func TestSeedLocalDocument(t *testing.T) {
	src := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(src, []byte("\x89PNG\r\n\x1a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := metastore.NewMemoryStore()
	mirror := storage.NewMirror(nil, storage.MirrorConfig{Resolver: paths.Resolver{MediaRoot: t.TempDir()}})

	docID, err := seedLocalDocument(store, mirror, src)
	if err != nil {
		t.Fatalf("seedLocalDocument() error = %v", err)
	}
	ctx := context.Background()
	v, err := store.GetLatestVersion(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if v.Number != 1 || v.FileName != "scan.png" {
		t.Errorf("version = #%d %s, want #1 scan.png", v.Number, v.FileName)
	}
	pages, _ := store.GetPages(ctx, v.ID)
	if len(pages) != 1 {
		t.Errorf("pages = %d, want 1 for an image", len(pages))
	}
	if _, err := os.Stat(mirror.LocalPath(paths.DocVerPath(v.ID, v.FileName))); err != nil {
		t.Errorf("source not copied: %v", err)
	}
}

func TestSeedLocalDocument_Rejects(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	mirror := storage.NewMirror(nil, storage.MirrorConfig{Resolver: paths.Resolver{MediaRoot: dir}})

	if _, err := seedLocalDocument(metastore.NewMemoryStore(), mirror, txt); !errors.Is(err, services.ErrUnsupportedFormat) {
		t.Errorf("seedLocalDocument(txt) error = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := seedLocalDocument(nil, mirror, txt); err == nil {
		t.Error("seedLocalDocument() without memory store succeeded")
	}
}
