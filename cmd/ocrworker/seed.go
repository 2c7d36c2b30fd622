package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/ocrworker/internal/metastore"
	"github.com/Lllllllleong/ocrworker/internal/models"
	"github.com/Lllllllleong/ocrworker/internal/paths"
	"github.com/Lllllllleong/ocrworker/internal/pdf"
	"github.com/Lllllllleong/ocrworker/internal/services"
	"github.com/Lllllllleong/ocrworker/internal/storage"
)

// seedLocalDocument copies src below the media root as version 1 of a new
// document and returns the document id.
func seedLocalDocument(store metastore.Store, mirror storage.Mirror, src string) (string, error) {
	mem, ok := store.(*metastore.MemoryStore)
	if !ok {
		return "", errors.New("--file needs metastore.backend=memory")
	}

	mimeType, err := services.DetectMIME(src)
	if err != nil {
		return "", err
	}
	if !services.SupportedMIME(mimeType) {
		return "", fmt.Errorf("%w: %s is %s", services.ErrUnsupportedFormat, src, mimeType)
	}
	pageCount := 1
	if mimeType == "application/pdf" {
		if pageCount, err = pdf.PageCount(src); err != nil {
			return "", err
		}
	}

	now := time.Now().UTC()
	doc := models.Document{ID: uuid.NewString(), Title: filepath.Base(src), CreatedAt: now, UpdatedAt: now}
	version := models.DocumentVersion{
		ID:        uuid.NewString(),
		Number:    1,
		FileName:  filepath.Base(src),
		CreatedAt: now,
	}
	pages := make([]models.Page, pageCount)
	for i := range pages {
		pages[i] = models.Page{ID: uuid.NewString(), Number: i + 1}
	}

	dst := mirror.LocalPath(paths.DocVerPath(version.ID, version.FileName))
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("failed to copy %s into media root: %w", src, err)
	}
	mem.Seed(doc, version, pages)
	return doc.ID, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
