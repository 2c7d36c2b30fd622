// Package metastore persists documents, their versions and pages.
package metastore

import (
	"context"
	"errors"

	"github.com/Lllllllleong/ocrworker/internal/models"
)

// ErrNotFound is returned when a document, version or page does not exist.
var ErrNotFound = errors.New("record not found")

type NewPage struct {
	ID     string
	Number int
	Text   string
}

// NewVersion describes the version a pipeline run commits. Pages are in
// page order.
type NewVersion struct {
	DocumentID      string
	SourceVersionID string
	VersionID       string
	FileName        string
	Lang            string
	Pages           []NewPage
}

// Store is the metadata store. CommitNewVersion is atomic: either the
// version and all its pages with their text exist afterwards, or nothing
// changed. Committing a version id that already exists only re-attaches the
// page text, so a retried commit is harmless.
type Store interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetLatestVersion(ctx context.Context, documentID string) (*models.DocumentVersion, error)
	GetVersion(ctx context.Context, id string) (*models.DocumentVersion, error)
	// GetPages returns the pages of a version ordered by number.
	GetPages(ctx context.Context, versionID string) ([]models.Page, error)
	CommitNewVersion(ctx context.Context, v NewVersion) (*models.DocumentVersion, error)
	AttachText(ctx context.Context, pageID, text string) error
	Close() error
}

func buildVersion(v NewVersion, number int) (models.DocumentVersion, []models.Page) {
	version := models.DocumentVersion{
		ID:         v.VersionID,
		DocumentID: v.DocumentID,
		Number:     number,
		FileName:   v.FileName,
		Lang:       v.Lang,
		PageIDs:    make([]string, 0, len(v.Pages)),
	}
	pages := make([]models.Page, 0, len(v.Pages))
	for _, p := range v.Pages {
		version.PageIDs = append(version.PageIDs, p.ID)
		pages = append(pages, models.Page{
			ID:                p.ID,
			DocumentVersionID: v.VersionID,
			Number:            p.Number,
			Lang:              v.Lang,
			Text:              p.Text,
		})
	}
	return version, pages
}

func validate(v NewVersion) error {
	switch {
	case v.DocumentID == "":
		return errors.New("document id is required")
	case v.VersionID == "":
		return errors.New("version id is required")
	}
	return nil
}
