package metastore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Lllllllleong/ocrworker/internal/models"
)

// MemoryStore keeps everything in process memory. It backs local runs
// without a database and the tests.
type MemoryStore struct {
	mu        sync.Mutex
	documents map[string]models.Document
	versions  map[string]models.DocumentVersion
	pages     map[string]models.Page
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]models.Document),
		versions:  make(map[string]models.DocumentVersion),
		pages:     make(map[string]models.Page),
	}
}

// Seed stores a document with one version and its pages as-is.
func (s *MemoryStore) Seed(doc models.Document, version models.DocumentVersion, pages []models.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
	version.DocumentID = doc.ID
	version.PageIDs = nil
	for _, p := range pages {
		p.DocumentVersionID = version.ID
		s.pages[p.ID] = p
		version.PageIDs = append(version.PageIDs, p.ID)
	}
	s.versions[version.ID] = version
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &doc, nil
}

func (s *MemoryStore) latest(documentID string) (models.DocumentVersion, bool) {
	var best models.DocumentVersion
	found := false
	for _, v := range s.versions {
		if v.DocumentID == documentID && (!found || v.Number > best.Number) {
			best, found = v, true
		}
	}
	return best, found
}

func (s *MemoryStore) GetLatestVersion(_ context.Context, documentID string) (*models.DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.latest(documentID)
	if !ok {
		return nil, fmt.Errorf("versions of document %s: %w", documentID, ErrNotFound)
	}
	v.PageIDs = slices.Clone(v.PageIDs)
	return &v, nil
}

func (s *MemoryStore) GetVersion(_ context.Context, id string) (*models.DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, fmt.Errorf("version %s: %w", id, ErrNotFound)
	}
	v.PageIDs = slices.Clone(v.PageIDs)
	return &v, nil
}

func (s *MemoryStore) GetPages(_ context.Context, versionID string) ([]models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Page
	for _, p := range s.pages {
		if p.DocumentVersionID == versionID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b models.Page) int { return a.Number - b.Number })
	return out, nil
}

func (s *MemoryStore) CommitNewVersion(_ context.Context, nv NewVersion) (*models.DocumentVersion, error) {
	if err := validate(nv); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.versions[nv.VersionID]; ok {
		if existing.DocumentID != nv.DocumentID {
			return nil, fmt.Errorf("version %s belongs to document %s", nv.VersionID, existing.DocumentID)
		}
		for _, p := range nv.Pages {
			if page, ok := s.pages[p.ID]; ok {
				page.Text = p.Text
				s.pages[p.ID] = page
			}
		}
		existing.PageIDs = slices.Clone(existing.PageIDs)
		return &existing, nil
	}

	doc, ok := s.documents[nv.DocumentID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", nv.DocumentID, ErrNotFound)
	}
	number := 1
	if latest, ok := s.latest(nv.DocumentID); ok {
		number = latest.Number + 1
	}
	for _, p := range nv.Pages {
		if _, ok := s.pages[p.ID]; ok {
			return nil, fmt.Errorf("page %s already exists", p.ID)
		}
	}

	now := time.Now()
	version, pages := buildVersion(nv, number)
	version.CreatedAt = now
	s.versions[version.ID] = version
	for _, p := range pages {
		s.pages[p.ID] = p
	}
	doc.UpdatedAt = now
	s.documents[doc.ID] = doc

	version.PageIDs = slices.Clone(version.PageIDs)
	return &version, nil
}

func (s *MemoryStore) AttachText(_ context.Context, pageID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok {
		return fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}
	page.Text = text
	s.pages[pageID] = page
	return nil
}

func (s *MemoryStore) Close() error { return nil }
