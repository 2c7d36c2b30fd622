package metastore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/ocrworker/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	documentsCollection = "documents"
	versionsCollection  = "document_versions"
	pagesCollection     = "pages"
)

// FirestoreStore keeps documents, versions and pages in three top-level
// collections keyed by id.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (s *FirestoreStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.client.Collection(documentsCollection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	doc.ID = snap.Ref.ID
	return &doc, nil
}

func (s *FirestoreStore) latestQuery(documentID string) firestore.Query {
	return s.client.Collection(versionsCollection).
		Where("documentId", "==", documentID).
		OrderBy("number", firestore.Desc).
		Limit(1)
}

func (s *FirestoreStore) GetLatestVersion(ctx context.Context, documentID string) (*models.DocumentVersion, error) {
	docs, err := s.latestQuery(documentID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query versions of %s: %w", documentID, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("versions of document %s: %w", documentID, ErrNotFound)
	}
	return decodeVersion(docs[0])
}

func (s *FirestoreStore) GetVersion(ctx context.Context, id string) (*models.DocumentVersion, error) {
	snap, err := s.client.Collection(versionsCollection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("version %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get version %s: %w", id, err)
	}
	return decodeVersion(snap)
}

func decodeVersion(snap *firestore.DocumentSnapshot) (*models.DocumentVersion, error) {
	var v models.DocumentVersion
	if err := snap.DataTo(&v); err != nil {
		return nil, fmt.Errorf("failed to decode version %s: %w", snap.Ref.ID, err)
	}
	v.ID = snap.Ref.ID
	return &v, nil
}

func (s *FirestoreStore) GetPages(ctx context.Context, versionID string) ([]models.Page, error) {
	iter := s.client.Collection(pagesCollection).
		Where("documentVersionId", "==", versionID).
		OrderBy("number", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var pages []models.Page
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list pages of %s: %w", versionID, err)
		}
		var p models.Page
		if err := snap.DataTo(&p); err != nil {
			return nil, fmt.Errorf("failed to decode page %s: %w", snap.Ref.ID, err)
		}
		p.ID = snap.Ref.ID
		pages = append(pages, p)
	}
	return pages, nil
}

func (s *FirestoreStore) CommitNewVersion(ctx context.Context, nv NewVersion) (*models.DocumentVersion, error) {
	if err := validate(nv); err != nil {
		return nil, err
	}
	versionRef := s.client.Collection(versionsCollection).Doc(nv.VersionID)
	docRef := s.client.Collection(documentsCollection).Doc(nv.DocumentID)

	var committed *models.DocumentVersion
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		committed = nil

		snap, err := tx.Get(versionRef)
		switch {
		case err == nil:
			existing, err := decodeVersion(snap)
			if err != nil {
				return err
			}
			if existing.DocumentID != nv.DocumentID {
				return fmt.Errorf("version %s belongs to document %s", nv.VersionID, existing.DocumentID)
			}
			for _, p := range nv.Pages {
				ref := s.client.Collection(pagesCollection).Doc(p.ID)
				if err := tx.Set(ref, map[string]interface{}{"text": p.Text}, firestore.MergeAll); err != nil {
					return err
				}
			}
			committed = existing
			return nil
		case !isNotFound(err):
			return fmt.Errorf("failed to read version %s: %w", nv.VersionID, err)
		}

		if _, err := tx.Get(docRef); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("document %s: %w", nv.DocumentID, ErrNotFound)
			}
			return fmt.Errorf("failed to read document %s: %w", nv.DocumentID, err)
		}
		latest, err := tx.Documents(s.latestQuery(nv.DocumentID)).GetAll()
		if err != nil {
			return fmt.Errorf("failed to query latest version: %w", err)
		}
		number := 1
		if len(latest) > 0 {
			prev, err := decodeVersion(latest[0])
			if err != nil {
				return err
			}
			number = prev.Number + 1
		}

		now := time.Now()
		version, pages := buildVersion(nv, number)
		version.CreatedAt = now
		if err := tx.Create(versionRef, version); err != nil {
			return err
		}
		for _, p := range pages {
			if err := tx.Create(s.client.Collection(pagesCollection).Doc(p.ID), p); err != nil {
				return err
			}
		}
		if err := tx.Update(docRef, []firestore.Update{{Path: "updatedAt", Value: now}}); err != nil {
			return err
		}
		committed = &version
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit version %s: %w", nv.VersionID, err)
	}
	return committed, nil
}

func (s *FirestoreStore) AttachText(ctx context.Context, pageID, text string) error {
	_, err := s.client.Collection(pagesCollection).Doc(pageID).Update(ctx, []firestore.Update{
		{Path: "text", Value: text},
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("page %s: %w", pageID, ErrNotFound)
		}
		return fmt.Errorf("failed to attach text to page %s: %w", pageID, err)
	}
	return nil
}

func (s *FirestoreStore) Close() error { return s.client.Close() }
