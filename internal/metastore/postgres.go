package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/ocrworker/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore keeps the metadata in PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to dsn and migrates the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore uses an existing connection, migrating the schema first.
func NewGormStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&models.Document{}, &models.DocumentVersion{}, &models.Page{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, notFound(err, "document "+id)
	}
	return &doc, nil
}

func (s *PostgresStore) GetLatestVersion(ctx context.Context, documentID string) (*models.DocumentVersion, error) {
	var v models.DocumentVersion
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("number desc").
		First(&v).Error
	if err != nil {
		return nil, notFound(err, "versions of document "+documentID)
	}
	return &v, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string) (*models.DocumentVersion, error) {
	var v models.DocumentVersion
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, notFound(err, "version "+id)
	}
	return &v, nil
}

func (s *PostgresStore) GetPages(ctx context.Context, versionID string) ([]models.Page, error) {
	var pages []models.Page
	err := s.db.WithContext(ctx).
		Where("document_version_id = ?", versionID).
		Order("number asc").
		Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pages of %s: %w", versionID, err)
	}
	return pages, nil
}

func (s *PostgresStore) CommitNewVersion(ctx context.Context, nv NewVersion) (*models.DocumentVersion, error) {
	if err := validate(nv); err != nil {
		return nil, err
	}

	var committed models.DocumentVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DocumentVersion
		err := tx.Where("id = ?", nv.VersionID).First(&existing).Error
		if err == nil {
			if existing.DocumentID != nv.DocumentID {
				return fmt.Errorf("version %s belongs to document %s", nv.VersionID, existing.DocumentID)
			}
			for _, p := range nv.Pages {
				if err := tx.Model(&models.Page{}).Where("id = ?", p.ID).Update("text", p.Text).Error; err != nil {
					return err
				}
			}
			committed = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// lock the document row so concurrent commits number versions in order
		var doc models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", nv.DocumentID).First(&doc).Error; err != nil {
			return notFound(err, "document "+nv.DocumentID)
		}

		var latest int
		if err := tx.Model(&models.DocumentVersion{}).
			Where("document_id = ?", nv.DocumentID).
			Select("COALESCE(MAX(number), 0)").
			Scan(&latest).Error; err != nil {
			return err
		}

		now := time.Now()
		version, pages := buildVersion(nv, latest+1)
		version.CreatedAt = now
		if err := tx.Create(&version).Error; err != nil {
			return err
		}
		if len(pages) > 0 {
			if err := tx.Create(&pages).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&doc).Update("updated_at", now).Error; err != nil {
			return err
		}
		committed = version
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit version %s: %w", nv.VersionID, err)
	}
	return &committed, nil
}

func (s *PostgresStore) AttachText(ctx context.Context, pageID, text string) error {
	res := s.db.WithContext(ctx).Model(&models.Page{}).Where("id = ?", pageID).Update("text", text)
	if res.Error != nil {
		return fmt.Errorf("failed to attach text to page %s: %w", pageID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
