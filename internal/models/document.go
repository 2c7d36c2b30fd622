package models

import "time"

// Document is the stable record a user uploads into. Its history is the
// ordered list of DocumentVersions pointing back at it.
type Document struct {
	ID        string    `firestore:"id" gorm:"primaryKey" json:"id"`
	Title     string    `firestore:"title,omitempty" json:"title,omitempty"`
	CreatedAt time.Time `firestore:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt,omitempty" json:"updatedAt"`
}

// DocumentVersion is immutable once created. Re-running OCR always produces
// a new version with a higher Number.
type DocumentVersion struct {
	ID               string    `firestore:"id" gorm:"primaryKey" json:"id"`
	DocumentID       string    `firestore:"documentId" gorm:"index;not null" json:"documentId"`
	Number           int       `firestore:"number" gorm:"not null" json:"number"`
	FileName         string    `firestore:"fileName" json:"fileName"`
	Lang             string    `firestore:"lang,omitempty" json:"lang,omitempty"`
	ShortDescription string    `firestore:"shortDescription,omitempty" json:"shortDescription,omitempty"`
	PageIDs          []string  `firestore:"pageIds" gorm:"serializer:json" json:"pageIds"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty" json:"createdAt"`
}

// Page belongs to exactly one version. Its PDF, sidecar and preview live in
// storage under paths.PagePath(ID).
type Page struct {
	ID                string `firestore:"id" gorm:"primaryKey" json:"id"`
	DocumentVersionID string `firestore:"documentVersionId" gorm:"index;not null" json:"documentVersionId"`
	Number            int    `firestore:"number" gorm:"not null" json:"number"`
	Lang              string `firestore:"lang,omitempty" json:"lang,omitempty"`
	Text              string `firestore:"text" json:"text"`
}
