// Package paths maps document versions and pages to storage keys.
//
// A key is a slash separated path relative to the media root. The same key
// addresses the local cache (media root + key) and the remote store
// (prefix + key), which is what lets the storage mirror stay generic.
package paths

import (
	"path"
	"path/filepath"
	"strings"
)

// Artifact file names produced by the OCR engine inside a page directory.
// Stitch and commit rely on these exact names.
const (
	PagePDF  = "page.pdf"
	PageTxt  = "page.txt"
	PageSVG  = "page.svg"
	PageJPG  = "page.jpg"
	docvers  = "docvers"
	ocrDir   = "ocr"
	pagesDir = "pages"
)

func split(id string) (string, string) {
	if len(id) < 4 {
		return id, id
	}
	return id[0:2], id[2:4]
}

// DocVerPath returns the key of a document version's file.
func DocVerPath(versionID, fileName string) string {
	a, b := split(versionID)
	return path.Join(docvers, a, b, versionID, fileName)
}

// PagePath returns the key of a page's artifact directory.
func PagePath(pageID string) string {
	a, b := split(pageID)
	return path.Join(ocrDir, pagesDir, a, b, pageID)
}

func PagePDFPath(pageID string) string { return path.Join(PagePath(pageID), PagePDF) }
func PageTxtPath(pageID string) string { return path.Join(PagePath(pageID), PageTxt) }
func PageSVGPath(pageID string) string { return path.Join(PagePath(pageID), PageSVG) }
func PageJPGPath(pageID string) string { return path.Join(PagePath(pageID), PageJPG) }

// SidecarDir is the key of the directory handed to the OCR engine for
// intermediate sidecar output.
func SidecarDir() string {
	return path.Join(ocrDir, pagesDir)
}

// Resolver turns keys into local paths and remote object names.
type Resolver struct {
	MediaRoot string
	Prefix    string
}

// Abs returns the absolute local path of key.
func (r Resolver) Abs(key string) string {
	return filepath.Join(r.MediaRoot, filepath.FromSlash(key))
}

// RemoteKey returns the object name of key in the remote store.
func (r Resolver) RemoteKey(key string) string {
	prefix := strings.Trim(r.Prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + strings.TrimPrefix(key, "/")
}

// Rel converts an absolute local path below the media root back to a key.
func (r Resolver) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.MediaRoot, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
