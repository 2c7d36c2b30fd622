package models

// OCRRequest asks for a new OCR'd version of a document's latest version.
type OCRRequest struct {
	DocumentID string `json:"documentId"`
	Lang       string `json:"lang"`
}

// OCRResponse is returned once a run reaches a terminal state.
type OCRResponse struct {
	Status     string   `json:"status"`
	RunID      string   `json:"runId"`
	DocumentID string   `json:"documentId"`
	VersionID  string   `json:"versionId,omitempty"`
	PageIDs    []string `json:"pageIds,omitempty"`
	Error      string   `json:"error,omitempty"`
}
