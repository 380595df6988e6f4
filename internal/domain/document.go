package domain

import (
	"fmt"
	"time"
)

// DocumentStatus represents the processing status of a document
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusExtracting DocumentStatus = "extracting"
	DocumentStatusChunking   DocumentStatus = "chunking"
	DocumentStatusEmbedding  DocumentStatus = "embedding"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// DocumentType classifies a document for filterable retrieval
type DocumentType string

const (
	DocumentTypeArticle  DocumentType = "article"
	DocumentTypeReport   DocumentType = "report"
	DocumentTypeTutorial DocumentType = "tutorial"
	DocumentTypeNotes    DocumentType = "notes"
	DocumentTypeEmail    DocumentType = "email"
	DocumentTypeCode     DocumentType = "code"
	DocumentTypeData     DocumentType = "data"
	DocumentTypeOther    DocumentType = "other"
)

// DocumentMetadata holds LLM-extracted descriptive attributes of a document.
type DocumentMetadata struct {
	Title        string       `json:"title"`
	DocumentType DocumentType `json:"document_type"`
	Topics       []string     `json:"topics"`
	Entities     []string     `json:"entities"`
	Language     string       `json:"language"`
	Summary      string       `json:"summary"`
}

// Document represents an uploaded document in the system
type Document struct {
	ID           string
	UserID       string
	Filename     string
	MimeType     string
	FileSize     int64
	StoragePath  string
	Status       DocumentStatus
	ChunkCount   int
	ErrorMessage string
	Metadata     *DocumentMetadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDocument creates a new Document in the pending state.
func NewDocument(id, userID, filename, mimeType, storagePath string, fileSize int64, now time.Time) *Document {
	return &Document{
		ID:          id,
		UserID:      userID,
		Filename:    filename,
		MimeType:    mimeType,
		FileSize:    fileSize,
		StoragePath: storagePath,
		Status:      DocumentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusCompleted || s == DocumentStatusFailed
}

// CanTransitionTo reports whether a status transition is legal. Progression is
// monotonic forward; failed is reachable from any non-terminal state.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == DocumentStatusFailed {
		return true
	}
	switch s {
	case DocumentStatusPending:
		return next == DocumentStatusExtracting
	case DocumentStatusExtracting:
		return next == DocumentStatusChunking
	case DocumentStatusChunking:
		return next == DocumentStatusEmbedding
	case DocumentStatusEmbedding:
		return next == DocumentStatusCompleted
	}
	return false
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.UserID == "" {
		return fmt.Errorf("document UserID is required")
	}
	if d.Filename == "" {
		return fmt.Errorf("document Filename is required")
	}
	if !isValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}
	return nil
}

// FallbackMetadata returns minimal valid metadata used when extraction fails.
func FallbackMetadata(filename string) *DocumentMetadata {
	title := trimExtension(filename)
	if title == "" {
		title = "Untitled"
	}
	return &DocumentMetadata{
		Title:        title,
		DocumentType: DocumentTypeOther,
		Topics:       []string{"general"},
		Entities:     []string{},
		Language:     "en",
		Summary:      fmt.Sprintf("Document: %s", filename),
	}
}

func trimExtension(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[:i]
		}
		if filename[i] == '/' {
			break
		}
	}
	return filename
}

func isValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusPending, DocumentStatusExtracting, DocumentStatusChunking,
		DocumentStatusEmbedding, DocumentStatusCompleted, DocumentStatusFailed:
		return true
	}
	return false
}

// IsValidDocumentType checks if a DocumentType is one of the closed set.
func IsValidDocumentType(t DocumentType) bool {
	switch t {
	case DocumentTypeArticle, DocumentTypeReport, DocumentTypeTutorial, DocumentTypeNotes,
		DocumentTypeEmail, DocumentTypeCode, DocumentTypeData, DocumentTypeOther:
		return true
	}
	return false
}
