package domain

import "time"

// ChunkMetadata is the subset of document metadata propagated to each chunk
// for filterable retrieval.
type ChunkMetadata struct {
	Title        string       `json:"title"`
	DocumentType DocumentType `json:"document_type"`
	Topics       []string     `json:"topics"`
	Language     string       `json:"language"`
}

// Chunk represents an indexed segment of a document. ChunkIndex values form a
// contiguous 0-based sequence per document; ContentHash is unique within one
// document.
type Chunk struct {
	ID          string
	DocumentID  string
	UserID      string
	ChunkIndex  int
	Content     string
	TokenCount  int
	ContentHash string
	Embedding   []float32
	Metadata    ChunkMetadata
	CreatedAt   time.Time
}

// ChunkRef is the stored identity of a chunk used during reconciliation.
type ChunkRef struct {
	ID          string
	ChunkIndex  int
	ContentHash string
}
