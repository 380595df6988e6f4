package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeExtraction       = "EXTRACTION_FAILED"
	ErrCodeEmbedding        = "EMBEDDING_FAILED"
	ErrCodeMetadata         = "METADATA_EXTRACTION_FAILED"
	ErrCodeRerank           = "RERANK_FAILED"
)

// Validation errors
var (
	ErrInvalidDocumentStatus = NewDomainError(ErrCodeValidation, "invalid document status")
	ErrInvalidDocumentType   = NewDomainError(ErrCodeValidation, "invalid document type")
	ErrEmptyFile             = NewDomainError(ErrCodeValidation, "file is empty")
	ErrFileTooLarge          = NewDomainError(ErrCodeValidation, "file exceeds maximum upload size")
	ErrUnsupportedMediaType  = NewDomainError(ErrCodeValidation, "unsupported media type")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrChunkNotFound    = NewDomainError(ErrCodeNotFound, "chunk not found")
	ErrUserNotFound     = NewDomainError(ErrCodeNotFound, "user not found")
	ErrAPIKeyNotFound   = NewDomainError(ErrCodeNotFound, "API key not found")
)

// Auth errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid API key")
	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "API key has been revoked")
)

// Operation errors
var (
	ErrIllegalStatusTransition = NewDomainError(ErrCodeInvalidOperation, "illegal document status transition")
	ErrStorageOperationFail    = NewDomainError(ErrCodeInternalError, "storage operation failed")
)

// Pipeline errors. Extraction and embedding failures are fatal to an ingestion
// run; metadata extraction and reranking failures are handled by fallback and
// never surface to callers.
var (
	ErrExtractionFailed       = NewDomainError(ErrCodeExtraction, "text extraction failed")
	ErrEmbeddingServiceFailed = NewDomainError(ErrCodeEmbedding, "embedding service call failed")
	ErrMetadataExtraction     = NewDomainError(ErrCodeMetadata, "metadata extraction failed")
	ErrRerankFailed           = NewDomainError(ErrCodeRerank, "rerank call failed")
)
