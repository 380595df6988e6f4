package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/corpora-labs/corpusd/internal/pagination"
	"github.com/google/uuid"
)

// ObjectStore reads and writes document payloads by opaque path.
type ObjectStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// DocumentPageResult is a page of documents with cursor info.
type DocumentPageResult struct {
	Items      []*domain.Document
	NextCursor string
	HasMore    bool
}

// DocumentRepositoryInterface is the persistence surface for document CRUD.
type DocumentRepositoryInterface interface {
	// UpsertForUpload inserts the document, or on a (user_id, filename)
	// conflict resets the existing row to pending and returns it. Concurrent
	// uploads of the same filename resolve to one row either way.
	UpsertForUpload(ctx context.Context, doc *domain.Document) (*domain.Document, error)
	GetByIDForUser(ctx context.Context, id, userID string) (*domain.Document, error)
	ListByUserWithCursor(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error)
	Delete(ctx context.Context, id, userID string) error
}

// IngestScheduler nudges the background worker so a fresh upload starts
// processing without waiting for the next poll tick.
type IngestScheduler interface {
	Wake()
}

// UploadInput carries one file upload across the transport boundary.
type UploadInput struct {
	UserID           string
	Filename         string
	DeclaredMimeType string
	Content          []byte
}

// DocumentService handles the upload boundary and document CRUD. Ingestion
// itself runs in the background; Upload returns the document in pending state.
type DocumentService struct {
	repo      DocumentRepositoryInterface
	store     ObjectStore
	scheduler IngestScheduler
	maxBytes  int64
}

func NewDocumentService(repo DocumentRepositoryInterface, store ObjectStore, scheduler IngestScheduler, maxBytes int64) *DocumentService {
	return &DocumentService{
		repo:      repo,
		store:     store,
		scheduler: scheduler,
		maxBytes:  maxBytes,
	}
}

// Upload stores the payload and creates or resets the document row. Re-upload
// of an identical filename by the same user reuses the existing row so that
// reconciliation, not duplication, handles the new content.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*domain.Document, error) {
	if len(in.Content) == 0 {
		return nil, domain.ErrEmptyFile
	}
	if s.maxBytes > 0 && int64(len(in.Content)) > s.maxBytes {
		return nil, domain.ErrFileTooLarge
	}
	if in.Filename == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "filename is required")
	}

	mimeType := ResolveMediaType(in.DeclaredMimeType, in.Filename)

	now := time.Now().UTC()
	id := uuid.NewString()
	storagePath := fmt.Sprintf("users/%s/%s/%s", in.UserID, id, in.Filename)

	doc := domain.NewDocument(id, in.UserID, in.Filename, mimeType, storagePath, int64(len(in.Content)), now)
	doc.FileSize = int64(len(in.Content))

	stored, err := s.repo.UpsertForUpload(ctx, doc)
	if err != nil {
		return nil, err
	}

	if err := s.store.Upload(ctx, stored.StoragePath, mimeType, in.Content); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to store payload", err)
	}

	if s.scheduler != nil {
		s.scheduler.Wake()
	}
	return stored, nil
}

// Get returns one document owned by the user.
func (s *DocumentService) Get(ctx context.Context, id, userID string) (*domain.Document, error) {
	return s.repo.GetByIDForUser(ctx, id, userID)
}

// List returns the user's documents, newest first, keyset-paginated.
func (s *DocumentService) List(ctx context.Context, userID, cursor string, limit int) (*DocumentPageResult, error) {
	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor")
	}
	return s.repo.ListByUserWithCursor(ctx, userID, decoded, limit)
}

// Delete removes the document row (cascading to its chunks) after a
// best-effort delete of the stored payload.
func (s *DocumentService) Delete(ctx context.Context, id, userID string) error {
	doc, err := s.repo.GetByIDForUser(ctx, id, userID)
	if err != nil {
		return err
	}

	if doc.StoragePath != "" {
		if err := s.store.Delete(ctx, doc.StoragePath); err != nil {
			log.Printf("best-effort storage delete failed for %s: %v", doc.StoragePath, err)
		}
	}

	return s.repo.Delete(ctx, id, userID)
}
