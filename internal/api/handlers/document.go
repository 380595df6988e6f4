package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/corpora-labs/corpusd/internal/api"
	"github.com/corpora-labs/corpusd/internal/api/middleware"
	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/corpora-labs/corpusd/internal/service"
	"github.com/go-chi/chi/v5"
)

// multipartMemoryLimit caps how much of the upload is buffered in memory
// before spilling to disk.
const multipartMemoryLimit = 10 << 20

type DocumentService interface {
	Upload(ctx context.Context, in service.UploadInput) (*domain.Document, error)
	Get(ctx context.Context, id, userID string) (*domain.Document, error)
	List(ctx context.Context, userID, cursor string, limit int) (*service.DocumentPageResult, error)
	Delete(ctx context.Context, id, userID string) error
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type DocumentResponse struct {
	ID           string                   `json:"id"`
	Filename     string                   `json:"filename"`
	MimeType     string                   `json:"mime_type"`
	FileSize     int64                    `json:"file_size"`
	Status       string                   `json:"status"`
	ChunkCount   int                      `json:"chunk_count"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	Metadata     *domain.DocumentMetadata `json:"metadata,omitempty"`
	CreatedAt    string                   `json:"created_at"`
	UpdatedAt    string                   `json:"updated_at"`
}

type DocumentListResponse struct {
	Documents  []*DocumentResponse `json:"documents"`
	NextCursor string              `json:"next_cursor,omitempty"`
	HasMore    bool                `json:"has_more"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:           d.ID,
		Filename:     d.Filename,
		MimeType:     d.MimeType,
		FileSize:     d.FileSize,
		Status:       string(d.Status),
		ChunkCount:   d.ChunkCount,
		ErrorMessage: d.ErrorMessage,
		Metadata:     d.Metadata,
		CreatedAt:    d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    d.UpdatedAt.Format(time.RFC3339),
	}
}

// Upload accepts a multipart form with a single "file" part. The document is
// stored and queued; processing happens asynchronously and progress is
// visible via GET /documents/{id} or the event stream.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read file")
		return
	}

	doc, err := h.svc.Upload(r.Context(), service.UploadInput{
		UserID:           userID,
		Filename:         header.Filename,
		DeclaredMimeType: header.Header.Get("Content-Type"),
		Content:          content,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, documentToResponse(doc))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	doc, err := h.svc.Get(r.Context(), id, userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			api.Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	page, err := h.svc.List(r.Context(), userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*DocumentResponse, 0, len(page.Items))
	for _, doc := range page.Items {
		items = append(items, documentToResponse(doc))
	}

	api.Success(w, http.StatusOK, DocumentListResponse{
		Documents:  items,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), id, userID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}
