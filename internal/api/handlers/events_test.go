package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/stretchr/testify/assert"
)

// fakeStatusFeed hands out a prepared channel to the first subscriber.
type fakeStatusFeed struct {
	ch        chan *domain.Document
	userID    string
	cancelled bool
}

func (f *fakeStatusFeed) Subscribe(userID string) (<-chan *domain.Document, func()) {
	f.userID = userID
	return f.ch, func() { f.cancelled = true }
}

func TestEventsHandler_Stream(t *testing.T) {
	feed := &fakeStatusFeed{ch: make(chan *domain.Document, 2)}
	handler := NewEventsHandler(feed)

	// Buffer two updates and close; the handler drains them and returns.
	feed.ch <- &domain.Document{
		ID:        "doc-1",
		Filename:  "notes.txt",
		Status:    domain.DocumentStatusExtracting,
		UpdatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	feed.ch <- &domain.Document{
		ID:         "doc-1",
		Filename:   "notes.txt",
		Status:     domain.DocumentStatusCompleted,
		ChunkCount: 3,
		UpdatedAt:  time.Date(2025, 6, 1, 10, 0, 5, 0, time.UTC),
	}
	close(feed.ch)

	req := requestWithUserID(http.MethodGet, "/documents/events", nil)
	rec := httptest.NewRecorder()

	handler.Stream(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "user-456", feed.userID)
	assert.True(t, feed.cancelled, "subscription is released when the stream ends")

	body := rec.Body.String()
	assert.Contains(t, body, "event: document_status")
	assert.Contains(t, body, `"status":"extracting"`)
	assert.Contains(t, body, `"status":"completed"`)
	assert.Contains(t, body, `"chunk_count":3`)
	assert.Contains(t, body, `"updated_at":"2025-06-01T10:00:05Z"`)
}

func TestEventsHandler_Stream_Unauthenticated(t *testing.T) {
	handler := NewEventsHandler(&fakeStatusFeed{ch: make(chan *domain.Document)})

	req := httptest.NewRequest(http.MethodGet, "/documents/events", nil)
	rec := httptest.NewRecorder()

	handler.Stream(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
