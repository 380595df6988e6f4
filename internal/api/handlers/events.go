package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/corpora-labs/corpusd/internal/api"
	"github.com/corpora-labs/corpusd/internal/api/middleware"
	"github.com/corpora-labs/corpusd/internal/domain"
)

// keepAliveInterval bounds how long the stream stays silent so proxies do
// not drop the connection.
const keepAliveInterval = 30 * time.Second

// StatusFeed delivers per-user document updates. The cancel func releases the
// subscription.
type StatusFeed interface {
	Subscribe(userID string) (<-chan *domain.Document, func())
}

type EventsHandler struct {
	feed StatusFeed
}

func NewEventsHandler(feed StatusFeed) *EventsHandler {
	return &EventsHandler{feed: feed}
}

type documentEvent struct {
	DocumentID   string `json:"document_id"`
	Filename     string `json:"filename"`
	Status       string `json:"status"`
	ChunkCount   int    `json:"chunk_count"`
	ErrorMessage string `json:"error_message,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

// Stream serves document status updates over Server-Sent Events. The
// connection stays open until the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, cancel := h.feed.Subscribe(userID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case doc, open := <-updates:
			if !open {
				return
			}
			payload, err := json.Marshal(documentEvent{
				DocumentID:   doc.ID,
				Filename:     doc.Filename,
				Status:       string(doc.Status),
				ChunkCount:   doc.ChunkCount,
				ErrorMessage: doc.ErrorMessage,
				UpdatedAt:    doc.UpdatedAt.Format(time.RFC3339),
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: document_status\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
