package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/corpora-labs/corpusd/internal/api"
	"github.com/corpora-labs/corpusd/internal/api/middleware"
	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/corpora-labs/corpusd/internal/service"
)

const maxMatchCount = 50

type SearchService interface {
	Search(ctx context.Context, input service.SearchInput) ([]*service.ChunkSearchResult, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query          string         `json:"query"`
	MatchCount     int            `json:"match_count,omitempty"`
	Strategy       string         `json:"strategy,omitempty"`
	MetadataFilter map[string]any `json:"metadata_filter,omitempty"`
	IncludeContext bool           `json:"include_context,omitempty"`
}

type SearchResultResponse struct {
	ChunkID    string               `json:"chunk_id"`
	DocumentID string               `json:"document_id"`
	ChunkIndex int                  `json:"chunk_index"`
	Content    string               `json:"content"`
	Metadata   domain.ChunkMetadata `json:"metadata"`
	Score      float64              `json:"score"`
}

type SearchResponse struct {
	Results []*SearchResultResponse `json:"results"`
	Count   int                     `json:"count"`
	Context string                  `json:"context,omitempty"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.MatchCount < 0 || req.MatchCount > maxMatchCount {
		api.Error(w, http.StatusBadRequest, "match_count out of range")
		return
	}

	results, err := h.svc.Search(r.Context(), service.SearchInput{
		Query:          req.Query,
		UserID:         userID,
		MatchCount:     req.MatchCount,
		Strategy:       service.SearchStrategy(req.Strategy),
		MetadataFilter: req.MetadataFilter,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := SearchResponse{
		Results: make([]*SearchResultResponse, 0, len(results)),
		Count:   len(results),
	}
	for _, res := range results {
		resp.Results = append(resp.Results, &SearchResultResponse{
			ChunkID:    res.ChunkID,
			DocumentID: res.DocumentID,
			ChunkIndex: res.ChunkIndex,
			Content:    res.Content,
			Metadata:   res.Metadata,
			Score:      res.Score,
		})
	}
	if req.IncludeContext {
		resp.Context = service.FormatRetrievalContext(results)
	}

	api.Success(w, http.StatusOK, resp)
}
