package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/corpora-labs/corpusd/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	// rrfK is the Reciprocal Rank Fusion constant. Fixed by contract; a
	// candidate ranked r in a list contributes 1/(rrfK+r) with 1-based r.
	rrfK = 60

	defaultMatchCount = 5
	// hybridFetchMultiplier over-fetches per leg so fusion and reranking
	// have candidates beyond the requested count.
	hybridFetchMultiplier = 2
)

// SearchStrategy selects which retrieval legs run.
type SearchStrategy string

const (
	StrategyVector SearchStrategy = "vector"
	StrategyHybrid SearchStrategy = "hybrid"
	StrategyAuto   SearchStrategy = "auto"
)

func normalizeStrategy(s SearchStrategy) SearchStrategy {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case string(StrategyVector):
		return StrategyVector
	case string(StrategyHybrid):
		return StrategyHybrid
	default:
		return StrategyAuto
	}
}

// SearchScope restricts both retrieval legs identically: owner, similarity
// threshold (vector leg only), and metadata containment filter.
type SearchScope struct {
	UserID         string
	Threshold      float64
	MetadataFilter map[string]any
}

// SearchInput is a retrieval request.
type SearchInput struct {
	Query          string
	UserID         string
	MatchCount     int
	Strategy       SearchStrategy
	MetadataFilter map[string]any
}

// ChunkSearchResult is one ranked chunk returned from retrieval.
type ChunkSearchResult struct {
	ChunkID    string               `json:"chunk_id"`
	DocumentID string               `json:"document_id"`
	ChunkIndex int                  `json:"chunk_index"`
	Content    string               `json:"content"`
	Metadata   domain.ChunkMetadata `json:"metadata"`
	Score      float64              `json:"score"`
}

// RetrievalChunkRepository issues the two index queries. Both legs apply the
// same scope before ranking, so filtered-out chunks never enter either list.
type RetrievalChunkRepository interface {
	SearchChunksSemantic(ctx context.Context, embedding []float32, scope SearchScope, limit int) ([]*ChunkSearchResult, error)
	SearchChunksFullText(ctx context.Context, query string, scope SearchScope, limit int) ([]*ChunkSearchResult, error)
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// RerankScore is one (index, relevance) pair aligned to candidate order.
type RerankScore struct {
	Index int
	Score float64
}

// RerankClient scores (query, candidate) pairs with a cross-encoder.
type RerankClient interface {
	Rerank(ctx context.Context, query string, texts []string) ([]RerankScore, error)
}

// RetrievalConfig holds retrieval toggles resolved at process start.
type RetrievalConfig struct {
	HybridEnabled  bool
	MatchThreshold float64
}

// RetrievalService answers queries by combining vector similarity and
// full-text rankings via Reciprocal Rank Fusion, with optional cross-encoder
// reranking.
type RetrievalService struct {
	repo     RetrievalChunkRepository
	embedder QueryEmbedder
	reranker RerankClient // nil disables reranking
	cfg      RetrievalConfig
}

func NewRetrievalService(repo RetrievalChunkRepository, embedder QueryEmbedder, reranker RerankClient, cfg RetrievalConfig) *RetrievalService {
	return &RetrievalService{
		repo:     repo,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
	}
}

// Search runs the configured retrieval strategy. One failed leg degrades to
// the surviving leg's ranking; if both legs fail the result is empty with the
// causes logged. Rerank failures silently preserve the fused order.
func (s *RetrievalService) Search(ctx context.Context, input SearchInput) ([]*ChunkSearchResult, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return []*ChunkSearchResult{}, nil
	}

	count := input.MatchCount
	if count <= 0 {
		count = defaultMatchCount
	}

	strategy := normalizeStrategy(input.Strategy)
	useHybrid := strategy == StrategyHybrid || (strategy == StrategyAuto && s.cfg.HybridEnabled)

	scope := SearchScope{
		UserID:         input.UserID,
		Threshold:      s.cfg.MatchThreshold,
		MetadataFilter: input.MetadataFilter,
	}

	var results []*ChunkSearchResult
	if useHybrid {
		results = s.searchHybrid(ctx, query, scope, count)
	} else {
		var err error
		results, err = s.searchVector(ctx, query, scope, count)
		if err != nil {
			log.Printf("vector search failed for user %s: %v", input.UserID, err)
			return []*ChunkSearchResult{}, nil
		}
	}

	results = s.rerank(ctx, query, results)
	if len(results) > count {
		results = results[:count]
	}
	return results, nil
}

func (s *RetrievalService) searchVector(ctx context.Context, query string, scope SearchScope, limit int) ([]*ChunkSearchResult, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.repo.SearchChunksSemantic(ctx, embedding, scope, limit)
}

// searchHybrid runs both legs concurrently. The legs are independent
// read-only queries, and a failure in one must not cancel the other, so
// errors are collected rather than propagated through the group.
func (s *RetrievalService) searchHybrid(ctx context.Context, query string, scope SearchScope, count int) []*ChunkSearchResult {
	fetchCount := count * hybridFetchMultiplier

	var (
		vectorResults, textResults []*ChunkSearchResult
		vectorErr, textErr         error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectorResults, vectorErr = s.searchVector(gctx, query, scope, fetchCount)
		return nil
	})
	g.Go(func() error {
		textResults, textErr = s.repo.SearchChunksFullText(gctx, query, scope, fetchCount)
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil {
		log.Printf("vector leg failed, degrading to full-text: %v", vectorErr)
	}
	if textErr != nil {
		log.Printf("full-text leg failed, degrading to vector: %v", textErr)
	}
	if vectorErr != nil && textErr != nil {
		return []*ChunkSearchResult{}
	}

	return fuseRRF(vectorResults, textResults)
}

// fuseRRF merges the two ranked lists with Reciprocal Rank Fusion:
// score(c) = sum over lists containing c of 1/(rrfK + rank), rank 1-based.
// Ties are broken by the original vector-rank order; candidates absent from
// the vector list sort after those present at equal score.
func fuseRRF(vectorList, textList []*ChunkSearchResult) []*ChunkSearchResult {
	type candidate struct {
		result     *ChunkSearchResult
		score      float64
		vectorRank int
	}

	candidates := make(map[string]*candidate)
	order := make([]string, 0, len(vectorList)+len(textList))

	noVectorRank := len(vectorList) + len(textList) + 1

	add := func(list []*ChunkSearchResult, isVector bool) {
		for i, r := range list {
			if r == nil {
				continue
			}
			rank := i + 1
			cand, ok := candidates[r.ChunkID]
			if !ok {
				cloned := *r
				cand = &candidate{result: &cloned, vectorRank: noVectorRank}
				candidates[r.ChunkID] = cand
				order = append(order, r.ChunkID)
			}
			cand.score += 1.0 / float64(rrfK+rank)
			if isVector {
				cand.vectorRank = rank
			}
		}
	}

	add(vectorList, true)
	add(textList, false)

	fused := make([]*ChunkSearchResult, 0, len(order))
	for _, id := range order {
		cand := candidates[id]
		cand.result.Score = cand.score
		fused = append(fused, cand.result)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		a, b := candidates[fused[i].ChunkID], candidates[fused[j].ChunkID]
		if a.score != b.score {
			return a.score > b.score
		}
		return a.vectorRank < b.vectorRank
	})
	return fused
}

// rerank reorders candidates by cross-encoder relevance. Disabled or failing
// reranking returns the input unchanged.
func (s *RetrievalService) rerank(ctx context.Context, query string, results []*ChunkSearchResult) []*ChunkSearchResult {
	if s.reranker == nil || len(results) == 0 {
		return results
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Content
	}

	scores, err := s.reranker.Rerank(ctx, query, texts)
	if err != nil {
		log.Printf("rerank failed, returning fused order: %v", err)
		return results
	}

	reranked := make([]*ChunkSearchResult, len(results))
	copy(reranked, results)
	byIndex := make(map[int]float64, len(scores))
	for _, sc := range scores {
		if sc.Index >= 0 && sc.Index < len(results) {
			byIndex[sc.Index] = sc.Score
			results[sc.Index].Score = sc.Score
		}
	}
	indexOf := make(map[string]int, len(results))
	for i, r := range results {
		indexOf[r.ChunkID] = i
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return byIndex[indexOf[reranked[i].ChunkID]] > byIndex[indexOf[reranked[j].ChunkID]]
	})
	return reranked
}

// FormatRetrievalContext renders ranked chunks into a context block for a
// downstream language model.
func FormatRetrievalContext(results []*ChunkSearchResult) string {
	if len(results) == 0 {
		return ""
	}

	parts := make([]string, 0, len(results))
	for i, r := range results {
		label := fmt.Sprintf("Source %d", i+1)
		if r.Metadata.Title != "" {
			label += " - " + r.Metadata.Title
		}
		if r.Metadata.DocumentType != "" {
			label += fmt.Sprintf(" [%s]", r.Metadata.DocumentType)
		}
		parts = append(parts, fmt.Sprintf("[%s (relevance: %.2f)]\n%s", label, r.Score, r.Content))
	}
	return strings.Join(parts, "\n\n---\n\n")
}
