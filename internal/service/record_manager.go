package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/google/uuid"
)

// NormalizeContent collapses all whitespace runs to single spaces and trims,
// so formatting-only edits do not change a chunk's fingerprint.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// ComputeContentHash returns the SHA-256 hex digest of normalized content.
func ComputeContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// PendingChunk is a freshly produced chunk awaiting reconciliation.
type PendingChunk struct {
	Content     string
	ChunkIndex  int
	TokenCount  int
	ContentHash string
	Metadata    domain.ChunkMetadata
}

// BuildPendingChunks fingerprints the chunk sequence and collapses chunks with
// identical normalized content to the first occurrence, renumbering so indexes
// stay contiguous.
func BuildPendingChunks(chunks []TextChunk, meta domain.ChunkMetadata) []PendingChunk {
	pending := make([]PendingChunk, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		hash := ComputeContentHash(c.Content)
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		pending = append(pending, PendingChunk{
			Content:     c.Content,
			ChunkIndex:  len(pending),
			TokenCount:  c.TokenCount,
			ContentHash: hash,
			Metadata:    meta,
		})
	}
	return pending
}

// ChunksToEmbed returns the pending chunks whose hashes are not already
// stored. Only these need embedding-service calls.
func ChunksToEmbed(pending []PendingChunk, existing []domain.ChunkRef) []PendingChunk {
	stored := make(map[string]struct{}, len(existing))
	for _, ref := range existing {
		stored[ref.ContentHash] = struct{}{}
	}
	var out []PendingChunk
	for _, c := range pending {
		if _, ok := stored[c.ContentHash]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Reconciliation describes the atomic changes that bring a document's stored
// chunk set in line with a new chunk sequence.
type Reconciliation struct {
	DocumentID string
	UserID     string
	// ToInsert holds new chunks with freshly computed embeddings.
	ToInsert []domain.Chunk
	// ToDelete holds ids of stored chunks whose hashes vanished.
	ToDelete []string
	// KeptIndexes maps unchanged chunk ids to their new chunk_index.
	KeptIndexes map[string]int
	Skipped     int
}

// ReconcileChunks diffs the pending sequence against stored chunk refs.
// embeddings must be ordered to match the pending chunks that are not already
// stored (the output of ChunksToEmbed).
func ReconcileChunks(
	documentID, userID string,
	pending []PendingChunk,
	existing []domain.ChunkRef,
	embeddings [][]float32,
	now time.Time,
) (*Reconciliation, error) {
	existingByHash := make(map[string]domain.ChunkRef, len(existing))
	for _, ref := range existing {
		existingByHash[ref.ContentHash] = ref
	}

	rec := &Reconciliation{
		DocumentID:  documentID,
		UserID:      userID,
		KeptIndexes: make(map[string]int),
	}

	matched := make(map[string]struct{}, len(pending))
	embeddingIdx := 0

	for _, chunk := range pending {
		if ref, ok := existingByHash[chunk.ContentHash]; ok {
			rec.Skipped++
			matched[chunk.ContentHash] = struct{}{}
			rec.KeptIndexes[ref.ID] = chunk.ChunkIndex
			continue
		}
		if embeddingIdx >= len(embeddings) {
			return nil, fmt.Errorf("reconcile %s: %d embeddings for more new chunks", documentID, len(embeddings))
		}
		rec.ToInsert = append(rec.ToInsert, domain.Chunk{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			UserID:      userID,
			ChunkIndex:  chunk.ChunkIndex,
			Content:     chunk.Content,
			TokenCount:  chunk.TokenCount,
			ContentHash: chunk.ContentHash,
			Embedding:   embeddings[embeddingIdx],
			Metadata:    chunk.Metadata,
			CreatedAt:   now,
		})
		embeddingIdx++
	}

	if embeddingIdx != len(embeddings) {
		return nil, fmt.Errorf("reconcile %s: %d embeddings but %d new chunks", documentID, len(embeddings), embeddingIdx)
	}

	for hash, ref := range existingByHash {
		if _, ok := matched[hash]; !ok {
			rec.ToDelete = append(rec.ToDelete, ref.ID)
		}
	}

	return rec, nil
}

// FinalChunkCount is the stored chunk count after applying a reconciliation.
func (r *Reconciliation) FinalChunkCount() int {
	return r.Skipped + len(r.ToInsert)
}
