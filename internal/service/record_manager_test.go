package service

import (
	"testing"
	"time"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeContent("  hello   world  "))
	assert.Equal(t, "hello world", NormalizeContent("hello\n\tworld"))
	assert.Equal(t, "", NormalizeContent("   \n  "))
}

func TestComputeContentHash_FormattingInvariant(t *testing.T) {
	a := ComputeContentHash("hello   world")
	b := ComputeContentHash("hello\nworld")
	c := ComputeContentHash("hello there world")

	assert.Equal(t, a, b, "whitespace-only edits keep the same hash")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func chunkMeta() domain.ChunkMetadata {
	return domain.ChunkMetadata{
		Title:        "Doc",
		DocumentType: domain.DocumentTypeArticle,
		Topics:       []string{"go"},
		Language:     "en",
	}
}

func TestBuildPendingChunks_CollapsesDuplicates(t *testing.T) {
	chunks := []TextChunk{
		{Content: "alpha content", Index: 0, TokenCount: 3},
		{Content: "beta content", Index: 1, TokenCount: 3},
		{Content: "alpha   content", Index: 2, TokenCount: 3},
		{Content: "gamma content", Index: 3, TokenCount: 3},
	}

	pending := BuildPendingChunks(chunks, chunkMeta())

	require.Len(t, pending, 3, "normalized duplicate collapses to first occurrence")
	assert.Equal(t, "alpha content", pending[0].Content)
	assert.Equal(t, "beta content", pending[1].Content)
	assert.Equal(t, "gamma content", pending[2].Content)
	for i, p := range pending {
		assert.Equal(t, i, p.ChunkIndex, "indexes renumbered contiguously")
		assert.Equal(t, ComputeContentHash(p.Content), p.ContentHash)
		assert.Equal(t, "Doc", p.Metadata.Title)
	}
}

func TestChunksToEmbed_UnchangedNeedsNoEmbedding(t *testing.T) {
	pending := BuildPendingChunks([]TextChunk{
		{Content: "first", TokenCount: 1},
		{Content: "second", TokenCount: 1},
	}, chunkMeta())

	existing := []domain.ChunkRef{
		{ID: "c1", ChunkIndex: 0, ContentHash: pending[0].ContentHash},
		{ID: "c2", ChunkIndex: 1, ContentHash: pending[1].ContentHash},
	}

	assert.Empty(t, ChunksToEmbed(pending, existing), "re-ingest of identical content embeds nothing")
}

func TestChunksToEmbed_OnlyNewChunks(t *testing.T) {
	pending := BuildPendingChunks([]TextChunk{
		{Content: "kept", TokenCount: 1},
		{Content: "fresh", TokenCount: 1},
	}, chunkMeta())

	existing := []domain.ChunkRef{
		{ID: "c1", ChunkIndex: 0, ContentHash: pending[0].ContentHash},
	}

	toEmbed := ChunksToEmbed(pending, existing)
	require.Len(t, toEmbed, 1)
	assert.Equal(t, "fresh", toEmbed[0].Content)
}

func TestReconcileChunks_NoChanges(t *testing.T) {
	pending := BuildPendingChunks([]TextChunk{
		{Content: "one", TokenCount: 1},
		{Content: "two", TokenCount: 1},
	}, chunkMeta())

	existing := []domain.ChunkRef{
		{ID: "c1", ChunkIndex: 0, ContentHash: pending[0].ContentHash},
		{ID: "c2", ChunkIndex: 1, ContentHash: pending[1].ContentHash},
	}

	rec, err := ReconcileChunks("doc-1", "user-1", pending, existing, nil, time.Now())
	require.NoError(t, err)

	assert.Empty(t, rec.ToInsert)
	assert.Empty(t, rec.ToDelete)
	assert.Equal(t, 2, rec.Skipped)
	assert.Equal(t, 2, rec.FinalChunkCount())
	assert.Equal(t, map[string]int{"c1": 0, "c2": 1}, rec.KeptIndexes)
}

func TestReconcileChunks_SingleEdit(t *testing.T) {
	oldPending := BuildPendingChunks([]TextChunk{
		{Content: "stable head", TokenCount: 2},
		{Content: "old middle", TokenCount: 2},
		{Content: "stable tail", TokenCount: 2},
	}, chunkMeta())

	existing := []domain.ChunkRef{
		{ID: "c1", ChunkIndex: 0, ContentHash: oldPending[0].ContentHash},
		{ID: "c2", ChunkIndex: 1, ContentHash: oldPending[1].ContentHash},
		{ID: "c3", ChunkIndex: 2, ContentHash: oldPending[2].ContentHash},
	}

	newPending := BuildPendingChunks([]TextChunk{
		{Content: "stable head", TokenCount: 2},
		{Content: "new middle", TokenCount: 2},
		{Content: "stable tail", TokenCount: 2},
	}, chunkMeta())

	embeddings := [][]float32{{0.1, 0.2}}

	rec, err := ReconcileChunks("doc-1", "user-1", newPending, existing, embeddings, time.Now())
	require.NoError(t, err)

	require.Len(t, rec.ToInsert, 1, "only the edited chunk is inserted")
	assert.Equal(t, "new middle", rec.ToInsert[0].Content)
	assert.Equal(t, 1, rec.ToInsert[0].ChunkIndex)
	assert.Equal(t, []float32{0.1, 0.2}, rec.ToInsert[0].Embedding)
	assert.NotEmpty(t, rec.ToInsert[0].ID)

	require.Len(t, rec.ToDelete, 1)
	assert.Equal(t, "c2", rec.ToDelete[0])

	assert.Equal(t, 2, rec.Skipped)
	assert.Equal(t, 3, rec.FinalChunkCount())
	assert.Equal(t, map[string]int{"c1": 0, "c3": 2}, rec.KeptIndexes)
}

func TestReconcileChunks_ReorderRenumbersKeptChunks(t *testing.T) {
	pendingOld := BuildPendingChunks([]TextChunk{
		{Content: "alpha", TokenCount: 1},
		{Content: "beta", TokenCount: 1},
	}, chunkMeta())

	existing := []domain.ChunkRef{
		{ID: "c1", ChunkIndex: 0, ContentHash: pendingOld[0].ContentHash},
		{ID: "c2", ChunkIndex: 1, ContentHash: pendingOld[1].ContentHash},
	}

	reordered := BuildPendingChunks([]TextChunk{
		{Content: "beta", TokenCount: 1},
		{Content: "alpha", TokenCount: 1},
	}, chunkMeta())

	rec, err := ReconcileChunks("doc-1", "user-1", reordered, existing, nil, time.Now())
	require.NoError(t, err)

	assert.Empty(t, rec.ToInsert)
	assert.Empty(t, rec.ToDelete)
	assert.Equal(t, map[string]int{"c2": 0, "c1": 1}, rec.KeptIndexes)
}

func TestReconcileChunks_EmbeddingCountMismatch(t *testing.T) {
	pending := BuildPendingChunks([]TextChunk{
		{Content: "needs embedding", TokenCount: 2},
	}, chunkMeta())

	_, err := ReconcileChunks("doc-1", "user-1", pending, nil, nil, time.Now())
	assert.Error(t, err, "too few embeddings")

	_, err = ReconcileChunks("doc-1", "user-1", pending, nil, [][]float32{{0.1}, {0.2}}, time.Now())
	assert.Error(t, err, "too many embeddings")
}

func TestReconcileChunks_EmptyDocumentDeletesAll(t *testing.T) {
	existing := []domain.ChunkRef{
		{ID: "c1", ChunkIndex: 0, ContentHash: "h1"},
		{ID: "c2", ChunkIndex: 1, ContentHash: "h2"},
	}

	rec, err := ReconcileChunks("doc-1", "user-1", nil, existing, nil, time.Now())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"c1", "c2"}, rec.ToDelete)
	assert.Equal(t, 0, rec.FinalChunkCount())
}
