package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/corpora-labs/corpusd/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence and retrieval of embedded document
// chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx dbtx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ListRefs returns the stored chunk identity set for a document, ordered by
// chunk index. Reconciliation diffs new content against these.
func (r *ChunkRepository) ListRefs(ctx context.Context, documentID string) ([]domain.ChunkRef, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, chunk_index, content_hash
		 FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index ASC`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []domain.ChunkRef
	for rows.Next() {
		var ref domain.ChunkRef
		if err := rows.Scan(&ref.ID, &ref.ChunkIndex, &ref.ContentHash); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *ChunkRepository) DeleteByIDs(ctx context.Context, documentID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1 AND id = ANY($2)`,
		documentID, ids,
	)
	return err
}

func (r *ChunkRepository) InsertBatch(ctx context.Context, chunks []domain.Chunk) error {
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		_, err = r.db.Exec(ctx,
			`INSERT INTO document_chunks
				(id, document_id, user_id, chunk_index, content, token_count, content_hash, embedding, metadata, created_at)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (document_id, content_hash) DO NOTHING`,
			c.ID,
			c.DocumentID,
			c.UserID,
			c.ChunkIndex,
			c.Content,
			c.TokenCount,
			c.ContentHash,
			pgvector.NewVector(c.Embedding),
			metaJSON,
			createdAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateIndexes renumbers surviving chunks so indexes stay contiguous after a
// reconciliation pass.
func (r *ChunkRepository) UpdateIndexes(ctx context.Context, documentID string, indexes map[string]int) error {
	for id, idx := range indexes {
		_, err := r.db.Exec(ctx,
			`UPDATE document_chunks SET chunk_index = $1 WHERE document_id = $2 AND id = $3`,
			idx, documentID, id,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// SearchChunksSemantic ranks chunks by cosine similarity to the query
// embedding, dropping anything below the scope threshold.
func (r *ChunkRepository) SearchChunksSemantic(ctx context.Context, embedding []float32, scope service.SearchScope, limit int) ([]*service.ChunkSearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	vec := pgvector.NewVector(embedding)

	query := `
		SELECT id, document_id, chunk_index, content, metadata,
		       1.0 - (embedding <=> $1) AS similarity
		FROM document_chunks
		WHERE user_id = $2
		  AND embedding IS NOT NULL
		  AND 1.0 - (embedding <=> $1) >= $3`
	args := []any{vec, scope.UserID, scope.Threshold}

	if len(scope.MetadataFilter) > 0 {
		filterJSON, err := json.Marshal(scope.MetadataFilter)
		if err != nil {
			return nil, err
		}
		query += ` AND metadata @> $4`
		args = append(args, filterJSON)
	}

	query += `
		ORDER BY embedding <=> $1 ASC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunkSearchRows(rows)
}

// SearchChunksFullText ranks chunks by ts_rank against a websearch-style
// query over the generated tsvector column.
func (r *ChunkRepository) SearchChunksFullText(ctx context.Context, queryText string, scope service.SearchScope, limit int) ([]*service.ChunkSearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, document_id, chunk_index, content, metadata,
		       ts_rank(content_tsv, websearch_to_tsquery('english', $1)) AS rank
		FROM document_chunks
		WHERE user_id = $2
		  AND content_tsv @@ websearch_to_tsquery('english', $1)`
	args := []any{queryText, scope.UserID}

	if len(scope.MetadataFilter) > 0 {
		filterJSON, err := json.Marshal(scope.MetadataFilter)
		if err != nil {
			return nil, err
		}
		query += ` AND metadata @> $3`
		args = append(args, filterJSON)
	}

	query += `
		ORDER BY rank DESC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunkSearchRows(rows)
}

func scanChunkSearchRows(rows pgx.Rows) ([]*service.ChunkSearchResult, error) {
	results := make([]*service.ChunkSearchResult, 0)
	for rows.Next() {
		var result service.ChunkSearchResult
		var metaJSON []byte
		if err := rows.Scan(&result.ChunkID, &result.DocumentID, &result.ChunkIndex, &result.Content, &metaJSON, &result.Score); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &result.Metadata); err != nil {
				return nil, err
			}
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
