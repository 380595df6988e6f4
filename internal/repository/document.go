package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/corpora-labs/corpusd/internal/pagination"
	"github.com/corpora-labs/corpusd/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, user_id, filename, mime_type, file_size, storage_path, status, chunk_count, error_message, metadata, created_at, updated_at`

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

// UpsertForUpload inserts a new document, or on a (user_id, filename) conflict
// resets the existing row to pending. The existing row keeps its id and
// storage path so the re-uploaded payload overwrites the original object.
func (r *DocumentRepository) UpsertForUpload(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	metaJSON, err := marshalDocumentMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (user_id, filename) DO UPDATE SET
			mime_type = EXCLUDED.mime_type,
			file_size = EXCLUDED.file_size,
			status = EXCLUDED.status,
			error_message = NULL,
			updated_at = EXCLUDED.updated_at
		 RETURNING `+documentColumns,
		doc.ID, doc.UserID, doc.Filename, doc.MimeType, doc.FileSize, doc.StoragePath,
		doc.Status, doc.ChunkCount, nullableString(doc.ErrorMessage), metaJSON,
		doc.CreatedAt, doc.UpdatedAt,
	)
	return scanDocument(row)
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`,
		id,
	)
	return scanDocument(row)
}

func (r *DocumentRepository) GetByIDForUser(ctx context.Context, id, userID string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return scanDocument(row)
}

func (r *DocumentRepository) SetStatus(ctx context.Context, id string, status domain.DocumentStatus, errorMessage string) (*domain.Document, error) {
	row := r.db.QueryRow(
		ctx,
		`UPDATE documents SET status = $1, error_message = $2, updated_at = $3
		 WHERE id = $4
		 RETURNING `+documentColumns,
		status, nullableString(errorMessage), time.Now().UTC(), id,
	)
	return scanDocument(row)
}

func (r *DocumentRepository) SetMetadata(ctx context.Context, id string, meta *domain.DocumentMetadata) error {
	metaJSON, err := marshalDocumentMetadata(meta)
	if err != nil {
		return err
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET metadata = $1, updated_at = $2 WHERE id = $3`,
		metaJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) Complete(ctx context.Context, id string, chunkCount int) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE documents SET status = $1, chunk_count = $2, error_message = NULL, updated_at = $3
		 WHERE id = $4
		 RETURNING `+documentColumns,
		domain.DocumentStatusCompleted, chunkCount, time.Now().UTC(), id,
	)
	return scanDocument(row)
}

func (r *DocumentRepository) ListByUserWithCursor(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*service.DocumentPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM documents
			 WHERE user_id = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			userID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM documents
			 WHERE user_id = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			userID, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanDocumentRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		lastItem := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(lastItem.ID, lastItem.UpdatedAt)
	}

	return &service.DocumentPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id, userID string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM documents WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// ListPending returns ids of documents waiting for ingestion, oldest first.
func (r *DocumentRepository) ListPending(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT id FROM documents WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`,
		domain.DocumentStatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var errMsg *string
	var metaJSON []byte
	err := row.Scan(&d.ID, &d.UserID, &d.Filename, &d.MimeType, &d.FileSize, &d.StoragePath,
		&d.Status, &d.ChunkCount, &errMsg, &metaJSON, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	if errMsg != nil {
		d.ErrorMessage = *errMsg
	}
	if len(metaJSON) > 0 {
		var meta domain.DocumentMetadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, err
		}
		d.Metadata = &meta
	}
	return &d, nil
}

func scanDocumentRows(rows pgx.Rows) ([]*domain.Document, error) {
	var results []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}

func marshalDocumentMetadata(meta *domain.DocumentMetadata) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}
