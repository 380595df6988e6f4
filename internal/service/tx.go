package service

import (
	"context"

	"github.com/corpora-labs/corpusd/internal/domain"
)

// ChunkWriteRepository is the chunk mutation surface used inside a
// reconciliation transaction.
type ChunkWriteRepository interface {
	DeleteByIDs(ctx context.Context, documentID string, ids []string) error
	InsertBatch(ctx context.Context, chunks []domain.Chunk) error
	UpdateIndexes(ctx context.Context, documentID string, indexes map[string]int) error
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	Chunks() ChunkWriteRepository
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
