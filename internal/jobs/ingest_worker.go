package jobs

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize caps how many pending documents one pass claims
	DefaultBatchSize = 20
	// DefaultConcurrency bounds how many documents process in parallel
	DefaultConcurrency = 4
)

// PendingDocumentRepository lists documents waiting for ingestion
type PendingDocumentRepository interface {
	ListPending(ctx context.Context, limit int) ([]string, error)
}

// DocumentIngester runs the full processing pipeline for one document
type DocumentIngester interface {
	Process(ctx context.Context, documentID string) error
}

// IngestWorker drains the pending document queue. Per-document failures are
// recorded on the document row by the pipeline itself, so they are logged
// here rather than propagated.
type IngestWorker struct {
	repo        PendingDocumentRepository
	ingester    DocumentIngester
	batchSize   int
	concurrency int
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(repo PendingDocumentRepository, ingester DocumentIngester, batchSize, concurrency int) *IngestWorker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &IngestWorker{
		repo:        repo,
		ingester:    ingester,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	ids, err := w.repo.ListPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending documents: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}

	log.Printf("Processing %d pending documents", len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := w.ingester.Process(gctx, id); err != nil {
				log.Printf("Error processing document %s: %v", id, err)
			}
			return nil
		})
	}

	return g.Wait()
}
