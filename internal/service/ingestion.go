package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/getsentry/sentry-go"
)

const maxErrorMessageChars = 500

// StorageClient reads document payloads by opaque path.
type StorageClient interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// EmbeddingClient generates fixed-dimension vectors for an ordered batch of
// texts, one vector per input in the same order.
type EmbeddingClient interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// StatusPublisher pushes document updates to the per-user change feed.
type StatusPublisher interface {
	Publish(doc *domain.Document)
}

// IngestDocumentRepository is the document persistence surface used by the
// ingestion pipeline.
type IngestDocumentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	SetStatus(ctx context.Context, id string, status domain.DocumentStatus, errorMessage string) (*domain.Document, error)
	SetMetadata(ctx context.Context, id string, meta *domain.DocumentMetadata) error
	Complete(ctx context.Context, id string, chunkCount int) (*domain.Document, error)
}

// IngestChunkRepository is the chunk read surface used by reconciliation.
type IngestChunkRepository interface {
	ListRefs(ctx context.Context, documentID string) ([]domain.ChunkRef, error)
}

// IngestionService drives a document through the processing stages:
// pending -> extracting -> chunking -> embedding -> completed, with failed
// reachable from any non-terminal stage. Each transition is persisted and
// published before the next stage begins.
type IngestionService struct {
	docs      IngestDocumentRepository
	chunks    IngestChunkRepository
	tx        TxRunner
	storage   StorageClient
	embedder  EmbeddingClient
	metadata  MetadataClient
	publisher StatusPublisher
	chunkCfg  ChunkConfig
}

func NewIngestionService(
	docs IngestDocumentRepository,
	chunks IngestChunkRepository,
	tx TxRunner,
	storage StorageClient,
	embedder EmbeddingClient,
	metadata MetadataClient,
	publisher StatusPublisher,
	chunkCfg ChunkConfig,
) *IngestionService {
	if chunkCfg.ChunkSize <= 0 {
		chunkCfg = DefaultChunkConfig()
	}
	return &IngestionService{
		docs:      docs,
		chunks:    chunks,
		tx:        tx,
		storage:   storage,
		embedder:  embedder,
		metadata:  metadata,
		publisher: publisher,
		chunkCfg:  chunkCfg,
	}
}

// Process runs one ingestion pass for a document. Stages are strictly
// sequential. Extraction and embedding failures are fatal and leave the
// document in the failed state; metadata extraction failures fall back and
// continue. A rerun after a crash or failure reconciles against whatever
// chunk set was stored, so only changed content is re-embedded.
func (s *IngestionService) Process(ctx context.Context, documentID string) error {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	doc, err = s.transition(ctx, doc, domain.DocumentStatusExtracting)
	if err != nil {
		return err
	}

	payload, err := s.storage.Download(ctx, doc.StoragePath)
	if err != nil {
		return s.fail(ctx, doc, fmt.Errorf("download %s: %w", doc.StoragePath, err))
	}

	text, err := ExtractText(payload, doc.MimeType, doc.Filename)
	if err != nil {
		return s.fail(ctx, doc, err)
	}

	doc, err = s.transition(ctx, doc, domain.DocumentStatusChunking)
	if err != nil {
		return err
	}

	chunks := ChunkText(text, s.chunkCfg)
	if len(chunks) == 0 {
		return s.fail(ctx, doc, fmt.Errorf("no chunks generated"))
	}

	meta := resolveMetadata(ctx, s.metadata, text, doc.Filename)
	if err := s.docs.SetMetadata(ctx, doc.ID, meta); err != nil {
		return s.fail(ctx, doc, fmt.Errorf("store metadata: %w", err))
	}

	pending := BuildPendingChunks(chunks, chunkMetadataFrom(meta))

	doc, err = s.transition(ctx, doc, domain.DocumentStatusEmbedding)
	if err != nil {
		return err
	}

	existing, err := s.chunks.ListRefs(ctx, doc.ID)
	if err != nil {
		return s.fail(ctx, doc, fmt.Errorf("fetch existing chunks: %w", err))
	}

	toEmbed := ChunksToEmbed(pending, existing)
	var embeddings [][]float32
	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, c := range toEmbed {
			texts[i] = c.Content
		}
		embeddings, err = s.embedder.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return s.fail(ctx, doc, domain.NewDomainErrorWithCause(
				domain.ErrCodeEmbedding, "embedding service call failed", err))
		}
	}

	rec, err := ReconcileChunks(doc.ID, doc.UserID, pending, existing, embeddings, time.Now().UTC())
	if err != nil {
		return s.fail(ctx, doc, err)
	}

	// Delete, insert, and renumber as one atomic unit so a partial chunk
	// set is never queryable.
	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		chunkRepo := repos.Chunks()
		if err := chunkRepo.DeleteByIDs(ctx, rec.DocumentID, rec.ToDelete); err != nil {
			return err
		}
		if err := chunkRepo.InsertBatch(ctx, rec.ToInsert); err != nil {
			return err
		}
		return chunkRepo.UpdateIndexes(ctx, rec.DocumentID, rec.KeptIndexes)
	})
	if err != nil {
		return s.fail(ctx, doc, fmt.Errorf("apply reconciliation: %w", err))
	}

	doc, err = s.docs.Complete(ctx, doc.ID, rec.FinalChunkCount())
	if err != nil {
		return err
	}
	s.publish(doc)

	log.Printf("document %s processed: %d inserted, %d deleted, %d skipped",
		doc.ID, len(rec.ToInsert), len(rec.ToDelete), rec.Skipped)
	return nil
}

// transition persists a status change and publishes it before returning.
func (s *IngestionService) transition(ctx context.Context, doc *domain.Document, next domain.DocumentStatus) (*domain.Document, error) {
	if !doc.Status.CanTransitionTo(next) {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation,
			fmt.Sprintf("illegal transition %s -> %s for document %s", doc.Status, next, doc.ID))
	}
	updated, err := s.docs.SetStatus(ctx, doc.ID, next, "")
	if err != nil {
		return nil, err
	}
	s.publish(updated)
	return updated, nil
}

// fail marks the document failed with a truncated human-readable message and
// returns the original cause.
func (s *IngestionService) fail(ctx context.Context, doc *domain.Document, cause error) error {
	log.Printf("ingestion failed for document %s: %v", doc.ID, cause)
	sentry.CaptureException(cause)

	msg := cause.Error()
	if len(msg) > maxErrorMessageChars {
		msg = msg[:maxErrorMessageChars]
	}

	failed, err := s.docs.SetStatus(ctx, doc.ID, domain.DocumentStatusFailed, msg)
	if err != nil {
		log.Printf("failed to mark document %s as failed: %v", doc.ID, err)
		return cause
	}
	s.publish(failed)
	return cause
}

func (s *IngestionService) publish(doc *domain.Document) {
	if s.publisher != nil {
		s.publisher.Publish(doc)
	}
}
