package service

import (
	"context"
	"errors"
	"testing"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockIngestDocumentRepository is a mock implementation of IngestDocumentRepository
type MockIngestDocumentRepository struct {
	mock.Mock
}

func (m *MockIngestDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockIngestDocumentRepository) SetStatus(ctx context.Context, id string, status domain.DocumentStatus, errorMessage string) (*domain.Document, error) {
	args := m.Called(ctx, id, status, errorMessage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockIngestDocumentRepository) SetMetadata(ctx context.Context, id string, meta *domain.DocumentMetadata) error {
	args := m.Called(ctx, id, meta)
	return args.Error(0)
}

func (m *MockIngestDocumentRepository) Complete(ctx context.Context, id string, chunkCount int) (*domain.Document, error) {
	args := m.Called(ctx, id, chunkCount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

// MockIngestChunkRepository is a mock implementation of IngestChunkRepository
type MockIngestChunkRepository struct {
	mock.Mock
}

func (m *MockIngestChunkRepository) ListRefs(ctx context.Context, documentID string) ([]domain.ChunkRef, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ChunkRef), args.Error(1)
}

// MockStorageClient is a mock implementation of StorageClient
type MockStorageClient struct {
	mock.Mock
}

func (m *MockStorageClient) Download(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// MockMetadataClient is a mock implementation of MetadataClient
type MockMetadataClient struct {
	mock.Mock
}

func (m *MockMetadataClient) ExtractMetadata(ctx context.Context, text, filename string) (*domain.DocumentMetadata, error) {
	args := m.Called(ctx, text, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DocumentMetadata), args.Error(1)
}

// MockChunkWriteRepository is a mock implementation of ChunkWriteRepository
type MockChunkWriteRepository struct {
	mock.Mock
}

func (m *MockChunkWriteRepository) DeleteByIDs(ctx context.Context, documentID string, ids []string) error {
	args := m.Called(ctx, documentID, ids)
	return args.Error(0)
}

func (m *MockChunkWriteRepository) InsertBatch(ctx context.Context, chunks []domain.Chunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockChunkWriteRepository) UpdateIndexes(ctx context.Context, documentID string, indexes map[string]int) error {
	args := m.Called(ctx, documentID, indexes)
	return args.Error(0)
}

// fakeTxRunner executes the transaction function directly against the given
// chunk repository.
type fakeTxRunner struct {
	chunks ChunkWriteRepository
	err    error
	calls  int
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return fn(fakeTxRepos{chunks: f.chunks})
}

type fakeTxRepos struct {
	chunks ChunkWriteRepository
}

func (f fakeTxRepos) Chunks() ChunkWriteRepository { return f.chunks }

// recordingPublisher captures the status sequence published during a run.
type recordingPublisher struct {
	statuses []domain.DocumentStatus
}

func (p *recordingPublisher) Publish(doc *domain.Document) {
	p.statuses = append(p.statuses, doc.Status)
}

func pendingDoc() *domain.Document {
	return &domain.Document{
		ID:          "doc-1",
		UserID:      "user-1",
		Filename:    "notes.txt",
		MimeType:    "text/plain",
		StoragePath: "documents/user-1/doc-1",
		Status:      domain.DocumentStatusPending,
	}
}

func docWithStatus(status domain.DocumentStatus) *domain.Document {
	d := pendingDoc()
	d.Status = status
	return d
}

type ingestionFixture struct {
	docs      *MockIngestDocumentRepository
	chunks    *MockIngestChunkRepository
	txChunks  *MockChunkWriteRepository
	tx        *fakeTxRunner
	storage   *MockStorageClient
	embedder  *MockEmbeddingClient
	metadata  *MockMetadataClient
	publisher *recordingPublisher
	svc       *IngestionService
}

func newIngestionFixture() *ingestionFixture {
	f := &ingestionFixture{
		docs:      &MockIngestDocumentRepository{},
		chunks:    &MockIngestChunkRepository{},
		txChunks:  &MockChunkWriteRepository{},
		storage:   &MockStorageClient{},
		embedder:  &MockEmbeddingClient{},
		metadata:  &MockMetadataClient{},
		publisher: &recordingPublisher{},
	}
	f.tx = &fakeTxRunner{chunks: f.txChunks}
	f.svc = NewIngestionService(f.docs, f.chunks, f.tx, f.storage, f.embedder, f.metadata, f.publisher, ChunkConfig{})
	return f
}

func (f *ingestionFixture) expectTransitions() {
	f.docs.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusExtracting, "").
		Return(docWithStatus(domain.DocumentStatusExtracting), nil)
	f.docs.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusChunking, "").
		Return(docWithStatus(domain.DocumentStatusChunking), nil)
	f.docs.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusEmbedding, "").
		Return(docWithStatus(domain.DocumentStatusEmbedding), nil)
}

func TestIngestion_Process_Success(t *testing.T) {
	f := newIngestionFixture()
	ctx := context.Background()

	f.docs.On("GetByID", ctx, "doc-1").Return(pendingDoc(), nil)
	f.expectTransitions()
	f.storage.On("Download", mock.Anything, "documents/user-1/doc-1").
		Return([]byte("Some document content worth indexing."), nil)
	f.metadata.On("ExtractMetadata", mock.Anything, mock.Anything, "notes.txt").
		Return(&domain.DocumentMetadata{
			Title:        "Notes",
			DocumentType: domain.DocumentTypeNotes,
			Topics:       []string{"misc"},
			Language:     "en",
		}, nil)
	f.docs.On("SetMetadata", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.chunks.On("ListRefs", mock.Anything, "doc-1").Return([]domain.ChunkRef{}, nil)
	f.embedder.On("GenerateEmbeddings", mock.Anything, mock.Anything).
		Return([][]float32{{0.1, 0.2}}, nil)
	f.txChunks.On("DeleteByIDs", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.txChunks.On("InsertBatch", mock.Anything, mock.Anything).Return(nil)
	f.txChunks.On("UpdateIndexes", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.docs.On("Complete", mock.Anything, "doc-1", 1).
		Return(docWithStatus(domain.DocumentStatusCompleted), nil)

	err := f.svc.Process(ctx, "doc-1")
	require.NoError(t, err)

	assert.Equal(t, []domain.DocumentStatus{
		domain.DocumentStatusExtracting,
		domain.DocumentStatusChunking,
		domain.DocumentStatusEmbedding,
		domain.DocumentStatusCompleted,
	}, f.publisher.statuses, "each transition is published in order")
	assert.Equal(t, 1, f.tx.calls)
	f.docs.AssertExpectations(t)
	f.txChunks.AssertExpectations(t)
}

func TestIngestion_Process_UnchangedContentSkipsEmbedding(t *testing.T) {
	f := newIngestionFixture()
	ctx := context.Background()

	content := "Some document content worth indexing."

	f.docs.On("GetByID", ctx, "doc-1").Return(pendingDoc(), nil)
	f.expectTransitions()
	f.storage.On("Download", mock.Anything, mock.Anything).Return([]byte(content), nil)
	f.metadata.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.FallbackMetadata("notes.txt"), nil)
	f.docs.On("SetMetadata", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.chunks.On("ListRefs", mock.Anything, "doc-1").Return([]domain.ChunkRef{
		{ID: "c1", ChunkIndex: 0, ContentHash: ComputeContentHash(content)},
	}, nil)
	f.txChunks.On("DeleteByIDs", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.txChunks.On("InsertBatch", mock.Anything, mock.Anything).Return(nil)
	f.txChunks.On("UpdateIndexes", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.docs.On("Complete", mock.Anything, "doc-1", 1).
		Return(docWithStatus(domain.DocumentStatusCompleted), nil)

	err := f.svc.Process(ctx, "doc-1")
	require.NoError(t, err)

	f.embedder.AssertNotCalled(t, "GenerateEmbeddings", mock.Anything, mock.Anything)
}

func TestIngestion_Process_DownloadFailure(t *testing.T) {
	f := newIngestionFixture()
	ctx := context.Background()

	f.docs.On("GetByID", ctx, "doc-1").Return(pendingDoc(), nil)
	f.docs.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusExtracting, "").
		Return(docWithStatus(domain.DocumentStatusExtracting), nil)
	f.storage.On("Download", mock.Anything, mock.Anything).Return(nil, errors.New("object missing"))
	f.docs.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusFailed, mock.Anything).
		Return(docWithStatus(domain.DocumentStatusFailed), nil)

	err := f.svc.Process(ctx, "doc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object missing")

	assert.Equal(t, domain.DocumentStatusFailed, f.publisher.statuses[len(f.publisher.statuses)-1])
}

func TestIngestion_Process_ExtractionFailure(t *testing.T) {
	f := newIngestionFixture()
	ctx := context.Background()

	f.docs.On("GetByID", ctx, "doc-1").Return(pendingDoc(), nil)
	f.docs.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusExtracting, "").
		Return(docWithStatus(domain.DocumentStatusExtracting), nil)
	f.storage.On("Download", mock.Anything, mock.Anything).Return([]byte{0xff, 0xfe}, nil)
	f.docs.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusFailed, mock.Anything).
		Return(docWithStatus(domain.DocumentStatusFailed), nil)

	err := f.svc.Process(ctx, "doc-1")
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, domain.ErrCodeExtraction, domainErr.Code)
}

func TestIngestion_Process_EmbeddingFailure(t *testing.T) {
	f := newIngestionFixture()
	ctx := context.Background()

	f.docs.On("GetByID", ctx, "doc-1").Return(pendingDoc(), nil)
	f.expectTransitions()
	f.storage.On("Download", mock.Anything, mock.Anything).
		Return([]byte("Fresh content that needs embedding."), nil)
	f.metadata.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.FallbackMetadata("notes.txt"), nil)
	f.docs.On("SetMetadata", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.chunks.On("ListRefs", mock.Anything, "doc-1").Return([]domain.ChunkRef{}, nil)
	f.embedder.On("GenerateEmbeddings", mock.Anything, mock.Anything).
		Return(nil, errors.New("rate limited"))
	f.docs.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusFailed, mock.Anything).
		Return(docWithStatus(domain.DocumentStatusFailed), nil)

	err := f.svc.Process(ctx, "doc-1")
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, domain.ErrCodeEmbedding, domainErr.Code)
	assert.Equal(t, 0, f.tx.calls, "no reconciliation applied on embedding failure")
}

func TestIngestion_Process_MetadataFailureFallsBack(t *testing.T) {
	f := newIngestionFixture()
	ctx := context.Background()

	f.docs.On("GetByID", ctx, "doc-1").Return(pendingDoc(), nil)
	f.expectTransitions()
	f.storage.On("Download", mock.Anything, mock.Anything).
		Return([]byte("Content with broken metadata extraction."), nil)
	f.metadata.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("llm unavailable"))
	f.docs.On("SetMetadata", mock.Anything, "doc-1", mock.MatchedBy(func(meta *domain.DocumentMetadata) bool {
		return meta.Title == "notes" && meta.DocumentType == domain.DocumentTypeOther
	})).Return(nil)
	f.chunks.On("ListRefs", mock.Anything, "doc-1").Return([]domain.ChunkRef{}, nil)
	f.embedder.On("GenerateEmbeddings", mock.Anything, mock.Anything).
		Return([][]float32{{0.1}}, nil)
	f.txChunks.On("DeleteByIDs", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.txChunks.On("InsertBatch", mock.Anything, mock.Anything).Return(nil)
	f.txChunks.On("UpdateIndexes", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.docs.On("Complete", mock.Anything, "doc-1", 1).
		Return(docWithStatus(domain.DocumentStatusCompleted), nil)

	err := f.svc.Process(ctx, "doc-1")
	require.NoError(t, err, "metadata extraction failure is never fatal")
	f.docs.AssertExpectations(t)
}

func TestIngestion_Process_TerminalStatusRejected(t *testing.T) {
	f := newIngestionFixture()
	ctx := context.Background()

	f.docs.On("GetByID", ctx, "doc-1").Return(docWithStatus(domain.DocumentStatusCompleted), nil)

	err := f.svc.Process(ctx, "doc-1")
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, domain.ErrCodeInvalidOperation, domainErr.Code)
}

func TestIngestion_Process_DocumentNotFound(t *testing.T) {
	f := newIngestionFixture()
	ctx := context.Background()

	f.docs.On("GetByID", ctx, "doc-1").Return(nil, domain.ErrDocumentNotFound)

	err := f.svc.Process(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestIngestion_Process_TxFailure(t *testing.T) {
	f := newIngestionFixture()
	f.tx.err = errors.New("serialization failure")
	ctx := context.Background()

	f.docs.On("GetByID", ctx, "doc-1").Return(pendingDoc(), nil)
	f.expectTransitions()
	f.storage.On("Download", mock.Anything, mock.Anything).
		Return([]byte("Content heading into a failing transaction."), nil)
	f.metadata.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.FallbackMetadata("notes.txt"), nil)
	f.docs.On("SetMetadata", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.chunks.On("ListRefs", mock.Anything, "doc-1").Return([]domain.ChunkRef{}, nil)
	f.embedder.On("GenerateEmbeddings", mock.Anything, mock.Anything).
		Return([][]float32{{0.1}}, nil)
	f.docs.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusFailed, mock.Anything).
		Return(docWithStatus(domain.DocumentStatusFailed), nil)

	err := f.svc.Process(ctx, "doc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serialization failure")
}

func TestResolveMetadata_NilClient(t *testing.T) {
	meta := resolveMetadata(context.Background(), nil, "text", "report.pdf")
	require.NotNil(t, meta)
	assert.Equal(t, "report", meta.Title)
	assert.Equal(t, domain.DocumentTypeOther, meta.DocumentType)
}

func TestChunkMetadataFrom(t *testing.T) {
	meta := &domain.DocumentMetadata{
		Title:        "Guide",
		DocumentType: domain.DocumentTypeTutorial,
		Topics:       []string{"go", "testing"},
		Entities:     []string{"ignored"},
		Language:     "en",
		Summary:      "ignored",
	}

	cm := chunkMetadataFrom(meta)
	assert.Equal(t, "Guide", cm.Title)
	assert.Equal(t, domain.DocumentTypeTutorial, cm.DocumentType)
	assert.Equal(t, []string{"go", "testing"}, cm.Topics)
	assert.Equal(t, "en", cm.Language)
}
