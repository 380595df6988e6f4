package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/corpora-labs/corpusd/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the system-wide embedding dimension
	DefaultEmbeddingDimensions = 1536
	// DefaultMetadataModel is the chat model used for metadata extraction
	DefaultMetadataModel = "gpt-4o-mini"

	// metadataExcerptChars bounds the document excerpt sent for metadata
	// extraction to stay within context limits.
	metadataExcerptChars = 4000

	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has the wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

const metadataSystemPrompt = `You are a metadata extraction assistant. Analyze the provided document text and extract structured metadata.

Return ONLY a JSON object with these fields:
- "title": string, the document title (infer from content/filename if not explicit)
- "document_type": string, one of: "article", "report", "tutorial", "notes", "email", "code", "data", "other"
- "topics": array of strings, 3-5 main topics covered in the document
- "entities": array of strings, key named entities (people, organizations, products, technologies)
- "language": string, ISO 639-1 language code (e.g. "en", "de", "fr")
- "summary": string, 2-3 sentence summary of the document

Return ONLY valid JSON, no markdown formatting, no explanation.`

// API defines the underlying OpenAI operations used by Client.
type API interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	CreateChatCompletion(ctx context.Context, system, user string) (string, error)
}

// Client wraps the OpenAI API with batching, retries, and dimension checks.
type Client struct {
	api        API
	dimensions int
	maxRetries int
	retryDelay time.Duration
}

// OpenAIAdapter implements API against the real OpenAI service.
type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
	dimensions     int
}

func NewOpenAIAdapter(apiKey string, embeddingModel openai.EmbeddingModel, chatModel string, dimensions int) *OpenAIAdapter {
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	if chatModel == "" {
		chatModel = DefaultMetadataModel
	}
	return &OpenAIAdapter{
		client:         openai.NewClient(apiKey),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
		dimensions:     dimensions,
	}
}

// CreateEmbeddings calls the OpenAI API to embed a batch of texts, returning
// vectors in input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: a.embeddingModel,
	}
	if a.dimensions > 0 && a.embeddingModel != openai.AdaEmbeddingV2 {
		req.Dimensions = a.dimensions
	}

	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// CreateChatCompletion sends a single system+user exchange and returns the
// assistant's text.
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.chatModel,
		Temperature: 0.1,
		MaxTokens:   512,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Config configures a Client.
type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	MetadataModel       string
	EmbeddingDimensions int
	MaxRetries          int
	RetryDelay          time.Duration
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Client{
		api:        NewOpenAIAdapter(cfg.APIKey, cfg.EmbeddingModel, cfg.MetadataModel, dimensions),
		dimensions: dimensions,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// GenerateEmbeddings embeds an ordered batch of texts, returning one vector
// per input in the same order. Transient failures are retried with backoff;
// exhausting retries returns the last error.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	var embeddings [][]float32
	var err error
	delay := c.retryDelay
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		embeddings, err = c.api.CreateEmbeddings(ctx, texts)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings after %d attempts: %w", c.maxRetries, err)
	}

	for _, e := range embeddings {
		if len(e) != c.dimensions {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(e))
		}
	}
	return embeddings, nil
}

// GenerateEmbedding embeds a single text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	embeddings, err := c.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// ExtractMetadata asks the chat model for structured document metadata.
// Callers treat any error as non-fatal and substitute fallback metadata.
func (c *Client) ExtractMetadata(ctx context.Context, text, filename string) (*domain.DocumentMetadata, error) {
	excerpt := text
	if len(excerpt) > metadataExcerptChars {
		// Cut on a rune boundary so a multi-byte character is never split.
		cut := metadataExcerptChars
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut]
	}

	user := fmt.Sprintf("Filename: %s\n\nDocument text:\n%s", filename, excerpt)
	raw, err := c.api.CreateChatCompletion(ctx, metadataSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("metadata completion: %w", err)
	}

	var meta domain.DocumentMetadata
	if err := json.Unmarshal([]byte(StripCodeFences(raw)), &meta); err != nil {
		return nil, fmt.Errorf("metadata parse: %w", err)
	}
	if meta.Title == "" || !domain.IsValidDocumentType(meta.DocumentType) {
		return nil, fmt.Errorf("metadata validation failed: title=%q type=%q", meta.Title, meta.DocumentType)
	}
	return &meta, nil
}

var (
	fenceOpenRe  = regexp.MustCompile("^```(?:json)?\\s*\n?")
	fenceCloseRe = regexp.MustCompile("\n?```\\s*$")
)

// StripCodeFences removes markdown code fences from model output.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = fenceOpenRe.ReplaceAllString(text, "")
	text = fenceCloseRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
