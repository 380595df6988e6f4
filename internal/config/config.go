package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"corpus-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	MetadataModel       string `envconfig:"METADATA_MODEL" default:"gpt-4o-mini"`

	ChunkSize     int `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap  int `envconfig:"CHUNK_OVERLAP" default:"100"`
	ChunkMinChars int `envconfig:"CHUNK_MIN_CHARS" default:"50"`

	HybridSearchEnabled bool    `envconfig:"HYBRID_SEARCH_ENABLED" default:"true"`
	MatchThreshold      float64 `envconfig:"MATCH_THRESHOLD" default:"0.3"`

	RerankerEnabled bool   `envconfig:"RERANKER_ENABLED" default:"false"`
	RerankerModel   string `envconfig:"RERANKER_MODEL" default:"cross-encoder/ms-marco-MiniLM-L-6-v2"`
	HFToken         string `envconfig:"HF_TOKEN"`

	MaxUploadBytes    int64 `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	IngestPollSeconds int   `envconfig:"INGEST_POLL_SECONDS" default:"5"`
	IngestConcurrency int   `envconfig:"INGEST_CONCURRENCY" default:"4"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CORPUS", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasReranker() bool {
	return c.RerankerEnabled && c.HFToken != ""
}
