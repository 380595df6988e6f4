package service

import (
	"context"
	"log"

	"github.com/corpora-labs/corpusd/internal/domain"
)

// MetadataClient extracts structured metadata from document text.
type MetadataClient interface {
	ExtractMetadata(ctx context.Context, text, filename string) (*domain.DocumentMetadata, error)
}

// resolveMetadata calls the metadata extraction service and substitutes
// fallback metadata on any failure. Metadata extraction is never fatal to an
// ingestion run.
func resolveMetadata(ctx context.Context, client MetadataClient, text, filename string) *domain.DocumentMetadata {
	if client == nil {
		return domain.FallbackMetadata(filename)
	}
	meta, err := client.ExtractMetadata(ctx, text, filename)
	if err != nil {
		log.Printf("metadata extraction failed for %q, using fallback: %v", filename, err)
		return domain.FallbackMetadata(filename)
	}
	return meta
}

// chunkMetadataFrom projects the filterable subset of document metadata onto
// chunks.
func chunkMetadataFrom(meta *domain.DocumentMetadata) domain.ChunkMetadata {
	return domain.ChunkMetadata{
		Title:        meta.Title,
		DocumentType: meta.DocumentType,
		Topics:       meta.Topics,
		Language:     meta.Language,
	}
}
