package service

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkConfig controls how extracted text is split for indexing.
type ChunkConfig struct {
	// ChunkSize is the maximum segment length in characters.
	ChunkSize int
	// ChunkOverlap is the number of trailing characters carried into the
	// next segment.
	ChunkOverlap int
	// MinChunkChars is the smallest segment emitted on its own; a shorter
	// trailing remainder is merged into the previous segment.
	MinChunkChars int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:     500,
		ChunkOverlap:  100,
		MinChunkChars: 50,
	}
}

// TextChunk is one ordered segment of a document.
type TextChunk struct {
	Content    string
	Index      int
	TokenCount int
}

// EstimateTokens gives a rough token count (~4 chars per token for English).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// ChunkText splits text into overlapping segments bounded by ChunkSize,
// preferring sentence boundaries. Deterministic: identical input and config
// produce an identical sequence. Trailing text shorter than MinChunkChars is
// merged into the previous segment rather than dropped.
func ChunkText(text string, cfg ChunkConfig) []TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cfg.ChunkSize <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 2
	}

	sentences := splitSentences(text)

	chunks := make([]TextChunk, 0, 8)
	emit := func(content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		chunks = append(chunks, TextChunk{
			Content:    content,
			Index:      len(chunks),
			TokenCount: EstimateTokens(content),
		})
	}

	var current []rune
	for _, sentence := range sentences {
		sent := []rune(sentence)

		if len(current) > 0 && len(current)+len(sent)+1 > cfg.ChunkSize {
			emit(string(current))
			if cfg.ChunkOverlap > 0 && len(current) > cfg.ChunkOverlap {
				current = append([]rune(nil), current[len(current)-cfg.ChunkOverlap:]...)
			} else {
				current = current[:0]
			}
		}

		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, sent...)

		// Hard-split sentences that exceed the budget on their own.
		for len(current) > cfg.ChunkSize {
			emit(string(current[:cfg.ChunkSize]))
			cut := cfg.ChunkSize - cfg.ChunkOverlap
			if cut <= 0 {
				cut = cfg.ChunkSize
			}
			current = append([]rune(nil), current[cut:]...)
		}
	}

	if tail := strings.TrimSpace(string(current)); tail != "" {
		if len([]rune(tail)) < cfg.MinChunkChars && len(chunks) > 0 {
			last := &chunks[len(chunks)-1]
			last.Content = last.Content + " " + tail
			last.TokenCount = EstimateTokens(last.Content)
		} else {
			emit(tail)
		}
	}

	return chunks
}

// splitSentences breaks text at sentence-ending punctuation followed by
// whitespace, and at blank lines.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	runes := []rune(text)
	start := 0

	flush := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			flush(i + 1)
			continue
		}
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			flush(i)
			for i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	flush(len(runes))

	return sentences
}
