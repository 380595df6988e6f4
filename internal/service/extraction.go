package service

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/corpora-labs/corpusd/internal/domain"
)

// Supported media types for upload.
const (
	MimeTextPlain = "text/plain"
	MimeMarkdown  = "text/markdown"
	MimeCSV       = "text/csv"
	MimeJSON      = "application/json"
	MimePDF       = "application/pdf"
	MimeDOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeHTML      = "text/html"
)

var extToMime = map[string]string{
	".txt":      MimeTextPlain,
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
	".csv":      MimeCSV,
	".json":     MimeJSON,
	".pdf":      MimePDF,
	".docx":     MimeDOCX,
	".html":     MimeHTML,
	".htm":      MimeHTML,
}

var allowedMimeTypes = map[string]struct{}{
	MimeTextPlain: {},
	MimeMarkdown:  {},
	MimeCSV:       {},
	MimeJSON:      {},
	MimePDF:       {},
	MimeDOCX:      {},
	MimeHTML:      {},
}

// IsAllowedMediaType reports whether the media type has a dedicated decoder.
func IsAllowedMediaType(mimeType string) bool {
	_, ok := allowedMimeTypes[normalizeMime(mimeType)]
	return ok
}

// ResolveMediaType picks the media type for an upload: the declared type when
// recognized, otherwise a filename-extension fallback.
func ResolveMediaType(declared, filename string) string {
	if IsAllowedMediaType(declared) {
		return normalizeMime(declared)
	}
	if mime, ok := extToMime[strings.ToLower(filepath.Ext(filename))]; ok {
		return mime
	}
	if declared != "" {
		return normalizeMime(declared)
	}
	return "application/octet-stream"
}

func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

type extractFunc func(data []byte, filename string) (string, error)

var extractors = map[string]extractFunc{
	MimeTextPlain: extractUTF8,
	MimeMarkdown:  extractUTF8,
	MimeCSV:       extractUTF8,
	MimeJSON:      extractUTF8,
	MimePDF:       docconvExtractor(MimePDF),
	MimeDOCX:      docconvExtractor(MimeDOCX),
	MimeHTML:      docconvExtractor(MimeHTML),
}

// ExtractText converts raw bytes into plain text based on media type.
// Unsupported or undeclared types fall back to raw UTF-8 decoding. Any decode
// failure or empty result is an extraction error, which is fatal to the
// ingestion run.
func ExtractText(data []byte, mimeType, filename string) (string, error) {
	extract, ok := extractors[normalizeMime(mimeType)]
	if !ok {
		extract = extractUTF8
	}

	text, err := extract(data, filename)
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeExtraction,
			fmt.Sprintf("failed to extract text from %q", filename), err)
	}

	if strings.TrimSpace(text) == "" {
		return "", domain.NewDomainError(domain.ErrCodeExtraction,
			fmt.Sprintf("no text content extracted from %q", filename))
	}

	return text, nil
}

func extractUTF8(data []byte, filename string) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%q is not valid UTF-8", filename)
	}
	return string(data), nil
}

func docconvExtractor(mimeType string) extractFunc {
	return func(data []byte, filename string) (string, error) {
		res, err := docconv.Convert(bytes.NewReader(data), mimeType, true)
		if err != nil {
			return "", err
		}
		return res.Body, nil
	}
}
