// Package rerank provides a cross-encoder reranking client backed by the
// HuggingFace Inference API.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://router.huggingface.co/hf-inference/models"
	defaultTimeout = 30 * time.Second
)

// Score is one (index, relevance) pair aligned to the input texts by position.
type Score struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Config configures the HuggingFace reranker client.
type Config struct {
	Token   string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// HFClient scores (query, text) pairs with a hosted cross-encoder model.
type HFClient struct {
	httpClient *http.Client
	url        string
	token      string
}

func NewHFClient(cfg Config) *HFClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HFClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        fmt.Sprintf("%s/%s", baseURL, cfg.Model),
		token:      cfg.Token,
	}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

// Rerank returns relevance scores for the given candidate texts against the
// query. The result order is whatever the service returns; callers match
// scores to candidates via the Index field.
func (c *HFClient) Rerank(ctx context.Context, query string, texts []string) ([]Score, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank call returned %d: %s", resp.StatusCode, payload)
	}

	var scores []Score
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(texts) {
			return nil, fmt.Errorf("rerank index %d out of range", s.Index)
		}
	}
	return scores, nil
}
