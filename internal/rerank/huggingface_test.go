package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *HFClient) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewHFClient(Config{
		Token:   "hf_test",
		Model:   "BAAI/bge-reranker-base",
		BaseURL: server.URL,
	})
	return server, client
}

func TestRerank(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/BAAI/bge-reranker-base", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is go", req.Query)
		assert.Len(t, req.Texts, 2)
		assert.True(t, req.Truncate)

		json.NewEncoder(w).Encode([]Score{
			{Index: 1, Score: 0.92},
			{Index: 0, Score: 0.11},
		})
	})

	scores, err := client.Rerank(context.Background(), "what is go", []string{"a passage", "another passage"})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 1, scores[0].Index)
	assert.InDelta(t, 0.92, scores[0].Score, 1e-9)
}

func TestRerank_EmptyTexts(t *testing.T) {
	client := NewHFClient(Config{Model: "m"})

	scores, err := client.Rerank(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestRerank_ServerError(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("model is loading"))
	})

	_, err := client.Rerank(context.Background(), "query", []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model is loading")
}

func TestRerank_MalformedResponse(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"an array"}`))
	})

	_, err := client.Rerank(context.Background(), "query", []string{"text"})
	assert.Error(t, err)
}

func TestRerank_IndexOutOfRange(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Score{{Index: 5, Score: 0.5}})
	})

	_, err := client.Rerank(context.Background(), "query", []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestRerank_ContextCancelled(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Score{{Index: 0, Score: 0.5}})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Rerank(ctx, "query", []string{"text"})
	assert.Error(t, err)
}
