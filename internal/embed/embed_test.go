package embed_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmind/memoryd/internal/embed"
	"github.com/quillmind/memoryd/internal/errs"
	"github.com/quillmind/memoryd/internal/model"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, embed.CosineSimilarity(model.Vector{1, 0}, model.Vector{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, embed.CosineSimilarity(model.Vector{1, 0}, model.Vector{0, 1}), 1e-9)
	assert.Equal(t, 0.0, embed.CosineSimilarity(model.Vector{}, model.Vector{1}))
	assert.Equal(t, 0.0, embed.CosineSimilarity(model.Vector{1, 2}, model.Vector{1}))
}

func TestDisabledEmbedderAlwaysFailsPermanent(t *testing.T) {
	d := embed.Disabled{}
	_, err := d.Embed(context.Background(), "hello")
	require.Error(t, err)
	var permanent *errs.PermanentError
	assert.ErrorAs(t, err, &permanent)
	assert.Equal(t, 0, d.Dimension())
}

func newTestServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if body != nil {
			_ = json.NewEncoder(w).Encode(body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedderHappyPath(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, map[string]any{
		"data": []map[string]any{
			{"index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
		},
	})
	e := embed.NewOpenAIEmbedder("sk-test", "text-embedding-3-small", srv.URL, 0)
	assert.Equal(t, 1536, e.Dimension())

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, model.Vector{0.1, 0.2, 0.3}, vec)
}

func TestOpenAIEmbedderUnauthorized(t *testing.T) {
	srv := newTestServer(t, http.StatusUnauthorized, nil)
	e := embed.NewOpenAIEmbedder("bad-key", "text-embedding-3-small", srv.URL, 0)
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	var unauthorized *errs.UnauthorizedError
	assert.ErrorAs(t, err, &unauthorized)
}

func TestOpenAIEmbedderRateLimited(t *testing.T) {
	srv := newTestServer(t, http.StatusTooManyRequests, nil)
	e := embed.NewOpenAIEmbedder("sk-test", "text-embedding-3-small", srv.URL, 0)
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	var rateLimited *errs.RateLimitedError
	assert.ErrorAs(t, err, &rateLimited)
}

func TestOpenAIEmbedderServerError(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError, nil)
	e := embed.NewOpenAIEmbedder("sk-test", "text-embedding-3-small", srv.URL, 0)
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	var transient *errs.TransientError
	assert.ErrorAs(t, err, &transient)
}

func TestOpenAIEmbedderBadRequest(t *testing.T) {
	srv := newTestServer(t, http.StatusBadRequest, nil)
	e := embed.NewOpenAIEmbedder("sk-test", "text-embedding-3-small", srv.URL, 0)
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	var permanent *errs.PermanentError
	assert.ErrorAs(t, err, &permanent)
}

func TestOpenAIEmbedderMismatchedResultCount(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, map[string]any{"data": []map[string]any{}})
	e := embed.NewOpenAIEmbedder("sk-test", "text-embedding-3-small", srv.URL, 0)
	_, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	var permanent *errs.PermanentError
	assert.ErrorAs(t, err, &permanent)
}
