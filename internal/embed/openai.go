package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quillmind/memoryd/internal/errs"
	"github.com/quillmind/memoryd/internal/model"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint, grounded
// directly on internal/plugin/embed/openai/openai.go in the teacher.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	defaultDim int
	httpClient *http.Client
}

// NewOpenAIEmbedder constructs an embedder for the given model/key. dim, if
// positive, is sent as the request's "dimensions" field and reported by
// Dimension(); otherwise a known default is used for the well-known small
// model, mirroring the teacher's load() function.
func NewOpenAIEmbedder(apiKey, model, baseURL string, dim int) *OpenAIEmbedder {
	defaultDim := dim
	if defaultDim <= 0 && strings.EqualFold(model, "text-embedding-3-small") {
		defaultDim = 1536
	}
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		dimensions: dim,
		defaultDim: defaultDim,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Embedder = (*OpenAIEmbedder)(nil)

func (e *OpenAIEmbedder) ModelName() string { return e.model }
func (e *OpenAIEmbedder) Dimension() int    { return e.defaultDim }

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (model.Vector, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]model.Vector, error) {
	reqBody, err := json.Marshal(embeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: ptrIfPositive(e.dimensions),
	})
	if err != nil {
		return nil, &errs.PermanentError{Message: "encode embedding request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, &errs.PermanentError{Message: "build embedding request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &errs.TransientError{Message: "embedding request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.TransientError{Message: "read embedding response", Cause: err}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &errs.UnauthorizedError{Message: "embedding provider rejected credentials"}
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &errs.RateLimitedError{RetryAfter: retryAfter, Message: "embedding provider rate limited this request"}
	}
	if resp.StatusCode >= 500 {
		return nil, &errs.TransientError{Message: fmt.Sprintf("embedding provider returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &errs.PermanentError{Message: fmt.Sprintf("embedding provider returned %d: %s", resp.StatusCode, string(body))}
	}

	var result embeddingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &errs.TransientError{Message: "parse embedding response", Cause: err}
	}
	if result.Error != nil {
		return nil, &errs.PermanentError{Message: "embedding provider error: " + result.Error.Message}
	}
	if len(result.Data) != len(texts) {
		return nil, &errs.PermanentError{Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Data))}
	}

	// The API may return results in any order; sort by index.
	vectors := make([]model.Vector, len(texts))
	for _, d := range result.Data {
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 0
}

func ptrIfPositive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}
