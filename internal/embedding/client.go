// Package embedding computes fixed-length voice embeddings by calling a
// remote speaker-embedding service.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/httpretry"
)

// Static errors for embedding client operations.
var (
	// ErrURLRequired is returned when the service URL is not provided.
	ErrURLRequired = errors.New("embedding: service URL is required")
	// ErrEmptyClip is returned when asked to embed a clip with no frames.
	ErrEmptyClip = errors.New("embedding: empty clip")
	// ErrEmptyEmbedding is returned when the service answers with no vector.
	ErrEmptyEmbedding = errors.New("embedding: service returned an empty vector")
	// ErrInvalidEmbedding is returned when the vector contains NaN or Inf.
	ErrInvalidEmbedding = errors.New("embedding: service returned a non-finite value")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("embedding: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("embedding: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("embedding: request failed")
)

// Embedder maps a mono 16 kHz clip to a voice embedding.
// Every call against the same Embedder returns vectors of the same length.
type Embedder interface {
	Embed(ctx context.Context, clip audio.Waveform) ([]float64, error)
}

// HTTPClient is the HTTP implementation of Embedder.
// It posts the clip as a WAV body and expects {"embedding": [...]} back.
type HTTPClient struct {
	url         string
	apiKey      string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.baseBackoff = d
	}
}

// NewClient creates a new embedding HTTP client for the service at url.
func NewClient(url string, opts ...ClientOption) (*HTTPClient, error) {
	if url == "" {
		return nil, ErrURLRequired
	}

	c := &HTTPClient{
		url:         url,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed implements Embedder.Embed.
func (c *HTTPClient) Embed(ctx context.Context, clip audio.Waveform) ([]float64, error) {
	if clip.Empty() {
		return nil, ErrEmptyClip
	}

	body, err := audio.WAVBytes(clip)
	if err != nil {
		return nil, fmt.Errorf("embedding: encode clip: %w", err)
	}

	var resp embedResponse
	if err := c.doRequestWithRetry(ctx, body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding) == 0 {
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyEmbedding, resp.Error)
		}
		return nil, ErrEmptyEmbedding
	}
	for _, v := range resp.Embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrInvalidEmbedding
		}
	}
	return resp.Embedding, nil
}

// doRequestWithRetry performs the request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, body []byte, result any) error {
	policy := httpretry.Policy{Name: "embedding", MaxRetries: c.maxRetries, BaseBackoff: c.baseBackoff}
	return policy.Do(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, body, result)
	})
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("embedding: request failed: %w", err)
		}
		return httpretry.Retryable(fmt.Errorf("embedding: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpretry.Retryable(fmt.Errorf("embedding: read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return httpretry.Retryable(fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody)))
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return httpretry.Retryable(fmt.Errorf("%w: %s", ErrRateLimited, string(respBody)))
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("embedding: unmarshal response: %w", err)
	}
	return nil
}

// Verify interface implementation at compile time.
var _ Embedder = (*HTTPClient)(nil)
