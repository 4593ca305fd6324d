package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/httpretry"
)

// DefaultMaxUploadBytes is the upload limit of the hosted Whisper endpoint.
const DefaultMaxUploadBytes = 25 * 1024 * 1024

// OpenAIClient implements Transcriber against an OpenAI-compatible
// /audio/transcriptions endpoint, requesting verbose_json so segment
// timings come back.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxUpload   int64
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an OpenAIClient.
type ClientOption func(*OpenAIClient)

// WithBaseURL sets the API base URL, e.g. "https://api.openai.com/v1".
func WithBaseURL(url string) ClientOption {
	return func(c *OpenAIClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel sets the transcription model name.
func WithModel(model string) ClientOption {
	return func(c *OpenAIClient) {
		c.model = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *OpenAIClient) {
		c.httpClient = hc
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *OpenAIClient) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(c *OpenAIClient) {
		c.baseBackoff = d
	}
}

// WithMaxUploadBytes overrides the per-request upload limit.
func WithMaxUploadBytes(n int64) ClientOption {
	return func(c *OpenAIClient) {
		c.maxUpload = n
	}
}

// NewOpenAIClient creates a new transcription client.
func NewOpenAIClient(apiKey string, opts ...ClientOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &OpenAIClient{
		apiKey:      apiKey,
		baseURL:     "https://api.openai.com/v1",
		model:       "whisper-1",
		maxUpload:   DefaultMaxUploadBytes,
		httpClient:  &http.Client{Timeout: 10 * time.Minute},
		maxRetries:  3,
		baseBackoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration decimal.Decimal  `json:"duration"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	ID    int             `json:"id"`
	Start decimal.Decimal `json:"start"`
	End   decimal.Decimal `json:"end"`
	Text  string          `json:"text"`
}

// Transcribe implements Transcriber.Transcribe.
func (c *OpenAIClient) Transcribe(ctx context.Context, clip audio.Waveform, language string) ([]Segment, error) {
	if clip.Empty() {
		return nil, ErrEmptyClip
	}
	if clip.WAVSize() > c.maxUpload {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrClipTooLarge, clip.WAVSize(), c.maxUpload)
	}

	wavData, err := audio.WAVBytes(clip)
	if err != nil {
		return nil, fmt.Errorf("transcribe: encode clip: %w", err)
	}

	body, contentType, err := c.buildForm(wavData, language)
	if err != nil {
		return nil, err
	}

	var resp verboseResponse
	if err := c.doRequestWithRetry(ctx, body, contentType, &resp); err != nil {
		return nil, err
	}

	return toSegments(resp.Segments, clip.Seconds()), nil
}

func (c *OpenAIClient) buildForm(wavData []byte, language string) ([]byte, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := [][2]string{
		{"model", c.model},
		{"response_format", "verbose_json"},
		{"temperature", "0"},
	}
	if language != "" {
		fields = append(fields, [2]string{"language", language})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("transcribe: write form field %s: %w", f[0], err)
		}
	}

	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return nil, "", fmt.Errorf("transcribe: create form file: %w", err)
	}
	if _, err := fw.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("transcribe: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("transcribe: close form: %w", err)
	}
	return body.Bytes(), mw.FormDataContentType(), nil
}

// toSegments converts service segments to clip-relative Segments ordered by
// start. Empty texts are dropped and times are clamped to [0, clipSec].
func toSegments(in []verboseSegment, clipSec float64) []Segment {
	out := make([]Segment, 0, len(in))
	for _, s := range in {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		start := clampSec(s.Start.InexactFloat64(), clipSec)
		end := clampSec(s.End.InexactFloat64(), clipSec)
		if end < start {
			end = start
		}
		out = append(out, Segment{Start: start, End: end, Text: text})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func clampSec(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// doRequestWithRetry performs the request with exponential backoff retry.
func (c *OpenAIClient) doRequestWithRetry(ctx context.Context, body []byte, contentType string, result any) error {
	policy := httpretry.Policy{Name: "transcribe", MaxRetries: c.maxRetries, BaseBackoff: c.baseBackoff}
	return policy.Do(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, body, contentType, result)
	})
}

func (c *OpenAIClient) doRequest(ctx context.Context, body []byte, contentType string, result any) error {
	url := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("transcribe: request failed: %w", err)
		}
		return httpretry.Retryable(fmt.Errorf("transcribe: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpretry.Retryable(fmt.Errorf("transcribe: read response: %w", err))
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
		return fmt.Errorf("transcribe: unmarshal response: %w", err)
	}
	return nil
}

// Verify interface implementation at compile time.
var _ Transcriber = (*OpenAIClient)(nil)
