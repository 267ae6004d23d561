package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-rag/internal/pkg/httpx"
	"github.com/yungbote/neurobridge-rag/internal/platform/envutil"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// Client is the embedding side of the OpenAI API. One call is one HTTP attempt; callers own retries.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Model() string
}

type Config struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	Dimensions int
	Timeout    time.Duration
	// RequestsPerSecond <= 0 disables client-side throttling.
	RequestsPerSecond float64
	Burst             int
}

func ConfigFromEnv(log *logger.Logger) Config {
	return Config{
		APIKey:            envutil.String("OPENAI_API_KEY", "", nil),
		BaseURL:           envutil.String("OPENAI_BASE_URL", "https://api.openai.com", log),
		EmbedModel:        envutil.String("OPENAI_EMBED_MODEL", "text-embedding-3-small", log),
		Dimensions:        envutil.Int("OPENAI_EMBED_DIMENSIONS", 0, log),
		Timeout:           envutil.Duration("OPENAI_TIMEOUT_SECONDS", 60*time.Second, time.Second, log),
		RequestsPerSecond: envutil.Float("EMBED_REQUESTS_PER_SECOND", 8, log),
		Burst:             envutil.Int("EMBED_BURST", 16, log),
	}
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	embedModel string
	dimensions int
	httpClient *http.Client
	limiter    *RateLimiter
}

func NewClient(cfg Config, log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := strings.TrimSpace(cfg.EmbedModel)
	if model == "" {
		model = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		embedModel: model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	return c, nil
}

func (c *client) Model() string { return c.embedModel }

// HTTPError is a non-2xx response. It satisfies httpx.HTTPStatusCoder so retry classification can
// tell rate limits and 5xx apart from content rejections.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *HTTPError) RetryAfterHint() time.Duration {
	if e == nil {
		return 0
	}
	return e.RetryAfter
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			RetryAfter: httpx.RetryAfterDuration(resp, 0, time.Minute),
		}
	}
	return raw, nil
}

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	raw, err := c.doOnce(ctx, http.MethodPost, "/v1/embeddings", embeddingsRequest{
		Model:      c.embedModel,
		Input:      clean,
		Dimensions: c.dimensions,
	})
	if err != nil {
		if he, ok := err.(*HTTPError); ok && he.StatusCode == http.StatusTooManyRequests && c.limiter != nil {
			c.limiter.RecordRateLimitError(he.RetryAfter)
		}
		return nil, err
	}

	var resp embeddingsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("openai decode error: %w", err)
	}

	out := make([][]float32, len(clean))
	for pos, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			idx = pos
		}
		if idx >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[idx] = vec
	}
	for i := range out {
		if len(out[i]) == 0 {
			c.log.Warn("Embeddings response missing index", "index", i, "requested", len(clean), "returned", len(resp.Data))
			return nil, fmt.Errorf("openai embeddings missing index %d: requested=%d returned=%d", i, len(clean), len(resp.Data))
		}
	}
	return out, nil
}
