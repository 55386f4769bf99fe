package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tourrag/pkg/tracker"
	"tourrag/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("TourRAG/%s", version.Version)

// ctxKey is the private type for context values set by this package.
type ctxKey int

// CtxProviderLabel overrides the provider label derived from the host,
// so stats for OpenAI-compatible vendors are tracked under their own name.
const CtxProviderLabel ctxKey = iota

// ClientConfig holds settings for the HTTP client.
type ClientConfig struct {
	Retries   int
	Timeout   time.Duration
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Client handles HTTP requests with per-provider queuing, retries, and tracking.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	cfg        ClientConfig

	// Queues per provider (domain)
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	provider string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client.
func New(t *tracker.Tracker, cfg ClientConfig) *Client {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracker:    t,
		cfg:        cfg,
		queues:     make(map[string]chan job),
	}
}

// GetWithHeaders performs a GET request with custom headers.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	req, provider, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, job{req: req, headers: headers, provider: provider})
}

// PostWithHeaders performs a POST request with custom headers.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	req, provider, err := c.newRequest(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, job{req: req, headers: headers, provider: provider})
}

func (c *Client) newRequest(ctx context.Context, method, u string, body []byte) (*http.Request, string, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, "", fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)
	if label, ok := ctx.Value(CtxProviderLabel).(string); ok && label != "" {
		provider = label
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	return req, provider, nil
}

func (c *Client) enqueue(ctx context.Context, j job) ([]byte, error) {
	j.respChan = make(chan jobResult, 1)
	c.dispatch(j.provider, j)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-j.respChan:
		return res.body, res.err
	}
}

func normalizeProvider(host string) string {
	if strings.HasSuffix(host, "googleapis.com") {
		return "gemini"
	}
	if strings.HasSuffix(host, "openai.com") {
		return "openai"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}

	// Blocks when the queue is full, effectively throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// cooldown is a provider's health gate. Each queue worker owns one, so no
// locking is involved: failures stretch the pause before the next request
// leaves the queue, successes shrink it back down.
type cooldown struct {
	base    time.Duration
	max     time.Duration
	strikes int
	until   time.Time
}

func (cd *cooldown) pause(ctx context.Context) {
	if cd.strikes == 0 || !time.Now().Before(cd.until) {
		return
	}
	select {
	case <-time.After(time.Until(cd.until)):
	case <-ctx.Done():
	}
}

func (cd *cooldown) failure() {
	cd.strikes++
	d := cd.base << (cd.strikes - 1)
	if d > cd.max || d <= 0 {
		d = cd.max
	}
	// Up to 10% jitter so providers recovering together don't fall back in step.
	d += time.Duration(rand.Float64() * 0.1 * float64(d))
	cd.until = time.Now().Add(d)
}

func (cd *cooldown) success() {
	if cd.strikes > 0 {
		cd.strikes--
	}
	if cd.strikes == 0 {
		cd.until = time.Time{}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	cd := &cooldown{base: c.cfg.BaseDelay, max: c.cfg.MaxDelay}
	for j := range q {
		if j.req.Context().Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", j.req.Context().Err())
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		// Apply User-Agent (Default if not provided)
		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		cd.pause(j.req.Context())
		body, err := c.executeWithRetry(j.req)

		if err == nil {
			c.tracker.TrackAPISuccess(provider)
			cd.success()
		} else {
			c.tracker.TrackAPIFailure(provider)
			cd.failure()
		}

		j.respChan <- jobResult{body: body, err: err}
	}
}

// executeWithRetry attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithRetry(req *http.Request) ([]byte, error) {
	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)

		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}

			slog.Warn("Request failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			if waitErr := c.sleepBackoff(req.Context(), attempt); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		// 429 and 5xx are retryable
		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			resp.Body.Close()
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			if waitErr := c.sleepBackoff(req.Context(), attempt); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if resp.StatusCode >= 400 {
			// Read the error body for diagnostics; some providers return JSON error envelopes.
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return errBody, fmt.Errorf("api error: status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded")
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	sleepDur := c.cfg.BaseDelay << attempt
	if sleepDur > c.cfg.MaxDelay {
		sleepDur = c.cfg.MaxDelay
	}
	select {
	case <-time.After(sleepDur):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
