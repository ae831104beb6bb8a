package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/lox/soilclimate/internal/htmlutil"
	"github.com/lox/soilclimate/internal/metrics"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultMaxUses = 25
)

// Pool hands out an HTTP client whose transport is thrown away and rebuilt
// after a fixed number of requests. Long-lived keep-alive connections to
// AEMET degrade; rotating them keeps the fetch loop healthy.
//
// A Pool is not safe for concurrent use.
type Pool struct {
	maxUses   int
	uses      int
	rotations int
	client    *http.Client
}

func NewPool(maxUses int) *Pool {
	if maxUses <= 0 {
		maxUses = DefaultMaxUses
	}
	return &Pool{maxUses: maxUses}
}

// Client returns the current client, rotating it first when its use budget
// is spent. Each call counts as one use.
func (p *Pool) Client() *http.Client {
	if p.client == nil || p.uses >= p.maxUses {
		p.rotate()
	}
	p.uses++
	return p.client
}

// Rotations is the number of times the transport has been replaced.
func (p *Pool) Rotations() int {
	return p.rotations
}

func (p *Pool) rotate() {
	if p.client != nil {
		p.client.CloseIdleConnections()
		p.rotations++
		metrics.PoolRotations.Inc()
	}
	p.client = &http.Client{Transport: newTransport()}
	p.uses = 0
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 40
	t.MaxIdleConnsPerHost = 20
	return t
}

// RetryClient issues JSON GET requests with retries and backoff.
type RetryClient struct {
	pool   *Pool
	policy Policy
	logger *slog.Logger
}

func NewRetryClient(pool *Pool, policy Policy, logger *slog.Logger) *RetryClient {
	if policy.Retryable == nil {
		policy.Retryable = Retryable
	}
	return &RetryClient{pool: pool, policy: policy, logger: logger}
}

// GetJSON fetches rawURL and returns its JSON body. An empty body or 204
// yields (nil, nil). Transient failures are retried up to maxTries attempts;
// a permanent 4xx stops immediately. Both end in a *FetchError.
func (c *RetryClient) GetJSON(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration, maxTries int) (json.RawMessage, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	p := c.policy
	p.MaxTries = maxTries

	body, attempts, err := Retry(ctx, p, func(int) (json.RawMessage, error) {
		return c.do(ctx, req, timeout)
	}, func(err error, attempt int, wait time.Duration) {
		metrics.RetriesTotal.WithLabelValues(failureReason(err)).Inc()
		c.logger.Warn("request failed, retrying",
			"url", ShortURL(rawURL),
			"attempt", attempt,
			"max_tries", maxTries,
			"wait", wait,
			"error", err,
		)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("GET %s: %w", ShortURL(rawURL), ctx.Err())
		}
		return nil, &FetchError{URL: rawURL, Attempts: attempts, Err: err}
	}
	return body, nil
}

func (c *RetryClient) do(ctx context.Context, base *http.Request, timeout time.Duration) (json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := endpointLabel(base.URL)
	start := time.Now()
	resp, err := c.pool.Client().Do(base.Clone(reqCtx))
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()
	metrics.APIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: htmlutil.ErrorText(body, resp.Header.Get("Content-Type"), 200)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	body, err = toUTF8(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &MalformedBodyError{Size: len(body)}
	}
	if !gjson.ValidBytes(body) {
		return nil, &MalformedBodyError{Size: len(body)}
	}
	return json.RawMessage(body), nil
}

// endpointLabel keeps metric cardinality bounded: host plus the first two
// path segments.
func endpointLabel(u *url.URL) string {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return u.Host + "/" + strings.Join(parts, "/")
}

// toUTF8 transcodes bodies declared in another charset. AEMET serves its
// data payloads as ISO-8859-15.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body, nil
	}
	cs := strings.ToLower(params["charset"])
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return body, nil
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return body, nil
	}
	return enc.NewDecoder().Bytes(body)
}

