package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"
)

// DefaultHTTPTimeout bounds a single request to an HTTP sink. A flush
// triggered from Submit can block a producer for up to this long.
const DefaultHTTPTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept in Result.Errors.
const maxErrorBody = 512

// HTTPClientConfig holds configuration shared by the HTTP connectors.
type HTTPClientConfig struct {
	Timeout         time.Duration
	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
	// RateLimitRPS caps requests per second per connector; 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// DefaultHTTPClientConfig returns the defaults used when no config is supplied.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:         DefaultHTTPTimeout,
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}
}

// HTTPClient wraps http.Client with connection pooling, an optional rate
// limiter and request logging.
type HTTPClient struct {
	client    *http.Client
	transport *http.Transport
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewHTTPClient creates an HTTPClient. Zero fields in cfg take their defaults.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) *HTTPClient {
	def := DefaultHTTPClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &HTTPClient{
		client:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		transport: transport,
		limiter:   limiter,
		logger:    logger.With("component", "http_client"),
	}
}

// Do performs req after waiting on the rate limiter.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("HTTP request failed", "method", req.Method, "host", req.URL.Host, "duration", time.Since(start), "error", err)
		return nil, err
	}
	c.logger.Debug("HTTP response", "method", req.Method, "host", req.URL.Host, "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

// CloseIdleConnections closes all idle connections.
func (c *HTTPClient) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

// newRequest builds a POST with body, gzip-compressing it when compress is set.
func newRequest(ctx context.Context, url, contentType string, body []byte, compress bool) (*http.Request, error) {
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	return req, nil
}

// statusError turns a non-2xx response into an error carrying a prefix of the body.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// drain discards the rest of the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}
