// Package httpfetch implements the HTTP Fallback Client (component C14):
// the §6 HTTP surface (/load, /feeds, /feeds/<feed>, /feeds/<feed>/stream,
// /save) used when the WebSocket transport (C11) is unavailable or for
// one-shot requests that do not warrant a standing subscription.
package httpfetch

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Sentinel errors named after spec.md §6's status-code handling rules.
var (
	// ErrReauthRequired is returned for 401/407/419 responses; the caller
	// is expected to refresh credentials and retry.
	ErrReauthRequired = errors.New("httpfetch: reauthentication required")
	// ErrForbidden is returned for 403 responses and is not retried.
	ErrForbidden = errors.New("httpfetch: forbidden")
	// ErrTimeout is returned for 408 responses.
	ErrTimeout = errors.New("httpfetch: request timeout")
)

// ReauthFunc refreshes credentials (e.g. exchanging a refresh token for a
// new bearer token) and returns the new bearer token to use.
type ReauthFunc func(ctx context.Context) (string, error)

// Config configures a Client.
type Config struct {
	BaseURL string
	// BearerToken, if set, is sent as an Authorization header on every
	// request.
	BearerToken string
	// Reauth, if set, is invoked once on a 401/407/419 response before a
	// single retry with the refreshed token.
	Reauth ReauthFunc

	GetTimeout  time.Duration // default 30s per spec.md §5
	PostTimeout time.Duration // configurable, defaults to GetTimeout
	MaxRetries  int
}

// DefaultConfig returns spec.md §5's default timeouts.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		GetTimeout:  30 * time.Second,
		PostTimeout: 30 * time.Second,
		MaxRetries:  3,
	}
}

// Client is the HTTP fallback client. It wraps http.Client with the same
// exponential-backoff-plus-jitter retry shape the teacher's resiliency
// package applies to outbound requests, adapted to the status-code rules
// spec.md §6 specifies (401/407/419 reauth once; 403 terminal; 408 timeout;
// >=400 otherwise retried up to MaxRetries).
type Client struct {
	cfg Config
	hc  *http.Client

	token string
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.GetTimeout == 0 {
		cfg.GetTimeout = 30 * time.Second
	}
	if cfg.PostTimeout == 0 {
		cfg.PostTimeout = cfg.GetTimeout
	}
	return &Client{
		cfg:   cfg,
		hc:    &http.Client{},
		token: cfg.BearerToken,
	}
}

// do executes req with method/body pre-set, applying the retry and reauth
// policy. body, if non-nil, is re-read on every attempt (the caller must
// hand back a function producing a fresh reader, since http.Request bodies
// are single-use).
func (c *Client) do(ctx context.Context, method, path string, newBody func() io.Reader, headers map[string]string, timeout time.Duration) (*http.Response, error) {
	return c.doRequest(ctx, method, path, newBody, headers, timeout, false)
}

// doStream is like do but leaves the request context alive for the life of
// the response body, since the caller reads a long-lived NDJSON stream
// rather than a bounded JSON payload; the request ends with the parent ctx,
// and closing the body does not cancel any context of its own.
func (c *Client) doStream(ctx context.Context, method, path string, headers map[string]string) (*http.Response, error) {
	return c.doRequest(ctx, method, path, nil, headers, 0, true)
}

func (c *Client) doRequest(ctx context.Context, method, path string, newBody func() io.Reader, headers map[string]string, timeout time.Duration, streaming bool) (*http.Response, error) {
	reauthed := false

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if newBody != nil {
			body = newBody()
		}

		var reqCtx context.Context
		var cancel context.CancelFunc
		if timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, timeout)
		} else {
			reqCtx, cancel = context.WithCancel(ctx)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			cancel()
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		otel.GetTextMapPropagator().Inject(reqCtx, propagation.HeaderCarrier(req.Header))

		resp, err := c.hc.Do(req)
		if !streaming || err != nil {
			cancel()
		} else {
			go func() { <-ctx.Done(); cancel() }()
		}

		if err != nil {
			if attempt >= c.cfg.MaxRetries {
				return nil, err
			}
			time.Sleep(backoffWithJitter(attempt))
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode == http.StatusProxyAuthRequired,
			resp.StatusCode == 419:
			resp.Body.Close()
			if reauthed || c.cfg.Reauth == nil {
				return nil, ErrReauthRequired
			}
			newToken, rerr := c.cfg.Reauth(ctx)
			if rerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrReauthRequired, rerr)
			}
			c.token = newToken
			reauthed = true
			continue

		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrForbidden

		case resp.StatusCode == http.StatusRequestTimeout:
			resp.Body.Close()
			if attempt >= c.cfg.MaxRetries {
				return nil, ErrTimeout
			}
			time.Sleep(backoffWithJitter(attempt))
			continue

		case resp.StatusCode >= 400:
			resp.Body.Close()
			if attempt >= c.cfg.MaxRetries {
				return nil, fmt.Errorf("httpfetch: status %d", resp.StatusCode)
			}
			time.Sleep(backoffWithJitter(attempt))
			continue
		}

		return resp, nil
	}
}

func backoffWithJitter(attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		jitter = time.Duration(n.Int64()) * time.Millisecond
	}
	return backoff + jitter
}

func bytesReaderFunc(b []byte) func() io.Reader {
	return func() io.Reader { return bytes.NewReader(b) }
}
