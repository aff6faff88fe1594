// File: internal/network/client.go
package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultDialTimeout         = 5 * time.Second
	defaultTLSHandshakeTimeout = 5 * time.Second
	defaultIdleConnTimeout     = 30 * time.Second
	maxRedirects               = 5
)

// ErrBodyTooLarge is returned when a response body exceeds the configured cap.
var ErrBodyTooLarge = errors.New("response body exceeds the configured limit")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Client performs the inspector's own outbound HTTP: the registry lookup,
// header probes and bundle downloads. It is rate limited and safe for
// concurrent use.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	maxBody   int64
	userAgent string
	logger    *zap.Logger
}

// NewClient builds a client from the network configuration.
func NewClient(cfg config.NetworkConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("network")

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 15 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		IdleConnTimeout:     defaultIdleConnTimeout,
		MaxIdleConnsPerHost: 4,
		// Decoding is done by DecodeResponse so brotli is covered too.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
	}
	return NewClientWithTransport(cfg, transport, logger)
}

// NewClientWithTransport builds a client over an existing round tripper.
func NewClientWithTransport(cfg config.NetworkConfig, rt http.RoundTripper, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	return &Client{
		http: &http.Client{
			Transport: rt,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		limiter:   rate.NewLimiter(limit, burst),
		maxBody:   maxBody,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// do sends a GET and returns the decoded response. The caller closes the body.
func (c *Client) do(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept-Encoding", AcceptEncoding)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := DecodeResponse(resp); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return resp, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBody {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// GetJSON fetches rawURL and decodes a 2xx JSON body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v interface{}) error {
	resp, err := c.do(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	body, err := c.readBody(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode JSON from %s: %w", rawURL, err)
	}
	return nil
}

// GetText fetches rawURL and returns a 2xx body as a string.
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.do(ctx, rawURL, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	body, err := c.readBody(resp)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ProbeHeaders fetches rawURL and returns the headers of the final response.
// Redirects are followed. The body is discarded.
func (c *Client) ProbeHeaders(ctx context.Context, rawURL string) (schemas.Headers, int, error) {
	resp, err := c.do(ctx, rawURL, "text/html")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBody))

	c.logger.Debug("Probed headers.", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
	return HeadersFromHTTP(resp.Header), resp.StatusCode, nil
}

// HeadersFromHTTP flattens an http.Header into captured headers with
// lower-cased names, sorted by name.
func HeadersFromHTTP(h http.Header) schemas.Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(schemas.Headers, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, schemas.CapturedHeader{Name: strings.ToLower(name), Value: v})
		}
	}
	return out
}
