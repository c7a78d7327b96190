// Package transport provides the HTTP and WebSocket plumbing exchange
// adapters are built on. The REST client carries no retry logic of its
// own; admission and retries belong to the connector pipeline above it.
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// Client is a REST client for exchange APIs. JSON is encoded and decoded
// with sonic on both directions.
type Client struct {
	client *resty.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// Config holds the settings for a REST client.
type Config struct {
	// BaseURL is prepended to every request path.
	BaseURL string `validate:"required,url"`
	// Timeout bounds a single request, zero means no client-side bound.
	Timeout time.Duration `validate:"min=0"`
	// Headers are applied to every request, typically auth and user agent.
	Headers map[string]string `validate:"omitempty"`
}

// RequestOption customizes a single request before it is sent.
type RequestOption func(*resty.Request)

// ClientOption customizes a Client during construction.
type ClientOption func(*Client)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a REST client from the config.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)
	client.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	client.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return sonic.Unmarshal(data, v)
	})
	for k, v := range config.Headers {
		client.SetHeader(k, v)
	}

	c := &Client{
		client: client,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		c.logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})
	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Int("size", len(resp.Bytes())).
			Dur("duration", resp.Duration()).
			Msg("http response")
		return nil
	})

	return c, nil
}

// Close releases the client's resources. Further requests fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

func (c *Client) request(ctx context.Context, opts []RequestOption) (*resty.Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	req := c.client.R().SetContext(ctx)
	for _, opt := range opts {
		opt(req)
	}
	return req, nil
}

// Get performs a GET request against the given path.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*resty.Response, error) {
	req, err := c.request(ctx, opts)
	if err != nil {
		return nil, err
	}
	return req.Get(path)
}

// Post performs a POST request with a JSON body against the given path.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*resty.Response, error) {
	req, err := c.request(ctx, opts)
	if err != nil {
		return nil, err
	}
	return req.SetBody(body).Post(path)
}

// Put performs a PUT request with a JSON body against the given path.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*resty.Response, error) {
	req, err := c.request(ctx, opts)
	if err != nil {
		return nil, err
	}
	return req.SetBody(body).Put(path)
}

// Delete performs a DELETE request against the given path.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*resty.Response, error) {
	req, err := c.request(ctx, opts)
	if err != nil {
		return nil, err
	}
	return req.Delete(path)
}

// WithHeader sets one header on the request.
func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

// WithHeaders sets multiple headers on the request.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeaders(headers)
	}
}

// WithQueryParam sets one query parameter on the request.
func WithQueryParam(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParam(key, value)
	}
}

// WithQueryParams sets multiple query parameters on the request.
func WithQueryParams(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParams(params)
	}
}

// WithResult decodes a 2xx response body into res.
func WithResult(res any) RequestOption {
	return func(r *resty.Request) {
		r.SetResult(res)
	}
}

// WithError decodes a non-2xx response body into errPayload.
func WithError(errPayload any) RequestOption {
	return func(r *resty.Request) {
		r.SetError(errPayload)
	}
}
