// Package airtable is a rate-limited client for the Airtable REST API: a
// request primitive with 429 backoff, a restartable paginated reader, a bulk
// writer and a metadata snapshot.
package airtable

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/airbridge/pkg/clients"
	"github.com/ajitpratap0/airbridge/pkg/errors"
	jsonpool "github.com/ajitpratap0/airbridge/pkg/json"
	"github.com/ajitpratap0/airbridge/pkg/metrics"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.airtable.com"

// Config configures a Client
type Config struct {
	BaseID string `yaml:"base_id" json:"base_id"`
	APIKey string `yaml:"api_key" json:"api_key"`

	BaseURL string `yaml:"base_url" json:"base_url"`

	// Throttle: every returned response is followed by a 1/RequestsPerSecond pause
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// 429 handling
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries" json:"max_rate_limit_retries"`
	InitialBackoff      time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	BackoffMultiplier   float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`

	// Pagination
	MaxIteratorRestarts int `yaml:"max_iterator_restarts" json:"max_iterator_restarts"`

	// Writes
	WriteChunkSize int `yaml:"write_chunk_size" json:"write_chunk_size"`

	HTTP *clients.HTTPConfig `yaml:"http" json:"http"`
}

// DefaultConfig returns the production defaults for baseID.
func DefaultConfig(baseID, apiKey string) Config {
	return Config{
		BaseID:              baseID,
		APIKey:              apiKey,
		BaseURL:             DefaultBaseURL,
		RequestsPerSecond:   5,
		MaxRateLimitRetries: 3,
		InitialBackoff:      30 * time.Second,
		BackoffMultiplier:   1.5,
		MaxIteratorRestarts: 3,
		WriteChunkSize:      10,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.BaseID, c.APIKey)
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.MaxRateLimitRetries < 0 {
		c.MaxRateLimitRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.MaxIteratorRestarts < 0 {
		c.MaxIteratorRestarts = 0
	}
	if c.WriteChunkSize <= 0 {
		c.WriteChunkSize = def.WriteChunkSize
	}
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode decodes the body into v, keeping integer precision.
func (r *Response) Decode(v interface{}) error {
	if err := jsonpool.GetDecoder(bytes.NewReader(r.Body)).Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response body")
	}
	return nil
}

// Client talks to one base. It is safe for concurrent use; the limiter
// keeps concurrent callers under RequestsPerSecond in aggregate.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      Sleeper
	logger     *zap.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default authenticated HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleeper replaces the context-aware timer used for throttle and backoff pauses.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithLimiter replaces the shared request limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for config.BaseID.
func NewClient(config Config, opts ...Option) (*Client, error) {
	if config.BaseID == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "airtable base id is required")
	}
	config.applyDefaults()

	c := &Client{
		config: config,
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "airtable"), zap.String("base_id", config.BaseID))
	if c.httpClient == nil {
		if config.APIKey == "" {
			return nil, errors.New(errors.ErrorTypeAuthentication, "airtable api key is required")
		}
		c.httpClient = clients.NewHTTPClient(config.HTTP, config.APIKey, c.logger)
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// TableURL returns the records endpoint of table.
func (c *Client) TableURL(table string) string {
	return c.config.BaseURL + "/v0/" + url.PathEscape(c.config.BaseID) + "/" + url.PathEscape(table)
}

// Request performs one API call. A 429 is retried after 30, 45, 68... second
// pauses up to MaxRateLimitRetries times. A success or an exhausted 429 is
// followed by the 1/RequestsPerSecond pause. Other non-2xx responses come
// back at once as *HTTPError.
func (c *Client) Request(ctx context.Context, method, rawURL string, body interface{}, headers map[string]string) (*Response, error) {
	var payload []byte
	if body != nil {
		buf, err := jsonpool.MarshalToBuffer(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode request body")
		}
		payload = append([]byte(nil), buf.Bytes()...)
		jsonpool.PutBuffer(buf)
	}

	header := make(http.Header)
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		header.Set(k, v)
	}

	wait := c.config.InitialBackoff
	retries := 0
	var resp *Response
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "rate limiter wait cancelled")
		}

		var err error
		resp, err = c.do(ctx, method, rawURL, payload, header)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || retries >= c.config.MaxRateLimitRetries {
			break
		}

		retries++
		metrics.RateLimitRetries.Inc()
		c.logger.Warn("http 429 response, retrying after backoff",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Int("retry", retries),
			zap.Duration("wait", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		wait = nextBackoff(wait, c.config.BackoffMultiplier)
	}

	var httpErr *HTTPError
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr = &HTTPError{Method: method, URL: rawURL, StatusCode: resp.StatusCode, Body: resp.Body}
		if !httpErr.RateLimited() {
			return nil, httpErr
		}
	}

	if err := c.sleep(ctx, c.throttleDelay()); err != nil {
		return nil, err
	}

	if httpErr != nil {
		c.logger.Error("rate limit retries exhausted", zap.String("url", rawURL), zap.Int("retries", retries))
		return nil, errors.Wrap(httpErr, errors.ErrorTypeRateLimit, "rate limit retries exhausted")
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload []byte, header http.Header) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to create request")
	}
	req.Header = header.Clone()

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}
	metrics.ObserveRequest(method, httpResp.StatusCode, time.Since(start))

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) throttleDelay() time.Duration {
	return time.Duration(float64(time.Second) / c.config.RequestsPerSecond)
}

// nextBackoff multiplies wait and rounds up to a whole second.
func nextBackoff(wait time.Duration, multiplier float64) time.Duration {
	next := math.Ceil(wait.Seconds() * multiplier)
	return time.Duration(next) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
