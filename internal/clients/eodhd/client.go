// Package eodhd provides a client for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// flexInt64 is the integer counterpart of flexFloat64; null decodes to 0.
type flexInt64 int64

func (i *flexInt64) UnmarshalJSON(data []byte) error {
	var f flexFloat64
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	*i = flexInt64(f)
	return nil
}

const (
	DefaultBaseURL         = "https://eodhd.com/api"
	DefaultTimeout         = 30 * time.Second
	DefaultRateLimit       = 10 // requests per second
	DefaultExchange        = "US"
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 60 * time.Second
)

// Client implements interfaces.MarketDataProvider against EODHD
type Client struct {
	baseURL    string
	apiKey     string
	exchange   string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker

	breakerFailures uint32
	breakerTimeout  time.Duration
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithExchange sets the exchange suffix appended to bare symbols
func WithExchange(exchange string) ClientOption {
	return func(c *Client) {
		if exchange != "" {
			c.exchange = exchange
		}
	}
}

// WithCircuitBreaker sets how many consecutive failures open the breaker and
// how long it stays open before probing again
func WithCircuitBreaker(consecutiveFailures uint32, openFor time.Duration) ClientOption {
	return func(c *Client) {
		if consecutiveFailures > 0 {
			c.breakerFailures = consecutiveFailures
		}
		if openFor > 0 {
			c.breakerTimeout = openFor
		}
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		exchange: DefaultExchange,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:         rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:          common.NewSilentLogger(),
		breakerFailures: DefaultBreakerFailures,
		breakerTimeout:  DefaultBreakerTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eodhd",
		MaxRequests: 1,
		Timeout:     c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.breakerFailures
		},
		// Unknown tickers and cancelled callers say nothing about provider health
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return true
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Provider circuit breaker state change")
		},
	})

	return c
}

// NewClientFromConfig builds a client from the [clients.eodhd] section
func NewClientFromConfig(config common.EODHDConfig, exchange string, logger *common.Logger) *Client {
	opts := []ClientOption{
		WithLogger(logger),
		WithRateLimit(config.RateLimit),
		WithTimeout(config.GetTimeout()),
		WithExchange(exchange),
		WithCircuitBreaker(config.BreakerFailures, config.GetBreakerTimeout()),
	}
	if config.BaseURL != "" {
		opts = append(opts, WithBaseURL(config.BaseURL))
	}
	return NewClient(config.APIKey, opts...)
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open")
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// get performs a rate-limited GET request through the circuit breaker
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doGet(ctx, path, params, result)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("EODHD unavailable (%s): %w", path, err)
	}
	return err
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values, result interface{}) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// Add API key
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// providerTicker qualifies a bare symbol with the client's exchange ("AAPL" → "AAPL.US").
func (c *Client) providerTicker(symbol string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + "." + c.exchange
}

// Ensure Client implements MarketDataProvider
var _ interfaces.MarketDataProvider = (*Client)(nil)
