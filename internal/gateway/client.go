package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/temmyjay001/payments-core/internal/config"
	"github.com/temmyjay001/payments-core/internal/metrics"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second

	// DependencyName labels the breaker and metrics for the payment gateway.
	DependencyName = "payment-gateway"

	maxResponseBytes = 4 << 20
)

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	breaker     CircuitBreaker
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
}

// Options configures a Client. Zero values fall back to package defaults.
type Options struct {
	BaseURL          string
	AccessToken      string
	Timeout          time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	FailureThreshold int
	OpenDuration     time.Duration
	RateLimit        float64
	RateBurst        int
	HTTPClient       *http.Client
	Breaker          CircuitBreaker
}

// CallOptions overrides the client retry policy for a single call.
type CallOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Operation is the low-cardinality metrics label, e.g. "get_payment".
	Operation string
}

func NewClient(cfg *config.Config) *Client {
	return New(Options{
		BaseURL:          cfg.GatewayBaseURL,
		AccessToken:      cfg.GatewayAccessToken,
		Timeout:          cfg.GatewayTimeout,
		MaxAttempts:      cfg.RetryMaxAttempts,
		BaseDelay:        cfg.RetryBaseDelay,
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenDuration:     cfg.BreakerOpenDuration,
		RateLimit:        cfg.GatewayRateLimit,
		RateBurst:        cfg.GatewayRateBurst,
	})
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = 60 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = NewBreaker(DependencyName, opts.FailureThreshold, opts.OpenDuration)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		accessToken: opts.AccessToken,
		httpClient:  httpClient,
		breaker:     breaker,
		limiter:     limiter,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
	}
}

// BreakerSnapshot exposes the breaker state for ops endpoints.
func (c *Client) BreakerSnapshot() BreakerSnapshot {
	return c.breaker.Snapshot()
}

// Call performs method on path, JSON encoding body and decoding the response into out.
// Retryable failures are retried with exponential backoff; every attempt is gated by
// the circuit breaker and counted toward it.
func (c *Client) Call(ctx context.Context, method, path string, body, out interface{}, opts *CallOptions) error {
	maxAttempts, baseDelay, operation := c.maxAttempts, c.baseDelay, "call"
	if opts != nil {
		if opts.MaxAttempts > 0 {
			maxAttempts = opts.MaxAttempts
		}
		if opts.BaseDelay > 0 {
			baseDelay = opts.BaseDelay
		}
		if opts.Operation != "" {
			operation = opts.Operation
		}
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request %s %s: %w", method, path, err)
		}
		payload = encoded
	}

	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = baseDelay
	delays.Multiplier = 2
	delays.RandomizationFactor = 0
	delays.MaxInterval = baseDelay << uint(maxAttempts)
	delays.Reset()

	for attempt := 1; ; attempt++ {
		if err := c.breaker.Allow(); err != nil {
			metrics.GatewayRequestsTotal.WithLabelValues(method, operation, string(KindCircuitOpen)).Inc()
			log.Printf("Gateway %s %s rejected without a network call: %v", method, path, err)
			return &Error{Kind: KindCircuitOpen, Method: method, Path: path, Attempts: attempt - 1, cause: err}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			c.breaker.Release()
			return &Error{Kind: KindCanceled, Method: method, Path: path, Attempts: attempt - 1, cause: err}
		}

		start := time.Now()
		respBody, err := c.do(ctx, method, path, payload)
		metrics.GatewayRequestDuration.WithLabelValues(method, operation).Observe(time.Since(start).Seconds())

		if err == nil {
			c.breaker.RecordSuccess()
			metrics.GatewayRequestsTotal.WithLabelValues(method, operation, "success").Inc()
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("failed to decode gateway response %s %s: %w", method, path, err)
				}
			}
			return nil
		}

		err.Attempts = attempt
		metrics.GatewayRequestsTotal.WithLabelValues(method, operation, string(err.Kind)).Inc()

		if err.Kind == KindCanceled {
			c.breaker.Release()
			log.Printf("Gateway %s %s abandoned by caller on attempt %d", method, path, attempt)
			return err
		}

		c.breaker.RecordFailure()

		if !err.Retryable() || attempt >= maxAttempts {
			log.Printf("Gateway %s %s failed after %d attempt(s): %v", method, path, attempt, err)
			return err
		}

		delay := delays.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		metrics.GatewayRetriesTotal.WithLabelValues(operation).Inc()
		log.Printf("Gateway %s %s attempt %d/%d failed (%v), retrying in %s", method, path, attempt, maxAttempts, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Kind: KindCanceled, Method: method, Path: path, Attempts: attempt, cause: errors.Join(ctx.Err(), err)}
		case <-timer.C:
		}
	}
}

// do issues one HTTP attempt and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, *Error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Method: method, Path: path, cause: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "PaymentsCore/1.0")
	req.Header.Set("access_token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newTransportError(ctx, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newTransportError(ctx, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(method, path, resp.StatusCode, body)
	}

	return body, nil
}
