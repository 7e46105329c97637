package dataservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/openrules/openrules/pkg/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options tune the client. Zero values take the engine defaults.
type Options struct {
	// DefaultTimeout bounds one call when the config sets no TimeoutMs.
	DefaultTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retries; negative selects the engine default.
	MaxRetries int

	// BackoffInitial is the first retry delay; it doubles per attempt.
	BackoffInitial time.Duration

	// BackoffCap caps the retry delay.
	BackoffCap time.Duration

	// GlobalConcurrency bounds in-flight calls across all endpoints.
	GlobalConcurrency int64

	// PerEndpointConcurrency bounds in-flight calls per endpoint.
	PerEndpointConcurrency int64
}

func (o *Options) applyDefaults() {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 2 * time.Second
	}
	if o.GlobalConcurrency <= 0 {
		o.GlobalConcurrency = 64
	}
	if o.PerEndpointConcurrency <= 0 {
		o.PerEndpointConcurrency = 16
	}
}

// endpointState holds the per-endpoint breaker and concurrency bound.
type endpointState struct {
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker
}

// Client implements engine.DataServiceClient for GRAPHQL and REST
// configs. It is safe for concurrent use.
type Client struct {
	http   *http.Client
	opts   Options
	logger zerolog.Logger
	global *semaphore.Weighted

	mu        sync.Mutex
	endpoints map[string]*endpointState
}

// New creates a client.
func New(opts Options, logger zerolog.Logger) *Client {
	opts.applyDefaults()
	return &Client{
		http: &http.Client{
			// Per-request timeouts come from the call context; the
			// transport-level timeout is a backstop.
			Timeout: opts.DefaultTimeout + 5*time.Second,
		},
		opts:      opts,
		logger:    logger,
		global:    semaphore.NewWeighted(opts.GlobalConcurrency),
		endpoints: make(map[string]*endpointState),
	}
}

func (c *Client) endpoint(name string) *endpointState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.endpoints[name]
	if !ok {
		state = &endpointState{
			sem: semaphore.NewWeighted(c.opts.PerEndpointConcurrency),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name: name,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
				Timeout: 30 * time.Second,
			}),
		}
		c.endpoints[name] = state
	}
	return state
}

// Execute implements engine.DataServiceClient.
func (c *Client) Execute(ctx context.Context, config *engine.DataServiceConfig, variables map[string]interface{}) (interface{}, error) {
	if config == nil {
		return nil, engine.NewPermanentError("data-service config is nil", nil).
			WithCode(engine.ErrCodeDataService)
	}

	timeout := c.opts.DefaultTimeout
	if config.TimeoutMs > 0 {
		timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.global.Acquire(callCtx, 1); err != nil {
		return nil, timeoutError(config.Endpoint, err)
	}
	defer c.global.Release(1)

	state := c.endpoint(config.Endpoint)
	if err := state.sem.Acquire(callCtx, 1); err != nil {
		return nil, timeoutError(config.Endpoint, err)
	}
	defer state.sem.Release(1)

	response, err := state.breaker.Execute(func() (interface{}, error) {
		return c.executeWithRetry(callCtx, config, variables)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, engine.NewThrottledError(
			fmt.Sprintf("circuit open for %s", config.Endpoint), err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(config.Endpoint).
			WithSuggestion("the endpoint is failing; calls resume after the cool-down")
	}
	return response, err
}

// executeWithRetry retries transient failures with exponential backoff.
func (c *Client) executeWithRetry(ctx context.Context, config *engine.DataServiceConfig, variables map[string]interface{}) (interface{}, error) {
	var lastErr error
	delay := c.opts.BackoffInitial

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().
				Str("endpoint", config.Endpoint).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying data-service call")
			select {
			case <-ctx.Done():
				return nil, timeoutError(config.Endpoint, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.opts.BackoffCap {
				delay = c.opts.BackoffCap
			}
		}

		var (
			response interface{}
			err      error
		)
		switch config.Type {
		case engine.DataServiceGraphQL:
			response, err = c.executeGraphQL(ctx, config, variables)
		case engine.DataServiceREST:
			response, err = c.executeREST(ctx, config, variables)
		default:
			return nil, engine.NewPermanentError(
				fmt.Sprintf("unknown data-service type %q", config.Type), nil).
				WithCode(engine.ErrCodeDataService).
				WithEndpoint(config.Endpoint)
		}
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !engine.IsRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, timeoutError(config.Endpoint, ctx.Err())
		}
	}
	return nil, lastErr
}

func timeoutError(endpoint string, cause error) error {
	return engine.NewTransientError("data-service call timed out", cause).
		WithCode(engine.ErrCodeTimeout).
		WithEndpoint(endpoint)
}

// send performs one HTTP round trip and classifies failures.
func (c *Client) send(req *http.Request) (*http.Response, []byte, error) {
	endpoint := req.URL.String()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, timeoutError(endpoint, err)
		}
		return nil, nil, engine.NewTransientError("network failure", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, engine.NewTransientError("failed to read response body", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint).
			WithStatus(resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout:
		return nil, nil, engine.NewTransientError(
			fmt.Sprintf("server error: %s", http.StatusText(resp.StatusCode)), nil).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint).
			WithStatus(resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, engine.NewThrottledError("rate limited", nil).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint).
			WithStatus(resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, nil, engine.NewPermanentError(
			fmt.Sprintf("client error: %s", http.StatusText(resp.StatusCode)), nil).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint).
			WithStatus(resp.StatusCode)
	}
	return resp, body, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// applyAuth sets the auth headers the config demands.
func applyAuth(req *http.Request, auth engine.AuthConfig) error {
	switch auth.Type {
	case "", engine.AuthNone:
		return nil
	case engine.AuthAPIKey:
		header := auth.HeaderName
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Key)
		return nil
	case engine.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
		return nil
	case engine.AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
		return nil
	case engine.AuthOAuth2:
		// Client-credentials token acquisition happens out of band; the
		// acquired token rides the same bearer header.
		if auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Token)
			return nil
		}
		return engine.NewPermanentError("oauth2 auth requires an acquired token", nil).
			WithCode(engine.ErrCodeDataService).
			WithSuggestion("run the token exchange before issuing calls")
	}
	return engine.NewPermanentError(fmt.Sprintf("unknown auth type %q", auth.Type), nil).
		WithCode(engine.ErrCodeDataService)
}

// Validate implements engine.DataServiceClient. GRAPHQL configs get a
// minimal introspection query; REST configs get HEAD with a GET
// fallback. Both run under a one-second timeout.
func (c *Client) Validate(ctx context.Context, config *engine.DataServiceConfig) error {
	checkCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	endpoint, auth := config.Endpoint, config.Auth
	if config.Type == engine.DataServiceGraphQL {
		return c.validateGraphQL(checkCtx, endpoint, auth)
	}

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, endpoint, nil)
	if err != nil {
		return engine.NewPermanentError("invalid endpoint", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint)
	}
	if err := applyAuth(req, auth); err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err == nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusMethodNotAllowed {
		resp.Body.Close()
		return nil
	}
	if resp != nil {
		resp.Body.Close()
	}

	req, err = http.NewRequestWithContext(checkCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return engine.NewPermanentError("invalid endpoint", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint)
	}
	if err := applyAuth(req, auth); err != nil {
		return err
	}
	resp, err = c.http.Do(req)
	if err != nil {
		return engine.NewTransientError("endpoint unreachable", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return engine.NewTransientError(
			fmt.Sprintf("endpoint unhealthy: %s", http.StatusText(resp.StatusCode)), nil).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint).
			WithStatus(resp.StatusCode)
	}
	return nil
}

func (c *Client) validateGraphQL(ctx context.Context, endpoint string, auth engine.AuthConfig) error {
	payload := map[string]string{"query": "{ __typename }"}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return engine.NewPermanentError("invalid endpoint", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := applyAuth(req, auth); err != nil {
		return err
	}
	_, _, err = c.send(req)
	return err
}
