package proclog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

const batchEndpoint = "/v1/events/batch"

type (
	// APIError is a non-2xx response from the server.
	APIError struct {
		StatusCode int
		ErrorCode  string
		Message    string
	}

	// BatchError is one failed row of a batch, by input position.
	BatchError struct {
		Index   int    `json:"index"`
		Message string `json:"error"`
	}

	// BatchResponse is the server's answer to a batch submission.
	//
	//nolint:tagliatelle
	BatchResponse struct {
		BatchID        string       `json:"batch_id"`
		ExecutionIDs   []string     `json:"execution_ids"`
		Errors         []BatchError `json:"errors"`
		TotalInserted  int          `json:"total_inserted"`
		CorrelationIDs []string     `json:"correlation_ids"`
	}

	// Client is a typed HTTP client for the ProcPulse v1 API.
	Client struct {
		config        *Config
		httpClient    *http.Client
		tokenProvider TokenProvider
	}

	// ClientOption configures a Client.
	ClientOption func(*Client)

	// problemBody is the subset of the server's RFC 7807 body the client
	// surfaces in APIError.
	//
	//nolint:tagliatelle
	problemBody struct {
		Detail    string `json:"detail"`
		Title     string `json:"title"`
		ErrorCode string `json:"error_code"`
	}
)

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}

	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the response class is worth retrying.
// 5xx and 429 are transient; other 4xx are terminal.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusTooManyRequests
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenProvider overrides the token provider. By default the OAuth
// triple from Config is used when set.
func WithTokenProvider(provider TokenProvider) ClientOption {
	return func(c *Client) {
		c.tokenProvider = provider
	}
}

// NewClient creates a client for the configured server.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}

	if cfg.oauthConfigured() {
		client.tokenProvider = NewClientCredentialsProvider(
			cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, client.httpClient)
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Send performs a single delivery attempt of a batch. The async logger
// calls this through its own retry and breaker machinery; synchronous
// callers usually want PostEvents instead.
func (c *Client) Send(ctx context.Context, batchID string, events []Event) (*BatchResponse, error) {
	body, err := json.Marshal(struct {
		BatchID string  `json:"batch_id,omitempty"` //nolint:tagliatelle
		Events  []Event `json:"events"`
	}{BatchID: batchID, Events: events})
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+batchEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending batch: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var batchResp BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &batchResp, nil
}

// PostEvents sends events synchronously, retrying transient failures with
// exponential backoff up to MaxRetries.
func (c *Client) PostEvents(ctx context.Context, events []Event) (*BatchResponse, error) {
	var result *BatchResponse

	operation := func() error {
		resp, err := c.Send(ctx, "", events)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Retryable() {
				return backoff.Permanent(err)
			}

			return err
		}

		result = resp

		return nil
	}

	if err := backoff.Retry(operation, c.retryPolicy(ctx)); err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.BaseRetryDelay
	policy.MaxInterval = c.config.MaxRetryDelay
	policy.RandomizationFactor = 0.25

	return backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.config.MaxRetries)), ctx)
}

// authorize attaches credentials. A failed token fetch is retried once;
// a second failure fails the attempt.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokenProvider == nil {
		if c.config.APIKey != "" {
			req.Header.Set("X-Api-Key", c.config.APIKey)
		}

		return nil
	}

	token, err := c.tokenProvider.Token(ctx)
	if err != nil {
		token, err = c.tokenProvider.Token(ctx)
		if err != nil {
			return fmt.Errorf("fetching token: %w", err)
		}
	}

	req.Header.Set("Authorization", "Bearer "+token)

	return nil
}

func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var problem problemBody
	if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil {
		apiErr.ErrorCode = problem.ErrorCode
		apiErr.Message = problem.Detail

		if apiErr.Message == "" {
			apiErr.Message = problem.Title
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	return apiErr
}
