package proclog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// refreshBuffer is subtracted from a token's lifetime so refresh happens
// before the server-side expiry.
const refreshBuffer = 30 * time.Second

// ErrTokenRequest is returned when the token endpoint rejects the request.
var ErrTokenRequest = errors.New("token request failed")

type (
	// TokenProvider supplies bearer tokens for outgoing requests.
	TokenProvider interface {
		Token(ctx context.Context) (string, error)
	}

	// StaticToken is a TokenProvider that always returns the same token.
	StaticToken string

	// ClientCredentialsProvider fetches tokens via the OAuth client
	// credentials grant and caches them until shortly before expiry.
	ClientCredentialsProvider struct {
		tokenURL     string
		clientID     string
		clientSecret string
		httpClient   *http.Client

		mu        sync.Mutex
		token     string
		expiresAt time.Time
	}

	tokenResponse struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
)

// Token returns the static token.
func (t StaticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}

// NewClientCredentialsProvider creates a caching client-credentials provider.
func NewClientCredentialsProvider(tokenURL, clientID, clientSecret string, httpClient *http.Client) *ClientCredentialsProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &ClientCredentialsProvider{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
	}
}

// Token returns the cached token, refreshing it when it is missing or
// within the refresh buffer of expiry.
func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expiresAt.Add(-refreshBuffer)) {
		return p.token, nil
	}

	token, expiresIn, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}

	p.token = token
	p.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)

	return token, nil
}

func (p *ClientCredentialsProvider) fetch(ctx context.Context) (string, int64, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrTokenRequest, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrTokenRequest, err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: status %d", ErrTokenRequest, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("%w: decoding response: %w", ErrTokenRequest, err)
	}

	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: empty access token", ErrTokenRequest)
	}

	return tr.AccessToken, tr.ExpiresIn, nil
}
