package proclog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticToken(t *testing.T) {
	token, err := StaticToken("abc").Token(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestClientCredentialsProvider_CachesToken(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "procpulse", r.Form.Get("client_id"))
		assert.Equal(t, "secret", r.Form.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	}))
	defer server.Close()

	provider := NewClientCredentialsProvider(server.URL, "procpulse", "secret", nil)

	first, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", first)

	second, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", second)

	assert.Equal(t, int32(1), calls.Load(), "second call should hit the cache")
}

func TestClientCredentialsProvider_RefreshesExpiredToken(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		// expires_in 1s is inside the refresh buffer, so every call refetches.
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":1}`))
	}))
	defer server.Close()

	provider := NewClientCredentialsProvider(server.URL, "procpulse", "secret", nil)

	_, err := provider.Token(context.Background())
	require.NoError(t, err)

	_, err = provider.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestClientCredentialsProvider_ErrorStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := NewClientCredentialsProvider(server.URL, "procpulse", "bad-secret", nil)

	_, err := provider.Token(context.Background())
	assert.ErrorIs(t, err, ErrTokenRequest)
}
