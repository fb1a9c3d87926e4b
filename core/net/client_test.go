package net

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar-connect/swap-sdk-go/errors"
)

func TestGetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`ok`))
	}))
	defer server.Close()

	client := NewClient()
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostSendsJSONContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient()
	resp, err := client.Post(context.Background(), server.URL, strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
}

func TestClientErrorsReturnedForClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient()
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err, "4xx is the caller's to classify")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServerErrorNoRetryByDefault(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient()
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, errors.NETWORK_UNREACHABLE, errors.CodeOf(err))
	assert.Equal(t, 1, attempts, "retry is opt-in")
}

func TestServerErrorRetriedWhenOptedIn(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(
		WithMaxRetries(1),
		WithRetryBackoff(time.Millisecond),
	)
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 2, attempts)
}

func TestPostBodyReplayedOnRetry(t *testing.T) {
	attempts := 0
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		bodies = append(bodies, string(buf[:n]))
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(
		WithMaxRetries(1),
		WithRetryBackoff(time.Millisecond),
	)
	resp, err := client.Post(context.Background(), server.URL, strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1], "body replayed intact on retry")
}

func TestTransportFailure(t *testing.T) {
	client := NewClient(WithTimeout(time.Second))
	_, err := client.Get(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, errors.NETWORK_UNREACHABLE, errors.CodeOf(err))
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient()
	_, err := client.Get(ctx, "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, errors.NETWORK_UNREACHABLE, errors.CodeOf(err))
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := &circuitBreaker{failureLimit: 2, resetTimeout: time.Hour}

	assert.True(t, cb.allowRequest())
	cb.recordFailure()
	assert.True(t, cb.allowRequest())
	cb.recordFailure()
	assert.False(t, cb.allowRequest(), "circuit opens at the failure limit")

	cb.recordSuccess()
	assert.True(t, cb.allowRequest(), "success closes the circuit")
}

func TestCircuitBreakerResetAfterTimeout(t *testing.T) {
	cb := &circuitBreaker{failureLimit: 1, resetTimeout: 10 * time.Millisecond}

	cb.recordFailure()
	assert.False(t, cb.allowRequest())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.allowRequest(), "circuit half-opens after the reset timeout")
}
