package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices", r.URL.Path)
		assert.Equal(t, "XLM,USDC", r.URL.Query().Get("symbols"))
		assert.Equal(t, "USD", r.URL.Query().Get("currency"))

		w.Write([]byte(`{"prices": [
			{"symbol": "XLM", "price": "0.1234"},
			{"symbol": "USDC", "price": "1.0001"}
		]}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider("test-oracle", server.URL)
	quotes, err := provider.Fetch(context.Background(), []string{"XLM", "USDC"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	assert.Equal(t, "XLM", quotes[0].Symbol)
	assert.True(t, quotes[0].Price.Equal(decimal.RequireFromString("0.1234")))
	assert.Equal(t, "USD", quotes[0].Currency)
	assert.Equal(t, "test-oracle", quotes[0].Source)
	assert.False(t, quotes[0].ReceivedAt.IsZero())
}

func TestFetchCustomCurrency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EUR", r.URL.Query().Get("currency"))
		w.Write([]byte(`{"prices": []}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider("test-oracle", server.URL, WithCurrency("EUR"))
	quotes, err := provider.Fetch(context.Background(), []string{"XLM"})
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestFetchMalformedPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prices": [{"symbol": "XLM", "price": "not-a-number"}]}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider("test-oracle", server.URL)
	_, err := provider.Fetch(context.Background(), []string{"XLM"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XLM")
}

func TestFetchNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider := NewHTTPProvider("test-oracle", server.URL)
	_, err := provider.Fetch(context.Background(), []string{"XLM"})
	require.Error(t, err)
}
