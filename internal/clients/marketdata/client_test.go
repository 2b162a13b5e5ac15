package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, zerolog.New(nil).Level(zerolog.Disabled)), srv
}

func TestGetCurrentPrice(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/price", r.URL.Path)
		assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTC","price":"50123.45"}`))
	}))
	defer srv.Close()

	price, err := client.GetCurrentPrice(context.Background(), "btc")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(50123.45)), "got %s", price)
}

func TestGetCurrentPrice_RejectsNonPositive(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTC","price":"0"}`))
	}))
	defer srv.Close()

	_, err := client.GetCurrentPrice(context.Background(), "BTC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-positive price")
}

func TestGetCurrentPrice_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"symbol":"ETH","price":"2000"}`))
	}))
	defer srv.Close()

	price, err := client.GetCurrentPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetCurrentPrice_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := client.GetCurrentPrice(context.Background(), "BTC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestEstimateSlippage(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/slippage", r.URL.Path)
		assert.Equal(t, "SOL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "BUY", r.URL.Query().Get("side"))
		assert.Equal(t, "1000", r.URL.Query().Get("notional"))
		w.Write([]byte(`{"symbol":"SOL","side":"BUY","fraction":"0.0012"}`))
	}))
	defer srv.Close()

	fraction, err := client.EstimateSlippage(context.Background(), "SOL", "BUY", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, fraction.Equal(decimal.NewFromFloat(0.0012)), "got %s", fraction)
}

func TestEstimateSlippage_RejectsNegativeFraction(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"SOL","side":"SELL","fraction":"-0.01"}`))
	}))
	defer srv.Close()

	_, err := client.EstimateSlippage(context.Background(), "SOL", "SELL", decimal.NewFromInt(500))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative slippage fraction")
}
