package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.5","101.0","99.5","100.8","12.5",1700003599999,"1260.0",42,"6.0","604.0","0"],
			[1700003600000,"100.8","102.0","100.1","101.9","8.0",1700007199999,"815.0",30,"4.0","407.0","0"]
		]`))
	}))
	defer srv.Close()

	c := NewClient(false)
	c.BaseURL = srv.URL

	klines, err := c.Klines(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, int64(1700000000000), klines[0].OpenTime)
	assert.Equal(t, 100.8, klines[0].Close)
	assert.Equal(t, 42, klines[0].NumberOfTrades)
	assert.Equal(t, "BTCUSDT", klines[1].Symbol)
}

func TestKlinesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := NewClient(false)
	c.BaseURL = srv.URL

	_, err := c.Klines(context.Background(), "NOPE", "1h", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol")
}
