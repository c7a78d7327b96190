package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient(&Config{BaseURL: "https://api.example.com"})

	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.NoError(t, client.Close())
}

func TestNewClient_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"missing base url", &Config{}},
		{"malformed base url", &Config{BaseURL: "not a url"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)

			assert.Error(t, err)
			assert.Nil(t, client)
		})
	}
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/ticker", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"50000.5"}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	var result struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	resp, err := client.Get(context.Background(), "/ticker",
		WithQueryParam("symbol", "BTCUSDT"),
		WithResult(&result),
	)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "BTCUSDT", result.Symbol)
	assert.Equal(t, "50000.5", result.Price)
}

func TestClient_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "signed", r.Header.Get("X-Signature"))

		body, readErr := io.ReadAll(r.Body)
		assert.NoError(t, readErr)
		var order map[string]string
		assert.NoError(t, sonic.Unmarshal(body, &order))
		assert.Equal(t, "BTCUSDT", order["symbol"])
		assert.Equal(t, "buy", order["side"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"order_id":"843"}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	var result struct {
		OrderID string `json:"order_id"`
	}
	resp, err := client.Post(context.Background(), "/orders",
		map[string]string{"symbol": "BTCUSDT", "side": "buy"},
		WithHeader("X-Signature", "signed"),
		WithResult(&result),
	)

	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode())
	assert.Equal(t, "843", result.OrderID)
}

func TestClient_Put(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/orders/843", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Put(context.Background(), "/orders/843", map[string]string{"price": "51000"})

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
}

func TestClient_Delete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/orders/843", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Delete(context.Background(), "/orders/843")

	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode())
}

func TestClient_DefaultHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-123", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(&Config{
		BaseURL: server.URL,
		Headers: map[string]string{"X-Api-Key": "key-123"},
	})
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Get(context.Background(), "/balances")

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
}

func TestClient_ErrorResponseDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	resp, err := client.Get(context.Background(), "/ticker", WithError(&apiErr))

	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode())
	assert.True(t, resp.IsError())
	assert.Equal(t, -1121, apiErr.Code)
	assert.Equal(t, "Invalid symbol.", apiErr.Msg)
}

func TestClient_RequestAfterClose(t *testing.T) {
	client, err := NewClient(&Config{BaseURL: "https://api.example.com"})
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	resp, err := client.Get(context.Background(), "/ticker")

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "closed")
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Get(ctx, "/slow")

	assert.Error(t, err)
}
