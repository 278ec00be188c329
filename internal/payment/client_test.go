package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
)

func TestHTTPGateway_CreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "order-o-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "o-1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "asha@example.com", r.PostForm.Get("customer_email"))
		assert.Equal(t, "inr", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "299", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "Apple", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "2", r.PostForm.Get("line_items[0][quantity]"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_123",
			"url":            "https://pay.example/cs_123",
			"payment_intent": "pi_123",
			"payment_status": "unpaid",
			"status":         "open",
		})
	}))
	defer srv.Close()

	g := NewHTTPGateway(ClientConfig{BaseURL: srv.URL, APIKey: "sk_test"})
	s, err := g.CreateSession(context.Background(), SessionRequest{
		OrderID:       "o-1",
		CustomerEmail: "asha@example.com",
		Currency:      "inr",
		Lines:         []SessionLine{{Name: "Apple", UnitAmount: 299, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", s.ID)
	assert.Equal(t, "https://pay.example/cs_123", s.URL)
	assert.Equal(t, "pi_123", s.PaymentIntent)
	assert.False(t, s.Captured())
}

func TestHTTPGateway_GetAndExpire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_9":
			_, _ = w.Write([]byte(`{"id":"cs_9","payment_status":"paid","status":"complete"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions/cs_9/expire":
			_, _ = w.Write([]byte(`{"id":"cs_9","payment_status":"unpaid","status":"expired"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such session"}}`))
		}
	}))
	defer srv.Close()

	g := NewHTTPGateway(ClientConfig{BaseURL: srv.URL, APIKey: "sk_test"})
	ctx := context.Background()

	s, err := g.GetSession(ctx, "cs_9")
	require.NoError(t, err)
	assert.True(t, s.Captured())

	require.NoError(t, g.ExpireSession(ctx, "cs_9"))

	_, err = g.GetSession(ctx, "cs_missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindGateway, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "No such session")
}

func TestHTTPGateway_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewHTTPGateway(ClientConfig{BaseURL: srv.URL, APIKey: "sk_test"})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := g.GetSession(ctx, "cs_1")
		require.Error(t, err)
		assert.Equal(t, apperr.KindGateway, apperr.KindOf(err))
	}
	assert.Equal(t, int32(3), hits.Load(), "calls after the breaker opens never reach the gateway")

	_, err := g.GetSession(ctx, "cs_1")
	assert.Contains(t, err.Error(), "circuit breaker PaymentGateway is open")
}

func TestHTTPGateway_ClientErrorsKeepBreakerClosed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such session"}}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(ClientConfig{BaseURL: srv.URL, APIKey: "sk_test"})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := g.GetSession(ctx, "cs_unknown")
		require.Error(t, err)
		assert.Equal(t, apperr.KindGateway, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "No such session")
	}
	assert.Equal(t, int32(6), hits.Load(), "unknown sessions never open the circuit")
}
