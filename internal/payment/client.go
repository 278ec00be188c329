package payment

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
)

// ClientConfig configures HTTPGateway.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPGateway talks to a Stripe-compatible checkout sessions API. Every call
// goes through a circuit breaker; no automatic retries.
type HTTPGateway struct {
	client  *resty.Client
	circuit *CircuitBreakerWrapper
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewHTTPGateway(cfg ClientConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPGateway{
		client: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetAuthToken(cfg.APIKey).
			SetTimeout(timeout).
			SetRetryCount(0),
		circuit: NewCircuitBreaker("PaymentGateway", "orders-api"),
	}
}

// sessionForm encodes a session request the way the gateway's form API
// expects it.
func sessionForm(req SessionRequest) map[string]string {
	form := map[string]string{
		"mode":                "payment",
		"success_url":         req.SuccessURL,
		"cancel_url":          req.CancelURL,
		"customer_email":      req.CustomerEmail,
		"client_reference_id": req.OrderID,
		"metadata[order_id]":  req.OrderID,
	}
	for i, l := range req.Lines {
		p := fmt.Sprintf("line_items[%d]", i)
		form[p+"[quantity]"] = strconv.Itoa(l.Quantity)
		form[p+"[price_data][currency]"] = req.Currency
		form[p+"[price_data][unit_amount]"] = strconv.FormatInt(l.UnitAmount, 10)
		form[p+"[price_data][product_data][name]"] = l.Name
		if l.ImageRef != "" {
			form[p+"[price_data][product_data][images][0]"] = l.ImageRef
		}
	}
	return form
}

// call runs one request through the breaker and decodes a Session.
func (g *HTTPGateway) call(op string, do func(out *Session, apiErr *apiError) (*resty.Response, error)) (*Session, error) {
	res, err := g.circuit.Execute(func() (interface{}, error) {
		var (
			out    Session
			apiErr apiError
		)
		resp, httpErr := do(&out, &apiErr)
		if httpErr != nil {
			return nil, fmt.Errorf("HTTP error: %w", httpErr)
		}
		if code := resp.StatusCode(); code != http.StatusOK {
			err := fmt.Errorf("gateway returned status %d: %s", code, apiErr.Error.Message)
			if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
				return nil, &ClientError{Err: err}
			}
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, apperr.Gateway(err, "payment gateway %s failed", op)
	}
	return res.(*Session), nil
}

func (g *HTTPGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	return g.call("create session", func(out *Session, apiErr *apiError) (*resty.Response, error) {
		return g.client.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", "order-"+req.OrderID).
			SetFormData(sessionForm(req)).
			SetResult(out).
			SetError(apiErr).
			Post("/v1/checkout/sessions")
	})
}

func (g *HTTPGateway) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return g.call("get session", func(out *Session, apiErr *apiError) (*resty.Response, error) {
		return g.client.R().
			SetContext(ctx).
			SetPathParam("id", sessionID).
			SetResult(out).
			SetError(apiErr).
			Get("/v1/checkout/sessions/{id}")
	})
}

func (g *HTTPGateway) ExpireSession(ctx context.Context, sessionID string) error {
	_, err := g.call("expire session", func(out *Session, apiErr *apiError) (*resty.Response, error) {
		return g.client.R().
			SetContext(ctx).
			SetPathParam("id", sessionID).
			SetResult(out).
			SetError(apiErr).
			Post("/v1/checkout/sessions/{id}/expire")
	})
	return err
}
