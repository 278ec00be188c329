package main

// Gateway webhook event types the worker acts on. Everything else is
// acknowledged and dropped.
const (
	EventSessionCompleted      = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// WebhookEvent is a payment gateway webhook delivered to the queue verbatim.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object SessionObject `json:"object"`
	} `json:"data"`
}

type SessionObject struct {
	ID                string `json:"id"`
	PaymentStatus     string `json:"payment_status"`
	ClientReferenceID string `json:"client_reference_id"`
}
