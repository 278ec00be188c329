package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/auth"
	"github.com/imrishuroy/grocery-orderflow/internal/orders"
)

// Confirmer marks orders paid once the gateway reports the session captured.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, sessionID string, p *auth.Principal) (*orders.Order, error)
}

// errDrop marks a message that can never succeed. It is logged and
// acknowledged instead of retried.
var errDrop = errors.New("message dropped")

// Processor handles SQS batches of gateway webhook events.
type Processor struct {
	confirmer Confirmer
}

func NewProcessor(c Confirmer) *Processor {
	return &Processor{confirmer: c}
}

// Handle processes every record and reports the ones to retry as batch item
// failures, so one bad message does not redeliver the whole batch.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		entry := log.WithField("message_id", rec.MessageId)
		err := p.processMessage(ctx, rec)
		switch {
		case err == nil:
		case errors.Is(err, errDrop):
			entry.WithError(err).Warn("dropping message")
		default:
			entry.WithError(err).Error("message failed, will retry")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev WebhookEvent
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("%w: invalid message body: %v", errDrop, err)
	}
	fields := log.Fields{"event_id": ev.ID, "event_type": ev.Type}

	switch ev.Type {
	case EventSessionCompleted, EventAsyncPaymentSucceeded:
	default:
		log.WithFields(fields).Debug("ignoring event type")
		return nil
	}
	sessionID := ev.Data.Object.ID
	if sessionID == "" {
		return fmt.Errorf("%w: event %s has no session id", errDrop, ev.ID)
	}
	fields["session_id"] = sessionID

	o, err := p.confirmer.ConfirmPayment(ctx, sessionID, nil)
	switch {
	case err == nil:
		log.WithFields(fields).WithField("order_id", o.OrderID).Info("payment confirmed")
		return nil
	case errors.Is(err, apperr.ErrOrderNotFound):
		return fmt.Errorf("%w: %v", errDrop, err)
	default:
		// PaymentNotCompleted and gateway failures resolve on a later delivery.
		return fmt.Errorf("confirm session %s: %w", sessionID, err)
	}
}
