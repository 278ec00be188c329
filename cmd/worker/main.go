package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/grocery-orderflow/internal/aws"
	"github.com/imrishuroy/grocery-orderflow/internal/config"
	"github.com/imrishuroy/grocery-orderflow/internal/idempotency"
	"github.com/imrishuroy/grocery-orderflow/internal/logging"
	"github.com/imrishuroy/grocery-orderflow/internal/orders"
	"github.com/imrishuroy/grocery-orderflow/internal/payment"
)

func newGateway(cfg config.Config) payment.Gateway {
	if cfg.PaymentFake {
		return payment.NewFakeGateway("http://localhost" + cfg.Addr())
	}
	return payment.NewHTTPGateway(payment.ClientConfig{
		BaseURL: cfg.PaymentGatewayURL,
		APIKey:  cfg.PaymentGatewayKey,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.Options{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpointOverride})
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	var publisher orders.EventPublisher = orders.NopPublisher{}
	if cfg.OrdersQueueURL != "" {
		publisher = aws.NewPublisher(clients.SQS, cfg.OrdersQueueURL)
	}
	idemStore := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	coordinator := payment.NewCoordinator(payment.Deps{
		Orders:  orders.NewDynamoStore(clients.DynamoDB, cfg.OrdersTable, idemStore),
		Gateway: newGateway(cfg),
		Events:  publisher,
	}, payment.Options{Currency: cfg.PaymentCurrency})
	p := NewProcessor(coordinator)

	// If RUN_LOCAL=true, drain one batch from PAYMENTS_QUEUE_URL when it is
	// set, otherwise process a single simulated SQS message, and exit.
	if cfg.RunLocal && cfg.PaymentsQueueURL != "" {
		n, err := pollOnce(ctx, clients.SQSConsumer, cfg.PaymentsQueueURL, p)
		if err != nil {
			log.Fatalf("local poll error: %v", err)
		}
		log.WithFields(log.Fields{"queue": cfg.PaymentsQueueURL, "messages": n}).Info("local batch processed")
		return
	}
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"id":"evt_local","type":"checkout.session.completed","data":{"object":{"id":"cs_local"}}}`
		}
		resp, err := p.Handle(ctx, events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		log.WithField("failures", len(resp.BatchItemFailures)).Info("local message processed")
		return
	}

	lambda.Start(p.Handle)
}
