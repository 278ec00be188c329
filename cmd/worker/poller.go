package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/grocery-orderflow/internal/aws"
)

const (
	pollBatchSize   = 10
	pollWaitSeconds = 10
)

// pollOnce receives one batch from the payments queue, runs it through the
// processor and deletes every message that was not reported as failed. Failed
// messages stay on the queue and come back after the visibility timeout.
func pollOnce(ctx context.Context, q aws.SQSConsumerAPI, queueURL string, p *Processor) (int, error) {
	out, err := q.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            sdkaws.String(queueURL),
		MaxNumberOfMessages: pollBatchSize,
		WaitTimeSeconds:     pollWaitSeconds,
	})
	if err != nil {
		return 0, fmt.Errorf("receive messages: %w", err)
	}

	batch := events.SQSEvent{Records: make([]events.SQSMessage, 0, len(out.Messages))}
	handles := make(map[string]*string, len(out.Messages))
	for _, m := range out.Messages {
		id := sdkaws.ToString(m.MessageId)
		batch.Records = append(batch.Records, events.SQSMessage{
			MessageId:     id,
			ReceiptHandle: sdkaws.ToString(m.ReceiptHandle),
			Body:          sdkaws.ToString(m.Body),
		})
		handles[id] = m.ReceiptHandle
	}
	if len(batch.Records) == 0 {
		return 0, nil
	}

	resp, err := p.Handle(ctx, batch)
	if err != nil {
		return 0, err
	}
	for _, f := range resp.BatchItemFailures {
		delete(handles, f.ItemIdentifier)
	}
	for id, handle := range handles {
		if _, err := q.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      sdkaws.String(queueURL),
			ReceiptHandle: handle,
		}); err != nil {
			log.WithError(err).WithField("message_id", id).Warn("failed to delete processed message")
		}
	}
	return len(batch.Records), nil
}
