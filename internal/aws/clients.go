package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// AWSClients bundles the service clients shared by the API and the worker.
type AWSClients struct {
	DynamoDB    DynamoDBAPI
	SQS         SQSAPI
	SQSConsumer SQSConsumerAPI
	CloudWatch  CloudWatchAPI
}

// NewAWSClients loads AWS config and returns concrete service clients that implement our interfaces.
func NewAWSClients(ctx context.Context, opts Options) (*AWSClients, error) {
	cfg, err := LoadAWSConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	queue := sqs.NewFromConfig(cfg)
	return &AWSClients{
		DynamoDB:    dynamodb.NewFromConfig(cfg),
		SQS:         queue,
		SQSConsumer: queue,
		CloudWatch:  cloudwatch.NewFromConfig(cfg),
	}, nil
}
