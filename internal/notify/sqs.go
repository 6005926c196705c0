package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends messages to one SQS queue.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
	opts     Options
}

func NewSQSPublisher(client *sqs.Client, queueURL string, opts Options) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL, opts: opts}
}

// Publish sends body with attrs as string message attributes. It returns once
// SQS has accepted the message.
func (p *SQSPublisher) Publish(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	ctx, cancel := p.opts.context(ctx)
	defer cancel()

	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if len(attrs) > 0 {
		in.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			in.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	start := time.Now()
	out, err := p.client.SendMessage(ctx, in)
	p.opts.Metrics.ObserveGateway("queue", "publish", err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("publishing to SQS: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func (p *SQSPublisher) Close() error { return nil }
