package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	last *sqs.SendMessageInput
	err  error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.last = in
	return &sqs.SendMessageOutput{MessageId: aws.String("sqs-msg-1")}, nil
}

func TestSQSPublish(t *testing.T) {
	fake := &fakeSQS{}
	p := &SQSPublisher{client: fake, queueURL: "https://sqs.local/q", opts: Options{Timeout: time.Second}}

	id, err := p.Publish(context.Background(), []byte(`{"fileId":"1"}`), map[string]string{"project": "demo"})
	require.NoError(t, err)
	assert.Equal(t, "sqs-msg-1", id)
	assert.Equal(t, "https://sqs.local/q", aws.ToString(fake.last.QueueUrl))
	assert.Equal(t, `{"fileId":"1"}`, aws.ToString(fake.last.MessageBody))
	assert.Equal(t, "demo", aws.ToString(fake.last.MessageAttributes["project"].StringValue))
	assert.Equal(t, "String", aws.ToString(fake.last.MessageAttributes["project"].DataType))
}

func TestSQSPublishError(t *testing.T) {
	boom := errors.New("access denied")
	p := &SQSPublisher{client: &fakeSQS{err: boom}, queueURL: "q"}

	_, err := p.Publish(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, boom)
}

// fakeChannel confirms every publish with the configured ack unless hold is set.
type fakeChannel struct {
	confirms  chan amqp.Confirmation
	published []amqp.Publishing
	ack       bool
	hold      bool
	closed    bool
	tag       uint64
}

func (f *fakeChannel) Confirm(bool) error { return nil }

func (f *fakeChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirms = c
	return c
}

func (f *fakeChannel) Publish(_, _ string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, msg)
	f.tag++
	if !f.hold {
		f.confirms <- amqp.Confirmation{DeliveryTag: f.tag, Ack: f.ack}
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublishWaitsForAck(t *testing.T) {
	ch := &fakeChannel{ack: true}
	p, err := newAMQPPublisher(ch, "scrub", "scrub.files", Options{Timeout: time.Second})
	require.NoError(t, err)

	id, err := p.Publish(context.Background(), []byte(`{}`), map[string]string{"project": "demo"})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, id, msg.MessageId)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "demo", msg.Headers["project"])

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestAMQPPublishNack(t *testing.T) {
	ch := &fakeChannel{ack: false}
	p, err := newAMQPPublisher(ch, "", "q", Options{})
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), []byte(`{}`), nil)
	assert.ErrorIs(t, err, ErrNotAcknowledged)
}

func TestAMQPPublishTimesOutAndRecovers(t *testing.T) {
	ch := &fakeChannel{ack: true, hold: true}
	p, err := newAMQPPublisher(ch, "", "q", Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), []byte(`{}`), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the late confirmation arrives and is consumed before the next publish
	ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
	ch.hold = false
	_, err = p.Publish(context.Background(), []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Len(t, ch.published, 2)
}
