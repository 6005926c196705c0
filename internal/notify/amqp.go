package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ErrNotAcknowledged is returned when the broker nacks a message.
var ErrNotAcknowledged = errors.New("broker did not acknowledge message")

// AMQPPublisher publishes to an exchange with publisher confirms enabled.
// Publishes are serialized so each confirmation matches its message.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	confirms chan amqp.Confirmation
	pending  int // confirmations abandoned by timed-out publishes
	exchange string
	key      string
	opts     Options
}

// DialAMQP connects to url and opens a confirming channel.
func DialAMQP(url, exchange, routingKey string, opts Options) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening AMQP channel: %w", err)
	}
	p, err := newAMQPPublisher(ch, exchange, routingKey, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange, routingKey string, opts Options) (*AMQPPublisher, error) {
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enabling publisher confirms: %w", err)
	}
	return &AMQPPublisher{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		exchange: exchange,
		key:      routingKey,
		opts:     opts,
	}, nil
}

// Publish sends body as a persistent JSON message and waits for the broker's
// confirmation. The returned id is the generated AMQP MessageId.
func (p *AMQPPublisher) Publish(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	ctx, cancel := p.opts.context(ctx)
	defer cancel()

	headers := make(amqp.Table, len(attrs))
	for k, v := range attrs {
		headers[k] = v
	}
	id := uuid.NewString()

	start := time.Now()
	err := p.publish(ctx, amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    start.UTC(),
		Body:         body,
	})
	p.opts.Metrics.ObserveGateway("queue", "publish", err, time.Since(start))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *AMQPPublisher) publish(ctx context.Context, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.pending > 0 {
		select {
		case _, ok := <-p.confirms:
			if !ok {
				return fmt.Errorf("publishing to AMQP: channel closed")
			}
			p.pending--
		case <-ctx.Done():
			return fmt.Errorf("waiting for earlier AMQP confirmation: %w", ctx.Err())
		}
	}

	if err := p.ch.Publish(p.exchange, p.key, false, false, msg); err != nil {
		return fmt.Errorf("publishing to AMQP: %w", err)
	}
	select {
	case c, ok := <-p.confirms:
		if !ok {
			return fmt.Errorf("publishing to AMQP: channel closed before confirmation")
		}
		if !c.Ack {
			return fmt.Errorf("publishing to AMQP: %w", ErrNotAcknowledged)
		}
		return nil
	case <-ctx.Done():
		p.pending++
		return fmt.Errorf("waiting for AMQP confirmation: %w", ctx.Err())
	}
}

func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
