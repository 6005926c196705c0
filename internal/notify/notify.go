// Package notify is the notification gateway: publish a message body to the
// configured topic and wait for the broker's acknowledgement.
package notify

import (
	"context"
	"time"

	"github.com/ignite/scrub-gateway/internal/metrics"
)

// Publisher publishes one message and returns the broker's delivery id.
// Implementations are safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, body []byte, attrs map[string]string) (string, error)
	Close() error
}

// Options are shared by the publishers.
type Options struct {
	Timeout time.Duration
	Metrics *metrics.Metrics
}

func (o Options) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}
