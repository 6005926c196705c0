// Package records is the record store gateway: CRUD over the collection of
// file-processing records plus the allowed-audience collection.
//
// A missing id is a normal outcome on read, update and delete; it is reported
// through the boolean result, never as an error.
package records

import (
	"context"
	"time"

	"github.com/ignite/scrub-gateway/internal/domain"
	"github.com/ignite/scrub-gateway/internal/metrics"
)

// Store is implemented by every record store backend. Implementations are
// safe for concurrent use.
type Store interface {
	// Create assigns a fresh id, stores rec under it and sets rec.ID.
	Create(ctx context.Context, rec *domain.FileRecord) (string, error)
	Get(ctx context.Context, id string) (*domain.FileRecord, bool, error)
	// Update replaces the stored document. The id of rec is forced to id.
	Update(ctx context.Context, id string, rec *domain.FileRecord) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]domain.FileRecord, error)
	// SetNotification records the delivery of a record's processing trigger.
	SetNotification(ctx context.Context, id string, n domain.Notification) (bool, error)
	Ping(ctx context.Context) error
}

// AudienceSource lists the allowed token audiences.
type AudienceSource interface {
	AllowedAudiences(ctx context.Context) ([]string, error)
}

// Backend is a record store that also holds the allowed-audience collection.
type Backend interface {
	Store
	AudienceSource
}

// Options are shared by the backends.
type Options struct {
	// Timeout bounds each call to the backing service. Zero means no bound.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

type observer struct {
	opts Options
}

// call runs fn under the per-call timeout and records its latency.
func (o observer) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	o.opts.Metrics.ObserveGateway("records", op, err, time.Since(start))
	return err
}

func cleanAudiences(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
