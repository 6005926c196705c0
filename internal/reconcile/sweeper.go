// Package reconcile republishes processing triggers that were never
// acknowledged by the queue.
//
// The upload path publishes asynchronously, so a crash or a queue outage can
// leave a record in UPLOADED with no message id. The Sweeper periodically
// scans for such records and publishes them again, holding a shared lock so
// only one replica sweeps at a time.
package reconcile

import (
	"context"
	"time"

	"github.com/ignite/scrub-gateway/internal/domain"
	"github.com/ignite/scrub-gateway/internal/pkg/distlock"
	"github.com/ignite/scrub-gateway/internal/pkg/logger"
)

const (
	DefaultInterval    = 2 * time.Minute
	DefaultGrace       = 5 * time.Minute
	DefaultMaxAttempts = 5

	sweepTimeout = time.Minute
)

// Lister returns every record.
type Lister interface {
	List(ctx context.Context) ([]domain.FileRecord, error)
}

// Republisher publishes the trigger for rec and records the outcome.
type Republisher interface {
	Publish(ctx context.Context, rec domain.FileRecord, source string) (string, error)
}

// Options tune a Sweeper. Zero values take the defaults.
type Options struct {
	Interval    time.Duration
	Grace       time.Duration
	MaxAttempts int
}

// Sweeper finds uploads with no acknowledged notification and republishes them.
type Sweeper struct {
	records Lister
	pub     Republisher
	lock    distlock.Lock
	opts    Options
	log     *logger.Logger
	now     func() time.Time
}

func NewSweeper(records Lister, pub Republisher, lock distlock.Lock, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Sweeper{
		records: records,
		pub:     pub,
		lock:    lock,
		opts:    opts,
		log:     logger.With("component", "reconcile"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("sweeper started", "interval", s.opts.Interval, "grace", s.opts.Grace, "max_attempts", s.opts.MaxAttempts)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass if the lock can be taken and returns how many records
// were republished successfully.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	if !held {
		s.log.Debug("another replica is sweeping")
		return 0, nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("releasing sweep lock failed", "error", err)
		}
	}()

	recs, err := s.records.List(ctx)
	if err != nil {
		return 0, err
	}

	var sent, failed, exhausted int
	for _, rec := range recs {
		if !s.pending(rec) {
			continue
		}
		if rec.Notification.Attempts >= s.opts.MaxAttempts {
			exhausted++
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if _, err := s.pub.Publish(ctx, rec, "reconcile"); err != nil {
			failed++
			continue
		}
		sent++
	}
	if sent+failed+exhausted > 0 {
		s.log.Info("sweep finished", "republished", sent, "failed", failed, "exhausted", exhausted)
	}
	return sent, nil
}

// pending reports whether rec is an upload whose trigger was never
// acknowledged and which is older than the grace period.
func (s *Sweeper) pending(rec domain.FileRecord) bool {
	if rec.Status.Stage != domain.StageUploaded || rec.Notification.MessageID != "" {
		return false
	}
	created := rec.Status.LastUpdated
	if created.IsZero() {
		created = rec.Timestamp
	}
	return s.now().Sub(created) >= s.opts.Grace
}
