package scrub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/scrub-gateway/internal/domain"
	"github.com/ignite/scrub-gateway/internal/metrics"
	"github.com/ignite/scrub-gateway/internal/notify"
	"github.com/ignite/scrub-gateway/internal/pkg/logger"
)

// NotificationRecorder stores the outcome of a publish on its record.
type NotificationRecorder interface {
	SetNotification(ctx context.Context, id string, n domain.Notification) (bool, error)
}

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	Bucket     string
	Collection string
	Project    string
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	Metrics    *metrics.Metrics
}

// Dispatcher publishes processing notifications from a bounded pool of
// workers so uploads never wait on the queue.
type Dispatcher struct {
	pub    notify.Publisher
	store  NotificationRecorder
	opts   DispatcherOptions
	jobs   chan domain.FileRecord
	log    *logger.Logger
	now    func() time.Time
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(pub notify.Publisher, store NotificationRecorder, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		pub:   pub,
		store: store,
		opts:  opts,
		jobs:  make(chan domain.FileRecord, opts.QueueSize),
		log:   logger.With("component", "dispatcher"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the workers. They exit once Stop has been called and the
// backlog is drained.
func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for rec := range d.jobs {
				d.opts.Metrics.SetBacklog(len(d.jobs))
				d.Publish(context.Background(), rec, "upload")
			}
		}()
	}
	d.log.Info("dispatcher started", "workers", d.opts.Workers, "queue_size", d.opts.QueueSize)
}

// Enqueue hands rec to the workers without blocking. It returns false when
// the backlog is full or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(rec domain.FileRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- rec:
		d.opts.Metrics.SetBacklog(len(d.jobs))
		return true
	default:
		d.opts.Metrics.Publish("upload", "dropped")
		return false
	}
}

// Stop refuses new work and waits for the backlog to drain or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.log.Info("dispatcher drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

// Message builds the processing trigger for rec.
func (d *Dispatcher) Message(rec domain.FileRecord) domain.NotificationMessage {
	return domain.NotificationMessage{
		FileID:             rec.ID,
		Bucket:             d.opts.Bucket,
		FileName:           rec.FileName,
		ConfigDocumentPath: d.opts.Collection + "/" + rec.ID,
	}
}

// Publish sends the trigger for rec and, once acknowledged, records the
// delivery id on the record. source labels metrics ("upload", "reconcile").
func (d *Dispatcher) Publish(ctx context.Context, rec domain.FileRecord, source string) (string, error) {
	body, err := json.Marshal(d.Message(rec))
	if err != nil {
		return "", fmt.Errorf("encoding notification: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	msgID, err := d.pub.Publish(pctx, body, map[string]string{
		"project": d.opts.Project,
		"fileId":  rec.ID,
	})
	attempts := rec.Notification.Attempts + 1
	if err != nil {
		d.opts.Metrics.Publish(source, "error")
		d.log.Error("publish failed", "id", rec.ID, "source", source, "attempt", attempts, "error", err)
		d.record(ctx, rec.ID, domain.Notification{Attempts: attempts})
		return "", err
	}

	d.opts.Metrics.Publish(source, "ok")
	d.log.Info("notification published", "id", rec.ID, "message_id", msgID, "source", source)
	d.record(ctx, rec.ID, domain.Notification{MessageID: msgID, PublishedAt: d.now(), Attempts: attempts})
	return msgID, nil
}

func (d *Dispatcher) record(ctx context.Context, id string, n domain.Notification) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.Timeout)
	defer cancel()
	if _, err := d.store.SetNotification(rctx, id, n); err != nil {
		d.log.Warn("recording notification outcome failed", "id", id, "error", err)
	}
}
