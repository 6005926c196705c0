package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/scrub-gateway/internal/domain"
	"github.com/ignite/scrub-gateway/internal/notify"
	"github.com/ignite/scrub-gateway/internal/pkg/distlock"
	"github.com/ignite/scrub-gateway/internal/records"
	"github.com/ignite/scrub-gateway/internal/scrub"
)

type harness struct {
	store   *records.MemoryStore
	pub     *notify.MemoryPublisher
	sweeper *Sweeper
	now     time.Time
}

func newHarness(t *testing.T, lock distlock.Lock) *harness {
	t.Helper()
	h := &harness{
		store: records.NewMemoryStore(),
		pub:   notify.NewMemoryPublisher(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	d := scrub.NewDispatcher(h.pub, h.store, scrub.DispatcherOptions{Bucket: "b", Collection: "scrubFiles"})
	h.sweeper = NewSweeper(h.store, d, lock, Options{Grace: 5 * time.Minute, MaxAttempts: 3})
	h.sweeper.now = func() time.Time { return h.now }
	return h
}

func (h *harness) add(t *testing.T, age time.Duration, stage domain.Stage, n domain.Notification) string {
	t.Helper()
	ts := h.now.Add(-age)
	rec := &domain.FileRecord{
		FileName:     "leads.csv",
		Timestamp:    ts,
		Status:       domain.Status{Stage: stage, LastUpdated: ts},
		Notification: n,
	}
	id, err := h.store.Create(context.Background(), rec)
	require.NoError(t, err)
	return id
}

func TestSweepRepublishesOnlyStaleUnacknowledged(t *testing.T) {
	h := newHarness(t, distlock.NewLocalLock(t.Name()))

	stale := h.add(t, 10*time.Minute, domain.StageUploaded, domain.Notification{Attempts: 1})
	h.add(t, time.Minute, domain.StageUploaded, domain.Notification{})
	h.add(t, 10*time.Minute, domain.StageUploaded, domain.Notification{MessageID: "m-1", Attempts: 1})
	h.add(t, 10*time.Minute, domain.StageProcessing, domain.Notification{})
	h.add(t, 10*time.Minute, domain.StageUploaded, domain.Notification{Attempts: 3})

	n, err := h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, stale, msgs[0].Attrs["fileId"])

	rec, _, err := h.store.Get(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, msgs[0].ID, rec.Notification.MessageID)
	assert.Equal(t, 2, rec.Notification.Attempts)

	// acknowledged now, so a second pass sends nothing
	n, err = h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepCountsFailedPublishes(t *testing.T) {
	h := newHarness(t, distlock.NewLocalLock(t.Name()))
	id := h.add(t, time.Hour, domain.StageUploaded, domain.Notification{})
	h.pub.FailWith(errors.New("queue down"))

	n, err := h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, _, _ := h.store.Get(context.Background(), id)
	assert.Equal(t, 1, rec.Notification.Attempts)
}

func TestSweepListError(t *testing.T) {
	h := newHarness(t, distlock.NewLocalLock(t.Name()))
	h.store.FailWith(errors.New("down"))

	_, err := h.sweeper.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweepSkipsWhenLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	other := distlock.NewRedisLock(rdb, "reconcile", time.Minute)
	held, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, held)

	h := newHarness(t, distlock.NewRedisLock(rdb, "reconcile", time.Minute))
	h.add(t, time.Hour, domain.StageUploaded, domain.Notification{})

	n, err := h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.pub.Messages())

	require.NoError(t, other.Release(context.Background()))
	n, err = h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the sweeper released its lock
	held, err = other.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, distlock.NewLocalLock(t.Name()))
	h.sweeper.opts.Interval = 5 * time.Millisecond
	h.add(t, time.Hour, domain.StageUploaded, domain.Notification{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.sweeper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(h.pub.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
