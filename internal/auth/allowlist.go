package auth

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ignite/scrub-gateway/internal/apperr"
	"github.com/ignite/scrub-gateway/internal/metrics"
	"github.com/ignite/scrub-gateway/internal/pkg/logger"
)

// DefaultCacheTTL is how long a fetched allow-list is served without refetching.
const DefaultCacheTTL = 60 * time.Second

// staleRetry spaces refetch attempts while a stale set is being served.
const staleRetry = 5 * time.Second

// Policy decides what Resolve does when a refresh fails.
type Policy string

const (
	// FailClosed surfaces ServiceUnavailable.
	FailClosed Policy = "fail_closed"
	// ServeStale keeps serving the last fetched set, logging a warning.
	ServeStale Policy = "serve_stale"
)

// AudienceSource lists the allowed token audiences.
type AudienceSource interface {
	AllowedAudiences(ctx context.Context) ([]string, error)
}

type snapshot struct {
	set        map[string]struct{}
	fetchedAt  time.Time
	retryAfter time.Time
}

// AllowList caches the set of allowed audiences. Readers see an immutable
// snapshot; a refresh swaps in a new one.
type AllowList struct {
	source  AudienceSource
	ttl     time.Duration
	policy  Policy
	metrics *metrics.Metrics
	now     func() time.Time

	snap  atomic.Pointer[snapshot]
	group singleflight.Group
}

// NewAllowList creates an allow-list over source. A non-positive ttl uses
// DefaultCacheTTL; an unknown policy is treated as FailClosed.
func NewAllowList(source AudienceSource, ttl time.Duration, policy Policy, m *metrics.Metrics) *AllowList {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if policy != ServeStale {
		policy = FailClosed
	}
	return &AllowList{source: source, ttl: ttl, policy: policy, metrics: m, now: time.Now}
}

// Resolve returns the current allowed set, fetching it when the cached copy is
// older than the TTL. Concurrent refreshes collapse into one fetch.
func (a *AllowList) Resolve(ctx context.Context) (map[string]struct{}, error) {
	cur := a.snap.Load()
	now := a.now()
	if cur != nil {
		if now.Sub(cur.fetchedAt) < a.ttl {
			return cur.set, nil
		}
		if a.policy == ServeStale && now.Before(cur.retryAfter) {
			return cur.set, nil
		}
	}

	v, err, _ := a.group.Do("allowlist", func() (any, error) {
		// another caller may have refreshed while this one waited
		if s := a.snap.Load(); s != nil && a.now().Sub(s.fetchedAt) < a.ttl {
			return s, nil
		}
		return a.refresh(context.WithoutCancel(ctx))
	})
	if err == nil {
		return v.(*snapshot).set, nil
	}

	if a.policy == ServeStale && cur != nil {
		a.metrics.AllowlistRefresh("stale")
		logger.Warn("auth: allow-list refresh failed, serving stale set",
			"age", now.Sub(cur.fetchedAt).String(), "error", err)
		a.snap.CompareAndSwap(cur, &snapshot{set: cur.set, fetchedAt: cur.fetchedAt, retryAfter: now.Add(staleRetry)})
		return cur.set, nil
	}
	return nil, apperr.Unavailable("allow-list unavailable", err)
}

func (a *AllowList) refresh(ctx context.Context) (*snapshot, error) {
	ids, err := a.source.AllowedAudiences(ctx)
	if err != nil {
		a.metrics.AllowlistRefresh("error")
		logger.Error("auth: allow-list refresh failed", "error", err)
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	s := &snapshot{set: set, fetchedAt: a.now()}
	a.snap.Store(s)
	a.metrics.AllowlistRefresh("ok")
	logger.Debug("auth: allow-list refreshed", "count", len(set))
	return s, nil
}
