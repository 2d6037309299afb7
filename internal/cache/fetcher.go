package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kb-dev/ukit-sync/internal/store"
)

// ErrNoData is returned when the live fetch is unavailable and no cached
// snapshot exists for the key.
var ErrNoData = errors.New("no live or cached data available")

// Envelope is the persisted form of a cached resource.
type Envelope[T any] struct {
	Data T         `json:"data"`
	Date time.Time `json:"date"`
}

// Result carries fetched data together with its provenance. CacheDate is nil
// for live data and set to the snapshot timestamp when the data came from
// the cache.
type Result[T any] struct {
	Data      T
	CacheDate *time.Time
}

// Stale reports whether the result was served from the cache.
func (r Result[T]) Stale() bool {
	return r.CacheDate != nil
}

// Fetcher resolves resources live-first with cache fallback. It performs at
// most one fetch attempt per call and never retries internally; callers that
// need to serialize concurrent refreshes of the same key do so themselves.
type Fetcher struct {
	store store.Store
	probe Probe
	now   func() time.Time
}

// NewFetcher creates a Fetcher backed by the given store and reachability
// probe. A nil now defaults to time.Now.
func NewFetcher(s store.Store, probe Probe, now func() time.Time) *Fetcher {
	if now == nil {
		now = time.Now
	}
	return &Fetcher{store: s, probe: probe, now: now}
}

// Fetch returns fresh data when the network is reachable and fn succeeds,
// persisting the snapshot under key. When offline, or when fn fails for any
// reason, it falls back to the last stored snapshot and reports its age via
// CacheDate. ErrNoData is returned when neither source can serve the key.
//
// The store is written only on live success; a fallback never mutates it.
func Fetch[T any](ctx context.Context, f *Fetcher, key string, fn func(context.Context) (T, error)) (Result[T], error) {
	if f.probe == nil || f.probe.Online(ctx) {
		data, err := fn(ctx)
		if err == nil {
			env := Envelope[T]{Data: data, Date: f.now()}
			if raw, merr := json.Marshal(env); merr == nil {
				if serr := f.store.Set(ctx, key, raw); serr != nil {
					// A failed cache write does not invalidate live data.
					return Result[T]{Data: data}, nil
				}
			}
			return Result[T]{Data: data}, nil
		}
		if ctx.Err() != nil {
			return Result[T]{}, ctx.Err()
		}
	}

	raw, err := f.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result[T]{}, ErrNoData
		}
		return Result[T]{}, fmt.Errorf("failed to read cache for %q: %w", key, err)
	}

	var env Envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		// A corrupt snapshot is indistinguishable from no snapshot.
		return Result[T]{}, ErrNoData
	}

	date := env.Date
	return Result[T]{Data: env.Data, CacheDate: &date}, nil
}

// DayKey is the cache key for one group's schedule on one date.
func DayKey(group string, date time.Time) string {
	return group + "@" + date.Format("2006-01-02")
}

// WeekKey is the cache key for one group's schedule in one ISO week.
func WeekKey(group string, week int) string {
	return fmt.Sprintf("%s@Week%d", group, week)
}

// GroupListKey is the cache key for the campus group list.
const GroupListKey = "groups"
