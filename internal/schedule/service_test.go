package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kb-dev/ukit-sync/internal/cache"
	"github.com/kb-dev/ukit-sync/internal/remote"
	"github.com/kb-dev/ukit-sync/internal/store"
)

// stubSource is a canned PlanningSource recording its calls.
type stubSource struct {
	groups      []string
	events      []remote.Event
	err         error
	rangeCalls  int
	groupCalls  int
	lastStart   time.Time
	lastEnd     time.Time
	lastGroupID string
}

func (s *stubSource) FetchGroupList(context.Context) ([]string, error) {
	s.groupCalls++
	return s.groups, s.err
}

func (s *stubSource) FetchEventsForRange(_ context.Context, group string, start, end time.Time) ([]remote.Event, error) {
	s.rangeCalls++
	s.lastGroupID = group
	s.lastStart = start
	s.lastEnd = end
	return s.events, s.err
}

func newTestService(src *stubSource, onlineState bool) (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	probe := cache.ProbeFunc(func(context.Context) bool { return onlineState })
	f := cache.NewFetcher(st, probe, nil)
	return NewService(f, src, time.UTC), st
}

func mkEvent(id string, start time.Time, d time.Duration, category string) remote.Event {
	return remote.Event{
		RemoteID: id,
		Title:    "Course " + id,
		Start:    start,
		End:      start.Add(d),
		Category: category,
	}
}

func TestDay_FiltersHolidaysAndOtherDates(t *testing.T) {
	day := time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)
	src := &stubSource{events: []remote.Event{
		mkEvent("b", day.Add(10*time.Hour), time.Hour, "TD"),
		mkEvent("a", day.Add(8*time.Hour), time.Hour, "CM"),
		mkEvent("hol", day.Add(9*time.Hour), time.Hour, remote.CategoryHoliday),
		mkEvent("next", day.AddDate(0, 0, 1), time.Hour, "CM"),
	}}
	svc, _ := newTestService(src, true)

	res, err := svc.Day(context.Background(), "610GA", day)
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Equal(t, "a", res.Data[0].RemoteID)
	assert.Equal(t, "b", res.Data[1].RemoteID)
	assert.Equal(t, "610GA", src.lastGroupID)
	assert.True(t, src.lastEnd.Equal(day.AddDate(0, 0, 1)))
}

func TestDay_OfflineServesCachedSnapshot(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)
	src := &stubSource{events: []remote.Event{
		mkEvent("a", day.Add(8*time.Hour), time.Hour, "CM"),
	}}
	svc, st := newTestService(src, true)

	_, err := svc.Day(ctx, "610GA", day)
	require.NoError(t, err)
	assert.Contains(t, st.Keys(), "610GA@2024-03-25")

	// Go offline against a failing source: the cached day must come back.
	src.err = errors.New("network down")
	offlineProbe := cache.ProbeFunc(func(context.Context) bool { return false })
	offlineSvc := NewService(cache.NewFetcher(st, offlineProbe, nil), src, time.UTC)

	res, err := offlineSvc.Day(ctx, "610GA", day)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "a", res.Data[0].RemoteID)
	assert.True(t, res.Stale())
}

func TestWeek_BucketsMondayThroughSaturday(t *testing.T) {
	// ISO week 13 of 2024 starts Monday 2024-03-25.
	monday := time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)
	src := &stubSource{events: []remote.Event{
		mkEvent("mon", monday.Add(8*time.Hour), time.Hour, "CM"),
		mkEvent("sat", monday.AddDate(0, 0, 5).Add(10*time.Hour), time.Hour, "TD"),
		mkEvent("sun", monday.AddDate(0, 0, 6).Add(10*time.Hour), time.Hour, "TD"),
		mkEvent("hol", monday.Add(9*time.Hour), time.Hour, remote.CategoryHoliday),
	}}
	svc, st := newTestService(src, true)

	res, err := svc.Week(context.Background(), "610GA", 2024, 13)
	require.NoError(t, err)
	require.Len(t, res.Data, 6)

	assert.Equal(t, 1, res.Data[0].DayNumber)
	assert.True(t, res.Data[0].Date.Equal(monday))
	require.Len(t, res.Data[0].Courses, 1)
	assert.Equal(t, "mon", res.Data[0].Courses[0].RemoteID)

	require.Len(t, res.Data[5].Courses, 1)
	assert.Equal(t, "sat", res.Data[5].Courses[0].RemoteID)

	// Sunday events and holidays fall outside the buckets.
	for i := 1; i < 5; i++ {
		assert.Empty(t, res.Data[i].Courses)
	}

	assert.Contains(t, st.Keys(), "610GA@Week13")
	assert.True(t, src.lastStart.Equal(monday))
}

func TestGroups_CachedUnderGroupsKey(t *testing.T) {
	src := &stubSource{groups: []string{"501TB", "610GA"}}
	svc, st := newTestService(src, true)

	res, err := svc.Groups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"501TB", "610GA"}, res.Data)
	assert.False(t, res.Stale())
	assert.Contains(t, st.Keys(), "groups")
}

func TestGroups_NoDataAtAll(t *testing.T) {
	src := &stubSource{err: errors.New("network down")}
	svc, _ := newTestService(src, true)

	_, err := svc.Groups(context.Background())
	assert.ErrorIs(t, err, cache.ErrNoData)
}

func TestIsoWeekStart(t *testing.T) {
	assert.Equal(t, time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC),
		isoWeekStart(2024, 13, time.UTC))
	// 2024 week 1 starts on Jan 1st.
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		isoWeekStart(2024, 1, time.UTC))
	// 2023 week 1 starts in the previous year.
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		isoWeekStart(2023, 1, time.UTC))
}
