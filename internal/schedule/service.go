package schedule

import (
	"context"
	"time"

	"github.com/kb-dev/ukit-sync/internal/cache"
	"github.com/kb-dev/ukit-sync/internal/remote"
)

// GroupListMaxAge is how long a cached group list is considered current.
// Older caches are still served offline, but callers should refresh.
const GroupListMaxAge = 7 * 24 * time.Hour

// PlanningSource is the remote interface the schedule service needs.
type PlanningSource interface {
	FetchGroupList(ctx context.Context) ([]string, error)
	FetchEventsForRange(ctx context.Context, group string, start, end time.Time) ([]remote.Event, error)
}

// DaySchedule is one weekday's course list within a week view,
// Monday (1) through Saturday (6).
type DaySchedule struct {
	DayNumber int            `json:"dayNumber"`
	Date      time.Time      `json:"date"`
	Courses   []remote.Event `json:"courses"`
}

// Service serves group lists and day/week schedules, live when possible and
// from the cache otherwise.
type Service struct {
	fetcher *cache.Fetcher
	source  PlanningSource
	loc     *time.Location
}

// NewService creates a schedule service. loc is the planning feed's zone and
// anchors day boundaries and week numbering.
func NewService(fetcher *cache.Fetcher, source PlanningSource, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{fetcher: fetcher, source: source, loc: loc}
}

// Groups returns the campus group list, cached under the "groups" key.
func (s *Service) Groups(ctx context.Context) (cache.Result[[]string], error) {
	return cache.Fetch(ctx, s.fetcher, cache.GroupListKey, s.source.FetchGroupList)
}

// Day returns the group's schedule for one date, cached under
// "<group>@YYYY-MM-DD". Holiday entries and events spilling over from
// adjacent dates are dropped.
func (s *Service) Day(ctx context.Context, group string, date time.Time) (cache.Result[[]remote.Event], error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc)

	return cache.Fetch(ctx, s.fetcher, cache.DayKey(group, day),
		func(ctx context.Context) ([]remote.Event, error) {
			events, err := s.source.FetchEventsForRange(ctx, group, day, day.AddDate(0, 0, 1))
			if err != nil {
				return nil, err
			}

			courses := make([]remote.Event, 0, len(events))
			for _, ev := range events {
				if ev.Category == remote.CategoryHoliday {
					continue
				}
				if !sameDay(ev.Start.In(s.loc), day) {
					continue
				}
				courses = append(courses, ev)
			}
			remote.SortEvents(courses)
			return courses, nil
		})
}

// Week returns the group's schedule for one ISO week as six day buckets
// (Monday through Saturday), cached under "<group>@Week<N>".
func (s *Service) Week(ctx context.Context, group string, year, week int) (cache.Result[[]DaySchedule], error) {
	monday := isoWeekStart(year, week, s.loc)

	return cache.Fetch(ctx, s.fetcher, cache.WeekKey(group, week),
		func(ctx context.Context) ([]DaySchedule, error) {
			events, err := s.source.FetchEventsForRange(ctx, group, monday, monday.AddDate(0, 0, 7))
			if err != nil {
				return nil, err
			}

			days := make([]DaySchedule, 6)
			for i := range days {
				days[i] = DaySchedule{
					DayNumber: i + 1,
					Date:      monday.AddDate(0, 0, i),
					Courses:   []remote.Event{},
				}
			}

			for _, ev := range events {
				if ev.Category == remote.CategoryHoliday {
					continue
				}
				weekday := isoWeekday(ev.Start.In(s.loc))
				if weekday < 1 || weekday > 6 {
					// Sundays carry no courses.
					continue
				}
				days[weekday-1].Courses = append(days[weekday-1].Courses, ev)
			}

			for i := range days {
				remote.SortEvents(days[i].Courses)
			}
			return days, nil
		})
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// isoWeekday maps Sunday=7 instead of Go's Sunday=0.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// isoWeekStart returns the Monday of the given ISO week. January 4th is
// always inside ISO week 1.
func isoWeekStart(year, week int, loc *time.Location) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	week1Monday := jan4.AddDate(0, 0, -(isoWeekday(jan4) - 1))
	return week1Monday.AddDate(0, 0, (week-1)*7)
}
