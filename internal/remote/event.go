package remote

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"
)

// CategoryHoliday marks holiday ranges in the planning feed. Events in this
// category are excluded from both display and calendar synchronization.
const CategoryHoliday = "Vacances"

// Event is a scheduled class as returned by the planning service for a
// student group. RemoteID is stable within one fetch but not guaranteed
// stable across semesters.
type Event struct {
	RemoteID string
	Title    string
	Start    time.Time
	End      time.Time
	Notes    string
	Category string
	Color    string
	Group    string
}

// wireEvent is the raw JSON shape of one event from GetCalendarData.
type wireEvent struct {
	ID              string   `json:"id"`
	Start           string   `json:"start"`
	End             string   `json:"end"`
	EventCategory   string   `json:"eventCategory"`
	Modules         []string `json:"modules"`
	Description     string   `json:"description"`
	BackgroundColor string   `json:"backgroundColor"`
}

// toEvent converts a wire event into the domain shape. The feed reports
// naive local timestamps in the university's zone.
func (w wireEvent) toEvent(group string, loc *time.Location) (Event, error) {
	start, err := parseLocalTime(w.Start, loc)
	if err != nil {
		return Event{}, fmt.Errorf("invalid event start %q: %w", w.Start, err)
	}
	end, err := parseLocalTime(w.End, loc)
	if err != nil {
		return Event{}, fmt.Errorf("invalid event end %q: %w", w.End, err)
	}
	if !start.Before(end) {
		return Event{}, fmt.Errorf("event %s: start %s is not before end %s", w.ID, w.Start, w.End)
	}

	// The subject is the first module when the feed provides one, otherwise
	// the category itself ("CM", "TD", ...).
	title := w.EventCategory
	if len(w.Modules) > 0 && w.Modules[0] != "" {
		title = w.Modules[0]
	}

	return Event{
		RemoteID: w.ID,
		Title:    title,
		Start:    start,
		End:      end,
		Notes:    cleanDescription(w.Description, w.EventCategory, title),
		Category: w.EventCategory,
		Color:    w.BackgroundColor,
		Group:    group,
	}, nil
}

func parseLocalTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, loc)
}

// cleanDescription normalizes the HTML blob the feed puts in descriptions:
// entity-decodes it, strips <br /> markup, splits it into fields and drops
// the ones that merely repeat the category or subject. The remaining lines
// (room, teacher, group) are joined with newlines.
func cleanDescription(desc, category, subject string) string {
	s := strings.ReplaceAll(desc, "\r", "")
	s = strings.ReplaceAll(s, "<br />", "")
	s = strings.ReplaceAll(s, "\n\n\n\n", ";")
	s = html.UnescapeString(s)

	var lines []string
	for _, field := range strings.Split(s, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if strings.Contains(field, category) || strings.Contains(field, subject) {
			continue
		}
		lines = append(lines, field)
	}
	return strings.Join(lines, "\n")
}

// SortEvents orders events by start time, then subject. Unit codes like
// "4TIN601U Algorithmique" compare by their name part.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return subjectSortKey(events[i].Title) < subjectSortKey(events[j].Title)
	})
}

func subjectSortKey(subject string) string {
	s := strings.ToUpper(subject)
	if m := unitCodeRe.FindStringSubmatch(s); len(m) == 3 {
		return m[2]
	}
	return s
}

// AcademicYearRange returns the [start, end) range of the academic year
// containing now, bounded at August 1st. A date in July belongs to the year
// that started the previous August.
func AcademicYearRange(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), time.August, 1, 0, 0, 0, 0, now.Location())
	if now.Before(start) {
		start = start.AddDate(-1, 0, 0)
	}
	return start, start.AddDate(1, 0, 0)
}
