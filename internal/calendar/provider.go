// Package calendar abstracts the user's calendar backend behind a small
// provider interface so the sync engine never talks to a vendor API directly.
package calendar

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermission means the provider rejected us for lack of calendar access.
	ErrPermission = errors.New("calendar access denied")
	// ErrNotFound means the referenced calendar or entry does not exist.
	ErrNotFound = errors.New("calendar entry not found")
)

// Entry is one event as written to the user's calendar.
type Entry struct {
	Title    string
	Start    time.Time
	End      time.Time
	Notes    string
	TimeZone string
}

// Calendar identifies one calendar on the provider.
type Calendar struct {
	ID    string
	Title string
}

// Provider is a generic interface for calendar operations. Entry IDs are
// opaque: each implementation packs whatever it needs to address the entry
// later (Google uses "calendarID/eventID", CalDAV uses the object path).
type Provider interface {
	// CheckAccess verifies the provider is reachable and we hold calendar
	// permission, returning ErrPermission when we don't.
	CheckAccess(ctx context.Context) error

	ListCalendars(ctx context.Context) ([]Calendar, error)
	CreateCalendar(ctx context.Context, title string) (string, error)
	DeleteCalendar(ctx context.Context, calendarID string) error

	// CreateEntry returns the opaque ID of the new entry.
	CreateEntry(ctx context.Context, calendarID string, entry Entry) (string, error)
	// UpdateEntry returns ErrNotFound when the entry no longer exists.
	UpdateEntry(ctx context.Context, entryID string, entry Entry) error
	// DeleteEntry is idempotent: deleting a missing entry is not an error.
	DeleteEntry(ctx context.Context, entryID string) error
}
