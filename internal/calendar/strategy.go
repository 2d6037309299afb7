package calendar

import (
	"context"
	"fmt"
)

// CreationStrategy resolves the app-owned calendar to a calendar ID. Backends
// differ in whether we may create the calendar ourselves or must find one the
// user prepared.
type CreationStrategy interface {
	EnsureCalendar(ctx context.Context, p Provider, title string) (string, error)
}

// DirectCreateStrategy finds the calendar by title and creates it when
// missing. Used with backends where the app may own calendars.
type DirectCreateStrategy struct{}

func (DirectCreateStrategy) EnsureCalendar(ctx context.Context, p Provider, title string) (string, error) {
	calendars, err := p.ListCalendars(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list calendars: %w", err)
	}
	for _, cal := range calendars {
		if cal.Title == title {
			return cal.ID, nil
		}
	}
	return p.CreateCalendar(ctx, title)
}

// SourceLookupStrategy only locates an existing calendar by title and never
// creates one. Used with backends where calendars must be set up by the user
// beforehand.
type SourceLookupStrategy struct{}

func (SourceLookupStrategy) EnsureCalendar(ctx context.Context, p Provider, title string) (string, error) {
	calendars, err := p.ListCalendars(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list calendars: %w", err)
	}
	for _, cal := range calendars {
		if cal.Title == title {
			return cal.ID, nil
		}
	}
	return "", fmt.Errorf("calendar %q not found, please create it first", title)
}
