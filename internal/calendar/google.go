package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleProvider writes entries through the Google Calendar API.
//
// Entry IDs are "calendarID/eventID" so a single opaque string is enough to
// address the event later.
type GoogleProvider struct {
	service *gcal.Service
}

// NewGoogleProvider creates a provider on top of an OAuth-authenticated HTTP
// client.
func NewGoogleProvider(ctx context.Context, httpClient *http.Client) (*GoogleProvider, error) {
	service, err := gcal.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleProvider{service: service}, nil
}

func (p *GoogleProvider) CheckAccess(ctx context.Context) error {
	_, err := p.service.CalendarList.List().MaxResults(1).Context(ctx).Do()
	if err != nil {
		return mapGoogleErr("failed to access calendar list", err)
	}
	return nil
}

func (p *GoogleProvider) ListCalendars(ctx context.Context) ([]Calendar, error) {
	list, err := p.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleErr("failed to list calendars", err)
	}

	calendars := make([]Calendar, 0, len(list.Items))
	for _, item := range list.Items {
		calendars = append(calendars, Calendar{ID: item.Id, Title: item.Summary})
	}
	return calendars, nil
}

func (p *GoogleProvider) CreateCalendar(ctx context.Context, title string) (string, error) {
	created, err := p.service.Calendars.Insert(&gcal.Calendar{
		Summary:     title,
		Description: "Emploi du temps synchronisé",
	}).Context(ctx).Do()
	if err != nil {
		return "", mapGoogleErr("failed to create calendar", err)
	}
	return created.Id, nil
}

func (p *GoogleProvider) DeleteCalendar(ctx context.Context, calendarID string) error {
	err := p.service.Calendars.Delete(calendarID).Context(ctx).Do()
	if err != nil {
		mapped := mapGoogleErr("failed to delete calendar", err)
		if errors.Is(mapped, ErrNotFound) {
			return nil
		}
		return mapped
	}
	return nil
}

// CreateEntry inserts the event with sendUpdates="none" so attendees never
// get notified by a sync run.
func (p *GoogleProvider) CreateEntry(ctx context.Context, calendarID string, entry Entry) (string, error) {
	created, err := p.service.Events.Insert(calendarID, toGoogleEvent(entry)).
		SendUpdates("none").
		Context(ctx).Do()
	if err != nil {
		return "", mapGoogleErr("failed to insert event", err)
	}
	return joinEntryID(calendarID, created.Id), nil
}

func (p *GoogleProvider) UpdateEntry(ctx context.Context, entryID string, entry Entry) error {
	calendarID, eventID, err := splitEntryID(entryID)
	if err != nil {
		return err
	}
	_, err = p.service.Events.Update(calendarID, eventID, toGoogleEvent(entry)).
		SendUpdates("none").
		Context(ctx).Do()
	if err != nil {
		return mapGoogleErr("failed to update event", err)
	}
	return nil
}

func (p *GoogleProvider) DeleteEntry(ctx context.Context, entryID string) error {
	calendarID, eventID, err := splitEntryID(entryID)
	if err != nil {
		return err
	}
	err = p.service.Events.Delete(calendarID, eventID).
		SendUpdates("none").
		Context(ctx).Do()
	if err != nil {
		mapped := mapGoogleErr("failed to delete event", err)
		if errors.Is(mapped, ErrNotFound) {
			return nil
		}
		return mapped
	}
	return nil
}

func toGoogleEvent(entry Entry) *gcal.Event {
	return &gcal.Event{
		Summary:     entry.Title,
		Description: entry.Notes,
		Start: &gcal.EventDateTime{
			DateTime: entry.Start.Format(time.RFC3339),
			TimeZone: entry.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: entry.End.Format(time.RFC3339),
			TimeZone: entry.TimeZone,
		},
	}
}

// mapGoogleErr folds API status codes into the provider's error taxonomy.
func mapGoogleErr(msg string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w: %v", msg, ErrPermission, err)
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%s: %w: %v", msg, ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func joinEntryID(calendarID, eventID string) string {
	return calendarID + "/" + eventID
}

// splitEntryID splits on the last slash; Google event IDs never contain one.
func splitEntryID(entryID string) (calendarID, eventID string, err error) {
	i := strings.LastIndex(entryID, "/")
	if i <= 0 || i == len(entryID)-1 {
		return "", "", fmt.Errorf("malformed entry ID %q", entryID)
	}
	return entryID[:i], entryID[i+1:], nil
}
