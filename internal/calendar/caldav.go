package calendar

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

// CalDAVProvider writes entries to a CalDAV server (iCloud, Radicale, ...).
//
// Entry IDs are the full object paths on the server, so one opaque string
// carries both the calendar collection and the .ics object name.
type CalDAVProvider struct {
	httpClient *http.Client
	username   string
	password   string
	serverURL  string
	basePath   string
}

// NewCalDAVProvider creates a CalDAV provider. serverURL is the CalDAV root
// (e.g. "https://caldav.icloud.com"); the password should be an app-specific
// password where the service requires one.
func NewCalDAVProvider(serverURL, username, password string) *CalDAVProvider {
	return &CalDAVProvider{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		username:  username,
		password:  password,
		serverURL: serverURL,
		basePath:  fmt.Sprintf("/%s/calendars/", username),
	}
}

func (p *CalDAVProvider) makeRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := strings.TrimSuffix(p.serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(p.username, p.password)
	if body != nil && method != "PUT" {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}
	req.Header.Set("Depth", "1")

	return p.httpClient.Do(req)
}

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
  </d:prop>
</d:propfind>`

func (p *CalDAVProvider) CheckAccess(ctx context.Context) error {
	resp, err := p.makeRequest(ctx, "PROPFIND", p.basePath, strings.NewReader(propfindBody))
	if err != nil {
		return fmt.Errorf("failed to reach calendar server: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrPermission, resp.StatusCode)
	case http.StatusOK, http.StatusMultiStatus:
		return nil
	default:
		return fmt.Errorf("failed to reach calendar server: HTTP %d", resp.StatusCode)
	}
}

func (p *CalDAVProvider) ListCalendars(ctx context.Context) ([]Calendar, error) {
	resp, err := p.makeRequest(ctx, "PROPFIND", p.basePath, strings.NewReader(propfindBody))
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: HTTP %d", ErrPermission, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list calendars: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return parseCalendarList(body)
}

// CreateCalendar provisions a new collection with MKCALENDAR. Servers like
// iCloud reject this; pair those with SourceLookupStrategy instead.
func (p *CalDAVProvider) CreateCalendar(ctx context.Context, title string) (string, error) {
	path := p.basePath + uuid.NewString() + "/"
	mkBody := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<c:mkcalendar xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:set>
    <d:prop>
      <d:displayname>%s</d:displayname>
    </d:prop>
  </d:set>
</c:mkcalendar>`, xmlEscape(title))

	resp, err := p.makeRequest(ctx, "MKCALENDAR", path, strings.NewReader(mkBody))
	if err != nil {
		return "", fmt.Errorf("failed to create calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("failed to create calendar: HTTP %d", resp.StatusCode)
	}
	return path, nil
}

func (p *CalDAVProvider) DeleteCalendar(ctx context.Context, calendarID string) error {
	resp, err := p.makeRequest(ctx, "DELETE", calendarID, nil)
	if err != nil {
		return fmt.Errorf("failed to delete calendar: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	}
	return fmt.Errorf("failed to delete calendar: HTTP %d", resp.StatusCode)
}

func (p *CalDAVProvider) CreateEntry(ctx context.Context, calendarID string, entry Entry) (string, error) {
	path := calendarID + uuid.NewString() + ".ics"
	if err := p.putEntry(ctx, path, entry); err != nil {
		return "", err
	}
	return path, nil
}

func (p *CalDAVProvider) UpdateEntry(ctx context.Context, entryID string, entry Entry) error {
	return p.putEntry(ctx, entryID, entry)
}

func (p *CalDAVProvider) DeleteEntry(ctx context.Context, entryID string) error {
	resp, err := p.makeRequest(ctx, "DELETE", entryID, nil)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound, http.StatusGone:
		return nil
	}
	return fmt.Errorf("failed to delete event: HTTP %d", resp.StatusCode)
}

func (p *CalDAVProvider) putEntry(ctx context.Context, path string, entry Entry) error {
	cal, err := entryToICal(path, entry)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode iCalendar: %w", err)
	}

	url := strings.TrimSuffix(p.serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, "PUT", url, &buf)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.username, p.password)
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: HTTP 404", ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrPermission, resp.StatusCode)
	}
	return fmt.Errorf("failed to store event: HTTP %d", resp.StatusCode)
}

// entryToICal builds a single-VEVENT calendar. The object path doubles as the
// UID so repeated PUTs to the same path replace the event.
func entryToICal(path string, entry Entry) (*ical.Calendar, error) {
	if entry.Start.IsZero() || entry.End.IsZero() {
		return nil, fmt.Errorf("entry %q has no times", entry.Title)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//UKit Sync//EN")

	vevent := ical.NewComponent(ical.CompEvent)
	cal.Children = append(cal.Children, vevent)

	uid := strings.TrimSuffix(path[strings.LastIndex(path, "/")+1:], ".ics")
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, entry.Title)
	if entry.Notes != "" {
		vevent.Props.SetText(ical.PropDescription, entry.Notes)
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStart, entry.Start)
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, entry.End)

	now := time.Now()
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now)
	vevent.Props.SetDateTime(ical.PropLastModified, now)

	return cal, nil
}

// parseCalendarList extracts calendar collections from a PROPFIND multistatus.
func parseCalendarList(body []byte) ([]Calendar, error) {
	type resourceType struct {
		Calendar *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
	}
	type prop struct {
		DisplayName  string       `xml:"displayname"`
		ResourceType resourceType `xml:"resourcetype"`
	}
	type response struct {
		Href string `xml:"href"`
		Prop prop   `xml:"propstat>prop"`
	}
	type multistatus struct {
		XMLName   xml.Name   `xml:"multistatus"`
		Responses []response `xml:"response"`
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	var calendars []Calendar
	for _, resp := range ms.Responses {
		if resp.Prop.ResourceType.Calendar == nil {
			continue
		}
		calendars = append(calendars, Calendar{
			ID:    resp.Href,
			Title: resp.Prop.DisplayName,
		})
	}
	return calendars, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
