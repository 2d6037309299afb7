package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultBaseURL is the university planning service endpoint.
const DefaultBaseURL = "https://ukit.kbdev.io/Home/"

const (
	pathGroupList    = "ReadResourceListItems"
	pathCalendarData = "GetCalendarData"

	// resourceTypeGroups selects student-group resources in the planning
	// service (other codes address rooms and teachers).
	resourceTypeGroups = "103"
)

var unitCodeRe = regexp.MustCompile(`^([0-9][A-Z0-9]+) (.+)$`)

// Client talks to the university planning web service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	loc        *time.Location
}

// NewClient creates a planning client for the given base URL. An empty
// baseURL selects DefaultBaseURL.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return nil, fmt.Errorf("failed to load source timezone: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		loc: loc,
	}, nil
}

// Location returns the timezone the planning feed reports times in.
func (c *Client) Location() *time.Location {
	return c.loc
}

// BaseURL returns the configured service endpoint, useful as a
// reachability probe target.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchGroupList returns the sorted list of student group identifiers.
func (c *Client) FetchGroupList(ctx context.Context) ([]string, error) {
	u, err := url.Parse(c.baseURL + pathGroupList)
	if err != nil {
		return nil, fmt.Errorf("invalid group list URL: %w", err)
	}
	q := u.Query()
	q.Set("searchTerm", "_")
	q.Set("pageSize", "10000")
	q.Set("resType", resourceTypeGroups)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch group list: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse group list: %w", err)
	}

	var groups []string
	for _, r := range payload.Results {
		// Entries of one or two characters are service artifacts, not groups.
		if len(r.ID) > 2 {
			groups = append(groups, r.ID)
		}
	}
	sort.Strings(groups)
	return groups, nil
}

// FetchEventsForRange returns all events for the group between start
// (inclusive) and end (exclusive). Holiday entries are not filtered here;
// callers decide what to exclude.
func (c *Client) FetchEventsForRange(ctx context.Context, group string, start, end time.Time) ([]Event, error) {
	form := url.Values{}
	form.Set("start", start.Format("2006-01-02"))
	form.Set("end", end.Format("2006-01-02"))
	form.Set("resType", resourceTypeGroups)
	form.Set("calView", "agendaWeek")
	form.Set("federationIds[]", group)
	form.Set("colourScheme", "3")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+pathCalendarData, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calendar data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch calendar data: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar data: %w", err)
	}

	var wire []wireEvent
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse calendar data: %w", err)
	}

	events := make([]Event, 0, len(wire))
	for _, w := range wire {
		ev, err := w.toEvent(group, c.loc)
		if err != nil {
			// Tolerate individual malformed entries; the rest of the feed
			// is still usable.
			continue
		}
		events = append(events, ev)
	}
	SortEvents(events)
	return events, nil
}
