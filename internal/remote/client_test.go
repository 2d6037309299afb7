package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestFetchGroupList(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+pathGroupList, r.URL.Path)
		assert.Equal(t, resourceTypeGroups, r.URL.Query().Get("resType"))
		w.Write([]byte(`{"results":[{"id":"610GA"},{"id":"X"},{"id":"501TB"},{"id":"aa"}]}`))
	}))

	groups, err := c.FetchGroupList(context.Background())
	require.NoError(t, err)

	// Short service artifacts are dropped; result is sorted.
	assert.Equal(t, []string{"501TB", "610GA"}, groups)
}

func TestFetchGroupList_HTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.FetchGroupList(context.Background())
	assert.Error(t, err)
}

func TestFetchEventsForRange(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "610GA", r.PostForm.Get("federationIds[]"))
		assert.Equal(t, "agendaWeek", r.PostForm.Get("calView"))
		w.Write([]byte(`[
			{"id":"ev-2","start":"2024-03-25T10:00:00","end":"2024-03-25T12:00:00",
			 "eventCategory":"TD","modules":["4TIN601U Algorithmique"],
			 "description":"TD\n\n\n\nA21 / Bat A\n\n\n\nM. DUPONT","backgroundColor":"#ff0000"},
			{"id":"ev-1","start":"2024-03-25T08:00:00","end":"2024-03-25T09:30:00",
			 "eventCategory":"CM","modules":null,
			 "description":"CM\n\n\n\nAmphi 1","backgroundColor":"#00ff00"},
			{"id":"bad","start":"not-a-date","end":"2024-03-25T09:30:00",
			 "eventCategory":"CM","modules":null,"description":"","backgroundColor":""}
		]`))
	}))

	start := time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)
	events, err := c.FetchEventsForRange(context.Background(), "610GA", start, start.AddDate(0, 0, 1))
	require.NoError(t, err)

	// The malformed entry is skipped, the rest is sorted by start time.
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].RemoteID)
	assert.Equal(t, "CM", events[0].Title)
	assert.Equal(t, "Amphi 1", events[0].Notes)
	assert.Equal(t, "ev-2", events[1].RemoteID)
	assert.Equal(t, "4TIN601U Algorithmique", events[1].Title)
	assert.Equal(t, "A21 / Bat A\nM. DUPONT", events[1].Notes)
}

func TestEventTimesUseSourceZone(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"e","start":"2024-03-25T08:00:00","end":"2024-03-25T09:00:00",
			"eventCategory":"CM","modules":null,"description":"","backgroundColor":""}]`))
	}))

	start := time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)
	events, err := c.FetchEventsForRange(context.Background(), "G", start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, events, 1)

	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	assert.True(t, events[0].Start.Equal(time.Date(2024, 3, 25, 8, 0, 0, 0, paris)))
	assert.True(t, events[0].Start.Before(events[0].End))
}

func TestAcademicYearRange(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
	}{
		{
			name:      "autumn semester",
			now:       time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "spring semester belongs to previous August",
			now:       time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "july is still the old year",
			now:       time.Date(2024, 7, 31, 23, 0, 0, 0, time.UTC),
			wantStart: time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "august 1st starts the new year",
			now:       time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := AcademicYearRange(tt.now)
			assert.True(t, start.Equal(tt.wantStart), "start = %v", start)
			assert.True(t, end.Equal(tt.wantStart.AddDate(1, 0, 0)), "end = %v", end)
		})
	}
}

func TestCleanDescription(t *testing.T) {
	got := cleanDescription(
		"TD\r\n\n\n\nA21 &amp; A22\n\n\n\n4TIN601U Algorithmique\n\n\n\nM. DUPONT",
		"TD", "4TIN601U Algorithmique")
	assert.Equal(t, "A21 & A22\nM. DUPONT", got)
}
