package calendar

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a scripted Provider for strategy tests.
type fakeProvider struct {
	calendars   []Calendar
	listErr     error
	created     []string
	nextCreated string
}

func (f *fakeProvider) CheckAccess(context.Context) error { return nil }

func (f *fakeProvider) ListCalendars(context.Context) ([]Calendar, error) {
	return f.calendars, f.listErr
}

func (f *fakeProvider) CreateCalendar(_ context.Context, title string) (string, error) {
	f.created = append(f.created, title)
	return f.nextCreated, nil
}

func (f *fakeProvider) DeleteCalendar(context.Context, string) error { return nil }

func (f *fakeProvider) CreateEntry(context.Context, string, Entry) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) UpdateEntry(context.Context, string, Entry) error {
	return errors.New("not implemented")
}

func (f *fakeProvider) DeleteEntry(context.Context, string) error { return nil }

func TestDirectCreate_FindsExisting(t *testing.T) {
	p := &fakeProvider{calendars: []Calendar{
		{ID: "cal-1", Title: "Personal"},
		{ID: "cal-2", Title: "UKit"},
	}}

	id, err := DirectCreateStrategy{}.EnsureCalendar(context.Background(), p, "UKit")
	require.NoError(t, err)
	assert.Equal(t, "cal-2", id)
	assert.Empty(t, p.created)
}

func TestDirectCreate_CreatesWhenMissing(t *testing.T) {
	p := &fakeProvider{nextCreated: "cal-new"}

	id, err := DirectCreateStrategy{}.EnsureCalendar(context.Background(), p, "UKit")
	require.NoError(t, err)
	assert.Equal(t, "cal-new", id)
	assert.Equal(t, []string{"UKit"}, p.created)
}

func TestSourceLookup_NeverCreates(t *testing.T) {
	p := &fakeProvider{calendars: []Calendar{{ID: "cal-1", Title: "Personal"}}}

	_, err := SourceLookupStrategy{}.EnsureCalendar(context.Background(), p, "UKit")
	require.Error(t, err)
	assert.Empty(t, p.created)
}

func TestSourceLookup_FindsExisting(t *testing.T) {
	p := &fakeProvider{calendars: []Calendar{{ID: "/alice/calendars/ukit/", Title: "UKit"}}}

	id, err := SourceLookupStrategy{}.EnsureCalendar(context.Background(), p, "UKit")
	require.NoError(t, err)
	assert.Equal(t, "/alice/calendars/ukit/", id)
}

func TestStrategies_PropagateListError(t *testing.T) {
	p := &fakeProvider{listErr: errors.New("boom")}

	_, err := DirectCreateStrategy{}.EnsureCalendar(context.Background(), p, "UKit")
	assert.Error(t, err)
	_, err = SourceLookupStrategy{}.EnsureCalendar(context.Background(), p, "UKit")
	assert.Error(t, err)
}
