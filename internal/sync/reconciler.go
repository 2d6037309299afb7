// Package sync reconciles the remote timetable with the user's calendar.
//
// One Reconciler owns the persisted remoteID -> calendar-entry mapping and
// guarantees at most one sync cycle in flight. A cycle is best-effort per
// event: individual provider failures are logged and retried on the next
// cycle, never aborting the rest of the diff.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	stdsync "sync"
	"time"

	"github.com/kb-dev/ukit-sync/internal/calendar"
	"github.com/kb-dev/ukit-sync/internal/remote"
	"github.com/kb-dev/ukit-sync/internal/store"
)

// AppCalendarName is the well-known title of the app-owned calendar.
const AppCalendarName = "UKit"

const (
	keyMapping  = "previousSyncData"
	keyLastSync = "previousSyncTime"
)

var (
	// ErrSyncInProgress is returned when a cycle is already running.
	// Triggers are rejected, never queued.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrSyncDisabled is returned when sync has been switched off.
	ErrSyncDisabled = errors.New("sync is disabled")
	// ErrNoTarget is returned when no sync target has been chosen.
	ErrNoTarget = errors.New("no sync target configured")
)

// TargetKind says where synced entries go.
type TargetKind string

const (
	// TargetNone means sync has nowhere to write.
	TargetNone TargetKind = "none"
	// TargetApp means the app owns a dedicated calendar, created on demand.
	TargetApp TargetKind = "app"
	// TargetExisting means entries go into a user-chosen calendar.
	TargetExisting TargetKind = "existing"
)

// Target selects the destination calendar.
type Target struct {
	Kind       TargetKind `json:"kind"`
	CalendarID string     `json:"calendarId,omitempty"`
}

// Mapping is the persisted remoteID -> calendar entry ID table.
type Mapping map[string]string

// EventSource is the slice of the remote client the reconciler needs.
type EventSource interface {
	FetchEventsForRange(ctx context.Context, group string, start, end time.Time) ([]remote.Event, error)
}

// Notification reports the outcome of one sync cycle to subscribers.
type Notification struct {
	Time    time.Time
	Created int
	Updated int
	Deleted int
	Err     error
}

// Options configures a Reconciler. Store, Source, Provider and Strategy are
// required; zero values elsewhere pick sensible defaults.
type Options struct {
	Store    store.Store
	Source   EventSource
	Provider calendar.Provider
	Strategy calendar.CreationStrategy

	Group        string
	Target       Target
	Enabled      bool
	CalendarName string         // defaults to AppCalendarName
	Location     *time.Location // defaults to UTC
	Now          func() time.Time
}

// Reconciler keeps one group's academic year mirrored into a calendar.
type Reconciler struct {
	store    store.Store
	source   EventSource
	provider calendar.Provider
	strategy calendar.CreationStrategy

	calendarName string
	loc          *time.Location
	now          func() time.Time

	mu          stdsync.Mutex
	busy        bool
	group       string
	target      Target
	enabled     bool
	lastSync    *time.Time
	subscribers map[int]func(Notification)
	nextSubID   int
}

// NewReconciler creates a Reconciler and restores lastSync from the store.
func NewReconciler(ctx context.Context, opts Options) *Reconciler {
	if opts.CalendarName == "" {
		opts.CalendarName = AppCalendarName
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Target.Kind == "" {
		opts.Target.Kind = TargetNone
	}

	r := &Reconciler{
		store:        opts.Store,
		source:       opts.Source,
		provider:     opts.Provider,
		strategy:     opts.Strategy,
		calendarName: opts.CalendarName,
		loc:          opts.Location,
		now:          opts.Now,
		group:        opts.Group,
		target:       opts.Target,
		enabled:      opts.Enabled,
		subscribers:  make(map[int]func(Notification)),
	}

	if raw, err := opts.Store.Get(ctx, keyLastSync); err == nil {
		if t, err := time.Parse(time.RFC3339, string(raw)); err == nil {
			r.lastSync = &t
		}
	}
	return r
}

// IsSyncing reports whether a cycle is currently running.
func (r *Reconciler) IsSyncing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// LastSync returns the completion time of the last successful cycle, nil if
// none has run.
func (r *Reconciler) LastSync() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastSync == nil {
		return nil
	}
	t := *r.lastSync
	return &t
}

// SetEnabled switches syncing on or off. Disabling does not tear anything
// down; entries stay where they are.
func (r *Reconciler) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// SetGroup changes the group to sync. Entries of the old group are
// reconciled away naturally on the next cycle (the remote set changes).
func (r *Reconciler) SetGroup(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.group = group
}

// Subscribe registers a callback invoked after every cycle. The returned
// function unsubscribes it.
func (r *Reconciler) Subscribe(fn func(Notification)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subscribers, id)
	}
}

// TriggerSync runs one full sync cycle. At most one cycle runs at a time;
// overlapping triggers get ErrSyncInProgress immediately.
func (r *Reconciler) TriggerSync(ctx context.Context) error {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return ErrSyncInProgress
	}
	if !r.enabled {
		r.mu.Unlock()
		return ErrSyncDisabled
	}
	if r.target.Kind == TargetNone || r.target.Kind == "" {
		r.mu.Unlock()
		return ErrNoTarget
	}
	target := r.target
	group := r.group
	r.busy = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	log.Println("Starting sync...")
	note, err := r.runCycle(ctx, target, group)
	note.Time = r.now()
	note.Err = err

	r.mu.Lock()
	if err == nil {
		t := note.Time
		r.lastSync = &t
	}
	subs := make([]func(Notification), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(note)
	}

	if err == nil {
		log.Printf("Sync complete: %d created, %d updated, %d deleted", note.Created, note.Updated, note.Deleted)
	}
	return err
}

func (r *Reconciler) runCycle(ctx context.Context, target Target, group string) (Notification, error) {
	var note Notification

	// Permission gate: nothing is mutated when access is gone.
	if err := r.provider.CheckAccess(ctx); err != nil {
		return note, fmt.Errorf("calendar access check failed: %w", err)
	}

	calendarID, err := r.resolveCalendar(ctx, target)
	if err != nil {
		return note, err
	}

	start, end := remote.AcademicYearRange(r.now())
	events, err := r.source.FetchEventsForRange(ctx, group, start, end)
	if err != nil {
		// Abort with the previous mapping untouched; next cycle reconverges.
		return note, fmt.Errorf("failed to fetch events: %w", err)
	}

	oldMapping := r.loadMapping(ctx)
	newMapping := make(Mapping, len(events))
	kept := make(map[string]bool, len(events))

	for _, ev := range events {
		if ev.Category == remote.CategoryHoliday {
			continue
		}
		kept[ev.RemoteID] = true
		entry := r.toEntry(ev)

		entryID, known := oldMapping[ev.RemoteID]
		if known {
			err := r.provider.UpdateEntry(ctx, entryID, entry)
			if err == nil {
				newMapping[ev.RemoteID] = entryID
				note.Updated++
				continue
			}
			// The mapped entry is stale or gone; fall through to recreate.
			log.Printf("Warning: failed to update entry for event %s, recreating: %v", ev.RemoteID, err)
		}

		newID, err := r.provider.CreateEntry(ctx, calendarID, entry)
		if err != nil {
			log.Printf("Warning: failed to create entry for event %s: %v", ev.RemoteID, err)
			continue
		}
		newMapping[ev.RemoteID] = newID
		note.Created++
	}

	// Deletion pass: previously synced events that the remote no longer has.
	for remoteID, entryID := range oldMapping {
		if kept[remoteID] {
			continue
		}
		if err := r.provider.DeleteEntry(ctx, entryID); err != nil {
			log.Printf("Warning: failed to delete entry for event %s: %v", remoteID, err)
			continue
		}
		note.Deleted++
	}

	// Single end-of-cycle commit. A crash before this point leaves the old
	// mapping in place and the next cycle converges again.
	raw, err := json.Marshal(newMapping)
	if err != nil {
		return note, fmt.Errorf("failed to encode sync mapping: %w", err)
	}
	if err := r.store.Set(ctx, keyMapping, raw); err != nil {
		return note, fmt.Errorf("failed to store sync mapping: %w", err)
	}
	if err := r.store.Set(ctx, keyLastSync, []byte(r.now().Format(time.RFC3339))); err != nil {
		return note, fmt.Errorf("failed to store sync time: %w", err)
	}
	return note, nil
}

// SetTarget tears down the entries synced into the old target and activates
// the new one. Rejected while a cycle is running.
func (r *Reconciler) SetTarget(ctx context.Context, target Target) error {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return ErrSyncInProgress
	}
	r.busy = true
	old := r.target
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	r.teardown(ctx, old)

	r.mu.Lock()
	r.target = target
	r.lastSync = nil
	r.mu.Unlock()
	return nil
}

// teardown removes everything synced into the old target. Failures are
// logged and the switch proceeds; a dangling entry beats a stuck target.
func (r *Reconciler) teardown(ctx context.Context, old Target) {
	switch old.Kind {
	case TargetApp:
		// The whole calendar object is ours, drop it in one call.
		calendars, err := r.provider.ListCalendars(ctx)
		if err != nil {
			log.Printf("Warning: failed to list calendars during teardown: %v", err)
			break
		}
		for _, cal := range calendars {
			if cal.Title != r.calendarName {
				continue
			}
			if err := r.provider.DeleteCalendar(ctx, cal.ID); err != nil {
				log.Printf("Warning: failed to delete calendar %s: %v", cal.ID, err)
			}
			break
		}
	case TargetExisting:
		// The calendar belongs to the user, remove only our entries.
		for remoteID, entryID := range r.loadMapping(ctx) {
			if err := r.provider.DeleteEntry(ctx, entryID); err != nil {
				log.Printf("Warning: failed to delete entry for event %s: %v", remoteID, err)
			}
		}
	}

	if err := r.store.Delete(ctx, keyMapping); err != nil {
		log.Printf("Warning: failed to clear sync mapping: %v", err)
	}
	if err := r.store.Delete(ctx, keyLastSync); err != nil {
		log.Printf("Warning: failed to clear sync time: %v", err)
	}
}

func (r *Reconciler) resolveCalendar(ctx context.Context, target Target) (string, error) {
	switch target.Kind {
	case TargetApp:
		id, err := r.strategy.EnsureCalendar(ctx, r.provider, r.calendarName)
		if err != nil {
			return "", fmt.Errorf("failed to resolve app calendar: %w", err)
		}
		return id, nil
	case TargetExisting:
		if target.CalendarID == "" {
			return "", ErrNoTarget
		}
		return target.CalendarID, nil
	}
	return "", ErrNoTarget
}

// loadMapping reads previousSyncData; a missing or corrupt mapping degrades
// to empty, which only costs redundant creates.
func (r *Reconciler) loadMapping(ctx context.Context) Mapping {
	raw, err := r.store.Get(ctx, keyMapping)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Warning: failed to load sync mapping: %v", err)
		}
		return Mapping{}
	}
	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		log.Printf("Warning: corrupt sync mapping, starting fresh: %v", err)
		return Mapping{}
	}
	return m
}

func (r *Reconciler) toEntry(ev remote.Event) calendar.Entry {
	return calendar.Entry{
		Title:    ev.Title,
		Start:    ev.Start,
		End:      ev.End,
		Notes:    ev.Notes,
		TimeZone: r.loc.String(),
	}
}
