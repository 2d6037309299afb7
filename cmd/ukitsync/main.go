package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"github.com/kb-dev/ukit-sync/internal/auth"
	"github.com/kb-dev/ukit-sync/internal/cache"
	"github.com/kb-dev/ukit-sync/internal/calendar"
	"github.com/kb-dev/ukit-sync/internal/config"
	"github.com/kb-dev/ukit-sync/internal/crous"
	"github.com/kb-dev/ukit-sync/internal/remote"
	"github.com/kb-dev/ukit-sync/internal/schedule"
	"github.com/kb-dev/ukit-sync/internal/store"
	"github.com/kb-dev/ukit-sync/internal/sync"
)

const settingsKey = "settings"

func printHelp() {
	fmt.Fprintf(os.Stderr, `UKit Sync

Fetches class schedules, the campus group list and CROUS menus for a student
group, caches every fetch for offline use, and keeps the full academic year
of the group mirrored into a calendar (Google Calendar or any CalDAV server).

USAGE:
    %s [OPTIONS] COMMAND [ARGS]

COMMANDS:
    sync                      Run one sync cycle now
    daemon                    Run sync periodically (sync_cron schedule)
    groups                    List the campus groups
    day [YYYY-MM-DD]          Show the group's schedule for a date (default today)
    week [YEAR WEEK]          Show the group's schedule for an ISO week (default current)
    crous restaurants [LAT LON]
                              List CROUS restaurants, nearest first when a position is given
    crous menu ID             Show the menu of one restaurant
    set-target KIND [CAL-ID]  Change the sync target: none, app, or existing CAL-ID.
                              Entries synced into the old target are removed first.
    enable-sync               Switch periodic sync on
    disable-sync              Switch periodic sync off (entries are left in place)

OPTIONS:
    -h, --help                Show this help message and exit
    --config FILE             Path to JSON config file
    --store PATH              Path to the SQLite cache/state file
                              (overrides config file and UKIT_STORE_PATH env var)
    --group ID                Student group to fetch
                              (overrides config file and UKIT_GROUP env var)
    --base-url URL            Planning service base URL
                              (overrides config file and UKIT_BASE_URL env var)

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (UKIT_STORE_PATH, UKIT_GROUP, UKIT_BASE_URL,
       UKIT_SYNC_CRON, UKIT_SYNC_ENABLED, GOOGLE_CREDENTIALS_PATH,
       GOOGLE_TOKEN_PATH, CALDAV_SERVER_URL, CALDAV_USERNAME, CALDAV_PASSWORD)
    3. Config file (--config)
    4. Defaults

CONFIG FILE:
    {
      "store_path": "/home/alice/.ukit-sync.db",
      "group": "610GA",
      "sync_enabled": true,
      "sync_target": "app",
      "sync_cron": "@every 1h",
      "provider": {
        "type": "caldav",
        "server_url": "https://caldav.icloud.com",
        "username": "alice@icloud.com",
        "password": "app-specific-password"
      }
    }

    For the Google provider, set provider.type to "google" and provide
    "credentials_path" (OAuth client JSON from Google Cloud Console) and
    "token_path" (where the OAuth token is stored after the first run).
    For iCloud, generate an app-specific password at
    https://appleid.apple.com/account/manage

DESCRIPTION:
    The remote timetable is the source of truth. Synced entries are updated
    and deleted to follow it; do not edit them by hand. With sync_target
    "app" the tool owns a calendar named %q and may create and delete the
    whole calendar; with "existing" it only touches the entries it created
    inside the calendar you chose.

    All listings fall back to the last cached snapshot when the network is
    down and print the snapshot's date.

EXAMPLES:
    %s --config config.json sync
    %s --config config.json day 2024-03-25
    %s --group 610GA week 2024 13
    %s --config config.json set-target existing /alice/calendars/perso/

`, os.Args[0], sync.AppCalendarName, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

// settings are the durable sync switches kept in the store; they override the
// config file so set-target and disable-sync survive restarts.
type settings struct {
	Enabled *bool        `json:"enabled,omitempty"`
	Target  *sync.Target `json:"target,omitempty"`
}

func loadSettings(ctx context.Context, st store.Store) settings {
	var s settings
	raw, err := st.Get(ctx, settingsKey)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Printf("Warning: corrupt settings, ignoring: %v", err)
	}
	return s
}

func saveSettings(ctx context.Context, st store.Store, s settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return st.Set(ctx, settingsKey, raw)
}

func configuredTarget(cfg *config.Config) sync.Target {
	switch cfg.SyncTarget {
	case "app":
		return sync.Target{Kind: sync.TargetApp}
	case "existing":
		return sync.Target{Kind: sync.TargetExisting, CalendarID: cfg.SyncCalendarID}
	}
	return sync.Target{Kind: sync.TargetNone}
}

func effectiveTarget(cfg *config.Config, s settings) sync.Target {
	if s.Target != nil {
		return *s.Target
	}
	return configuredTarget(cfg)
}

func effectiveEnabled(cfg *config.Config, s settings) bool {
	if s.Enabled != nil {
		return *s.Enabled
	}
	return cfg.SyncEnabled
}

func buildProvider(ctx context.Context, cfg *config.Config) (calendar.Provider, calendar.CreationStrategy, error) {
	switch cfg.Provider.Type {
	case "google":
		clientID, clientSecret, err := config.LoadGoogleCredentials(cfg.Provider.CredentialsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load Google credentials: %w", err)
		}
		oauthConfig := &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes: []string{
				"https://www.googleapis.com/auth/calendar",
				"https://www.googleapis.com/auth/calendar.events",
			},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		}
		tokenStore := auth.NewFileTokenStore(cfg.Provider.TokenPath)
		httpClient, err := auth.GetAuthenticatedClient(ctx, oauthConfig, tokenStore)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to authenticate: %w", err)
		}
		provider, err := calendar.NewGoogleProvider(ctx, httpClient)
		if err != nil {
			return nil, nil, err
		}
		// Google lets the app own calendars outright.
		return provider, calendar.DirectCreateStrategy{}, nil
	case "caldav":
		provider := calendar.NewCalDAVProvider(cfg.Provider.ServerURL, cfg.Provider.Username, cfg.Provider.Password)
		// CalDAV servers like iCloud refuse MKCALENDAR from third parties,
		// so the calendar must already exist.
		return provider, calendar.SourceLookupStrategy{}, nil
	case "":
		return nil, nil, fmt.Errorf("provider.type must be configured for sync commands")
	}
	return nil, nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
}

func buildReconciler(ctx context.Context, cfg *config.Config, st store.Store, client *remote.Client) (*sync.Reconciler, error) {
	provider, strategy, err := buildProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := loadSettings(ctx, st)
	return sync.NewReconciler(ctx, sync.Options{
		Store:        st,
		Source:       client,
		Provider:     provider,
		Strategy:     strategy,
		Group:        cfg.Group,
		Target:       effectiveTarget(cfg, s),
		Enabled:      effectiveEnabled(cfg, s),
		CalendarName: cfg.CalendarName,
		Location:     client.Location(),
	}), nil
}

// staleNotice prints the cached snapshot's date when the data is not live.
func staleNotice(date *time.Time) {
	if date != nil {
		fmt.Printf("(offline — data from %s)\n", date.Format("2006-01-02 15:04"))
	}
}

func requireGroup(cfg *config.Config) string {
	if cfg.Group == "" {
		log.Fatalf("A group is required. Set it via --group, UKIT_GROUP, or the config file.")
	}
	return cfg.Group
}

func printEvents(events []remote.Event) {
	if len(events) == 0 {
		fmt.Println("No courses.")
		return
	}
	for _, ev := range events {
		fmt.Printf("%s - %s  %s\n", ev.Start.Format("15:04"), ev.End.Format("15:04"), ev.Title)
		if ev.Notes != "" {
			fmt.Printf("    %s\n", ev.Notes)
		}
	}
}

func main() {
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	configFile := flag.String("config", "", "Path to JSON config file")
	storePath := flag.String("store", "", "Path to the SQLite cache/state file")
	group := flag.String("group", "", "Student group to fetch")
	baseURL := flag.String("base-url", "", "Planning service base URL")
	flag.Parse()

	if *helpFlag || *helpFlagShort || flag.NArg() == 0 {
		printHelp()
		if flag.NArg() == 0 && !*helpFlag && !*helpFlagShort {
			os.Exit(2)
		}
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags)
	ctx := context.Background()

	cfg, err := config.LoadConfig(*configFile, config.Flags{
		StorePath: *storePath,
		Group:     *group,
		BaseURL:   *baseURL,
	})
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := store.OpenSQLite(ctx, cfg.StorePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	client, err := remote.NewClient(cfg.BaseURL)
	if err != nil {
		log.Fatalf("Failed to create planning client: %v", err)
	}
	fetcher := cache.NewFetcher(st, cache.NewHTTPProbe(client.BaseURL()), nil)
	schedules := schedule.NewService(fetcher, client, client.Location())

	switch cmd := flag.Arg(0); cmd {
	case "sync":
		rec, err := buildReconciler(ctx, cfg, st, client)
		if err != nil {
			log.Fatalf("Failed to set up sync: %v", err)
		}
		if err := rec.TriggerSync(ctx); err != nil {
			log.Fatalf("Sync failed: %v", err)
		}

	case "daemon":
		rec, err := buildReconciler(ctx, cfg, st, client)
		if err != nil {
			log.Fatalf("Failed to set up sync: %v", err)
		}
		runSync := func() {
			if err := rec.TriggerSync(ctx); err != nil && !errors.Is(err, sync.ErrSyncInProgress) {
				log.Printf("Warning: sync failed: %v", err)
			}
		}
		c := cron.New()
		if _, err := c.AddFunc(cfg.SyncCron, runSync); err != nil {
			log.Fatalf("Invalid sync_cron %q: %v", cfg.SyncCron, err)
		}
		log.Printf("Running sync every %q, first cycle now", cfg.SyncCron)
		runSync()
		c.Start()
		select {}

	case "groups":
		res, err := schedules.Groups(ctx)
		if err != nil {
			log.Fatalf("Failed to list groups: %v", err)
		}
		staleNotice(res.CacheDate)
		if res.CacheDate != nil && time.Since(*res.CacheDate) > schedule.GroupListMaxAge {
			fmt.Println("(group list is over a week old, refresh when back online)")
		}
		for _, g := range res.Data {
			fmt.Println(g)
		}

	case "day":
		g := requireGroup(cfg)
		date := time.Now()
		if flag.NArg() > 1 {
			date, err = time.ParseInLocation("2006-01-02", flag.Arg(1), client.Location())
			if err != nil {
				log.Fatalf("Invalid date %q, expected YYYY-MM-DD", flag.Arg(1))
			}
		}
		res, err := schedules.Day(ctx, g, date)
		if err != nil {
			log.Fatalf("Failed to fetch day: %v", err)
		}
		staleNotice(res.CacheDate)
		printEvents(res.Data)

	case "week":
		g := requireGroup(cfg)
		year, week := time.Now().ISOWeek()
		if flag.NArg() > 2 {
			if year, err = strconv.Atoi(flag.Arg(1)); err != nil {
				log.Fatalf("Invalid year %q", flag.Arg(1))
			}
			if week, err = strconv.Atoi(flag.Arg(2)); err != nil {
				log.Fatalf("Invalid week %q", flag.Arg(2))
			}
		}
		res, err := schedules.Week(ctx, g, year, week)
		if err != nil {
			log.Fatalf("Failed to fetch week: %v", err)
		}
		staleNotice(res.CacheDate)
		for _, day := range res.Data {
			fmt.Printf("== %s ==\n", day.Date.Format("Monday 2006-01-02"))
			printEvents(day.Courses)
		}

	case "crous":
		crousService := crous.NewService(fetcher, "")
		switch flag.Arg(1) {
		case "restaurants":
			var lat, lon *float64
			if flag.NArg() > 3 {
				la, err1 := strconv.ParseFloat(flag.Arg(2), 64)
				lo, err2 := strconv.ParseFloat(flag.Arg(3), 64)
				if err1 != nil || err2 != nil {
					log.Fatalf("Invalid position %q %q", flag.Arg(2), flag.Arg(3))
				}
				lat, lon = &la, &lo
			}
			res, err := crousService.Restaurants(ctx, lat, lon)
			if err != nil {
				log.Fatalf("Failed to list restaurants: %v", err)
			}
			staleNotice(res.CacheDate)
			for _, r := range res.Data {
				if r.DistanceKm != nil {
					fmt.Printf("%s  %s (%s, %.1f km)\n", r.ID, r.Title, r.ShortDesc, *r.DistanceKm)
				} else {
					fmt.Printf("%s  %s (%s)\n", r.ID, r.Title, r.ShortDesc)
				}
			}
		case "menu":
			if flag.NArg() < 3 {
				log.Fatalf("Usage: crous menu RESTAURANT-ID")
			}
			res, err := crousService.Menus(ctx, flag.Arg(2))
			if err != nil {
				log.Fatalf("Failed to fetch menu: %v", err)
			}
			staleNotice(res.CacheDate)
			for _, day := range res.Data {
				fmt.Printf("== %s ==\n", day.Date)
				printMenu("Midi", day.Lunch)
				printMenu("Soir", day.Dinner)
			}
		default:
			log.Fatalf("Usage: crous restaurants [LAT LON] | crous menu RESTAURANT-ID")
		}

	case "set-target":
		if flag.NArg() < 2 {
			log.Fatalf("Usage: set-target none|app|existing [CALENDAR-ID]")
		}
		var target sync.Target
		switch flag.Arg(1) {
		case "none":
			target = sync.Target{Kind: sync.TargetNone}
		case "app":
			target = sync.Target{Kind: sync.TargetApp}
		case "existing":
			if flag.NArg() < 3 {
				log.Fatalf("set-target existing requires a calendar ID")
			}
			target = sync.Target{Kind: sync.TargetExisting, CalendarID: flag.Arg(2)}
		default:
			log.Fatalf("Unknown target kind %q", flag.Arg(1))
		}

		rec, err := buildReconciler(ctx, cfg, st, client)
		if err != nil {
			log.Fatalf("Failed to set up sync: %v", err)
		}
		if err := rec.SetTarget(ctx, target); err != nil {
			log.Fatalf("Failed to change target: %v", err)
		}
		s := loadSettings(ctx, st)
		s.Target = &target
		if err := saveSettings(ctx, st, s); err != nil {
			log.Fatalf("Failed to save settings: %v", err)
		}
		log.Printf("Sync target is now %q", target.Kind)

	case "enable-sync", "disable-sync":
		enabled := cmd == "enable-sync"
		s := loadSettings(ctx, st)
		s.Enabled = &enabled
		if err := saveSettings(ctx, st, s); err != nil {
			log.Fatalf("Failed to save settings: %v", err)
		}
		log.Printf("Sync enabled: %v", enabled)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q. Use --help for usage.\n", cmd)
		os.Exit(2)
	}
}

func printMenu(label string, categories []crous.MenuCategory) {
	if len(categories) == 0 {
		return
	}
	fmt.Printf("%s:\n", label)
	for _, cat := range categories {
		fmt.Printf("  %s\n", cat.Name)
		for _, dish := range cat.Dishes {
			fmt.Printf("    - %s\n", dish)
		}
	}
}
