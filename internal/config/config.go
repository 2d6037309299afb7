package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// GoogleCredentials mirrors the JSON Google hands out for OAuth clients.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials reads the OAuth client ID and secret from a Google
// credentials JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// "installed" covers desktop apps, "web" the rest.
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}
	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}

// Provider is the calendar backend configuration.
type Provider struct {
	Type string `json:"type"` // "google" or "caldav"

	// Google specific fields
	CredentialsPath string `json:"credentials_path,omitempty"`
	TokenPath       string `json:"token_path,omitempty"`

	// CalDAV specific fields
	ServerURL string `json:"server_url,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"` // app-specific password for iCloud
}

// Config holds the tool's configuration.
type Config struct {
	StorePath string `json:"store_path,omitempty"` // SQLite cache/state file
	Group     string `json:"group,omitempty"`      // student group to fetch
	BaseURL   string `json:"base_url,omitempty"`   // planning service, empty = default

	SyncEnabled    bool   `json:"sync_enabled,omitempty"`
	SyncTarget     string `json:"sync_target,omitempty"`      // "none", "app" or "existing"
	SyncCalendarID string `json:"sync_calendar_id,omitempty"` // required for "existing"
	CalendarName   string `json:"calendar_name,omitempty"`    // app-owned calendar title
	SyncCron       string `json:"sync_cron,omitempty"`        // daemon schedule

	Provider Provider `json:"provider"`
}

// Flags carries command-line overrides into LoadConfig. Empty strings mean
// "not set".
type Flags struct {
	StorePath      string
	Group          string
	BaseURL        string
	SyncTarget     string
	SyncCalendarID string
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to
// lowest): command-line flags, environment variables, config file, defaults.
func LoadConfig(configFile string, flags Flags) (*Config, error) {
	var config Config

	// Step 1: config file, when provided.
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: environment variables.
	if v := os.Getenv("UKIT_STORE_PATH"); v != "" {
		config.StorePath = v
	}
	if v := os.Getenv("UKIT_GROUP"); v != "" {
		config.Group = v
	}
	if v := os.Getenv("UKIT_BASE_URL"); v != "" {
		config.BaseURL = v
	}
	if v := os.Getenv("UKIT_SYNC_CRON"); v != "" {
		config.SyncCron = v
	}
	if v := os.Getenv("UKIT_SYNC_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid UKIT_SYNC_ENABLED value: %w", err)
		}
		config.SyncEnabled = enabled
	}
	if v := os.Getenv("GOOGLE_CREDENTIALS_PATH"); v != "" {
		config.Provider.CredentialsPath = v
	}
	if v := os.Getenv("GOOGLE_TOKEN_PATH"); v != "" {
		config.Provider.TokenPath = v
	}
	if v := os.Getenv("CALDAV_SERVER_URL"); v != "" {
		config.Provider.ServerURL = v
	}
	if v := os.Getenv("CALDAV_USERNAME"); v != "" {
		config.Provider.Username = v
	}
	if v := os.Getenv("CALDAV_PASSWORD"); v != "" {
		config.Provider.Password = v
	}

	// Step 3: command-line flags win.
	if flags.StorePath != "" {
		config.StorePath = flags.StorePath
	}
	if flags.Group != "" {
		config.Group = flags.Group
	}
	if flags.BaseURL != "" {
		config.BaseURL = flags.BaseURL
	}
	if flags.SyncTarget != "" {
		config.SyncTarget = flags.SyncTarget
	}
	if flags.SyncCalendarID != "" {
		config.SyncCalendarID = flags.SyncCalendarID
	}

	// Step 4: defaults and validation.
	if config.StorePath == "" {
		config.StorePath = "ukit-sync.db"
	}
	if config.CalendarName == "" {
		config.CalendarName = "UKit"
	}
	if config.SyncCron == "" {
		config.SyncCron = "@every 1h"
	}
	if config.SyncTarget == "" {
		config.SyncTarget = "none"
	}

	switch config.SyncTarget {
	case "none", "app":
	case "existing":
		if config.SyncCalendarID == "" {
			return nil, fmt.Errorf("sync_calendar_id must be provided when sync_target is 'existing'")
		}
	default:
		return nil, fmt.Errorf("sync_target must be 'none', 'app' or 'existing', got '%s'", config.SyncTarget)
	}

	// The provider only matters once something will actually be synced.
	if config.SyncTarget != "none" {
		if config.Group == "" {
			return nil, fmt.Errorf("group must be provided via --group flag, UKIT_GROUP environment variable, or config file")
		}
		switch config.Provider.Type {
		case "google":
			if config.Provider.CredentialsPath == "" {
				return nil, fmt.Errorf("provider.credentials_path must be provided for the Google provider")
			}
			if config.Provider.TokenPath == "" {
				return nil, fmt.Errorf("provider.token_path must be provided for the Google provider")
			}
		case "caldav":
			if config.Provider.ServerURL == "" {
				return nil, fmt.Errorf("provider.server_url must be provided for the CalDAV provider")
			}
			if config.Provider.Username == "" {
				return nil, fmt.Errorf("provider.username must be provided for the CalDAV provider")
			}
			if config.Provider.Password == "" {
				return nil, fmt.Errorf("provider.password must be provided for the CalDAV provider")
			}
		default:
			return nil, fmt.Errorf("provider.type must be 'google' or 'caldav', got '%s'", config.Provider.Type)
		}
	}

	return &config, nil
}
