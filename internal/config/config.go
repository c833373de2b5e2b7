package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/archibridge/archibridge/pkg/models"
)

// Config is the process configuration, read from the environment after the
// optional .env file has been loaded at startup.
type Config struct {
	Port         int
	DataDir      string
	DatabasePath string

	// BaseURL is the root of the remote ERP, e.g. https://erp.example.it.
	BaseURL string

	Driver       string // playwright or cdp
	Headless     bool
	BrowserImage string
	MaxSessions  int

	NavigationTimeout time.Duration

	CredentialKey string // 64 hex chars, AES-256 key for cached secrets

	LogLevel  string
	LogFormat string
	LogDir    string

	ScheduleFile string
	AutoSync     bool

	AdminUsername    string
	AdminDisplayName string
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getInt("PORT", 8080),
		DataDir:           getString("DATA_DIR", "./data"),
		DatabasePath:      getString("DATABASE_PATH", ""),
		BaseURL:           os.Getenv("ARCHIBALD_BASE_URL"),
		Driver:            getString("BROWSER_DRIVER", "playwright"),
		Headless:          getBool("BROWSER_HEADLESS", true),
		BrowserImage:      getString("BROWSER_IMAGE", "browserless/chrome:latest"),
		MaxSessions:       getInt("MAX_SESSIONS", 10),
		NavigationTimeout: time.Duration(getInt("NAVIGATION_TIMEOUT_SECONDS", 30)) * time.Second,
		CredentialKey:     os.Getenv("CREDENTIAL_KEY"),
		LogLevel:          getString("LOG_LEVEL", "info"),
		LogFormat:         getString("LOG_FORMAT", "json"),
		LogDir:            os.Getenv("LOG_DIR"),
		ScheduleFile:      os.Getenv("SCHEDULE_FILE"),
		AutoSync:          getBool("AUTO_SYNC", true),
		AdminUsername:     os.Getenv("ADMIN_USERNAME"),
		AdminDisplayName:  getString("ADMIN_DISPLAY_NAME", "Administrator"),
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ARCHIBALD_BASE_URL is required")
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = cfg.DataDir + "/archibridge.db"
	}
	if cfg.Driver != "playwright" && cfg.Driver != "cdp" {
		return nil, fmt.Errorf("unknown BROWSER_DRIVER %q (want playwright or cdp)", cfg.Driver)
	}

	return cfg, nil
}

// TypeSchedule is a per-type override from the schedule file. Zero fields
// keep the built-in default.
type TypeSchedule struct {
	Priority        int `yaml:"priority"`
	IntervalMinutes int `yaml:"intervalMinutes"`
	StaggerMinutes  int `yaml:"staggerMinutes"`
}

type scheduleFile struct {
	Types map[string]TypeSchedule `yaml:"types"`
}

// LoadSchedule reads per-type schedule overrides from a YAML file.
func LoadSchedule(path string) (map[models.SyncType]TypeSchedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}

	var sf scheduleFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse schedule file: %w", err)
	}

	out := make(map[models.SyncType]TypeSchedule, len(sf.Types))
	for name, ts := range sf.Types {
		t := models.SyncType(name)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown sync type %q in schedule file", name)
		}
		out[t] = ts
	}
	return out, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
