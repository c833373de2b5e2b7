// Package browser manages the shared headless browser and the per-user
// sessions inside it. A single browser process (either launched locally
// through Playwright or connected over CDP to a browserless container)
// hosts one isolated browser context per user; the pool hands those
// contexts out, keeps them logged in and tears everything down when the
// last one goes away.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/archibridge/archibridge/pkg/models"
)

var (
	// ErrCredentialsMissing means no cached secret exists for the user.
	// Retrying cannot help until the user signs in to the dashboard again.
	ErrCredentialsMissing = errors.New("credentials missing")

	// ErrLoginFailed means the remote system rejected the login attempt.
	ErrLoginFailed = errors.New("login failed")

	// ErrNavigationTimeout means a page did not settle within the
	// configured navigation timeout.
	ErrNavigationTimeout = errors.New("navigation timeout")

	// ErrSessionInvalid means a cached session turned out to be dead when
	// it was checked on acquire.
	ErrSessionInvalid = errors.New("session invalid")
)

// Driver names accepted by NewRuntime.
const (
	DriverPlaywright = "playwright"
	DriverCDP        = "cdp"
)

// Runtime abstracts the browser process itself. Implementations launch
// (or connect to) exactly one browser and mint isolated sessions in it.
type Runtime interface {
	// Start launches or connects the browser. Calling Start on a running
	// runtime is a no-op.
	Start(ctx context.Context) error

	// Stop tears the browser down. Safe to call when not running.
	Stop(ctx context.Context) error

	// Connected reports whether the browser process is up and reachable.
	Connected() bool

	// NewSession creates a fresh isolated browser context with one page.
	NewSession(ctx context.Context) (Session, error)

	// Name returns the driver name, for logs and status endpoints.
	Name() string
}

// Session is one isolated browser context belonging to one user.
type Session interface {
	Page() Page
	// Alive cheaply probes whether the context still responds. A session
	// with zero pages or a page that no longer answers queries is dead.
	Alive() bool
	Cookies() ([]models.Cookie, error)
	AddCookies(cookies []models.Cookie) error
	Close() error
}

// Page is the slice of page behaviour the login flow and the sync jobs
// need. All operations carry the runtime's navigation timeout.
type Page interface {
	Goto(url string) error
	URL() string
	Fill(selector, value string) error
	Click(selector string) error
	WaitForSelector(selector string) error
	TextContent(selector string) (string, error)
	Content() (string, error)
}

// RuntimeConfig carries the knobs shared by all drivers.
type RuntimeConfig struct {
	Headless          bool
	Image             string
	DataDir           string
	NavigationTimeout time.Duration
	Logger            *slog.Logger
}

func (c RuntimeConfig) withDefaults() RuntimeConfig {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.Image == "" {
		c.Image = "browserless/chrome:latest"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type runtimeFactory func(cfg RuntimeConfig) (Runtime, error)

var runtimes = map[string]runtimeFactory{
	DriverPlaywright: newPlaywrightRuntime,
	DriverCDP:        newCDPRuntime,
}

// NewRuntime builds the runtime for the named driver. Unknown names fall
// back to the local Playwright driver.
func NewRuntime(name string, cfg RuntimeConfig) (Runtime, error) {
	cfg = cfg.withDefaults()
	factory, ok := runtimes[name]
	if !ok {
		cfg.Logger.Warn("unknown browser driver, using playwright", "driver", name)
		factory = runtimes[DriverPlaywright]
	}
	return factory(cfg)
}
