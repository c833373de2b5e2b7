package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/archibridge/archibridge/pkg/models"
)

// playwrightRuntime launches Chromium locally through the Playwright
// driver. This is the default and the only driver that works without a
// Docker daemon.
type playwrightRuntime struct {
	mu      sync.Mutex
	cfg     RuntimeConfig
	logger  *slog.Logger
	pw      *playwright.Playwright
	browser playwright.Browser
}

func newPlaywrightRuntime(cfg RuntimeConfig) (Runtime, error) {
	return &playwrightRuntime{cfg: cfg, logger: cfg.Logger}, nil
}

func (r *playwrightRuntime) Name() string { return DriverPlaywright }

func (r *playwrightRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil && r.browser.IsConnected() {
		return nil
	}

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(r.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch chromium: %w", err)
	}

	r.pw = pw
	r.browser = browser
	r.logger.Info("browser launched", "driver", DriverPlaywright, "headless", r.cfg.Headless)
	return nil
}

func (r *playwrightRuntime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			r.logger.Warn("failed to close browser", "error", err)
		}
		r.browser = nil
	}
	if r.pw != nil {
		if err := r.pw.Stop(); err != nil {
			r.logger.Warn("failed to stop playwright driver", "error", err)
		}
		r.pw = nil
	}
	return nil
}

func (r *playwrightRuntime) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.browser != nil && r.browser.IsConnected()
}

func (r *playwrightRuntime) NewSession(ctx context.Context) (Session, error) {
	r.mu.Lock()
	browser := r.browser
	r.mu.Unlock()
	return newPWSession(browser, r.cfg)
}

// newPWSession mints an isolated context with a single page on an
// already-running browser. Shared by the local and the CDP drivers.
func newPWSession(browser playwright.Browser, cfg RuntimeConfig) (Session, error) {
	if browser == nil || !browser.IsConnected() {
		return nil, fmt.Errorf("browser is not running")
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1366, Height: 768},
		Locale:   playwright.String("it-IT"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(cfg.NavigationTimeout.Milliseconds()))

	return &pwSession{context: bctx, page: page, timeout: cfg.NavigationTimeout}, nil
}

type pwSession struct {
	context playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration
}

func (s *pwSession) Page() Page {
	return &pwPage{page: s.page, timeout: s.timeout}
}

func (s *pwSession) Alive() bool {
	if s.page.IsClosed() {
		return false
	}
	if len(s.context.Pages()) == 0 {
		return false
	}
	// A context can linger after its browser died; a trivial query tells
	// the two states apart.
	if _, err := s.page.Title(); err != nil {
		return false
	}
	return true
}

func (s *pwSession) Cookies() ([]models.Cookie, error) {
	raw, err := s.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (s *pwSession) AddCookies(cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
			SameSite: sameSiteAttr(c.SameSite),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		optional = append(optional, oc)
	}
	if err := s.context.AddCookies(optional); err != nil {
		return fmt.Errorf("failed to restore cookies: %w", err)
	}
	return nil
}

func (s *pwSession) Close() error {
	if !s.page.IsClosed() {
		if err := s.page.Close(); err != nil {
			return fmt.Errorf("failed to close page: %w", err)
		}
	}
	if err := s.context.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

func sameSiteAttr(s string) *playwright.SameSiteAttribute {
	switch strings.ToLower(s) {
	case "strict":
		return playwright.SameSiteAttributeStrict
	case "lax":
		return playwright.SameSiteAttributeLax
	case "none":
		return playwright.SameSiteAttributeNone
	}
	return nil
}

type pwPage struct {
	page    playwright.Page
	timeout time.Duration
}

func (p *pwPage) ms() *float64 {
	return playwright.Float(float64(p.timeout.Milliseconds()))
}

func (p *pwPage) Goto(url string) error {
	// The remote system keeps long-poll connections open, so networkidle
	// never fires. DOM readiness is the strongest signal available.
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   p.ms(),
	})
	return mapNavError(err)
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Fill(selector, value string) error {
	err := p.page.Fill(selector, value, playwright.PageFillOptions{Timeout: p.ms()})
	return mapNavError(err)
}

func (p *pwPage) Click(selector string) error {
	err := p.page.Click(selector, playwright.PageClickOptions{Timeout: p.ms()})
	return mapNavError(err)
}

func (p *pwPage) WaitForSelector(selector string) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: p.ms(),
	})
	return mapNavError(err)
}

func (p *pwPage) TextContent(selector string) (string, error) {
	// Short timeout: callers probe for elements that may simply not exist.
	text, err := p.page.TextContent(selector, playwright.PageTextContentOptions{
		Timeout: playwright.Float(2000),
	})
	if err != nil {
		return "", mapNavError(err)
	}
	return text, nil
}

func (p *pwPage) Content() (string, error) {
	content, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return content, nil
}

// mapNavError folds driver timeouts into ErrNavigationTimeout so callers
// can branch on errors.Is instead of string matching.
func mapNavError(err error) error {
	if err == nil {
		return nil
	}
	var pwErr *playwright.Error
	if errors.As(err, &pwErr) && pwErr.Name == "TimeoutError" {
		return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}
	return err
}
