package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/archibridge/archibridge/internal/erp"
	"github.com/archibridge/archibridge/pkg/models"
)

// CredentialSource resolves a user's cached ERP secret.
type CredentialSource interface {
	CredentialSecret(ctx context.Context, userID string) (string, bool, error)
}

// UserDirectory resolves users by id.
type UserDirectory interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
}

// ArtifactStore persists per-user browser state between sessions.
type ArtifactStore interface {
	LoadArtifacts(ctx context.Context, userID string) ([]models.Cookie, bool, error)
	SaveArtifacts(ctx context.Context, userID string, cookies []models.Cookie) error
	ClearArtifacts(ctx context.Context, userID string) error
}

// UserSession is a live, logged-in browser context for one user. At most
// one exists per user at any time.
type UserSession struct {
	UserID    string
	CreatedAt time.Time
	session   Session
}

// NewUserSession wraps an already-established session.
func NewUserSession(userID string, s Session) *UserSession {
	return &UserSession{UserID: userID, CreatedAt: time.Now(), session: s}
}

// Page returns the session's page for driving the remote UI.
func (u *UserSession) Page() Page { return u.session.Page() }

// PoolConfig wires a SessionPool's collaborators.
type PoolConfig struct {
	Runtime           Runtime
	Credentials       CredentialSource
	Users             UserDirectory
	Artifacts         ArtifactStore
	BaseURL           string
	MaxSessions       int64
	NavigationTimeout time.Duration
	Logger            *slog.Logger
}

// SessionPool hands out logged-in browser sessions. The browser process
// is launched lazily on first demand, shared by every user, and torn
// down eagerly when the last session goes away.
type SessionPool struct {
	runtime   Runtime
	creds     CredentialSource
	users     UserDirectory
	artifacts ArtifactStore
	routes    erp.Routes
	timeout   time.Duration
	logger    *slog.Logger

	slots *semaphore.Weighted
	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*UserSession
}

// NewSessionPool builds a pool. The browser is not launched until the
// first AcquireContext call needs it.
func NewSessionPool(cfg PoolConfig) *SessionPool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SessionPool{
		runtime:   cfg.Runtime,
		creds:     cfg.Credentials,
		users:     cfg.Users,
		artifacts: cfg.Artifacts,
		routes:    erp.NewRoutes(cfg.BaseURL),
		timeout:   cfg.NavigationTimeout,
		logger:    cfg.Logger,
		slots:     semaphore.NewWeighted(cfg.MaxSessions),
		sessions:  make(map[string]*UserSession),
	}
}

// AcquireContext returns a live, logged-in session for the user,
// reusing a cached one when it still responds. Concurrent acquires for
// the same user collapse into a single login.
func (p *SessionPool) AcquireContext(ctx context.Context, userID string) (*UserSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	v, err, _ := p.group.Do("acquire:"+userID, func() (interface{}, error) {
		return p.acquire(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*UserSession), nil
}

func (p *SessionPool) acquire(ctx context.Context, userID string) (*UserSession, error) {
	p.mu.Lock()
	existing := p.sessions[userID]
	p.mu.Unlock()

	if existing != nil {
		if existing.session.Alive() {
			p.logger.Debug("reusing session", "user", userID)
			return existing, nil
		}
		p.logger.Info("cached session is dead, recreating", "user", userID, "error", ErrSessionInvalid)
		p.discard(ctx, userID, existing)
	}

	if err := p.ensureBrowser(ctx); err != nil {
		return nil, err
	}

	if !p.slots.TryAcquire(1) {
		return nil, fmt.Errorf("session limit reached")
	}

	sess, err := p.runtime.NewSession(ctx)
	if err != nil {
		p.slots.Release(1)
		return nil, fmt.Errorf("failed to create browser session: %w", err)
	}

	p.restoreCookies(ctx, userID, sess)

	flow := &loginFlow{
		page:    sess.Page(),
		creds:   p.creds,
		users:   p.users,
		routes:  p.routes,
		timeout: p.timeout,
		logger:  p.logger,
	}
	if err := flow.Run(ctx, userID); err != nil {
		if cerr := sess.Close(); cerr != nil {
			p.logger.Warn("failed to close session after failed login", "user", userID, "error", cerr)
		}
		p.slots.Release(1)
		return nil, err
	}

	us := NewUserSession(userID, sess)
	p.mu.Lock()
	p.sessions[userID] = us
	p.mu.Unlock()

	p.logger.Info("session ready", "user", userID)
	return us, nil
}

// ensureBrowser launches the shared browser process if it is not up.
// Concurrent callers share one launch instead of racing.
func (p *SessionPool) ensureBrowser(ctx context.Context) error {
	if p.runtime.Connected() {
		return nil
	}
	_, err, _ := p.group.Do("launch", func() (interface{}, error) {
		if p.runtime.Connected() {
			return nil, nil
		}
		p.logger.Info("launching browser", "driver", p.runtime.Name())
		return nil, p.runtime.Start(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	return nil
}

// restoreCookies loads persisted cookies onto a fresh session so the
// login flow can skip the form when the server session still holds.
// Failures are not fatal; the flow just logs in from scratch.
func (p *SessionPool) restoreCookies(ctx context.Context, userID string, sess Session) {
	cookies, ok, err := p.artifacts.LoadArtifacts(ctx, userID)
	if err != nil {
		p.logger.Warn("failed to load session artifacts", "user", userID, "error", err)
		return
	}
	if !ok || len(cookies) == 0 {
		return
	}
	if err := sess.AddCookies(cookies); err != nil {
		p.logger.Warn("failed to restore cookies", "user", userID, "error", err)
		return
	}
	p.logger.Debug("restored cookies", "user", userID, "count", len(cookies))
}

// ReleaseContext returns a session after a unit of work. On success the
// session stays cached for reuse and its cookies are persisted; on
// failure it is destroyed so the next acquire starts clean.
func (p *SessionPool) ReleaseContext(ctx context.Context, userID string, handle *UserSession, success bool) {
	if handle == nil {
		return
	}
	if !success {
		p.logger.Info("destroying session after failed run", "user", userID)
		p.discard(ctx, userID, handle)
		return
	}

	cookies, err := handle.session.Cookies()
	if err != nil {
		p.logger.Warn("failed to read cookies on release", "user", userID, "error", err)
		return
	}
	if err := p.artifacts.SaveArtifacts(ctx, userID, cookies); err != nil {
		p.logger.Warn("failed to persist session artifacts", "user", userID, "error", err)
	}
}

// discard removes a session from the map before closing it, so a
// concurrent acquire never sees a half-closed session, and stops the
// browser when nothing is left in the pool.
func (p *SessionPool) discard(ctx context.Context, userID string, us *UserSession) {
	p.mu.Lock()
	owned := p.sessions[userID] == us
	if owned {
		delete(p.sessions, userID)
	}
	empty := len(p.sessions) == 0
	p.mu.Unlock()

	if !owned {
		return
	}
	if err := us.session.Close(); err != nil {
		p.logger.Warn("failed to close session", "user", userID, "error", err)
	}
	p.slots.Release(1)
	if empty {
		p.stopBrowser(ctx, "last session closed")
	}
}

// CloseUserContext destroys the user's session and forgets their
// persisted cookies. Used by logout and credential changes.
func (p *SessionPool) CloseUserContext(ctx context.Context, userID string) error {
	if err := p.artifacts.ClearArtifacts(ctx, userID); err != nil {
		p.logger.Warn("failed to clear session artifacts", "user", userID, "error", err)
	}

	p.mu.Lock()
	us := p.sessions[userID]
	p.mu.Unlock()
	if us == nil {
		return nil
	}

	p.discard(ctx, userID, us)
	p.logger.Info("user session closed", "user", userID)
	return nil
}

// Shutdown closes every session and stops the browser. Idempotent.
func (p *SessionPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*UserSession)
	p.mu.Unlock()

	for userID, us := range sessions {
		if err := us.session.Close(); err != nil {
			p.logger.Warn("failed to close session", "user", userID, "error", err)
		}
		p.slots.Release(1)
	}
	return p.stopBrowser(ctx, "shutdown")
}

func (p *SessionPool) stopBrowser(ctx context.Context, reason string) error {
	if !p.runtime.Connected() {
		return nil
	}
	p.logger.Info("stopping browser", "reason", reason)
	if err := p.runtime.Stop(ctx); err != nil {
		p.logger.Error("failed to stop browser", "error", err)
		return err
	}
	return nil
}

// Stats reports the pool's current shape for the status endpoints.
func (p *SessionPool) Stats() models.PoolStats {
	p.mu.Lock()
	active := len(p.sessions)
	p.mu.Unlock()
	return models.PoolStats{
		ActiveSessions: active,
		BrowserRunning: p.runtime.Connected(),
		Driver:         p.runtime.Name(),
	}
}
