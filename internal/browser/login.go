package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/archibridge/archibridge/internal/erp"
)

// loginState tracks where a login attempt currently is. Exposed in logs
// so a stuck login can be diagnosed from the state it died in.
type loginState string

const (
	loginStateChecking   loginState = "CHECKING_EXISTING_AUTH"
	loginStateNavigating loginState = "NAVIGATING_TO_LOGIN"
	loginStateFilling    loginState = "FILLING_CREDENTIALS"
	loginStateSubmitting loginState = "SUBMITTING"
	loginStateVerifying  loginState = "VERIFYING"
	loginStateDone       loginState = "DONE"
	loginStateFailed     loginState = "FAILED"
)

// loginFlow drives one authentication attempt against the remote login
// form. A fresh instance is built for every new session; restored
// cookies are already on the context when Run starts, so the first step
// just probes whether they still hold.
type loginFlow struct {
	page    Page
	creds   CredentialSource
	users   UserDirectory
	routes  erp.Routes
	timeout time.Duration
	logger  *slog.Logger
	state   loginState
}

func (f *loginFlow) Run(ctx context.Context, userID string) error {
	f.state = loginStateChecking
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			f.state = loginStateFailed
			return ctx.Err()
		default:
		}

		var next loginState
		var err error

		switch f.state {
		case loginStateChecking:
			next, err = f.checkExistingAuth()
		case loginStateNavigating:
			next, err = f.navigateToLogin()
		case loginStateFilling:
			next, err = f.fillCredentials(ctx, userID)
		case loginStateSubmitting:
			next, err = f.submit()
		case loginStateVerifying:
			next, err = f.verify(ctx)
		case loginStateDone:
			f.logger.Info("login complete", "user", userID, "took", time.Since(start))
			return nil
		default:
			return fmt.Errorf("login flow reached unexpected state %q", f.state)
		}

		if err != nil {
			failedIn := f.state
			f.state = loginStateFailed
			f.logger.Warn("login failed", "user", userID, "state", string(failedIn), "error", err)
			return err
		}
		f.logger.Debug("login state", "user", userID, "state", string(next))
		f.state = next
	}
}

// checkExistingAuth loads the landing page. If restored cookies still
// carry a live server session the remote system serves it directly
// instead of bouncing to the login form.
func (f *loginFlow) checkExistingAuth() (loginState, error) {
	if err := f.page.Goto(f.routes.Home()); err != nil {
		return "", fmt.Errorf("failed to reach remote system: %w", err)
	}
	if !f.routes.IsLoginURL(f.page.URL()) {
		return loginStateDone, nil
	}
	return loginStateNavigating, nil
}

func (f *loginFlow) navigateToLogin() (loginState, error) {
	if err := f.page.Goto(f.routes.Login()); err != nil {
		return "", fmt.Errorf("failed to open login page: %w", err)
	}
	if err := f.page.WaitForSelector(erp.SelectorUsernameField); err != nil {
		return "", fmt.Errorf("login form did not appear: %w", err)
	}
	return loginStateFilling, nil
}

func (f *loginFlow) fillCredentials(ctx context.Context, userID string) (loginState, error) {
	user, err := f.users.UserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user %s: %w", userID, err)
	}
	secret, ok, err := f.creds.CredentialSecret(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w for user %s", ErrCredentialsMissing, user.Username)
	}

	if err := f.page.Fill(erp.SelectorUsernameField, user.Username); err != nil {
		return "", fmt.Errorf("failed to fill username: %w", err)
	}
	if err := f.page.Fill(erp.SelectorPasswordField, secret); err != nil {
		return "", fmt.Errorf("failed to fill password: %w", err)
	}
	return loginStateSubmitting, nil
}

func (f *loginFlow) submit() (loginState, error) {
	if err := f.page.Click(erp.SelectorLoginSubmit); err != nil {
		return "", fmt.Errorf("failed to submit login form: %w", err)
	}
	return loginStateVerifying, nil
}

// verify polls the current URL until it leaves the login page. The form
// submits through script, so there is no single navigation event to wait
// on; leaving the login URL is the reliable success signal.
func (f *loginFlow) verify(ctx context.Context) (loginState, error) {
	deadline := time.NewTimer(f.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		if !f.routes.IsLoginURL(f.page.URL()) {
			return loginStateDone, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			if remote := f.scrapeLoginError(); remote != "" {
				return "", fmt.Errorf("%w: %s", ErrLoginFailed, remote)
			}
			return "", fmt.Errorf("%w: still on login page after submit", ErrLoginFailed)
		case <-tick.C:
		}
	}
}

// scrapeLoginError pulls the error banner text off the login page so the
// remote system's own message ends up in the returned error.
func (f *loginFlow) scrapeLoginError() string {
	text, err := f.page.TextContent(erp.SelectorLoginError)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
