// Package jobs implements the six sync types as browser conversations:
// each job drives the remote list page for its entity, scrapes the grid
// and upserts the rows into the local mirror.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v5"

	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/erp"
	"github.com/archibridge/archibridge/pkg/models"
)

// Pool hands out logged-in browser sessions.
type Pool interface {
	AcquireContext(ctx context.Context, userID string) (*browser.UserSession, error)
	ReleaseContext(ctx context.Context, userID string, handle *browser.UserSession, success bool)
}

// Store receives the scraped rows.
type Store interface {
	UpsertCustomers(ctx context.Context, rows []models.Customer) (int, error)
	UpsertProducts(ctx context.Context, rows []models.Product) (int, error)
	UpsertPrices(ctx context.Context, rows []models.PriceEntry) (int, error)
	UpsertOrders(ctx context.Context, rows []models.Order) (int, error)
	UpsertDDTs(ctx context.Context, rows []models.DDT) (int, error)
	UpsertInvoices(ctx context.Context, rows []models.Invoice) (int, error)
}

// Config wires the job set.
type Config struct {
	Pool    Pool
	Store   Store
	BaseURL string
	Logger  *slog.Logger
}

// Jobs holds the shared collaborators of all six sync jobs.
type Jobs struct {
	pool   Pool
	store  Store
	routes erp.Routes
	logger *slog.Logger
}

func New(cfg Config) *Jobs {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Jobs{
		pool:   cfg.Pool,
		store:  cfg.Store,
		routes: erp.NewRoutes(cfg.BaseURL),
		logger: cfg.Logger,
	}
}

// Registry maps each sync type to its job function.
func (j *Jobs) Registry() map[models.SyncType]func(ctx context.Context, userID string) error {
	return map[models.SyncType]func(ctx context.Context, userID string) error{
		models.SyncCustomers: j.SyncCustomers,
		models.SyncProducts:  j.SyncProducts,
		models.SyncPrices:    j.SyncPrices,
		models.SyncOrders:    j.SyncOrders,
		models.SyncDDT:       j.SyncDDT,
		models.SyncInvoices:  j.SyncInvoices,
	}
}

// withSession acquires a session for the user, runs fn on its page, and
// releases the session, keeping it only when fn succeeded.
func (j *Jobs) withSession(ctx context.Context, userID string, fn func(page browser.Page) error) error {
	session, err := j.acquire(ctx, userID)
	if err != nil {
		return err
	}
	err = fn(session.Page())
	j.pool.ReleaseContext(ctx, userID, session, err == nil)
	return err
}

// acquire retries transient session failures a few times. Missing
// credentials are permanent: the user has to sign in again first.
func (j *Jobs) acquire(ctx context.Context, userID string) (*browser.UserSession, error) {
	op := func() (*browser.UserSession, error) {
		session, err := j.pool.AcquireContext(ctx, userID)
		if err != nil {
			if errors.Is(err, browser.ErrCredentialsMissing) {
				return nil, backoff.Permanent(err)
			}
			j.logger.Warn("session acquire failed, retrying", "user", userID, "error", err)
			return nil, err
		}
		return session, nil
	}

	session, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session for %s: %w", userID, err)
	}
	return session, nil
}

// fetchGrid opens the list page for a type and extracts its data table.
func (j *Jobs) fetchGrid(page browser.Page, typ models.SyncType) (erp.Table, error) {
	if err := page.Goto(j.routes.EntityList(typ)); err != nil {
		return erp.Table{}, fmt.Errorf("failed to open %s list: %w", typ, err)
	}
	if err := page.WaitForSelector(erp.SelectorGridRows); err != nil {
		return erp.Table{}, fmt.Errorf("%s grid did not load: %w", typ, err)
	}
	content, err := page.Content()
	if err != nil {
		return erp.Table{}, fmt.Errorf("failed to read %s page: %w", typ, err)
	}
	tables, err := erp.ParseTables(content)
	if err != nil {
		return erp.Table{}, fmt.Errorf("failed to parse %s page: %w", typ, err)
	}
	table, ok := erp.MainTable(tables)
	if !ok {
		return erp.Table{}, fmt.Errorf("no data table on %s page", typ)
	}
	return table, nil
}
