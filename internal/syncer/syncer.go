// Package syncer serializes sync runs against the remote system. The
// remote UI tolerates exactly one automated browser conversation at a
// time, so every sync type funnels through a single slot guarded by the
// orchestrator; everything else waits in a priority queue.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/archibridge/archibridge/pkg/models"
)

var (
	// ErrConfigInvalid means a requested setting is outside its allowed
	// range.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrJobFailed wraps the job error a smart sync surfaces to its
	// caller.
	ErrJobFailed = errors.New("sync job failed")

	// ErrUnknownType means the sync type is not one of the known six.
	ErrUnknownType = errors.New("unknown sync type")
)

const (
	// MinIntervalMinutes and MaxIntervalMinutes bound UpdateInterval.
	MinIntervalMinutes = 5
	MaxIntervalMinutes = 1440

	// DefaultSafetyTimeout clears smart sync mode when a caller forgets
	// to release it.
	DefaultSafetyTimeout = 10 * time.Minute

	// SystemUserID is charged with a sync when no user is known at all.
	SystemUserID = "system"

	// smartSyncPriority outranks every regular sync type.
	smartSyncPriority = 100

	// historyCapacity bounds the per-type result history.
	historyCapacity = 100
)

// Job performs one full sync of one data type on behalf of a user.
type Job interface {
	Run(ctx context.Context, userID string) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context, userID string) error

func (f JobFunc) Run(ctx context.Context, userID string) error { return f(ctx, userID) }

// AdminLookup resolves the fallback account that unattributed syncs run
// as.
type AdminLookup interface {
	FirstAdmin(ctx context.Context) (string, bool, error)
}

// TypeConfig is the per-type scheduling profile.
type TypeConfig struct {
	Priority int
	Interval time.Duration
	Stagger  time.Duration
}

// DefaultTypeConfigs returns the built-in schedule. Orders rank highest
// because they carry the operational day; products outrank prices
// because price rows are matched against product identity. Staggers
// spread the first runs out so boot does not pile every type onto the
// single sync slot at once.
func DefaultTypeConfigs() map[models.SyncType]TypeConfig {
	return map[models.SyncType]TypeConfig{
		models.SyncOrders:    {Priority: 6, Interval: 30 * time.Minute, Stagger: 1 * time.Minute},
		models.SyncCustomers: {Priority: 5, Interval: 60 * time.Minute, Stagger: 3 * time.Minute},
		models.SyncDDT:       {Priority: 4, Interval: 120 * time.Minute, Stagger: 5 * time.Minute},
		models.SyncInvoices:  {Priority: 3, Interval: 120 * time.Minute, Stagger: 7 * time.Minute},
		models.SyncProducts:  {Priority: 2, Interval: 360 * time.Minute, Stagger: 9 * time.Minute},
		models.SyncPrices:    {Priority: 1, Interval: 360 * time.Minute, Stagger: 11 * time.Minute},
	}
}
