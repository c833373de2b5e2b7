package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archibridge/archibridge/pkg/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingJob parks until released so tests control exactly when the
// sync slot frees up.
type blockingJob struct {
	started chan string
	release chan error
}

func newBlockingJob() *blockingJob {
	return &blockingJob{
		started: make(chan string, 8),
		release: make(chan error),
	}
}

func (j *blockingJob) Run(ctx context.Context, userID string) error {
	j.started <- userID
	select {
	case err := <-j.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitStarted(t *testing.T, j *blockingJob) string {
	t.Helper()
	select {
	case userID := <-j.started:
		return userID
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
		return ""
	}
}

func assertNotStarted(t *testing.T, j *blockingJob, during time.Duration) {
	t.Helper()
	select {
	case <-j.started:
		t.Fatal("job ran while it should have been held back")
	case <-time.After(during):
	}
}

type fakeAdmins struct {
	id string
	ok bool
}

func (f fakeAdmins) FirstAdmin(ctx context.Context) (string, bool, error) {
	return f.id, f.ok, nil
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool { return o.Status().Current == nil }, 2*time.Second, 10*time.Millisecond)
}

func TestOnlyOneSyncRunsAtATime(t *testing.T) {
	orders := newBlockingJob()
	products := newBlockingJob()
	o := New(Config{
		Jobs: map[models.SyncType]Job{
			models.SyncOrders:   orders,
			models.SyncProducts: products,
		},
		Logger: quietLogger(),
	})
	defer o.Close()

	require.NoError(t, o.RequestSync(models.SyncOrders, 0, "u1"))
	waitStarted(t, orders)

	require.NoError(t, o.RequestSync(models.SyncProducts, 0, ""))
	assertNotStarted(t, products, 50*time.Millisecond)

	st := o.Status()
	require.NotNil(t, st.Current)
	assert.Equal(t, models.SyncOrders, st.Current.Type)
	require.Len(t, st.Queue, 1)
	assert.Equal(t, models.SyncProducts, st.Queue[0].Type)

	// Freeing the slot drains the queued request without another call.
	orders.release <- nil
	waitStarted(t, products)
	products.release <- nil
	waitIdle(t, o)

	assert.Empty(t, o.Status().Queue)
}

func TestConcurrentRequestsNeverOverlap(t *testing.T) {
	var inFlight, peak, runs atomic.Int32
	job := JobFunc(func(ctx context.Context, userID string) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		runs.Add(1)
		return nil
	})

	registry := make(map[models.SyncType]Job)
	for _, typ := range models.SyncTypes() {
		registry[typ] = job
	}
	o := New(Config{Jobs: registry, Logger: quietLogger()})
	defer o.Close()

	for _, typ := range models.SyncTypes() {
		go func() {
			assert.NoError(t, o.RequestSync(typ, 0, "u1"))
		}()
	}

	require.Eventually(t, func() bool { return runs.Load() == 6 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), peak.Load())
}

func TestJobErrorsAreRecordedNotReturned(t *testing.T) {
	boom := errors.New("grid never loaded")
	o := New(Config{
		Jobs: map[models.SyncType]Job{
			models.SyncOrders: JobFunc(func(ctx context.Context, userID string) error {
				return boom
			}),
		},
		Logger: quietLogger(),
	})
	defer o.Close()

	require.NoError(t, o.RequestSync(models.SyncOrders, 0, "u1"))
	waitIdle(t, o)

	require.Eventually(t, func() bool {
		entries, err := o.History(models.SyncOrders, 0)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := o.History(models.SyncOrders, 0)
	require.NoError(t, err)
	assert.False(t, entries[0].Success)
	assert.Contains(t, entries[0].Error, "grid never loaded")

	// A failed run must not move the last-success marker, but it does
	// count.
	st := o.Status()
	_, ran := st.LastRun[models.SyncOrders]
	assert.False(t, ran)
	assert.Equal(t, models.SyncCounts{Runs: 1, Failures: 1}, st.Counts[models.SyncOrders])
}

func TestSuccessUpdatesLastRun(t *testing.T) {
	o := New(Config{
		Jobs: map[models.SyncType]Job{
			models.SyncCustomers: JobFunc(func(ctx context.Context, userID string) error { return nil }),
		},
		Logger: quietLogger(),
	})
	defer o.Close()

	require.NoError(t, o.RequestSync(models.SyncCustomers, 0, ""))
	require.Eventually(t, func() bool {
		_, ok := o.Status().LastRun[models.SyncCustomers]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := o.History(models.SyncCustomers, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, models.SyncCounts{Runs: 1}, o.Status().Counts[models.SyncCustomers])
}

func TestRequestSyncRejectsUnknownType(t *testing.T) {
	o := New(Config{Logger: quietLogger()})
	defer o.Close()

	err := o.RequestSync(models.SyncType("stock"), 0, "")
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = o.History(models.SyncType("stock"), 0)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestUnattributedSyncRunsAsFirstAdmin(t *testing.T) {
	job := newBlockingJob()
	o := New(Config{
		Jobs:   map[models.SyncType]Job{models.SyncOrders: job},
		Admins: fakeAdmins{id: "admin-1", ok: true},
		Logger: quietLogger(),
	})
	defer o.Close()

	require.NoError(t, o.RequestSync(models.SyncOrders, 0, ""))
	assert.Equal(t, "admin-1", waitStarted(t, job))
	job.release <- nil
	waitIdle(t, o)
}

func TestUnattributedSyncFallsBackToSystemUser(t *testing.T) {
	job := newBlockingJob()
	o := New(Config{
		Jobs:   map[models.SyncType]Job{models.SyncOrders: job},
		Admins: fakeAdmins{ok: false},
		Logger: quietLogger(),
	})
	defer o.Close()

	require.NoError(t, o.RequestSync(models.SyncOrders, 0, ""))
	assert.Equal(t, SystemUserID, waitStarted(t, job))
	job.release <- nil
	waitIdle(t, o)
}

func TestSmartSyncWaitsForSlotAndHoldsQueue(t *testing.T) {
	orders := newBlockingJob()
	customers := newBlockingJob()
	products := newBlockingJob()
	o := New(Config{
		Jobs: map[models.SyncType]Job{
			models.SyncOrders:    orders,
			models.SyncCustomers: customers,
			models.SyncProducts:  products,
		},
		Logger: quietLogger(),
	})
	defer o.Close()

	require.NoError(t, o.RequestSync(models.SyncOrders, 0, "u1"))
	waitStarted(t, orders)

	smartDone := make(chan error, 1)
	go func() {
		smartDone <- o.SmartCustomerSync(context.Background(), "u2")
	}()

	// The smart sync must not run alongside the in-flight orders sync.
	assertNotStarted(t, customers, 50*time.Millisecond)
	orders.release <- nil
	assert.Equal(t, "u2", waitStarted(t, customers))

	// Regular requests pile up behind smart mode.
	require.NoError(t, o.RequestSync(models.SyncProducts, 0, ""))

	customers.release <- nil
	require.NoError(t, <-smartDone)

	// Slot is free but the hold is still on.
	assertNotStarted(t, products, 50*time.Millisecond)
	st := o.Status()
	assert.True(t, st.SmartSyncActive)
	assert.Equal(t, 1, st.SmartSyncRefs)

	o.ResumeOtherSyncs()
	waitStarted(t, products)
	products.release <- nil
	waitIdle(t, o)
	assert.False(t, o.Status().SmartSyncActive)
}

func TestSmartSyncErrorPropagates(t *testing.T) {
	o := New(Config{
		Jobs: map[models.SyncType]Job{
			models.SyncCustomers: JobFunc(func(ctx context.Context, userID string) error {
				return errors.New("login rejected")
			}),
		},
		Logger: quietLogger(),
	})
	defer o.Close()

	err := o.SmartCustomerSync(context.Background(), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "login rejected")

	// The failure still lands in history like any other run.
	entries, herr := o.History(models.SyncCustomers, 0)
	require.NoError(t, herr)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)

	o.ResumeOtherSyncs()
}

func TestSmartSyncRefcount(t *testing.T) {
	o := New(Config{
		Jobs: map[models.SyncType]Job{
			models.SyncCustomers: JobFunc(func(ctx context.Context, userID string) error { return nil }),
		},
		Logger: quietLogger(),
	})
	defer o.Close()

	require.NoError(t, o.SmartCustomerSync(context.Background(), "u1"))
	require.NoError(t, o.SmartCustomerSync(context.Background(), "u2"))

	st := o.Status()
	assert.True(t, st.SmartSyncActive)
	assert.Equal(t, 2, st.SmartSyncRefs)

	o.ResumeOtherSyncs()
	st = o.Status()
	assert.True(t, st.SmartSyncActive)
	assert.Equal(t, 1, st.SmartSyncRefs)

	o.ResumeOtherSyncs()
	st = o.Status()
	assert.False(t, st.SmartSyncActive)
	assert.Equal(t, 0, st.SmartSyncRefs)

	// Extra releases never go negative.
	o.ResumeOtherSyncs()
	assert.Equal(t, 0, o.Status().SmartSyncRefs)
}

func TestSmartSyncSafetyTimeoutReleasesHold(t *testing.T) {
	products := newBlockingJob()
	o := New(Config{
		Jobs: map[models.SyncType]Job{
			models.SyncCustomers: JobFunc(func(ctx context.Context, userID string) error { return nil }),
			models.SyncProducts:  products,
		},
		SafetyTimeout: 40 * time.Millisecond,
		Logger:        quietLogger(),
	})
	defer o.Close()

	require.NoError(t, o.SmartCustomerSync(context.Background(), "u1"))
	require.NoError(t, o.RequestSync(models.SyncProducts, 0, ""))

	// Nobody calls ResumeOtherSyncs; the safety timer must clear the
	// hold and drain the queue by itself.
	waitStarted(t, products)
	products.release <- nil
	waitIdle(t, o)

	st := o.Status()
	assert.False(t, st.SmartSyncActive)
	assert.Equal(t, 0, st.SmartSyncRefs)
}

func TestUpdateIntervalValidation(t *testing.T) {
	o := New(Config{Logger: quietLogger()})
	defer o.Close()

	assert.ErrorIs(t, o.UpdateInterval(models.SyncOrders, 3), ErrConfigInvalid)
	assert.ErrorIs(t, o.UpdateInterval(models.SyncOrders, 2000), ErrConfigInvalid)
	assert.ErrorIs(t, o.UpdateInterval(models.SyncType("stock"), 30), ErrUnknownType)

	require.NoError(t, o.UpdateInterval(models.SyncOrders, 30))
	assert.Equal(t, 30, o.Intervals()[models.SyncOrders])

	// Bounds are inclusive.
	require.NoError(t, o.UpdateInterval(models.SyncOrders, MinIntervalMinutes))
	require.NoError(t, o.UpdateInterval(models.SyncOrders, MaxIntervalMinutes))
}

func TestAutoSyncRunsOnSchedule(t *testing.T) {
	var runs atomic.Int32
	cfgs := DefaultTypeConfigs()
	cfgs[models.SyncOrders] = TypeConfig{Priority: 6, Interval: 25 * time.Millisecond, Stagger: 5 * time.Millisecond}

	o := New(Config{
		Jobs: map[models.SyncType]Job{
			models.SyncOrders: JobFunc(func(ctx context.Context, userID string) error {
				runs.Add(1)
				return nil
			}),
		},
		TypeConfigs: cfgs,
		Logger:      quietLogger(),
	})
	defer o.Close()

	assert.False(t, o.IsAutoSyncRunning())
	o.StartStaggeredAutoSync()
	assert.True(t, o.IsAutoSyncRunning())

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	o.StopAutoSync()
	assert.False(t, o.IsAutoSyncRunning())
	waitIdle(t, o)
	after := runs.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	o := New(Config{
		Jobs: map[models.SyncType]Job{
			models.SyncOrders: JobFunc(func(ctx context.Context, userID string) error { return nil }),
		},
		Logger: quietLogger(),
	})
	defer o.Close()

	eventsCh, cancel := o.Subscribe()
	defer cancel()

	require.NoError(t, o.RequestSync(models.SyncOrders, 0, "u1"))

	seen := map[models.EventType]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[models.EventSyncCompleted] {
		select {
		case event := <-eventsCh:
			seen[event.Type] = true
			assert.NotEmpty(t, event.ID)
		case <-deadline:
			t.Fatal("never saw sync_completed")
		}
	}
	assert.True(t, seen[models.EventSyncStarted])

	cancel()
	cancel() // second cancel must be harmless
}

func TestCloseRejectsNewWork(t *testing.T) {
	o := New(Config{Logger: quietLogger()})
	o.Close()
	o.Close() // idempotent

	assert.Error(t, o.RequestSync(models.SyncOrders, 0, ""))
	assert.Error(t, o.SmartCustomerSync(context.Background(), "u1"))
}
