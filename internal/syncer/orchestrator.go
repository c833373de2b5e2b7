package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archibridge/archibridge/pkg/models"
)

// runningJob is the single occupant of the sync slot. done closes when
// the run finishes, whatever the outcome.
type runningJob struct {
	typ       models.SyncType
	userID    string
	startedAt time.Time
	done      chan struct{}
	err       error
}

// Config wires an Orchestrator.
type Config struct {
	Jobs          map[models.SyncType]Job
	Admins        AdminLookup
	TypeConfigs   map[models.SyncType]TypeConfig
	SafetyTimeout time.Duration
	Logger        *slog.Logger
}

// Orchestrator owns the one sync slot, the pending queue, per-type
// history and the auto-sync timers. All mutable state sits behind one
// mutex; jobs themselves run outside it.
type Orchestrator struct {
	jobs          map[models.SyncType]Job
	admins        AdminLookup
	safetyTimeout time.Duration
	logger        *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	cfgs      map[models.SyncType]TypeConfig
	queue     syncQueue
	current   *runningJob
	lastRun   map[models.SyncType]time.Time
	histories map[models.SyncType]*historyRing

	smartActive bool
	smartRefs   int
	safety      *time.Timer
	safetyGen   uint64

	sched *schedule

	subs   map[chan models.Event]struct{}
	closed bool
}

// New builds an Orchestrator. Types missing from cfg.TypeConfigs get the
// built-in defaults.
func New(cfg Config) *Orchestrator {
	if cfg.SafetyTimeout <= 0 {
		cfg.SafetyTimeout = DefaultSafetyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	defaults := DefaultTypeConfigs()
	cfgs := make(map[models.SyncType]TypeConfig, len(defaults))
	histories := make(map[models.SyncType]*historyRing, len(defaults))
	for _, typ := range models.SyncTypes() {
		tc, ok := cfg.TypeConfigs[typ]
		if !ok {
			tc = defaults[typ]
		}
		cfgs[typ] = tc
		histories[typ] = newHistoryRing(historyCapacity)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		jobs:          cfg.Jobs,
		admins:        cfg.Admins,
		safetyTimeout: cfg.SafetyTimeout,
		logger:        cfg.Logger,
		baseCtx:       baseCtx,
		cancel:        cancel,
		cfgs:          cfgs,
		lastRun:       make(map[models.SyncType]time.Time),
		histories:     histories,
		subs:          make(map[chan models.Event]struct{}),
	}
}

// RequestSync asks for a sync of the given type. When the slot is free
// it starts immediately in the background; otherwise the request queues.
// A priority of zero or less means the type's configured priority. The
// returned error only covers admission, never the job outcome.
func (o *Orchestrator) RequestSync(typ models.SyncType, priority int, userID string) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is shut down")
	}
	if priority <= 0 {
		priority = o.cfgs[typ].Priority
	}
	req := models.SyncRequest{
		Type:        typ,
		Priority:    priority,
		RequestedAt: time.Now().UTC(),
		UserID:      userID,
	}

	if o.current != nil || o.smartActive {
		o.queue.push(req)
		snapshot := o.queue.snapshot()
		o.mu.Unlock()
		o.logger.Info("sync queued", "type", typ, "priority", priority, "queue", len(snapshot))
		o.publish(models.Event{Type: models.EventQueueUpdated, Queue: snapshot})
		return nil
	}

	rj := o.claimLocked(req)
	o.mu.Unlock()
	go o.run(rj)
	return nil
}

// claimLocked takes the sync slot. Caller holds o.mu and has verified
// the slot is free.
func (o *Orchestrator) claimLocked(req models.SyncRequest) *runningJob {
	rj := &runningJob{
		typ:       req.Type,
		userID:    req.UserID,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	o.current = rj
	return rj
}

// run executes a claimed job and settles the slot. Job errors stop
// here: they are recorded and published, never returned.
func (o *Orchestrator) run(rj *runningJob) {
	ctx := o.baseCtx

	userID := o.resolveUserID(ctx, rj.userID)
	o.mu.Lock()
	rj.userID = userID
	o.mu.Unlock()

	o.logger.Info("sync started", "type", rj.typ, "user", userID)
	o.publish(models.Event{Type: models.EventSyncStarted, SyncType: rj.typ, UserID: userID})

	start := time.Now()
	var err error
	if job := o.jobs[rj.typ]; job != nil {
		err = job.Run(ctx, userID)
	} else {
		err = fmt.Errorf("%w: no job registered for %q", ErrUnknownType, rj.typ)
	}
	o.finish(rj, err, time.Since(start))
}

// finish records the outcome, frees the slot and, outside smart mode,
// pulls the next queued request into it.
func (o *Orchestrator) finish(rj *runningJob, err error, duration time.Duration) {
	entry := models.HistoryEntry{
		Type:       rj.typ,
		Timestamp:  time.Now().UTC(),
		DurationMs: duration.Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	o.mu.Lock()
	o.histories[rj.typ].add(entry)
	if err == nil {
		o.lastRun[rj.typ] = entry.Timestamp
	}
	rj.err = err
	if o.current == rj {
		o.current = nil
	}
	close(rj.done)

	var next *runningJob
	if !o.smartActive && !o.closed {
		if req, ok := o.queue.pop(); ok {
			next = o.claimLocked(req)
		}
	}
	o.mu.Unlock()

	if err != nil {
		o.logger.Error("sync failed", "type", rj.typ, "duration", duration, "error", err)
		o.publish(models.Event{
			Type:       models.EventSyncFailed,
			SyncType:   rj.typ,
			UserID:     rj.userID,
			Error:      err.Error(),
			DurationMs: duration.Milliseconds(),
		})
	} else {
		o.logger.Info("sync completed", "type", rj.typ, "duration", duration)
		o.publish(models.Event{
			Type:       models.EventSyncCompleted,
			SyncType:   rj.typ,
			UserID:     rj.userID,
			DurationMs: duration.Milliseconds(),
		})
	}

	if next != nil {
		o.logger.Info("draining queued sync", "type", next.typ)
		go o.run(next)
	}
}

// resolveUserID picks whose session a sync runs in: the explicit user
// when given, else the oldest admin account, else the system sentinel.
func (o *Orchestrator) resolveUserID(ctx context.Context, userID string) string {
	if userID != "" {
		return userID
	}
	if o.admins != nil {
		id, ok, err := o.admins.FirstAdmin(ctx)
		if err != nil {
			o.logger.Warn("failed to resolve admin user", "error", err)
		} else if ok {
			return id
		}
	}
	return SystemUserID
}

// SmartCustomerSync runs a customers sync right now, ahead of everything
// else, and pauses regular syncing until ResumeOtherSyncs brings the
// refcount back to zero. Unlike RequestSync it is synchronous and the
// job's error comes back to the caller. A safety timer clears smart mode
// if a caller never releases it.
func (o *Orchestrator) SmartCustomerSync(ctx context.Context, userID string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is shut down")
	}
	o.smartRefs++
	o.smartActive = true
	o.resetSafetyLocked()
	refs := o.smartRefs
	o.mu.Unlock()

	o.logger.Info("smart customer sync engaged", "refs", refs)
	o.publish(models.Event{Type: models.EventSmartSyncStarted, SyncType: models.SyncCustomers, UserID: userID})

	// Regular requests queue while smartActive is set, so once the
	// current occupant drains the slot is ours.
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return fmt.Errorf("orchestrator is shut down")
		}
		cur := o.current
		if cur == nil {
			rj := o.claimLocked(models.SyncRequest{
				Type:        models.SyncCustomers,
				Priority:    smartSyncPriority,
				RequestedAt: time.Now().UTC(),
				UserID:      userID,
			})
			o.mu.Unlock()
			return o.runSmart(ctx, rj)
		}
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cur.done:
		}
	}
}

// runSmart is run's synchronous twin for the smart lane.
func (o *Orchestrator) runSmart(ctx context.Context, rj *runningJob) error {
	userID := o.resolveUserID(ctx, rj.userID)
	o.mu.Lock()
	rj.userID = userID
	o.mu.Unlock()

	o.logger.Info("sync started", "type", rj.typ, "user", userID, "smart", true)
	o.publish(models.Event{Type: models.EventSyncStarted, SyncType: rj.typ, UserID: userID})

	start := time.Now()
	var err error
	if job := o.jobs[rj.typ]; job != nil {
		err = job.Run(ctx, userID)
	} else {
		err = fmt.Errorf("%w: no job registered for %q", ErrUnknownType, rj.typ)
	}
	o.finish(rj, err, time.Since(start))

	if err != nil {
		return fmt.Errorf("%w: %w", ErrJobFailed, err)
	}
	return nil
}

// ResumeOtherSyncs releases one smart sync hold. When the last hold goes
// the queue built up during smart mode starts draining again.
func (o *Orchestrator) ResumeOtherSyncs() {
	o.mu.Lock()
	if o.smartRefs > 0 {
		o.smartRefs--
	}
	refs := o.smartRefs
	ended := false
	var next *runningJob
	if refs == 0 && o.smartActive {
		o.smartActive = false
		o.stopSafetyLocked()
		ended = true
		if !o.closed && o.current == nil {
			if req, ok := o.queue.pop(); ok {
				next = o.claimLocked(req)
			}
		}
	}
	o.mu.Unlock()

	o.logger.Info("smart customer sync released", "refs", refs)
	if ended {
		o.publish(models.Event{Type: models.EventSmartSyncEnded})
	}
	if next != nil {
		go o.run(next)
	}
}

// resetSafetyLocked arms (or re-arms) the smart mode safety timer.
// Caller holds o.mu. The generation counter makes a timer that fired
// while we were re-arming harmless.
func (o *Orchestrator) resetSafetyLocked() {
	o.safetyGen++
	gen := o.safetyGen
	if o.safety != nil {
		o.safety.Stop()
	}
	o.safety = time.AfterFunc(o.safetyTimeout, func() { o.safetyExpired(gen) })
}

// stopSafetyLocked disarms the safety timer. Caller holds o.mu.
func (o *Orchestrator) stopSafetyLocked() {
	o.safetyGen++
	if o.safety != nil {
		o.safety.Stop()
		o.safety = nil
	}
}

func (o *Orchestrator) safetyExpired(gen uint64) {
	o.mu.Lock()
	if gen != o.safetyGen || !o.smartActive {
		o.mu.Unlock()
		return
	}
	staleRefs := o.smartRefs
	o.smartRefs = 0
	o.smartActive = false
	o.safety = nil
	var next *runningJob
	if !o.closed && o.current == nil {
		if req, ok := o.queue.pop(); ok {
			next = o.claimLocked(req)
		}
	}
	o.mu.Unlock()

	o.logger.Warn("smart sync hold expired, resuming normal syncs", "stale_refs", staleRefs)
	o.publish(models.Event{Type: models.EventSmartSyncTimeout})
	if next != nil {
		go o.run(next)
	}
}

// StartStaggeredAutoSync starts the per-type timers. A second call while
// running is a no-op.
func (o *Orchestrator) StartStaggeredAutoSync() {
	o.mu.Lock()
	if o.closed || o.sched != nil {
		o.mu.Unlock()
		return
	}
	sched := newSchedule()
	o.sched = sched
	cfgs := make(map[models.SyncType]TypeConfig, len(o.cfgs))
	for typ, tc := range o.cfgs {
		cfgs[typ] = tc
	}
	o.mu.Unlock()

	for typ, tc := range cfgs {
		sched.run(tc.Stagger, tc.Interval, func() {
			if err := o.RequestSync(typ, 0, ""); err != nil {
				o.logger.Warn("auto sync request rejected", "type", typ, "error", err)
			}
		})
	}
	o.logger.Info("auto sync started", "types", len(cfgs))
}

// StopAutoSync stops the timers and waits for them to exit. Requests
// already queued stay queued.
func (o *Orchestrator) StopAutoSync() {
	o.mu.Lock()
	sched := o.sched
	o.sched = nil
	o.mu.Unlock()

	if sched != nil {
		sched.stop()
		o.logger.Info("auto sync stopped")
	}
}

func (o *Orchestrator) IsAutoSyncRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sched != nil
}

// UpdateInterval changes how often a type auto-syncs. Minutes must lie
// within [MinIntervalMinutes, MaxIntervalMinutes]. A running auto-sync
// restarts so the new interval takes effect immediately.
func (o *Orchestrator) UpdateInterval(typ models.SyncType, minutes int) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return fmt.Errorf("%w: interval must be between %d and %d minutes, got %d",
			ErrConfigInvalid, MinIntervalMinutes, MaxIntervalMinutes, minutes)
	}

	o.mu.Lock()
	tc := o.cfgs[typ]
	tc.Interval = time.Duration(minutes) * time.Minute
	o.cfgs[typ] = tc
	running := o.sched != nil
	o.mu.Unlock()

	if running {
		o.StopAutoSync()
		o.StartStaggeredAutoSync()
	}
	o.logger.Info("sync interval updated", "type", typ, "minutes", minutes)
	return nil
}

// Intervals reports the configured auto-sync interval per type, in
// minutes.
func (o *Orchestrator) Intervals() map[models.SyncType]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[models.SyncType]int, len(o.cfgs))
	for typ, tc := range o.cfgs {
		out[typ] = int(tc.Interval / time.Minute)
	}
	return out
}

// Status snapshots the orchestrator for the status endpoint.
func (o *Orchestrator) Status() models.SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	lastRun := make(map[models.SyncType]time.Time, len(o.lastRun))
	for typ, t := range o.lastRun {
		lastRun[typ] = t
	}
	counts := make(map[models.SyncType]models.SyncCounts, len(o.histories))
	for typ, ring := range o.histories {
		counts[typ] = ring.counts()
	}
	intervals := make(map[models.SyncType]int, len(o.cfgs))
	for typ, tc := range o.cfgs {
		intervals[typ] = int(tc.Interval / time.Minute)
	}

	st := models.SyncStatus{
		Queue:           o.queue.snapshot(),
		LastRun:         lastRun,
		Counts:          counts,
		SmartSyncActive: o.smartActive,
		SmartSyncRefs:   o.smartRefs,
		AutoSync:        o.sched != nil,
		Intervals:       intervals,
	}
	if o.current != nil {
		st.Current = &models.RunningSync{
			Type:      o.current.typ,
			UserID:    o.current.userID,
			StartedAt: o.current.startedAt,
		}
	}
	return st
}

// History returns up to limit recent outcomes for one type, newest
// first.
func (o *Orchestrator) History(typ models.SyncType, limit int) ([]models.HistoryEntry, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.histories[typ].list(limit), nil
}

// AllHistory returns recent outcomes for every type, newest first.
func (o *Orchestrator) AllHistory(limit int) map[models.SyncType][]models.HistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[models.SyncType][]models.HistoryEntry, len(o.histories))
	for typ, ring := range o.histories {
		out[typ] = ring.list(limit)
	}
	return out
}

// Subscribe registers an event feed. Slow consumers lose events rather
// than block the orchestrator. The returned cancel is idempotent.
func (o *Orchestrator) Subscribe() (<-chan models.Event, func()) {
	ch := make(chan models.Event, 32)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	o.subs[ch] = struct{}{}
	o.mu.Unlock()

	cancel := func() {
		o.mu.Lock()
		if _, ok := o.subs[ch]; ok {
			delete(o.subs, ch)
			close(ch)
		}
		o.mu.Unlock()
	}
	return ch, cancel
}

func (o *Orchestrator) publish(event models.Event) {
	event.ID = uuid.New().String()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	o.mu.Lock()
	for ch := range o.subs {
		select {
		case ch <- event:
		default:
		}
	}
	o.mu.Unlock()
}

// Close stops auto-sync, drops the queue, cancels the running job and
// waits for it to settle. Idempotent.
func (o *Orchestrator) Close() {
	o.StopAutoSync()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.stopSafetyLocked()
	o.smartActive = false
	o.smartRefs = 0
	o.queue.clear()
	cur := o.current
	for ch := range o.subs {
		delete(o.subs, ch)
		close(ch)
	}
	o.mu.Unlock()

	o.cancel()
	if cur != nil {
		<-cur.done
	}
	o.logger.Info("sync orchestrator stopped")
}
