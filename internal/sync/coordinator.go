// Package sync keeps the local store converging toward the server state:
// it reconciles folders, pulls new messages through the ingestion
// pipeline, and drains the outbox, per account on its own schedule.
package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"mailstore/internal/ingest"
	"mailstore/internal/model"
	"mailstore/internal/outbox"
	"mailstore/internal/transport"
)

// State is the externally visible condition of one account's sync loop.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"

	// StateOffline means the transport reported not ready; the loop
	// retries on the next tick.
	StateOffline State = "offline"

	// StateBackoff means transient errors pushed the next attempt out.
	StateBackoff State = "backoff"

	// StateAuthFailed means the account is paused until the user fixes
	// credentials and triggers a refresh.
	StateAuthFailed State = "auth_failed"
)

// Status is a snapshot of one account's sync condition.
type Status struct {
	AccountID string
	State     State
	LastSync  time.Time
	LastError string
}

// Config tunes the sync loops. Zero values select the defaults.
type Config struct {
	// Interval between automatic sync cycles.
	Interval time.Duration

	// BatchSize is how many messages are fetched and ingested together.
	BatchSize int

	// OutboxPerCycle caps sends attempted per cycle.
	OutboxPerCycle int

	// FetchTimeout bounds each transport call.
	FetchTimeout time.Duration

	// MissingFolderGrace is how long a folder absent from the server
	// keeps its cached messages before both are purged.
	MissingFolderGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 120 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.OutboxPerCycle <= 0 {
		c.OutboxPerCycle = 10
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MissingFolderGrace <= 0 {
		c.MissingFolderGrace = 24 * time.Hour
	}
	return c
}

const (
	baseRetryDelay = 30 * time.Second
	maxRetryDelay  = 15 * time.Minute
)

// Store is the slice of the persistent store the coordinator uses.
type Store interface {
	UpsertFolder(ctx context.Context, f model.Folder) (model.Folder, error)
	ListFolders(ctx context.Context, accountID string) ([]model.Folder, error)
	MarkFolderMissing(ctx context.Context, id string, at time.Time) error
	PurgeMissingFolders(ctx context.Context, cutoff time.Time) (int, error)
	MaxUID(ctx context.Context, folderID string) (uint32, error)
}

// AccountSource provides the accounts to sync; the registry implements it.
type AccountSource interface {
	Accounts() []model.Account
}

// Coordinator runs one sync loop per account.
type Coordinator struct {
	store     Store
	accounts  AccountSource
	transport transport.Transport
	pipeline  *ingest.Pipeline
	outbox    *outbox.Manager
	log       *slog.Logger
	cfg       Config

	mu       gosync.Mutex
	statuses map[string]*Status
	paused   map[string]bool
	retryAt  map[string]time.Time
	delay    map[string]time.Duration

	// One trigger channel per account loop, so a refresh for one account
	// can never be consumed by another's loop.
	triggers map[string]chan struct{}

	stopCh  chan struct{}
	wg      gosync.WaitGroup
	running bool
}

// New creates a coordinator.
func New(st Store, accounts AccountSource, tr transport.Transport, p *ingest.Pipeline, ob *outbox.Manager, log *slog.Logger, cfg Config) *Coordinator {
	return &Coordinator{
		store:     st,
		accounts:  accounts,
		transport: tr,
		pipeline:  p,
		outbox:    ob,
		log:       log,
		cfg:       cfg.withDefaults(),
		statuses: make(map[string]*Status),
		paused:   make(map[string]bool),
		retryAt:  make(map[string]time.Time),
		delay:    make(map[string]time.Duration),
		triggers: make(map[string]chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Start launches a sync goroutine per account. Each runs an immediate
// first cycle, then follows its ticker.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	for _, acct := range c.accounts.Accounts() {
		trigger := make(chan struct{}, 1)
		c.mu.Lock()
		c.statuses[acct.ID] = &Status{AccountID: acct.ID, State: StateIdle}
		c.triggers[acct.ID] = trigger
		c.mu.Unlock()

		c.wg.Add(1)
		go c.loop(acct, trigger)
	}
}

// Stop halts all loops. An in-flight cycle finishes its current batch;
// already-ingested messages stay ingested.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	close(c.stopCh)
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
}

// Refresh asks the account's loop for an immediate cycle. It also clears
// an auth pause so fixed credentials get picked up.
func (c *Coordinator) Refresh(accountID string) {
	c.mu.Lock()
	delete(c.paused, accountID)
	delete(c.retryAt, accountID)
	delete(c.delay, accountID)
	trigger := c.triggers[accountID]
	c.mu.Unlock()

	if trigger == nil {
		return
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}

// Statuses snapshots every account's sync condition.
func (c *Coordinator) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.statuses))
	for _, s := range c.statuses {
		out = append(out, *s)
	}
	return out
}

func (c *Coordinator) loop(acct model.Account, trigger <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.cycle(acct)

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cycle(acct)
		case <-trigger:
			c.cycle(acct)
		}
	}
}

// cycle runs one full sync pass for the account unless it is paused or
// inside a backoff window.
func (c *Coordinator) cycle(acct model.Account) {
	c.mu.Lock()
	if c.paused[acct.ID] || time.Now().Before(c.retryAt[acct.ID]) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.SyncNow(context.Background(), acct)
}

// SyncNow runs one synchronous sync pass: folder reconcile, message
// pull, outbox drain. Transport errors classify into pause (auth),
// backoff (network, timeout), or skip (server).
func (c *Coordinator) SyncNow(ctx context.Context, acct model.Account) {
	if !c.transport.Ready(ctx, acct) {
		c.setStatus(acct.ID, StateOffline, "transport not ready")
		return
	}

	c.setStatus(acct.ID, StateSyncing, "")

	if err := c.syncFolders(ctx, acct); err != nil {
		c.handleError(acct.ID, err)
		return
	}

	folders, err := c.store.ListFolders(ctx, acct.ID)
	if err != nil {
		c.handleError(acct.ID, err)
		return
	}

	for _, f := range folders {
		if f.MissingSince != nil {
			continue
		}
		select {
		case <-c.stopCh:
			return
		default:
		}
		if err := c.syncFolder(ctx, acct, f); err != nil {
			kind := transport.KindOf(err)
			if kind == transport.KindServer {
				// One broken folder must not stall the rest.
				c.log.Warn("folder sync failed, skipping",
					"account", acct.ID, "folder", f.ServerPath, "error", err)
				continue
			}
			c.handleError(acct.ID, err)
			return
		}
	}

	c.outbox.Drain(ctx, c.transport, acct, c.cfg.OutboxPerCycle)

	c.mu.Lock()
	delete(c.delay, acct.ID)
	delete(c.retryAt, acct.ID)
	st := c.status(acct.ID)
	st.State = StateIdle
	st.LastSync = time.Now()
	st.LastError = ""
	c.mu.Unlock()
}

// syncFolders mirrors the server's folder list: present folders are
// upserted, absent ones are marked missing, and folders missing past the
// grace period are purged together with their cached messages.
func (c *Coordinator) syncFolders(ctx context.Context, acct model.Account) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	infos, err := c.transport.ListFolders(callCtx, acct)
	cancel()
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(infos))
	for _, info := range infos {
		present[info.Path] = true
		_, err := c.store.UpsertFolder(ctx, model.Folder{
			AccountID:  acct.ID,
			Name:       info.Path,
			ServerPath: info.Path,
			Type:       transport.FolderTypeFor(info.Path, info.Attrs),
		})
		if err != nil {
			return err
		}
	}

	local, err := c.store.ListFolders(ctx, acct.ID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, f := range local {
		if present[f.ServerPath] || f.MissingSince != nil {
			continue
		}
		if err := c.store.MarkFolderMissing(ctx, f.ID, now); err != nil {
			c.log.Warn("marking folder missing failed",
				"account", acct.ID, "folder", f.ServerPath, "error", err)
		}
	}

	purged, err := c.store.PurgeMissingFolders(ctx, now.Add(-c.cfg.MissingFolderGrace))
	if err != nil {
		return err
	}
	if purged > 0 {
		c.log.Info("purged folders missing past grace period",
			"account", acct.ID, "count", purged)
	}
	return nil
}

// syncFolder pulls messages above the local high-water UID in batches.
func (c *Coordinator) syncFolder(ctx context.Context, acct model.Account, f model.Folder) error {
	since, err := c.store.MaxUID(ctx, f.ID)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	uids, err := c.transport.FetchUIDsSince(callCtx, acct, f.ServerPath, since)
	cancel()
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	c.log.Info("fetching new messages",
		"account", acct.ID, "folder", f.ServerPath, "count", len(uids))

	for start := 0; start < len(uids); start += c.cfg.BatchSize {
		select {
		case <-c.stopCh:
			return nil
		default:
		}

		end := start + c.cfg.BatchSize
		if end > len(uids) {
			end = len(uids)
		}

		batch := make([]*transport.RawMessage, 0, end-start)
		for _, uid := range uids[start:end] {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
			raw, err := c.transport.FetchMessage(callCtx, acct, f.ServerPath, uid)
			cancel()
			if err != nil {
				if transport.KindOf(err) == transport.KindServer {
					c.log.Warn("fetching message failed, skipping",
						"account", acct.ID, "folder", f.ServerPath, "uid", uid, "error", err)
					continue
				}
				return err
			}
			batch = append(batch, raw)
		}

		c.pipeline.Ingest(ctx, acct.ID, batch)
	}
	return nil
}

// handleError classifies a cycle-fatal error: auth failures pause the
// account, everything else backs off with doubling delay.
func (c *Coordinator) handleError(accountID string, err error) {
	kind := transport.KindOf(err)

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.status(accountID)
	st.LastError = err.Error()

	if kind == transport.KindAuth {
		c.paused[accountID] = true
		st.State = StateAuthFailed
		c.log.Warn("account paused on authentication failure", "account", accountID, "error", err)
		return
	}

	d := c.delay[accountID]
	if d <= 0 {
		d = baseRetryDelay
	} else {
		d *= 2
		if d > maxRetryDelay {
			d = maxRetryDelay
		}
	}
	c.delay[accountID] = d
	c.retryAt[accountID] = time.Now().Add(d)
	st.State = StateBackoff
	c.log.Warn("sync cycle failed, backing off",
		"account", accountID, "retry_in", d, "error", err)
}

func (c *Coordinator) setStatus(accountID string, state State, errText string) {
	c.mu.Lock()
	st := c.status(accountID)
	st.State = state
	st.LastError = errText
	c.mu.Unlock()
}

// status returns the account's status record, creating it on first use.
// Callers hold c.mu.
func (c *Coordinator) status(accountID string) *Status {
	st, ok := c.statuses[accountID]
	if !ok {
		st = &Status{AccountID: accountID, State: StateIdle}
		c.statuses[accountID] = st
	}
	return st
}
