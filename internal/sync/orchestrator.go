package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harjula/fitsync-go/internal/schema"
	"github.com/harjula/fitsync-go/internal/store"
)

// ErrSyncInFlight is returned by FullSync when a cycle is already
// running. Two cycles never overlap; callers that just want the data
// moved use SyncNow, which treats the running cycle as its own.
var ErrSyncInFlight = errors.New("sync: cycle already in flight")

// defaultTickInterval is the period between automatic cycles when the
// config does not set one.
const defaultTickInterval = 30 * time.Second

// defaultHintDebounce is how long the loop absorbs further change
// hints before starting the early cycle they asked for. Bursts of
// hints (a workout being logged set by set) collapse into one cycle.
const defaultHintDebounce = 500 * time.Millisecond

// hintBuffer bounds the hint channel. Hints are advisory; when the
// buffer is full the next tick covers whatever was dropped.
const hintBuffer = 16

// engineRunner is the interface the Orchestrator uses to run cycles.
// Implemented by *Engine; fakes are injected in tests.
type engineRunner interface {
	FullSync(ctx context.Context, userID string) (Report, error)
}

// engineFactoryFunc creates an engineRunner from an EngineConfig. The
// real implementation calls NewEngine; tests inject fakes after
// construction, before the first cycle.
type engineFactoryFunc func(cfg *EngineConfig) (engineRunner, error)

// HintSource pushes remote change notifications. Satisfied by
// *postgrest.Realtime. Run blocks until ctx is done, invoking hint for
// every change event it sees; it must contain its own failures
// (reconnect internally) rather than returning them.
type HintSource interface {
	Run(ctx context.Context, tables []string, hint func(table string)) error
}

// OrchestratorConfig holds the inputs for NewOrchestrator. The CLI
// layer populates it from resolved config.
type OrchestratorConfig struct {
	Store           *store.Store
	Remote          Remote
	Clock           Clock
	Tables          []string      // empty means all registered tables
	WatermarkColumn string        // empty means updated_at
	TickInterval    time.Duration // zero means defaultTickInterval
	HintDebounce    time.Duration // zero means defaultHintDebounce
	WatchLocal      bool          // watch the store file for app writes
	StorePath       string        // the SQLite file WatchLocal observes
	Realtime        HintSource    // nil disables remote hints
	Logger          *slog.Logger
}

// Status is a non-blocking snapshot of the orchestrator for the status
// command and the daemon's logs.
type Status struct {
	Syncing   bool             `json:"syncing"`
	LastSync  int64            `json:"last_sync_ms"` // epoch ms, 0 = never
	LastError string           `json:"last_error,omitempty"`
	Unsynced  map[string]int64 `json:"unsynced"` // pending rows per table
}

// Orchestrator owns the sync lifecycle for one signed-in user: an
// immediate cycle at Start, a ticker, and optional local/remote change
// hints that pull the next cycle forward. It is created after login
// and dropped at logout; there are no package-level instances.
//
// Single-flight: at most one cycle runs at any time, enforced by the
// syncing flag under mu. The background loop and explicit SyncNow or
// FullSync calls all go through the same gate.
type Orchestrator struct {
	cfg           *OrchestratorConfig
	engineFactory engineFactoryFunc // injectable for tests
	logger        *slog.Logger
	tick          time.Duration
	debounce      time.Duration
	tableNames    []string

	mu      gosync.Mutex
	engine  engineRunner // lazily built on first use
	syncing bool
	lastErr error
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewOrchestrator creates an Orchestrator with the real Engine factory.
// Tests override engineFactory after construction.
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}

	debounce := cfg.HintDebounce
	if debounce <= 0 {
		debounce = defaultHintDebounce
	}

	names := cfg.Tables
	if len(names) == 0 {
		names = schema.TableNames()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg: cfg,
		engineFactory: func(ecfg *EngineConfig) (engineRunner, error) {
			return NewEngine(ecfg)
		},
		logger:     logger,
		tick:       tick,
		debounce:   debounce,
		tableNames: names,
	}
}

// runner returns the engine, building it on first use so tests can
// swap the factory between construction and the first cycle.
func (o *Orchestrator) runner() (engineRunner, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.engine != nil {
		return o.engine, nil
	}

	eng, err := o.engineFactory(&EngineConfig{
		Store:           o.cfg.Store,
		Remote:          o.cfg.Remote,
		Clock:           o.cfg.Clock,
		Tables:          o.cfg.Tables,
		WatermarkColumn: o.cfg.WatermarkColumn,
		Logger:          o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sync: building engine: %w", err)
	}
	o.engine = eng

	return eng, nil
}

// Start launches the background group: the tick loop (which runs one
// cycle immediately), the local store observer, and the realtime
// subscriber when configured. Idempotent; a second Start while running
// is a no-op.
func (o *Orchestrator) Start(userID string) error {
	if _, err := o.runner(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	hints := make(chan string, hintBuffer)

	g.Go(func() error {
		o.loop(gctx, userID, hints)
		return nil
	})

	if o.cfg.WatchLocal && o.cfg.StorePath != "" {
		obs := newStoreObserver(o.cfg.StorePath, hints, o.logger)
		g.Go(func() error {
			obs.run(gctx)
			return nil
		})
	}

	if o.cfg.Realtime != nil {
		g.Go(func() error {
			err := o.cfg.Realtime.Run(gctx, o.tableNames, func(table string) {
				sendHint(hints, table)
			})
			if err != nil && !isCanceled(err) {
				o.logger.Warn("realtime subscriber exited",
					slog.String("error", err.Error()))
			}
			return nil
		})
	}

	o.cancel = cancel
	o.group = g
	o.running = true

	o.logger.Info("sync orchestrator started",
		slog.String("user_id", userID),
		slog.Duration("tick_interval", o.tick),
		slog.Bool("watch_local", o.cfg.WatchLocal),
		slog.Bool("realtime", o.cfg.Realtime != nil),
	)

	return nil
}

// Stop cancels the background group and waits for the in-flight cycle
// to drain. The engine yields between rows and tables, so the wait is
// bounded by one HTTP request. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel, group := o.cancel, o.group
	o.running = false
	o.cancel = nil
	o.group = nil
	o.mu.Unlock()

	cancel()
	_ = group.Wait() // members contain their own errors

	o.logger.Info("sync orchestrator stopped")
}

// loop is the scheduling goroutine: immediate first cycle, then ticks,
// with change hints pulling the next cycle forward. Hints within the
// debounce window collapse into one cycle.
//
// A cycle writes to the store itself (synced flags, applied rows), so
// the local observer echoes every cycle back as a hint. Absorbing
// hints for one debounce window after each cycle swallows the echo;
// a real change landing in that window is covered by the next tick.
func (o *Orchestrator) loop(ctx context.Context, userID string, hints <-chan string) {
	run := func(reason string) {
		o.runScheduled(ctx, userID, reason)
		o.absorbHints(ctx, hints)
	}

	run("startup")

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			run("tick")

		case table := <-hints:
			o.logger.Debug("change hint received", slog.String("source", table))
			o.absorbHints(ctx, hints)
			run("hint")
			ticker.Reset(o.tick) // the hinted cycle covers this period
		}
	}
}

// absorbHints waits out the debounce window, discarding further hints.
// Whatever they point at is covered by the cycle about to run.
func (o *Orchestrator) absorbHints(ctx context.Context, hints <-chan string) {
	timer := time.NewTimer(o.debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hints:
		case <-timer.C:
			return
		}
	}
}

// runScheduled runs one background cycle, honoring the paused flag.
// Errors land in lastErr via FullSync; the loop itself never stops.
func (o *Orchestrator) runScheduled(ctx context.Context, userID, reason string) {
	paused, err := o.cfg.Store.Paused(ctx)
	if err != nil {
		o.logger.Warn("reading paused flag failed",
			slog.String("error", err.Error()))
	} else if paused {
		o.logger.Info("sync paused, skipping cycle", slog.String("reason", reason))
		return
	}

	if _, err := o.FullSync(ctx, userID); err != nil && !errors.Is(err, ErrSyncInFlight) {
		o.logger.Warn("scheduled cycle failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// FullSync runs one cycle now. Returns ErrSyncInFlight when another
// cycle is already running; the two never overlap.
func (o *Orchestrator) FullSync(ctx context.Context, userID string) (Report, error) {
	eng, err := o.runner()
	if err != nil {
		return Report{}, err
	}

	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return Report{}, ErrSyncInFlight
	}
	o.syncing = true
	o.mu.Unlock()

	report, err := eng.FullSync(ctx, userID)

	o.mu.Lock()
	o.syncing = false
	o.lastErr = err
	o.mu.Unlock()

	return report, err
}

// SyncNow ensures a cycle happens: if one is already in flight it
// satisfies the request and SyncNow returns an empty report
// immediately; otherwise one cycle runs to completion.
func (o *Orchestrator) SyncNow(ctx context.Context, userID string) (Report, error) {
	report, err := o.FullSync(ctx, userID)
	if errors.Is(err, ErrSyncInFlight) {
		return Report{}, nil
	}

	return report, err
}

// Status returns a snapshot without waiting on any in-flight cycle.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	o.mu.Lock()
	st := Status{Syncing: o.syncing}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	o.mu.Unlock()

	last, err := o.cfg.Store.LastSync(ctx)
	if err != nil {
		return st, fmt.Errorf("sync: status: %w", err)
	}
	st.LastSync = last

	st.Unsynced = make(map[string]int64, len(o.tableNames))
	for _, name := range o.tableNames {
		n, err := o.cfg.Store.CountUnsynced(ctx, name)
		if err != nil {
			return st, fmt.Errorf("sync: status: %w", err)
		}
		st.Unsynced[name] = n
	}

	return st, nil
}

// sendHint delivers a hint without blocking. A full buffer means a
// cycle is imminent anyway; dropping is safe because hints only ever
// advance a sync that the ticker guarantees regardless.
func sendHint(hints chan<- string, source string) {
	select {
	case hints <- source:
	default:
	}
}
