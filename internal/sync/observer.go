package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Local-watch error backoff. fsnotify errors (descriptor exhaustion,
// unmount races) are logged and retried with doubling waits.
const (
	watchErrInitBackoff = 100 * time.Millisecond
	watchErrBackoffMult = 2
	watchErrMaxBackoff  = 10 * time.Second
)

// localHintSource labels hints from the store observer in logs, where
// realtime hints carry a table name instead.
const localHintSource = "local"

// storeObserver watches the SQLite database file for writes by another
// process (the mobile app) and turns them into change hints. In WAL
// mode every commit appends to the -wal sidecar, so watching the
// store's directory and filtering to the database file and its sidecar
// catches all local mutations. Hints are advisory: a dropped or missed
// event is repaired by the next tick.
type storeObserver struct {
	dir    string
	names  map[string]bool // basenames that count as store writes
	hints  chan<- string
	logger *slog.Logger
}

// newStoreObserver prepares a watcher for the store at storePath. The
// directory is watched rather than the file: SQLite recreates the -wal
// sidecar on checkpoint, and inotify watches do not survive that.
func newStoreObserver(storePath string, hints chan<- string, logger *slog.Logger) *storeObserver {
	base := filepath.Base(storePath)

	return &storeObserver{
		dir: filepath.Dir(storePath),
		names: map[string]bool{
			base:          true,
			base + "-wal": true,
		},
		hints:  hints,
		logger: logger,
	}
}

// run watches until ctx is done. Failures are contained here: when the
// watcher cannot be (re)created the observer retries with backoff
// instead of returning, because sync works without hints.
func (s *storeObserver) run(ctx context.Context) {
	backoff := watchErrInitBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		watcher, err := fsnotify.NewWatcher()
		if err == nil {
			err = watcher.Add(s.dir)
		}
		if err != nil {
			s.logger.Warn("store watch unavailable, retrying",
				slog.String("dir", s.dir),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
			if watcher != nil {
				watcher.Close()
			}
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		s.logger.Debug("watching store for local changes", slog.String("dir", s.dir))
		backoff = watchErrInitBackoff
		s.watchLoop(ctx, watcher)
		watcher.Close()

		if ctx.Err() != nil {
			return
		}
	}
}

// watchLoop pumps fsnotify events into hints until ctx is done or the
// event channel closes (then run recreates the watcher).
func (s *storeObserver) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !s.names[filepath.Base(event.Name)] {
				continue
			}
			sendHint(s.hints, localHintSource)
			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("store watch error",
				slog.String("dir", s.dir),
				slog.Duration("backoff", errBackoff),
				slog.String("error", watchErr.Error()),
			)
			if !sleepCtx(ctx, errBackoff) {
				return
			}
			errBackoff = nextBackoff(errBackoff)
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= watchErrBackoffMult
	if d > watchErrMaxBackoff {
		d = watchErrMaxBackoff
	}
	return d
}

// sleepCtx waits for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
