// Package watch keeps the registry eventually consistent with the external
// checkpoint store.
//
// The consistency guarantee is best-effort: every thread the checkpoint
// store knows about should eventually have a registry row. The watcher
// upgrades the one-time migration backfill to a continuous reconcile loop,
// reacting to checkpoint DB writes via fsnotify with a polling fallback.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/CuriosityQuantified/tandem-threads/internal/threadstore"
	"github.com/fsnotify/fsnotify"
)

type Options struct {
	Log    *slog.Logger
	Store  *threadstore.Store
	Source threadstore.ThreadIDSource

	// CheckpointDBPath is the checkpoint SQLite file. Its directory is
	// watched, because SQLite spreads writes across the db/-wal/-shm files.
	CheckpointDBPath string

	// LockPath, when set, enforces a single watcher instance per registry.
	LockPath string

	// Debounce coalesces bursts of checkpoint writes before a reconcile pass.
	Debounce time.Duration
	// PollInterval drives the fallback cadence (and a periodic safety pass
	// even when fsnotify works).
	PollInterval time.Duration
	// BatchLimit bounds one Backfill batch inside a pass.
	BatchLimit int

	// UserID and Title are recorded on placeholder rows.
	UserID string
	Title  string

	// OnPass, if set, observes every completed reconcile pass.
	OnPass func(inserted int)
}

type Watcher struct {
	log    *slog.Logger
	store  *threadstore.Store
	source threadstore.ThreadIDSource

	checkpointPath string
	lockPath       string

	debounce     time.Duration
	pollInterval time.Duration
	batchLimit   int

	userID string
	title  string

	onPass func(inserted int)
}

func New(opts Options) (*Watcher, error) {
	if opts.Store == nil {
		return nil, errors.New("missing store")
	}
	if opts.Source == nil {
		return nil, errors.New("missing checkpoint source")
	}
	checkpointPath := filepath.Clean(strings.TrimSpace(opts.CheckpointDBPath))
	if checkpointPath == "" || checkpointPath == "." {
		return nil, errors.New("missing checkpoint db path")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	batchLimit := opts.BatchLimit
	if batchLimit <= 0 {
		batchLimit = threadstore.DefaultBackfillLimit
	}

	return &Watcher{
		log:            log,
		store:          opts.Store,
		source:         opts.Source,
		checkpointPath: checkpointPath,
		lockPath:       strings.TrimSpace(opts.LockPath),
		debounce:       debounce,
		pollInterval:   pollInterval,
		batchLimit:     batchLimit,
		userID:         strings.TrimSpace(opts.UserID),
		title:          strings.TrimSpace(opts.Title),
		onPass:         opts.OnPass,
	}, nil
}

// Run blocks until ctx is done. It reconciles once at startup, then on
// every (debounced) checkpoint DB change, and on a periodic safety tick.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("nil watcher")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if w.lockPath != "" {
		lock, err := acquireLock(w.lockPath)
		if err != nil {
			return err
		}
		defer func() { _ = lock.release() }()
	}

	// Initial catch-up before waiting for events.
	if _, err := w.reconcile(ctx); err != nil {
		w.log.Warn("initial reconcile failed", "error", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("fsnotify unavailable, falling back to polling", "error", err)
		return w.runPolling(ctx)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(filepath.Dir(w.checkpointPath)); err != nil {
		w.log.Warn("fsnotify add failed, falling back to polling", "error", err)
		return w.runPolling(ctx)
	}

	w.log.Info("watching checkpoint store", "path", w.checkpointPath, "debounce", w.debounce.String())

	// The debounce timer starts stopped; checkpoint events re-arm it.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	base := filepath.Base(w.checkpointPath)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return w.runPolling(ctx)
			}
			if !isCheckpointFile(base, filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			// Re-arm: coalesce the burst into one pass.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return w.runPolling(ctx)
			}
			w.log.Warn("fsnotify error", "error", err)

		case <-timer.C:
			if _, err := w.reconcile(ctx); err != nil {
				w.log.Warn("reconcile failed", "error", err)
			}

		case <-ticker.C:
			if _, err := w.reconcile(ctx); err != nil {
				w.log.Warn("periodic reconcile failed", "error", err)
			}
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.log.Info("polling checkpoint store", "path", w.checkpointPath, "interval", w.pollInterval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.reconcile(ctx); err != nil {
				w.log.Warn("reconcile failed", "error", err)
			}
		}
	}
}

// reconcile runs Backfill passes until one inserts nothing. The id window
// widens each pass: the checkpoint source returns its first N ids in a
// stable order, so a fixed window would keep re-reading rows that already
// exist and never reach the ones behind them.
func (w *Watcher) reconcile(ctx context.Context) (int, error) {
	total := 0
	limit := w.batchLimit
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		inserted, err := w.store.Backfill(ctx, w.source, threadstore.BackfillOptions{
			UserID: w.userID,
			Title:  w.title,
			Limit:  limit,
		})
		if err != nil {
			return total, err
		}
		total += inserted
		if inserted == 0 {
			break
		}
		limit += w.batchLimit
	}
	if total > 0 {
		w.log.Info("backfilled threads from checkpoint store", "inserted", total)
	}
	if w.onPass != nil {
		w.onPass(total)
	}
	return total, nil
}

// isCheckpointFile matches the db file and its -wal/-shm/-journal siblings.
func isCheckpointFile(dbBase string, name string) bool {
	if name == dbBase {
		return true
	}
	return strings.HasPrefix(name, dbBase+"-")
}
