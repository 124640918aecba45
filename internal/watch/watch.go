// Package watch polls an SQLite database for a change token and runs a
// reload action, debounced, whenever the token moves. dominject uses it to
// pick up edits to the integrations table without a restart.
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token. Two different values mean the
// watched data changed.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling period. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action fires;
	// a further change restarts it. Zero fires at once.
	Debounce time.Duration
	// Detector defaults to PragmaDataVersion.
	Detector ChangeDetector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher runs an action when the detector reports a change.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	primed  atomic.Bool

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Reloads         int64 `json:"reloads"`
}

// New creates a Watcher. Call OnChange to start polling.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
}

// Version returns the last token whose action succeeded.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Prime records the current version as the baseline of OnChange. Call it
// before loading the watched data so that no change falls in between.
func (w *Watcher) Prime(ctx context.Context) error {
	v, err := w.opts.Detector(ctx, w.db)
	if err != nil {
		return err
	}
	w.version.Store(v)
	w.primed.Store(true)
	return nil
}

// OnChange polls until ctx ends. A failed action leaves the version where it
// was, so the next poll retries it.
func (w *Watcher) OnChange(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger

	if !w.primed.Load() {
		if v, err := w.opts.Detector(ctx, w.db); err != nil {
			log.Warn("watch: initial version check failed", "error", err)
		} else {
			w.version.Store(v)
		}
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(ctx, action, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounce, debounceC = nil, nil
			if pending >= 0 {
				w.fire(ctx, action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context, action func(context.Context) error, ver int64) {
	log := w.opts.Logger
	start := time.Now()
	if err := action(ctx); err != nil {
		w.errors.Add(1)
		log.Error("watch: reload failed", "error", err, "version", ver)
		return
	}
	w.reloads.Add(1)
	w.version.Store(ver)
	log.Info("watch: reloaded", "version", ver, "duration", time.Since(start))
}

// PragmaDataVersion moves whenever another connection writes to the file.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// PragmaUserVersion reads the application-controlled user_version.
func PragmaUserVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// MaxColumnDetector polls MAX(column) of table, for tables carrying an
// updated_at timestamp.
func MaxColumnDetector(table, column string) ChangeDetector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
