// CLAUDE:SUMMARY Event history sink: buffers scan and action events and writes them in batches to the inject_events SQLite table; query and retention helpers.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/dominject/event"
	"github.com/hazyhaar/dominject/internal/dbopen"

	_ "modernc.org/sqlite"
)

// EventSchema is the DDL of the event history table.
const EventSchema = `
CREATE TABLE IF NOT EXISTS inject_events (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    page_id     TEXT NOT NULL,
    page_url    TEXT NOT NULL DEFAULT '',
    integration TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    mounted     INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inject_events_page_time
    ON inject_events(page_id, timestamp DESC);
`

const (
	sqliteBatch    = 100
	sqliteInterval = 2 * time.Second
)

type row struct {
	id, typ, pageID, pageURL, integration string
	ts                                    int64
	mounted, failed                       int
	payload                               string
}

// SQLite records events in inject_events. Writes are buffered and flushed
// in batches; a full buffer falls back to a direct insert.
type SQLite struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
	ch     chan row
	stop   chan struct{}
	done   chan struct{}
}

// OpenSQLite opens (creating if needed) the database at path and starts the
// flusher. Close closes the database.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(EventSchema))
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	s := NewSQLite(db, logger)
	s.owned = true
	return s, nil
}

// NewSQLite starts a sink on db, which must carry EventSchema.
func NewSQLite(db *sql.DB, logger *slog.Logger) *SQLite {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLite{
		db:     db,
		logger: logger,
		ch:     make(chan row, 1000),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

func (s *SQLite) SendScan(ctx context.Context, sc event.Scan) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, row{
		id: sc.ID, typ: "scan", pageID: sc.PageID, pageURL: sc.PageURL,
		integration: sc.Integration, ts: sc.Timestamp,
		mounted: sc.Result.Mounted, failed: sc.Result.Failed,
		payload: string(data),
	})
}

func (s *SQLite) SendAction(ctx context.Context, a event.Action) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, row{
		id: a.ID, typ: "action", pageID: a.PageID, pageURL: a.PageURL,
		integration: a.Integration, ts: a.Timestamp,
		payload: string(data),
	})
}

// Close drains the buffer and stops the flusher.
func (s *SQLite) Close() error {
	select {
	case <-s.stop:
		return nil
	default:
	}
	close(s.stop)
	<-s.done
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// Recorded is a stored event.
type Recorded struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	PageID      string          `json:"page_id"`
	Integration string          `json:"integration"`
	Timestamp   int64           `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// Recent returns the latest events of a page, newest first. An empty pageID
// matches every page.
func (s *SQLite) Recent(ctx context.Context, pageID string, limit int) ([]Recorded, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, type, page_id, integration, timestamp, payload FROM inject_events`
	var args []any
	if pageID != "" {
		q += ` WHERE page_id = ?`
		args = append(args, pageID)
	}
	q += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sink: query events: %w", err)
	}
	defer rows.Close()

	var out []Recorded
	for rows.Next() {
		var r Recorded
		var payload string
		if err := rows.Scan(&r.ID, &r.Type, &r.PageID, &r.Integration, &r.Timestamp, &payload); err != nil {
			return nil, err
		}
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retention.
func (s *SQLite) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM inject_events WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("sink: cleanup events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) enqueue(ctx context.Context, r row) error {
	select {
	case <-s.stop:
		return fmt.Errorf("sink: sqlite sink closed")
	default:
	}
	select {
	case s.ch <- r:
		return nil
	default:
		s.logger.Warn("sink: event buffer full, direct insert", "page", r.pageID)
		return s.insert(ctx, s.db, r)
	}
}

func (s *SQLite) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(sqliteInterval)
	defer ticker.Stop()
	batch := make([]row, 0, sqliteBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.flush(ctx, batch); err != nil {
			s.logger.Error("sink: flush events", "error", err, "events", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-s.stop:
			for {
				select {
				case r := <-s.ch:
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}
		case r := <-s.ch:
			batch = append(batch, r)
			if len(batch) >= sqliteBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) flush(ctx context.Context, batch []row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, r := range batch {
		if err := s.insert(ctx, tx, r); err != nil {
			s.logger.Error("sink: insert event", "error", err, "id", r.id)
		}
	}
	return tx.Commit()
}

func (s *SQLite) insert(ctx context.Context, x execer, r row) error {
	_, err := x.ExecContext(ctx, `INSERT OR IGNORE INTO inject_events
		(id, type, page_id, page_url, integration, timestamp, mounted, failed, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.id, r.typ, r.pageID, r.pageURL, r.integration, r.ts, r.mounted, r.failed, r.payload)
	return err
}
