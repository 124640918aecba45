// CLAUDE:SUMMARY Stores integration definitions in the inject_integrations SQLite table and watches it for edits.
package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/hazyhaar/dominject/internal/dbopen"
	"github.com/hazyhaar/dominject/internal/watch"
)

// Schema for the inject_integrations table.
const Schema = `
CREATE TABLE IF NOT EXISTS inject_integrations (
	name             TEXT PRIMARY KEY,
	base             TEXT DEFAULT '',
	anchor           TEXT DEFAULT '',
	exclude          TEXT DEFAULT '',
	marker           TEXT DEFAULT '',
	host_tag         TEXT DEFAULT '',
	insertion_points TEXT DEFAULT '[]',
	scope            TEXT DEFAULT '[]',
	self_scope       INTEGER DEFAULT 0,
	candidate        TEXT DEFAULT '',
	policy           TEXT DEFAULT '',
	label            TEXT DEFAULT '',
	placeholder      TEXT DEFAULT '',
	accent           TEXT DEFAULT '',
	debounce_ms      INTEGER DEFAULT 0,
	status           TEXT DEFAULT 'active',
	updated_at       INTEGER NOT NULL
);
`

// OpenDB opens (creating if needed) the integrations database.
func OpenDB(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
}

// LoadIntegrations reads every active row.
func LoadIntegrations(ctx context.Context, db *sql.DB) ([]IntegrationConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, base, anchor, exclude, marker, host_tag,
		       insertion_points, scope, self_scope, candidate, policy,
		       label, placeholder, accent, debounce_ms
		FROM inject_integrations
		WHERE status = 'active'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load integrations: %w", err)
	}
	defer rows.Close()

	var out []IntegrationConfig
	for rows.Next() {
		var ic IntegrationConfig
		var insJSON, scopeJSON string
		var selfScope int
		var debounceMs int64

		if err := rows.Scan(&ic.Name, &ic.Base, &ic.Anchor, &ic.Exclude, &ic.Marker, &ic.HostTag,
			&insJSON, &scopeJSON, &selfScope, &ic.Candidate, &ic.Policy,
			&ic.Label, &ic.Placeholder, &ic.Accent, &debounceMs); err != nil {
			return nil, fmt.Errorf("config: scan integration: %w", err)
		}
		if err := json.Unmarshal([]byte(insJSON), &ic.InsertionPoints); err != nil {
			return nil, fmt.Errorf("config: integration %s: insertion_points: %w", ic.Name, err)
		}
		if err := json.Unmarshal([]byte(scopeJSON), &ic.Scope); err != nil {
			return nil, fmt.Errorf("config: integration %s: scope: %w", ic.Name, err)
		}
		ic.SelfScope = selfScope != 0
		ic.Debounce = time.Duration(debounceMs) * time.Millisecond
		out = append(out, ic)
	}
	return out, rows.Err()
}

// SaveIntegration inserts or replaces a row and marks it active.
func SaveIntegration(ctx context.Context, db *sql.DB, ic IntegrationConfig) error {
	if ic.Name == "" {
		return fmt.Errorf("config: save integration: missing name")
	}
	ins, err := json.Marshal(nonNil(ic.InsertionPoints))
	if err != nil {
		return err
	}
	scope, err := json.Marshal(nonNil(ic.Scope))
	if err != nil {
		return err
	}
	selfScope := 0
	if ic.SelfScope {
		selfScope = 1
	}

	_, err = dbopen.Exec(ctx, db, `
		INSERT INTO inject_integrations (name, base, anchor, exclude, marker, host_tag,
			insertion_points, scope, self_scope, candidate, policy,
			label, placeholder, accent, debounce_ms, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT(name) DO UPDATE SET
			base = excluded.base, anchor = excluded.anchor, exclude = excluded.exclude,
			marker = excluded.marker, host_tag = excluded.host_tag,
			insertion_points = excluded.insertion_points, scope = excluded.scope,
			self_scope = excluded.self_scope, candidate = excluded.candidate,
			policy = excluded.policy, label = excluded.label,
			placeholder = excluded.placeholder, accent = excluded.accent,
			debounce_ms = excluded.debounce_ms, status = 'active',
			updated_at = excluded.updated_at
	`, ic.Name, ic.Base, ic.Anchor, ic.Exclude, ic.Marker, ic.HostTag,
		string(ins), string(scope), selfScope, ic.Candidate, ic.Policy,
		ic.Label, ic.Placeholder, ic.Accent, ic.Debounce.Milliseconds(), nowMillis())
	if err != nil {
		return fmt.Errorf("config: save integration %s: %w", ic.Name, err)
	}
	return nil
}

// DisableIntegration marks a row inactive.
func DisableIntegration(ctx context.Context, db *sql.DB, name string) error {
	_, err := dbopen.Exec(ctx, db,
		`UPDATE inject_integrations SET status = 'disabled', updated_at = ? WHERE name = ?`,
		nowMillis(), name)
	if err != nil {
		return fmt.Errorf("config: disable integration %s: %w", name, err)
	}
	return nil
}

// WatchIntegrations returns a watcher that fires when a row is saved or
// disabled.
func WatchIntegrations(db *sql.DB, logger *slog.Logger) *watch.Watcher {
	return watch.New(db, watch.Options{
		Interval: time.Second,
		Debounce: 500 * time.Millisecond,
		Detector: watch.MaxColumnDetector("inject_integrations", "updated_at"),
		Logger:   logger,
	})
}

var lastMillis atomic.Int64

// nowMillis is strictly increasing within the process so that two saves in
// the same millisecond still move MAX(updated_at).
func nowMillis() int64 {
	for {
		prev := lastMillis.Load()
		now := time.Now().UnixMilli()
		if now <= prev {
			now = prev + 1
		}
		if lastMillis.CompareAndSwap(prev, now) {
			return now
		}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
