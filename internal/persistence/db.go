// Package persistence stores world snapshots, the event log and a small
// key-value table. SQLite is the default backend; a postgres:// DSN selects
// PostgreSQL.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/world"
)

// ErrNoSnapshot is returned when no stored snapshot matches a query.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Meta keys written by the simulation.
const (
	MetaLastDay = "last_day"
	MetaSeed    = "seed"
)

// DB wraps a SQL connection for world state persistence.
type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open connects to dsn and creates the schema if needed. DSNs starting
// with postgres:// or postgresql:// use PostgreSQL; anything else is a
// SQLite path or file: URI.
func Open(ctx context.Context, dsn string) (*DB, error) {
	driver := DriverFor(dsn)
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// DriverFor picks the database/sql driver name for dsn.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the active driver name.
func (db *DB) Driver() string { return db.driver }

func (db *DB) migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id ` + serial + `,
			day INTEGER NOT NULL,
			seed BIGINT NOT NULL,
			data TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id ` + serial + `,
			day INTEGER NOT NULL,
			tag TEXT NOT NULL,
			line TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS world_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_day ON snapshots(day)`,
		`CREATE INDEX IF NOT EXISTS idx_events_day ON events(day)`,
	}
	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotInfo describes one stored snapshot without its payload.
type SnapshotInfo struct {
	ID        int64 `db:"id" json:"id"`
	Day       int   `db:"day" json:"day"`
	Seed      int64 `db:"seed" json:"seed"`
	CreatedAt int64 `db:"created_at" json:"created_at"`
}

// SaveSnapshot stores s and records its day in the metadata table.
func (db *DB) SaveSnapshot(ctx context.Context, s world.State) (SnapshotInfo, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return SnapshotInfo{}, err
	}
	defer tx.Rollback()

	info := SnapshotInfo{Day: s.Day, Seed: s.Seed, CreatedAt: time.Now().Unix()}
	err = tx.QueryRowxContext(ctx, tx.Rebind(
		`INSERT INTO snapshots (day, seed, data, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		info.Day, info.Seed, string(data), info.CreatedAt,
	).Scan(&info.ID)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("insert snapshot: %w", err)
	}
	if err := upsertMeta(ctx, tx, MetaLastDay, fmt.Sprintf("%d", s.Day)); err != nil {
		return SnapshotInfo{}, fmt.Errorf("save meta: %w", err)
	}
	if err := upsertMeta(ctx, tx, MetaSeed, fmt.Sprintf("%d", s.Seed)); err != nil {
		return SnapshotInfo{}, fmt.Errorf("save meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SnapshotInfo{}, err
	}

	log.Info().Int64("id", info.ID).Int("day", info.Day).Int("bytes", len(data)).Msg("snapshot saved")
	return info, nil
}

// LatestSnapshot loads the most recent snapshot.
func (db *DB) LatestSnapshot(ctx context.Context) (world.State, error) {
	return db.loadSnapshot(ctx, `SELECT data FROM snapshots ORDER BY id DESC LIMIT 1`)
}

// SnapshotAt loads the latest snapshot taken on day.
func (db *DB) SnapshotAt(ctx context.Context, day int) (world.State, error) {
	return db.loadSnapshot(ctx, `SELECT data FROM snapshots WHERE day = ? ORDER BY id DESC LIMIT 1`, day)
}

func (db *DB) loadSnapshot(ctx context.Context, query string, args ...any) (world.State, error) {
	var data string
	err := db.conn.GetContext(ctx, &data, db.conn.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return world.State{}, ErrNoSnapshot
	}
	if err != nil {
		return world.State{}, fmt.Errorf("load snapshot: %w", err)
	}
	var s world.State
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return world.State{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Snapshots lists stored snapshots, newest first.
func (db *DB) Snapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	var out []SnapshotInfo
	err := db.conn.SelectContext(ctx, &out, db.conn.Rebind(
		`SELECT id, day, seed, created_at FROM snapshots ORDER BY id DESC LIMIT ?`), limit)
	return out, err
}

// PruneSnapshots deletes all but the newest keep snapshots and reports
// how many were removed.
func (db *DB) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`), keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// EventRecord is one stored event line.
type EventRecord struct {
	ID   int64  `db:"id" json:"id"`
	Day  int    `db:"day" json:"day"`
	Tag  string `db:"tag" json:"tag"`
	Line string `db:"line" json:"line"`
}

// Event decodes the stored line back into a typed event.
func (r EventRecord) Event() (events.Event, error) {
	return events.Decode(r.Line)
}

// SaveEvents appends the events of one day.
func (db *DB) SaveEvents(ctx context.Context, day int, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO events (day, tag, line) VALUES (?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range evs {
		line, err := events.Encode(e)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Tag(), err)
		}
		if _, err := stmt.ExecContext(ctx, day, e.Tag(), line); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// RecentEvents returns the most recent limit events, oldest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	var out []EventRecord
	err := db.conn.SelectContext(ctx, &out, db.conn.Rebind(
		`SELECT id, day, tag, line FROM events ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// EventsSince returns events recorded after day, oldest first.
func (db *DB) EventsSince(ctx context.Context, day, limit int) ([]EventRecord, error) {
	var out []EventRecord
	err := db.conn.SelectContext(ctx, &out, db.conn.Rebind(
		`SELECT id, day, tag, line FROM events WHERE day > ? ORDER BY id ASC LIMIT ?`), day, limit)
	return out, err
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	return upsertMeta(ctx, db.conn, key, value)
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, db.conn.Rebind(`SELECT value FROM world_meta WHERE key = ?`), key)
	return value, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

func upsertMeta(ctx context.Context, x execer, key, value string) error {
	_, err := x.ExecContext(ctx, x.Rebind(
		`INSERT INTO world_meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`), key, value)
	return err
}

// SaveDay persists one simulated day: its events always, and the snapshot
// when snapshotEvery divides the day.
func (db *DB) SaveDay(ctx context.Context, s world.State, evs []events.Event, snapshotEvery int) error {
	if err := db.SaveEvents(ctx, s.Day, evs); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if snapshotEvery > 0 && s.Day%snapshotEvery == 0 {
		if _, err := db.SaveSnapshot(ctx, s); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	return nil
}
