// Package persistence provides SQLite-based session history: one row per
// session, the event log, wave starts and balancer passes.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/swarm-director/internal/director"
	"github.com/talgya/swarm-director/internal/focus"
)

// DB wraps a SQLite connection for session persistence.
type DB struct {
	conn *sqlx.DB
}

// SessionRow is one recorded session.
type SessionRow struct {
	ID        string `db:"id" json:"id"`
	Seed      int64  `db:"seed" json:"seed"`
	StartedAt string `db:"started_at" json:"started_at"`
	LastTick  uint64 `db:"last_tick" json:"last_tick"`
	LastWave  uint32 `db:"last_wave" json:"last_wave"`
	Waves     int    `db:"waves" json:"waves"`
	Events    int    `db:"events" json:"events"`
	Balances  int    `db:"balances" json:"balances"`
}

// EventRow is a stored director event.
type EventRow struct {
	SessionID string         `db:"session_id" json:"session_id"`
	Tick      uint64         `db:"tick" json:"tick"`
	Kind      string         `db:"kind" json:"kind"`
	Wave      uint32         `db:"wave" json:"wave"`
	Agent     focus.AgentID  `db:"agent" json:"agent"`
	Target    focus.TargetID `db:"target" json:"target"`
	Count     int            `db:"count" json:"count"`
	Detail    string         `db:"detail" json:"detail"`
}

// Event converts the row back into a director event.
func (r EventRow) Event() director.Event {
	return director.Event{
		Tick:   r.Tick,
		Kind:   director.Kind(r.Kind),
		Wave:   r.Wave,
		Agent:  r.Agent,
		Target: r.Target,
		Count:  r.Count,
		Detail: r.Detail,
	}
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		config_json TEXT NOT NULL,
		last_tick INTEGER NOT NULL DEFAULT 0,
		last_wave INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		wave INTEGER NOT NULL,
		agent INTEGER NOT NULL,
		target INTEGER NOT NULL,
		count INTEGER NOT NULL,
		detail TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS waves (
		session_id TEXT NOT NULL,
		wave INTEGER NOT NULL,
		started_tick INTEGER NOT NULL,
		spawns INTEGER NOT NULL,
		PRIMARY KEY (session_id, wave)
	);

	CREATE TABLE IF NOT EXISTS balances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		dominant INTEGER NOT NULL,
		overwhelmed INTEGER NOT NULL,
		candidates INTEGER NOT NULL,
		rerolled_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_session_tick ON events(session_id, tick);
	CREATE INDEX IF NOT EXISTS idx_balances_session ON balances(session_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// StartSession records a new session and returns its id. cfg is stored as
// JSON for later inspection.
func (db *DB) StartSession(seed int64, cfg any) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	id := uuid.NewString()
	_, err = db.conn.Exec(
		"INSERT INTO sessions (id, seed, started_at, config_json) VALUES (?, ?, ?, ?)",
		id, seed, time.Now().UTC().Format(time.RFC3339), string(cfgJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// SessionConfig returns the stored config JSON of a session.
func (db *DB) SessionConfig(id string) (string, error) {
	var cfg string
	err := db.conn.Get(&cfg, "SELECT config_json FROM sessions WHERE id = ?", id)
	return cfg, err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// Balance is one balancer pass stamped with its tick.
type Balance struct {
	Tick   uint64
	Report focus.Report
}

// Checkpoint is everything collected since the previous checkpoint.
type Checkpoint struct {
	Session  string
	Tick     uint64
	Wave     uint32
	Events   []director.Event
	Balances []Balance
}

// Checkpoint saves events, wave starts, balancer passes and the session
// position in a single transaction. Nothing is written if any part fails.
func (db *DB) Checkpoint(c Checkpoint) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveEvents(tx, c.Session, c.Events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if err := saveBalances(tx, c.Session, c.Balances); err != nil {
		return fmt.Errorf("save balances: %w", err)
	}
	if err := updateSession(tx, c.Session, c.Tick, c.Wave); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err := saveMeta(tx, "last_session", c.Session); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := saveMeta(tx, "last_tick", strconv.FormatUint(c.Tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("checkpoint saved", "session", c.Session, "tick", c.Tick,
		"events", len(c.Events), "balances", len(c.Balances))
	return nil
}

// saveEvents appends events. Wave starts are also recorded in the waves
// table.
func saveEvents(tx *sqlx.Tx, session string, events []director.Event) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.Preparex(`INSERT INTO events
		(session_id, tick, kind, wave, agent, target, count, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(session, e.Tick, string(e.Kind), e.Wave, e.Agent, e.Target, e.Count, e.Detail); err != nil {
			return fmt.Errorf("insert event at tick %d: %w", e.Tick, err)
		}
		if e.Kind != director.KindWaveStarted {
			continue
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO waves (session_id, wave, started_tick, spawns) VALUES (?, ?, ?, ?)",
			session, e.Wave, e.Tick, e.Count,
		); err != nil {
			return fmt.Errorf("insert wave %d: %w", e.Wave, err)
		}
	}
	return nil
}

func saveBalances(tx *sqlx.Tx, session string, balances []Balance) error {
	for _, b := range balances {
		rerolled, err := json.Marshal(b.Report.Rerolled)
		if err != nil {
			return fmt.Errorf("encode rerolls at tick %d: %w", b.Tick, err)
		}
		overwhelmed := 0
		if b.Report.Overwhelmed {
			overwhelmed = 1
		}
		if _, err := tx.Exec(`INSERT INTO balances
			(session_id, tick, dominant, overwhelmed, candidates, rerolled_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			session, b.Tick, b.Report.Dominant, overwhelmed, b.Report.Candidates, string(rerolled),
		); err != nil {
			return fmt.Errorf("insert balance at tick %d: %w", b.Tick, err)
		}
	}
	return nil
}

func updateSession(tx *sqlx.Tx, id string, tick uint64, wave uint32) error {
	res, err := tx.Exec("UPDATE sessions SET last_tick = ?, last_wave = ? WHERE id = ?", tick, wave, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

func saveMeta(tx *sqlx.Tx, key, value string) error {
	_, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// RecentEvents returns the most recent events, newest first. An empty
// session matches every session.
func (db *DB) RecentEvents(session string, limit int) ([]EventRow, error) {
	var events []EventRow
	q := `SELECT session_id, tick, kind, wave, agent, target, count, detail
		FROM events WHERE (? = '' OR session_id = ?) ORDER BY id DESC LIMIT ?`
	err := db.conn.Select(&events, q, session, session, limit)
	return events, err
}

// Sessions returns the most recently started sessions with row counts.
func (db *DB) Sessions(limit int) ([]SessionRow, error) {
	var rows []SessionRow
	err := db.conn.Select(&rows, `
		SELECT s.id, s.seed, s.started_at, s.last_tick, s.last_wave,
			(SELECT COUNT(*) FROM waves w WHERE w.session_id = s.id) AS waves,
			(SELECT COUNT(*) FROM events e WHERE e.session_id = s.id) AS events,
			(SELECT COUNT(*) FROM balances b WHERE b.session_id = s.id) AS balances
		FROM sessions s
		ORDER BY s.started_at DESC, s.rowid DESC
		LIMIT ?`, limit)
	return rows, err
}
