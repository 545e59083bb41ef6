// Package postgres persists the event feed. Because turn events carry the
// user and assistant text in their fields, the table doubles as the
// conversation transcript archive.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/paper-theater/kamishibai/internal/config"
	"github.com/paper-theater/kamishibai/internal/events"
)

// EventRow is one archived event as read back from the table.
type EventRow struct {
	ID        int64                  `json:"id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Client is the handle to the archive database.
type Client struct {
	db *sql.DB
}

var _ events.Store = (*Client)(nil)

// dsnFromEnv assembles the connection string from KAMISHIBAI_POSTGRES_*
// variables. The password honors the *_FILE convention.
func dsnFromEnv() (string, error) {
	password, err := config.ResolveSecret("KAMISHIBAI_POSTGRES_PASSWORD")
	if err != nil {
		return "", err
	}

	parts := []string{
		"host=" + envOr("KAMISHIBAI_POSTGRES_HOST", "127.0.0.1"),
		"port=" + envOr("KAMISHIBAI_POSTGRES_PORT", "5432"),
		"user=" + envOr("KAMISHIBAI_POSTGRES_USER", "kamishibai"),
		"dbname=" + envOr("KAMISHIBAI_POSTGRES_DB", "kamishibai"),
		"sslmode=disable",
	}
	if password != "" {
		parts = append(parts, "password="+password)
	}
	return strings.Join(parts, " "), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New opens the archive, pings it, and ensures the schema. The archive is
// optional; callers treat an error here as "run without persistence".
func New() (*Client, error) {
	dsn, err := dsnFromEnv()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	c := &Client{db: db}
	if err := c.EnsureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure engine_events schema: %w", err)
	}
	return c, nil
}

// EnsureSchema creates the events table and indexes if they do not exist.
func (c *Client) EnsureSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS engine_events (
			id     BIGSERIAL PRIMARY KEY,
			ts     TIMESTAMPTZ NOT NULL,
			level  TEXT NOT NULL,
			event  TEXT NOT NULL,
			msg    TEXT,
			fields JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_engine_events_ts ON engine_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_engine_events_event ON engine_events(event);
	`)
	return err
}

// Append inserts one event. An empty msg is stored as NULL.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		fieldsJSON = b
	}

	var msgVal interface{}
	if msg != "" {
		msgVal = msg
	}

	_, err := c.db.Exec(
		`INSERT INTO engine_events (ts, level, event, msg, fields) VALUES ($1, $2, $3, $4, $5)`,
		ts, level, event, msgVal, fieldsJSON,
	)
	return err
}

// Recent reads back the newest events, newest first. Zero or negative limit
// means 200; the ceiling is 1000.
func (c *Client) Recent(limit int) ([]EventRow, error) {
	switch {
	case limit <= 0:
		limit = 200
	case limit > 1000:
		limit = 1000
	}

	rows, err := c.db.Query(
		`SELECT id, ts, level, event, msg, fields FROM engine_events ORDER BY ts DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		e, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanRow(rows *sql.Rows) (EventRow, error) {
	var (
		e          EventRow
		msg        sql.NullString
		fieldsJSON []byte
	)
	if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON); err != nil {
		return EventRow{}, err
	}
	if msg.Valid {
		e.Message = &msg.String
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
			return EventRow{}, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	return e, nil
}

// Ping reports whether the connection is alive.
func (c *Client) Ping() error {
	return c.db.Ping()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
