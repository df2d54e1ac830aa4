// Package store is the append-only message log behind the Session API.
// Rows are only ever inserted or bulk-deleted by session; order within a
// session is creation time, ties broken by insertion id.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"RoleplayChat/internal/config"
	"RoleplayChat/internal/session"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Options configures Open.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          *slog.Logger
}

// OptionsFrom builds store options from the database config section.
func OptionsFrom(cfg config.DatabaseConfig, logger *slog.Logger) Options {
	return Options{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Logger:          logger,
	}
}

// Summary describes the stored history of one session.
type Summary struct {
	SessionID    string    `json:"sessionId"`
	MessageCount int       `json:"messageCount"`
	FirstAt      time.Time `json:"firstAt"`
	LastAt       time.Time `json:"lastAt"`
}

// Store is the message log. It owns the connection pool.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, opts Options) (*Store, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DSN
	if d.name == config.DriverSQLite {
		path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		db:      db,
		dialect: d,
		logger:  logger,
		now:     time.Now,
	}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("message store ready", "driver", opts.Driver)
	return s, nil
}

// EnsureSchema creates the messages table and index if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create messages table: %w", err)
		}
	}
	return nil
}

// Append inserts one message and returns it with its store-assigned id and timestamp.
func (s *Store) Append(ctx context.Context, sessionID string, role session.Role, content string) (session.Message, error) {
	return s.insert(ctx, s.db, sessionID, role, content)
}

func (s *Store) insert(ctx context.Context, q querier, sessionID string, role session.Role, content string) (session.Message, error) {
	created := s.now().UTC().Truncate(time.Microsecond)

	var id int64
	err := q.QueryRowContext(ctx,
		s.dialect.rebind("INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?) RETURNING id"),
		sessionID, string(role), content, created,
	).Scan(&id)
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	return session.Message{
		ID:        strconv.FormatInt(id, 10),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: created,
	}, nil
}

// List returns every message of a session in creation order.
func (s *Store) List(ctx context.Context, sessionID string) ([]session.Message, error) {
	return s.list(ctx, s.db, sessionID)
}

func (s *Store) list(ctx context.Context, q querier, sessionID string) ([]session.Message, error) {
	rows, err := q.QueryContext(ctx,
		s.dialect.rebind("SELECT id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC"),
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var (
			id      int64
			role    string
			created any
			msg     session.Message
		)
		if err := rows.Scan(&id, &role, &msg.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		ts, err := parseTime(created)
		if err != nil {
			return nil, err
		}
		msg.ID = strconv.FormatInt(id, 10)
		msg.SessionID = sessionID
		msg.Role = session.Role(role)
		msg.Timestamp = ts
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

// SeedIfEmpty returns the session's messages, first inserting a single
// assistant greeting if the session has none. Listing and seeding share one
// transaction so concurrent first reads seed once.
func (s *Store) SeedIfEmpty(ctx context.Context, sessionID, greeting string) ([]session.Message, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.dialect.lockSession != "" {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(s.dialect.lockSession), sessionID); err != nil {
			return nil, false, fmt.Errorf("failed to lock session: %w", err)
		}
	}

	messages, err := s.list(ctx, tx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if len(messages) > 0 {
		return messages, false, tx.Commit()
	}

	msg, err := s.insert(ctx, tx, sessionID, session.RoleAssistant, greeting)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("seeded session history", "session_id", sessionID)
	return []session.Message{msg}, true, nil
}

// DeleteSession removes every message of a session. Deleting an unknown
// session is not an error; the row count is zero.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind("DELETE FROM messages WHERE session_id = ?"), sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}
	return n, nil
}

// Sessions summarizes every session with stored messages, most recent first.
func (s *Store) Sessions(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM messages
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC, session_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			sum         Summary
			first, last any
		)
		if err := rows.Scan(&sum.SessionID, &sum.MessageCount, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if sum.FirstAt, err = parseTime(first); err != nil {
			return nil, err
		}
		if sum.LastAt, err = parseTime(last); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// sqlite returns declared TIMESTAMP columns as time.Time but aggregates as text.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
