// Package sqlite provides a SQLite-backed event repository and feedback history.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously

	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/ports"
)

// Adapter implements the event repository and feedback history ports for SQLite
type Adapter struct {
	db *sql.DB
}

var (
	_ ports.EventRepository = (*Adapter)(nil)
	_ ports.FeedbackHistory = (*Adapter)(nil)
)

// NewAdapter creates a connection and runs the schema migration
func NewAdapter(storagePath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	adapter := &Adapter{db: db}
	if err := adapter.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return adapter, nil
}

// Close ensures the DB connection is closed gracefully
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Ping verifies the database is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// CreateEvent stores e, assigning an ID when it has none.
func (a *Adapter) CreateEvent(ctx context.Context, e domain.MealEvent) (domain.MealEvent, error) {
	if e.UID == "" {
		return domain.MealEvent{}, fmt.Errorf("sqlite: event without uid: %w", domain.ErrInvalidArgument)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.Truncate(time.Millisecond).UTC()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO meal_events (id, uid, occurred_at, event_type, duration_seconds, reflection_text, sentiment, cue_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.UID,
		e.Timestamp.UnixMilli(),
		string(e.Type),
		nullDuration(e.Duration),
		nullString(e.ReflectionText),
		nullString(string(e.Sentiment)),
		e.CueSent,
	)
	if err != nil {
		return domain.MealEvent{}, fmt.Errorf("failed to insert meal event: %w", err)
	}
	return e, nil
}

// ListEvents returns the user's events in [from, to], newest first. A zero
// bound leaves that side open.
func (a *Adapter) ListEvents(ctx context.Context, uid string, from, to time.Time) ([]domain.MealEvent, error) {
	query := `
		SELECT id, uid, occurred_at, event_type, duration_seconds, reflection_text, sentiment, cue_sent
		FROM meal_events
		WHERE uid = ?`
	args := []any{uid}
	if !from.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, from.UnixMilli())
	}
	if !to.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, to.UnixMilli())
	}
	query += " ORDER BY occurred_at DESC, rowid DESC"

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list meal events: %w", err)
	}
	defer rows.Close()

	events := []domain.MealEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meal events: %w", err)
	}
	return events, nil
}

// OpenMeal returns the user's latest meal_start when no meal_end follows it.
func (a *Adapter) OpenMeal(ctx context.Context, uid string) (domain.MealEvent, bool, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, uid, occurred_at, event_type, duration_seconds, reflection_text, sentiment, cue_sent
		FROM meal_events
		WHERE uid = ? AND event_type IN (?, ?)
		ORDER BY occurred_at DESC, rowid DESC
		LIMIT 1
	`, uid, string(domain.EventMealStart), string(domain.EventMealEnd))

	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MealEvent{}, false, nil
		}
		return domain.MealEvent{}, false, err
	}
	if e.Type != domain.EventMealStart {
		return domain.MealEvent{}, false, nil
	}
	return e, true, nil
}

func (a *Adapter) MarkFeedbackSent(ctx context.Context, eventID string) error {
	res, err := a.db.ExecContext(ctx, "UPDATE meal_events SET cue_sent = 1 WHERE id = ?", eventID)
	if err != nil {
		return fmt.Errorf("failed to mark cue sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark cue sent: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (a *Adapter) LastFeedbackTime(ctx context.Context, uid string) (time.Time, bool, error) {
	var last sql.NullInt64
	if err := a.db.QueryRowContext(ctx, "SELECT MAX(sent_at) FROM feedback_log WHERE uid = ?", uid).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load last feedback time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(last.Int64).UTC(), true, nil
}

func (a *Adapter) RecordFeedback(ctx context.Context, uid string, at time.Time) error {
	if _, err := a.db.ExecContext(ctx, "INSERT INTO feedback_log (uid, sent_at) VALUES (?, ?)", uid, at.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (domain.MealEvent, error) {
	var (
		e          domain.MealEvent
		occurredAt int64
		eventType  string
		duration   sql.NullFloat64
		text       sql.NullString
		sentiment  sql.NullString
	)
	if err := s.Scan(&e.ID, &e.UID, &occurredAt, &eventType, &duration, &text, &sentiment, &e.CueSent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MealEvent{}, err
		}
		return domain.MealEvent{}, fmt.Errorf("failed to scan meal event: %w", err)
	}
	e.Timestamp = time.UnixMilli(occurredAt).UTC()
	e.Type = domain.EventType(eventType)
	if duration.Valid {
		e.Duration = time.Duration(duration.Float64 * float64(time.Second))
	}
	if text.Valid {
		e.ReflectionText = text.String
	}
	if sentiment.Valid {
		e.Sentiment = domain.Sentiment(sentiment.String)
	}
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDuration(d time.Duration) sql.NullFloat64 {
	return sql.NullFloat64{Float64: d.Seconds(), Valid: d > 0}
}

func (a *Adapter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS meal_events (
		id TEXT PRIMARY KEY,
		uid TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		duration_seconds REAL,
		reflection_text TEXT,
		sentiment TEXT,
		cue_sent BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_meal_events_uid_time ON meal_events (uid, occurred_at);

	CREATE TABLE IF NOT EXISTS feedback_log (
		uid TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_log_uid ON feedback_log (uid, sent_at);
	`
	if _, err := a.db.Exec(query); err != nil {
		return err
	}

	// Databases created before sentiment and cue tracking lack these columns.
	for _, col := range []struct{ name, ddl string }{
		{"sentiment", "ALTER TABLE meal_events ADD COLUMN sentiment TEXT"},
		{"cue_sent", "ALTER TABLE meal_events ADD COLUMN cue_sent BOOLEAN NOT NULL DEFAULT 0"},
	} {
		exists, err := a.columnExists("meal_events", col.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := a.db.Exec(col.ddl); err != nil {
			return err
		}
	}

	return nil
}

func (a *Adapter) columnExists(table, column string) (bool, error) {
	rows, err := a.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
