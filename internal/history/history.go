// Package history persists per-clinician chat history and feedback.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AndrewLee0430/medinotes/internal/db"
)

// SessionType distinguishes the workflow a record came from.
type SessionType string

const (
	SessionResearch     SessionType = "research"
	SessionVerify       SessionType = "verify"
	SessionConsultation SessionType = "consultation"
)

// Record is a single question/answer pair from a session.
type Record struct {
	ID          int64       `json:"id"`
	UserID      string      `json:"user_id"`
	SessionType SessionType `json:"session_type"`
	Question    string      `json:"question"`
	Answer      string      `json:"answer"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Store provides CRUD operations for chat history.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Add inserts a new history record and returns its row ID.
func (s *Store) Add(ctx context.Context, rec Record) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (user_id, session_type, question, answer, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.UserID,
		string(rec.SessionType),
		rec.Question,
		rec.Answer,
		rec.CreatedAt.UTC().Format(time.DateTime),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting history record: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the latest records for a user, newest first. A
// non-empty sessionType narrows the result to that workflow.
func (s *Store) Recent(ctx context.Context, userID string, sessionType SessionType, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, user_id, session_type, question, answer, created_at
		FROM chat_history WHERE user_id = ?`
	args := []any{userID}
	if sessionType != "" {
		query += " AND session_type = ?"
		args = append(args, string(sessionType))
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r  Record
			st string
			ts string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &st, &r.Question, &r.Answer, &ts); err != nil {
			return nil, fmt.Errorf("scanning history record: %w", err)
		}
		r.SessionType = SessionType(st)
		r.CreatedAt = parseTimestamp(ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

// parseTimestamp accepts both storage formats: the driver may hand
// back DATETIME columns re-serialized as RFC3339.
func parseTimestamp(ts string) time.Time {
	if t, err := time.Parse(time.DateTime, ts); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05Z", ts); err == nil {
		return t
	}
	return time.Time{}
}

// CountForUser returns the number of stored records for a user.
func (s *Store) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_history WHERE user_id = ?", userID).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return n, nil
}
