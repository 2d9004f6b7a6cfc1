package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AndrewLee0430/medinotes/internal/db"
)

// FeedbackCategory classifies what a piece of feedback is about.
type FeedbackCategory string

const (
	CategoryAccuracy     FeedbackCategory = "accuracy"
	CategoryCompleteness FeedbackCategory = "completeness"
	CategoryCitation     FeedbackCategory = "citation"
	CategoryOther        FeedbackCategory = "other"
)

// Feedback is a clinician's rating of an answer. Rating is 1 to 5.
type Feedback struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Timestamp    time.Time        `json:"timestamp"`
	Query        string           `json:"query"`
	Response     string           `json:"response"`
	Rating       int              `json:"rating"`
	FeedbackText string           `json:"feedback_text,omitempty"`
	Category     FeedbackCategory `json:"category"`
	IsReviewed   bool             `json:"is_reviewed"`
	IsVectorized bool             `json:"is_vectorized"`
}

// FeedbackStore provides insert and query operations for feedback.
type FeedbackStore struct {
	db *db.DB
}

// NewFeedbackStore creates a FeedbackStore backed by the given database.
func NewFeedbackStore(database *db.DB) *FeedbackStore {
	return &FeedbackStore{db: database}
}

// Add inserts new feedback. If fb.ID is empty a UUID is generated.
func (s *FeedbackStore) Add(ctx context.Context, fb Feedback) (string, error) {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now().UTC()
	}
	if fb.Category == "" {
		fb.Category = CategoryOther
	}

	var text sql.NullString
	if fb.FeedbackText != "" {
		text = sql.NullString{String: fb.FeedbackText, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_feedback (id, user_id, timestamp, query, response, rating, feedback_text, category, is_reviewed, is_vectorized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.ID,
		fb.UserID,
		fb.Timestamp.UTC().Format(time.DateTime),
		fb.Query,
		fb.Response,
		fb.Rating,
		text,
		string(fb.Category),
		boolToInt(fb.IsReviewed),
		boolToInt(fb.IsVectorized),
	)
	if err != nil {
		return "", fmt.Errorf("inserting feedback: %w", err)
	}
	return fb.ID, nil
}

// Unreviewed returns feedback not yet looked at by a curator, oldest
// first so the review queue drains in order.
func (s *FeedbackStore) Unreviewed(ctx context.Context, limit int) ([]Feedback, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, timestamp, query, response, rating, feedback_text, category, is_reviewed, is_vectorized
		FROM user_feedback WHERE is_reviewed = 0 ORDER BY timestamp ASC LIMIT %d`, limit))
	if err != nil {
		return nil, fmt.Errorf("querying unreviewed feedback: %w", err)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

// HighValue returns reviewed, highly rated feedback that has not been
// folded back into the knowledge base yet.
func (s *FeedbackStore) HighValue(ctx context.Context, minRating, limit int) ([]Feedback, error) {
	if minRating <= 0 {
		minRating = 4
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, timestamp, query, response, rating, feedback_text, category, is_reviewed, is_vectorized
		FROM user_feedback
		WHERE is_reviewed = 1 AND is_vectorized = 0 AND rating >= ?
		ORDER BY timestamp ASC LIMIT %d`, limit), minRating)
	if err != nil {
		return nil, fmt.Errorf("querying high value feedback: %w", err)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

// MarkReviewed flags a feedback entry as reviewed.
func (s *FeedbackStore) MarkReviewed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE user_feedback SET is_reviewed = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking feedback reviewed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feedback %s not found", id)
	}
	return nil
}

// MarkVectorized flags a feedback entry as folded into the knowledge base.
func (s *FeedbackStore) MarkVectorized(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE user_feedback SET is_vectorized = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking feedback vectorized: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feedback %s not found", id)
	}
	return nil
}

func scanFeedback(rows *sql.Rows) ([]Feedback, error) {
	var items []Feedback
	for rows.Next() {
		var (
			fb                   Feedback
			ts, category         string
			text                 sql.NullString
			reviewed, vectorized int
		)
		if err := rows.Scan(&fb.ID, &fb.UserID, &ts, &fb.Query, &fb.Response,
			&fb.Rating, &text, &category, &reviewed, &vectorized); err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		fb.Timestamp = parseTimestamp(ts)
		if text.Valid {
			fb.FeedbackText = text.String
		}
		fb.Category = FeedbackCategory(category)
		fb.IsReviewed = reviewed != 0
		fb.IsVectorized = vectorized != 0
		items = append(items, fb)
	}
	return items, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
