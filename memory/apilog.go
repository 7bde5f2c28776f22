package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// APILogEntry is the immutable record of one upstream call. Rows are
// inserted once and never updated.
type APILogEntry struct {
	UserID           int64
	Endpoint         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ResponseTimeMS   int64
	StatusCode       int
	ErrorMessage     string
	CreatedAt        time.Time
}

// UsagePeriod aggregates one time window of a user's API usage.
type UsagePeriod struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CallCount        int `json:"call_count"`
}

// UsageStats reports a user's usage for today, this month, and all time.
type UsageStats struct {
	Today     UsagePeriod `json:"today"`
	ThisMonth UsagePeriod `json:"this_month"`
	Total     UsagePeriod `json:"total"`
}

// APILogStore records upstream API calls.
type APILogStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewAPILogStore(db *sql.DB) *APILogStore {
	return &APILogStore{db: db, now: time.Now}
}

// Insert appends one log entry.
func (s *APILogStore) Insert(ctx context.Context, entry APILogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_logs
			(user_id, endpoint, model, prompt_tokens, completion_tokens, total_tokens,
			 response_time_ms, status_code, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.Endpoint, entry.Model,
		entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens,
		entry.ResponseTimeMS, entry.StatusCode, entry.ErrorMessage, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api log: %w", err)
	}
	return nil
}

// UsageStats aggregates the user's token usage and call counts.
func (s *APILogStore) UsageStats(ctx context.Context, userID int64) (UsageStats, error) {
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var stats UsageStats
	var err error
	if stats.Today, err = s.usageSince(ctx, userID, dayStart); err != nil {
		return UsageStats{}, err
	}
	if stats.ThisMonth, err = s.usageSince(ctx, userID, monthStart); err != nil {
		return UsageStats{}, err
	}
	if stats.Total, err = s.usageSince(ctx, userID, time.Time{}); err != nil {
		return UsageStats{}, err
	}
	return stats, nil
}

func (s *APILogStore) usageSince(ctx context.Context, userID int64, since time.Time) (UsagePeriod, error) {
	var period UsagePeriod
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(total_tokens), 0), COUNT(*)
		 FROM api_logs WHERE user_id = ? AND created_at >= ?`,
		userID, since).Scan(
		&period.PromptTokens, &period.CompletionTokens, &period.TotalTokens, &period.CallCount)
	if err != nil {
		return UsagePeriod{}, fmt.Errorf("aggregate usage: %w", err)
	}
	return period, nil
}
