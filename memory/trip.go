package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trip is one travel itinerary owned by a user. Money amounts are exact
// decimals, stored as text.
type Trip struct {
	ID            uuid.UUID       `json:"id"`
	UserID        int64           `json:"user_id"`
	Title         string          `json:"title"`
	Destination   string          `json:"destination"`
	Description   string          `json:"description,omitempty"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	TotalBudget   decimal.Decimal `json:"total_budget"`
	ActualExpense decimal.Decimal `json:"actual_expense"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TripStore persists trips created by the assistant's tool calls.
type TripStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewTripStore(db *sql.DB) *TripStore {
	return &TripStore{db: db, now: time.Now}
}

// CreateTrip inserts a new trip and returns it with ID and timestamps
// assigned. A fresh trip always starts with a zero actual expense.
func (s *TripStore) CreateTrip(ctx context.Context, trip Trip) (Trip, error) {
	trip.ID = uuid.New()
	trip.ActualExpense = decimal.Zero
	now := s.now().UTC()
	trip.CreatedAt = now
	trip.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trips
			(id, user_id, title, destination, description, start_date, end_date, total_budget, actual_expense, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trip.ID.String(), trip.UserID, trip.Title, trip.Destination, trip.Description,
		trip.StartDate, trip.EndDate,
		trip.TotalBudget.String(), trip.ActualExpense.String(),
		trip.CreatedAt, trip.UpdatedAt)
	if err != nil {
		return Trip{}, fmt.Errorf("insert trip: %w", err)
	}
	return trip, nil
}

// GetTrip returns one trip owned by userID.
func (s *TripStore) GetTrip(ctx context.Context, id uuid.UUID, userID int64) (Trip, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, destination, description, start_date, end_date,
			total_budget, actual_expense, created_at, updated_at
		 FROM trips WHERE id = ? AND user_id = ?`, id.String(), userID)

	var (
		trip          Trip
		rawID         string
		budget, spent string
	)
	err := row.Scan(&rawID, &trip.UserID, &trip.Title, &trip.Destination, &trip.Description,
		&trip.StartDate, &trip.EndDate, &budget, &spent, &trip.CreatedAt, &trip.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Trip{}, ErrNotFound
	}
	if err != nil {
		return Trip{}, fmt.Errorf("query trip: %w", err)
	}

	trip.ID, err = uuid.Parse(rawID)
	if err != nil {
		return Trip{}, fmt.Errorf("parse trip id: %w", err)
	}
	trip.TotalBudget, err = decimal.NewFromString(budget)
	if err != nil {
		return Trip{}, fmt.Errorf("parse trip budget: %w", err)
	}
	trip.ActualExpense, err = decimal.NewFromString(spent)
	if err != nil {
		return Trip{}, fmt.Errorf("parse trip expense: %w", err)
	}
	return trip, nil
}

// CountTrips reports how many trips the user owns.
func (s *TripStore) CountTrips(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trips WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trips: %w", err)
	}
	return count, nil
}
