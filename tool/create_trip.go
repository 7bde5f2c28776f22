package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tripmind/tripmind/memory"
)

const dateLayout = "2006-01-02"

// TripStore persists trips created on the user's behalf.
type TripStore interface {
	CreateTrip(ctx context.Context, trip memory.Trip) (memory.Trip, error)
}

// CreateTripInput is the argument schema for the create_trip tool.
type CreateTripInput struct {
	Title       string  `json:"title" jsonschema_description:"Trip title"`
	Destination string  `json:"destination" jsonschema_description:"Destination city or region"`
	StartDate   string  `json:"start_date" jsonschema_description:"Trip start date in YYYY-MM-DD format"`
	EndDate     string  `json:"end_date" jsonschema_description:"Trip end date in YYYY-MM-DD format"`
	TotalBudget float64 `json:"total_budget" jsonschema_description:"Total budget for the trip"`
	Description string  `json:"description,omitempty" jsonschema_description:"Optional trip notes"`
}

// NewCreateTrip builds the create_trip tool backed by the given store.
// All validation failures surface as tool errors so the model can relay
// them to the user instead of aborting the stream.
func NewCreateTrip(store TripStore) Tool {
	return New("create_trip", "Create a new trip plan for the user with destination, dates and budget",
		func(ctx context.Context, input CreateTripInput, userID int64) (map[string]any, error) {
			if input.Title == "" {
				return nil, errors.New("title is required")
			}
			if input.Destination == "" {
				return nil, errors.New("destination is required")
			}

			start, err := time.Parse(dateLayout, input.StartDate)
			if err != nil {
				return nil, fmt.Errorf("invalid date format, expected YYYY-MM-DD: %q", input.StartDate)
			}
			end, err := time.Parse(dateLayout, input.EndDate)
			if err != nil {
				return nil, fmt.Errorf("invalid date format, expected YYYY-MM-DD: %q", input.EndDate)
			}
			if start.After(end) {
				return nil, errors.New("start_date must not be after end_date")
			}
			if input.TotalBudget < 0 {
				return nil, errors.New("total_budget must not be negative")
			}

			trip, err := store.CreateTrip(ctx, memory.Trip{
				UserID:      userID,
				Title:       input.Title,
				Destination: input.Destination,
				Description: input.Description,
				StartDate:   start,
				EndDate:     end,
				TotalBudget: decimal.NewFromFloat(input.TotalBudget),
			})
			if err != nil {
				return nil, fmt.Errorf("trip creation failed: %w", err)
			}

			return map[string]any{
				"trip_id":      trip.ID.String(),
				"title":        trip.Title,
				"destination":  trip.Destination,
				"start_date":   trip.StartDate.Format(dateLayout),
				"end_date":     trip.EndDate.Format(dateLayout),
				"total_budget": trip.TotalBudget.InexactFloat64(),
				"created_at":   trip.CreatedAt.Format(time.RFC3339),
			}, nil
		})
}
