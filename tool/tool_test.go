package tool

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripmind/tripmind/memory"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := memory.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, memory.Migrate(context.Background(), db))
	return db
}

func testRegistry(t *testing.T) (*Registry, *memory.TripStore) {
	t.Helper()
	trips := memory.NewTripStore(openTestDB(t))
	return NewRegistry(nil, NewCreateTrip(trips)), trips
}

func TestRegistryUnknownTool(t *testing.T) {
	registry, _ := testRegistry(t)

	result := registry.Execute(context.Background(), "call_1", "book_flight", `{}`, 1)
	assert.False(t, result.Success)
	assert.Equal(t, "book_flight", result.ToolName)
	assert.Equal(t, "unknown tool: book_flight", result.Error)
}

func TestRegistryMalformedArguments(t *testing.T) {
	registry, trips := testRegistry(t)

	result := registry.Execute(context.Background(), "call_1", "create_trip", `{not json`, 1)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "argument parse failure")

	count, err := trips.CountTrips(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRegistryDefinitions(t *testing.T) {
	registry, _ := testRegistry(t)

	definitions := registry.Definitions()
	require.Len(t, definitions, 1)
	assert.Equal(t, "function", definitions[0].Type)
	assert.Equal(t, "create_trip", definitions[0].Function.Name)
	assert.NotEmpty(t, definitions[0].Function.Description)

	parameters := definitions[0].Function.Parameters
	assert.Equal(t, "object", parameters["type"])
	assert.Contains(t, parameters, "properties")
	assert.ElementsMatch(t,
		[]string{"title", "destination", "start_date", "end_date", "total_budget"},
		parameters["required"])
}

func TestCreateTripValidation(t *testing.T) {
	tests := []struct {
		name      string
		arguments string
		wantErr   string
	}{
		{
			name:      "start after end",
			arguments: `{"title":"t","destination":"d","start_date":"2025-06-10","end_date":"2025-06-01","total_budget":100}`,
			wantErr:   "start_date must not be after end_date",
		},
		{
			name:      "bad date format",
			arguments: `{"title":"t","destination":"d","start_date":"06/01/2025","end_date":"2025-06-10","total_budget":100}`,
			wantErr:   "invalid date format",
		},
		{
			name:      "missing title",
			arguments: `{"destination":"d","start_date":"2025-06-01","end_date":"2025-06-10","total_budget":100}`,
			wantErr:   "title is required",
		},
		{
			name:      "negative budget",
			arguments: `{"title":"t","destination":"d","start_date":"2025-06-01","end_date":"2025-06-10","total_budget":-5}`,
			wantErr:   "total_budget must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, trips := testRegistry(t)

			result := registry.Execute(context.Background(), "call_1", "create_trip", tt.arguments, 7)
			assert.False(t, result.Success)
			assert.Contains(t, result.Error, tt.wantErr)

			count, err := trips.CountTrips(context.Background(), 7)
			require.NoError(t, err)
			assert.Zero(t, count, "no trip row may exist after a validation failure")
		})
	}
}

func TestCreateTripSuccess(t *testing.T) {
	registry, trips := testRegistry(t)

	result := registry.Execute(context.Background(), "call_1", "create_trip",
		`{"title":"北京5日游","destination":"北京","start_date":"2025-07-01","end_date":"2025-07-05","total_budget":5000}`, 7)

	require.True(t, result.Success, "unexpected error: %s", result.Error)
	assert.Equal(t, "create_trip", result.ToolName)
	assert.Equal(t, "北京5日游", result.Data["title"])
	assert.Equal(t, "北京", result.Data["destination"])
	assert.Equal(t, "2025-07-01", result.Data["start_date"])
	assert.Equal(t, "2025-07-05", result.Data["end_date"])
	assert.Equal(t, float64(5000), result.Data["total_budget"])
	assert.NotEmpty(t, result.Data["trip_id"])
	assert.NotEmpty(t, result.Data["created_at"])

	count, err := trips.CountTrips(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateTripStartsWithZeroExpense(t *testing.T) {
	db := openTestDB(t)
	trips := memory.NewTripStore(db)

	trip, err := trips.CreateTrip(context.Background(), memory.Trip{
		UserID:      7,
		Title:       "t",
		Destination: "d",
	})
	require.NoError(t, err)

	stored, err := trips.GetTrip(context.Background(), trip.ID, 7)
	require.NoError(t, err)
	assert.True(t, stored.ActualExpense.IsZero())
}
