package memory

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func newTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	return NewConversationStore(openTestDB(t), "test-model", nil)
}

func TestGetOrCreateReturnsExistingActiveConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, 1, "hello")
	require.NoError(t, err)

	second, err := store.GetOrCreate(ctx, 1, "something else")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := store.GetOrCreate(ctx, 2, "hello")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetOrCreateSkipsDeactivatedConversations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, 1, "hello")
	require.NoError(t, err)
	require.NoError(t, store.SoftDelete(ctx, first.ID, 1))

	second, err := store.GetOrCreate(ctx, 1, "hello again")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAppendMessageRejectsEmptyContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conversation, err := store.Create(ctx, 1, "t")
	require.NoError(t, err)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := store.AppendMessage(ctx, AppendMessageParams{
			ConversationID: conversation.ID,
			Role:           "assistant",
			Content:        content,
		})
		assert.ErrorIs(t, err, ErrEmptyContent)
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AppendMessage(context.Background(), AppendMessageParams{
		ConversationID: "missing",
		Role:           "user",
		Content:        "hi",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFirstUserMessageSetsTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "short content kept as is",
			content: "plan a trip",
			want:    "plan a trip",
		},
		{
			name:    "long content truncated at rune boundary",
			content: strings.Repeat("计", 60),
			want:    strings.Repeat("计", 50) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			ctx := context.Background()

			conversation, err := store.Create(ctx, 1, "")
			require.NoError(t, err)

			_, err = store.AppendMessage(ctx, AppendMessageParams{
				ConversationID: conversation.ID,
				Role:           "user",
				Content:        tt.content,
			})
			require.NoError(t, err)

			updated, err := store.Get(ctx, conversation.ID, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, updated.Title)
		})
	}
}

func TestSecondMessageDoesNotChangeTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conversation, err := store.Create(ctx, 1, "")
	require.NoError(t, err)

	for _, m := range []struct{ role, content string }{
		{"user", "first"},
		{"assistant", "reply"},
		{"user", "second"},
	} {
		_, err := store.AppendMessage(ctx, AppendMessageParams{
			ConversationID: conversation.ID,
			Role:           m.role,
			Content:        m.content,
		})
		require.NoError(t, err)
	}

	updated, err := store.Get(ctx, conversation.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", updated.Title)
}

func TestMessagesReturnsAppendOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conversation, err := store.Create(ctx, 1, "t")
	require.NoError(t, err)

	contents := []string{"one", "two", "three"}
	for _, c := range contents {
		_, err := store.AppendMessage(ctx, AppendMessageParams{
			ConversationID: conversation.ID,
			Role:           "user",
			Content:        c,
		})
		require.NoError(t, err)
	}

	messages, err := store.Messages(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, c := range contents {
		assert.Equal(t, c, messages[i].Content)
	}
}

func TestListPaginatesWithPreview(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		conversation, err := store.Create(ctx, 1, "t")
		require.NoError(t, err)
		_, err = store.AppendMessage(ctx, AppendMessageParams{
			ConversationID: conversation.ID,
			Role:           "user",
			Content:        "latest message here",
		})
		require.NoError(t, err)
	}

	page, err := store.List(ctx, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Conversations, 2)
	assert.Equal(t, "latest message here", page.Conversations[0].LatestMessage)

	page2, err := store.List(ctx, 1, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2.Conversations, 1)
}

func TestSoftDeleteUnknownConversation(t *testing.T) {
	store := newTestStore(t)
	err := store.SoftDelete(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearRemovesMessagesKeepsConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conversation, err := store.Create(ctx, 1, "t")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, AppendMessageParams{
		ConversationID: conversation.ID,
		Role:           "user",
		Content:        "hi",
	})
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, conversation.ID, 1))

	messages, err := store.Messages(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = store.Get(ctx, conversation.ID, 1)
	assert.NoError(t, err)
}

func TestUpdateConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conversation, err := store.Create(ctx, 1, "old title")
	require.NoError(t, err)

	title := "new title"
	inactive := false
	updated, err := store.Update(ctx, conversation.ID, 1, UpdateConversationParams{
		Title:    &title,
		IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "new title", updated.Title)
	assert.False(t, updated.IsActive)
}

func TestUsageStatsAggregation(t *testing.T) {
	db := openTestDB(t)
	logs := NewAPILogStore(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, logs.Insert(ctx, APILogEntry{
			UserID:           1,
			Endpoint:         "/api/chat/completions/stream",
			Model:            "test-model",
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
			StatusCode:       200,
		}))
	}
	require.NoError(t, logs.Insert(ctx, APILogEntry{UserID: 2, TotalTokens: 99, StatusCode: 200}))

	stats, err := logs.UsageStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total.CallCount)
	assert.Equal(t, 30, stats.Total.PromptTokens)
	assert.Equal(t, 60, stats.Total.CompletionTokens)
	assert.Equal(t, 90, stats.Total.TotalTokens)
	assert.Equal(t, 3, stats.Today.CallCount)
}
