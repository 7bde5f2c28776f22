package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripmind/tripmind/auth"
	"github.com/tripmind/tripmind/chat"
	"github.com/tripmind/tripmind/memory"
	"github.com/tripmind/tripmind/model"
	"github.com/tripmind/tripmind/ratelimit"
	"github.com/tripmind/tripmind/tool"
)

// scriptedStream replays fixed chunks for one upstream pass.
type scriptedStream struct {
	chunks []model.StreamChunk
	pos    int
}

func (s *scriptedStream) Next() bool {
	if s.pos >= len(s.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *scriptedStream) Current() model.StreamChunk { return s.chunks[s.pos-1] }
func (s *scriptedStream) Err() error                 { return nil }
func (s *scriptedStream) Close() error               { return nil }

type scriptedStreamer struct {
	passes []*scriptedStream
	calls  int
}

func (s *scriptedStreamer) StreamCompletion(ctx context.Context, messages []model.ChatMessage, tools []model.ToolDefinition) (chat.ChunkStream, error) {
	call := s.calls
	s.calls++
	if call >= len(s.passes) {
		return &scriptedStream{}, nil
	}
	return s.passes[call], nil
}

type testEnv struct {
	server  *httptest.Server
	token   string
	limiter *ratelimit.Limiter
}

func newTestEnv(t *testing.T, streamer chat.Streamer, rateLimit int) *testEnv {
	t.Helper()

	db, err := memory.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, memory.Migrate(context.Background(), db))

	conversations := memory.NewConversationStore(db, "test-model", nil)
	trips := memory.NewTripStore(db)
	apiLogs := memory.NewAPILogStore(db)
	tools := tool.NewRegistry(nil, tool.NewCreateTrip(trips))

	orchestrator, err := chat.NewOrchestrator(chat.OrchestratorOptions{
		Streamer:      streamer,
		Conversations: conversations,
		APILogs:       apiLogs,
		Tools:         tools,
		ModelName:     "test-model",
	})
	require.NoError(t, err)

	authService, err := auth.NewService("test-secret", time.Hour)
	require.NoError(t, err)

	limiter, err := ratelimit.NewLimiter(rateLimit, time.Minute)
	require.NoError(t, err)
	t.Cleanup(limiter.Close)

	server, err := NewServer(ServerOptions{
		Addr:          ":0",
		Orchestrator:  orchestrator,
		Conversations: conversations,
		APILogs:       apiLogs,
		Auth:          authService,
		RateLimiter:   limiter,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	token, err := authService.IssueToken(auth.User{ID: 7, Username: "li"})
	require.NoError(t, err)

	return &testEnv{server: ts, token: token, limiter: limiter}
}

func (e *testEnv) request(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func contentChunk(content string) model.StreamChunk {
	return model.StreamChunk{
		ID:     "c1",
		Object: "chat.completion.chunk",
		Model:  "test-model",
		Choices: []model.StreamChoice{
			{Index: 0, Delta: model.Delta{Content: content}},
		},
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	env := newTestEnv(t, &scriptedStreamer{}, 10)

	resp, err := http.Get(env.server.URL + "/api/chat/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/chat/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer bogus")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestStreamChatEndToEnd(t *testing.T) {
	streamer := &scriptedStreamer{passes: []*scriptedStream{
		{chunks: []model.StreamChunk{contentChunk("Hello world")}},
	}}
	env := newTestEnv(t, streamer, 10)

	resp := env.request(t, http.MethodPost, "/api/chat/completions/stream",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "data: {\"id\":\"c1\"")
	assert.Contains(t, text, "Hello world")
	assert.Contains(t, text, "data: {}\n\n")
	assert.True(t, strings.HasSuffix(text, "data: [DONE]\n\n"), "stream must end with the done marker, got: %q", text)

	// The turn is persisted and visible through the conversation API.
	listResp := env.request(t, http.MethodGet, "/api/chat/conversations", "")
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var page memory.ConversationPage
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&page))
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, "hi", page.Conversations[0].Title)

	getResp := env.request(t, http.MethodGet, "/api/chat/conversations/"+page.Conversations[0].ID, "")
	defer getResp.Body.Close()
	var detail struct {
		Messages []memory.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&detail))
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "user", detail.Messages[0].Role)
	assert.Equal(t, "assistant", detail.Messages[1].Role)
	assert.Equal(t, "Hello world", detail.Messages[1].Content)
}

func TestStreamChatRateLimited(t *testing.T) {
	streamer := &scriptedStreamer{passes: []*scriptedStream{
		{chunks: []model.StreamChunk{contentChunk("first")}},
	}}
	env := newTestEnv(t, streamer, 1)

	first := env.request(t, http.MethodPost, "/api/chat/completions/stream",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	io.Copy(io.Discard, first.Body)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := env.request(t, http.MethodPost, "/api/chat/completions/stream",
		`{"messages":[{"role":"user","content":"hi again"}]}`)
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestStreamChatRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, &scriptedStreamer{}, 10)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{not json`},
		{name: "empty messages", body: `{"messages":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(t, http.MethodPost, "/api/chat/completions/stream", tt.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t, &scriptedStreamer{}, 10)

	createResp := env.request(t, http.MethodPost, "/api/chat/conversations", `{"title":"planning"}`)
	defer createResp.Body.Close()
	require.Equal(t, http.StatusCreated, createResp.StatusCode)

	var conversation memory.Conversation
	require.NoError(t, json.NewDecoder(createResp.Body).Decode(&conversation))
	assert.Equal(t, "planning", conversation.Title)

	updateResp := env.request(t, http.MethodPut,
		"/api/chat/conversations/"+conversation.ID, `{"title":"renamed"}`)
	defer updateResp.Body.Close()
	require.Equal(t, http.StatusOK, updateResp.StatusCode)

	var updated memory.Conversation
	require.NoError(t, json.NewDecoder(updateResp.Body).Decode(&updated))
	assert.Equal(t, "renamed", updated.Title)

	clearResp := env.request(t, http.MethodPost,
		"/api/chat/conversations/"+conversation.ID+"/clear", "")
	clearResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, clearResp.StatusCode)

	deleteResp := env.request(t, http.MethodDelete,
		"/api/chat/conversations/"+conversation.ID, "")
	deleteResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, deleteResp.StatusCode)

	listResp := env.request(t, http.MethodGet, "/api/chat/conversations", "")
	defer listResp.Body.Close()
	var page memory.ConversationPage
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&page))
	assert.Empty(t, page.Conversations)
}

func TestConversationNotFound(t *testing.T) {
	env := newTestEnv(t, &scriptedStreamer{}, 10)

	resp := env.request(t, http.MethodGet, "/api/chat/conversations/missing-id", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUsageEndpoint(t *testing.T) {
	streamer := &scriptedStreamer{passes: []*scriptedStream{
		{chunks: []model.StreamChunk{contentChunk("hi there")}},
	}}
	env := newTestEnv(t, streamer, 10)

	streamResp := env.request(t, http.MethodPost, "/api/chat/completions/stream",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	io.Copy(io.Discard, streamResp.Body)
	streamResp.Body.Close()

	resp := env.request(t, http.MethodGet, "/api/chat/usage", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats memory.UsageStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Total.CallCount)
}
