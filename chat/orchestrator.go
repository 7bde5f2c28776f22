package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tripmind/tripmind/memory"
	"github.com/tripmind/tripmind/metrics"
	"github.com/tripmind/tripmind/model"
	"github.com/tripmind/tripmind/tool"
)

// doneMarker terminates a successful stream. It is sent as a raw SSE
// payload, not JSON.
const doneMarker = "[DONE]"

var keepAlive = []byte("{}")

// errClientGone signals that the SSE sink rejected a write, meaning the
// client disconnected. The turn stops quietly; nothing more is sent.
var errClientGone = errors.New("client disconnected")

// ChunkStream iterates decoded upstream chunks for one pass.
type ChunkStream interface {
	Next() bool
	Current() model.StreamChunk
	Err() error
	Close() error
}

// Streamer opens one upstream completion pass.
type Streamer interface {
	StreamCompletion(ctx context.Context, messages []model.ChatMessage, tools []model.ToolDefinition) (ChunkStream, error)
}

type clientStreamer struct {
	client *model.Client
}

func (s clientStreamer) StreamCompletion(ctx context.Context, messages []model.ChatMessage, tools []model.ToolDefinition) (ChunkStream, error) {
	return s.client.StreamCompletion(ctx, messages, tools)
}

// NewClientStreamer adapts the upstream client to the Streamer interface.
func NewClientStreamer(client *model.Client) Streamer {
	return clientStreamer{client: client}
}

// ConversationStore is the persistence surface one turn needs.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, userID int64, title string) (memory.Conversation, error)
	AppendMessage(ctx context.Context, params memory.AppendMessageParams) (memory.Message, error)
}

// APILogger records one entry per upstream turn.
type APILogger interface {
	Insert(ctx context.Context, entry memory.APILogEntry) error
}

// ToolRunner executes assembled tool calls and advertises their schemas.
type ToolRunner interface {
	Definitions() []model.ToolDefinition
	Execute(ctx context.Context, callID, name, arguments string, userID int64) tool.CallResult
}

// PromptProvider supplies the system prompt prepended to every turn.
// An empty string means no system prompt is configured.
type PromptProvider interface {
	System() string
}

// EventSink delivers one SSE payload to the client. Implementations
// frame the payload as `data: <payload>\n\n` and flush immediately.
type EventSink interface {
	Send(payload []byte) error
}

// Orchestrator drives one streaming chat turn through its two model
// passes, executing tools in between and persisting the conversation.
// It is stateless across turns and safe for concurrent use.
type Orchestrator struct {
	streamer      Streamer
	conversations ConversationStore
	apiLogs       APILogger
	tools         ToolRunner
	prompts       PromptProvider
	transcript    *Transcript
	metrics       *metrics.Provider
	modelName     string
	logger        *slog.Logger
}

// OrchestratorOptions wires an Orchestrator. Streamer, Conversations
// and Tools are required; the rest degrade to no-ops when absent.
type OrchestratorOptions struct {
	Streamer      Streamer
	Conversations ConversationStore
	APILogs       APILogger
	Tools         ToolRunner
	Prompts       PromptProvider
	Transcript    *Transcript
	Metrics       *metrics.Provider
	ModelName     string
	Logger        *slog.Logger
}

func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Streamer == nil {
		return nil, errors.New("streamer is required")
	}
	if opts.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("tool runner is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		streamer:      opts.Streamer,
		conversations: opts.Conversations,
		apiLogs:       opts.APILogs,
		tools:         opts.Tools,
		prompts:       opts.Prompts,
		transcript:    opts.Transcript,
		metrics:       opts.Metrics,
		modelName:     opts.ModelName,
		logger:        logger,
	}, nil
}

// Turn is one prepared streaming request: the resolved conversation and
// the outbound message list for pass 1.
type Turn struct {
	Conversation memory.Conversation
	UserID       int64
	Endpoint     string
	messages     []model.ChatMessage
}

// Prepare resolves the conversation and persists the incoming user
// message before the SSE response is committed, so setup failures can
// still surface as plain HTTP errors. The outbound list is the system
// prompt, when configured, followed by the client-supplied history.
func (o *Orchestrator) Prepare(ctx context.Context, userID int64, endpoint string, history []model.ChatMessage) (Turn, error) {
	userContent := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			userContent = history[i].Content
			break
		}
	}
	if userContent == "" {
		return Turn{}, errors.New("request contains no user message")
	}

	conversation, err := o.conversations.GetOrCreate(ctx, userID, userContent)
	if err != nil {
		return Turn{}, fmt.Errorf("resolve conversation: %w", err)
	}

	_, err = o.conversations.AppendMessage(ctx, memory.AppendMessageParams{
		ConversationID: conversation.ID,
		Role:           string(model.RoleUser),
		Content:        userContent,
	})
	if err != nil {
		return Turn{}, fmt.Errorf("persist user message: %w", err)
	}
	o.transcript.Record(conversation.ID, string(model.RoleUser), userContent)

	var messages []model.ChatMessage
	if o.prompts != nil {
		if system := o.prompts.System(); system != "" {
			messages = append(messages, model.ChatMessage{
				Role:    model.RoleSystem,
				Content: system,
			})
		}
	}
	messages = append(messages, history...)

	return Turn{
		Conversation: conversation,
		UserID:       userID,
		Endpoint:     endpoint,
		messages:     messages,
	}, nil
}

// Run executes the prepared turn against the committed SSE response.
// The HTTP status is already sent by now, so every failure is reported
// in-band as an error frame; Run itself never returns an error to the
// handler. Client disconnects and context cancellation stop the turn
// silently.
func (o *Orchestrator) Run(ctx context.Context, sink EventSink, turn Turn) {
	started := time.Now()
	o.metrics.StreamStarted()

	finalContent, err := o.stream(ctx, sink, turn)
	if err != nil {
		if errors.Is(err, errClientGone) || ctx.Err() != nil {
			o.logger.Info("stream abandoned by client",
				"conversation_id", turn.Conversation.ID,
				"user_id", turn.UserID,
			)
			return
		}
		o.fail(ctx, sink, turn, started, err)
		return
	}

	if finalContent != "" {
		_, err = o.conversations.AppendMessage(ctx, memory.AppendMessageParams{
			ConversationID: turn.Conversation.ID,
			Role:           string(model.RoleAssistant),
			Content:        finalContent,
			Name:           "assistant",
		})
		if err != nil {
			// Losing the final answer invalidates the whole turn.
			o.fail(ctx, sink, turn, started, fmt.Errorf("persist final message: %w", err))
			return
		}
		o.transcript.Record(turn.Conversation.ID, string(model.RoleAssistant), finalContent)
	}

	elapsed := time.Since(started)
	o.logTurn(ctx, turn, elapsed, 200, "")
	o.metrics.StreamCompleted(elapsed)

	if err := sink.Send([]byte(doneMarker)); err != nil {
		o.logger.Debug("done marker not delivered", "conversation_id", turn.Conversation.ID)
	}
	o.logger.Info("stream complete",
		"conversation_id", turn.Conversation.ID,
		"user_id", turn.UserID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// stream runs pass 1, the tool phase when calls were assembled, and
// pass 2. It returns the content of whichever pass produced the final
// answer.
func (o *Orchestrator) stream(ctx context.Context, sink EventSink, turn Turn) (string, error) {
	assembler := NewAssembler()
	definitions := o.tools.Definitions()

	passOne, err := o.forwardPass(ctx, sink, turn.messages, definitions, assembler)
	if err != nil {
		return "", err
	}

	calls := assembler.Finalize()
	if len(calls) == 0 {
		return passOne, nil
	}

	o.logger.Info("tool calls detected",
		"conversation_id", turn.Conversation.ID,
		"count", len(calls),
	)

	outbound, err := o.executeTools(ctx, turn, calls)
	if err != nil {
		return "", err
	}
	messages := append(turn.messages, outbound...)

	// Further tool calls in pass 2 are forwarded as-is but never
	// executed; one round-trip per turn.
	passTwo, err := o.forwardPass(ctx, sink, messages, definitions, nil)
	if err != nil {
		return "", err
	}
	return passTwo, nil
}

// forwardPass drains one upstream stream: content deltas accumulate and
// forward immediately, tool-call fragments feed the assembler when one
// is attached, and a keep-alive frame follows every chunk.
func (o *Orchestrator) forwardPass(ctx context.Context, sink EventSink, messages []model.ChatMessage, tools []model.ToolDefinition, assembler *Assembler) (string, error) {
	stream, err := o.streamer.StreamCompletion(ctx, messages, tools)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var content string
	for stream.Next() {
		if ctx.Err() != nil {
			return content, errClientGone
		}
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content += choice.Delta.Content
			}
			if assembler != nil {
				for _, fragment := range choice.Delta.ToolCalls {
					assembler.Ingest(fragment)
				}
			}
		}

		if hasContent(chunk) {
			payload, err := json.Marshal(chunk)
			if err != nil {
				return content, fmt.Errorf("encode chunk: %w", err)
			}
			if err := sink.Send(payload); err != nil {
				return content, errClientGone
			}
			o.metrics.ChunkForwarded()
		}
		if err := sink.Send(keepAlive); err != nil {
			return content, errClientGone
		}
	}
	if err := stream.Err(); err != nil {
		return content, err
	}
	return content, nil
}

func hasContent(chunk model.StreamChunk) bool {
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			return true
		}
	}
	return false
}

// executeTools runs each assembled call in index order and persists the
// protocol round-trip. Per call: one assistant message recording the
// call, one tool message carrying the serialized result. Append failures
// here are warnings; the model still sees the result via the outbound
// list. The returned messages extend the pass 2 request: one assistant
// message with the full tool_calls array, then one tool message per
// result.
func (o *Orchestrator) executeTools(ctx context.Context, turn Turn, calls []model.ToolCall) ([]model.ChatMessage, error) {
	executed := make([]model.ToolCall, 0, len(calls))
	toolMessages := make([]model.ChatMessage, 0, len(calls))

	for _, call := range calls {
		if call.Function.Name == "" {
			o.logger.Warn("skipping tool call without a name",
				"conversation_id", turn.Conversation.ID,
				"tool_call_id", call.ID,
			)
			continue
		}

		callRecord, err := json.Marshal(map[string]any{
			"tool_calls": []model.ToolCall{call},
		})
		if err != nil {
			return nil, fmt.Errorf("encode tool call: %w", err)
		}
		_, err = o.conversations.AppendMessage(ctx, memory.AppendMessageParams{
			ConversationID: turn.Conversation.ID,
			Role:           string(model.RoleAssistant),
			Content:        string(callRecord),
			Name:           "assistant",
		})
		if err != nil {
			o.logger.Warn("tool call record not persisted",
				"conversation_id", turn.Conversation.ID,
				"tool_call_id", call.ID,
				"err", err,
			)
		}

		result := o.tools.Execute(ctx, call.ID, call.Function.Name, call.Function.Arguments, turn.UserID)
		o.metrics.ToolExecuted(call.Function.Name, result.Success)

		resultPayload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode tool result: %w", err)
		}
		_, err = o.conversations.AppendMessage(ctx, memory.AppendMessageParams{
			ConversationID: turn.Conversation.ID,
			Role:           string(model.RoleTool),
			Content:        string(resultPayload),
			Name:           call.Function.Name,
			ToolCallID:     call.ID,
		})
		if err != nil {
			o.logger.Warn("tool result not persisted",
				"conversation_id", turn.Conversation.ID,
				"tool_call_id", call.ID,
				"err", err,
			)
		}
		o.transcript.Record(turn.Conversation.ID, string(model.RoleTool), string(resultPayload))

		executed = append(executed, call)
		toolMessages = append(toolMessages, model.ChatMessage{
			Role:       model.RoleTool,
			Content:    string(resultPayload),
			Name:       call.Function.Name,
			ToolCallID: call.ID,
		})
	}

	if len(executed) == 0 {
		return nil, nil
	}

	outbound := make([]model.ChatMessage, 0, len(toolMessages)+1)
	outbound = append(outbound, model.ChatMessage{
		Role:      model.RoleAssistant,
		Content:   "",
		ToolCalls: executed,
	})
	outbound = append(outbound, toolMessages...)
	return outbound, nil
}

// fail reports an unrecoverable error in-band. Partial content from the
// failed pass is not persisted; the client sees one error frame and no
// done marker.
func (o *Orchestrator) fail(ctx context.Context, sink EventSink, turn Turn, started time.Time, cause error) {
	o.logger.Error("stream failed",
		"conversation_id", turn.Conversation.ID,
		"user_id", turn.UserID,
		"err", cause,
	)
	kind := errorKind(cause)
	o.metrics.StreamFailed(kind)
	if kind != "other" {
		o.metrics.UpstreamError(kind)
	}
	o.logTurn(ctx, turn, time.Since(started), 500, cause.Error())

	frame, err := json.Marshal(map[string]string{"error": cause.Error()})
	if err != nil {
		frame = []byte(`{"error":"internal error"}`)
	}
	if err := sink.Send(frame); err != nil {
		o.logger.Debug("error frame not delivered", "conversation_id", turn.Conversation.ID)
	}
}

func (o *Orchestrator) logTurn(ctx context.Context, turn Turn, elapsed time.Duration, status int, errMessage string) {
	if o.apiLogs == nil {
		return
	}
	entry := memory.APILogEntry{
		UserID:         turn.UserID,
		Endpoint:       turn.Endpoint,
		Model:          o.modelName,
		ResponseTimeMS: elapsed.Milliseconds(),
		StatusCode:     status,
		ErrorMessage:   errMessage,
	}
	if err := o.apiLogs.Insert(ctx, entry); err != nil {
		o.logger.Warn("api log entry not recorded",
			"conversation_id", turn.Conversation.ID,
			"err", err,
		)
	}
}

func errorKind(err error) string {
	var (
		authErr        *model.AuthError
		rateErr        *model.RateLimitError
		unavailableErr *model.UnavailableError
		upstreamErr    *model.UpstreamError
		internalErr    *model.InternalError
	)
	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &rateErr):
		return "rate_limit"
	case errors.As(err, &unavailableErr):
		return "unavailable"
	case errors.As(err, &upstreamErr):
		return "upstream"
	case errors.As(err, &internalErr):
		return "internal"
	default:
		return "other"
	}
}
