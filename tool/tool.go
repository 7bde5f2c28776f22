// Package tool holds the fixed registry of functions the assistant can
// invoke mid-stream, with JSON-schema parameter definitions reflected
// from their input structs.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"

	"github.com/tripmind/tripmind/model"
)

// CallResult is the structured outcome of one tool execution. Exactly
// one of Data/Error is populated depending on Success. Its JSON encoding
// is what gets persisted as tool-message content and fed back upstream.
type CallResult struct {
	ToolName string         `json:"tool_name"`
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Handler executes a tool with already-decoded input on behalf of a user.
type Handler[T any] func(ctx context.Context, input T, userID int64) (map[string]any, error)

type rawHandler func(ctx context.Context, arguments json.RawMessage, userID int64) (map[string]any, error)

// Tool pairs a function definition with its executable handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	run         rawHandler
}

// New builds a Tool whose parameter schema is reflected from T. Fields
// without omitempty become required parameters.
func New[T any](name, description string, handler Handler[T]) Tool {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var input T
	inputSchema := reflector.Reflect(input)
	parameters := map[string]any{
		"type":       "object",
		"properties": inputSchema.Properties,
	}
	if len(inputSchema.Required) > 0 {
		parameters["required"] = inputSchema.Required
	}

	run := func(ctx context.Context, arguments json.RawMessage, userID int64) (map[string]any, error) {
		var input T
		if err := json.Unmarshal(arguments, &input); err != nil {
			return nil, fmt.Errorf("argument parse failure: %v", err)
		}
		return handler(ctx, input, userID)
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		run:         run,
	}
}

// Registry dispatches tool calls by name. It is fixed at startup and
// read-only afterwards.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger, tools ...Tool) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	registry := &Registry{
		tools:  make(map[string]Tool, len(tools)),
		logger: logger,
	}
	for _, t := range tools {
		if _, exists := registry.tools[t.Name]; exists {
			continue
		}
		registry.tools[t.Name] = t
		registry.order = append(registry.order, t.Name)
	}
	return registry
}

// Definitions returns the schemas advertised to the upstream model, in
// registration order.
func (r *Registry) Definitions() []model.ToolDefinition {
	definitions := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		definitions = append(definitions, model.ToolDefinition{
			Type: "function",
			Function: model.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return definitions
}

// Execute runs the named tool. It never returns an error: every failure,
// including unknown tools and malformed arguments, becomes a CallResult
// with Success false.
func (r *Registry) Execute(ctx context.Context, callID, name, arguments string, userID int64) CallResult {
	t, ok := r.tools[name]
	if !ok {
		r.logger.Warn("tool call rejected: unknown tool",
			"tool", name,
			"tool_call_id", callID,
		)
		return CallResult{
			ToolName: name,
			Success:  false,
			Error:    fmt.Sprintf("unknown tool: %s", name),
		}
	}

	data, err := t.run(ctx, json.RawMessage(arguments), userID)
	if err != nil {
		r.logger.Warn("tool call failed",
			"tool", name,
			"tool_call_id", callID,
			"user_id", userID,
			"err", err,
		)
		return CallResult{
			ToolName: name,
			Success:  false,
			Error:    err.Error(),
		}
	}

	r.logger.Info("tool call complete",
		"tool", name,
		"tool_call_id", callID,
		"user_id", userID,
	)
	return CallResult{
		ToolName: name,
		Success:  true,
		Data:     data,
	}
}
