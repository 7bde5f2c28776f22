package model

// StreamChunk is one decoded SSE payload from the upstream completion
// stream. The same shape is forwarded verbatim to our own SSE clients.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice carries the incremental delta for one choice index.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental fragment of model output in one chunk.
// Both fields are optional on the wire; validation happens here at the
// parsing boundary rather than downstream.
type Delta struct {
	Content   string             `json:"content,omitempty"`
	ToolCalls []ToolCallFragment `json:"tool_calls,omitempty"`
}

// ToolCallFragment is a partial tool call as it arrives on the stream.
// Index is a pointer so a fragment without one can be told apart from
// index zero and dropped. Arguments fragments are concatenated by the
// assembler in arrival order.
type ToolCallFragment struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function FunctionFragment `json:"function"`
}

// FunctionFragment carries partial function name/argument text.
type FunctionFragment struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
