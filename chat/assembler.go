// Package chat drives one streaming chat turn: it assembles fragmented
// tool calls from the upstream token stream, orchestrates the two-pass
// model invocation around tool execution, and persists the conversation
// while forwarding output to the client.
package chat

import (
	"sort"

	"github.com/tripmind/tripmind/model"
)

// Assembler accumulates fragmented tool-call deltas into complete calls.
// Fragments for one call share an index; argument text arrives split
// across many fragments and is concatenated in arrival order. One
// Assembler serves exactly one stream and is not safe for concurrent use.
type Assembler struct {
	buffer map[int]*model.ToolCall
}

func NewAssembler() *Assembler {
	return &Assembler{buffer: make(map[int]*model.ToolCall)}
}

// Ingest folds one fragment into the buffer. Fragments without an index
// are dropped. ID and function name follow last-non-empty-wins; argument
// fragments are appended, never overwritten.
func (a *Assembler) Ingest(fragment model.ToolCallFragment) {
	if fragment.Index == nil {
		return
	}
	index := *fragment.Index

	entry, ok := a.buffer[index]
	if !ok {
		a.buffer[index] = &model.ToolCall{
			Index: index,
			ID:    fragment.ID,
			Type:  "function",
			Function: model.FunctionCall{
				Name:      fragment.Function.Name,
				Arguments: fragment.Function.Arguments,
			},
		}
		return
	}

	if fragment.ID != "" {
		entry.ID = fragment.ID
	}
	if fragment.Function.Name != "" {
		entry.Function.Name = fragment.Function.Name
	}
	if fragment.Function.Arguments != "" {
		entry.Function.Arguments += fragment.Function.Arguments
	}
}

// Finalize returns the assembled calls ordered by index. An empty buffer
// yields an empty slice, meaning no tool phase is needed.
func (a *Assembler) Finalize() []model.ToolCall {
	calls := make([]model.ToolCall, 0, len(a.buffer))
	for _, entry := range a.buffer {
		calls = append(calls, *entry)
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].Index < calls[j].Index
	})
	return calls
}
