package api

import (
	"encoding/json"
	"net/http"

	"github.com/tripmind/tripmind/model"
)

const streamEndpoint = "/api/chat/completions/stream"

type streamChatRequest struct {
	Messages []model.ChatMessage `json:"messages"`
}

// streamChat runs one streaming chat turn. Setup failures surface as
// plain HTTP errors; once the SSE response is committed everything else
// is reported in-band by the orchestrator.
func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	if h.limiter != nil && !h.limiter.Check(user.ID, streamEndpoint) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req streamChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	turn, err := h.orchestrator.Prepare(r.Context(), user.ID, streamEndpoint, req.Messages)
	if err != nil {
		h.logger.Error("stream setup failed", "user_id", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not start stream")
		return
	}

	sse.Begin()
	h.orchestrator.Run(r.Context(), sse, turn)
}
