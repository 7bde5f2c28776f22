package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tripmind/tripmind/memory"
)

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	result, err := h.conversations.List(r.Context(), user.ID, page, pageSize)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conversation, err := h.conversations.Create(r.Context(), user.ID, req.Title)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversation)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id := r.PathValue("id")

	conversation, err := h.conversations.Get(r.Context(), id, user.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	messages, err := h.conversations.Messages(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conversation,
		"messages":     messages,
	})
}

type updateConversationRequest struct {
	Title    *string `json:"title"`
	IsActive *bool   `json:"is_active"`
}

func (h *Handler) updateConversation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id := r.PathValue("id")

	var req updateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conversation, err := h.conversations.Update(r.Context(), id, user.ID, memory.UpdateConversationParams{
		Title:    req.Title,
		IsActive: req.IsActive,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id := r.PathValue("id")

	if err := h.conversations.SoftDelete(r.Context(), id, user.ID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearConversation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id := r.PathValue("id")

	if err := h.conversations.Clear(r.Context(), id, user.ID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
