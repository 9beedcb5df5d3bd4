package handlers

import (
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/docrag/internal/chat"
)

type ChatHandler struct {
	svc *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type sessionRequest struct {
	Title string `json:"title"`
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	p := principal(r)
	session, err := h.svc.CreateSession(r.Context(), p.OrganizationID, p.UserID, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	sessions, err := h.svc.ListSessions(r.Context(), p.OrganizationID, p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	session, err := h.svc.GetSession(r.Context(), p.OrganizationID, p.UserID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) RenameSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.svc.RenameSession(r.Context(), p.OrganizationID, p.UserID, id, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteSession(r.Context(), p.OrganizationID, p.UserID, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.svc.ListMessages(r.Context(), p.OrganizationID, p.UserID, id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ex, err := h.svc.PostMessage(r.Context(), p.OrganizationID, p.UserID, id, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}
