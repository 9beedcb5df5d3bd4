package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/docrag/internal/rag"
)

type SearchHandler struct {
	retriever *rag.Retriever
}

func NewSearchHandler(retriever *rag.Retriever) *SearchHandler {
	return &SearchHandler{retriever: retriever}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Search returns the passages a chat question would be answered from,
// without generating an answer.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	results, err := h.retriever.Search(r.Context(), principal(r).OrganizationID, req.Query, req.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}
