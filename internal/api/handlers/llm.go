package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/docrag/internal/keyvault"
)

// LLMKeyHandler manages an organization's provider keys. Routes are
// restricted to administrators.
type LLMKeyHandler struct {
	vault *keyvault.Service
}

func NewLLMKeyHandler(vault *keyvault.Service) *LLMKeyHandler {
	return &LLMKeyHandler{vault: vault}
}

type testKeyRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
}

func (h *LLMKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.vault.List(r.Context(), principal(r).OrganizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}

func (h *LLMKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in keyvault.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	key, err := h.vault.Create(r.Context(), principal(r).OrganizationID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *LLMKeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in keyvault.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	key, err := h.vault.Update(r.Context(), principal(r).OrganizationID, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *LLMKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.vault.Delete(r.Context(), principal(r).OrganizationID, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *LLMKeyHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	key, err := h.vault.Activate(r.Context(), principal(r).OrganizationID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Test checks a stored key against its provider.
func (h *LLMKeyHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.vault.Test(r.Context(), principal(r).OrganizationID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// TestRaw checks a key before it is saved.
func (h *LLMKeyHandler) TestRaw(w http.ResponseWriter, r *http.Request) {
	var req testKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.vault.TestRaw(r.Context(), req.Provider, req.APIKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
