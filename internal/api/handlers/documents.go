package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/document"
	"github.com/nikhilbhutani/docrag/internal/models"
)

type DocumentHandler struct {
	svc         *document.Service
	maxFileSize int64
	formMemory  int64
}

func NewDocumentHandler(svc *document.Service, maxFileSize, formMemory int64) *DocumentHandler {
	if formMemory <= 0 {
		formMemory = 32 << 20
	}
	return &DocumentHandler{svc: svc, maxFileSize: maxFileSize, formMemory: formMemory}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	if err := r.ParseMultipartForm(h.formMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file exceeds the upload limit"})
			return
		}
		badRequest(w, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file required")
		return
	}
	defer file.Close()

	p := principal(r)
	doc, err := h.svc.Submit(r.Context(), document.UploadInput{
		OrganizationID: p.OrganizationID,
		UploadedBy:     &p.UserID,
		FileName:       header.Filename,
		Size:           header.Size,
		Content:        file,
	})
	if err != nil {
		if header.Size > h.maxFileSize && errors.Is(err, apperr.ErrValidation) {
			writeErrorStatus(w, r, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	f := document.ListFilter{
		Search:   q.Get("search"),
		Page:     page,
		PageSize: pageSize,
	}
	if s := q.Get("status"); s != "" {
		status := models.DocumentStatus(s)
		if !status.Valid() {
			badRequest(w, "invalid status filter")
			return
		}
		f.Status = status
	}

	result, err := h.svc.List(r.Context(), principal(r).OrganizationID, f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *DocumentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), principal(r).OrganizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := h.svc.Get(r.Context(), principal(r).OrganizationID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.svc.Status(r.Context(), principal(r).OrganizationID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := h.svc.Reprocess(r.Context(), principal(r).OrganizationID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.Delete(r.Context(), principal(r).OrganizationID, id); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
