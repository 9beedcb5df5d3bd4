package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nikhilbhutani/docrag/internal/audit"
)

type AdminHandler struct {
	auditSvc *audit.Service
}

func NewAdminHandler(auditSvc *audit.Service) *AdminHandler {
	return &AdminHandler{auditSvc: auditSvc}
}

func parseDateRange(r *http.Request) (start, end *time.Time) {
	if s := r.URL.Query().Get("start_date"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			start = &t
		}
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			end = &t
		}
	}
	return start, end
}

func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	startDate, endDate := parseDateRange(r)

	summary, err := h.auditSvc.GetUsageSummary(r.Context(), principal(r).OrganizationID, startDate, endDate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"usage": summary})
}

func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := audit.AuditQuery{
		Action: r.URL.Query().Get("action"),
	}
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	q.StartDate, q.EndDate = parseDateRange(r)

	logs, err := h.auditSvc.GetAuditLogs(r.Context(), principal(r).OrganizationID, q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs, "count": len(logs)})
}
