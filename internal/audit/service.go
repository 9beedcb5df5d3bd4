package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docrag/internal/llm"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/tenant"
)

const (
	ActionDocUpload          = "DOC_UPLOAD"
	ActionDocDelete          = "DOC_DELETE"
	ActionDocReprocess       = "DOC_REPROCESS"
	ActionDocProcessStart    = "DOC_PROCESS_START"
	ActionDocProcessComplete = "DOC_PROCESS_COMPLETE"
	ActionDocProcessFail     = "DOC_PROCESS_FAIL"
	ActionChatCreate         = "CHAT_CREATE"
	ActionChatDelete         = "CHAT_DELETE"
	ActionAPIKeyCreate       = "API_KEY_CREATE"
	ActionAPIKeyUpdate       = "API_KEY_UPDATE"
	ActionAPIKeyDelete       = "API_KEY_DELETE"
	ActionAPIKeyActivate     = "API_KEY_ACTIVATE"
)

// Recorder is what the pipelines depend on; Service is the pg-backed one.
type Recorder interface {
	Log(ctx context.Context, entry Entry) error
}

// Entry is one audit row. A zero OrganizationID or nil UserID is filled
// from the request principal when one is present.
type Entry struct {
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
	Action         string
	ResourceType   string
	ResourceID     *uuid.UUID
	Details        map[string]any
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) Log(ctx context.Context, entry Entry) error {
	entry = fillFromContext(ctx, entry)
	if entry.OrganizationID == uuid.Nil {
		return fmt.Errorf("audit %s: missing organization", entry.Action)
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_logs (organization_id, user_id, action, resource_type, resource_id, details)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.OrganizationID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, details,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

// RecordUsage stores one provider call. Failures are logged, never returned:
// usage accounting must not fail a chat turn or an ingestion job.
func (s *Service) RecordUsage(ctx context.Context, rec llm.UsageRecord) {
	orgID := tenant.OrgIDFromContext(ctx)
	if orgID == uuid.Nil {
		slog.Debug("skipping LLM usage without organization", "provider", rec.Provider, "endpoint", rec.Endpoint)
		return
	}

	var userID *uuid.UUID
	if uid := tenant.UserIDFromContext(ctx); uid != uuid.Nil {
		userID = &uid
	}

	_, err := s.db.Exec(context.WithoutCancel(ctx),
		`INSERT INTO llm_usage_logs (organization_id, user_id, provider, model, input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, endpoint, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '{}')`,
		orgID, userID, rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens,
		rec.TotalTokens, rec.CostUSD, rec.LatencyMs, rec.Endpoint,
	)
	if err != nil {
		slog.Warn("failed to record LLM usage", "organization_id", orgID, "error", err)
	}
}

type AuditQuery struct {
	StartDate *time.Time
	EndDate   *time.Time
	Action    string
	Limit     int
	Offset    int
}

func (s *Service) GetAuditLogs(ctx context.Context, orgID uuid.UUID, q AuditQuery) ([]models.AuditLog, error) {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}

	query := `SELECT id, organization_id, user_id, action, resource_type, resource_id, details, created_at
			  FROM audit_logs WHERE organization_id = $1`
	args := []any{orgID}
	argIdx := 2

	if q.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, q.Action)
		argIdx++
	}
	if q.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *q.StartDate)
		argIdx++
	}
	if q.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *q.EndDate)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var l models.AuditLog
		var resourceType *string
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.UserID, &l.Action, &resourceType, &l.ResourceID, &l.Details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if resourceType != nil {
			l.ResourceType = *resourceType
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type UsageSummary struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	TotalCalls   int     `json:"total_calls"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

func (s *Service) GetUsageSummary(ctx context.Context, orgID uuid.UUID, startDate, endDate *time.Time) ([]UsageSummary, error) {
	query := `SELECT provider, model, COUNT(*) as total_calls,
			         COALESCE(SUM(total_tokens), 0) as total_tokens,
			         COALESCE(SUM(cost_usd), 0) as total_cost_usd
			  FROM llm_usage_logs WHERE organization_id = $1`
	args := []any{orgID}
	argIdx := 2

	if startDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *startDate)
		argIdx++
	}
	if endDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *endDate)
	}

	query += " GROUP BY provider, model ORDER BY total_cost_usd DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	summaries := []UsageSummary{}
	for rows.Next() {
		var us UsageSummary
		if err := rows.Scan(&us.Provider, &us.Model, &us.TotalCalls, &us.TotalTokens, &us.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summaries = append(summaries, us)
	}
	return summaries, rows.Err()
}

func fillFromContext(ctx context.Context, e Entry) Entry {
	p := tenant.FromContext(ctx)
	if p == nil {
		return e
	}
	if e.OrganizationID == uuid.Nil {
		e.OrganizationID = p.OrganizationID
	}
	if e.UserID == nil && p.UserID != uuid.Nil {
		uid := p.UserID
		e.UserID = &uid
	}
	return e
}

// Record logs entry through r and swallows the error; an audit outage must
// not fail the operation being audited.
func Record(ctx context.Context, r Recorder, entry Entry) {
	if r == nil {
		return
	}
	if err := r.Log(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("failed to write audit log", "action", entry.Action, "error", err)
	}
}
