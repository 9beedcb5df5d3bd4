package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docrag/internal/document"
	"github.com/nikhilbhutani/docrag/internal/queue"
	"github.com/nikhilbhutani/docrag/internal/tenant"
)

// JobHandler runs one delivery of a processing job; *document.Service
// implements it.
type JobHandler interface {
	HandleJob(ctx context.Context, p queue.DocumentPayload, lastAttempt bool) error
}

type DocumentWorker struct {
	handler JobHandler
}

func NewDocumentWorker(handler JobHandler) *DocumentWorker {
	return &DocumentWorker{handler: handler}
}

func (w *DocumentWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseDocumentPayload(t.Payload())
	if err != nil {
		slog.Error("dropping malformed document task", "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	payload.Attempt = queue.Attempt(ctx, payload.Attempt)

	ctx = tenant.WithPrincipal(ctx, &tenant.Principal{OrganizationID: payload.OrganizationID})

	slog.Info("processing document", "document_id", payload.DocumentID, "attempt", payload.Attempt)

	err = w.handler.HandleJob(ctx, payload, queue.LastAttempt(ctx))
	if errors.Is(err, document.ErrDeadLetter) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
