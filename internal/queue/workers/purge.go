package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docrag/internal/queue"
	"github.com/nikhilbhutani/docrag/internal/tenant"
)

type Purger interface {
	Purge(ctx context.Context, p queue.DocumentPayload) error
}

// PurgeWorker removes chunks and originals of deleted documents.
type PurgeWorker struct {
	purger Purger
}

func NewPurgeWorker(purger Purger) *PurgeWorker {
	return &PurgeWorker{purger: purger}
}

func (w *PurgeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseDocumentPayload(t.Payload())
	if err != nil {
		slog.Error("dropping malformed purge task", "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	ctx = tenant.WithPrincipal(ctx, &tenant.Principal{OrganizationID: payload.OrganizationID})
	return w.purger.Purge(ctx, payload)
}
