package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	return &HandlersRegistry{
		mux: asynq.NewServeMux(),
	}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

// LastAttempt reports whether the running task has no retries left.
func LastAttempt(ctx context.Context) bool {
	retried, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return true
	}
	return retried >= maxRetry
}

// Attempt is the zero-based delivery number of the running task.
func Attempt(ctx context.Context, enqueued int) int {
	retried, _ := asynq.GetRetryCount(ctx)
	return enqueued + retried
}

// ErrorHandler logs every failed delivery. Failures on the last attempt are
// dead-lettered by asynq (archived) and logged with full context.
func ErrorHandler() asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		taskID, _ := asynq.GetTaskID(ctx)

		attrs := []any{
			"task_id", taskID,
			"task_type", task.Type(),
			"payload", string(task.Payload()),
			"retry_count", retried,
			"max_retry", maxRetry,
			"error", err,
		}
		if retried >= maxRetry || errors.Is(err, asynq.SkipRetry) || asynq.IsPanicError(err) {
			slog.Error("task dead-lettered", attrs...)
			return
		}
		slog.Warn("task failed, will retry", attrs...)
	})
}
