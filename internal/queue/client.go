package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docrag/internal/config"
)

// RedisOpt converts the shared Redis settings into asynq's connection option.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type Client struct {
	client      *asynq.Client
	queue       string
	maxAttempts int
	timeout     time.Duration
}

func NewClient(redis config.RedisConfig, ing config.IngestionConfig) *Client {
	return &Client{
		client:      asynq.NewClient(RedisOpt(redis)),
		queue:       ing.Queue,
		maxAttempts: max(ing.MaxAttempts, 1),
		timeout:     ing.JobTimeout,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueDocumentProcess schedules one processing pass. asynq retries up to
// MaxAttempts-1 times; Retention keeps the completed or archived task
// around for inspection.
func (c *Client) EnqueueDocumentProcess(ctx context.Context, payload DocumentPayload) error {
	return c.enqueue(ctx, TypeDocumentProcess, payload,
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxAttempts-1),
		asynq.Timeout(c.timeout),
		asynq.Retention(24*time.Hour),
	)
}

func (c *Client) EnqueueDocumentPurge(ctx context.Context, payload DocumentPayload) error {
	return c.enqueue(ctx, TypeDocumentPurge, payload,
		asynq.Queue(c.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(5*time.Minute),
	)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
