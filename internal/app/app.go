// Package app wires the services shared by the API server, the worker and
// the maintenance commands.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docrag/internal/audit"
	"github.com/nikhilbhutani/docrag/internal/cache"
	"github.com/nikhilbhutani/docrag/internal/chat"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/database"
	"github.com/nikhilbhutani/docrag/internal/document"
	"github.com/nikhilbhutani/docrag/internal/embedding"
	"github.com/nikhilbhutani/docrag/internal/events"
	"github.com/nikhilbhutani/docrag/internal/keyvault"
	"github.com/nikhilbhutani/docrag/internal/llm"
	"github.com/nikhilbhutani/docrag/internal/queue"
	"github.com/nikhilbhutani/docrag/internal/quota"
	"github.com/nikhilbhutani/docrag/internal/rag"
	"github.com/nikhilbhutani/docrag/internal/storage"
	"github.com/nikhilbhutani/docrag/internal/vectorstore"
)

// SetupLogger installs a JSON slog handler as the default logger.
func SetupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

type App struct {
	Config    *config.Config
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Cache     *cache.Cache
	Queue     *queue.Client
	Events    events.Publisher
	Audit     *audit.Service
	Vault     *keyvault.Service
	Documents *document.Service
	Retriever *rag.Retriever
	Chat      *chat.Service
}

// New connects to Postgres and Redis and builds every service. Close
// releases what New opened.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: db}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	a.Redis = cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, stats cache and chat locks degrade", "error", err)
	}
	a.Cache = cache.NewCache(a.Redis)

	envelope, err := keyvault.NewEnvelopeFromSpec(cfg.Vault.MasterKeys, cfg.Vault.CurrentVersion)
	if err != nil {
		return fmt.Errorf("init key vault: %w", err)
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	a.Events, err = events.New(cfg.Events)
	if err != nil {
		return fmt.Errorf("init events: %w", err)
	}

	a.Audit = audit.NewService(a.DB)
	llmClient := llm.NewClient(cfg.LLM, llm.WithUsageRecorder(a.Audit))
	a.Vault = keyvault.NewService(keyvault.NewPgStore(a.DB), envelope, llmClient, a.Audit)

	embedder := embedding.NewService(llmClient, cfg.Ingestion.EmbeddingBatchSize)
	index := vectorstore.NewPgVectorStore(a.DB, cfg.Retrieval.MaxK)
	quotas := quota.NewService(a.DB, cfg.Quota)
	a.Queue = queue.NewClient(cfg.Redis, cfg.Ingestion)

	a.Documents = document.NewService(document.Deps{
		Repo:     document.NewPgRepository(a.DB),
		Blobs:    blobs,
		Embedder: embedder,
		Keys:     a.Vault,
		Queue:    a.Queue,
		Quota:    quotas,
		Audit:    a.Audit,
		Events:   a.Events,
		Cache:    a.Cache,
	}, cfg.Ingestion, cfg.Retrieval.PreviewChars)

	a.Retriever = rag.NewRetriever(index, embedder, a.Vault, cfg.Retrieval)

	a.Chat = chat.NewService(chat.Deps{
		Repo:      chat.NewPgRepository(a.DB),
		Retriever: a.Retriever,
		LLM:       llmClient,
		Keys:      a.Vault,
		Quota:     quotas,
		Audit:     a.Audit,
		Locks:     a.Cache,
	}, cfg.Chat, cfg.Retrieval.DefaultLimit)

	return nil
}

func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			slog.Warn("close queue client", "error", err)
		}
	}
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			slog.Warn("close event publisher", "error", err)
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.DB.Close()
}
