package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Ingestion IngestionConfig
	Retrieval RetrievalConfig
	Chat      ChatConfig
	Vault     VaultConfig
	Quota     QuotaConfig
	Events    EventsConfig
	LogLevel  string
}

type ServerConfig struct {
	Host            string
	Port            int
	RateLimitRPS    float64
	RateLimitBurst  int
	AllowedOrigins  []string
	MaxUploadMemory int64
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type LLMConfig struct {
	ChatModels      map[string]string // provider -> chat model
	EmbeddingModel  string
	OpenAIBaseURL   string // optional OpenAI-compatible endpoint
	AnthropicURL    string
	OllamaURL       string
	OllamaEmbedding string
	Temperature     float64
	MaxTokens       int
	RequestTimeout  time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
}

type StorageConfig struct {
	Backend   string // "local" or "minio"
	LocalPath string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type IngestionConfig struct {
	MaxFileSizeMB      int
	ChunkSize          int
	ChunkOverlap       int
	EmbeddingBatchSize int
	MaxAttempts        int
	JobTimeout         time.Duration
	Queue              string
	Concurrency        int
}

type RetrievalConfig struct {
	DefaultLimit int
	MaxLimit     int
	MaxK         int
	PreviewChars int
	MinScore     float64
}

type ChatConfig struct {
	HistoryTurns int
	AutoTitle    bool
	LockTTL      time.Duration
}

type VaultConfig struct {
	MasterKeys     string // "v1:<base64>,v2:<base64>"
	CurrentVersion int
}

type QuotaConfig struct {
	MaxDocuments    int
	MaxStorageBytes int64
	MaxChatSessions int
}

type EventsConfig struct {
	Backend       string // "none", "webhook" or "kafka"
	WebhookURL    string
	WebhookSecret string
	KafkaBrokers  []string
	KafkaTopic    string
}

// MaxFileSizeBytes is the upload limit derived from MaxFileSizeMB.
func (c IngestionConfig) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) << 20
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	l := &loader{}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            l.int("SERVER_PORT", 8080),
			RateLimitRPS:    l.float("RATE_LIMIT_RPS", 20),
			RateLimitBurst:  l.int("RATE_LIMIT_BURST", 40),
			AllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
			MaxUploadMemory: int64(l.int("UPLOAD_MEMORY_MB", 32)) << 20,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       l.int("DB_MAX_CONNS", 20),
			MinConns:       l.int("DB_MIN_CONNS", 5),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       l.int("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		LLM: LLMConfig{
			ChatModels: map[string]string{
				"openai":    getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
				"anthropic": getEnv("ANTHROPIC_CHAT_MODEL", "claude-3-haiku-20240307"),
				"ollama":    getEnv("OLLAMA_CHAT_MODEL", "llama3.1"),
			},
			EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			AnthropicURL:    getEnv("ANTHROPIC_BASE_URL", ""),
			OllamaURL:       getEnv("OLLAMA_URL", "http://localhost:11434"),
			OllamaEmbedding: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			Temperature:     l.float("LLM_TEMPERATURE", 0.7),
			MaxTokens:       l.int("LLM_MAX_TOKENS", 1024),
			RequestTimeout:  l.duration("LLM_REQUEST_TIMEOUT", 60*time.Second),
			MaxRetries:      l.int("LLM_MAX_RETRIES", 3),
			BackoffBase:     l.duration("LLM_BACKOFF_BASE", 500*time.Millisecond),
			BackoffMax:      l.duration("LLM_BACKOFF_MAX", 8*time.Second),
			RateLimitRPS:    l.float("LLM_RATE_LIMIT_RPS", 10),
			RateLimitBurst:  l.int("LLM_RATE_LIMIT_BURST", 20),
		},
		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", "local"),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./uploads"),
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("STORAGE_BUCKET", "documents"),
			UseSSL:    l.bool("MINIO_USE_SSL", false),
		},
		Ingestion: IngestionConfig{
			MaxFileSizeMB:      l.int("MAX_FILE_SIZE_MB", 50),
			ChunkSize:          l.int("CHUNK_SIZE_CHARS", 4000),
			ChunkOverlap:       l.int("CHUNK_OVERLAP_CHARS", 800),
			EmbeddingBatchSize: l.int("EMBEDDING_BATCH_SIZE", 100),
			MaxAttempts:        l.int("INGESTION_MAX_ATTEMPTS", 3),
			JobTimeout:         l.duration("INGESTION_JOB_TIMEOUT", 10*time.Minute),
			Queue:              getEnv("INGESTION_QUEUE", "ingestion"),
			Concurrency:        l.int("WORKER_CONCURRENCY", 10),
		},
		Retrieval: RetrievalConfig{
			DefaultLimit: l.int("RETRIEVAL_DEFAULT_LIMIT", 5),
			MaxLimit:     l.int("RETRIEVAL_MAX_LIMIT", 10),
			MaxK:         l.int("VECTOR_SEARCH_MAX_K", 50),
			PreviewChars: l.int("RETRIEVAL_PREVIEW_CHARS", 200),
			MinScore:     l.float("RETRIEVAL_MIN_SCORE", 0),
		},
		Chat: ChatConfig{
			HistoryTurns: l.int("CHAT_HISTORY_TURNS", 10),
			AutoTitle:    l.bool("CHAT_AUTO_TITLE", true),
			LockTTL:      l.duration("CHAT_LOCK_TTL", 2*time.Minute),
		},
		Vault: VaultConfig{
			MasterKeys:     getEnv("VAULT_MASTER_KEYS", ""),
			CurrentVersion: l.int("VAULT_CURRENT_VERSION", 1),
		},
		Quota: QuotaConfig{
			MaxDocuments:    l.int("QUOTA_MAX_DOCUMENTS", 100),
			MaxStorageBytes: int64(l.int("QUOTA_MAX_STORAGE_MB", 1024)) << 20,
			MaxChatSessions: l.int("QUOTA_MAX_CHAT_SESSIONS", 50),
		},
		Events: EventsConfig{
			Backend:       getEnv("EVENTS_BACKEND", "none"),
			WebhookURL:    getEnv("EVENTS_WEBHOOK_URL", ""),
			WebhookSecret: getEnv("EVENTS_WEBHOOK_SECRET", ""),
			KafkaBrokers:  splitList(getEnv("KAFKA_BROKERS", "")),
			KafkaTopic:    getEnv("KAFKA_TOPIC", "document-status"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Vault.MasterKeys == "" {
		missing = append(missing, "VAULT_MASTER_KEYS")
	}
	if c.Storage.Backend == "minio" && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		missing = append(missing, "MINIO_ACCESS_KEY/MINIO_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}

	if c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP_CHARS (%d) must be smaller than CHUNK_SIZE_CHARS (%d)",
			c.Ingestion.ChunkOverlap, c.Ingestion.ChunkSize)
	}
	if c.Retrieval.DefaultLimit > c.Retrieval.MaxLimit {
		return fmt.Errorf("RETRIEVAL_DEFAULT_LIMIT (%d) exceeds RETRIEVAL_MAX_LIMIT (%d)",
			c.Retrieval.DefaultLimit, c.Retrieval.MaxLimit)
	}
	if c.Ingestion.MaxAttempts < 1 {
		return fmt.Errorf("INGESTION_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// loader collects parse errors so Load reports every bad variable at once.
type loader struct {
	errs []error
}

func (l *loader) int(key string, fallback int) int {
	v, err := getEnvInt(key, fallback)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return v
}

func (l *loader) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return f
}

func (l *loader) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return b
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, err
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
