package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Ingestion.MaxFileSizeMB)
	assert.Equal(t, int64(50<<20), cfg.Ingestion.MaxFileSizeBytes())
	assert.Equal(t, 100, cfg.Ingestion.EmbeddingBatchSize)
	assert.Equal(t, 3, cfg.Ingestion.MaxAttempts)
	assert.Equal(t, 5, cfg.Retrieval.DefaultLimit)
	assert.Equal(t, 10, cfg.Retrieval.MaxLimit)
	assert.Equal(t, 200, cfg.Retrieval.PreviewChars)
	assert.Equal(t, 10, cfg.Chat.HistoryTurns)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.ChatModels["openai"])
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LLM_BACKOFF_BASE", "250ms")
	t.Setenv("CHAT_AUTO_TITLE", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.BackoffBase)
	assert.False(t, cfg.Chat.AutoTitle)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
}

func TestLoadReportsEveryInvalidVariable(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	t.Setenv("LLM_REQUEST_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
	assert.Contains(t, err.Error(), "LLM_REQUEST_TIMEOUT")
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "VAULT_MASTER_KEYS")

	cfg.Database.URL = "postgres://localhost/docrag"
	cfg.Auth.JWTSecret = "secret"
	cfg.Vault.MasterKeys = "v1:AAAA"
	require.NoError(t, cfg.Validate())

	cfg.Ingestion.ChunkOverlap = cfg.Ingestion.ChunkSize
	assert.Error(t, cfg.Validate())
}
