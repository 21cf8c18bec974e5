package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadMockModeDefaults(t *testing.T) {
	cfg, err := load(env(map[string]string{"MOCK_MODE": "true"}))
	require.NoError(t, err)

	assert.Equal(t, ProviderMock, cfg.LLMProvider)
	assert.Equal(t, DriverMemory, cfg.DatabaseDriver)
	assert.Equal(t, BackendMemory, cfg.RateLimitBackend)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, int64(50), cfg.RateLimitMax)
	assert.Equal(t, 24*time.Hour, cfg.RateLimitWindow)
	assert.Equal(t, int64(100), cfg.FunnelRateLimitMax)
	assert.Equal(t, 7, cfg.DiscountValidityDays)
	assert.InDelta(t, 0.7, cfg.KnowledgeThreshold, 1e-9)
	assert.Equal(t, 5, cfg.KnowledgeTopK)
	assert.Equal(t, 3, cfg.EmailRetryAttempts)
	assert.Equal(t, 3, cfg.NotifyRetryAttempts)
	assert.Equal(t, 10*time.Second, cfg.NotifyTimeout)
}

func TestLoadListsEveryMissingKey(t *testing.T) {
	_, err := load(env(map[string]string{}))
	require.ErrorIs(t, err, ErrMissingConfig)
	for _, key := range []string{"ADMIN_API_TOKEN", "BOOK_PDF_URL", "DATABASE_URL", "EMAIL_API_KEY", "EMAIL_FROM", "OPENAI_API_KEY"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadRequirementsFollowProviderAndDriver(t *testing.T) {
	_, err := load(env(map[string]string{
		"MOCK_MODE":       "true",
		"LLM_PROVIDER":    "gemini",
		"DATABASE_DRIVER": "postgres",
		"REDIS_ADDR":      "localhost:6379",
	}))
	require.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.NotContains(t, err.Error(), "OPENAI_API_KEY")
	assert.NotContains(t, err.Error(), "REDIS_ADDR")
}

func TestLoadProductionConfig(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"PORT":             "3000",
		"LLM_PROVIDER":     "gemini",
		"GEMINI_API_KEY":   "g-key",
		"DATABASE_DRIVER":  "sqlite",
		"SQLITE_PATH":      "/tmp/funnel.db",
		"REDIS_ADDR":       "redis:6379",
		"ADMIN_API_TOKEN":  "secret",
		"EMAIL_API_KEY":    "re_123",
		"EMAIL_FROM":       "Academia <libros@academia.com>",
		"BOOK_PDF_URL":     "https://cdn/libro.pdf",
		"RATE_LIMIT_MAX":   "20",
		"LLM_TIMEOUT":      "5s",
		"BOOK_COMBO_PRICE": "57",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.HTTPListenAddr)
	assert.Equal(t, "gemini-2.0-flash", cfg.GenerationModel)
	assert.Equal(t, "text-embedding-004", cfg.EmbeddingModel)
	assert.Equal(t, BackendRedis, cfg.RateLimitBackend)
	assert.Equal(t, int64(20), cfg.RateLimitMax)
	assert.Equal(t, 5*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 57, cfg.BookComboPrice)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	_, err := load(env(map[string]string{
		"MOCK_MODE":       "true",
		"RATE_LIMIT_MAX":  "lots",
		"DATABASE_DRIVER": "mysql",
	}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "RATE_LIMIT_MAX")
	assert.Contains(t, err.Error(), "DATABASE_DRIVER")
}
