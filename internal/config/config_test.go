package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/powerpulse/powerpulse/internal/domain"
)

func Test_Load_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "gemini", cfg.AIService)
	require.Equal(t, 16000, cfg.MaxTokensPerJob)
	require.Equal(t, 20, cfg.BatchSize)
	require.Equal(t, 2, cfg.AIConcurrency)
	require.Equal(t, time.Second, cfg.MinInterCallDelay)
	require.Equal(t, int64(52428800), cfg.MaxFileSize)
	require.Equal(t, 30*time.Minute, cfg.UploadTimeout)
	require.Equal(t, DefaultAutoresponse, cfg.AutoresponseSentence)
	require.False(t, cfg.AutoresponseSubstringMatch)
	require.False(t, cfg.KafkaEnabled())
	require.False(t, cfg.RedisEnabled())
	require.True(t, cfg.IsDev())
	require.False(t, cfg.IsProd())
}

func Test_Load_Overrides(t *testing.T) {
	t.Setenv("AI_SERVICE", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MAX_TOKENS_PER_JOB", "4000")
	t.Setenv("BATCH_SIZE", "5")
	t.Setenv("AI_CONCURRENCY", "4")
	t.Setenv("MIN_INTER_CALL_DELAY", "250ms")
	t.Setenv("AUTORESPONSE_SENTENCE", "custom auto reply")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "openai", cfg.AIService)
	require.Equal(t, 4000, cfg.MaxTokensPerJob)
	require.Equal(t, 5, cfg.BatchSize)
	require.Equal(t, 4, cfg.AIConcurrency)
	require.Equal(t, 250*time.Millisecond, cfg.MinInterCallDelay)
	require.Equal(t, "custom auto reply", cfg.AutoresponseSentence)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.KafkaEnabled())
	require.True(t, cfg.RedisEnabled())
}

func Test_Validate_ProviderKeys(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("AI_SERVICE", "gemini")

	cfg, err := Load()
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrInvalidArgument))

	t.Setenv("GEMINI_API_KEY", "g-key")
	cfg, err = Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func Test_Validate_UnknownProvider(t *testing.T) {
	t.Setenv("AI_SERVICE", "llama-at-home")
	cfg, err := Load()
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

func Test_Validate_TestEnvSkipsKeys(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("AI_SERVICE", "gemini")
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func Test_AIRetryPolicy(t *testing.T) {
	t.Setenv("AI_MAX_ATTEMPTS", "5")
	t.Setenv("AI_BACKOFF_BASE", "2s")
	t.Setenv("AI_ATTEMPT_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	p := cfg.AIRetryPolicy()
	require.Equal(t, 5, p.MaxAttempts)
	require.Equal(t, 2*time.Second, p.Base)
	require.Equal(t, 30*time.Second, p.AttemptTimeout)

	t.Setenv("APP_ENV", "test")
	cfg, err = Load()
	require.NoError(t, err)
	p = cfg.AIRetryPolicy()
	require.Less(t, p.Base, 100*time.Millisecond)
}
