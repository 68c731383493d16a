package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mxwhisper_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, int64(1<<30), cfg.MaxFileSize)
	assert.Equal(t, "base", cfg.WhisperModelSize)
	assert.Equal(t, StrategyLLM, cfg.ChunkingStrategy)
	assert.Equal(t, 200, cfg.ChunkMinTokens)
	assert.Equal(t, 500, cfg.ChunkMaxTokens)
	assert.Equal(t, 50, cfg.ChunkOverlapTokens)
	assert.Equal(t, 384, cfg.EmbeddingDim)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.HeartbeatTimeout)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRejectsBadModelSize(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mxwhisper_test")
	t.Setenv("WHISPER_MODEL_SIZE", "enormous")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WHISPER_MODEL_SIZE")
}

func TestLoadRejectsBadStrategy(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mxwhisper_test")
	t.Setenv("CHUNKING_STRATEGY", "paragraph")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNKING_STRATEGY")
}

func TestDisablingSemanticChunkingForcesSingle(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mxwhisper_test")
	t.Setenv("CHUNKING_STRATEGY", "llm")
	t.Setenv("ENABLE_SEMANTIC_CHUNKING", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StrategySingle, cfg.ChunkingStrategy)
}

func TestTimeoutsParsedAsSeconds(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mxwhisper_test")
	t.Setenv("LLM_TIMEOUT", "120")
	t.Setenv("LLM_CONNECT_TIMEOUT", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.LLMTimeout)
	assert.Equal(t, 10*time.Second, cfg.LLMConnectTimeout)
}
