// Package config loads the worker configuration from the environment. A
// single Config is built once at startup and handed to every component; no
// package reads the environment after that point.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Chunking strategy names accepted by CHUNKING_STRATEGY.
const (
	StrategyLLM      = "llm"
	StrategySentence = "sentence"
	StrategySingle   = "single"
)

// Whisper model sizes accepted by WHISPER_MODEL_SIZE.
var whisperModelSizes = map[string]bool{
	"tiny": true, "base": true, "small": true, "medium": true, "large": true,
}

// Config holds every tunable the pipeline reads. Fields map 1:1 to
// environment variables; see Load for names and defaults.
type Config struct {
	// Storage
	DatabaseURL string
	UploadDir   string
	MaxFileSize int64

	// Temporal
	TemporalHost string
	TaskQueue    string

	// Progress bus (empty RedisAddr selects the in-memory bus)
	RedisAddr string

	// Whisper
	WhisperModelSize string
	WhisperBin       string
	WhisperModelDir  string

	// Fetcher
	YTDLPBin string

	// Chunking
	EnableSemanticChunking bool
	ChunkingStrategy       string
	ChunkMinTokens         int
	ChunkMaxTokens         int
	ChunkOverlapTokens     int

	// LLM endpoint (OpenAI-compatible)
	LLMBaseURL        string
	LLMModel          string
	LLMTimeout        time.Duration
	LLMConnectTimeout time.Duration
	LLMReadTimeout    time.Duration
	LLMMaxRetries     int

	// Embeddings endpoint (OpenAI-compatible)
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingDim     int

	// Activity heartbeats
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Load reads the configuration from the environment. A .env file in the
// working directory is merged in first when present. Returns an error listing
// every invalid or missing required key.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		UploadDir:              getenv("UPLOAD_DIR", "uploads"),
		TemporalHost:           getenv("TEMPORAL_HOST", "localhost:7233"),
		TaskQueue:              getenv("TEMPORAL_TASK_QUEUE", "mxwhisper"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		WhisperModelSize:       getenv("WHISPER_MODEL_SIZE", "base"),
		WhisperBin:             getenv("WHISPER_BIN", "whisper-cli"),
		WhisperModelDir:        getenv("WHISPER_MODEL_DIR", "models"),
		YTDLPBin:               getenv("YTDLP_BIN", "yt-dlp"),
		ChunkingStrategy:       getenv("CHUNKING_STRATEGY", StrategyLLM),
		LLMBaseURL:             getenv("LLM_BASE_URL", "http://localhost:11434"),
		LLMModel:               os.Getenv("LLM_MODEL"),
		EmbeddingBaseURL:       getenv("EMBEDDING_BASE_URL", "http://localhost:11434"),
		EmbeddingModel:         getenv("EMBEDDING_MODEL", "all-minilm"),
		EnableSemanticChunking: true,
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.MaxFileSize = parseInt64(collect, "MAX_FILE_SIZE", 1<<30)
	cfg.EnableSemanticChunking = parseBool(collect, "ENABLE_SEMANTIC_CHUNKING", true)
	cfg.ChunkMinTokens = parseInt(collect, "CHUNK_MIN_TOKENS", 200)
	cfg.ChunkMaxTokens = parseInt(collect, "CHUNK_MAX_TOKENS", 500)
	cfg.ChunkOverlapTokens = parseInt(collect, "CHUNK_OVERLAP_TOKENS", 50)
	cfg.LLMTimeout = parseSeconds(collect, "LLM_TIMEOUT", 300)
	cfg.LLMConnectTimeout = parseSeconds(collect, "LLM_CONNECT_TIMEOUT", 60)
	cfg.LLMReadTimeout = parseSeconds(collect, "LLM_READ_TIMEOUT", 240)
	cfg.LLMMaxRetries = parseInt(collect, "LLM_MAX_RETRIES", 3)
	cfg.EmbeddingDim = parseInt(collect, "EMBEDDING_DIM", 384)
	cfg.HeartbeatInterval = parseSeconds(collect, "ACTIVITY_HEARTBEAT_INTERVAL", 5)
	cfg.HeartbeatTimeout = parseSeconds(collect, "ACTIVITY_HEARTBEAT_TIMEOUT", 300)

	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if !whisperModelSizes[cfg.WhisperModelSize] {
		errs = append(errs, fmt.Errorf("WHISPER_MODEL_SIZE %q is not one of tiny|base|small|medium|large", cfg.WhisperModelSize))
	}
	switch cfg.ChunkingStrategy {
	case StrategyLLM, StrategySentence, StrategySingle:
	default:
		errs = append(errs, fmt.Errorf("CHUNKING_STRATEGY %q is not one of llm|sentence|single", cfg.ChunkingStrategy))
	}
	if cfg.ChunkMinTokens > cfg.ChunkMaxTokens {
		errs = append(errs, fmt.Errorf("CHUNK_MIN_TOKENS (%d) exceeds CHUNK_MAX_TOKENS (%d)", cfg.ChunkMinTokens, cfg.ChunkMaxTokens))
	}

	// ENABLE_SEMANTIC_CHUNKING=false forces single-chunk transcripts
	// regardless of the configured strategy.
	if !cfg.EnableSemanticChunking {
		cfg.ChunkingStrategy = StrategySingle
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseInt(collect func(error), key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		collect(fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func parseInt64(collect func(error), key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		collect(fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func parseBool(collect func(error), key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		collect(fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func parseSeconds(collect func(error), key string, fallback int) time.Duration {
	return time.Duration(parseInt(collect, key, fallback)) * time.Second
}
