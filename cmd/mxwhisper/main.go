package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"goa.design/clue/log"

	"github.com/mixware/mxwhisper/chunk"
	"github.com/mixware/mxwhisper/config"
	"github.com/mixware/mxwhisper/embed"
	"github.com/mixware/mxwhisper/fetch"
	"github.com/mixware/mxwhisper/media"
	"github.com/mixware/mxwhisper/pipeline"
	"github.com/mixware/mxwhisper/progress"
	"github.com/mixware/mxwhisper/progress/inmem"
	progressredis "github.com/mixware/mxwhisper/progress/redis"
	"github.com/mixware/mxwhisper/store"
	"github.com/mixware/mxwhisper/topics"
	"github.com/mixware/mxwhisper/transcribe"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	var (
		migrateOnlyF = flag.Bool("migrate-only", false, "Apply schema migrations and exit")
		dbgF         = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf(ctx, err, "schema migration failed")
	}
	if *migrateOnlyF {
		log.Print(ctx, log.KV{K: "msg", V: "migrations applied"})
		return
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf(ctx, err, "database connection failed")
	}
	defer db.Close()

	content, err := media.New(cfg.UploadDir, cfg.MaxFileSize, media.NewFFProbe(""))
	if err != nil {
		log.Fatalf(ctx, err, "content store init failed")
	}
	content.SweepStaging(ctx, time.Hour)

	// An empty REDIS_ADDR keeps progress in-process; with Redis the API tier
	// can subscribe from another process.
	var bus progress.Bus
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf(ctx, err, "redis connection failed")
		}
		bus = progressredis.New(rdb)
		log.Print(ctx, log.KV{K: "msg", V: "progress bus"}, log.KV{K: "backend", V: "redis"})
	} else {
		bus = inmem.New()
		log.Print(ctx, log.KV{K: "msg", V: "progress bus"}, log.KV{K: "backend", V: "inmem"})
	}

	stt := transcribe.NewWhisperCPP(cfg.WhisperBin, "ffmpeg",
		cfg.WhisperModelDir, cfg.WhisperModelSize, os.TempDir())
	fetcher := fetch.NewYTDLP(cfg.YTDLPBin)
	llm := chunk.NewSSEClient(apiBase(cfg.LLMBaseURL), cfg.LLMModel, "", chunk.Timeouts{
		Request: cfg.LLMTimeout,
		Connect: cfg.LLMConnectTimeout,
		Read:    cfg.LLMReadTimeout,
	})
	chunker := chunk.New(chunk.Options{
		Strategy:      cfg.ChunkingStrategy,
		MinTokens:     cfg.ChunkMinTokens,
		MaxTokens:     cfg.ChunkMaxTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
		MaxRetries:    cfg.LLMMaxRetries,
	}, llm)
	embedder := embed.New(apiBase(cfg.EmbeddingBaseURL), "", cfg.EmbeddingModel, cfg.EmbeddingDim)
	classifier := topics.NewClassifier(apiBase(cfg.LLMBaseURL), "", cfg.LLMModel)

	tc, err := client.Dial(client.Options{HostPort: cfg.TemporalHost})
	if err != nil {
		log.Fatalf(ctx, err, "temporal connection failed")
	}
	defer tc.Close()

	activities := pipeline.NewActivities(cfg, db, content, fetcher, stt,
		chunker, embedder, classifier, bus)
	w := pipeline.NewWorker(tc, cfg.TaskQueue, activities)

	log.Print(ctx, log.KV{K: "msg", V: "worker starting"},
		log.KV{K: "task_queue", V: cfg.TaskQueue},
		log.KV{K: "temporal", V: cfg.TemporalHost})
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf(ctx, err, "worker stopped")
	}
}

// apiBase normalizes an endpoint base URL to include the /v1 prefix the
// OpenAI-compatible clients expect.
func apiBase(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}
