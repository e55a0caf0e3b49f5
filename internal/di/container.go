package di

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"incident-orchestrator/internal/adapter/extract"
	"incident-orchestrator/internal/adapter/httpapi"
	"incident-orchestrator/internal/adapter/lexical"
	"incident-orchestrator/internal/adapter/llm"
	"incident-orchestrator/internal/adapter/vector"
	"incident-orchestrator/internal/checkpoint"
	"incident-orchestrator/internal/domain"
	"incident-orchestrator/internal/infra/config"
	"incident-orchestrator/internal/infra/httpclient"
	"incident-orchestrator/internal/infra/metrics"
	"incident-orchestrator/internal/pipeline"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	Orchestrator *pipeline.Orchestrator
	Handler      *httpapi.Handler
	Checkpoints  checkpoint.Store
	Recorder     *metrics.Recorder
}

// NewApplicationComponents wires the pipeline and its collaborators from
// config, the database pool, and an optional Prometheus recorder.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, recorder *metrics.Recorder, log *slog.Logger) *ApplicationComponents {
	httpTimeout := time.Duration(cfg.HTTPTimeoutSec) * time.Second
	ollamaHTTP := httpclient.NewPooledClient(httpTimeout)
	indexerHTTP := httpclient.NewPooledClient(30 * time.Second)

	// Completion stack: Ollama wrapped with retry, rate limiting, and a
	// prompt-keyed cache.
	var completion domain.CompletionClient = llm.NewOllamaClient(cfg.OllamaURL, cfg.CompletionModel, ollamaHTTP)

	retryPolicy := pipeline.DefaultRetryPolicy()
	if cfg.LLMRetryAttempts > 0 {
		retryPolicy.MaxAttempts = uint(cfg.LLMRetryAttempts)
	}
	var onRetry func()
	if recorder != nil {
		onRetry = recorder.ProviderRetried
	}
	completion = pipeline.WithRetry(completion, retryPolicy, onRetry)

	if cfg.LLMRateLimitRPS > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.LLMRateLimitRPS), 1)
		completion = pipeline.WithRateLimit(completion, limiter)
	}
	if cfg.LLMCacheSize > 0 {
		completion = pipeline.WithCache(completion, cfg.LLMCacheSize, time.Duration(cfg.LLMCacheTTLSec)*time.Second)
	}

	embedder := llm.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel, ollamaHTTP, log)
	vectorSearcher := vector.NewPGVectorSearcher(pool, embedder, cfg.TopK, log)

	var lexicalSearcher domain.LexicalSearcher
	if cfg.IndexerURL != "" {
		lexicalSearcher = lexical.NewIndexerClient(cfg.IndexerURL, indexerHTTP)
		log.Info("lexical_search_enabled", slog.String("url", cfg.IndexerURL))
	}

	extractor := extract.NewExtractor(completion, log)

	policy := pipeline.DefaultPolicy()
	policy.UseHyDE = cfg.UseHyDE
	policy.UseMultiQuery = cfg.UseMultiQuery
	policy.MultiQueryAlts = cfg.MultiQueryAlts
	policy.TopK = cfg.TopK
	policy.UseRRF = cfg.UseRRF
	policy.MinConfidence = cfg.MinConfidence
	policy.MaxCtxChars = cfg.MaxCtxChars
	policy.StrictCitation = cfg.StrictCitation

	// Checkpoints go to Redis when an address is configured; the in-memory
	// store keeps single-node deployments working without one.
	var store checkpoint.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = checkpoint.NewRedisStore(client, time.Duration(cfg.CheckpointTTLSec)*time.Second)
		log.Info("checkpoint_store_redis", slog.String("addr", cfg.RedisAddr))
	} else {
		store = checkpoint.NewMemoryStore()
	}

	opts := []pipeline.Option{pipeline.WithCheckpointSaver(store)}
	if recorder != nil {
		opts = append(opts, pipeline.WithRecorder(recorder))
	}

	orchestrator := pipeline.New(pipeline.Deps{
		LLM:       completion,
		Vector:    vectorSearcher,
		Lexical:   lexicalSearcher,
		Extractor: extractor,
	}, policy, log, opts...)

	handler := httpapi.NewHandler(
		orchestrator, pool,
		cfg.AnswerCacheSize, time.Duration(cfg.AnswerCacheTTLSec)*time.Second,
		log,
	)

	return &ApplicationComponents{
		Orchestrator: orchestrator,
		Handler:      handler,
		Checkpoints:  store,
		Recorder:     recorder,
	}
}
