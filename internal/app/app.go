package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"presswise/backend/features/embedding"
	"presswise/backend/features/query"
	"presswise/backend/features/stats"
	"presswise/backend/features/sync"
	"presswise/backend/internal/adapter/gemini"
	"presswise/backend/internal/adapter/openaicompat"
	wstore "presswise/backend/internal/adapter/weaviate"
	"presswise/backend/internal/config"
	"presswise/backend/internal/finops"
	"presswise/backend/internal/middleware"
	"presswise/backend/internal/worker"
)

type App struct {
	Handler        http.Handler
	EmbedConsumer  *worker.EmbedConsumer
	ResultConsumer *worker.SyncResultConsumer

	cfg       *config.Config
	consumers []*nsq.Consumer
}

func New(cfg *config.Config, db *sql.DB, wClient *weaviate.Client, taskPub sync.EventPublisher) (*App, error) {
	providerTimeout := time.Duration(cfg.ProviderTimeoutS) * time.Second

	// Adapters
	chunkStore := wstore.NewStore(wClient)

	geminiClient, err := gemini.NewClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	fallbackClient := openaicompat.NewClient(cfg.FallbackBaseURL, cfg.FallbackAPIKey, cfg.FallbackModel, providerTimeout)

	// Cost policy
	usageRepo := finops.NewPostgresUsageRepo(db)
	policy := finops.NewPolicy(usageRepo, cfg.FinOpsSoftLimit, cfg.FinOpsHardLimit)

	// Feature: Sync
	jobRepo := sync.NewPostgresRepo(db)
	syncService := sync.NewService(jobRepo, taskPub)
	syncHandler := sync.NewHandler(syncService)

	// Feature: Embedding
	embedService := embedding.NewService(policy, chunkStore, syncService)
	embedHandler := embedding.NewHandler(embedService, cfg.WebhookSecret,
		time.Duration(cfg.WebhookMaxSkewSecs)*time.Second)

	// Feature: Query
	interactionRepo := query.NewPostgresInteractionRepo(db)
	queryService := query.NewService(geminiClient, chunkStore, geminiClient, fallbackClient,
		policy, interactionRepo, query.Defaults{
			MaxChunks:           cfg.QueryMaxChunks,
			SimilarityThreshold: cfg.QuerySimilarityThreshold,
			ProviderTimeout:     providerTimeout,
		})
	queryHandler := query.NewHandler(queryService)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobRepo, interactionRepo)

	queryLimiter := middleware.NewRateLimiter(cfg.QueryRatePerSecond, cfg.QueryRateBurst)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Organization-ID, X-Webhook-Signature, X-Webhook-Timestamp")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /syncs", middleware.CorrelationID(enableCORS(syncHandler.StartRun)))
	mux.Handle("GET /syncs/{id}/report", middleware.CorrelationID(enableCORS(syncHandler.GetReport)))

	mux.Handle("POST /webhooks/content", middleware.CorrelationID(http.HandlerFunc(embedHandler.Webhook)))
	mux.Handle("POST /embeddings/trigger", middleware.CorrelationID(enableCORS(embedHandler.Trigger)))

	mux.Handle("POST /query", middleware.CorrelationID(enableCORS(queryLimiter.Limit(queryHandler.Ask))))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	embedConsumer := worker.NewEmbedConsumer(jobRepo, geminiClient, chunkStore,
		worker.ChunkConfig{MaxChars: cfg.ChunkMaxChars, Overlap: cfg.ChunkOverlap}, providerTimeout)
	resultConsumer := worker.NewSyncResultConsumer(jobRepo, embedService)

	return &App{
		Handler:        mux,
		EmbedConsumer:  embedConsumer,
		ResultConsumer: resultConsumer,
		cfg:            cfg,
	}, nil
}

// StartConsumers subscribes the embed and sync-result consumers. The sync
// worker channel name is distinct from the external worker's so both see
// every message on their own topics.
func (a *App) StartConsumers() error {
	subscribe := func(topic string, handler nsq.Handler) error {
		consumer, err := nsq.NewConsumer(topic, "backend", nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("consumer %s: %w", topic, err)
		}
		consumer.AddHandler(handler)
		if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
			return fmt.Errorf("connect %s: %w", topic, err)
		}
		a.consumers = append(a.consumers, consumer)
		slog.Info("NSQ consumer connected", "topic", topic)
		return nil
	}

	if err := subscribe(config.TopicContentEmbed, a.EmbedConsumer); err != nil {
		return err
	}
	return subscribe(config.TopicSyncResult, a.ResultConsumer)
}

func (a *App) StopConsumers() {
	for _, c := range a.consumers {
		c.Stop()
	}
	for _, c := range a.consumers {
		<-c.StopChan
	}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
