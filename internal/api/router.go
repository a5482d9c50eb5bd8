package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docstream/internal/api/handlers"
	"github.com/nikhilbhutani/docstream/internal/api/middleware"
	"github.com/nikhilbhutani/docstream/internal/auth"
	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/cache"
	"github.com/nikhilbhutani/docstream/internal/config"
	"github.com/nikhilbhutani/docstream/internal/dispatch"
	"github.com/nikhilbhutani/docstream/internal/document"
	"github.com/nikhilbhutani/docstream/internal/llm"
	"github.com/nikhilbhutani/docstream/internal/queue"
	"github.com/nikhilbhutani/docstream/internal/storage"
	"github.com/nikhilbhutani/docstream/internal/usage"
)

const documentCacheTTL = 15 * time.Minute

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	llmGW llm.Gateway
	queue *queue.Client
}

// NewRouter wires the HTTP front door. db may be nil, in which case documents
// live in memory and usage reporting is unavailable.
func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		llmGW: llm.NewGateway(cfg.LLM),
		queue: queue.NewClient(cfg.Redis),
	}
}

// Close releases the task queue connection.
func (rt *Router) Close() error {
	return rt.queue.Close()
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins))

	rl := middleware.NewRateLimiter(rt.cfg.Server.RateLimitRPS, rt.cfg.Server.RateLimitBurst)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	checks := map[string]handlers.Pinger{
		"redis": handlers.PingFunc(func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() }),
	}
	if rt.db != nil {
		checks["database"] = rt.db
	}
	health := handlers.NewHealthHandler(checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Initialize services
	b := broker.NewRedisBroker(rt.redis)
	caller := dispatch.NewClient(
		dispatch.NewPublisher(b),
		dispatch.NewWaiter(b,
			dispatch.WithScanBlock(rt.cfg.Streams.ScanBlock),
			dispatch.WithScanBatch(rt.cfg.Streams.ScanBatch),
			dispatch.WithPollInterval(rt.cfg.Streams.PollInterval),
		),
		rt.cfg.Streams.WaitTimeout,
	)

	docSvc := rt.documentService()
	var usageReport handlers.UsageReporter
	if rt.db != nil {
		usageReport = usage.NewRecorder(rt.db)
	}

	docH := handlers.NewDocumentHandler(docSvc, rt.cfg.Server.MaxUploadBytes)
	reqH := handlers.NewRequestHandler(caller, docSvc)
	modelsH := handlers.NewModelsHandler(rt.llmGW)
	adminH := handlers.NewAdminHandler(usageReport, rt.queue)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if rt.cfg.Auth.JWTSecret != "" {
			r.Use(auth.NewJWTMiddleware(rt.cfg.Auth.JWTSecret).Authenticate)
		}

		r.Get("/models", modelsH.List)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/", docH.List)
			r.Get("/{id}", docH.Get)
		})
		r.Post("/upload_pdf", docH.Upload)

		r.Post("/summarize", reqH.Summarize)
		r.Post("/ask_question", reqH.AskQuestion)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/usage", adminH.Usage)
			r.Post("/sweep", adminH.Sweep)
		})
	})

	return r
}

func (rt *Router) documentService() *document.Service {
	var repo document.Repository = document.NewMemoryRepository()
	if rt.db != nil {
		repo = document.NewPostgresRepository(rt.db)
	}

	opts := []document.Option{
		document.WithCache(cache.NewCache(rt.redis, "document:content:"), documentCacheTTL),
	}
	if rt.cfg.Storage.SupabaseURL != "" {
		store := storage.NewSupabaseStorage(rt.cfg.Storage.SupabaseURL, rt.cfg.Storage.SupabaseKey)
		opts = append(opts, document.WithStorage(store, rt.cfg.Storage.Bucket))
	}
	return document.NewService(repo, opts...)
}
