package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/promptlib/internal/api/handlers"
	"github.com/nikhilbhutani/promptlib/internal/api/middleware"
	"github.com/nikhilbhutani/promptlib/internal/audit"
	"github.com/nikhilbhutani/promptlib/internal/auth"
	"github.com/nikhilbhutani/promptlib/internal/cache"
	"github.com/nikhilbhutani/promptlib/internal/config"
	"github.com/nikhilbhutani/promptlib/internal/llm"
	"github.com/nikhilbhutani/promptlib/internal/metrics"
	"github.com/nikhilbhutani/promptlib/internal/moderation"
	"github.com/nikhilbhutani/promptlib/internal/project"
	"github.com/nikhilbhutani/promptlib/internal/prompt"
	"github.com/nikhilbhutani/promptlib/internal/webhook"
)

type Router struct {
	mux      *chi.Mux
	db       *pgxpool.Pool
	redis    *redis.Client
	cfg      *config.Config
	queue    webhook.Enqueuer
	metrics  *metrics.Metrics
	projects *project.Service
	jwt      *auth.JWTMiddleware
	apikey   *auth.APIKeyMiddleware
	rbac     *auth.RBAC
	llmGW    llm.Gateway
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, q webhook.Enqueuer, cfg *config.Config) *Router {
	projects := project.NewService(db)
	return &Router{
		mux:      chi.NewRouter(),
		db:       db,
		redis:    rdb,
		cfg:      cfg,
		queue:    q,
		metrics:  metrics.New(),
		projects: projects,
		jwt:      auth.NewJWTMiddleware(cfg.Auth.JWTSecret, projects),
		apikey:   auth.NewAPIKeyMiddleware(auth.NewPGKeyStore(db), cfg.Auth.APIKeyHeader, projects),
		rbac:     auth.NewRBAC(auth.NewPGRoleStore(db)),
		llmGW:    llm.NewGateway(cfg.LLM),
	}
}

// Setup builds the HTTP handler. ctx bounds background work such as rate
// limiter cleanup.
func (rt *Router) Setup(ctx context.Context) http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(rt.metrics.Middleware)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins, rt.cfg.Auth.APIKeyHeader))

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(map[string]handlers.Check{
		"database": rt.db.Ping,
		"redis":    func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() },
	})
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", rt.metrics.Handler())

	// Initialize services
	promptSvc := prompt.NewService(rt.db)
	auditSvc := audit.NewService(rt.db)
	webhookSvc := webhook.NewService(rt.db, rt.queue)

	var versions prompt.VersionStore = promptSvc
	var invalidator moderation.Invalidator
	if rt.cfg.Cache.VersionTTL > 0 {
		cached := prompt.NewCachedStore(promptSvc, cache.NewCache(rt.redis, rt.cfg.Cache.Prefix), rt.cfg.Cache.VersionTTL)
		versions, invalidator = cached, cached
	}
	moderationSvc := moderation.NewService(promptSvc, webhookSvc, auditSvc, invalidator)

	rl := middleware.NewRateLimiter(ctx, rt.cfg.Server.RateLimit, rt.cfg.Server.RateLimit*2)

	r.Route("/api/v1", func(r chi.Router) {
		// Auth: try API key first, then JWT
		r.Use(rt.apikey.Authenticate)
		r.Use(rt.jwt.Authenticate)
		r.Use(rl.Limit)

		read := rt.rbac.RequirePermission(auth.PermPromptsRead)
		write := rt.rbac.RequirePermission(auth.PermPromptsWrite)

		promptH := handlers.NewPromptHandler(promptSvc, rt.projects, auditSvc)
		moderationH := handlers.NewModerationHandler(moderationSvc)
		r.Route("/prompts", func(r chi.Router) {
			r.With(write).Post("/", promptH.Create)
			r.With(read).Get("/", promptH.List)
			r.With(read).Get("/{id}", promptH.Get)
			r.With(read).Get("/{id}/tags", promptH.Tags)
			r.With(write).Post("/{id}/versions", promptH.CreateVersion)
			r.With(read).Get("/{id}/versions/{versionID}", promptH.GetVersion)
			r.With(write).Post("/{id}/versions/{versionID}/variables", promptH.CreateVariables)
			r.With(write).Post("/{id}/versions/{versionID}/publish", moderationH.Publish)
		})
		r.With(read).Get("/tags", promptH.RankedTags)
		r.With(read).Get("/authors/{authorID}/stats", promptH.AuthorStats)

		predictH := handlers.NewPredictHandler(prompt.NewPipeline(versions), rt.llmGW, auditSvc, rt.metrics)
		r.Group(func(r chi.Router) {
			r.Use(rt.rbac.RequirePermission(auth.PermPromptsPredict))
			r.Post("/predict", predictH.Predict)
			r.Post("/predict/stream", predictH.PredictStream)
			r.Post("/conversation", predictH.Conversation)
			r.Get("/models", predictH.Models)
		})

		r.Route("/moderation", func(r chi.Router) {
			r.Use(rt.rbac.RequirePermission(auth.PermPromptsModerate))
			r.Post("/{versionID}/approve", moderationH.Approve)
			r.Post("/{versionID}/reject", moderationH.Reject)
		})

		webhookH := handlers.NewWebhookHandler(webhookSvc)
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(rt.rbac.RequirePermission(auth.PermWebhooksManage))
			r.Post("/", webhookH.Create)
			r.Get("/", webhookH.List)
			r.Delete("/{id}", webhookH.Delete)
		})

		adminH := handlers.NewAdminHandler(auditSvc)
		r.Route("/admin", func(r chi.Router) {
			r.Use(rt.rbac.RequirePermission(auth.PermAdminRead))
			r.Get("/usage", adminH.Usage)
			r.Get("/audit", adminH.AuditLogs)
		})
	})

	return r
}
