package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/docrag/internal/api/handlers"
	"github.com/nikhilbhutani/docrag/internal/api/middleware"
	"github.com/nikhilbhutani/docrag/internal/audit"
	"github.com/nikhilbhutani/docrag/internal/auth"
	"github.com/nikhilbhutani/docrag/internal/chat"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/document"
	"github.com/nikhilbhutani/docrag/internal/keyvault"
	"github.com/nikhilbhutani/docrag/internal/rag"
	"github.com/nikhilbhutani/docrag/internal/tenant"
)

// Services are the application services behind the HTTP surface. Vault and
// Audit may be nil, in which case their routes are not mounted.
type Services struct {
	Documents *document.Service
	Chat      *chat.Service
	Retriever *rag.Retriever
	Vault     *keyvault.Service
	Audit     *audit.Service
	Health    map[string]handlers.Pinger
}

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	svc  Services
	jwt  *auth.JWTMiddleware
	rl   *middleware.RateLimiter
	stop chan struct{}
}

func NewRouter(cfg *config.Config, svc Services) *Router {
	return &Router{
		mux:  chi.NewRouter(),
		cfg:  cfg,
		svc:  svc,
		jwt:  auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
		rl:   middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		stop: make(chan struct{}),
	}
}

// Close stops background work started by Setup.
func (rt *Router) Close() {
	close(rt.stop)
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.AllowedOrigins))

	go rt.rl.Cleanup(rt.stop)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.svc.Health)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)
		r.Use(rt.rl.Limit)

		docH := handlers.NewDocumentHandler(rt.svc.Documents, rt.cfg.Ingestion.MaxFileSizeBytes(), rt.cfg.Server.MaxUploadMemory)
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/", docH.List)
			r.Get("/stats", docH.Stats)
			r.Get("/{id}", docH.Get)
			r.Get("/{id}/status", docH.Status)
			r.Post("/{id}/reprocess", docH.Reprocess)
			r.Delete("/{id}", docH.Delete)
		})

		chatH := handlers.NewChatHandler(rt.svc.Chat)
		r.Route("/chat/sessions", func(r chi.Router) {
			r.Post("/", chatH.CreateSession)
			r.Get("/", chatH.ListSessions)
			r.Get("/{id}", chatH.GetSession)
			r.Patch("/{id}", chatH.RenameSession)
			r.Delete("/{id}", chatH.DeleteSession)
			r.Get("/{id}/messages", chatH.ListMessages)
			r.Post("/{id}/messages", chatH.PostMessage)
		})

		searchH := handlers.NewSearchHandler(rt.svc.Retriever)
		r.Post("/search", searchH.Search)

		if rt.svc.Vault != nil {
			keyH := handlers.NewLLMKeyHandler(rt.svc.Vault)
			r.Route("/llm/keys", func(r chi.Router) {
				r.Use(auth.RequireRole(tenant.RoleAdmin))
				r.Get("/", keyH.List)
				r.Post("/", keyH.Create)
				r.Post("/test", keyH.TestRaw)
				r.Put("/{id}", keyH.Update)
				r.Delete("/{id}", keyH.Delete)
				r.Post("/{id}/activate", keyH.Activate)
				r.Post("/{id}/test", keyH.Test)
			})
		}

		if rt.svc.Audit != nil {
			adminH := handlers.NewAdminHandler(rt.svc.Audit)
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(tenant.RoleAdmin))
				r.Get("/audit", adminH.AuditLogs)
				r.Get("/usage", adminH.Usage)
			})
		}
	})

	return r
}
