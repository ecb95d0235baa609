package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ironfront/internal/game"
)

// RouterConfig contains all dependencies needed to construct the HTTP router.
type RouterConfig struct {
	// Loop is the session's run loop (required). Handlers never touch the
	// session directly, they schedule onto the loop.
	Loop *game.Loop

	// Session is the local game session (required).
	Session *game.Session

	// Hub is the websocket relay. If nil the /ws route is not mounted.
	Hub *Hub

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	CORSOrigins []string

	// AdminToken guards the mutating control routes. Empty leaves them open.
	AdminToken string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	loop    *game.Loop
	session *game.Session
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// This function is pure: no goroutines are started and no listeners are
// opened, so it is safe to use with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS to reject early.
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		loop:    cfg.Loop,
		session: cfg.Session,
	}

	auth := NewAdminAuth(cfg.AdminToken)

	r.Route("/api", func(r chi.Router) {
		// Session state
		r.Get("/status", h.handleGetStatus)
		r.Get("/players", h.handleGetPlayers)
		r.Get("/history", h.handleGetHistory)

		// Game control, behind the admin token when one is configured
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Post("/speed", h.handleSetSpeed)
			r.Post("/pause", h.handleSetPause)
			r.Post("/sync", h.handleRequestSync)
			r.Post("/kill", h.handleKillPlayer)
			r.Post("/chat", h.handleChat)
		})
	})

	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.HandleWebSocket)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	return r
}
