package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/audit"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/monitoring"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/redis"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/registry"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/security"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/usecase"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// CacheInvalidator drops the cached payload
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Backend is the shared Redis connection
type Backend interface {
	Ping(ctx context.Context) error
	PoolStats() redis.PoolStats
}

// Dependencies are the components the API serves
type Dependencies struct {
	Auth       usecase.AuthUsecase
	Delivery   usecase.DeliveryUsecase
	Sessions   usecase.SessionUsecase
	Access     usecase.AccessUsecase
	Registry   *registry.Registry
	Recorder   *audit.Recorder
	Cache      CacheInvalidator
	Classifier *security.Classifier
	Decoys     *security.DecoyGenerator
	Limiter    *security.RateLimiter
	Hub        *websocket.Hub
	Metrics    *monitoring.Metrics

	// Redis is nil when the in-process store is used
	Redis Backend
}

// Config contains API settings
type Config struct {
	PublicURL        string
	AdminKey         string
	OwnerIdentityIDs []string
}

// Handler serves the public and admin HTTP API
type Handler struct {
	deps Dependencies
	cfg  Config
	log  *logrus.Entry
}

// NewHandler creates the API handler
func NewHandler(deps Dependencies, cfg Config) *Handler {
	if deps.Decoys == nil {
		deps.Decoys = security.NewDecoyGenerator()
	}
	return &Handler{
		deps: deps,
		cfg:  cfg,
		log:  logger.Component("http"),
	}
}

// Routes builds the router
func (h *Handler) Routes() http.Handler {
	mm := monitoring.NewMetricsMiddleware(h.deps.Metrics)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(mm.HTTPMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Content-Type", "x-admin-key", "x-hwid", "x-roblox-id",
			"x-place-id", "x-job-id", "x-session-id",
		},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(h.rateLimit)
	r.Use(h.banGate)

	r.Get("/health", h.health)
	r.Get("/loader", h.loader)
	r.Get("/l", h.loader)
	r.Get("/api/loader", h.loader)
	r.Get("/api/loader.lua", h.loader)

	r.Post("/api/auth/challenge", h.challenge)
	r.Post("/api/auth/verify", h.verify)
	r.Post("/api/heartbeat", h.heartbeat)
	r.Post("/api/webhook/suspicious", h.suspicious)
	r.Post("/api/ban", h.shimBan)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.adminAuth)

		r.Get("/stats", h.adminStats)
		r.Get("/logs", h.adminLogs)
		r.Post("/logs/clear", h.adminClearLogs)

		r.Get("/bans", h.adminListBans)
		r.Post("/bans", h.adminBan)
		r.Delete("/bans/{id}", h.adminUnban)
		r.Post("/bans/clear", h.adminClearBans)

		r.Post("/cache/clear", h.adminClearCache)

		r.Get("/sessions", h.adminListSessions)
		r.Post("/sessions/clear", h.adminClearSessions)
		r.Post("/kill-session", h.adminKillSession)

		r.Get("/whitelist", h.adminListWhitelist)
		r.Post("/whitelist", h.adminAddWhitelist)
		r.Post("/whitelist/remove", h.adminRemoveWhitelist)

		r.Get("/suspended", h.adminListSuspended)
		r.Post("/suspend", h.adminSuspend)
		r.Post("/unsuspend", h.adminUnsuspend)

		if h.deps.Hub != nil {
			r.With(mm.WebSocketMiddleware).Get("/events", websocket.NewHandler(h.deps.Hub).ServeHTTP)
		}
	})

	return r
}

// rateLimit allows a fixed number of requests per network address per window
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Limiter != nil && !h.deps.Limiter.Allow(r.Context(), clientAddress(r)) {
			h.deps.Metrics.RecordRateLimitHit("api")
			writeJSON(w, http.StatusTooManyRequests, errorBody("Too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// gateExempt lists paths that skip the network ban gate
func gateExempt(path string) bool {
	switch {
	case strings.HasPrefix(path, "/api/admin"), strings.HasPrefix(path, "/admin"):
		return true
	case path == "/health", path == "/loader", path == "/l":
		return true
	}
	return false
}

// banGate answers banned network addresses with decoy content
func (h *Handler) banGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gateExempt(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		addr := clientAddress(r)
		ban, err := h.deps.Registry.IsBlocked(r.Context(), "", addr, "")
		if err != nil {
			// the pipeline checks again and fails closed there
			h.log.WithError(err).Warn("Ban gate lookup failed")
			next.ServeHTTP(w, r)
			return
		}
		if !ban.Blocked {
			next.ServeHTTP(w, r)
			return
		}

		view := requestView(r, nil)
		category := h.deps.Classifier.Classify(view)
		h.deps.Metrics.RecordSecurityBlock("banned_address")
		h.deps.Recorder.Record(r.Context(), domain.AccessLog{
			Action:    domain.ActionBlockedIP,
			Identity:  domain.Identity{NetworkAddress: addr},
			UserAgent: view.UserAgent,
			Client:    category.String(),
			Reason:    ban.Reason,
		})

		if category == domain.CategoryBrowser {
			writeText(w, http.StatusForbidden, "text/html; charset=utf-8", security.TrapHTML)
			return
		}
		writeText(w, http.StatusOK, "text/plain; charset=utf-8", h.deps.Decoys.Script())
	})
}

// adminAuth checks the admin key from the header or the key query parameter
func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-admin-key")
		if key == "" {
			key = r.URL.Query().Get("key")
		}
		if key == "" {
			writeJSON(w, http.StatusForbidden, errorBody("Unauthorized"))
			return
		}
		if h.cfg.AdminKey == "" {
			h.log.Error("Admin request refused: no admin key configured")
			writeJSON(w, http.StatusInternalServerError, errorBody("Server misconfigured"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.AdminKey)) != 1 {
			h.log.WithField("network_address", clientAddress(r)).Warn("Admin key mismatch")
			writeJSON(w, http.StatusForbidden, errorBody("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
