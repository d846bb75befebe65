package routes

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/windfire/security-auth/app"
	"github.com/windfire/security-auth/config"
	"github.com/windfire/security-auth/handlers"
	"github.com/windfire/security-auth/middleware"
	"github.com/windfire/security-auth/utils"
)

// HealthPath is exempt from HTTPS enforcement so load balancers can probe it
const HealthPath = "/v1/monitor/health"

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	logger := deps.Logger
	r := chi.NewRouter()

	// Core middleware
	r.Use(deps.Metrics.HTTPMiddleware)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(chimw.Compress(5))

	// Transport security
	r.Use(middleware.SecurityHeaders)
	if cfg.Server.EnforceHTTPS {
		r.Use(middleware.EnforceHTTPS(logger, HealthPath))
	}
	if !cfg.Server.AllowsAnyHost() {
		r.Use(middleware.TrustedHosts(cfg.Server.AllowedHosts, logger))
	}
	r.Use(cors.Handler(corsOptions(cfg.Server)))

	authHandler := handlers.NewAuthHandler(deps.AuthService, logger)
	adminHandler := handlers.NewAdminHandler(deps.AuthService, logger)
	var auditDB *sql.DB
	if deps.AuditDB != nil {
		auditDB = deps.AuditDB.DB
	}
	var auditStats handlers.AuditStatsProvider
	if deps.Recorder.Enabled() {
		auditStats = deps.Recorder
	}
	healthHandler := handlers.NewHealthHandler(cfg.AppName, deps.Registry, auditDB, auditStats, logger)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, HealthPath, http.StatusTemporaryRedirect)
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/monitor", func(r chi.Router) {
			r.Get("/health", healthHandler.HandleHealth)
			r.Get("/ready", healthHandler.HandleReadiness)
		})

		r.Route("/security", func(r chi.Router) {
			r.Post("/auth", authHandler.HandleAuthenticate)
			r.Post("/refresh", authHandler.HandleRefresh)
			r.Post("/logout", authHandler.HandleLogout)
			r.Post("/service-token", authHandler.HandleServiceToken)

			// Endpoints that act on the caller's access token
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireBearer(logger))
				r.Post("/verify", authHandler.HandleVerify)
				r.Post("/introspect", authHandler.HandleIntrospect)
				r.Get("/userinfo", authHandler.HandleUserInfo)
			})
		})

		if cfg.Server.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireToken(cfg.Server.AdminToken, logger))
				r.Post("/reload", adminHandler.HandleReload)
				r.Get("/services", adminHandler.HandleListServices)
				r.Get("/audit", adminHandler.HandleListAuditEvents)
			})
		} else {
			logger.Info("ADMIN_TOKEN not set, admin endpoints disabled")
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, r, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}

// corsOptions derives allowed origins from ALLOWED_HOSTS
func corsOptions(server config.ServerConfig) cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}

	if server.AllowsAnyHost() {
		opts.AllowedOrigins = []string{"*"}
		return opts
	}

	for _, host := range server.AllowedHosts {
		host = strings.TrimSpace(host)
		if strings.HasPrefix(host, "*.") {
			opts.AllowedOrigins = append(opts.AllowedOrigins, "https://"+host)
			continue
		}
		opts.AllowedOrigins = append(opts.AllowedOrigins, "https://"+host, "http://"+host)
	}
	opts.AllowCredentials = true
	return opts
}
