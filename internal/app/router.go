package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planward/planward/internal/apperrors"
	"github.com/planward/planward/internal/audit"
	"github.com/planward/planward/internal/auth"
	"github.com/planward/planward/internal/config"
	"github.com/planward/planward/internal/incidents"
	"github.com/planward/planward/internal/notify"
	"github.com/planward/planward/internal/orgs"
	"github.com/planward/planward/internal/plans"
	"github.com/planward/planward/internal/reportkey"
	"github.com/planward/planward/internal/reportkeys"
)

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(pool *pgxpool.Pool, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	isProduction := !cfg.IsDev()

	// Middleware stack
	r.Use(middleware.RealIP)                 // Set RemoteAddr to real IP
	r.Use(apperrors.RequestIDMiddleware)     // Add request ID to context
	r.Use(LoggingMiddleware)                 // Structured request logging
	r.Use(RecoveryMiddleware)                // Recover from panics
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.AuthMiddleware(cfg.JWTSecret, isProduction)) // Validate session cookies

	// Shared across API routes
	auditor := audit.NewWriter(pool)
	notifier := notify.NewClient(cfg.WebhookTimeoutMS)

	// Health check routes (no authentication required)
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(pool))

	// API routes - Authentication
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)              // Set Content-Type to application/json
		r.Use(CSRFMiddleware(isProduction)) // Validate CSRF tokens

		r.Post("/signup", auth.HandleSignup(pool, auditor, cfg.JWTSecret, cfg.SessionDays, isProduction))

		// Login with rate limiting (10 requests per minute)
		r.With(LoginRateLimitMiddleware()).Post("/login", auth.HandleLogin(pool, auditor, cfg.JWTSecret, cfg.SessionDays, isProduction))

		r.With(auth.RequireAuth).Post("/logout", auth.HandleLogout(isProduction))
	})

	// API routes - Organizations (require authentication)
	r.Route("/api/v1/orgs", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)

		// Organization CRUD
		r.Post("/", orgs.HandleCreate(pool, auditor))
		r.Get("/", orgs.HandleList(pool))

		// Organization members
		r.Get("/{org_id}/members", orgs.HandleListMembers(pool))
		r.Put("/{org_id}/members/{user_id}/role", orgs.HandleUpdateMemberRole(pool, auditor))

		// Notification webhook
		r.Put("/{org_id}/webhook", orgs.HandleConfigureWebhook(pool, auditor))
		r.Delete("/{org_id}/webhook", orgs.HandleRemoveWebhook(pool, auditor))

		// Plans under organization
		r.Post("/{org_id}/plans", plans.HandleCreateDraft(pool, auditor))
		r.Get("/{org_id}/plans", plans.HandleList(pool))

		// Incidents under organization
		r.Post("/{org_id}/incidents", incidents.HandleOpen(pool, auditor, notifier))
		r.Get("/{org_id}/incidents", incidents.HandleList(pool))

		// Report keys
		r.Post("/{org_id}/report-keys", reportkeys.HandleCreate(pool, auditor))
		r.Get("/{org_id}/report-keys", reportkeys.HandleList(pool))
		r.Post("/{org_id}/report-keys/{key_id}/rotate", reportkeys.HandleRotate(pool, auditor))
		r.Delete("/{org_id}/report-keys/{key_id}", reportkeys.HandleRevoke(pool, auditor))
	})

	// API routes - Plans (require authentication)
	r.Route("/api/v1/plans", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)

		r.Get("/{plan_id}", plans.HandleGet(pool))
		r.Post("/{plan_id}/versions", plans.HandleCreateNextVersion(pool, auditor))
		r.Post("/{plan_id}/activate", plans.HandleActivate(pool, auditor, notifier))
		r.Put("/{plan_id}/content", plans.HandleUpdateContent(pool))
		r.Put("/{plan_id}/status", plans.HandleSetStatus(pool))
		r.Delete("/{plan_id}", plans.HandleDelete(pool, auditor))
	})

	// API routes - Incidents (require authentication)
	r.Route("/api/v1/incidents", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)

		r.Get("/{incident_id}", incidents.HandleGet(pool))
		r.Put("/{incident_id}/status", incidents.HandleSetStatus(pool, auditor))
		r.Post("/{incident_id}/updates", incidents.HandleAppendUpdate(pool, auditor))
		r.Get("/{incident_id}/updates", incidents.HandleListUpdates(pool))
	})

	// API routes - Report ingestion (require report key authentication)
	r.Route("/api/v1/report", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.With(
			reportkey.RequireReportKey(pool, reportkeys.ScopeIncidentAppend),
			reportkey.RateLimitByReportKey(cfg.ReportRateLimitRPM),
		).Post("/incidents/{incident_id}/updates", incidents.HandleReportAppendUpdate(pool, auditor))

		r.With(
			reportkey.RequireReportKey(pool, reportkeys.ScopeIncidentRead),
			reportkey.RateLimitByReportKey(cfg.ReportRateLimitRPM),
		).Get("/incidents/{incident_id}/updates", incidents.HandleReportListUpdates(pool))
	})

	return r
}

// handleHealthz returns a simple liveness check
// Always returns 200 OK if the service is running
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleReadyz returns a readiness check that includes database connectivity
// Returns 200 OK if service is ready to accept traffic, 503 if not
func handleReadyz(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"db":     "ok",
		})
	}
}
