package reportkey

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planward/planward/internal/apperrors"
	"github.com/planward/planward/internal/reportkeys"
	"github.com/rs/zerolog/log"
)

// RequireReportKey is middleware that validates report key authentication.
// It checks for a valid key in the Authorization header and validates the
// required scope.
func RequireReportKey(pool *pgxpool.Pool, requiredScope reportkeys.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, err := ExtractToken(r)
			if err != nil {
				if errors.Is(err, ErrMissingKey) {
					apperrors.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Missing Authorization header")
					return
				}
				apperrors.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header")
				return
			}

			key, err := ValidateKey(ctx, pool, token)
			if err != nil {
				if err == ErrInvalidKey || err == ErrRevokedKey || err == ErrExpiredKey {
					apperrors.WriteError(w, r, http.StatusUnauthorized, "invalid_report_key", "Invalid report key")
					return
				}
				log.Error().Err(err).Msg("Failed to validate report key")
				apperrors.WriteInternalError(w, r, "Authentication failed")
				return
			}

			if err := ValidateScope(key, requiredScope); err != nil {
				apperrors.WriteError(w, r, http.StatusForbidden, "forbidden", fmt.Sprintf("Report key missing required scope: %s", requiredScope))
				return
			}

			// Update last_used_at timestamp (fire and forget)
			go func() {
				if err := UpdateLastUsed(ctx, pool, key.ID); err != nil {
					log.Error().Err(err).Str("report_key_id", key.ID.String()).Msg("Failed to update last_used_at")
				}
			}()

			ctx = WithReportKey(ctx, key)
			ctx = WithOrgID(ctx, key.OrgID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitByReportKey creates a rate limiter that limits requests per key.
// The limit is specified in requests per minute.
func RateLimitByReportKey(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			key := GetReportKey(r.Context())
			if key == nil {
				// Shouldn't happen after RequireReportKey; fall back to IP
				return httprate.KeyByIP(r)
			}
			return fmt.Sprintf("reportkey:%s", key.ID.String()), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			key := GetReportKey(r.Context())
			if key != nil {
				log.Warn().
					Str("report_key_id", key.ID.String()).
					Str("report_key_name", key.Name).
					Str("path", r.URL.Path).
					Msg("Rate limit exceeded")
			}

			w.Header().Set("Retry-After", "60")
			apperrors.WriteError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded. Please retry after 60 seconds.")
		}),
	)
}
