package reportkey

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planward/planward/internal/reportkeys"
)

var (
	// ErrMissingKey is returned when no report key is provided
	ErrMissingKey = errors.New("missing report key in Authorization header")

	// ErrInvalidKey is returned when the report key is invalid
	ErrInvalidKey = errors.New("invalid report key")

	// ErrRevokedKey is returned when the report key has been revoked
	ErrRevokedKey = errors.New("report key has been revoked")

	// ErrExpiredKey is returned when the report key has expired
	ErrExpiredKey = errors.New("report key has expired")

	// ErrInsufficientScope is returned when the report key doesn't have the required scope
	ErrInsufficientScope = errors.New("report key does not have required scope")
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// contextKeyReportKey is the context key for storing the authenticated report key
	contextKeyReportKey contextKey = "reportkey"

	// contextKeyOrgID is the context key for storing the key's org ID
	contextKeyOrgID contextKey = "reportkey_org_id"
)

// ExtractToken extracts the report key token from the Authorization header
// Expected format: "Authorization: Bearer <token>"
func ExtractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingKey
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("invalid Authorization header format, expected 'Bearer <token>'")
	}

	token := parts[1]
	if token == "" {
		return "", ErrMissingKey
	}

	return token, nil
}

// HashToken hashes a report key token using SHA-256
func HashToken(token string) []byte {
	hash := sha256.Sum256([]byte(token))
	return hash[:]
}

// ValidateKey validates a report key token and returns the key
func ValidateKey(ctx context.Context, pool *pgxpool.Pool, token string) (*reportkeys.ReportKey, error) {
	tokenHash := HashToken(token)

	service := reportkeys.NewService(pool)
	key, err := service.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, reportkeys.ErrKeyNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("failed to validate report key: %w", err)
	}

	if key.RevokedAt.Valid {
		return nil, ErrRevokedKey
	}

	if key.ExpiresAt.Valid && !key.ExpiresAt.Time.After(time.Now()) {
		return nil, ErrExpiredKey
	}

	return key, nil
}

// ValidateScope checks if the report key has the required scope
func ValidateScope(key *reportkeys.ReportKey, requiredScope reportkeys.Scope) error {
	for _, scope := range key.Scopes {
		if scope == string(requiredScope) {
			return nil
		}
	}
	return ErrInsufficientScope
}

// UpdateLastUsed updates the last_used_at timestamp for a report key
func UpdateLastUsed(ctx context.Context, pool *pgxpool.Pool, keyID uuid.UUID) error {
	service := reportkeys.NewService(pool)
	return service.UpdateLastUsed(ctx, keyID)
}

// WithReportKey adds the report key to the request context
func WithReportKey(ctx context.Context, key *reportkeys.ReportKey) context.Context {
	return context.WithValue(ctx, contextKeyReportKey, key)
}

// GetReportKey retrieves the report key from the request context
func GetReportKey(ctx context.Context) *reportkeys.ReportKey {
	key, ok := ctx.Value(contextKeyReportKey).(*reportkeys.ReportKey)
	if !ok {
		return nil
	}
	return key
}

// WithOrgID adds the key's org ID to the request context
func WithOrgID(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKeyOrgID, orgID)
}

// GetOrgID retrieves the key's org ID from the request context
func GetOrgID(ctx context.Context) uuid.UUID {
	orgID, ok := ctx.Value(contextKeyOrgID).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return orgID
}
