package reportkeys

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planward/planward/internal/apperrors"
	"github.com/planward/planward/internal/audit"
	"github.com/planward/planward/internal/auth"
	"github.com/planward/planward/internal/db"
	"github.com/planward/planward/internal/orgs"
	"github.com/rs/zerolog/log"
)

// CreateRequest represents the request to create a report key
type CreateRequest struct {
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HandleCreate handles POST /api/v1/orgs/{org_id}/report-keys
// Key management is admin-only: a leaked report key can write to every
// incident in the org.
func HandleCreate(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, ok := requireOrgAdmin(w, r, pool, userID)
		if !ok {
			return
		}

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if req.Name == "" {
			apperrors.WriteBadRequest(w, r, "Report key name is required")
			return
		}
		if len(req.Scopes) == 0 {
			apperrors.WriteBadRequest(w, r, "At least one scope is required")
			return
		}

		scopes := make([]Scope, len(req.Scopes))
		for i, s := range req.Scopes {
			scope := Scope(s)
			if !scope.IsValid() {
				apperrors.WriteBadRequest(w, r, "Unknown scope: "+s)
				return
			}
			scopes[i] = scope
		}

		service := NewService(pool)
		key, token, err := service.Create(ctx, orgID, req.Name, scopes, userID, req.ExpiresAt)
		if err != nil {
			if errors.Is(err, ErrNameConflict) {
				apperrors.WriteConflict(w, r, "A report key with this name already exists")
				return
			}
			writeServiceError(w, r, err, "Failed to create report key")
			return
		}

		if err := auditor.LogReportKeyCreated(ctx, orgID, key.ID, userID, key.Name); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, key.ToCreatedResponse(token))
	}
}

// HandleList handles GET /api/v1/orgs/{org_id}/report-keys
func HandleList(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, ok := requireOrgAdmin(w, r, pool, userID)
		if !ok {
			return
		}

		service := NewService(pool)
		keys, err := service.ListByOrg(ctx, orgID)
		if err != nil {
			writeServiceError(w, r, err, "Failed to list report keys")
			return
		}

		resp := make([]ListItemResponse, len(keys))
		for i := range keys {
			resp[i] = keys[i].ToListItemResponse()
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, resp)
	}
}

// RotateRequest represents the request to rotate a report key
type RotateRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HandleRotate handles POST /api/v1/orgs/{org_id}/report-keys/{key_id}/rotate
func HandleRotate(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, ok := requireOrgAdmin(w, r, pool, userID)
		if !ok {
			return
		}

		keyID, err := uuid.Parse(r.PathValue("key_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid report key ID")
			return
		}

		var req RotateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.Name == "" {
			apperrors.WriteBadRequest(w, r, "Report key name is required")
			return
		}

		service := NewService(pool)

		// The path org must own the key; otherwise pretend it doesn't exist.
		existing, err := service.GetByID(ctx, keyID)
		if err != nil || existing.OrgID != orgID {
			apperrors.WriteNotFound(w, r, "Report key not found")
			return
		}

		newKey, token, oldKey, err := service.Rotate(ctx, keyID, req.Name, userID, req.ExpiresAt)
		if err != nil {
			switch {
			case errors.Is(err, ErrKeyNotFound):
				apperrors.WriteNotFound(w, r, "Report key not found")
			case errors.Is(err, ErrKeyRevoked):
				apperrors.WriteConflict(w, r, "Report key is already revoked")
			case errors.Is(err, ErrNameConflict):
				apperrors.WriteConflict(w, r, "A report key with this name already exists")
			default:
				writeServiceError(w, r, err, "Failed to rotate report key")
			}
			return
		}

		if err := auditor.LogReportKeyRevoked(ctx, orgID, oldKey.ID, userID, oldKey.Name); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}
		if err := auditor.LogReportKeyCreated(ctx, orgID, newKey.ID, userID, newKey.Name); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, newKey.ToCreatedResponse(token))
	}
}

// HandleRevoke handles DELETE /api/v1/orgs/{org_id}/report-keys/{key_id}
func HandleRevoke(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, ok := requireOrgAdmin(w, r, pool, userID)
		if !ok {
			return
		}

		keyID, err := uuid.Parse(r.PathValue("key_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid report key ID")
			return
		}

		service := NewService(pool)

		existing, err := service.GetByID(ctx, keyID)
		if err != nil || existing.OrgID != orgID {
			apperrors.WriteNotFound(w, r, "Report key not found")
			return
		}

		if err := service.Revoke(ctx, keyID); err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				apperrors.WriteNotFound(w, r, "Report key not found")
				return
			}
			writeServiceError(w, r, err, "Failed to revoke report key")
			return
		}

		if err := auditor.LogReportKeyRevoked(ctx, orgID, existing.ID, userID, existing.Name); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{"status": "revoked"})
	}
}

func requireOrgAdmin(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool, userID uuid.UUID) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(r.PathValue("org_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid organization ID")
		return uuid.Nil, false
	}

	orgService := orgs.NewService(pool)
	if _, err := orgService.RequireAdmin(r.Context(), userID, orgID); err != nil {
		switch {
		case errors.Is(err, orgs.ErrNotMember):
			apperrors.WriteNotFound(w, r, "Organization not found")
		case errors.Is(err, orgs.ErrInsufficientPermissions):
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
		default:
			log.Error().Err(err).Msg("Failed to check org permissions")
			apperrors.WriteInternalError(w, r, "Failed to check permissions")
		}
		return uuid.Nil, false
	}

	return orgID, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if db.IsUnavailable(err) {
		log.Error().Err(err).Msg("Storage unavailable")
		apperrors.WriteStorageUnavailable(w, r)
		return
	}
	log.Error().Err(err).Msg(message)
	apperrors.WriteInternalError(w, r, message)
}
