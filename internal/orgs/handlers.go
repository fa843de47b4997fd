package orgs

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
	"github.com/planward/planward/internal/validation"
	"github.com/rs/zerolog/log"
)

// CreateRequest represents the request to create an organization
type CreateRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// OrgResponse represents an organization in API responses
type OrgResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	Role       OrgRole   `json:"role,omitempty"`
	WebhookSet bool      `json:"webhook_set"`
	CreatedAt  time.Time `json:"created_at"`
}

// HandleCreate handles POST /api/v1/orgs
func HandleCreate(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if req.Name == "" {
			apperrors.WriteBadRequest(w, r, "Organization name is required")
			return
		}

		req.Slug = validation.NormalizeSlug(req.Slug)
		if err := validation.ValidateSlug(req.Slug); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}

		service := NewService(pool)
		org, err := service.CreateWithAdmin(ctx, req.Name, req.Slug, userID)
		if err != nil {
			if errors.Is(err, ErrSlugConflict) {
				apperrors.WriteConflict(w, r, "Organization slug already exists")
				return
			}
			log.Error().Err(err).Msg("Failed to create organization")
			apperrors.WriteInternalError(w, r, "Failed to create organization")
			return
		}

		if err := auditor.LogOrgCreated(ctx, org.ID, userID, org.Slug); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
			// Continue - don't fail the request
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, OrgResponse{
			ID:        org.ID,
			Name:      org.Name,
			Slug:      org.Slug,
			Role:      RoleAdmin,
			CreatedAt: org.CreatedAt,
		})
	}
}

// HandleList handles GET /api/v1/orgs
func HandleList(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		service := NewService(pool)
		userOrgs, err := service.ListUserOrgs(ctx, userID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list organizations")
			apperrors.WriteInternalError(w, r, "Failed to list organizations")
			return
		}

		resp := make([]OrgResponse, len(userOrgs))
		for i, org := range userOrgs {
			resp[i] = OrgResponse{
				ID:         org.ID,
				Name:       org.Name,
				Slug:       org.Slug,
				Role:       org.Role,
				WebhookSet: org.HasWebhookConfigured(),
				CreatedAt:  org.CreatedAt,
			}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, resp)
	}
}

// HandleListMembers handles GET /api/v1/orgs/{org_id}/members
func HandleListMembers(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(r.PathValue("org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		service := NewService(pool)
		if _, err := service.RequireOrgMember(ctx, userID, orgID); err != nil {
			if errors.Is(err, ErrNotMember) {
				apperrors.WriteNotFound(w, r, "Organization not found")
				return
			}
			log.Error().Err(err).Msg("Failed to check org membership")
			apperrors.WriteInternalError(w, r, "Failed to check permissions")
			return
		}

		members, err := service.ListMembers(ctx, orgID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list members")
			apperrors.WriteInternalError(w, r, "Failed to list members")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, members)
	}
}

// UpdateMemberRoleRequest represents the request to change a member's role
type UpdateMemberRoleRequest struct {
	Role OrgRole `json:"role"`
}

// HandleUpdateMemberRole handles PUT /api/v1/orgs/{org_id}/members/{user_id}
func HandleUpdateMemberRole(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorUserID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(r.PathValue("org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		targetUserID, err := uuid.Parse(r.PathValue("user_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid user ID")
			return
		}

		var req UpdateMemberRoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		service := NewService(pool)
		previousRole, err := service.UpdateMemberRole(ctx, orgID, actorUserID, targetUserID, req.Role)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidOrgRole):
				apperrors.WriteBadRequest(w, r, "Invalid role")
			case errors.Is(err, ErrNotMember):
				apperrors.WriteNotFound(w, r, "Organization not found")
			case errors.Is(err, ErrMemberNotFound):
				apperrors.WriteNotFound(w, r, "Member not found")
			case errors.Is(err, ErrInsufficientPermissions):
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
			case errors.Is(err, ErrCannotDemoteLastAdmin):
				apperrors.WriteConflict(w, r, "Cannot demote the last admin")
			default:
				log.Error().Err(err).Msg("Failed to update member role")
				apperrors.WriteInternalError(w, r, "Failed to update member role")
			}
			return
		}

		if err := auditor.LogOrgMemberRoleUpdated(ctx, orgID, actorUserID, targetUserID, string(previousRole), string(req.Role)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"previous_role": string(previousRole),
			"role":          string(req.Role),
		})
	}
}

// WebhookConfigRequest represents the request to configure the org webhook
type WebhookConfigRequest struct {
	WebhookURL string `json:"webhook_url"`
}

// HandleConfigureWebhook handles PUT /api/v1/orgs/{org_id}/webhook
func HandleConfigureWebhook(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(r.PathValue("org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		service := NewService(pool)
		if _, err := service.RequireAdmin(ctx, userID, orgID); err != nil {
			writeRoleGateError(w, r, err)
			return
		}

		var req WebhookConfigRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if err := validation.ValidateWebhookURL(req.WebhookURL); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}

		if err := service.SetWebhookURL(ctx, orgID, req.WebhookURL); err != nil {
			log.Error().Err(err).Msg("Failed to configure webhook")
			apperrors.WriteInternalError(w, r, "Failed to configure webhook")
			return
		}

		if err := auditor.LogOrgWebhookConfigured(ctx, orgID, userID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]bool{
			"webhook_set": true,
		})
	}
}

// HandleRemoveWebhook handles DELETE /api/v1/orgs/{org_id}/webhook
func HandleRemoveWebhook(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(r.PathValue("org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		service := NewService(pool)
		if _, err := service.RequireAdmin(ctx, userID, orgID); err != nil {
			writeRoleGateError(w, r, err)
			return
		}

		if err := service.ClearWebhookURL(ctx, orgID); err != nil {
			log.Error().Err(err).Msg("Failed to remove webhook")
			apperrors.WriteInternalError(w, r, "Failed to remove webhook")
			return
		}

		if err := auditor.LogOrgWebhookCleared(ctx, orgID, userID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]bool{
			"webhook_set": false,
		})
	}
}

// writeRoleGateError maps role gate failures to HTTP responses.
// Non-membership is reported as 404 to avoid leaking org existence.
func writeRoleGateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotMember):
		apperrors.WriteNotFound(w, r, "Organization not found")
	case errors.Is(err, ErrInsufficientPermissions):
		apperrors.WriteForbidden(w, r, "Insufficient permissions")
	default:
		log.Error().Err(err).Msg("Failed to check org permissions")
		apperrors.WriteInternalError(w, r, "Failed to check permissions")
	}
}
