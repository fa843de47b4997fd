package plans

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planward/planward/internal/apperrors"
	"github.com/planward/planward/internal/audit"
	"github.com/planward/planward/internal/auth"
	"github.com/planward/planward/internal/db"
	"github.com/planward/planward/internal/notify"
	"github.com/planward/planward/internal/orgs"
	"github.com/planward/planward/internal/validation"
	"github.com/rs/zerolog/log"
)

// CreateDraftRequest represents the request to create a plan draft
type CreateDraftRequest struct {
	Version string          `json:"version"`
	Content json.RawMessage `json:"content"`
}

// HandleCreateDraft handles POST /api/v1/orgs/{org_id}/plans
func HandleCreateDraft(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(r.PathValue("org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		orgService := orgs.NewService(pool)
		if _, err := orgService.RequireMutatePermission(ctx, userID, orgID); err != nil {
			writeRoleGateError(w, r, err)
			return
		}

		var req CreateDraftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if err := validation.ValidateVersionLabel(req.Version); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}

		service := NewService(pool)
		plan, err := service.CreateDraft(ctx, orgID, req.Version, req.Content, userID)
		if err != nil {
			writeServiceError(w, r, err, "Failed to create plan draft")
			return
		}

		if err := auditor.LogPlanCreated(ctx, orgID, plan.ID, userID, plan.Version); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
			// Continue - don't fail the request
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, plan.ToResponse(true))
	}
}

// HandleList handles GET /api/v1/orgs/{org_id}/plans
// The listing is repaired: it never reports more than one active plan.
func HandleList(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(r.PathValue("org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		orgService := orgs.NewService(pool)
		if _, err := orgService.RequireOrgMember(ctx, userID, orgID); err != nil {
			writeRoleGateError(w, r, err)
			return
		}

		service := NewService(pool)
		planList, err := service.ListByOrg(ctx, orgID)
		if err != nil {
			writeServiceError(w, r, err, "Failed to list plans")
			return
		}

		resp := make([]PlanResponse, len(planList))
		for i := range planList {
			resp[i] = planList[i].ToResponse(false)
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, resp)
	}
}

// HandleGet handles GET /api/v1/plans/{plan_id}
func HandleGet(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		plan, ok := loadPlanForMember(w, r, pool, userID)
		if !ok {
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, plan.ToResponse(true))
	}
}

// HandleCreateNextVersion handles POST /api/v1/plans/{plan_id}/versions
func HandleCreateNextVersion(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		source, ok := loadPlanForMutation(w, r, pool, userID)
		if !ok {
			return
		}

		service := NewService(pool)
		plan, err := service.CreateNextVersion(ctx, source.ID, userID)
		if err != nil {
			if errors.Is(err, ErrPlanNotFound) {
				apperrors.WriteNotFound(w, r, "Plan not found")
				return
			}
			writeServiceError(w, r, err, "Failed to create next plan version")
			return
		}

		if err := auditor.LogPlanVersionCreated(ctx, plan.OrgID, source.ID, plan.ID, userID, plan.Version); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, plan.ToResponse(true))
	}
}

// HandleActivate handles POST /api/v1/plans/{plan_id}/activate
func HandleActivate(pool *pgxpool.Pool, auditor *audit.Writer, notifier *notify.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		target, ok := loadPlanForMutation(w, r, pool, userID)
		if !ok {
			return
		}

		service := NewService(pool)
		plan, archived, err := service.Activate(ctx, target.ID)
		if err != nil {
			switch {
			case errors.Is(err, ErrPlanNotFound):
				apperrors.WriteNotFound(w, r, "Plan not found")
			case errors.Is(err, ErrInvalidTransition):
				apperrors.WriteInvalidTransition(w, r, "Only draft plans can be activated")
			default:
				writeServiceError(w, r, err, "Failed to activate plan")
			}
			return
		}

		if err := auditor.LogPlanActivated(ctx, plan.OrgID, plan.ID, userID, plan.Version, archived); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		orgService := orgs.NewService(pool)
		if webhookURL, err := orgService.GetWebhookURL(ctx, plan.OrgID); err == nil && webhookURL != "" {
			notifier.PostPlanActivated(ctx, webhookURL, notify.PlanActivatedMessage{
				OrgID:   plan.OrgID,
				PlanID:  plan.ID,
				Version: plan.Version,
			})
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, plan.ToResponse(false))
	}
}

// UpdateContentRequest represents the request to replace draft content
type UpdateContentRequest struct {
	Content json.RawMessage `json:"content"`
}

// HandleUpdateContent handles PUT /api/v1/plans/{plan_id}/content
func HandleUpdateContent(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		target, ok := loadPlanForMutation(w, r, pool, userID)
		if !ok {
			return
		}

		var req UpdateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		service := NewService(pool)
		plan, err := service.UpdateContent(ctx, target.ID, req.Content)
		if err != nil {
			switch {
			case errors.Is(err, ErrPlanNotFound):
				apperrors.WriteNotFound(w, r, "Plan not found")
			case errors.Is(err, ErrInvalidTransition):
				apperrors.WriteInvalidTransition(w, r, "Only draft plans can be edited")
			default:
				writeServiceError(w, r, err, "Failed to update plan content")
			}
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, plan.ToResponse(true))
	}
}

// SetStatusRequest represents a manual draft/review status move
type SetStatusRequest struct {
	Status Status `json:"status"`
}

// HandleSetStatus handles PUT /api/v1/plans/{plan_id}/status
// Only the draft/review editorial loop is reachable here; activation and
// archival are engine-owned.
func HandleSetStatus(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		target, ok := loadPlanForMutation(w, r, pool, userID)
		if !ok {
			return
		}

		var req SetStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		service := NewService(pool)
		plan, err := service.SetEditorialStatus(ctx, target.ID, req.Status)
		if err != nil {
			switch {
			case errors.Is(err, ErrPlanNotFound):
				apperrors.WriteNotFound(w, r, "Plan not found")
			case errors.Is(err, ErrInvalidTransition):
				apperrors.WriteInvalidTransition(w, r, "Illegal status transition")
			default:
				writeServiceError(w, r, err, "Failed to update plan status")
			}
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, plan.ToResponse(false))
	}
}

// HandleDelete handles DELETE /api/v1/plans/{plan_id}
func HandleDelete(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		target, ok := loadPlanForMutation(w, r, pool, userID)
		if !ok {
			return
		}

		service := NewService(pool)
		plan, err := service.Delete(ctx, target.ID)
		if err != nil {
			switch {
			case errors.Is(err, ErrPlanNotFound):
				apperrors.WriteNotFound(w, r, "Plan not found")
			case errors.Is(err, ErrPlanInUse):
				apperrors.WriteConflict(w, r, "Plan is referenced by an unresolved incident")
			default:
				writeServiceError(w, r, err, "Failed to delete plan")
			}
			return
		}

		if err := auditor.LogPlanDeleted(ctx, plan.OrgID, plan.ID, userID, plan.Version); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "deleted",
		})
	}
}

// loadPlanForMember resolves the plan from the path and requires the caller
// to be a member of its organization. Non-membership reads as 404.
func loadPlanForMember(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool, userID uuid.UUID) (*Plan, bool) {
	plan, ok := loadPlan(w, r, pool)
	if !ok {
		return nil, false
	}

	orgService := orgs.NewService(pool)
	if _, err := orgService.RequireOrgMember(r.Context(), userID, plan.OrgID); err != nil {
		if errors.Is(err, orgs.ErrNotMember) {
			apperrors.WriteNotFound(w, r, "Plan not found")
			return nil, false
		}
		log.Error().Err(err).Msg("Failed to check org membership")
		apperrors.WriteInternalError(w, r, "Failed to check permissions")
		return nil, false
	}

	return plan, true
}

// loadPlanForMutation resolves the plan from the path and requires the
// caller to hold the plan mutation capability in its organization.
func loadPlanForMutation(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool, userID uuid.UUID) (*Plan, bool) {
	plan, ok := loadPlan(w, r, pool)
	if !ok {
		return nil, false
	}

	orgService := orgs.NewService(pool)
	if _, err := orgService.RequireMutatePermission(r.Context(), userID, plan.OrgID); err != nil {
		switch {
		case errors.Is(err, orgs.ErrNotMember):
			apperrors.WriteNotFound(w, r, "Plan not found")
		case errors.Is(err, orgs.ErrInsufficientPermissions):
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
		default:
			log.Error().Err(err).Msg("Failed to check org permissions")
			apperrors.WriteInternalError(w, r, "Failed to check permissions")
		}
		return nil, false
	}

	return plan, true
}

func loadPlan(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool) (*Plan, bool) {
	planID, err := uuid.Parse(r.PathValue("plan_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid plan ID")
		return nil, false
	}

	service := NewService(pool)
	plan, err := service.GetByID(r.Context(), planID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			apperrors.WriteNotFound(w, r, "Plan not found")
			return nil, false
		}
		writeServiceError(w, r, err, "Failed to get plan")
		return nil, false
	}

	return plan, true
}

func writeRoleGateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orgs.ErrNotMember):
		apperrors.WriteNotFound(w, r, "Organization not found")
	case errors.Is(err, orgs.ErrInsufficientPermissions):
		apperrors.WriteForbidden(w, r, "Insufficient permissions")
	default:
		log.Error().Err(err).Msg("Failed to check org permissions")
		apperrors.WriteInternalError(w, r, "Failed to check permissions")
	}
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
