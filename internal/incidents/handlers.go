package incidents

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

// OpenRequest represents the request to open an incident
type OpenRequest struct {
	Title  string     `json:"title"`
	PlanID *uuid.UUID `json:"plan_id,omitempty"`
}

// HandleOpen handles POST /api/v1/orgs/{org_id}/incidents
func HandleOpen(pool *pgxpool.Pool, auditor *audit.Writer, notifier *notify.Client) http.HandlerFunc {
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

		var req OpenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if req.Title == "" {
			apperrors.WriteBadRequest(w, r, "Incident title is required")
			return
		}

		service := NewService(pool)
		incident, err := service.Open(ctx, orgID, req.PlanID, req.Title, userID)
		if err != nil {
			switch {
			case errors.Is(err, ErrPlanRefNotFound):
				apperrors.WriteInvalidReference(w, r, "Referenced plan not found")
			case errors.Is(err, ErrPlanOrgMismatch):
				apperrors.WriteInvalidReference(w, r, "Referenced plan belongs to a different organization")
			default:
				writeServiceError(w, r, err, "Failed to open incident")
			}
			return
		}

		if err := auditor.LogIncidentOpened(ctx, orgID, incident.ID, userID, req.PlanID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
			// Continue - don't fail the request
		}

		if webhookURL, err := orgService.GetWebhookURL(ctx, orgID); err == nil && webhookURL != "" {
			notifier.PostIncidentOpened(ctx, webhookURL, notify.IncidentOpenedMessage{
				OrgID:      orgID,
				IncidentID: incident.ID,
				Title:      incident.Title,
			})
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, incident.ToResponse())
	}
}

// HandleList handles GET /api/v1/orgs/{org_id}/incidents
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
		incidentList, err := service.ListByOrg(ctx, orgID)
		if err != nil {
			writeServiceError(w, r, err, "Failed to list incidents")
			return
		}

		resp := make([]IncidentResponse, len(incidentList))
		for i := range incidentList {
			resp[i] = incidentList[i].ToResponse()
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, resp)
	}
}

// HandleGet handles GET /api/v1/incidents/{incident_id}
func HandleGet(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		incident, ok := loadIncidentForMember(w, r, pool, userID)
		if !ok {
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, incident.ToResponse())
	}
}

// SetStatusRequest represents the request to transition an incident
type SetStatusRequest struct {
	Status Status `json:"status"`
}

// HandleSetStatus handles PUT /api/v1/incidents/{incident_id}/status
func HandleSetStatus(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		target, ok := loadIncident(w, r, pool)
		if !ok {
			return
		}

		orgService := orgs.NewService(pool)
		if _, err := orgService.RequireMutatePermission(ctx, userID, target.OrgID); err != nil {
			writeIncidentRoleGateError(w, r, err)
			return
		}

		var req SetStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		service := NewService(pool)
		incident, err := service.SetStatus(ctx, target.ID, req.Status)
		if err != nil {
			switch {
			case errors.Is(err, ErrIncidentNotFound):
				apperrors.WriteNotFound(w, r, "Incident not found")
			case errors.Is(err, ErrInvalidTransition):
				apperrors.WriteInvalidTransition(w, r, "Illegal incident status transition")
			default:
				writeServiceError(w, r, err, "Failed to update incident status")
			}
			return
		}

		if err := auditor.LogIncidentStatusChanged(ctx, incident.OrgID, incident.ID, userID, string(target.Status), string(incident.Status)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, incident.ToResponse())
	}
}

// AppendUpdateRequest represents the request to append an update
type AppendUpdateRequest struct {
	UpdateType string `json:"update_type"`
	Content    string `json:"content"`
	PhotoURL   string `json:"photo_url,omitempty"`
}

// HandleAppendUpdate handles POST /api/v1/incidents/{incident_id}/updates
// Any member may append, regardless of role: incident logging is
// deliberately broader than plan or incident mutation.
func HandleAppendUpdate(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		target, ok := loadIncidentForMember(w, r, pool, userID)
		if !ok {
			return
		}

		var req AppendUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if err := validation.ValidateUpdateType(req.UpdateType); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}
		if req.Content == "" {
			apperrors.WriteBadRequest(w, r, "Update content is required")
			return
		}

		service := NewService(pool)
		update, err := service.AppendUpdate(ctx, target.ID, &userID, req.UpdateType, req.Content, req.PhotoURL)
		if err != nil {
			if errors.Is(err, ErrIncidentNotFound) {
				apperrors.WriteNotFound(w, r, "Incident not found")
				return
			}
			writeServiceError(w, r, err, "Failed to append incident update")
			return
		}

		if err := auditor.LogIncidentUpdateAppended(ctx, target.OrgID, target.ID, &userID, update.UpdateType); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, update.ToResponse())
	}
}

// HandleListUpdates handles GET /api/v1/incidents/{incident_id}/updates
func HandleListUpdates(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		target, ok := loadIncidentForMember(w, r, pool, userID)
		if !ok {
			return
		}

		service := NewService(pool)
		updates, err := service.ListUpdates(r.Context(), target.ID)
		if err != nil {
			if errors.Is(err, ErrIncidentNotFound) {
				apperrors.WriteNotFound(w, r, "Incident not found")
				return
			}
			writeServiceError(w, r, err, "Failed to list incident updates")
			return
		}

		resp := make([]UpdateResponse, len(updates))
		for i := range updates {
			resp[i] = updates[i].ToResponse()
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, resp)
	}
}

func loadIncident(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool) (*Incident, bool) {
	incidentID, err := uuid.Parse(r.PathValue("incident_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid incident ID")
		return nil, false
	}

	service := NewService(pool)
	incident, err := service.GetByID(r.Context(), incidentID)
	if err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			apperrors.WriteNotFound(w, r, "Incident not found")
			return nil, false
		}
		writeServiceError(w, r, err, "Failed to get incident")
		return nil, false
	}

	return incident, true
}

// loadIncidentForMember resolves the incident from the path and requires
// the caller to be a member of its organization.
func loadIncidentForMember(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool, userID uuid.UUID) (*Incident, bool) {
	incident, ok := loadIncident(w, r, pool)
	if !ok {
		return nil, false
	}

	orgService := orgs.NewService(pool)
	if _, err := orgService.RequireOrgMember(r.Context(), userID, incident.OrgID); err != nil {
		if errors.Is(err, orgs.ErrNotMember) {
			apperrors.WriteNotFound(w, r, "Incident not found")
			return nil, false
		}
		log.Error().Err(err).Msg("Failed to check org membership")
		apperrors.WriteInternalError(w, r, "Failed to check permissions")
		return nil, false
	}

	return incident, true
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

func writeIncidentRoleGateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orgs.ErrNotMember):
		apperrors.WriteNotFound(w, r, "Incident not found")
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
