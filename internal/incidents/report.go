package incidents

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planward/planward/internal/apperrors"
	"github.com/planward/planward/internal/audit"
	"github.com/planward/planward/internal/reportkey"
	"github.com/planward/planward/internal/validation"
	"github.com/rs/zerolog/log"
)

// HandleReportAppendUpdate handles POST /api/v1/report/incidents/{incident_id}/updates
// Authenticated with a report key rather than a user session. The entry is
// recorded without an author; the key is identified in the audit trail.
func HandleReportAppendUpdate(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		keyOrgID := reportkey.GetOrgID(ctx)

		target, ok := loadIncidentForKey(w, r, pool, keyOrgID)
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
		update, err := service.AppendUpdate(ctx, target.ID, nil, req.UpdateType, req.Content, req.PhotoURL)
		if err != nil {
			if errors.Is(err, ErrIncidentNotFound) {
				apperrors.WriteNotFound(w, r, "Incident not found")
				return
			}
			writeServiceError(w, r, err, "Failed to append incident update")
			return
		}

		if err := auditor.LogIncidentUpdateAppended(ctx, target.OrgID, target.ID, nil, update.UpdateType); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, update.ToResponse())
	}
}

// HandleReportListUpdates handles GET /api/v1/report/incidents/{incident_id}/updates
func HandleReportListUpdates(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		keyOrgID := reportkey.GetOrgID(ctx)

		target, ok := loadIncidentForKey(w, r, pool, keyOrgID)
		if !ok {
			return
		}

		service := NewService(pool)
		updates, err := service.ListUpdates(ctx, target.ID)
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

// loadIncidentForKey resolves the incident from the path and requires it to
// belong to the report key's organization. Cross-org lookups read as 404 so
// keys cannot probe incident IDs outside their org.
func loadIncidentForKey(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool, keyOrgID uuid.UUID) (*Incident, bool) {
	incident, ok := loadIncident(w, r, pool)
	if !ok {
		return nil, false
	}

	if incident.OrgID != keyOrgID {
		apperrors.WriteNotFound(w, r, "Incident not found")
		return nil, false
	}

	return incident, true
}
