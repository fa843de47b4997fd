package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	EventUserSignup            = "user.signup"
	EventLoginFailed           = "auth.login_failed"
	EventOrgCreated            = "org.created"
	EventOrgMemberRoleUpdated  = "org.member_role_updated"
	EventOrgWebhookConfigured  = "org.webhook_configured"
	EventOrgWebhookCleared     = "org.webhook_cleared"
	EventPlanCreated           = "plan.created"
	EventPlanVersionCreated    = "plan.version_created"
	EventPlanActivated         = "plan.activated"
	EventPlanDeleted           = "plan.deleted"
	EventPlanRepaired          = "plan.repaired"
	EventIncidentOpened        = "incident.opened"
	EventIncidentStatusChanged = "incident.status_changed"
	EventIncidentUpdateAdded   = "incident.update_appended"
	EventReportKeyCreated      = "reportkey.created"
	EventReportKeyRevoked      = "reportkey.revoked"
)

// Event represents an audit log entry.
type Event struct {
	ID          uuid.UUID              `db:"id"`
	OrgID       uuid.NullUUID          `db:"org_id"`
	PlanID      uuid.NullUUID          `db:"plan_id"`
	IncidentID  uuid.NullUUID          `db:"incident_id"`
	ActorUserID uuid.NullUUID          `db:"actor_user_id"`
	Action      string                 `db:"action"`
	Meta        map[string]interface{} `db:"meta"`
	CreatedAt   time.Time              `db:"created_at"`
}

// Writer provides methods to write audit log entries.
type Writer struct {
	pool *pgxpool.Pool
}

func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	OrgID       *uuid.UUID
	PlanID      *uuid.UUID
	IncidentID  *uuid.UUID
	ActorUserID *uuid.UUID
	Action      string
	Meta        map[string]interface{}
}

func (w *Writer) Log(ctx context.Context, params LogParams) error {
	metaJSON := []byte("{}")
	if params.Meta != nil {
		b, err := json.Marshal(params.Meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit meta")
			return err
		}
		metaJSON = b
	}

	query := `
		INSERT INTO audit_log (org_id, plan_id, incident_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := w.pool.Exec(ctx, query,
		toNullUUID(params.OrgID),
		toNullUUID(params.PlanID),
		toNullUUID(params.IncidentID),
		toNullUUID(params.ActorUserID),
		params.Action,
		metaJSON,
	)
	if err != nil {
		log.Error().Err(err).Str("action", params.Action).Msg("Failed to write audit log")
		return err
	}

	log.Info().
		Str("action", params.Action).
		Interface("org_id", params.OrgID).
		Interface("actor_user_id", params.ActorUserID).
		Msg("Audit event logged")

	return nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (w *Writer) LogUserSignup(ctx context.Context, userID uuid.UUID, email string) error {
	return w.Log(ctx, LogParams{
		ActorUserID: &userID,
		Action:      EventUserSignup,
		Meta: map[string]interface{}{
			"email": email,
		},
	})
}

func (w *Writer) LogLoginFailed(ctx context.Context, email, ip string) error {
	return w.Log(ctx, LogParams{
		Action: EventLoginFailed,
		Meta: map[string]interface{}{
			"email": email,
			"ip":    ip,
		},
	})
}

func (w *Writer) LogOrgCreated(ctx context.Context, orgID, userID uuid.UUID, slug string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventOrgCreated,
		Meta: map[string]interface{}{
			"slug": slug,
		},
	})
}

func (w *Writer) LogOrgMemberRoleUpdated(ctx context.Context, orgID, actorUserID, targetUserID uuid.UUID, previousRole, newRole string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventOrgMemberRoleUpdated,
		Meta: map[string]interface{}{
			"target_user_id": targetUserID.String(),
			"previous_role":  previousRole,
			"new_role":       newRole,
		},
	})
}

func (w *Writer) LogOrgWebhookConfigured(ctx context.Context, orgID, userID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventOrgWebhookConfigured,
		Meta:        map[string]interface{}{},
	})
}

func (w *Writer) LogOrgWebhookCleared(ctx context.Context, orgID, userID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventOrgWebhookCleared,
		Meta:        map[string]interface{}{},
	})
}

func (w *Writer) LogPlanCreated(ctx context.Context, orgID, planID, userID uuid.UUID, version string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		PlanID:      &planID,
		ActorUserID: &userID,
		Action:      EventPlanCreated,
		Meta: map[string]interface{}{
			"version": version,
		},
	})
}

func (w *Writer) LogPlanVersionCreated(ctx context.Context, orgID, sourcePlanID, newPlanID, userID uuid.UUID, version string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		PlanID:      &newPlanID,
		ActorUserID: &userID,
		Action:      EventPlanVersionCreated,
		Meta: map[string]interface{}{
			"source_plan_id": sourcePlanID.String(),
			"version":        version,
		},
	})
}

func (w *Writer) LogPlanActivated(ctx context.Context, orgID, planID, userID uuid.UUID, version string, archivedCount int) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		PlanID:      &planID,
		ActorUserID: &userID,
		Action:      EventPlanActivated,
		Meta: map[string]interface{}{
			"version":        version,
			"archived_count": archivedCount,
		},
	})
}

func (w *Writer) LogPlanDeleted(ctx context.Context, orgID, planID, userID uuid.UUID, version string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		PlanID:      &planID,
		ActorUserID: &userID,
		Action:      EventPlanDeleted,
		Meta: map[string]interface{}{
			"version": version,
		},
	})
}

// LogPlanRepaired records a read-path correction of the single-active
// invariant. No actor: repair is a system action.
func (w *Writer) LogPlanRepaired(ctx context.Context, orgID, winnerPlanID uuid.UUID, archivedCount int) error {
	return w.Log(ctx, LogParams{
		OrgID:  &orgID,
		PlanID: &winnerPlanID,
		Action: EventPlanRepaired,
		Meta: map[string]interface{}{
			"archived_count": archivedCount,
		},
	})
}

func (w *Writer) LogIncidentOpened(ctx context.Context, orgID, incidentID, userID uuid.UUID, planID *uuid.UUID) error {
	meta := map[string]interface{}{}
	if planID != nil {
		meta["plan_id"] = planID.String()
	}
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		IncidentID:  &incidentID,
		ActorUserID: &userID,
		Action:      EventIncidentOpened,
		Meta:        meta,
	})
}

func (w *Writer) LogIncidentStatusChanged(ctx context.Context, orgID, incidentID, userID uuid.UUID, previousStatus, newStatus string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		IncidentID:  &incidentID,
		ActorUserID: &userID,
		Action:      EventIncidentStatusChanged,
		Meta: map[string]interface{}{
			"previous_status": previousStatus,
			"new_status":      newStatus,
		},
	})
}

func (w *Writer) LogIncidentUpdateAppended(ctx context.Context, orgID, incidentID uuid.UUID, userID *uuid.UUID, updateType string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		IncidentID:  &incidentID,
		ActorUserID: userID,
		Action:      EventIncidentUpdateAdded,
		Meta: map[string]interface{}{
			"update_type": updateType,
		},
	})
}

func (w *Writer) LogReportKeyCreated(ctx context.Context, orgID, keyID, userID uuid.UUID, name string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventReportKeyCreated,
		Meta: map[string]interface{}{
			"report_key_id": keyID.String(),
			"name":          name,
		},
	})
}

func (w *Writer) LogReportKeyRevoked(ctx context.Context, orgID, keyID, userID uuid.UUID, name string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventReportKeyRevoked,
		Meta: map[string]interface{}{
			"report_key_id": keyID.String(),
			"name":          name,
		},
	})
}
