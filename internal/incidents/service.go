package incidents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	// ErrIncidentNotFound is returned when an incident is not found
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrInvalidTransition is returned for an illegal status transition
	ErrInvalidTransition = errors.New("invalid incident status transition")

	// ErrPlanOrgMismatch is returned when the referenced plan belongs to a
	// different organization than the incident
	ErrPlanOrgMismatch = errors.New("referenced plan belongs to a different organization")

	// ErrPlanRefNotFound is returned when the referenced plan does not exist
	ErrPlanRefNotFound = errors.New("referenced plan not found")
)

const incidentColumns = `id, org_id, plan_id, title, status, created_by_user_id, activated_at, resolved_at, created_at, updated_at`

// Service owns incident lifecycle transitions and the append-only update
// log. It depends on plans only to validate the optional plan reference at
// open time.
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new incident service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var incident Incident
	err := row.Scan(
		&incident.ID,
		&incident.OrgID,
		&incident.PlanID,
		&incident.Title,
		&incident.Status,
		&incident.CreatedByUserID,
		&incident.ActivatedAt,
		&incident.ResolvedAt,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// GetByID retrieves an incident by ID
func (s *Service) GetByID(ctx context.Context, incidentID uuid.UUID) (*Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(s.pool.QueryRow(ctx, query, incidentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return incident, nil
}

// Open creates a new active incident. The plan reference is optional; when
// supplied it must belong to the same organization, recording the plan in
// force at the moment the incident was raised. The reference check and the
// insert share one transaction, and a plan deleted in the gap surfaces as
// the FK violation mapped back to ErrPlanRefNotFound.
func (s *Service) Open(ctx context.Context, orgID uuid.UUID, planID *uuid.UUID, title string, userID uuid.UUID) (*Incident, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if planID != nil {
		var planOrgID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT org_id FROM plans WHERE id = $1`, *planID).Scan(&planOrgID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrPlanRefNotFound
			}
			return nil, fmt.Errorf("failed to check plan reference: %w", err)
		}
		if planOrgID != orgID {
			return nil, ErrPlanOrgMismatch
		}
	}

	query := `
		INSERT INTO incidents (org_id, plan_id, title, status, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + incidentColumns

	var planRef uuid.NullUUID
	if planID != nil {
		planRef = uuid.NullUUID{UUID: *planID, Valid: true}
	}

	incident, err := scanIncident(tx.QueryRow(ctx, query, orgID, planRef, title, StatusActive, userID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return nil, ErrPlanRefNotFound
		}
		return nil, fmt.Errorf("failed to open incident: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Str("incident_id", incident.ID.String()).
		Str("org_id", orgID.String()).
		Msg("Incident opened")

	return incident, nil
}

// SetStatus applies a status transition from the legality table. The
// resolved_at stamp is set exactly when the incident enters resolved and,
// since resolved is terminal, is never touched again.
func (s *Service) SetStatus(ctx context.Context, incidentID uuid.UUID, newStatus Status) (*Incident, error) {
	if !newStatus.IsValid() {
		return nil, ErrInvalidTransition
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	if err := tx.QueryRow(ctx, `SELECT status FROM incidents WHERE id = $1 FOR UPDATE`, incidentID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to load incident status: %w", err)
	}

	if !CanTransition(current, newStatus) {
		return nil, ErrInvalidTransition
	}

	var query string
	if newStatus == StatusResolved {
		query = `
			UPDATE incidents
			SET status = $2, resolved_at = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING ` + incidentColumns
	} else {
		query = `
			UPDATE incidents
			SET status = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING ` + incidentColumns
	}

	incident, err := scanIncident(tx.QueryRow(ctx, query, incidentID, newStatus))
	if err != nil {
		return nil, fmt.Errorf("failed to update incident status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return incident, nil
}

// AppendUpdate inserts an immutable log entry. There is no status
// precondition: updates may land in any status, including resolved, so
// post-mortem notes remain possible. The author is nullable for updates
// appended through report keys.
func (s *Service) AppendUpdate(ctx context.Context, incidentID uuid.UUID, userID *uuid.UUID, updateType, content, photoURL string) (*Update, error) {
	// Existence check keeps the NotFound error distinct from an FK failure.
	if _, err := s.GetByID(ctx, incidentID); err != nil {
		return nil, err
	}

	var author uuid.NullUUID
	if userID != nil {
		author = uuid.NullUUID{UUID: *userID, Valid: true}
	}

	var photo any
	if photoURL != "" {
		photo = photoURL
	}

	var update Update
	query := `
		INSERT INTO incident_updates (incident_id, user_id, update_type, content, photo_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, incident_id, user_id, update_type, content, photo_url, created_at
	`

	err := s.pool.QueryRow(ctx, query, incidentID, author, updateType, content, photo).Scan(
		&update.ID,
		&update.IncidentID,
		&update.UserID,
		&update.UpdateType,
		&update.Content,
		&update.PhotoURL,
		&update.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append incident update: %w", err)
	}

	return &update, nil
}

// ListUpdates retrieves the update log for an incident, newest first. The
// id tiebreak keeps the order stable across reads when timestamps collide.
func (s *Service) ListUpdates(ctx context.Context, incidentID uuid.UUID) ([]Update, error) {
	if _, err := s.GetByID(ctx, incidentID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, incident_id, user_id, update_type, content, photo_url, created_at
		FROM incident_updates
		WHERE incident_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incident updates: %w", err)
	}
	defer rows.Close()

	var updates []Update
	for rows.Next() {
		var update Update
		err := rows.Scan(
			&update.ID,
			&update.IncidentID,
			&update.UserID,
			&update.UpdateType,
			&update.Content,
			&update.PhotoURL,
			&update.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident update: %w", err)
		}
		updates = append(updates, update)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incident update rows: %w", err)
	}

	return updates, nil
}

// ListByOrg retrieves all incidents for an organization, newest first
func (s *Service) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE org_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var result []Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		result = append(result, *incident)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incident rows: %w", err)
	}

	return result, nil
}
