package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	// ErrPlanNotFound is returned when a plan is not found
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidTransition is returned for an illegal status transition
	ErrInvalidTransition = errors.New("invalid plan status transition")

	// ErrPlanInUse is returned when deleting a plan still referenced by an
	// unresolved incident
	ErrPlanInUse = errors.New("plan is referenced by an unresolved incident")
)

const planColumns = `id, org_id, version, status, content, created_by_user_id, activated_at, created_at, updated_at`

// Service owns the plan version lifecycle: draft creation, versioning,
// activation under the single-active invariant, deletion with its
// referential guard, and read-path repair.
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new plan service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// lockOrgPlans takes a transaction-scoped advisory lock keyed on the org,
// serializing plan lifecycle writes for that organization. Row locks alone
// cannot do this: two activations of different drafts each lock their own
// target row, and under read committed the archive UPDATE only sees the
// actives from its own snapshot, so both can commit with two plans active.
func lockOrgPlans(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, orgID); err != nil {
		return fmt.Errorf("failed to lock org plans: %w", err)
	}
	return nil
}

func scanPlan(row rowScanner) (*Plan, error) {
	var plan Plan
	err := row.Scan(
		&plan.ID,
		&plan.OrgID,
		&plan.Version,
		&plan.Status,
		&plan.Content,
		&plan.CreatedByUserID,
		&plan.ActivatedAt,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetByID retrieves a plan by ID
func (s *Service) GetByID(ctx context.Context, planID uuid.UUID) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`

	plan, err := scanPlan(s.pool.QueryRow(ctx, query, planID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return plan, nil
}

// CreateDraft creates a new plan version in draft status.
// The version label is caller-supplied and is not checked for uniqueness;
// duplicate labels across time are an accepted limitation.
func (s *Service) CreateDraft(ctx context.Context, orgID uuid.UUID, version string, content json.RawMessage, userID uuid.UUID) (*Plan, error) {
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO plans (org_id, version, status, content, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + planColumns

	plan, err := scanPlan(s.pool.QueryRow(ctx, query, orgID, version, StatusDraft, content, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to create plan draft: %w", err)
	}

	return plan, nil
}

// CreateNextVersion forks an existing plan into a new draft: content is
// copied, the version label is the source's monotonic successor, and the
// source plan is left untouched regardless of its status. Forking an active
// plan is the supported "fork and revise" flow.
func (s *Service) CreateNextVersion(ctx context.Context, sourcePlanID, userID uuid.UUID) (*Plan, error) {
	query := `
		INSERT INTO plans (org_id, version, status, content, created_by_user_id)
		SELECT org_id, $2, $3, content, $4
		FROM plans
		WHERE id = $1
		RETURNING ` + planColumns

	source, err := s.GetByID(ctx, sourcePlanID)
	if err != nil {
		return nil, err
	}

	plan, err := scanPlan(s.pool.QueryRow(ctx, query, sourcePlanID, NextVersionLabel(source.Version), StatusDraft, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Source deleted between the lookup and the insert.
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to create next plan version: %w", err)
	}

	return plan, nil
}

// UpdateContent replaces a plan's content. Only drafts are editable.
func (s *Service) UpdateContent(ctx context.Context, planID uuid.UUID, content json.RawMessage) (*Plan, error) {
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}

	query := `
		UPDATE plans
		SET content = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING ` + planColumns

	plan, err := scanPlan(s.pool.QueryRow(ctx, query, planID, content, StatusDraft))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing plan from a non-editable one.
			if _, getErr := s.GetByID(ctx, planID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to update plan content: %w", err)
	}

	return plan, nil
}

// SetEditorialStatus performs a manual draft/review move. All other status
// changes are engine-owned and rejected here.
func (s *Service) SetEditorialStatus(ctx context.Context, planID uuid.UUID, newStatus Status) (*Plan, error) {
	if !newStatus.IsValid() {
		return nil, ErrInvalidTransition
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	if err := tx.QueryRow(ctx, `SELECT status FROM plans WHERE id = $1 FOR UPDATE`, planID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to load plan status: %w", err)
	}

	if !CanTransitionEditorial(current, newStatus) {
		return nil, ErrInvalidTransition
	}

	query := `
		UPDATE plans
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + planColumns

	plan, err := scanPlan(tx.QueryRow(ctx, query, planID, newStatus))
	if err != nil {
		return nil, fmt.Errorf("failed to update plan status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return plan, nil
}

// Activate transitions a draft plan to active and archives every other
// active plan of the same organization in one transaction. This is the
// primary enforcement point of the single-active invariant: activations
// serialize on a per-org advisory lock, so concurrent calls run one after
// the other and the last committed transaction wins with exactly one plan
// left active.
func (s *Service) Activate(ctx context.Context, planID uuid.UUID) (*Plan, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The org lookup is unlocked on purpose: org_id is immutable, and the
	// advisory lock must come before any row lock so Activate and Repair
	// always acquire in the same order.
	var orgID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT org_id FROM plans WHERE id = $1`, planID).Scan(&orgID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrPlanNotFound
		}
		return nil, 0, fmt.Errorf("failed to load plan: %w", err)
	}

	if err := lockOrgPlans(ctx, tx, orgID); err != nil {
		return nil, 0, err
	}

	// Re-read under the lock: the plan may have been activated, archived,
	// or deleted while this transaction waited its turn.
	var current Status
	if err := tx.QueryRow(ctx, `SELECT status FROM plans WHERE id = $1 FOR UPDATE`, planID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrPlanNotFound
		}
		return nil, 0, fmt.Errorf("failed to load plan status: %w", err)
	}

	if current != StatusDraft {
		return nil, 0, ErrInvalidTransition
	}

	tag, err := tx.Exec(ctx, `
		UPDATE plans
		SET status = $3, updated_at = NOW()
		WHERE org_id = $1 AND status = $2 AND id <> $4
	`, orgID, StatusActive, StatusArchived, planID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to archive superseded plans: %w", err)
	}
	archived := int(tag.RowsAffected())

	query := `
		UPDATE plans
		SET status = $2, activated_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + planColumns

	plan, err := scanPlan(tx.QueryRow(ctx, query, planID, StatusActive))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to activate plan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Str("plan_id", plan.ID.String()).
		Str("org_id", orgID.String()).
		Str("version", plan.Version).
		Int("archived", archived).
		Msg("Plan activated")

	return plan, archived, nil
}

// Delete removes a plan in any status, unless an unresolved incident still
// references it. The existence check and the delete share one transaction
// so a concurrent incident open cannot slip between them.
func (s *Service) Delete(ctx context.Context, planID uuid.UUID) (*Plan, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	plan, err := scanPlan(tx.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1 FOR UPDATE`, planID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	var referenced bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM incidents
			WHERE plan_id = $1 AND status <> 'resolved'
		)
	`, planID).Scan(&referenced); err != nil {
		return nil, fmt.Errorf("failed to check incident references: %w", err)
	}
	if referenced {
		return nil, ErrPlanInUse
	}

	if _, err := tx.Exec(ctx, `DELETE FROM plans WHERE id = $1`, planID); err != nil {
		return nil, fmt.Errorf("failed to delete plan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return plan, nil
}

// ListByOrg retrieves all plans for an organization, newest first. When the
// listing observes more than one active plan it runs Repair and re-reads,
// so callers never see a violated invariant.
func (s *Service) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Plan, error) {
	result, err := s.listByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	activeCount := 0
	for _, plan := range result {
		if plan.Status == StatusActive {
			activeCount++
		}
	}
	if activeCount <= 1 {
		return result, nil
	}

	log.Warn().
		Str("org_id", orgID.String()).
		Int("active_count", activeCount).
		Msg("Multiple active plans observed on read, repairing")

	if _, _, err := s.Repair(ctx, orgID); err != nil {
		return nil, err
	}

	return s.listByOrg(ctx, orgID)
}

func (s *Service) listByOrg(ctx context.Context, orgID uuid.UUID) ([]Plan, error) {
	query := `
		SELECT ` + planColumns + `
		FROM plans
		WHERE org_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var result []Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		result = append(result, *plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan rows: %w", err)
	}

	return result, nil
}
