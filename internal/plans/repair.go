package plans

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// activeCandidate is the subset of plan fields the repair winner selection
// orders by.
type activeCandidate struct {
	ID          uuid.UUID
	ActivatedAt sql.NullTime
	CreatedAt   time.Time
}

// repairWinner selects the plan that stays active when several are. The
// order is total: latest activated_at first (plans never activated sort
// last), then latest created_at, then greatest id. A total order makes
// repair deterministic and idempotent no matter how often or concurrently
// it runs.
func repairWinner(candidates []activeCandidate) activeCandidate {
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if beats(c, winner) {
			winner = c
		}
	}
	return winner
}

func beats(a, b activeCandidate) bool {
	switch {
	case a.ActivatedAt.Valid != b.ActivatedAt.Valid:
		return a.ActivatedAt.Valid
	case a.ActivatedAt.Valid && !a.ActivatedAt.Time.Equal(b.ActivatedAt.Time):
		return a.ActivatedAt.Time.After(b.ActivatedAt.Time)
	case !a.CreatedAt.Equal(b.CreatedAt):
		return a.CreatedAt.After(b.CreatedAt)
	default:
		return a.ID.String() > b.ID.String()
	}
}

// Repair restores the single-active invariant for one organization. It is a
// no-op when at most one plan is active; otherwise the winner keeps its
// status and every other active plan is archived in one batch write. The
// whole pass holds the same per-org advisory lock as Activate, so an
// overlapping activation cannot promote a plan the scan never saw; the two
// serialize rather than corrupt each other.
//
// A correction here means some earlier activation bypassed the atomic path,
// which is worth surfacing; the pass logs a warning with the affected IDs.
// Returns the surviving plan's ID (uuid.Nil when nothing needed repair) and
// the number of plans archived.
func (s *Service) Repair(ctx context.Context, orgID uuid.UUID) (uuid.UUID, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockOrgPlans(ctx, tx, orgID); err != nil {
		return uuid.Nil, 0, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, activated_at, created_at
		FROM plans
		WHERE org_id = $1 AND status = $2
		FOR UPDATE
	`, orgID, StatusActive)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("failed to lock active plans: %w", err)
	}

	var candidates []activeCandidate
	for rows.Next() {
		var c activeCandidate
		if err := rows.Scan(&c.ID, &c.ActivatedAt, &c.CreatedAt); err != nil {
			rows.Close()
			return uuid.Nil, 0, fmt.Errorf("failed to scan active plan: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return uuid.Nil, 0, fmt.Errorf("error iterating active plans: %w", err)
	}
	rows.Close()

	if len(candidates) <= 1 {
		if err := tx.Commit(ctx); err != nil {
			return uuid.Nil, 0, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return uuid.Nil, 0, nil
	}

	winner := repairWinner(candidates)

	loserIDs := make([]uuid.UUID, 0, len(candidates)-1)
	for _, c := range candidates {
		if c.ID != winner.ID {
			loserIDs = append(loserIDs, c.ID)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE plans
		SET status = $2, updated_at = NOW()
		WHERE id = ANY($1)
	`, loserIDs, StatusArchived)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("failed to archive plans during repair: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	archived := int(tag.RowsAffected())
	log.Warn().
		Str("org_id", orgID.String()).
		Str("winner_plan_id", winner.ID.String()).
		Int("archived", archived).
		Msg("Repaired single-active invariant violation")

	return winner.ID, archived, nil
}

// ListOrgsWithMultipleActive returns the organizations currently holding
// more than one active plan. Used by the periodic backstop sweep.
func (s *Service) ListOrgsWithMultipleActive(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT org_id
		FROM plans
		WHERE status = $1
		GROUP BY org_id
		HAVING COUNT(*) > 1
	`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query orgs with multiple active plans: %w", err)
	}
	defer rows.Close()

	var orgIDs []uuid.UUID
	for rows.Next() {
		var orgID uuid.UUID
		if err := rows.Scan(&orgID); err != nil {
			return nil, fmt.Errorf("failed to scan org id: %w", err)
		}
		orgIDs = append(orgIDs, orgID)
	}

	return orgIDs, rows.Err()
}
