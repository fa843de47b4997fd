package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planward/planward/internal/audit"
	"github.com/planward/planward/internal/plans"
	"github.com/rs/zerolog/log"
)

// RunRepairSweep scans every organization for single-active violations and
// repairs each one. The read path already repairs on observation, so this
// job is a backstop for orgs nobody has listed recently. Idempotent - safe
// to run repeatedly.
//
// This is the main entry point called by the cron scheduler.
func RunRepairSweep(ctx context.Context, pool *pgxpool.Pool, auditor *audit.Writer) error {
	log.Info().Msg("Starting plan repair sweep")

	startTime := time.Now()
	service := plans.NewService(pool)

	orgIDs, err := service.ListOrgsWithMultipleActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to find orgs needing repair")
		return fmt.Errorf("repair sweep scan failed: %w", err)
	}

	var repaired, archived int
	for _, orgID := range orgIDs {
		winnerID, count, err := service.Repair(ctx, orgID)
		if err != nil {
			// Keep sweeping; one bad org should not starve the rest.
			log.Error().
				Err(err).
				Str("org_id", orgID.String()).
				Msg("Failed to repair organization")
			continue
		}
		if count > 0 {
			repaired++
			archived += count
			if err := auditor.LogPlanRepaired(ctx, orgID, winnerID, count); err != nil {
				log.Error().Err(err).Msg("Failed to log audit event")
			}
		}
	}

	log.Info().
		Int("orgs_scanned", len(orgIDs)).
		Int("orgs_repaired", repaired).
		Int("plans_archived", archived).
		Dur("duration", time.Since(startTime)).
		Msg("Plan repair sweep completed")

	return nil
}
