package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpdateMemberRole changes a member's role. Only admins may change roles,
// and the last remaining admin cannot be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, actorUserID, targetUserID uuid.UUID, newRole OrgRole) (previousRole OrgRole, err error) {
	if !newRole.IsValid() {
		return "", ErrInvalidOrgRole
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var actorRole OrgRole
	if err := tx.QueryRow(ctx, `
		SELECT role
		FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, actorUserID).Scan(&actorRole); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotMember
		}
		return "", fmt.Errorf("failed to load actor role: %w", err)
	}
	if actorRole != RoleAdmin {
		return "", ErrInsufficientPermissions
	}

	var currentRole OrgRole
	if err := tx.QueryRow(ctx, `
		SELECT role
		FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
		FOR UPDATE
	`, orgID, targetUserID).Scan(&currentRole); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMemberNotFound
		}
		return "", fmt.Errorf("failed to load member role: %w", err)
	}

	if currentRole == RoleAdmin && newRole != RoleAdmin {
		rows, err := tx.Query(ctx, `
			SELECT user_id
			FROM org_memberships
			WHERE org_id = $1 AND role = $2
			FOR UPDATE
		`, orgID, RoleAdmin)
		if err != nil {
			return "", fmt.Errorf("failed to lock admins: %w", err)
		}
		var admins int
		for rows.Next() {
			admins++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return "", fmt.Errorf("failed to lock admins: %w", err)
		}
		rows.Close()
		if admins <= 1 {
			return "", ErrCannotDemoteLastAdmin
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE org_memberships
		SET role = $3, updated_at = NOW()
		WHERE org_id = $1 AND user_id = $2
	`, orgID, targetUserID, newRole); err != nil {
		return "", fmt.Errorf("failed to update member role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return currentRole, nil
}

// AddMember inserts a membership row for a user who is not yet a member.
// Only admins may add members.
func (s *Service) AddMember(ctx context.Context, orgID, actorUserID, targetUserID uuid.UUID, role OrgRole) error {
	if !role.IsValid() {
		return ErrInvalidOrgRole
	}

	actorRole, err := s.GetUserOrgRole(ctx, actorUserID, orgID)
	if err != nil {
		return err
	}
	if actorRole != RoleAdmin {
		return ErrInsufficientPermissions
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, user_id) DO NOTHING
	`, orgID, targetUserID, role)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}
