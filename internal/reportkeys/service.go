package reportkeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrKeyNotFound is returned when a report key is not found
	ErrKeyNotFound = errors.New("report key not found")

	// ErrNameConflict is returned when a report key name already exists in the org
	ErrNameConflict = errors.New("report key name already exists in organization")

	// ErrKeyRevoked is returned when attempting an operation on a revoked key
	ErrKeyRevoked = errors.New("report key is revoked")
)

const keyColumns = `id, org_id, name, token_hash, scopes, expires_at, revoked_at, last_used_at,
	       created_by_user_id, created_at, updated_at`

// Service provides report key operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new report key service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func scanKey(row pgx.Row) (*ReportKey, error) {
	var key ReportKey
	err := row.Scan(
		&key.ID,
		&key.OrgID,
		&key.Name,
		&key.TokenHash,
		&key.Scopes,
		&key.ExpiresAt,
		&key.RevokedAt,
		&key.LastUsedAt,
		&key.CreatedByUserID,
		&key.CreatedAt,
		&key.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetByID retrieves a report key by ID
func (s *Service) GetByID(ctx context.Context, keyID uuid.UUID) (*ReportKey, error) {
	query := `SELECT ` + keyColumns + ` FROM report_keys WHERE id = $1`

	key, err := scanKey(s.pool.QueryRow(ctx, query, keyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get report key: %w", err)
	}

	return key, nil
}

// ListByOrg retrieves all report keys for an organization
func (s *Service) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]ReportKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM report_keys
		WHERE org_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list report keys: %w", err)
	}
	defer rows.Close()

	var keys []ReportKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report key: %w", err)
		}
		keys = append(keys, *key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report key rows: %w", err)
	}

	return keys, nil
}

// Create creates a new report key and returns it with the plaintext token
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, name string, scopes []Scope, userID uuid.UUID, expiresAt *time.Time) (*ReportKey, string, error) {
	// Generate token
	token, tokenHash, err := GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	scopeStrs := make([]string, len(scopes))
	for i, scope := range scopes {
		scopeStrs[i] = string(scope)
	}

	query := `
		INSERT INTO report_keys (org_id, name, token_hash, scopes, created_by_user_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + keyColumns

	key, err := scanKey(s.pool.QueryRow(ctx, query, orgID, name, tokenHash, scopeStrs, userID, expiresAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, "", ErrNameConflict
		}
		return nil, "", fmt.Errorf("failed to create report key: %w", err)
	}

	return key, token, nil
}

// Rotate atomically creates a new report key and revokes the old key.
// The new key inherits the old key scopes.
func (s *Service) Rotate(ctx context.Context, keyID uuid.UUID, newName string, userID uuid.UUID, expiresAt *time.Time) (newKey *ReportKey, token string, oldKey *ReportKey, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var old ReportKey
	err = tx.QueryRow(ctx, `
		SELECT id, org_id, name, scopes, expires_at, revoked_at
		FROM report_keys
		WHERE id = $1
		FOR UPDATE
	`, keyID).Scan(&old.ID, &old.OrgID, &old.Name, &old.Scopes, &old.ExpiresAt, &old.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil, ErrKeyNotFound
		}
		return nil, "", nil, fmt.Errorf("failed to load report key: %w", err)
	}
	if old.RevokedAt.Valid {
		return nil, "", nil, ErrKeyRevoked
	}

	// Generate token for the new key
	token, tokenHash, err := GenerateToken()
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	// Insert new report key (inherits scopes from old key)
	created, err := scanKey(tx.QueryRow(ctx, `
		INSERT INTO report_keys (org_id, name, token_hash, scopes, created_by_user_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+keyColumns, old.OrgID, newName, tokenHash, old.Scopes, userID, expiresAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, "", nil, ErrNameConflict
		}
		return nil, "", nil, fmt.Errorf("failed to create rotated report key: %w", err)
	}

	// Revoke old report key
	tag, err := tx.Exec(ctx, `
		UPDATE report_keys
		SET revoked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, keyID)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to revoke old report key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, "", nil, ErrKeyRevoked
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return created, token, &old, nil
}

// Revoke marks a report key as revoked
func (s *Service) Revoke(ctx context.Context, keyID uuid.UUID) error {
	query := `
		UPDATE report_keys
		SET revoked_at = $2, updated_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`

	result, err := s.pool.Exec(ctx, query, keyID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to revoke report key: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrKeyNotFound
	}

	return nil
}

// GetByTokenHash retrieves a report key by its token hash.
// This is used for authentication.
func (s *Service) GetByTokenHash(ctx context.Context, tokenHash []byte) (*ReportKey, error) {
	query := `SELECT ` + keyColumns + ` FROM report_keys WHERE token_hash = $1`

	key, err := scanKey(s.pool.QueryRow(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get report key by token: %w", err)
	}

	return key, nil
}

// UpdateLastUsed updates the last_used_at timestamp for a report key
func (s *Service) UpdateLastUsed(ctx context.Context, keyID uuid.UUID) error {
	query := `
		UPDATE report_keys
		SET last_used_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	_, err := s.pool.Exec(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}

	return nil
}
