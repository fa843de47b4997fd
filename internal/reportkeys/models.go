package reportkeys

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Scope represents a permission scope for a report key
type Scope string

const (
	// ScopeIncidentAppend allows appending updates to incidents in the key's org
	ScopeIncidentAppend Scope = "incident:append"

	// ScopeIncidentRead allows reading incidents and their update logs
	ScopeIncidentRead Scope = "incident:read"
)

// IsValid returns true for the closed set of known scopes
func (s Scope) IsValid() bool {
	switch s {
	case ScopeIncidentAppend, ScopeIncidentRead:
		return true
	}
	return false
}

// ReportKey is an org-scoped credential for field integrations (radios,
// SMS gateways, mobile clients) that append incident updates without a
// user session.
type ReportKey struct {
	ID              uuid.UUID    `db:"id"`
	OrgID           uuid.UUID    `db:"org_id"`
	Name            string       `db:"name"`
	TokenHash       []byte       `db:"token_hash"`
	Scopes          []string     `db:"scopes"`
	ExpiresAt       sql.NullTime `db:"expires_at"`
	RevokedAt       sql.NullTime `db:"revoked_at"`
	LastUsedAt      sql.NullTime `db:"last_used_at"`
	CreatedByUserID uuid.UUID    `db:"created_by_user_id"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// IsRevoked returns true if the report key has been revoked
func (k *ReportKey) IsRevoked() bool {
	return k.RevokedAt.Valid
}

func (k *ReportKey) IsExpired() bool {
	return k.ExpiresAt.Valid && !k.ExpiresAt.Time.After(time.Now())
}

// IsActive returns true if the report key is usable (not revoked, not expired)
func (k *ReportKey) IsActive() bool {
	return !k.IsRevoked() && !k.IsExpired()
}

// CreatedResponse is returned once, at creation, and carries the plaintext
// token. The token is never retrievable again.
type CreatedResponse struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ListItemResponse represents a report key in list responses
type ListItemResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Expired    bool       `json:"expired"`
	RevokedAt  *time.Time `json:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

func (k *ReportKey) ToCreatedResponse(token string) CreatedResponse {
	resp := CreatedResponse{
		ID:        k.ID,
		Name:      k.Name,
		Scopes:    append([]string(nil), k.Scopes...),
		Token:     token,
		CreatedAt: k.CreatedAt,
	}
	if k.ExpiresAt.Valid {
		resp.ExpiresAt = &k.ExpiresAt.Time
	}
	return resp
}

func (k *ReportKey) ToListItemResponse() ListItemResponse {
	resp := ListItemResponse{
		ID:        k.ID,
		Name:      k.Name,
		Scopes:    append([]string(nil), k.Scopes...),
		CreatedAt: k.CreatedAt,
	}
	if k.ExpiresAt.Valid {
		resp.ExpiresAt = &k.ExpiresAt.Time
		resp.Expired = !k.ExpiresAt.Time.After(time.Now())
	}
	if k.RevokedAt.Valid {
		resp.RevokedAt = &k.RevokedAt.Time
	}
	if k.LastUsedAt.Valid {
		resp.LastUsedAt = &k.LastUsedAt.Time
	}
	return resp
}
