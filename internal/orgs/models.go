package orgs

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// OrgRole represents a user's role within an organization
type OrgRole string

const (
	RoleAdmin  OrgRole = "ADMIN"
	RoleEditor OrgRole = "EDITOR"
	RoleViewer OrgRole = "VIEWER"
)

// IsValid returns true for the closed set of known roles
func (r OrgRole) IsValid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanMutate returns true if the role may modify plans and incidents
func (r OrgRole) CanMutate() bool {
	return r == RoleAdmin || r == RoleEditor
}

// CanManageBilling returns true if the role may manage the org's subscription.
// Billing flows live outside this service; collaborators call this gate.
func (r OrgRole) CanManageBilling() bool {
	return r == RoleAdmin
}

// Org represents an organization in the system
type Org struct {
	ID              uuid.UUID      `db:"id"`
	Name            string         `db:"name"`
	Slug            string         `db:"slug"`
	WebhookURL      sql.NullString `db:"webhook_url"`
	CreatedByUserID uuid.UUID      `db:"created_by_user_id"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// HasWebhookConfigured returns true if a notification webhook is set
func (o *Org) HasWebhookConfigured() bool {
	return o.WebhookURL.Valid && o.WebhookURL.String != ""
}

// Membership represents a user's membership in an organization
type Membership struct {
	OrgID     uuid.UUID `db:"org_id"`
	UserID    uuid.UUID `db:"user_id"`
	Role      OrgRole   `db:"role"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OrgWithRole combines org information with the user's role
type OrgWithRole struct {
	Org
	Role OrgRole `db:"role"`
}

// MemberInfo represents a member of an organization with their details
type MemberInfo struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Email     string    `db:"email" json:"email"`
	Role      OrgRole   `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
