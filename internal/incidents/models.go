package incidents

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an incident
type Status string

const (
	StatusActive     Status = "active"
	StatusMonitoring Status = "monitoring"
	StatusResolved   Status = "resolved"
)

// IsValid returns true for the closed set of known statuses
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusMonitoring, StatusResolved:
		return true
	}
	return false
}

// transitions is the explicit legality table for SetStatus. Resolved is
// terminal: nothing leaves it.
var transitions = map[Status][]Status{
	StatusActive:     {StatusMonitoring, StatusResolved},
	StatusMonitoring: {StatusActive, StatusResolved},
	StatusResolved:   {},
}

// CanTransition reports whether a status move is legal
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Incident is a live response event. Unlike plans, any number of
// non-resolved incidents may coexist within an organization.
type Incident struct {
	ID              uuid.UUID     `db:"id"`
	OrgID           uuid.UUID     `db:"org_id"`
	PlanID          uuid.NullUUID `db:"plan_id"`
	Title           string        `db:"title"`
	Status          Status        `db:"status"`
	CreatedByUserID uuid.UUID     `db:"created_by_user_id"`
	ActivatedAt     time.Time     `db:"activated_at"`
	ResolvedAt      sql.NullTime  `db:"resolved_at"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

// IsResolved returns true once the incident has reached its terminal state
func (i *Incident) IsResolved() bool {
	return i.Status == StatusResolved
}

// Update is an append-only log entry attached to an incident. Rows are
// immutable once created; display order is created_at descending.
type Update struct {
	ID         uuid.UUID      `db:"id"`
	IncidentID uuid.UUID      `db:"incident_id"`
	UserID     uuid.NullUUID  `db:"user_id"`
	UpdateType string         `db:"update_type"`
	Content    string         `db:"content"`
	PhotoURL   sql.NullString `db:"photo_url"`
	CreatedAt  time.Time      `db:"created_at"`
}

// IncidentResponse represents an incident in API responses
type IncidentResponse struct {
	ID          uuid.UUID  `json:"id"`
	OrgID       uuid.UUID  `json:"org_id"`
	PlanID      *uuid.UUID `json:"plan_id,omitempty"`
	Title       string     `json:"title"`
	Status      Status     `json:"status"`
	CreatedBy   uuid.UUID  `json:"created_by"`
	ActivatedAt time.Time  `json:"activated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// ToResponse converts an incident to its API representation
func (i *Incident) ToResponse() IncidentResponse {
	resp := IncidentResponse{
		ID:          i.ID,
		OrgID:       i.OrgID,
		Title:       i.Title,
		Status:      i.Status,
		CreatedBy:   i.CreatedByUserID,
		ActivatedAt: i.ActivatedAt,
	}
	if i.PlanID.Valid {
		resp.PlanID = &i.PlanID.UUID
	}
	if i.ResolvedAt.Valid {
		resp.ResolvedAt = &i.ResolvedAt.Time
	}
	return resp
}

// UpdateResponse represents an incident update in API responses
type UpdateResponse struct {
	ID         uuid.UUID  `json:"id"`
	IncidentID uuid.UUID  `json:"incident_id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	UpdateType string     `json:"update_type"`
	Content    string     `json:"content"`
	PhotoURL   string     `json:"photo_url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ToResponse converts an update to its API representation
func (u *Update) ToResponse() UpdateResponse {
	resp := UpdateResponse{
		ID:         u.ID,
		IncidentID: u.IncidentID,
		UpdateType: u.UpdateType,
		Content:    u.Content,
		CreatedAt:  u.CreatedAt,
	}
	if u.UserID.Valid {
		resp.UserID = &u.UserID.UUID
	}
	if u.PhotoURL.Valid {
		resp.PhotoURL = u.PhotoURL.String
	}
	return resp
}
