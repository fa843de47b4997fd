package plans

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a plan version
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReview   Status = "review"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// IsValid returns true for the closed set of known statuses
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusReview, StatusActive, StatusArchived:
		return true
	}
	return false
}

// editorialTransitions lists the manual status moves callers may make
// directly. Activation and supersession-archival are engine-owned and go
// through Activate, never through this table.
var editorialTransitions = map[Status][]Status{
	StatusDraft:  {StatusReview},
	StatusReview: {StatusDraft},
}

// CanTransitionEditorial reports whether a manual move from one status to
// another is legal. Only the draft/review editorial loop qualifies.
func CanTransitionEditorial(from, to Status) bool {
	for _, allowed := range editorialTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Plan represents one version of an organization's emergency response plan.
// At most one plan per organization holds StatusActive at steady state.
type Plan struct {
	ID              uuid.UUID       `db:"id"`
	OrgID           uuid.UUID       `db:"org_id"`
	Version         string          `db:"version"`
	Status          Status          `db:"status"`
	Content         json.RawMessage `db:"content"`
	CreatedByUserID uuid.UUID       `db:"created_by_user_id"`
	ActivatedAt     sql.NullTime    `db:"activated_at"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// IsEditable returns true while the plan's content may still be mutated
func (p *Plan) IsEditable() bool {
	return p.Status == StatusDraft
}

// PlanResponse represents a plan in API responses
type PlanResponse struct {
	ID          uuid.UUID       `json:"id"`
	OrgID       uuid.UUID       `json:"org_id"`
	Version     string          `json:"version"`
	Status      Status          `json:"status"`
	Content     json.RawMessage `json:"content,omitempty"`
	CreatedBy   uuid.UUID       `json:"created_by"`
	ActivatedAt *time.Time      `json:"activated_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ToResponse converts a plan to its API representation
func (p *Plan) ToResponse(includeContent bool) PlanResponse {
	resp := PlanResponse{
		ID:        p.ID,
		OrgID:     p.OrgID,
		Version:   p.Version,
		Status:    p.Status,
		CreatedBy: p.CreatedByUserID,
		CreatedAt: p.CreatedAt,
	}
	if includeContent {
		resp.Content = p.Content
	}
	if p.ActivatedAt.Valid {
		resp.ActivatedAt = &p.ActivatedAt.Time
	}
	return resp
}
