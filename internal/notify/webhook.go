package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PlanActivatedMessage contains the fields posted when a plan goes live
type PlanActivatedMessage struct {
	OrgID   uuid.UUID
	PlanID  uuid.UUID
	Version string
}

// IncidentOpenedMessage contains the fields posted when an incident opens
type IncidentOpenedMessage struct {
	OrgID      uuid.UUID
	IncidentID uuid.UUID
	Title      string
}

// Client delivers org webhook notifications
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a new webhook client with the specified timeout
func NewClient(timeoutMS int) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		timeout: time.Duration(timeoutMS) * time.Millisecond,
	}
}

// webhookPayload is the JSON body posted to the org's configured endpoint
type webhookPayload struct {
	Event      string `json:"event"`
	OrgID      string `json:"org_id"`
	PlanID     string `json:"plan_id,omitempty"`
	IncidentID string `json:"incident_id,omitempty"`
	Version    string `json:"version,omitempty"`
	Title      string `json:"title,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// PostPlanActivated notifies the org webhook that a plan went live.
// This method NEVER returns errors to the caller - all failures are logged
// at WARN level so delivery problems cannot fail the activation that
// already committed.
func (c *Client) PostPlanActivated(ctx context.Context, webhookURL string, msg PlanActivatedMessage) {
	c.post(ctx, webhookURL, webhookPayload{
		Event:      "plan.activated",
		OrgID:      msg.OrgID.String(),
		PlanID:     msg.PlanID.String(),
		Version:    msg.Version,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// PostIncidentOpened notifies the org webhook that an incident was opened.
// Same delivery contract as PostPlanActivated: log and move on.
func (c *Client) PostIncidentOpened(ctx context.Context, webhookURL string, msg IncidentOpenedMessage) {
	c.post(ctx, webhookURL, webhookPayload{
		Event:      "incident.opened",
		OrgID:      msg.OrgID.String(),
		IncidentID: msg.IncidentID.String(),
		Title:      msg.Title,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Client) post(ctx context.Context, webhookURL string, payload webhookPayload) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		log.Warn().
			Err(err).
			Str("event", payload.Event).
			Msg("Failed to marshal webhook payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Warn().
			Err(err).
			Str("event", payload.Event).
			Msg("Failed to create webhook request")
		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || isTimeoutError(err) {
			log.Warn().
				Err(err).
				Dur("timeout_ms", c.timeout).
				Str("event", payload.Event).
				Str("org_id", payload.OrgID).
				Msg("Webhook notification timed out")
		} else {
			log.Warn().
				Err(err).
				Str("event", payload.Event).
				Str("org_id", payload.OrgID).
				Msg("Failed to send webhook notification")
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("event", payload.Event).
			Str("org_id", payload.OrgID).
			Msg("Webhook endpoint returned error status")
		return
	}

	log.Info().
		Str("event", payload.Event).
		Str("org_id", payload.OrgID).
		Msg("Webhook notification sent successfully")
}

// isTimeoutError checks if an error is a timeout error
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "context deadline exceeded" ||
		err.Error() == "Client.Timeout exceeded"
}
