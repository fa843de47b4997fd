package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/planward/planward/internal/orgs"
	"github.com/stretchr/testify/require"
)

func TestIncidents_OpenWithCrossOrgPlanRejected(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")
	orgA := createOrg(t, client, srv.URL, csrf, "Metro Fire", "metro-fire")
	orgB := createOrg(t, client, srv.URL, csrf, "Harbor Rescue", "harbor-rescue")

	foreignPlan := createDraft(t, client, srv.URL, csrf, orgB, "v1")

	errEnv := doJSONExpectError(t, client, http.MethodPost, srv.URL+"/api/v1/orgs/"+orgA.String()+"/incidents", csrf, http.StatusBadRequest, map[string]any{
		"title":   "Warehouse fire",
		"plan_id": foreignPlan.String(),
	})
	require.Equal(t, "invalid_reference", errEnv.Error.Code)

	errEnv = doJSONExpectError(t, client, http.MethodPost, srv.URL+"/api/v1/orgs/"+orgA.String()+"/incidents", csrf, http.StatusBadRequest, map[string]any{
		"title":   "Warehouse fire",
		"plan_id": uuid.New().String(),
	})
	require.Equal(t, "invalid_reference", errEnv.Error.Code)

	// A plan deleted before the incident is opened is just as invalid a
	// reference as one that never existed.
	deletedPlan := createDraft(t, client, srv.URL, csrf, orgA, "v1")
	doJSONExpectSuccess(t, client, http.MethodDelete, srv.URL+"/api/v1/plans/"+deletedPlan.String(), csrf, http.StatusOK, nil)

	errEnv = doJSONExpectError(t, client, http.MethodPost, srv.URL+"/api/v1/orgs/"+orgA.String()+"/incidents", csrf, http.StatusBadRequest, map[string]any{
		"title":   "Warehouse fire",
		"plan_id": deletedPlan.String(),
	})
	require.Equal(t, "invalid_reference", errEnv.Error.Code)
}

func TestIncidents_StatusLifecycle(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")
	orgID := createOrg(t, client, srv.URL, csrf, "Metro Fire", "metro-fire")
	incidentID := openIncident(t, client, srv.URL, csrf, orgID, "Warehouse fire", nil)

	setStatus := func(status string, wantStatus int) {
		t.Helper()
		if wantStatus == http.StatusOK {
			doJSONExpectSuccess(t, client, http.MethodPut, srv.URL+"/api/v1/incidents/"+incidentID.String()+"/status", csrf, http.StatusOK, map[string]any{"status": status})
			return
		}
		errEnv := doJSONExpectError(t, client, http.MethodPut, srv.URL+"/api/v1/incidents/"+incidentID.String()+"/status", csrf, wantStatus, map[string]any{"status": status})
		require.Equal(t, "invalid_transition", errEnv.Error.Code)
	}

	setStatus("monitoring", http.StatusOK)
	setStatus("active", http.StatusOK)
	setStatus("monitoring", http.StatusOK)
	setStatus("resolved", http.StatusOK)

	// Resolved is terminal.
	setStatus("active", http.StatusConflict)
	setStatus("monitoring", http.StatusConflict)
	setStatus("resolved", http.StatusConflict)

	resp := doJSONExpectSuccess(t, client, http.MethodGet, srv.URL+"/api/v1/incidents/"+incidentID.String(), csrf, http.StatusOK, nil)
	var incident struct {
		Status     string     `json:"status"`
		ResolvedAt *time.Time `json:"resolved_at"`
	}
	require.NoError(t, unmarshalData(resp, &incident))
	require.Equal(t, "resolved", incident.Status)
	require.NotNil(t, incident.ResolvedAt)
}

func TestIncidents_UpdatesAppendOnlyNewestFirst(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	userID := signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")
	orgID := createOrg(t, client, srv.URL, csrf, "Metro Fire", "metro-fire")
	incidentID := openIncident(t, client, srv.URL, csrf, orgID, "Warehouse fire", nil)

	updatesURL := srv.URL + "/api/v1/incidents/" + incidentID.String() + "/updates"

	for _, content := range []string{"first", "second", "third"} {
		doJSONExpectSuccess(t, client, http.MethodPost, updatesURL, csrf, http.StatusCreated, map[string]any{
			"update_type": "status_note",
			"content":     content,
		})
	}

	resp := doJSONExpectSuccess(t, client, http.MethodGet, updatesURL, csrf, http.StatusOK, nil)
	var updates []struct {
		UserID     *uuid.UUID `json:"user_id"`
		UpdateType string     `json:"update_type"`
		Content    string     `json:"content"`
	}
	require.NoError(t, unmarshalData(resp, &updates))
	require.Len(t, updates, 3)
	require.Equal(t, "third", updates[0].Content)
	require.Equal(t, "second", updates[1].Content)
	require.Equal(t, "first", updates[2].Content)
	require.NotNil(t, updates[0].UserID)
	require.Equal(t, userID, *updates[0].UserID)

	// Resolving does not freeze the log: post-mortem notes still append.
	doJSONExpectSuccess(t, client, http.MethodPut, srv.URL+"/api/v1/incidents/"+incidentID.String()+"/status", csrf, http.StatusOK, map[string]any{"status": "resolved"})
	doJSONExpectSuccess(t, client, http.MethodPost, updatesURL, csrf, http.StatusCreated, map[string]any{
		"update_type": "debrief",
		"content":     "all units released",
	})

	// Malformed update types are rejected before anything is written.
	doJSONExpectError(t, client, http.MethodPost, updatesURL, csrf, http.StatusBadRequest, map[string]any{
		"update_type": "Status Note",
		"content":     "bad type",
	})
	doJSONExpectError(t, client, http.MethodPost, updatesURL, csrf, http.StatusBadRequest, map[string]any{
		"update_type": "status_note",
		"content":     "",
	})
}

func TestIncidents_RoleGate(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)

	adminClient, adminCSRF := newCSRFClient(t, srv.URL)
	viewerClient, viewerCSRF := newCSRFClient(t, srv.URL)
	outsiderClient, outsiderCSRF := newCSRFClient(t, srv.URL)

	adminID := signupAndLogin(t, adminClient, srv.URL, adminCSRF, "chief@example.com", "password123")
	viewerID := signupAndLogin(t, viewerClient, srv.URL, viewerCSRF, "observer@example.com", "password123")
	signupAndLogin(t, outsiderClient, srv.URL, outsiderCSRF, "outsider@example.com", "password123")

	orgID := createOrg(t, adminClient, srv.URL, adminCSRF, "Metro Fire", "metro-fire")
	addMember(t, pool, orgID, adminID, viewerID, orgs.RoleViewer)

	incidentID := openIncident(t, adminClient, srv.URL, adminCSRF, orgID, "Warehouse fire", nil)
	incidentURL := srv.URL + "/api/v1/incidents/" + incidentID.String()

	// Viewers may read and append updates but not drive the lifecycle.
	doJSONExpectSuccess(t, viewerClient, http.MethodGet, incidentURL, viewerCSRF, http.StatusOK, nil)
	doJSONExpectSuccess(t, viewerClient, http.MethodPost, incidentURL+"/updates", viewerCSRF, http.StatusCreated, map[string]any{
		"update_type": "field_report",
		"content":     "smoke visible from the north side",
	})

	errEnv := doJSONExpectError(t, viewerClient, http.MethodPut, incidentURL+"/status", viewerCSRF, http.StatusForbidden, map[string]any{"status": "monitoring"})
	require.Equal(t, "forbidden", errEnv.Error.Code)

	errEnv = doJSONExpectError(t, viewerClient, http.MethodPost, srv.URL+"/api/v1/orgs/"+orgID.String()+"/incidents", viewerCSRF, http.StatusForbidden, map[string]any{"title": "Another"})
	require.Equal(t, "forbidden", errEnv.Error.Code)

	// Non-members see nothing at all.
	errEnv = doJSONExpectError(t, outsiderClient, http.MethodGet, incidentURL, outsiderCSRF, http.StatusNotFound, nil)
	require.Equal(t, "not_found", errEnv.Error.Code)

	errEnv = doJSONExpectError(t, outsiderClient, http.MethodPost, incidentURL+"/updates", outsiderCSRF, http.StatusNotFound, map[string]any{
		"update_type": "status_note",
		"content":     "should not land",
	})
	require.Equal(t, "not_found", errEnv.Error.Code)
}

func TestIncidents_EditorCanMutate(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)

	adminClient, adminCSRF := newCSRFClient(t, srv.URL)
	editorClient, editorCSRF := newCSRFClient(t, srv.URL)

	adminID := signupAndLogin(t, adminClient, srv.URL, adminCSRF, "chief@example.com", "password123")
	editorID := signupAndLogin(t, editorClient, srv.URL, editorCSRF, "planner@example.com", "password123")

	orgID := createOrg(t, adminClient, srv.URL, adminCSRF, "Metro Fire", "metro-fire")
	addMember(t, pool, orgID, adminID, editorID, orgs.RoleEditor)

	incidentID := openIncident(t, editorClient, srv.URL, editorCSRF, orgID, "Chemical spill", nil)
	doJSONExpectSuccess(t, editorClient, http.MethodPut, srv.URL+"/api/v1/incidents/"+incidentID.String()+"/status", editorCSRF, http.StatusOK, map[string]any{"status": "resolved"})
}
