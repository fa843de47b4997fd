package integration

import (
	"net/http"
	"testing"

	"github.com/planward/planward/internal/orgs"
	"github.com/stretchr/testify/require"
)

func TestOrgs_CreateAndSlugConflict(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")
	createOrg(t, client, srv.URL, csrf, "Metro Fire", "metro-fire")

	errEnv := doJSONExpectError(t, client, http.MethodPost, srv.URL+"/api/v1/orgs", csrf, http.StatusConflict, map[string]any{
		"name": "Metro Fire Copy",
		"slug": "metro-fire",
	})
	require.Equal(t, "conflict", errEnv.Error.Code)

	errEnv = doJSONExpectError(t, client, http.MethodPost, srv.URL+"/api/v1/orgs", csrf, http.StatusBadRequest, map[string]any{
		"name": "Bad Slug",
		"slug": "Not A Slug!",
	})
	require.Equal(t, "bad_request", errEnv.Error.Code)

	resp := doJSONExpectSuccess(t, client, http.MethodGet, srv.URL+"/api/v1/orgs", csrf, http.StatusOK, nil)
	var list []struct {
		Slug string `json:"slug"`
		Role string `json:"role"`
	}
	require.NoError(t, unmarshalData(resp, &list))
	require.Len(t, list, 1)
	require.Equal(t, "metro-fire", list[0].Slug)
	require.Equal(t, "ADMIN", list[0].Role)
}

func TestOrgs_MemberRoleManagement(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)

	adminClient, adminCSRF := newCSRFClient(t, srv.URL)
	memberClient, memberCSRF := newCSRFClient(t, srv.URL)

	adminID := signupAndLogin(t, adminClient, srv.URL, adminCSRF, "chief@example.com", "password123")
	memberID := signupAndLogin(t, memberClient, srv.URL, memberCSRF, "planner@example.com", "password123")

	orgID := createOrg(t, adminClient, srv.URL, adminCSRF, "Metro Fire", "metro-fire")
	addMember(t, pool, orgID, adminID, memberID, orgs.RoleViewer)

	roleURL := srv.URL + "/api/v1/orgs/" + orgID.String() + "/members/" + memberID.String() + "/role"

	resp := doJSONExpectSuccess(t, adminClient, http.MethodPut, roleURL, adminCSRF, http.StatusOK, map[string]any{"role": "EDITOR"})
	var change struct {
		PreviousRole string `json:"previous_role"`
		Role         string `json:"role"`
	}
	require.NoError(t, unmarshalData(resp, &change))
	require.Equal(t, "VIEWER", change.PreviousRole)
	require.Equal(t, "EDITOR", change.Role)

	// Editors cannot manage roles.
	adminRoleURL := srv.URL + "/api/v1/orgs/" + orgID.String() + "/members/" + adminID.String() + "/role"
	errEnv := doJSONExpectError(t, memberClient, http.MethodPut, adminRoleURL, memberCSRF, http.StatusForbidden, map[string]any{"role": "VIEWER"})
	require.Equal(t, "forbidden", errEnv.Error.Code)

	// The last admin cannot demote themselves.
	errEnv = doJSONExpectError(t, adminClient, http.MethodPut, adminRoleURL, adminCSRF, http.StatusConflict, map[string]any{"role": "EDITOR"})
	require.Equal(t, "conflict", errEnv.Error.Code)

	// With a second admin in place the demotion goes through.
	doJSONExpectSuccess(t, adminClient, http.MethodPut, roleURL, adminCSRF, http.StatusOK, map[string]any{"role": "ADMIN"})
	doJSONExpectSuccess(t, adminClient, http.MethodPut, adminRoleURL, adminCSRF, http.StatusOK, map[string]any{"role": "EDITOR"})
}

func TestOrgs_WebhookConfigIsAdminOnly(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)

	adminClient, adminCSRF := newCSRFClient(t, srv.URL)
	editorClient, editorCSRF := newCSRFClient(t, srv.URL)

	adminID := signupAndLogin(t, adminClient, srv.URL, adminCSRF, "chief@example.com", "password123")
	editorID := signupAndLogin(t, editorClient, srv.URL, editorCSRF, "planner@example.com", "password123")

	orgID := createOrg(t, adminClient, srv.URL, adminCSRF, "Metro Fire", "metro-fire")
	addMember(t, pool, orgID, adminID, editorID, orgs.RoleEditor)

	webhookURL := srv.URL + "/api/v1/orgs/" + orgID.String() + "/webhook"

	errEnv := doJSONExpectError(t, adminClient, http.MethodPut, webhookURL, adminCSRF, http.StatusBadRequest, map[string]any{
		"webhook_url": "http://insecure.example.com/hook",
	})
	require.Equal(t, "bad_request", errEnv.Error.Code)

	doJSONExpectSuccess(t, adminClient, http.MethodPut, webhookURL, adminCSRF, http.StatusOK, map[string]any{
		"webhook_url": "https://hooks.example.com/planward",
	})

	errEnv = doJSONExpectError(t, editorClient, http.MethodPut, webhookURL, editorCSRF, http.StatusForbidden, map[string]any{
		"webhook_url": "https://hooks.example.com/other",
	})
	require.Equal(t, "forbidden", errEnv.Error.Code)

	doJSONExpectSuccess(t, adminClient, http.MethodDelete, webhookURL, adminCSRF, http.StatusOK, nil)
}
