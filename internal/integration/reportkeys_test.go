package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/planward/planward/internal/orgs"
	"github.com/stretchr/testify/require"
)

type createdKey struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Scopes []string  `json:"scopes"`
	Token  string    `json:"token"`
}

func createReportKey(t *testing.T, client *http.Client, baseURL, csrfToken string, orgID uuid.UUID, name string, scopes []string) createdKey {
	t.Helper()

	resp := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/orgs/"+orgID.String()+"/report-keys", csrfToken, http.StatusCreated, map[string]any{
		"name":   name,
		"scopes": scopes,
	})

	var key createdKey
	require.NoError(t, unmarshalData(resp, &key))
	require.True(t, strings.HasPrefix(key.Token, "pwk_"), "token %q should carry the pwk_ prefix", key.Token)

	return key
}

// doReport issues a report-surface request authenticated by a bearer token
// instead of a session cookie.
func doReport(t *testing.T, method, urlStr, token string, payload any) (*http.Response, []byte) {
	t.Helper()

	var bodyReader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, urlStr, bodyReader)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, body
}

func TestReportKeys_AppendAndReadWithBearerToken(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")
	orgID := createOrg(t, client, srv.URL, csrf, "Metro Fire", "metro-fire")
	incidentID := openIncident(t, client, srv.URL, csrf, orgID, "Warehouse fire", nil)

	key := createReportKey(t, client, srv.URL, csrf, orgID, "radio-gateway", []string{"incident:append", "incident:read"})

	reportURL := srv.URL + "/api/v1/report/incidents/" + incidentID.String() + "/updates"

	resp, body := doReport(t, http.MethodPost, reportURL, key.Token, map[string]any{
		"update_type": "field_report",
		"content":     "unit 12 on scene",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", string(body))

	resp, body = doReport(t, http.MethodGet, reportURL, key.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", string(body))

	var env struct {
		Data []struct {
			UserID  *uuid.UUID `json:"user_id"`
			Content string     `json:"content"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	require.Len(t, env.Data, 1)
	require.Equal(t, "unit 12 on scene", env.Data[0].Content)
	// Machine-submitted updates carry no author.
	require.Nil(t, env.Data[0].UserID)
}

func TestReportKeys_ScopeEnforced(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")
	orgID := createOrg(t, client, srv.URL, csrf, "Metro Fire", "metro-fire")
	incidentID := openIncident(t, client, srv.URL, csrf, orgID, "Warehouse fire", nil)

	readOnly := createReportKey(t, client, srv.URL, csrf, orgID, "dashboard", []string{"incident:read"})

	reportURL := srv.URL + "/api/v1/report/incidents/" + incidentID.String() + "/updates"

	resp, body := doReport(t, http.MethodPost, reportURL, readOnly.Token, map[string]any{
		"update_type": "field_report",
		"content":     "should be rejected",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "body: %s", string(body))

	resp, body = doReport(t, http.MethodGet, reportURL, readOnly.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", string(body))
}

func TestReportKeys_CrossOrgIncidentHidden(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")
	orgA := createOrg(t, client, srv.URL, csrf, "Metro Fire", "metro-fire")
	orgB := createOrg(t, client, srv.URL, csrf, "Harbor Rescue", "harbor-rescue")

	keyA := createReportKey(t, client, srv.URL, csrf, orgA, "radio-gateway", []string{"incident:append"})
	incidentB := openIncident(t, client, srv.URL, csrf, orgB, "Capsized vessel", nil)

	resp, body := doReport(t, http.MethodPost, srv.URL+"/api/v1/report/incidents/"+incidentB.String()+"/updates", keyA.Token, map[string]any{
		"update_type": "field_report",
		"content":     "should not land",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "body: %s", string(body))
}

func TestReportKeys_RevokedAndRotatedTokensRejected(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")
	orgID := createOrg(t, client, srv.URL, csrf, "Metro Fire", "metro-fire")
	incidentID := openIncident(t, client, srv.URL, csrf, orgID, "Warehouse fire", nil)

	reportURL := srv.URL + "/api/v1/report/incidents/" + incidentID.String() + "/updates"
	keysURL := srv.URL + "/api/v1/orgs/" + orgID.String() + "/report-keys"

	// Rotation: the replacement works, the original stops working.
	original := createReportKey(t, client, srv.URL, csrf, orgID, "radio-gateway", []string{"incident:append"})

	rotateResp := doJSONExpectSuccess(t, client, http.MethodPost, keysURL+"/"+original.ID.String()+"/rotate", csrf, http.StatusCreated, map[string]any{
		"name": "radio-gateway-2",
	})
	var rotated createdKey
	require.NoError(t, unmarshalData(rotateResp, &rotated))
	require.NotEqual(t, original.Token, rotated.Token)
	require.Equal(t, original.Scopes, rotated.Scopes)

	resp, body := doReport(t, http.MethodPost, reportURL, original.Token, map[string]any{
		"update_type": "field_report",
		"content":     "stale credential",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "body: %s", string(body))
	var errEnv errorEnvelope
	require.NoError(t, json.Unmarshal(body, &errEnv))
	require.Equal(t, "invalid_report_key", errEnv.Error.Code)

	resp, body = doReport(t, http.MethodPost, reportURL, rotated.Token, map[string]any{
		"update_type": "field_report",
		"content":     "fresh credential",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", string(body))

	// Explicit revocation.
	doJSONExpectSuccess(t, client, http.MethodDelete, keysURL+"/"+rotated.ID.String(), csrf, http.StatusOK, nil)

	resp, body = doReport(t, http.MethodPost, reportURL, rotated.Token, map[string]any{
		"update_type": "field_report",
		"content":     "revoked credential",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "body: %s", string(body))

	// Garbage tokens never reach the database lookup path's happy case.
	resp, body = doReport(t, http.MethodPost, reportURL, "pwk_not-a-real-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "body: %s", string(body))

	resp, body = doReport(t, http.MethodPost, reportURL, "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "body: %s", string(body))
}

func TestReportKeys_ManagementIsAdminOnly(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)

	adminClient, adminCSRF := newCSRFClient(t, srv.URL)
	editorClient, editorCSRF := newCSRFClient(t, srv.URL)

	adminID := signupAndLogin(t, adminClient, srv.URL, adminCSRF, "chief@example.com", "password123")
	editorID := signupAndLogin(t, editorClient, srv.URL, editorCSRF, "planner@example.com", "password123")

	orgID := createOrg(t, adminClient, srv.URL, adminCSRF, "Metro Fire", "metro-fire")
	addMember(t, pool, orgID, adminID, editorID, orgs.RoleEditor)

	keysURL := srv.URL + "/api/v1/orgs/" + orgID.String() + "/report-keys"

	errEnv := doJSONExpectError(t, editorClient, http.MethodPost, keysURL, editorCSRF, http.StatusForbidden, map[string]any{
		"name":   "rogue-key",
		"scopes": []string{"incident:append"},
	})
	require.Equal(t, "forbidden", errEnv.Error.Code)

	errEnv = doJSONExpectError(t, editorClient, http.MethodGet, keysURL, editorCSRF, http.StatusForbidden, nil)
	require.Equal(t, "forbidden", errEnv.Error.Code)

	// Duplicate names collide within the org.
	createReportKey(t, adminClient, srv.URL, adminCSRF, orgID, "radio-gateway", []string{"incident:append"})
	errEnv = doJSONExpectError(t, adminClient, http.MethodPost, keysURL, adminCSRF, http.StatusConflict, map[string]any{
		"name":   "radio-gateway",
		"scopes": []string{"incident:append"},
	})
	require.Equal(t, "conflict", errEnv.Error.Code)

	// Keys in another org are invisible even to an admin of this one.
	otherOrg := createOrg(t, editorClient, srv.URL, editorCSRF, "Harbor Rescue", "harbor-rescue")
	otherKey := createReportKey(t, editorClient, srv.URL, editorCSRF, otherOrg, "their-key", []string{"incident:append"})

	errEnv = doJSONExpectError(t, adminClient, http.MethodDelete, keysURL+"/"+otherKey.ID.String(), adminCSRF, http.StatusNotFound, nil)
	require.Equal(t, "not_found", errEnv.Error.Code)
}
