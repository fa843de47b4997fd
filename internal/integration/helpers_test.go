package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planward/planward/internal/app"
	"github.com/planward/planward/internal/auth"
	"github.com/planward/planward/internal/config"
	"github.com/planward/planward/internal/orgs"
	"github.com/stretchr/testify/require"
)

type envelopeResponse struct {
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                "dev",
		HTTPAddr:           ":0",
		BaseURL:            "http://localhost",
		DBDSN:              "unused",
		JWTSecret:          "test-secret",
		LogLevel:           "error",
		ReportRateLimitRPM: 120,
		WebhookTimeoutMS:   2000,
		SessionDays:        7,
	}
}

func newTestServer(t *testing.T, pool *pgxpool.Pool) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(app.NewRouter(pool, testConfig()))
	t.Cleanup(srv.Close)
	return srv
}

func newCSRFClient(t *testing.T, serverURL string) (*http.Client, string) {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	baseURL, err := url.Parse(serverURL)
	require.NoError(t, err)

	csrfToken, err := auth.GenerateCSRFToken()
	require.NoError(t, err)
	jar.SetCookies(baseURL, []*http.Cookie{{
		Name:  auth.CSRFCookieName,
		Value: csrfToken,
		Path:  "/",
	}})

	return client, csrfToken
}

func signupAndLogin(t *testing.T, client *http.Client, baseURL, csrfToken, email, password string) uuid.UUID {
	t.Helper()

	signupResp := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/auth/signup", csrfToken, http.StatusCreated, map[string]any{
		"email":    email,
		"password": password,
	})

	var session struct {
		UserID uuid.UUID `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(signupResp.Data, &session))
	require.NotEqual(t, uuid.Nil, session.UserID)

	doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", csrfToken, http.StatusOK, map[string]any{
		"email":    email,
		"password": password,
	})

	return session.UserID
}

func createOrg(t *testing.T, client *http.Client, baseURL, csrfToken, name, slug string) uuid.UUID {
	t.Helper()

	resp := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/orgs", csrfToken, http.StatusCreated, map[string]any{
		"name": name,
		"slug": slug,
	})

	var org struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &org))
	require.NotEqual(t, uuid.Nil, org.ID)

	return org.ID
}

// addMember inserts an org membership directly through the service layer,
// acting as the given admin.
func addMember(t *testing.T, pool *pgxpool.Pool, orgID, adminUserID, targetUserID uuid.UUID, role orgs.OrgRole) {
	t.Helper()

	service := orgs.NewService(pool)
	require.NoError(t, service.AddMember(context.Background(), orgID, adminUserID, targetUserID, role))
}

func createDraft(t *testing.T, client *http.Client, baseURL, csrfToken string, orgID uuid.UUID, version string) uuid.UUID {
	t.Helper()

	resp := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/orgs/"+orgID.String()+"/plans", csrfToken, http.StatusCreated, map[string]any{
		"version": version,
		"content": map[string]any{"sections": []string{"evacuation"}},
	})

	var plan struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &plan))
	require.Equal(t, "draft", plan.Status)

	return plan.ID
}

type planListItem struct {
	ID          uuid.UUID `json:"id"`
	Version     string    `json:"version"`
	Status      string    `json:"status"`
	ActivatedAt *string   `json:"activated_at"`
}

func listPlans(t *testing.T, client *http.Client, baseURL string, orgID uuid.UUID) []planListItem {
	t.Helper()

	resp, err := client.Get(baseURL + "/api/v1/orgs/" + orgID.String() + "/plans")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", string(body))

	var env struct {
		RequestID string         `json:"request_id"`
		Data      []planListItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	require.NotEmpty(t, env.RequestID)

	return env.Data
}

func activePlanIDs(items []planListItem) []uuid.UUID {
	var ids []uuid.UUID
	for _, item := range items {
		if item.Status == "active" {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

func openIncident(t *testing.T, client *http.Client, baseURL, csrfToken string, orgID uuid.UUID, title string, planID *uuid.UUID) uuid.UUID {
	t.Helper()

	payload := map[string]any{"title": title}
	if planID != nil {
		payload["plan_id"] = planID.String()
	}

	resp := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/orgs/"+orgID.String()+"/incidents", csrfToken, http.StatusCreated, payload)

	var incident struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &incident))
	require.Equal(t, "active", incident.Status)

	return incident.ID
}

func unmarshalData(env envelopeResponse, target any) error {
	return json.Unmarshal(env.Data, target)
}

func doJSONExpectSuccess(t *testing.T, client *http.Client, method, urlStr, csrfToken string, wantStatus int, payload any) envelopeResponse {
	t.Helper()

	respBody := doJSONExpectStatus(t, client, method, urlStr, csrfToken, wantStatus, payload)

	var env envelopeResponse
	require.NoError(t, json.Unmarshal(respBody, &env))
	require.NotEmpty(t, env.RequestID)

	return env
}

func doJSONExpectError(t *testing.T, client *http.Client, method, urlStr, csrfToken string, wantStatus int, payload any) errorEnvelope {
	t.Helper()

	respBody := doJSONExpectStatus(t, client, method, urlStr, csrfToken, wantStatus, payload)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(respBody, &env))
	require.NotEmpty(t, env.Error.RequestID)

	return env
}

func doJSONExpectStatus(t *testing.T, client *http.Client, method, urlStr, csrfToken string, wantStatus int, payload any) []byte {
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
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete {
		// Signup and login rotate the CSRF cookie, so the header must carry
		// whatever token the jar holds now; the seeded token is only the
		// bootstrap for the first request.
		token := csrfToken
		if client.Jar != nil {
			if u, parseErr := url.Parse(urlStr); parseErr == nil {
				for _, c := range client.Jar.Cookies(u) {
					if c.Name == auth.CSRFCookieName {
						token = c.Value
					}
				}
			}
		}
		req.Header.Set("X-CSRF-Token", token)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "body: %s", string(body))

	return body
}
