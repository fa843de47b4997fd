package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuth_SignupValidation(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupURL := srv.URL + "/api/v1/auth/signup"

	errEnv := doJSONExpectError(t, client, http.MethodPost, signupURL, csrf, http.StatusBadRequest, map[string]any{
		"email":    "not-an-email",
		"password": "password123",
	})
	require.Equal(t, "bad_request", errEnv.Error.Code)

	errEnv = doJSONExpectError(t, client, http.MethodPost, signupURL, csrf, http.StatusBadRequest, map[string]any{
		"email":    "chief@example.com",
		"password": "short",
	})
	require.Equal(t, "bad_request", errEnv.Error.Code)

	doJSONExpectSuccess(t, client, http.MethodPost, signupURL, csrf, http.StatusCreated, map[string]any{
		"email":    "chief@example.com",
		"password": "password123",
	})

	errEnv = doJSONExpectError(t, client, http.MethodPost, signupURL, csrf, http.StatusConflict, map[string]any{
		"email":    "chief@example.com",
		"password": "password123",
	})
	require.Equal(t, "conflict", errEnv.Error.Code)
}

func TestAuth_LoginAndLogout(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")

	errEnv := doJSONExpectError(t, client, http.MethodPost, srv.URL+"/api/v1/auth/login", csrf, http.StatusUnauthorized, map[string]any{
		"email":    "chief@example.com",
		"password": "wrong-password",
	})
	require.Equal(t, "unauthorized", errEnv.Error.Code)

	errEnv = doJSONExpectError(t, client, http.MethodPost, srv.URL+"/api/v1/auth/login", csrf, http.StatusUnauthorized, map[string]any{
		"email":    "nobody@example.com",
		"password": "password123",
	})
	require.Equal(t, "unauthorized", errEnv.Error.Code)

	// Authenticated list works, then the session dies with logout.
	doJSONExpectSuccess(t, client, http.MethodGet, srv.URL+"/api/v1/orgs", csrf, http.StatusOK, nil)
	doJSONExpectSuccess(t, client, http.MethodPost, srv.URL+"/api/v1/auth/logout", csrf, http.StatusOK, nil)

	errEnv = doJSONExpectError(t, client, http.MethodGet, srv.URL+"/api/v1/orgs", csrf, http.StatusUnauthorized, nil)
	require.Equal(t, "unauthorized", errEnv.Error.Code)
}

func TestAuth_CSRFRequiredOnMutations(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)
	client, csrf := newCSRFClient(t, srv.URL)

	signupAndLogin(t, client, srv.URL, csrf, "chief@example.com", "password123")

	// A mutation without the CSRF header fails despite a valid session.
	body, err := json.Marshal(map[string]any{"name": "Metro Fire", "slug": "metro-fire"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/orgs", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "body: %s", string(respBody))

	var errEnv errorEnvelope
	require.NoError(t, json.Unmarshal(respBody, &errEnv))
	require.Equal(t, "forbidden", errEnv.Error.Code)

	// Unauthenticated mutation with a valid CSRF pair is still rejected.
	anonClient, anonCSRF := newCSRFClient(t, srv.URL)
	errEnv = doJSONExpectError(t, anonClient, http.MethodPost, srv.URL+"/api/v1/orgs", anonCSRF, http.StatusUnauthorized, map[string]any{
		"name": "Metro Fire",
		"slug": "metro-fire",
	})
	require.Equal(t, "unauthorized", errEnv.Error.Code)
}
