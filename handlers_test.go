package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/authsvc/internal/revocation"
	"github.com/example/authsvc/internal/token"
)

func newTestApp(t *testing.T) (*App, *mux.Router) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := revocation.NewMemoryStore()
	app := &App{
		DB:          NewMemoryDB(),
		Tokens:      token.NewService([]byte("test-secret-key"), time.Hour, 720*time.Hour, store, logger),
		Revocations: store,
		Log:         logger,
		rateLimiter: NewRateLimiter(10000),
	}
	return app, app.Router()
}

func doRequest(t *testing.T, r *mux.Router, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
	return m
}

func registerAndLogin(t *testing.T, r *mux.Router, email, username, password string) (access, refresh string) {
	t.Helper()
	w := doRequest(t, r, "POST", "/api/v1/auth/register", "", map[string]string{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doRequest(t, r, "POST", "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	return body["access_token"].(string), body["refresh_token"].(string)
}

func TestAuthLifecycle(t *testing.T) {
	_, r := newTestApp(t)

	// register
	w := doRequest(t, r, "POST", "/api/v1/auth/register", "", map[string]string{
		"username": "alice", "email": "a@x.com", "password": "pw1234",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	userID := decodeBody(t, w)["userId"].(string)
	require.NotEmpty(t, userID)

	// duplicate email
	w = doRequest(t, r, "POST", "/api/v1/auth/register", "", map[string]string{
		"username": "alice2", "email": "a@x.com", "password": "pw1234",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// wrong password
	w = doRequest(t, r, "POST", "/api/v1/auth/login", "", map[string]string{
		"email": "a@x.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// unknown email yields the identical error
	w2 := doRequest(t, r, "POST", "/api/v1/auth/login", "", map[string]string{
		"email": "nobody@x.com", "password": "wrong",
	})
	assert.Equal(t, w.Body.String(), w2.Body.String())

	// login
	w = doRequest(t, r, "POST", "/api/v1/auth/login", "", map[string]string{
		"email": "a@x.com", "password": "pw1234",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	// access token works and is fresh
	w = doRequest(t, r, "GET", "/api/v1/auth/verify-token", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	verify := decodeBody(t, w)
	assert.Equal(t, userID, verify["user_id"])
	assert.Equal(t, "access", verify["token_type"])
	assert.Equal(t, true, verify["fresh"])

	// refresh token is not an access token
	w = doRequest(t, r, "GET", "/api/v1/users/me", refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// logout revokes both tokens
	w = doRequest(t, r, "POST", "/api/v1/auth/logout", access, map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, r, "GET", "/api/v1/users/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, r, "POST", "/api/v1/auth/token/refresh", refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutRejectsBogusRefreshToken(t *testing.T) {
	_, r := newTestApp(t)
	access, _ := registerAndLogin(t, r, "m@x.com", "mallory", "pw1234")

	// a garbage refresh token in the body is the client's fault, not a
	// store outage
	w := doRequest(t, r, "POST", "/api/v1/auth/logout", access, map[string]string{
		"refresh_token": "not-a-token",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, w)["error_code"])
}

func TestRefreshIssuesNonFreshAccessToken(t *testing.T) {
	_, r := newTestApp(t)
	_, refresh := registerAndLogin(t, r, "b@x.com", "bob", "pw1234")

	w := doRequest(t, r, "POST", "/api/v1/auth/token/refresh", refresh, nil)
	require.Equal(t, http.StatusOK, w.Code)
	access := decodeBody(t, w)["access_token"].(string)

	w = doRequest(t, r, "GET", "/api/v1/auth/verify-token", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	verify := decodeBody(t, w)
	assert.Equal(t, "access", verify["token_type"])
	assert.Equal(t, false, verify["fresh"])

	// the refresh token is reusable until revoked or expired
	w = doRequest(t, r, "POST", "/api/v1/auth/token/refresh", refresh, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	_, r := newTestApp(t)
	access, _ := registerAndLogin(t, r, "c@x.com", "carol", "pw1234")

	w := doRequest(t, r, "POST", "/api/v1/auth/token/refresh", access, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	_, r := newTestApp(t)

	tests := []struct {
		name string
		req  map[string]string
	}{
		{"missing fields", map[string]string{"email": "a@x.com"}},
		{"short username", map[string]string{"username": "ab", "email": "a@x.com", "password": "pw1234"}},
		{"long username", map[string]string{"username": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "email": "a@x.com", "password": "pw1234"}},
		{"short password", map[string]string{"username": "alice", "email": "a@x.com", "password": "pw"}},
		// two runes, four bytes: length is counted in characters
		{"short multibyte username", map[string]string{"username": "éé", "email": "a@x.com", "password": "pw1234"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, r, "POST", "/api/v1/auth/register", "", tc.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	// thirty runes is within bounds even when it exceeds thirty bytes
	w := doRequest(t, r, "POST", "/api/v1/auth/register", "", map[string]string{
		"username": strings.Repeat("é", 30), "email": "multi@x.com", "password": "pw1234",
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestProfile(t *testing.T) {
	_, r := newTestApp(t)
	access, _ := registerAndLogin(t, r, "d@x.com", "dave", "pw1234")

	w := doRequest(t, r, "GET", "/api/v1/users/me", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decodeBody(t, w)
	assert.Equal(t, "dave", profile["username"])
	assert.Equal(t, "d@x.com", profile["email"])

	// no token
	w = doRequest(t, r, "GET", "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateUsername(t *testing.T) {
	_, r := newTestApp(t)
	access, _ := registerAndLogin(t, r, "e@x.com", "erin", "pw1234")
	registerAndLogin(t, r, "f@x.com", "frank", "pw1234")

	w := doRequest(t, r, "PUT", "/api/v1/users/me", access, map[string]string{"username": "erin2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "erin2", decodeBody(t, w)["username"])

	w = doRequest(t, r, "PUT", "/api/v1/users/me", access, map[string]string{"username": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, r, "PUT", "/api/v1/users/me", access, map[string]string{"username": "frank"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangePasswordRequiresFreshToken(t *testing.T) {
	_, r := newTestApp(t)
	fresh, refresh := registerAndLogin(t, r, "g@x.com", "grace", "pw1234")

	w := doRequest(t, r, "POST", "/api/v1/auth/token/refresh", refresh, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stale := decodeBody(t, w)["access_token"].(string)

	change := map[string]string{
		"current_password": "pw1234",
		"new_password":     "newpw1",
		"confirm_password": "newpw1",
	}

	// a token from a refresh exchange is valid but not fresh
	w = doRequest(t, r, "PUT", "/api/v1/users/me/password", stale, change)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, r, "PUT", "/api/v1/users/me/password", fresh, change)
	require.Equal(t, http.StatusOK, w.Code)

	// old password no longer works, new one does
	w = doRequest(t, r, "POST", "/api/v1/auth/login", "", map[string]string{"email": "g@x.com", "password": "pw1234"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doRequest(t, r, "POST", "/api/v1/auth/login", "", map[string]string{"email": "g@x.com", "password": "newpw1"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	_, r := newTestApp(t)
	access, _ := registerAndLogin(t, r, "h@x.com", "heidi", "pw1234")

	w := doRequest(t, r, "PUT", "/api/v1/users/me/password", access, map[string]string{
		"current_password": "wrong",
		"new_password":     "newpw1",
		"confirm_password": "newpw1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteUser(t *testing.T) {
	app, r := newTestApp(t)
	access, _ := registerAndLogin(t, r, "i@x.com", "ivan", "pw1234")

	w := doRequest(t, r, "GET", "/api/v1/users/me", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	userID := decodeBody(t, w)["id"].(string)

	// cannot delete somebody else
	w = doRequest(t, r, "DELETE", "/api/v1/users/other-id", access, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, r, "DELETE", "/api/v1/users/"+userID, access, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// the token that authorized the deletion is revoked
	w = doRequest(t, r, "GET", "/api/v1/users/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	_, err := app.DB.GetUserByID(context.Background(), userID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserRequiresFreshToken(t *testing.T) {
	_, r := newTestApp(t)
	access, refresh := registerAndLogin(t, r, "j@x.com", "judy", "pw1234")

	w := doRequest(t, r, "GET", "/api/v1/users/me", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	userID := decodeBody(t, w)["id"].(string)

	w = doRequest(t, r, "POST", "/api/v1/auth/token/refresh", refresh, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stale := decodeBody(t, w)["access_token"].(string)

	w = doRequest(t, r, "DELETE", "/api/v1/users/"+userID, stale, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	_, r := newTestApp(t)
	registerAndLogin(t, r, "k@x.com", "kevin", "pw1234")

	w := doRequest(t, r, "POST", "/api/v1/auth/reset-password", "", map[string]string{"email": "unknown@x.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, r, "POST", "/api/v1/auth/reset-password", "", map[string]string{"email": "k@x.com"})
	require.Equal(t, http.StatusOK, w.Code)
	resetToken := decodeBody(t, w)["reset_token"].(string)
	require.NotEmpty(t, resetToken)

	w = doRequest(t, r, "POST", "/api/v1/auth/reset-password/confirm", "", map[string]string{
		"token": "bogus", "new_password": "newpw1", "confirm_password": "newpw1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, r, "POST", "/api/v1/auth/reset-password/confirm", "", map[string]string{
		"token": resetToken, "new_password": "newpw1", "confirm_password": "newpw1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// the token is single-use
	w = doRequest(t, r, "POST", "/api/v1/auth/reset-password/confirm", "", map[string]string{
		"token": resetToken, "new_password": "other1", "confirm_password": "other1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, r, "POST", "/api/v1/auth/login", "", map[string]string{"email": "k@x.com", "password": "newpw1"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenStatus(t *testing.T) {
	_, r := newTestApp(t)
	access, _ := registerAndLogin(t, r, "l@x.com", "laura", "pw1234")

	w := doRequest(t, r, "GET", "/api/v1/auth/token-status", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody(t, w)
	assert.Equal(t, "access", status["token_type"])
	assert.Equal(t, true, status["fresh"])
	assert.Equal(t, false, status["is_revoked"])
	assert.NotEmpty(t, status["jti"])
}

func TestHealth(t *testing.T) {
	_, r := newTestApp(t)
	w := doRequest(t, r, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])
}
