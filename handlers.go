package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/example/authsvc/internal/token"
)

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Username, email, and password are required")
		return
	}
	if !validUsername(req.Username) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Username must be between 3 and 30 characters")
		return
	}
	if len(req.Password) < passwordMinLen {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Password must be at least 6 characters long")
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}

	user, err := a.DB.CreateUser(r.Context(), uuid.NewString(), req.Email, req.Username, hashed)
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered")
		return
	case errors.Is(err, ErrDuplicateUsername):
		writeError(w, http.StatusConflict, "USERNAME_EXISTS", "Username already exists")
		return
	case err != nil:
		a.Log.Error("creating user", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		return
	}

	a.Log.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully",
		"userId":  user.ID,
	})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Email and password are required")
		return
	}

	// identical response for unknown email and wrong password
	user, err := a.DB.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	if !comparePassword(user.Password, req.Password) {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}

	access, _, err := a.Tokens.Issue(user.ID, token.TypeAccess, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token")
		return
	}
	refresh, _, err := a.Tokens.Issue(user.ID, token.TypeRefresh, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token")
		return
	}

	a.Log.Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"user": map[string]interface{}{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
		},
	})
}

// HandleRefresh exchanges a refresh token, presented as a bearer credential,
// for a new non-fresh access token. The refresh token is not rotated.
func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		writeUnauthorized(w)
		return
	}
	access, claims, err := a.Tokens.Refresh(r.Context(), raw)
	if err != nil {
		a.Log.Warn("refresh rejected", "reason", err)
		writeUnauthorized(w)
		return
	}
	a.Log.Info("access token refreshed", "user_id", claims.UserID())
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

// HandleLogout revokes the presented access token and, if the body carries a
// refresh token, that one too, so neither can be used after logout.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	raw := rawTokenFromContext(r.Context())

	if err := a.Tokens.Revoke(r.Context(), raw); err != nil {
		a.Log.Error("revoking access token", "user_id", claims.UserID(), "error", err)
		writeError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Could not revoke token, try again")
		return
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.RefreshToken != "" {
		if err := a.Tokens.Revoke(r.Context(), body.RefreshToken); err != nil {
			if errors.Is(err, token.ErrMalformed) || errors.Is(err, token.ErrInvalidSignature) {
				writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid refresh token")
				return
			}
			a.Log.Error("revoking refresh token", "user_id", claims.UserID(), "error", err)
			writeError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Could not revoke token, try again")
			return
		}
	}

	a.Log.Info("user logged out", "user_id", claims.UserID())
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}
