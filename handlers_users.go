package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// HandleGetProfile returns the authenticated user's record.
// GET /api/v1/users/me
func (a *App) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	user, err := a.DB.GetUserByID(r.Context(), claims.UserID())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
			return
		}
		a.Log.Error("loading profile", "user_id", claims.UserID(), "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

// HandleUpdateProfile changes the authenticated user's username.
// PUT /api/v1/users/me
func (a *App) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Username required")
		return
	}
	if !validUsername(req.Username) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Username must be between 3 and 30 characters")
		return
	}

	user, err := a.DB.UpdateUsername(r.Context(), claims.UserID(), req.Username)
	switch {
	case errors.Is(err, ErrDuplicateUsername):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Username already taken")
		return
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	case err != nil:
		a.Log.Error("updating username", "user_id", claims.UserID(), "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

// HandleChangePassword changes the authenticated user's password. The route
// is gated on a fresh access token: a token minted through a refresh exchange
// is not enough for credential changes.
// PUT /api/v1/users/me/password
func (a *App) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "All password fields are required")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "New passwords do not match")
		return
	}
	if len(req.NewPassword) < passwordMinLen {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Password must be at least 6 characters long")
		return
	}

	user, err := a.DB.GetUserByID(r.Context(), claims.UserID())
	if err != nil {
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}
	if !comparePassword(user.Password, req.CurrentPassword) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Current password is incorrect")
		return
	}

	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	if err := a.DB.UpdatePassword(r.Context(), user.ID, hashed); err != nil {
		a.Log.Error("updating password", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update password")
		return
	}

	a.Log.Info("password changed", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

// HandleDeleteUser deletes the caller's own account and revokes the token
// that authorized the deletion. Requires a fresh access token.
// DELETE /api/v1/users/{id}
func (a *App) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	userID := mux.Vars(r)["id"]

	if userID != claims.UserID() {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Unauthorized to delete this user")
		return
	}

	if err := a.Tokens.Revoke(r.Context(), rawTokenFromContext(r.Context())); err != nil {
		a.Log.Error("revoking token on account deletion", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Could not revoke token, try again")
		return
	}

	if err := a.DB.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
			return
		}
		a.Log.Error("deleting user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete user")
		return
	}

	a.Log.Info("account deleted", "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}

// HandleVerifyToken reports the validated token's identity and claim flags.
// GET /api/v1/auth/verify-token
func (a *App) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":      true,
		"user_id":    claims.UserID(),
		"token_type": claims.TokenType,
		"fresh":      claims.Fresh,
		"jti":        claims.ID,
	})
}

// HandleTokenStatus returns full token metadata plus its denylist state.
// GET /api/v1/auth/token-status
func (a *App) HandleTokenStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	revoked, err := a.Revocations.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		a.Log.Error("revocation lookup", "jti", claims.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Revocation store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    claims.UserID(),
		"token_type": claims.TokenType,
		"fresh":      claims.Fresh,
		"jti":        claims.ID,
		"is_revoked": revoked,
		"issued_at":  claims.IssuedAt.Unix(),
		"expires_at": claims.ExpiresAt.Unix(),
	})
}

// HandleResetPasswordRequest issues a one-hour reset token for the account.
// POST /api/v1/auth/reset-password
func (a *App) HandleResetPasswordRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Email is required")
		return
	}

	user, err := a.DB.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		a.Log.Warn("password reset requested for unknown email", "email", req.Email)
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}

	resetToken, err := genToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate reset token")
		return
	}
	if err := a.DB.SetResetToken(r.Context(), user.ID, resetToken, time.Now().Add(time.Hour)); err != nil {
		a.Log.Error("storing reset token", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store reset token")
		return
	}

	a.Log.Info("password reset token generated", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "Password reset token generated",
		"reset_token": resetToken,
	})
}

// HandleResetPasswordConfirm consumes a reset token and sets a new password.
// POST /api/v1/auth/reset-password/confirm
func (a *App) HandleResetPasswordConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token           string `json:"token"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Token == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Missing fields")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Passwords do not match")
		return
	}
	if len(req.NewPassword) < passwordMinLen {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Password must be at least 6 characters long")
		return
	}

	user, err := a.DB.GetUserByResetToken(r.Context(), req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid or expired token")
		return
	}

	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	if err := a.DB.UpdatePassword(r.Context(), user.ID, hashed); err != nil {
		a.Log.Error("resetting password", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update password")
		return
	}
	if err := a.DB.ClearResetToken(r.Context(), user.ID); err != nil {
		a.Log.Error("clearing reset token", "user_id", user.ID, "error", err)
	}

	a.Log.Info("password reset", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}
