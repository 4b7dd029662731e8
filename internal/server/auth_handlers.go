package server

import (
	"net/http"

	"flowplay/internal/auth"
	"flowplay/pkg/models"
)

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func sessionResponse(sess *auth.Session) map[string]interface{} {
	return map[string]interface{}{
		"success":   true,
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
		"user":      sess.User,
	}
}

// handleRegister creates an account and returns a session token.
func (ms *MusicServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	sess, err := ms.auth.Register(r.Context(), auth.RegisterInput{
		Username:    sanitizeInput(req.Username),
		Email:       sanitizeInput(req.Email),
		Password:    req.Password,
		DisplayName: sanitizeInput(req.DisplayName),
	})
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusCreated, sessionResponse(sess))
}

// handleLogin authenticates by username or email.
func (ms *MusicServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	sess, err := ms.auth.Login(r.Context(), sanitizeInput(req.Username), req.Password)
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.logger.WithField("user_id", sess.User.ID).Info("User logged in successfully")
	ms.respondJSON(w, http.StatusOK, sessionResponse(sess))
}

// handleGetProfile returns the caller's profile and derived stats.
func (ms *MusicServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, stats, err := ms.auth.Profile(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
		"stats":   stats,
	})
}

// handleUpdateProfile applies a partial profile update.
func (ms *MusicServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileUpdate
	if err := decodeJSON(w, r, &req, maxProfileBody); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	user, err := ms.auth.UpdateProfile(r.Context(), auth.UserIDFromContext(r.Context()), req)
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}
