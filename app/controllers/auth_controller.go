package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"classicboard/app/auth"
	"classicboard/app/middleware"
	"classicboard/app/models"
)

// AuthController handles account and session requests.
type AuthController struct {
	auth   *auth.Service
	logger *slog.Logger
}

// NewAuthController creates a new AuthController
func NewAuthController(svc *auth.Service, logger *slog.Logger) *AuthController {
	return &AuthController{auth: svc, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SessionResponse is returned by sign up and sign in.
type SessionResponse struct {
	Token string           `json:"token"`
	User  *models.Identity `json:"user"`
}

// SignUp creates an account and returns its first session.
func (ac *AuthController) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	token, id, err := ac.auth.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		ac.sendAuthError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, SessionResponse{Token: token, User: id})
}

// Login opens a session for an existing account.
func (ac *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	token, id, err := ac.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		ac.sendAuthError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, SessionResponse{Token: token, User: id})
}

// Logout ends the session of the bearer token.
func (ac *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	if err := ac.auth.SignOut(r.Context(), middleware.BearerToken(r)); err != nil {
		ac.logger.Error("Sign out failed", "error", err)
		sendError(w, "Failed to sign out", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the identity of the bearer token.
func (ac *AuthController) Me(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFrom(r.Context())
	if id == nil {
		ac.sendAuthError(w, auth.ErrInvalidSession)
		return
	}
	sendJSON(w, http.StatusOK, id)
}

func (ac *AuthController) sendAuthError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrEmailInUse):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrPasswordTooLong):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrWrongPassword),
		errors.Is(err, auth.ErrInvalidSession):
		status = http.StatusUnauthorized
	default:
		ac.logger.Error("Authentication failed", "error", err)
	}
	sendJSON(w, status, authErrorResponse{Error: auth.Message(err), Code: auth.Code(err)})
}
