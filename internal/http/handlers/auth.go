package handlers

import (
	"net/http"

	"github.com/opina/server/internal/auth"
	"github.com/opina/server/internal/middleware"
	"github.com/opina/server/internal/model"
)

// AuthHandler handles registration, login and account management
type AuthHandler struct {
	authService *auth.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRequest represents the registration payload
type RegisterRequest struct {
	Name     string  `json:"nom" validate:"required"`
	Email    string  `json:"email" validate:"required,email"`
	Phone    *string `json:"numero_telephone" validate:"omitempty,e164"`
	Password string  `json:"mot_de_passe" validate:"required,min=6,max=72"`
}

// LoginRequest represents the login payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"mot_de_passe" validate:"required"`
}

// SetRoleRequest represents the role change payload
type SetRoleRequest struct {
	IsAdmin *bool `json:"est_admin" validate:"required"`
}

// SessionResponse is returned after a successful registration or login
type SessionResponse struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    model.User `json:"utilisateur"`
}

type userResponse struct {
	Message string     `json:"message,omitempty"`
	User    model.User `json:"utilisateur"`
}

type usersResponse struct {
	Users []model.User `json:"utilisateurs"`
}

// Register handles POST /auth/inscription
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	session, err := h.authService.Register(r.Context(), auth.Registration{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, SessionResponse{
		Message: "Inscription réussie",
		Token:   session.Token,
		User:    session.User,
	})
}

// Login handles POST /auth/connexion
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	session, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SessionResponse{
		Message: "Connexion réussie",
		Token:   session.Token,
		User:    session.User,
	})
}

// Me handles GET /auth/verifier
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	user, err := h.authService.Me(r.Context(), id.ID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, userResponse{User: user})
}

// ListUsers handles GET /utilisateurs
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.authService.ListUsers(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, usersResponse{Users: users})
}

// SetRole handles PUT /utilisateurs/{id}/roles
func (h *AuthHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	var req SetRoleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	caller, _ := middleware.GetIdentity(r.Context())
	user, err := h.authService.SetAdmin(r.Context(), caller, userID, *req.IsAdmin)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, userResponse{Message: "Rôle mis à jour", User: user})
}
