package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/akmatori/contractmon/internal/api"
	"github.com/akmatori/contractmon/internal/middleware"
	"github.com/akmatori/contractmon/internal/utils"
)

// LoginPath is the only unauthenticated auth route
const LoginPath = "/auth/login"

// TokenIssuer is the operator authentication surface used by the auth routes
type TokenIssuer interface {
	Login(username, password string) (middleware.Token, error)
	Issue(operator string, scope middleware.Scope) (middleware.Token, error)
}

// AuthHandler serves operator login and token exchange
type AuthHandler struct {
	issuer TokenIssuer
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(issuer TokenIssuer) *AuthHandler {
	return &AuthHandler{issuer: issuer}
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
}

// TokenResponse carries a signed operator token
type TokenResponse struct {
	Token     string           `json:"token"`
	Operator  string           `json:"operator"`
	Scope     middleware.Scope `json:"scope"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// SetupRoutes sets up authentication routes
func (h *AuthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+LoginPath, h.handleLogin)
	mux.HandleFunc("POST /auth/feed-token", h.handleFeedToken)
	mux.HandleFunc("GET /auth/verify", h.handleVerify)
}

// handleLogin handles POST /auth/login
func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, api.CodeBadRequest, "Invalid request body")
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	tok, err := h.issuer.Login(req.Username, req.Password)
	if errors.Is(err, middleware.ErrInvalidCredentials) {
		log.Printf("AuthHandler: failed login for '%s' from %s", utils.EscapeForLogging(req.Username, 64), r.RemoteAddr)
		api.RespondError(w, http.StatusUnauthorized, api.CodeUnauthorized, "Invalid username or password")
		return
	}
	if err != nil {
		api.RespondFailure(w, http.StatusInternalServerError, "issue token", err)
		return
	}

	log.Printf("AuthHandler: operator '%s' logged in from %s", utils.EscapeForLogging(req.Username, 64), r.RemoteAddr)
	api.RespondJSON(w, http.StatusOK, TokenResponse{
		Token:     tok.Value,
		Operator:  req.Username,
		Scope:     tok.Scope,
		ExpiresAt: tok.ExpiresAt,
	})
}

// handleFeedToken handles POST /auth/feed-token. It exchanges an operator
// token for a short-lived token that can only open the live feed.
func (h *AuthHandler) handleFeedToken(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		api.RespondError(w, http.StatusUnauthorized, api.CodeUnauthorized, "Not authenticated")
		return
	}
	if op.Scope != middleware.ScopeOperator {
		api.RespondError(w, http.StatusForbidden, api.CodeForbidden, "Feed tokens cannot be exchanged")
		return
	}

	tok, err := h.issuer.Issue(op.Name, middleware.ScopeFeed)
	if err != nil {
		api.RespondFailure(w, http.StatusInternalServerError, "issue token", err)
		return
	}
	api.RespondJSON(w, http.StatusOK, TokenResponse{
		Token:     tok.Value,
		Operator:  op.Name,
		Scope:     tok.Scope,
		ExpiresAt: tok.ExpiresAt,
	})
}

// handleVerify handles GET /auth/verify
func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		api.RespondError(w, http.StatusUnauthorized, api.CodeUnauthorized, "Not authenticated")
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"operator": op.Name,
		"scope":    op.Scope,
	})
}
