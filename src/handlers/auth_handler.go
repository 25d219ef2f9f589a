package handlers

import (
	"errors"
	"net/http"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/security"
	"github.com/username/slips/src/utils"
)

type AuthHandler struct {
	authService *security.AuthService
}

func NewAuthHandler(authService *security.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type loginRequest struct {
	Operator string `json:"operator"`
	Key      string `json:"key"`
}

// HandleLogin exchanges the operator API key for a bearer token.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	token, err := h.authService.Login(req.Operator, req.Key)
	switch {
	case errors.Is(err, security.ErrLoginDisabled):
		utils.SendJSONError(w, err.Error(), http.StatusForbidden)
		return
	case errors.Is(err, security.ErrInvalidCredentials):
		logger.L.Warn("Operator login failed", "operator", req.Operator, "remoteAddr", r.RemoteAddr)
		utils.SendJSONError(w, "Invalid operator or key", http.StatusUnauthorized)
		return
	case err != nil:
		writeServiceError(w, r, err)
		return
	}
	logger.L.Info("Operator logged in", "operator", req.Operator)
	writeJSON(w, r, http.StatusOK, map[string]string{"access_token": token, "token_type": "Bearer"})
}
