package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/model"
	"github.com/mmeshcher/invest-ledger/internal/validation"
)

type credentialsRequest struct {
	Login        string `json:"login"`
	Password     string `json:"password"`
	ReferralCode string `json:"referralCode,omitempty"`
}

type userResponse struct {
	ID    string     `json:"id"`
	Login string     `json:"login"`
	Role  model.Role `json:"role"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID, Login: u.Login, Role: u.Role}
}

func decodeCredentials(r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, false
	}
	return req, req.Login != "" && req.Password != ""
}

// Register регистрирует пользователя, выпускает ему реферальный код и
// учитывает код пригласившего, если он передан.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok || !validation.IsValidLogin(req.Login) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	code := ""
	if req.ReferralCode != "" {
		normalized, valid := validation.NormalizeReferralCode(req.ReferralCode)
		if valid {
			code = normalized
		} else {
			h.logger.Debug("malformed referral code ignored", zap.String("code", req.ReferralCode))
		}
	}

	u, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, code)
	if err != nil {
		h.writeError(w, err, "register user error", zap.String("login", req.Login))
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, u.ID, u.Role); err != nil {
		h.logger.Error("set auth cookie error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, newUserResponse(u))
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "login user error", zap.String("login", req.Login))
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, u.ID, u.Role); err != nil {
		h.logger.Error("set auth cookie error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, newUserResponse(u))
}

type socioResponse struct {
	User         userResponse `json:"user"`
	ReferralCode string       `json:"referralCode"`
}

// CreateSocio заводит партнёра с реферальным кодом SOC.
func (h *Handler) CreateSocio(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok || !validation.IsValidLogin(req.Login) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, rc, err := h.service.CreateSocio(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "create socio error", zap.String("login", req.Login))
		return
	}

	h.writeJSON(w, http.StatusCreated, socioResponse{User: newUserResponse(u), ReferralCode: rc.Code})
}
