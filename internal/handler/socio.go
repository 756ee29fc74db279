package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/middleware"
	"github.com/mmeshcher/invest-ledger/internal/model"
)

type socioUserResponse struct {
	ID        string `json:"id"`
	Login     string `json:"login"`
	CreatedAt string `json:"createdAt"`
}

// GetSocioUsers возвращает пользователей, закреплённых за текущим партнёром.
func (h *Handler) GetSocioUsers(w http.ResponseWriter, r *http.Request) {
	socioID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	users, err := h.service.SocioUsers(r.Context(), socioID)
	if err != nil {
		h.writeError(w, err, "get socio users error", zap.String("socioID", socioID))
		return
	}

	resp := make([]socioUserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, socioUserResponse{ID: u.ID, Login: u.Login, CreatedAt: u.CreatedAt.Format(timeLayout)})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetSocioInvestments возвращает инвестиции пользователей текущего партнёра.
func (h *Handler) GetSocioInvestments(w http.ResponseWriter, r *http.Request) {
	socioID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	investments, err := h.service.SocioInvestments(r.Context(), socioID)
	if err != nil {
		h.writeError(w, err, "get socio investments error", zap.String("socioID", socioID))
		return
	}

	resp := make([]investmentResponse, 0, len(investments))
	for i := range investments {
		resp = append(resp, newInvestmentResponse(&investments[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetSocioWithdrawals возвращает заявки на вывод пользователей текущего партнёра.
// Без параметра status возвращаются заявки в любом статусе.
func (h *Handler) GetSocioWithdrawals(w http.ResponseWriter, r *http.Request) {
	socioID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	status := model.WithdrawalStatus(r.URL.Query().Get("status"))
	withdrawals, err := h.service.SocioWithdrawals(r.Context(), socioID, status)
	if err != nil {
		h.writeError(w, err, "get socio withdrawals error", zap.String("socioID", socioID), zap.String("status", string(status)))
		return
	}

	h.writeJSON(w, http.StatusOK, newWithdrawalsResponse(withdrawals))
}
