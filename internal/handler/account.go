package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/middleware"
	"github.com/mmeshcher/invest-ledger/internal/model"
)

// GetBalance возвращает доступный к выводу баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.AvailableBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get balance error", zap.String("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

type referralHistoryResponse struct {
	ReferredUserID string          `json:"referredUserId"`
	InvestmentID   string          `json:"investmentId"`
	Amount         decimal.Decimal `json:"amount"`
	Percentage     decimal.Decimal `json:"percentage"`
	CreatedAt      string          `json:"createdAt"`
}

type referralResponse struct {
	Code          string                    `json:"code"`
	Role          model.Role                `json:"role"`
	UsedCount     int64                     `json:"usedCount"`
	Earnings      decimal.Decimal           `json:"earnings"`
	ReferredUsers int                       `json:"referredUsers"`
	History       []referralHistoryResponse `json:"history"`
}

// GetReferral возвращает реферальный код текущего пользователя и историю начислений.
func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	summary, err := h.service.ReferralSummary(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get referral summary error", zap.String("userID", userID))
		return
	}

	resp := referralResponse{
		Code:          summary.Code,
		Role:          summary.Role,
		UsedCount:     summary.UsedCount,
		Earnings:      summary.Earnings,
		ReferredUsers: summary.ReferredUsers,
		History:       make([]referralHistoryResponse, 0, len(summary.History)),
	}
	for _, rh := range summary.History {
		resp.History = append(resp.History, referralHistoryResponse{
			ReferredUserID: rh.ReferredUserID,
			InvestmentID:   rh.InvestmentID,
			Amount:         rh.Amount,
			Percentage:     rh.Percentage,
			CreatedAt:      rh.CreatedAt.Format(timeLayout),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetSettings возвращает текущие системные настройки.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Settings(r.Context())
	if err != nil {
		h.writeError(w, err, "get settings error")
		return
	}

	h.writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings сохраняет системные настройки целиком.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.SystemSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateSettings(r.Context(), &settings); err != nil {
		h.writeError(w, err, "update settings error")
		return
	}

	h.writeJSON(w, http.StatusOK, settings)
}
