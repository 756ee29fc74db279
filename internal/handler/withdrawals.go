package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/middleware"
	"github.com/mmeshcher/invest-ledger/internal/model"
	"github.com/mmeshcher/invest-ledger/internal/validation"
)

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type withdrawalResponse struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"userId"`
	Amount        decimal.Decimal        `json:"amount"`
	WithdrawalFee decimal.Decimal        `json:"withdrawalFee"`
	NetAmount     decimal.Decimal        `json:"netAmount"`
	Status        model.WithdrawalStatus `json:"status"`
	BalanceInfo   model.BalanceInfo      `json:"balanceInfo"`
	CreatedAt     string                 `json:"createdAt"`
	CompletedAt   *string                `json:"completedAt,omitempty"`
}

func newWithdrawalResponse(wr *model.WithdrawalRequest) withdrawalResponse {
	return withdrawalResponse{
		ID:            wr.ID,
		UserID:        wr.UserID,
		Amount:        wr.Amount,
		WithdrawalFee: wr.WithdrawalFee,
		NetAmount:     wr.NetAmount,
		Status:        wr.Status,
		BalanceInfo:   wr.BalanceInfo,
		CreatedAt:     wr.CreatedAt.Format(timeLayout),
		CompletedAt:   formatTime(wr.CompletedAt),
	}
}

func newWithdrawalsResponse(withdrawals []model.WithdrawalRequest) []withdrawalResponse {
	resp := make([]withdrawalResponse, 0, len(withdrawals))
	for i := range withdrawals {
		resp = append(resp, newWithdrawalResponse(&withdrawals[i]))
	}
	return resp
}

// Withdraw создаёт заявку на вывод средств для текущего пользователя.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidAmount(req.Amount) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	wr, err := h.service.CreateWithdrawal(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeError(w, err, "withdraw error", zap.String("userID", userID), zap.Stringer("amount", req.Amount))
		return
	}

	h.writeJSON(w, http.StatusCreated, newWithdrawalResponse(wr))
}

// GetWithdrawals возвращает заявки на вывод текущего пользователя.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	withdrawals, err := h.service.WithdrawalsByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get withdrawals error", zap.String("userID", userID))
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, newWithdrawalsResponse(withdrawals))
}

// ListWithdrawals возвращает очередь заявок с указанным статусом, по умолчанию ожидающие.
// Параметр socioId сужает очередь до пользователей одного партнёра.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	status := model.WithdrawalStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.WithdrawalStatusPending
	}

	var (
		withdrawals []model.WithdrawalRequest
		err         error
	)
	if socioID := r.URL.Query().Get("socioId"); socioID != "" {
		withdrawals, err = h.service.SocioWithdrawals(r.Context(), socioID, status)
	} else {
		withdrawals, err = h.service.WithdrawalsByStatus(r.Context(), status)
	}
	if err != nil {
		h.writeError(w, err, "list withdrawals error", zap.String("status", string(status)))
		return
	}

	h.writeJSON(w, http.StatusOK, newWithdrawalsResponse(withdrawals))
}

// SettleWithdrawal списывает сумму заявки с источников баланса и завершает её.
func (h *Handler) SettleWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	wr, err := h.service.SettleWithdrawal(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "settle withdrawal error", zap.String("withdrawalID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newWithdrawalResponse(wr))
}
