// Package handler содержит HTTP-обработчики API сервиса инвестиционного учёта.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/middleware"
	"github.com/mmeshcher/invest-ledger/internal/model"
	"github.com/mmeshcher/invest-ledger/internal/repository"
	"github.com/mmeshcher/invest-ledger/internal/service"
)

const timeLayout = time.RFC3339

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, referralCode string) (*model.User, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	CreateSocio(ctx context.Context, login, password string) (*model.User, *model.ReferralCode, error)

	CreateInvestment(ctx context.Context, in service.NewInvestment) (*model.Investment, error)
	Investment(ctx context.Context, id string) (*model.Investment, error)
	InvestmentsByUser(ctx context.Context, userID string) ([]model.Investment, error)
	Approve(ctx context.Context, id string) (*model.Investment, error)
	Reject(ctx context.Context, id string) error
	RecomputeEarnings(ctx context.Context, id string) (decimal.Decimal, error)
	RecomputeAllEarnings(ctx context.Context) (int, error)

	AvailableBalance(ctx context.Context, userID string) (*model.AvailableBalance, error)
	CreateWithdrawal(ctx context.Context, userID string, amount decimal.Decimal) (*model.WithdrawalRequest, error)
	WithdrawalsByUser(ctx context.Context, userID string) ([]model.WithdrawalRequest, error)
	WithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error)
	SettleWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error)

	ReferralSummary(ctx context.Context, userID string) (*model.ReferralSummary, error)

	SocioUsers(ctx context.Context, socioID string) ([]model.User, error)
	SocioInvestments(ctx context.Context, socioID string) ([]model.Investment, error)
	SocioWithdrawals(ctx context.Context, socioID string, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error)

	Settings(ctx context.Context) (*model.SystemSettings, error)
	UpdateSettings(ctx context.Context, settings *model.SystemSettings) error
}

// VoucherStore хранит квитанции об оплате инвестиций.
type VoucherStore interface {
	Upload(ctx context.Context, userID, filename, contentType string, body io.Reader, size int64) (string, error)
	PresignURL(ctx context.Context, key string) (string, error)
}

// Handler реализует HTTP-обработчики API сервиса инвестиционного учёта.
type Handler struct {
	service        Service
	vouchers       VoucherStore
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// vouchers может быть nil, если хранилище квитанций не настроено.
func NewHandler(s Service, vouchers VoucherStore, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		vouchers:       vouchers,
		logger:         logger,
		authMiddleware: auth,
	}
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, repository.ErrUserExists), errors.Is(err, service.ErrPendingWithdrawal):
		return http.StatusConflict
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrReferralLookup):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	status := statusFromError(err)

	fields = append(fields, zap.Error(err), zap.Int("status", status))
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, fields...)
	} else {
		h.logger.Debug(msg, fields...)
	}

	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		http.Error(w, http.StatusText(status), status)
	case http.StatusInternalServerError:
		http.Error(w, http.StatusText(status), status)
	default:
		http.Error(w, err.Error(), status)
	}
}

// pathID возвращает идентификатор записи из пути запроса. Значение, которое
// не является UUID, не может указывать на запись и сразу получает 404.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed id %q", model.ErrNotFound, id), "malformed path id")
		return "", false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(timeLayout)
	return &s
}
