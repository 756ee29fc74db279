package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/model"
	"github.com/mmeshcher/invest-ledger/internal/repository"
)

var (
	// ErrInsufficientBalance возвращается, если доступного баланса не хватает для вывода.
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", model.ErrValidation)
	// ErrPendingWithdrawal возвращается, если у пользователя уже есть заявка в ожидании.
	ErrPendingWithdrawal = fmt.Errorf("%w: pending withdrawal already exists", model.ErrValidation)
)

// CreateWithdrawal создаёт заявку на вывод средств. При любой ошибке проверки ничего не сохраняется.
func (s *Service) CreateWithdrawal(ctx context.Context, userID string, amount decimal.Decimal) (*model.WithdrawalRequest, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", model.ErrValidation)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return nil, err
	}

	if amount.LessThan(settings.MinimumWithdrawal) {
		return nil, fmt.Errorf("%w: amount %s is below minimum withdrawal %s",
			model.ErrValidation, amount.StringFixed(2), settings.MinimumWithdrawal.StringFixed(2))
	}

	balance, err := s.AvailableBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	if balance.HasPendingWithdrawal {
		return nil, ErrPendingWithdrawal
	}

	if balance.Total.LessThan(amount) {
		return nil, fmt.Errorf("%w: available %s, requested %s",
			ErrInsufficientBalance, balance.Total.StringFixed(2), amount.StringFixed(2))
	}

	fee := amount.Mul(settings.WithdrawalFeePercent).Div(hundred).Round(2)

	w := &model.WithdrawalRequest{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		WithdrawalFee: fee,
		NetAmount:     amount.Sub(fee),
		Status:        model.WithdrawalStatusPending,
		BalanceInfo: model.BalanceInfo{
			Investment:    balance.Investment,
			Earnings:      balance.Earnings,
			ReferralBonus: balance.ReferralBonus,
			IsCompleted:   balance.IsCompleted,
		},
	}

	if err := s.repo.CreateWithdrawal(ctx, w); err != nil {
		if errors.Is(err, repository.ErrPendingWithdrawalExists) {
			return nil, ErrPendingWithdrawal
		}
		return nil, err
	}

	s.logger.Info("withdrawal requested",
		zap.String("withdrawalID", w.ID),
		zap.String("userID", userID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("fee", fee.StringFixed(2)),
	)

	return w, nil
}

type deductionSource struct {
	source    model.DeductionSource
	id        string
	available decimal.Decimal
}

// SettleWithdrawal списывает сумму заявки с источников баланса и завершает заявку.
// Порядок списания: доходность одобренных инвестиций в порядке активации, затем
// тело истёкших инвестиций, затем реферальный баланс. Уже выполненные списания
// учитываются, поэтому после сбоя вызов можно безопасно повторить.
func (s *Service) SettleWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	w, err := s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != model.WithdrawalStatusPending {
		return nil, fmt.Errorf("%w: withdrawal %s is %s", model.ErrInvalidState, id, w.Status)
	}

	unlock := s.locks.Lock(w.UserID)
	defer unlock()

	// Заявку могли завершить, пока ждали блокировку.
	w, err = s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != model.WithdrawalStatusPending {
		return nil, fmt.Errorf("%w: withdrawal %s is %s", model.ErrInvalidState, id, w.Status)
	}

	applied, err := s.repo.GetDeductions(ctx, id)
	if err != nil {
		return nil, err
	}

	remaining := w.Amount
	for _, d := range applied {
		remaining = remaining.Sub(d.Amount)
	}

	now := s.now()

	if remaining.IsPositive() {
		sources, err := s.deductionSources(ctx, w.UserID, now)
		if err != nil {
			return nil, err
		}

		for _, src := range sources {
			if !remaining.IsPositive() {
				break
			}

			take := decimal.Min(remaining, src.available)
			if !take.IsPositive() {
				continue
			}

			d := &model.Deduction{
				ID:           uuid.NewString(),
				WithdrawalID: id,
				Source:       src.source,
				SourceID:     src.id,
				Amount:       take,
			}
			if err := s.repo.ApplyDeduction(ctx, d); err != nil {
				s.logger.Warn("withdrawal deduction failed",
					zap.String("withdrawalID", id),
					zap.String("source", string(src.source)),
					zap.String("sourceID", src.id),
					zap.Error(err),
				)
				return nil, fmt.Errorf("deduct %s: %w", src.source, err)
			}

			remaining = remaining.Sub(take)
		}

		if remaining.IsPositive() {
			return nil, fmt.Errorf("%w: %s left to deduct for withdrawal %s",
				ErrInsufficientBalance, remaining.StringFixed(2), id)
		}
	}

	if err := s.repo.CompleteWithdrawal(ctx, id, now); err != nil {
		return nil, err
	}

	w.Status = model.WithdrawalStatusCompleted
	w.BalanceInfo.IsCompleted = true
	w.CompletedAt = &now

	s.logger.Info("withdrawal settled",
		zap.String("withdrawalID", id),
		zap.String("userID", w.UserID),
		zap.String("amount", w.Amount.StringFixed(2)),
	)

	return w, nil
}

func (s *Service) deductionSources(ctx context.Context, userID string, now time.Time) ([]deductionSource, error) {
	investments, err := s.repo.GetApprovedInvestments(ctx, userID)
	if err != nil {
		return nil, err
	}

	sources := make([]deductionSource, 0, 2*len(investments)+1)

	for _, inv := range investments {
		sources = append(sources, deductionSource{
			source:    model.DeductionSourceEarnings,
			id:        inv.ID,
			available: inv.Earnings,
		})
	}

	for _, inv := range investments {
		if inv.Expired(now) {
			sources = append(sources, deductionSource{
				source:    model.DeductionSourcePrincipal,
				id:        inv.ID,
				available: inv.Investment,
			})
		}
	}

	rc, err := s.repo.GetReferralCodeByUser(ctx, userID)
	switch {
	case err == nil:
		sources = append(sources, deductionSource{
			source:    model.DeductionSourceReferral,
			id:        rc.ID,
			available: rc.Earnings,
		})
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	return sources, nil
}

// WithdrawalsByUser возвращает заявки пользователя.
func (s *Service) WithdrawalsByUser(ctx context.Context, userID string) ([]model.WithdrawalRequest, error) {
	return s.repo.GetWithdrawalsByUser(ctx, userID)
}

// WithdrawalsByStatus возвращает заявки с указанным статусом.
func (s *Service) WithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	switch status {
	case model.WithdrawalStatusPending, model.WithdrawalStatusCompleted:
	default:
		return nil, fmt.Errorf("%w: unknown withdrawal status %q", model.ErrValidation, status)
	}
	return s.repo.GetWithdrawalsByStatus(ctx, status)
}
