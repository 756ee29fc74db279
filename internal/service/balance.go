package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

const (
	withdrawalGateDelay = 48 * time.Hour
	planMonthDays       = 30
)

// AvailableBalance рассчитывает сводный баланс пользователя и сумму, доступную к выводу.
func (s *Service) AvailableBalance(ctx context.Context, userID string) (*model.AvailableBalance, error) {
	now := s.now()

	investments, err := s.repo.GetApprovedInvestments(ctx, userID)
	if err != nil {
		return nil, err
	}

	referralBonus, err := s.referralBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	pendingTotal, hasPending, err := s.pendingWithdrawals(ctx, userID)
	if err != nil {
		return nil, err
	}

	b := &model.AvailableBalance{
		Investment:              decimal.Zero,
		Earnings:                decimal.Zero,
		ReferralBonus:           referralBonus.Round(2),
		HasPendingWithdrawal:    hasPending,
		TotalPendingWithdrawals: pendingTotal.Round(2),
	}

	total := decimal.Zero

	if len(investments) == 0 {
		if b.ReferralBonus.IsPositive() {
			b.CanWithdrawEarnings = true
			total = b.ReferralBonus
		}
		b.Total = clampBalance(total.Sub(b.TotalPendingWithdrawals))
		return b, nil
	}

	b.HasPlan = true
	b.IsCompleted = true
	daysForWithdrawal := -1

	for i := range investments {
		inv := &investments[i]
		b.Investment = b.Investment.Add(inv.Investment)
		b.Earnings = b.Earnings.Add(inv.Earnings)

		if !inv.Expired(now) {
			b.IsCompleted = false
		}

		remaining := withdrawalDaysRemaining(inv, now)
		if remaining == 0 {
			b.CanWithdrawEarnings = true
		}
		if daysForWithdrawal < 0 || remaining < daysForWithdrawal {
			daysForWithdrawal = remaining
		}
	}

	b.Investment = b.Investment.Round(2)
	b.Earnings = b.Earnings.Round(2)
	b.DaysForWithdrawal = max(daysForWithdrawal, 0)

	switch {
	case b.IsCompleted:
		total = b.Investment.Add(b.Earnings).Add(b.ReferralBonus)
	case b.CanWithdrawEarnings:
		total = b.Earnings.Add(b.ReferralBonus)
	case b.ReferralBonus.IsPositive():
		total = b.ReferralBonus
		b.CanWithdrawEarnings = true
	}

	b.Total = clampBalance(total.Sub(b.TotalPendingWithdrawals))
	return b, nil
}

// withdrawalDaysRemaining возвращает число дней до открытия вывода доходности по инвестиции.
// Отсчёт начинается через двое суток после активации.
func withdrawalDaysRemaining(inv *model.Investment, now time.Time) int {
	if inv.ActivationDate == nil {
		return 0
	}

	gateStart := inv.ActivationDate.Add(withdrawalGateDelay)
	daysSince := int(math.Floor(now.Sub(gateStart).Hours() / 24))

	totalDays := decimal.NewFromInt(int64(inv.Duration * planMonthDays))
	minDays := int(inv.MinWithdrawalPercent.Div(hundred).Mul(totalDays).Ceil().IntPart())

	return max(minDays-daysSince, 0)
}

func clampBalance(v decimal.Decimal) decimal.Decimal {
	v = v.Round(2)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func (s *Service) referralBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	rc, err := s.repo.GetReferralCodeByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return rc.Earnings, nil
}

func (s *Service) pendingWithdrawals(ctx context.Context, userID string) (decimal.Decimal, bool, error) {
	withdrawals, err := s.repo.GetWithdrawalsByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, false, err
	}

	total := decimal.Zero
	has := false
	for _, w := range withdrawals {
		if w.Status == model.WithdrawalStatusPending {
			total = total.Add(w.Amount)
			has = true
		}
	}
	return total, has, nil
}
