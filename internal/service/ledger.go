package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/calendar"
	"github.com/mmeshcher/invest-ledger/internal/model"
)

var hundred = decimal.NewFromInt(100)

// NewInvestment содержит параметры заявки на вложение в тарифный план.
type NewInvestment struct {
	UserID               string
	PlanName             string
	Investment           decimal.Decimal
	InterestRate         decimal.Decimal
	Duration             int
	MinWithdrawalPercent decimal.Decimal
	VoucherURL           string
}

func (in NewInvestment) validate() error {
	switch {
	case in.UserID == "":
		return fmt.Errorf("%w: user id is required", model.ErrValidation)
	case strings.TrimSpace(in.PlanName) == "":
		return fmt.Errorf("%w: plan name is required", model.ErrValidation)
	case !in.Investment.IsPositive():
		return fmt.Errorf("%w: investment must be positive", model.ErrValidation)
	case in.InterestRate.IsNegative():
		return fmt.Errorf("%w: interest rate must not be negative", model.ErrValidation)
	case in.Duration < 1:
		return fmt.Errorf("%w: duration must be at least one month", model.ErrValidation)
	case in.MinWithdrawalPercent.IsNegative() || in.MinWithdrawalPercent.GreaterThan(hundred):
		return fmt.Errorf("%w: min withdrawal percent must be within [0, 100]", model.ErrValidation)
	}
	return nil
}

// CreateInvestment регистрирует заявку на вложение. Инвестиция создаётся в статусе ожидания.
func (s *Service) CreateInvestment(ctx context.Context, in NewInvestment) (*model.Investment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	inv := &model.Investment{
		ID:                   uuid.NewString(),
		UserID:               in.UserID,
		PlanName:             strings.TrimSpace(in.PlanName),
		Investment:           in.Investment.Round(2),
		InterestRate:         in.InterestRate,
		Duration:             in.Duration,
		MinWithdrawalPercent: in.MinWithdrawalPercent,
		Status:               model.InvestmentStatusPending,
		Earnings:             decimal.Zero,
		EarningsWithdrawn:    decimal.Zero,
		VoucherURL:           in.VoucherURL,
	}

	if err := s.repo.CreateInvestment(ctx, inv); err != nil {
		return nil, err
	}

	return inv, nil
}

// Investment возвращает инвестицию по идентификатору.
func (s *Service) Investment(ctx context.Context, id string) (*model.Investment, error) {
	return s.repo.GetInvestment(ctx, id)
}

// InvestmentsByUser возвращает инвестиции пользователя.
func (s *Service) InvestmentsByUser(ctx context.Context, userID string) ([]model.Investment, error) {
	return s.repo.GetInvestmentsByUser(ctx, userID)
}

func (s *Service) loadSettings(ctx context.Context) (*model.SystemSettings, error) {
	if s.settings == nil {
		return nil, fmt.Errorf("%w: settings provider is not configured", model.ErrReferralLookup)
	}

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, fmt.Errorf("%w: system settings are not configured", model.ErrReferralLookup)
	}

	return settings, nil
}

// Approve одобряет инвестицию и начисляет реферальный бонус пригласившему.
// Одобрение выполняется в два шага: сначала фиксируется статус и даты, затем
// начисляется бонус. Если второй шаг не удался, возвращается одобренная инвестиция
// вместе с ошибкой, а бонус будет дозачислен фоновым процессом.
func (s *Service) Approve(ctx context.Context, id string) (*model.Investment, error) {
	inv, err := s.repo.GetInvestment(ctx, id)
	if err != nil {
		return nil, err
	}

	if !inv.Status.CanTransitionTo(model.InvestmentStatusApproved) {
		return nil, fmt.Errorf("%w: investment %s is %s", model.ErrInvalidState, id, inv.Status)
	}

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return nil, err
	}

	activation := s.now()
	expiration := calendar.AddMonthsEndOfDay(activation, inv.Duration)

	if err := s.repo.ApproveInvestment(ctx, id, activation, expiration); err != nil {
		return nil, err
	}

	inv.Status = model.InvestmentStatusApproved
	inv.ActivationDate = &activation
	inv.ExpirationDate = &expiration
	inv.Earnings = decimal.Zero
	inv.BonusCredited = false

	s.logger.Info("investment approved",
		zap.String("investmentID", id),
		zap.String("userID", inv.UserID),
		zap.Time("expiration", expiration),
	)

	if err := s.creditReferralBonus(ctx, inv, settings); err != nil {
		s.logger.Warn("referral bonus deferred", zap.String("investmentID", id), zap.Error(err))
		return inv, fmt.Errorf("credit referral bonus: %w", err)
	}
	inv.BonusCredited = true

	return inv, nil
}

// Reject отклоняет инвестицию, находящуюся в ожидании.
func (s *Service) Reject(ctx context.Context, id string) error {
	inv, err := s.repo.GetInvestment(ctx, id)
	if err != nil {
		return err
	}

	if !inv.Status.CanTransitionTo(model.InvestmentStatusRejected) {
		return fmt.Errorf("%w: investment %s is %s", model.ErrInvalidState, id, inv.Status)
	}

	if err := s.repo.RejectInvestment(ctx, id); err != nil {
		return err
	}

	s.logger.Info("investment rejected", zap.String("investmentID", id))
	return nil
}

// RecomputeEarnings пересчитывает доходность инвестиции на текущий момент и
// сохраняет её, если значение изменилось.
func (s *Service) RecomputeEarnings(ctx context.Context, id string) (decimal.Decimal, error) {
	inv, err := s.repo.GetInvestment(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return s.recomputeEarnings(ctx, inv, s.now())
}

// RecomputeAllEarnings пересчитывает доходность всех активных инвестиций.
// Ошибки по отдельным инвестициям логируются и не прерывают обход.
func (s *Service) RecomputeAllEarnings(ctx context.Context) (int, error) {
	now := s.now()

	investments, err := s.repo.GetInvestmentsForAccrual(ctx, now)
	if err != nil {
		return 0, err
	}

	updated := 0
	for i := range investments {
		before := investments[i].Earnings

		after, err := s.recomputeEarnings(ctx, &investments[i], now)
		if err != nil {
			if ctx.Err() != nil {
				return updated, ctx.Err()
			}
			s.logger.Warn("recompute earnings failed",
				zap.String("investmentID", investments[i].ID),
				zap.Error(err),
			)
			continue
		}

		if !after.Equal(before) {
			updated++
		}
	}

	return updated, nil
}

func (s *Service) recomputeEarnings(ctx context.Context, inv *model.Investment, now time.Time) (decimal.Decimal, error) {
	target, ok := s.accruedEarnings(inv, now)
	if !ok || target.Equal(inv.Earnings) {
		return inv.Earnings, nil
	}

	if err := s.repo.UpdateInvestmentEarnings(ctx, inv.ID, inv.Earnings, target); err != nil {
		return inv.Earnings, err
	}

	inv.Earnings = target
	return target, nil
}

// accruedEarnings возвращает невыплаченную доходность инвестиции на момент now.
// Второе значение false означает, что начисление не производится: инвестиция
// не одобрена, ещё не прошли сутки с активации или срок уже истёк.
func (s *Service) accruedEarnings(inv *model.Investment, now time.Time) (decimal.Decimal, bool) {
	if inv.Status != model.InvestmentStatusApproved || inv.ActivationDate == nil || inv.ExpirationDate == nil {
		return inv.Earnings, false
	}

	start := calendar.NextDayStart(inv.ActivationDate.In(s.location))
	if now.Before(start) || now.After(*inv.ExpirationDate) {
		return inv.Earnings, false
	}

	days := calendar.CountBusinessDays(start, now)
	daily := inv.Investment.Mul(inv.InterestRate).Div(hundred)
	accrued := daily.Mul(decimal.NewFromInt(int64(days))).Round(2)

	target := accrued.Sub(inv.EarningsWithdrawn)
	if target.IsNegative() {
		return decimal.Zero, true
	}
	return target, true
}
