// Package service реализует бизнес-логику инвестиционного учёта: начисление доходности,
// реферальные бонусы, вывод средств и расчёт доступного баланса.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, u *model.User) error
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	SetUserSocio(ctx context.Context, userID, socioID string) error
	GetUsersBySocio(ctx context.Context, socioID string) ([]model.User, error)

	CreateInvestment(ctx context.Context, inv *model.Investment) error
	GetInvestment(ctx context.Context, id string) (*model.Investment, error)
	GetInvestmentsByUser(ctx context.Context, userID string) ([]model.Investment, error)
	GetInvestmentsBySocio(ctx context.Context, socioID string) ([]model.Investment, error)
	GetApprovedInvestments(ctx context.Context, userID string) ([]model.Investment, error)
	GetInvestmentsForAccrual(ctx context.Context, now time.Time) ([]model.Investment, error)
	GetInvestmentsPendingBonus(ctx context.Context) ([]model.Investment, error)
	ApproveInvestment(ctx context.Context, id string, activation, expiration time.Time) error
	RejectInvestment(ctx context.Context, id string) error
	UpdateInvestmentEarnings(ctx context.Context, id string, expected, earnings decimal.Decimal) error

	GetReferralCodeByUser(ctx context.Context, userID string) (*model.ReferralCode, error)
	GetReferralCodeByCode(ctx context.Context, code string) (*model.ReferralCode, error)
	GetReferralCodeByReferredUser(ctx context.Context, userID string) (*model.ReferralCode, error)
	CreateReferralCode(ctx context.Context, rc *model.ReferralCode) error
	AddReferredUser(ctx context.Context, codeID, userID string) (bool, error)
	CreditReferralBonus(ctx context.Context, investmentID string, h *model.ReferralHistory) error
	GetReferralHistory(ctx context.Context, referrerID string) ([]model.ReferralHistory, error)

	CreateWithdrawal(ctx context.Context, w *model.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error)
	GetWithdrawalsByUser(ctx context.Context, userID string) ([]model.WithdrawalRequest, error)
	GetWithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error)
	GetWithdrawalsBySocio(ctx context.Context, socioID string, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error)
	GetDeductions(ctx context.Context, withdrawalID string) ([]model.Deduction, error)
	ApplyDeduction(ctx context.Context, d *model.Deduction) error
	CompleteWithdrawal(ctx context.Context, id string, completedAt time.Time) error

	UpdateSettings(ctx context.Context, s *model.SystemSettings) error
}

// SettingsProvider отдаёт актуальные глобальные настройки.
type SettingsProvider interface {
	Settings(ctx context.Context) (*model.SystemSettings, error)
}

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

// ClockFunc позволяет использовать функцию в качестве Clock.
type ClockFunc func() time.Time

// Now вызывает f.
func (f ClockFunc) Now() time.Time { return f() }

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник текущего времени.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocation задаёт часовой пояс, в котором считаются календарные дни.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// Service содержит бизнес-логику инвестиционного учёта.
type Service struct {
	repo     Repository
	settings SettingsProvider
	logger   *zap.Logger
	clock    Clock
	location *time.Location
	locks    *keyedMutex
}

// NewService создаёт новый сервис с указанным репозиторием и источником настроек.
func NewService(repo Repository, settings SettingsProvider, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:     repo,
		settings: settings,
		logger:   logger,
		clock:    ClockFunc(time.Now),
		location: time.UTC,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().In(s.location)
}

// StartEarningsUpdates периодически пересчитывает доходность активных инвестиций и
// дозачисляет реферальные бонусы, не начисленные при одобрении. Блокируется до отмены ctx.
func (s *Service) StartEarningsUpdates(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.runEarningsCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runEarningsCycle(ctx)
		}
	}
}

func (s *Service) runEarningsCycle(ctx context.Context) {
	updated, err := s.RecomputeAllEarnings(ctx)
	if err != nil {
		s.logger.Error("recompute earnings cycle failed", zap.Error(err))
	} else if updated > 0 {
		s.logger.Info("earnings recomputed", zap.Int("updated", updated))
	}

	credited, err := s.ResumeReferralBonuses(ctx)
	if err != nil {
		s.logger.Error("resume referral bonuses failed", zap.Error(err))
	} else if credited > 0 {
		s.logger.Info("referral bonuses resumed", zap.Int("credited", credited))
	}
}
