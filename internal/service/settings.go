package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

// Settings возвращает текущие глобальные настройки.
func (s *Service) Settings(ctx context.Context) (*model.SystemSettings, error) {
	return s.loadSettings(ctx)
}

// UpdateSettings проверяет и сохраняет глобальные настройки.
func (s *Service) UpdateSettings(ctx context.Context, settings *model.SystemSettings) error {
	if settings == nil {
		return fmt.Errorf("%w: settings are required", model.ErrValidation)
	}

	switch {
	case settings.WithdrawalFeePercent.IsNegative() || settings.WithdrawalFeePercent.GreaterThan(hundred):
		return fmt.Errorf("%w: withdrawal fee percent must be within [0, 100]", model.ErrValidation)
	case settings.ReferralPercent.IsNegative() || settings.ReferralPercent.GreaterThan(hundred):
		return fmt.Errorf("%w: referral percent must be within [0, 100]", model.ErrValidation)
	case settings.MinimumWithdrawal.IsNegative():
		return fmt.Errorf("%w: minimum withdrawal must not be negative", model.ErrValidation)
	}

	if err := s.repo.UpdateSettings(ctx, settings); err != nil {
		return err
	}

	s.logger.Info("system settings updated",
		zap.String("withdrawalFeePercent", settings.WithdrawalFeePercent.String()),
		zap.String("referralPercent", settings.ReferralPercent.String()),
		zap.String("minimumWithdrawal", settings.MinimumWithdrawal.StringFixed(2)),
	)
	return nil
}
