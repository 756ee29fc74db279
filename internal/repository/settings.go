package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

// Settings возвращает глобальные настройки. Отсутствие строки или любого из
// числовых полей приводит к model.ErrReferralLookup.
func (r *PostgresRepository) Settings(ctx context.Context) (*model.SystemSettings, error) {
	var s *model.SystemSettings
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var (
			fee, referral *string
			minimum       *int64
		)

		err := r.pool.QueryRow(ctx,
			`SELECT withdrawal_fee_percent::text, referral_percent::text, minimum_withdrawal
			 FROM system_settings WHERE id = 1`,
		).Scan(&fee, &referral, &minimum)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: system settings are not configured", model.ErrReferralLookup)
			}
			return fmt.Errorf("get settings: %w", err)
		}

		if fee == nil || referral == nil || minimum == nil {
			return fmt.Errorf("%w: system settings are incomplete", model.ErrReferralLookup)
		}

		s = &model.SystemSettings{MinimumWithdrawal: fromCents(*minimum)}
		if s.WithdrawalFeePercent, err = parseNumeric(*fee); err != nil {
			return fmt.Errorf("%w: %v", model.ErrReferralLookup, err)
		}
		if s.ReferralPercent, err = parseNumeric(*referral); err != nil {
			return fmt.Errorf("%w: %v", model.ErrReferralLookup, err)
		}
		return nil
	})
	return s, err
}

// UpdateSettings сохраняет глобальные настройки, создавая строку при первом вызове.
func (r *PostgresRepository) UpdateSettings(ctx context.Context, s *model.SystemSettings) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO system_settings (id, withdrawal_fee_percent, referral_percent, minimum_withdrawal)
			 VALUES (1, $1::numeric, $2::numeric, $3)
			 ON CONFLICT (id) DO UPDATE
			 SET withdrawal_fee_percent = EXCLUDED.withdrawal_fee_percent,
			     referral_percent = EXCLUDED.referral_percent,
			     minimum_withdrawal = EXCLUDED.minimum_withdrawal,
			     updated_at = now()`,
			s.WithdrawalFeePercent.String(), s.ReferralPercent.String(), toCents(s.MinimumWithdrawal),
		)
		if err != nil {
			return fmt.Errorf("update settings: %w", err)
		}
		return nil
	})
}
