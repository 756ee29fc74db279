package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

const referralCodeColumns = `id, user_id, code, role, used_count, earnings, referred_users::text[], created_at`

func scanReferralCode(row pgx.Row) (*model.ReferralCode, error) {
	var (
		rc       model.ReferralCode
		role     string
		earnings int64
	)
	err := row.Scan(&rc.ID, &rc.UserID, &rc.Code, &role, &rc.UsedCount, &earnings, &rc.ReferredUsers, &rc.CreatedAt)
	if err != nil {
		return nil, err
	}
	rc.Role = model.Role(role)
	rc.Earnings = fromCents(earnings)
	return &rc, nil
}

func (r *PostgresRepository) getReferralCode(ctx context.Context, where string, arg any) (*model.ReferralCode, error) {
	var rc *model.ReferralCode
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		rc, err = scanReferralCode(r.pool.QueryRow(ctx,
			`SELECT `+referralCodeColumns+` FROM referral_codes WHERE `+where+` LIMIT 1`, arg))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: referral code", model.ErrNotFound)
			}
			return fmt.Errorf("get referral code: %w", err)
		}
		return nil
	})
	return rc, err
}

// GetReferralCodeByUser возвращает реферальный код, принадлежащий пользователю.
func (r *PostgresRepository) GetReferralCodeByUser(ctx context.Context, userID string) (*model.ReferralCode, error) {
	return r.getReferralCode(ctx, `user_id = $1`, userID)
}

// GetReferralCodeByCode возвращает реферальный код по его значению.
func (r *PostgresRepository) GetReferralCodeByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	return r.getReferralCode(ctx, `code = $1`, code)
}

// GetReferralCodeByReferredUser возвращает код, по которому был приглашён пользователь.
func (r *PostgresRepository) GetReferralCodeByReferredUser(ctx context.Context, userID string) (*model.ReferralCode, error) {
	return r.getReferralCode(ctx, `$1 = ANY(referred_users)`, userID)
}

// CreateReferralCode сохраняет новый реферальный код с нулевыми счётчиками.
func (r *PostgresRepository) CreateReferralCode(ctx context.Context, rc *model.ReferralCode) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO referral_codes (id, user_id, code, role)
			 VALUES ($1, $2, $3, $4)
			 RETURNING created_at`,
			rc.ID, rc.UserID, rc.Code, string(rc.Role),
		).Scan(&rc.CreatedAt)
		if err != nil {
			switch {
			case isUniqueViolation(err, "referral_codes_code_key"):
				return fmt.Errorf("%w: %s", ErrReferralCodeTaken, rc.Code)
			case isUniqueViolation(err, "referral_codes_user_id_key"):
				return fmt.Errorf("%w: %s", ErrReferralCodeExists, rc.UserID)
			}
			return fmt.Errorf("insert referral code: %w", err)
		}
		return nil
	})
}

// AddReferredUser атомарно увеличивает счётчик использований кода и добавляет приглашённого.
// Возвращает false, если пользователь уже был приглашён по любому коду.
func (r *PostgresRepository) AddReferredUser(ctx context.Context, codeID, userID string) (bool, error) {
	var added bool
	err := r.withRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE referral_codes
			 SET used_count = used_count + 1, referred_users = array_append(referred_users, $2)
			 WHERE id = $1
			   AND NOT EXISTS (SELECT 1 FROM referral_codes WHERE $2 = ANY(referred_users))`,
			codeID, userID,
		)
		if err != nil {
			return fmt.Errorf("add referred user: %w", err)
		}
		added = tag.RowsAffected() == 1
		return nil
	})
	return added, err
}

// CreditReferralBonus в одной транзакции записывает историю начисления, увеличивает
// баланс кода и помечает инвестицию как обработанную. При h == nil только помечает инвестицию.
// Повторный вызов для той же инвестиции не начисляет бонус второй раз.
func (r *PostgresRepository) CreditReferralBonus(ctx context.Context, investmentID string, h *model.ReferralHistory) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if h != nil {
			err = tx.QueryRow(ctx,
				`INSERT INTO referral_history (id, referral_code_id, referrer_id, referred_user_id,
					investment_id, amount, percentage)
				 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)
				 ON CONFLICT (investment_id) DO NOTHING
				 RETURNING created_at`,
				h.ID, h.ReferralCodeID, h.ReferrerID, h.ReferredUserID, h.InvestmentID,
				toCents(h.Amount), h.Percentage.String(),
			).Scan(&h.CreatedAt)

			switch {
			case err == nil:
				if _, err := tx.Exec(ctx,
					`UPDATE referral_codes SET earnings = earnings + $2 WHERE id = $1`,
					h.ReferralCodeID, toCents(h.Amount),
				); err != nil {
					return fmt.Errorf("increment referral earnings: %w", err)
				}
			case errors.Is(err, pgx.ErrNoRows):
				// История уже записана предыдущей попыткой.
			default:
				return fmt.Errorf("insert referral history: %w", err)
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE investments SET bonus_credited = TRUE, updated_at = now() WHERE id = $1`,
			investmentID,
		); err != nil {
			return fmt.Errorf("mark bonus credited: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetReferralHistory возвращает историю начислений реферера, новые первыми.
func (r *PostgresRepository) GetReferralHistory(ctx context.Context, referrerID string) ([]model.ReferralHistory, error) {
	var res []model.ReferralHistory
	err := r.withRetry(ctx, func(ctx context.Context) error {
		res = nil

		rows, err := r.pool.Query(ctx,
			`SELECT id, referral_code_id, referrer_id, referred_user_id, investment_id,
				amount, percentage::text, created_at
			 FROM referral_history
			 WHERE referrer_id = $1
			 ORDER BY created_at DESC`,
			referrerID,
		)
		if err != nil {
			return fmt.Errorf("select referral history: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				h          model.ReferralHistory
				amount     int64
				percentage string
			)
			if err := rows.Scan(&h.ID, &h.ReferralCodeID, &h.ReferrerID, &h.ReferredUserID,
				&h.InvestmentID, &amount, &percentage, &h.CreatedAt); err != nil {
				return fmt.Errorf("scan referral history: %w", err)
			}
			h.Amount = fromCents(amount)
			if h.Percentage, err = parseNumeric(percentage); err != nil {
				return err
			}
			res = append(res, h)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	return res, err
}
