package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

const withdrawalColumns = `id, user_id, amount, withdrawal_fee, net_amount, status,
	balance_investment, balance_earnings, balance_referral_bonus, balance_is_completed,
	created_at, updated_at, completed_at`

func scanWithdrawal(row pgx.Row) (*model.WithdrawalRequest, error) {
	var (
		w                          model.WithdrawalRequest
		amount, fee, net           int64
		status                     string
		balInvestment, balEarnings int64
		balReferral                int64
	)

	err := row.Scan(
		&w.ID, &w.UserID, &amount, &fee, &net, &status,
		&balInvestment, &balEarnings, &balReferral, &w.BalanceInfo.IsCompleted,
		&w.CreatedAt, &w.UpdatedAt, &w.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	w.Amount = fromCents(amount)
	w.WithdrawalFee = fromCents(fee)
	w.NetAmount = fromCents(net)
	w.Status = model.WithdrawalStatus(status)
	w.BalanceInfo.Investment = fromCents(balInvestment)
	w.BalanceInfo.Earnings = fromCents(balEarnings)
	w.BalanceInfo.ReferralBonus = fromCents(balReferral)

	return &w, nil
}

func (r *PostgresRepository) queryWithdrawals(ctx context.Context, query string, args ...any) ([]model.WithdrawalRequest, error) {
	var res []model.WithdrawalRequest
	err := r.withRetry(ctx, func(ctx context.Context) error {
		res = nil

		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select withdrawals: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			w, err := scanWithdrawal(rows)
			if err != nil {
				return fmt.Errorf("scan withdrawal: %w", err)
			}
			res = append(res, *w)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	return res, err
}

// CreateWithdrawal сохраняет заявку на вывод вместе со снимком балансов.
// У пользователя может быть не более одной заявки в ожидании.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, w *model.WithdrawalRequest) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO withdrawals (id, user_id, amount, withdrawal_fee, net_amount, status,
				balance_investment, balance_earnings, balance_referral_bonus, balance_is_completed)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING created_at, updated_at`,
			w.ID, w.UserID, toCents(w.Amount), toCents(w.WithdrawalFee), toCents(w.NetAmount),
			string(w.Status), toCents(w.BalanceInfo.Investment), toCents(w.BalanceInfo.Earnings),
			toCents(w.BalanceInfo.ReferralBonus), w.BalanceInfo.IsCompleted,
		).Scan(&w.CreatedAt, &w.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "withdrawals_one_pending_per_user_idx") {
				return fmt.Errorf("%w: user %s", ErrPendingWithdrawalExists, w.UserID)
			}
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		return nil
	})
}

// GetWithdrawal возвращает заявку на вывод по идентификатору.
func (r *PostgresRepository) GetWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	var w *model.WithdrawalRequest
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		w, err = scanWithdrawal(r.pool.QueryRow(ctx,
			`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: withdrawal %s", model.ErrNotFound, id)
			}
			return fmt.Errorf("get withdrawal: %w", err)
		}
		return nil
	})
	return w, err
}

// GetWithdrawalsByUser возвращает заявки пользователя, новые первыми.
func (r *PostgresRepository) GetWithdrawalsByUser(ctx context.Context, userID string) ([]model.WithdrawalRequest, error) {
	return r.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
}

// GetWithdrawalsByStatus возвращает заявки с указанным статусом в порядке поступления.
func (r *PostgresRepository) GetWithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	return r.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals
		 WHERE status = $1
		 ORDER BY created_at`,
		string(status),
	)
}

// GetWithdrawalsBySocio возвращает заявки пользователей партнёра в порядке поступления.
// Пустой статус означает заявки в любом статусе.
func (r *PostgresRepository) GetWithdrawalsBySocio(ctx context.Context, socioID string, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	return r.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals
		 WHERE user_id IN (SELECT id FROM users WHERE socio_id = $1)
		   AND ($2::text = '' OR status = $2)
		 ORDER BY created_at`,
		socioID, string(status),
	)
}

// GetDeductions возвращает списания, уже выполненные по заявке.
func (r *PostgresRepository) GetDeductions(ctx context.Context, withdrawalID string) ([]model.Deduction, error) {
	var res []model.Deduction
	err := r.withRetry(ctx, func(ctx context.Context) error {
		res = nil

		rows, err := r.pool.Query(ctx,
			`SELECT id, withdrawal_id, source, source_id, amount, created_at
			 FROM withdrawal_deductions
			 WHERE withdrawal_id = $1
			 ORDER BY created_at, id`,
			withdrawalID,
		)
		if err != nil {
			return fmt.Errorf("select deductions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				d      model.Deduction
				source string
				amount int64
			)
			if err := rows.Scan(&d.ID, &d.WithdrawalID, &source, &d.SourceID, &amount, &d.CreatedAt); err != nil {
				return fmt.Errorf("scan deduction: %w", err)
			}
			d.Source = model.DeductionSource(source)
			d.Amount = fromCents(amount)
			res = append(res, d)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	return res, err
}

var deductionQueries = map[model.DeductionSource]string{
	model.DeductionSourceEarnings: `UPDATE investments
		SET earnings = earnings - $2, earnings_withdrawn = earnings_withdrawn + $2, updated_at = now()
		WHERE id = $1 AND earnings >= $2`,
	model.DeductionSourcePrincipal: `UPDATE investments
		SET investment = investment - $2, updated_at = now()
		WHERE id = $1 AND investment >= $2`,
	model.DeductionSourceReferral: `UPDATE referral_codes
		SET earnings = earnings - $2
		WHERE id = $1 AND earnings >= $2`,
}

// ApplyDeduction в одной транзакции уменьшает баланс источника и фиксирует списание по заявке.
// Если заявка уже не в ожидании, возвращает model.ErrInvalidState; если на источнике
// недостаточно средств, возвращает model.ErrConcurrencyConflict.
func (r *PostgresRepository) ApplyDeduction(ctx context.Context, d *model.Deduction) error {
	query, ok := deductionQueries[d.Source]
	if !ok {
		return fmt.Errorf("%w: unknown deduction source %q", model.ErrValidation, d.Source)
	}

	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var status string
		err = tx.QueryRow(ctx,
			`SELECT status FROM withdrawals WHERE id = $1 FOR UPDATE`,
			d.WithdrawalID,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: withdrawal %s", model.ErrNotFound, d.WithdrawalID)
			}
			return fmt.Errorf("lock withdrawal: %w", err)
		}
		if model.WithdrawalStatus(status) != model.WithdrawalStatusPending {
			return fmt.Errorf("%w: withdrawal %s is %s", model.ErrInvalidState, d.WithdrawalID, status)
		}

		tag, err := tx.Exec(ctx, query, d.SourceID, toCents(d.Amount))
		if err != nil {
			return fmt.Errorf("decrement %s: %w", d.Source, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s balance of %s changed concurrently", model.ErrConcurrencyConflict, d.Source, d.SourceID)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO withdrawal_deductions (id, withdrawal_id, source, source_id, amount)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING created_at`,
			d.ID, d.WithdrawalID, string(d.Source), d.SourceID, toCents(d.Amount),
		).Scan(&d.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert deduction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// CompleteWithdrawal переводит заявку из ожидания в выполненные.
func (r *PostgresRepository) CompleteWithdrawal(ctx context.Context, id string, completedAt time.Time) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE withdrawals
			 SET status = $2, balance_is_completed = TRUE, completed_at = $3, updated_at = now()
			 WHERE id = $1 AND status = $4`,
			id, string(model.WithdrawalStatusCompleted), completedAt, string(model.WithdrawalStatusPending),
		)
		if err != nil {
			return fmt.Errorf("complete withdrawal: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: withdrawal %s is not pending", model.ErrInvalidState, id)
		}
		return nil
	})
}
