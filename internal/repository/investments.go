package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

const investmentColumns = `id, user_id, plan_name, investment, interest_rate::text, duration,
	min_withdrawal_percent::text, status, earnings, earnings_withdrawn,
	activation_date, expiration_date, bonus_credited, voucher_url, created_at, updated_at`

func scanInvestment(row pgx.Row) (*model.Investment, error) {
	var (
		inv                  model.Investment
		principal            int64
		rate                 string
		minWithdrawalPercent string
		status               string
		earnings             int64
		earningsWithdrawn    int64
	)

	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.PlanName, &principal, &rate, &inv.Duration,
		&minWithdrawalPercent, &status, &earnings, &earningsWithdrawn,
		&inv.ActivationDate, &inv.ExpirationDate, &inv.BonusCredited, &inv.VoucherURL,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inv.InterestRate, err = parseNumeric(rate); err != nil {
		return nil, err
	}
	if inv.MinWithdrawalPercent, err = parseNumeric(minWithdrawalPercent); err != nil {
		return nil, err
	}

	inv.Investment = fromCents(principal)
	inv.Earnings = fromCents(earnings)
	inv.EarningsWithdrawn = fromCents(earningsWithdrawn)
	inv.Status = model.InvestmentStatus(status)

	return &inv, nil
}

func (r *PostgresRepository) queryInvestments(ctx context.Context, query string, args ...any) ([]model.Investment, error) {
	var res []model.Investment
	err := r.withRetry(ctx, func(ctx context.Context) error {
		res = nil

		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select investments: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			inv, err := scanInvestment(rows)
			if err != nil {
				return fmt.Errorf("scan investment: %w", err)
			}
			res = append(res, *inv)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	return res, err
}

// CreateInvestment сохраняет новую инвестицию в статусе ожидания.
func (r *PostgresRepository) CreateInvestment(ctx context.Context, inv *model.Investment) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO investments (id, user_id, plan_name, investment, interest_rate, duration,
				min_withdrawal_percent, status, earnings, voucher_url)
			 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8, $9, $10)
			 RETURNING created_at, updated_at`,
			inv.ID, inv.UserID, inv.PlanName, toCents(inv.Investment), inv.InterestRate.String(),
			inv.Duration, inv.MinWithdrawalPercent.String(), string(inv.Status),
			toCents(inv.Earnings), inv.VoucherURL,
		).Scan(&inv.CreatedAt, &inv.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert investment: %w", err)
		}
		return nil
	})
}

// GetInvestment возвращает инвестицию по идентификатору.
func (r *PostgresRepository) GetInvestment(ctx context.Context, id string) (*model.Investment, error) {
	var inv *model.Investment
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		inv, err = scanInvestment(r.pool.QueryRow(ctx,
			`SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: investment %s", model.ErrNotFound, id)
			}
			return fmt.Errorf("get investment: %w", err)
		}
		return nil
	})
	return inv, err
}

// GetInvestmentsByUser возвращает все инвестиции пользователя, новые первыми.
func (r *PostgresRepository) GetInvestmentsByUser(ctx context.Context, userID string) ([]model.Investment, error) {
	return r.queryInvestments(ctx,
		`SELECT `+investmentColumns+` FROM investments
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
}

// GetInvestmentsBySocio возвращает инвестиции пользователей партнёра, новые первыми.
func (r *PostgresRepository) GetInvestmentsBySocio(ctx context.Context, socioID string) ([]model.Investment, error) {
	return r.queryInvestments(ctx,
		`SELECT `+investmentColumns+` FROM investments
		 WHERE user_id IN (SELECT id FROM users WHERE socio_id = $1)
		 ORDER BY created_at DESC`,
		socioID,
	)
}

// GetApprovedInvestments возвращает одобренные инвестиции пользователя в порядке активации.
func (r *PostgresRepository) GetApprovedInvestments(ctx context.Context, userID string) ([]model.Investment, error) {
	return r.queryInvestments(ctx,
		`SELECT `+investmentColumns+` FROM investments
		 WHERE user_id = $1 AND status = $2
		 ORDER BY activation_date, created_at, id`,
		userID, string(model.InvestmentStatusApproved),
	)
}

// GetInvestmentsForAccrual возвращает одобренные инвестиции, срок которых не истёк к моменту now.
func (r *PostgresRepository) GetInvestmentsForAccrual(ctx context.Context, now time.Time) ([]model.Investment, error) {
	return r.queryInvestments(ctx,
		`SELECT `+investmentColumns+` FROM investments
		 WHERE status = $1 AND expiration_date >= $2
		 ORDER BY activation_date`,
		string(model.InvestmentStatusApproved), now,
	)
}

// GetInvestmentsPendingBonus возвращает одобренные инвестиции, по которым ещё не начислен реферальный бонус.
func (r *PostgresRepository) GetInvestmentsPendingBonus(ctx context.Context) ([]model.Investment, error) {
	return r.queryInvestments(ctx,
		`SELECT `+investmentColumns+` FROM investments
		 WHERE status = $1 AND NOT bonus_credited
		 ORDER BY activation_date`,
		string(model.InvestmentStatusApproved),
	)
}

// ApproveInvestment переводит инвестицию из ожидания в одобренные, фиксируя даты активации и истечения.
func (r *PostgresRepository) ApproveInvestment(ctx context.Context, id string, activation, expiration time.Time) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE investments
			 SET status = $2, activation_date = $3, expiration_date = $4,
			     earnings = 0, bonus_credited = FALSE, updated_at = now()
			 WHERE id = $1 AND status = $5`,
			id, string(model.InvestmentStatusApproved), activation, expiration,
			string(model.InvestmentStatusPending),
		)
		if err != nil {
			return fmt.Errorf("approve investment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: investment %s is not pending", model.ErrInvalidState, id)
		}
		return nil
	})
}

// RejectInvestment переводит инвестицию из ожидания в отклонённые.
func (r *PostgresRepository) RejectInvestment(ctx context.Context, id string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE investments SET status = $2, updated_at = now()
			 WHERE id = $1 AND status = $3`,
			id, string(model.InvestmentStatusRejected), string(model.InvestmentStatusPending),
		)
		if err != nil {
			return fmt.Errorf("reject investment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: investment %s is not pending", model.ErrInvalidState, id)
		}
		return nil
	})
}

// UpdateInvestmentEarnings записывает новую сумму доходности, только если текущее значение равно expected.
func (r *PostgresRepository) UpdateInvestmentEarnings(ctx context.Context, id string, expected, earnings decimal.Decimal) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE investments SET earnings = $3, updated_at = now()
			 WHERE id = $1 AND status = $4 AND earnings = $2`,
			id, toCents(expected), toCents(earnings), string(model.InvestmentStatusApproved),
		)
		if err != nil {
			return fmt.Errorf("update earnings: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: earnings of investment %s changed concurrently", model.ErrConcurrencyConflict, id)
		}
		return nil
	})
}
