package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO users (id, login, password_hash, role, socio_id)
			 VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid)
			 RETURNING created_at`,
			u.ID, u.Login, u.PasswordHash, string(u.Role), u.SocioID,
		).Scan(&u.CreatedAt)
		if err != nil {
			if isUniqueViolation(err, "users_login_key") {
				return fmt.Errorf("%w: %s", ErrUserExists, u.Login)
			}
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
}

const userColumns = `id, login, password_hash, role, COALESCE(socio_id::text, ''), created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.SocioID, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	var u *model.User
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE login = $1`, login))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: user %s", model.ErrNotFound, login)
			}
			return fmt.Errorf("get user: %w", err)
		}
		return nil
	})
	return u, err
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u *model.User
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: user %s", model.ErrNotFound, id)
			}
			return fmt.Errorf("get user: %w", err)
		}
		return nil
	})
	return u, err
}

// SetUserSocio закрепляет пользователя за партнёром.
func (r *PostgresRepository) SetUserSocio(ctx context.Context, userID, socioID string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users SET socio_id = $2 WHERE id = $1`,
			userID, socioID,
		)
		if err != nil {
			return fmt.Errorf("set user socio: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: user %s", model.ErrNotFound, userID)
		}
		return nil
	})
}

// GetUsersBySocio возвращает пользователей, закреплённых за партнёром, в порядке регистрации.
func (r *PostgresRepository) GetUsersBySocio(ctx context.Context, socioID string) ([]model.User, error) {
	var res []model.User
	err := r.withRetry(ctx, func(ctx context.Context) error {
		res = nil

		rows, err := r.pool.Query(ctx,
			`SELECT `+userColumns+` FROM users
			 WHERE socio_id = $1
			 ORDER BY created_at, id`,
			socioID,
		)
		if err != nil {
			return fmt.Errorf("select users: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return fmt.Errorf("scan user: %w", err)
			}
			res = append(res, *u)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	return res, err
}
