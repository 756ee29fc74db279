// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrReferralCodeTaken возвращается, если сгенерированный реферальный код уже занят.
	ErrReferralCodeTaken = errors.New("referral code already taken")
	// ErrReferralCodeExists возвращается, если у пользователя уже есть реферальный код.
	ErrReferralCodeExists = errors.New("user already owns a referral code")
	// ErrPendingWithdrawalExists возвращается, если у пользователя уже есть заявка в ожидании.
	ErrPendingWithdrawalExists = errors.New("pending withdrawal already exists")
)

const defaultStoreTimeout = 5 * time.Second

var retryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
// timeout ограничивает длительность каждого отдельного обращения к БД.
func NewPostgresRepository(dsn string, timeout time.Duration) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}

	r := &PostgresRepository{pool: pool, timeout: timeout}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry выполняет fn с таймаутом на каждую попытку и повторяет её при
// конфликтах сериализации, взаимоблокировках и обрывах соединения.
// Итоговая ошибка приводится к таксономии из пакета model.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		// Внешний контекст отменён, повторять нет смысла
		if ctx.Err() != nil {
			return err
		}

		if !isTransient(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return classify(err)
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func classify(err error) error {
	if isDomainError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
			return fmt.Errorf("%w: %v", model.ErrConcurrencyConflict, err)
		}
		// Идентификатор, который не разбирается как UUID, не может ссылаться на существующую запись.
		if pgErr.Code == pgerrcode.InvalidTextRepresentation {
			return fmt.Errorf("%w: %v", model.ErrNotFound, err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || isConnectionError(err) {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	return err
}

func isDomainError(err error) bool {
	for _, target := range []error{
		model.ErrValidation,
		model.ErrInvalidState,
		model.ErrReferralLookup,
		model.ErrStoreUnavailable,
		model.ErrConcurrencyConflict,
		model.ErrNotFound,
		ErrUserExists,
		ErrReferralCodeTaken,
		ErrReferralCodeExists,
		ErrPendingWithdrawalExists,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
