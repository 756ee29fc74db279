package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/invest-ledger/internal/model"
	"github.com/mmeshcher/invest-ledger/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// RegisterUser регистрирует нового пользователя, выпускает ему реферальный код и,
// если передан код пригласившего, привязывает пользователя к рефереру.
// После сохранения пользователя регистрация считается состоявшейся: сбои выпуска
// кода и привязки к рефереру только логируются. Код будет выпущен при первом
// запросе реферальной сводки.
func (s *Service) RegisterUser(ctx context.Context, login, password, referralCode string) (*model.User, error) {
	u, err := s.createUser(ctx, login, password, model.RoleUser)
	if err != nil {
		return nil, err
	}

	if _, err := s.CreateReferralCode(ctx, u.ID, u.Role); err != nil {
		s.logger.Warn("failed to issue referral code on registration", zap.String("userID", u.ID), zap.Error(err))
	}

	referralCode = strings.TrimSpace(referralCode)
	if referralCode == "" {
		return u, nil
	}

	ok, err := s.ProcessReferral(ctx, referralCode, u.ID)
	switch {
	case err != nil:
		s.logger.Warn("failed to process referral code",
			zap.String("userID", u.ID), zap.String("code", referralCode), zap.Error(err))
	case !ok:
		s.logger.Info("referral code not applied", zap.String("userID", u.ID), zap.String("code", referralCode))
	}

	return u, nil
}

// CreateSocio регистрирует партнёра с собственным партнёрским реферальным кодом.
func (s *Service) CreateSocio(ctx context.Context, login, password string) (*model.User, *model.ReferralCode, error) {
	u, err := s.createUser(ctx, login, password, model.RoleSocio)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.CreateReferralCode(ctx, u.ID, u.Role)
	if err != nil {
		return nil, nil, fmt.Errorf("create referral code: %w", err)
	}

	return u, rc, nil
}

// EnsureAdmin создаёт администратора, если пользователя с таким логином ещё нет.
func (s *Service) EnsureAdmin(ctx context.Context, login, password string) error {
	_, err := s.createUser(ctx, login, password, model.RoleAdmin)
	if errors.Is(err, repository.ErrUserExists) {
		return nil
	}
	return err
}

func (s *Service) createUser(ctx context.Context, login, password string, role model.Role) (*model.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, fmt.Errorf("%w: login and password are required", model.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Login:        login,
		PasswordHash: hash,
		Role:         role,
	}

	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}
