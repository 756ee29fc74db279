package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

// requireSocio проверяет, что socioID принадлежит партнёру.
func (s *Service) requireSocio(ctx context.Context, socioID string) error {
	u, err := s.repo.GetUser(ctx, socioID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%w: socio %s", model.ErrNotFound, socioID)
		}
		return err
	}
	if u.Role != model.RoleSocio {
		return fmt.Errorf("%w: user %s is not a socio", model.ErrNotFound, socioID)
	}
	return nil
}

// SocioUsers возвращает пользователей, закреплённых за партнёром напрямую
// или через цепочку приглашений.
func (s *Service) SocioUsers(ctx context.Context, socioID string) ([]model.User, error) {
	if err := s.requireSocio(ctx, socioID); err != nil {
		return nil, err
	}
	return s.repo.GetUsersBySocio(ctx, socioID)
}

// SocioInvestments возвращает инвестиции пользователей партнёра.
func (s *Service) SocioInvestments(ctx context.Context, socioID string) ([]model.Investment, error) {
	if err := s.requireSocio(ctx, socioID); err != nil {
		return nil, err
	}
	return s.repo.GetInvestmentsBySocio(ctx, socioID)
}

// SocioWithdrawals возвращает заявки на вывод пользователей партнёра.
// Пустой статус отключает фильтр по статусу.
func (s *Service) SocioWithdrawals(ctx context.Context, socioID string, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	switch status {
	case "", model.WithdrawalStatusPending, model.WithdrawalStatusCompleted:
	default:
		return nil, fmt.Errorf("%w: unknown withdrawal status %q", model.ErrValidation, status)
	}
	if err := s.requireSocio(ctx, socioID); err != nil {
		return nil, err
	}
	return s.repo.GetWithdrawalsBySocio(ctx, socioID, status)
}
