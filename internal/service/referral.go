package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/model"
	"github.com/mmeshcher/invest-ledger/internal/repository"
)

const (
	referralCodeAttempts = 5
	referralSuffixLength = 3
	referralOwnerChars   = 4
	base36Alphabet       = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// ReferralBonus считает бонус реферера: principal × percent / 100 с округлением до копеек.
func ReferralBonus(principal, percent decimal.Decimal) decimal.Decimal {
	return principal.Mul(percent).Div(hundred).Round(2)
}

// CreateReferralCode возвращает реферальный код пользователя, выпуская новый при его отсутствии.
func (s *Service) CreateReferralCode(ctx context.Context, userID string, role model.Role) (*model.ReferralCode, error) {
	existing, err := s.repo.GetReferralCodeByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := generateReferralCode(userID, role)
		if err != nil {
			return nil, err
		}

		rc := &model.ReferralCode{
			ID:            uuid.NewString(),
			UserID:        userID,
			Code:          code,
			Role:          role,
			Earnings:      decimal.Zero,
			ReferredUsers: []string{},
		}

		err = s.repo.CreateReferralCode(ctx, rc)
		switch {
		case err == nil:
			return rc, nil
		case errors.Is(err, repository.ErrReferralCodeTaken):
			s.logger.Debug("referral code collision", zap.String("code", code), zap.Int("attempt", attempt+1))
			continue
		case errors.Is(err, repository.ErrReferralCodeExists):
			return s.repo.GetReferralCodeByUser(ctx, userID)
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: no unique referral code for user %s after %d attempts",
		model.ErrConcurrencyConflict, userID, referralCodeAttempts)
}

func referralPrefix(role model.Role) string {
	if role == model.RoleSocio {
		return "SOC"
	}
	return "REF"
}

func generateReferralCode(userID string, role model.Role) (string, error) {
	owner := strings.ToUpper(strings.ReplaceAll(userID, "-", ""))
	if len(owner) > referralOwnerChars {
		owner = owner[:referralOwnerChars]
	}

	buf := make([]byte, referralSuffixLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}

	suffix := make([]byte, referralSuffixLength)
	for i, b := range buf {
		suffix[i] = base36Alphabet[int(b)%len(base36Alphabet)]
	}

	return referralPrefix(role) + owner + string(suffix), nil
}

// ProcessReferral привязывает нового пользователя к владельцу кода.
// Возвращает false без ошибки, если код не найден, принадлежит самому пользователю
// или пользователь уже был приглашён ранее.
func (s *Service) ProcessReferral(ctx context.Context, code, newUserID string) (bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false, nil
	}

	rc, err := s.repo.GetReferralCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if rc.UserID == newUserID {
		return false, nil
	}

	referrer, err := s.repo.GetUser(ctx, rc.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, fmt.Errorf("%w: owner of referral code %s", model.ErrReferralLookup, code)
		}
		return false, err
	}

	added, err := s.repo.AddReferredUser(ctx, rc.ID, newUserID)
	if err != nil {
		return false, err
	}
	if !added {
		return false, nil
	}

	if socioID := inheritedSocio(referrer, rc); socioID != "" && socioID != newUserID {
		if err := s.repo.SetUserSocio(ctx, newUserID, socioID); err != nil {
			return true, fmt.Errorf("assign socio: %w", err)
		}
	}

	s.logger.Info("referral processed",
		zap.String("code", code),
		zap.String("referrerID", rc.UserID),
		zap.String("userID", newUserID),
	)

	return true, nil
}

func inheritedSocio(referrer *model.User, rc *model.ReferralCode) string {
	if referrer.SocioID != "" {
		return referrer.SocioID
	}
	if rc.Role == model.RoleSocio {
		return rc.UserID
	}
	return ""
}

// creditReferralBonus начисляет бонус рефереру за одобренную инвестицию и помечает её
// как обработанную. Повторный вызов для той же инвестиции бонус не дублирует.
func (s *Service) creditReferralBonus(ctx context.Context, inv *model.Investment, settings *model.SystemSettings) error {
	rc, err := s.repo.GetReferralCodeByReferredUser(ctx, inv.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return s.repo.CreditReferralBonus(ctx, inv.ID, nil)
		}
		return err
	}

	h := &model.ReferralHistory{
		ID:             uuid.NewString(),
		ReferralCodeID: rc.ID,
		ReferrerID:     rc.UserID,
		ReferredUserID: inv.UserID,
		InvestmentID:   inv.ID,
		Amount:         ReferralBonus(inv.Investment, settings.ReferralPercent),
		Percentage:     settings.ReferralPercent,
	}

	if err := s.repo.CreditReferralBonus(ctx, inv.ID, h); err != nil {
		return err
	}

	s.logger.Info("referral bonus credited",
		zap.String("investmentID", inv.ID),
		zap.String("referrerID", rc.UserID),
		zap.String("amount", h.Amount.StringFixed(2)),
	)
	return nil
}

// ResumeReferralBonuses дозачисляет бонусы по одобренным инвестициям, для которых
// второй шаг одобрения не был завершён. Возвращает число обработанных инвестиций.
func (s *Service) ResumeReferralBonuses(ctx context.Context) (int, error) {
	pending, err := s.repo.GetInvestmentsPendingBonus(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return 0, err
	}

	credited := 0
	for i := range pending {
		if err := s.creditReferralBonus(ctx, &pending[i], settings); err != nil {
			if ctx.Err() != nil {
				return credited, ctx.Err()
			}
			s.logger.Warn("resume referral bonus failed",
				zap.String("investmentID", pending[i].ID),
				zap.Error(err),
			)
			continue
		}
		credited++
	}

	return credited, nil
}

// ReferralSummary возвращает реферальный код пользователя, его счётчики и историю начислений.
func (s *Service) ReferralSummary(ctx context.Context, userID string) (*model.ReferralSummary, error) {
	rc, err := s.repo.GetReferralCodeByUser(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		rc, err = s.issueMissingCode(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	history, err := s.repo.GetReferralHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.ReferralSummary{
		Code:          rc.Code,
		Role:          rc.Role,
		UsedCount:     rc.UsedCount,
		Earnings:      rc.Earnings,
		ReferredUsers: len(rc.ReferredUsers),
		History:       history,
	}, nil
}

// issueMissingCode выпускает код пользователю, у которого его нет, например
// если выпуск при регистрации завершился ошибкой.
func (s *Service) issueMissingCode(ctx context.Context, userID string) (*model.ReferralCode, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("issuing missing referral code", zap.String("userID", userID))
	return s.CreateReferralCode(ctx, u.ID, u.Role)
}
