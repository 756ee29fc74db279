package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/model"
	"github.com/mmeshcher/invest-ledger/internal/repository"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestService(repo *memRepo, clock *fakeClock) *Service {
	return NewService(repo, repo, zap.NewNop(), WithClock(clock))
}

// memRepo хранит состояние в памяти и повторяет контракт PostgresRepository:
// CAS-переходы статусов, защищённые списания и уникальные ограничения.
type memRepo struct {
	mu sync.Mutex

	users       map[string]*model.User
	investments map[string]*model.Investment
	codes       map[string]*model.ReferralCode
	history     []model.ReferralHistory
	withdrawals map[string]*model.WithdrawalRequest
	deductions  []model.Deduction
	settings    *model.SystemSettings

	codeCollisions      int
	creditErr           error
	applyFailAt         int
	applyErr            error
	applyCalls          int
	earningsConflicts   map[string]bool
	updateEarningsCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:             make(map[string]*model.User),
		investments:       make(map[string]*model.Investment),
		codes:             make(map[string]*model.ReferralCode),
		withdrawals:       make(map[string]*model.WithdrawalRequest),
		earningsConflicts: make(map[string]bool),
		settings: &model.SystemSettings{
			WithdrawalFeePercent: dec("5"),
			ReferralPercent:      dec("10"),
			MinimumWithdrawal:    dec("10"),
		},
	}
}

func (m *memRepo) Close() error { return nil }

func (m *memRepo) Settings(ctx context.Context) (*model.SystemSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return nil, fmt.Errorf("%w: system settings are not configured", model.ErrReferralLookup)
	}
	s := *m.settings
	return &s, nil
}

func (m *memRepo) UpdateSettings(ctx context.Context, s *model.SystemSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings = &cp
	return nil
}

func (m *memRepo) CreateUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Login == u.Login {
			return fmt.Errorf("%w: %s", repository.ErrUserExists, u.Login)
		}
	}
	u.CreatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, login)
}

func (m *memRepo) GetUser(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) SetUserSocio(ctx context.Context, userID, socioID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", model.ErrNotFound, userID)
	}
	u.SocioID = socioID
	return nil
}

func (m *memRepo) GetUsersBySocio(ctx context.Context, socioID string) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.User
	for _, u := range m.users {
		if u.SocioID == socioID {
			res = append(res, *u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// socioOf возвращает партнёра пользователя; вызывается под m.mu.
func (m *memRepo) socioOf(userID string) string {
	if u, ok := m.users[userID]; ok {
		return u.SocioID
	}
	return ""
}

func (m *memRepo) addUser(id, login string, role model.Role, socioID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &model.User{ID: id, Login: login, Role: role, SocioID: socioID}
}

func (m *memRepo) CreateInvestment(ctx context.Context, inv *model.Investment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	cp := *inv
	m.investments[inv.ID] = &cp
	return nil
}

func (m *memRepo) putInvestment(inv model.Investment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.investments[inv.ID] = &inv
}

func (m *memRepo) investment(id string) model.Investment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.investments[id]
}

func (m *memRepo) GetInvestment(ctx context.Context, id string) (*model.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.investments[id]
	if !ok {
		return nil, fmt.Errorf("%w: investment %s", model.ErrNotFound, id)
	}
	cp := *inv
	return &cp, nil
}

func (m *memRepo) filterInvestments(keep func(*model.Investment) bool) []model.Investment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Investment
	for _, inv := range m.investments {
		if keep(inv) {
			res = append(res, *inv)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		ai, aj := res[i].ActivationDate, res[j].ActivationDate
		if ai != nil && aj != nil && !ai.Equal(*aj) {
			return ai.Before(*aj)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

func (m *memRepo) GetInvestmentsByUser(ctx context.Context, userID string) ([]model.Investment, error) {
	return m.filterInvestments(func(inv *model.Investment) bool { return inv.UserID == userID }), nil
}

func (m *memRepo) GetInvestmentsBySocio(ctx context.Context, socioID string) ([]model.Investment, error) {
	m.mu.Lock()
	owners := make(map[string]bool)
	for _, u := range m.users {
		if u.SocioID == socioID {
			owners[u.ID] = true
		}
	}
	m.mu.Unlock()
	return m.filterInvestments(func(inv *model.Investment) bool { return owners[inv.UserID] }), nil
}

func (m *memRepo) GetApprovedInvestments(ctx context.Context, userID string) ([]model.Investment, error) {
	return m.filterInvestments(func(inv *model.Investment) bool {
		return inv.UserID == userID && inv.Status == model.InvestmentStatusApproved
	}), nil
}

func (m *memRepo) GetInvestmentsForAccrual(ctx context.Context, now time.Time) ([]model.Investment, error) {
	return m.filterInvestments(func(inv *model.Investment) bool {
		return inv.Status == model.InvestmentStatusApproved && !inv.ExpirationDate.Before(now)
	}), nil
}

func (m *memRepo) GetInvestmentsPendingBonus(ctx context.Context) ([]model.Investment, error) {
	return m.filterInvestments(func(inv *model.Investment) bool {
		return inv.Status == model.InvestmentStatusApproved && !inv.BonusCredited
	}), nil
}

func (m *memRepo) ApproveInvestment(ctx context.Context, id string, activation, expiration time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.investments[id]
	if !ok || inv.Status != model.InvestmentStatusPending {
		return fmt.Errorf("%w: investment %s is not pending", model.ErrInvalidState, id)
	}
	inv.Status = model.InvestmentStatusApproved
	inv.ActivationDate = &activation
	inv.ExpirationDate = &expiration
	inv.Earnings = decimal.Zero
	inv.BonusCredited = false
	return nil
}

func (m *memRepo) RejectInvestment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.investments[id]
	if !ok || inv.Status != model.InvestmentStatusPending {
		return fmt.Errorf("%w: investment %s is not pending", model.ErrInvalidState, id)
	}
	inv.Status = model.InvestmentStatusRejected
	return nil
}

func (m *memRepo) UpdateInvestmentEarnings(ctx context.Context, id string, expected, earnings decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateEarningsCalls++
	inv, ok := m.investments[id]
	if !ok || m.earningsConflicts[id] || inv.Status != model.InvestmentStatusApproved || !inv.Earnings.Equal(expected) {
		return fmt.Errorf("%w: earnings of investment %s changed concurrently", model.ErrConcurrencyConflict, id)
	}
	inv.Earnings = earnings
	return nil
}

func (m *memRepo) findCode(match func(*model.ReferralCode) bool) (*model.ReferralCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rc := range m.codes {
		if match(rc) {
			cp := *rc
			cp.ReferredUsers = slices.Clone(rc.ReferredUsers)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: referral code", model.ErrNotFound)
}

func (m *memRepo) GetReferralCodeByUser(ctx context.Context, userID string) (*model.ReferralCode, error) {
	return m.findCode(func(rc *model.ReferralCode) bool { return rc.UserID == userID })
}

func (m *memRepo) GetReferralCodeByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	return m.findCode(func(rc *model.ReferralCode) bool { return rc.Code == code })
}

func (m *memRepo) GetReferralCodeByReferredUser(ctx context.Context, userID string) (*model.ReferralCode, error) {
	return m.findCode(func(rc *model.ReferralCode) bool { return slices.Contains(rc.ReferredUsers, userID) })
}

func (m *memRepo) CreateReferralCode(ctx context.Context, rc *model.ReferralCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codeCollisions > 0 {
		m.codeCollisions--
		return fmt.Errorf("%w: %s", repository.ErrReferralCodeTaken, rc.Code)
	}
	for _, existing := range m.codes {
		if existing.Code == rc.Code {
			return fmt.Errorf("%w: %s", repository.ErrReferralCodeTaken, rc.Code)
		}
		if existing.UserID == rc.UserID {
			return fmt.Errorf("%w: %s", repository.ErrReferralCodeExists, rc.UserID)
		}
	}
	cp := *rc
	cp.ReferredUsers = slices.Clone(rc.ReferredUsers)
	m.codes[rc.ID] = &cp
	return nil
}

func (m *memRepo) putCode(rc model.ReferralCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[rc.ID] = &rc
}

func (m *memRepo) code(id string) model.ReferralCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.codes[id]
}

func (m *memRepo) AddReferredUser(ctx context.Context, codeID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rc := range m.codes {
		if slices.Contains(rc.ReferredUsers, userID) {
			return false, nil
		}
	}
	rc, ok := m.codes[codeID]
	if !ok {
		return false, nil
	}
	rc.UsedCount++
	rc.ReferredUsers = append(rc.ReferredUsers, userID)
	return true, nil
}

func (m *memRepo) CreditReferralBonus(ctx context.Context, investmentID string, h *model.ReferralHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creditErr != nil {
		return m.creditErr
	}
	if h != nil {
		exists := slices.ContainsFunc(m.history, func(x model.ReferralHistory) bool {
			return x.InvestmentID == h.InvestmentID
		})
		if !exists {
			m.history = append(m.history, *h)
			rc := m.codes[h.ReferralCodeID]
			rc.Earnings = rc.Earnings.Add(h.Amount)
		}
	}
	if inv, ok := m.investments[investmentID]; ok {
		inv.BonusCredited = true
	}
	return nil
}

func (m *memRepo) GetReferralHistory(ctx context.Context, referrerID string) ([]model.ReferralHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.ReferralHistory
	for _, h := range m.history {
		if h.ReferrerID == referrerID {
			res = append(res, h)
		}
	}
	return res, nil
}

func (m *memRepo) CreateWithdrawal(ctx context.Context, w *model.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.withdrawals {
		if existing.UserID == w.UserID && existing.Status == model.WithdrawalStatusPending {
			return fmt.Errorf("%w: user %s", repository.ErrPendingWithdrawalExists, w.UserID)
		}
	}
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	cp := *w
	m.withdrawals[w.ID] = &cp
	return nil
}

func (m *memRepo) putWithdrawal(w model.WithdrawalRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals[w.ID] = &w
}

func (m *memRepo) GetWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("%w: withdrawal %s", model.ErrNotFound, id)
	}
	cp := *w
	return &cp, nil
}

func (m *memRepo) GetWithdrawalsByUser(ctx context.Context, userID string) ([]model.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.WithdrawalRequest
	for _, w := range m.withdrawals {
		if w.UserID == userID {
			res = append(res, *w)
		}
	}
	return res, nil
}

func (m *memRepo) GetWithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.WithdrawalRequest
	for _, w := range m.withdrawals {
		if w.Status == status {
			res = append(res, *w)
		}
	}
	return res, nil
}

func (m *memRepo) GetWithdrawalsBySocio(ctx context.Context, socioID string, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.WithdrawalRequest
	for _, w := range m.withdrawals {
		if m.socioOf(w.UserID) == socioID && (status == "" || w.Status == status) {
			res = append(res, *w)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *memRepo) GetDeductions(ctx context.Context, withdrawalID string) ([]model.Deduction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Deduction
	for _, d := range m.deductions {
		if d.WithdrawalID == withdrawalID {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *memRepo) ApplyDeduction(ctx context.Context, d *model.Deduction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applyCalls++
	if m.applyFailAt > 0 && m.applyCalls == m.applyFailAt {
		return m.applyErr
	}

	w, ok := m.withdrawals[d.WithdrawalID]
	if !ok {
		return fmt.Errorf("%w: withdrawal %s", model.ErrNotFound, d.WithdrawalID)
	}
	if w.Status != model.WithdrawalStatusPending {
		return fmt.Errorf("%w: withdrawal %s is %s", model.ErrInvalidState, w.ID, w.Status)
	}

	conflict := fmt.Errorf("%w: %s balance of %s changed concurrently", model.ErrConcurrencyConflict, d.Source, d.SourceID)

	switch d.Source {
	case model.DeductionSourceEarnings:
		inv, ok := m.investments[d.SourceID]
		if !ok || inv.Earnings.LessThan(d.Amount) {
			return conflict
		}
		inv.Earnings = inv.Earnings.Sub(d.Amount)
		inv.EarningsWithdrawn = inv.EarningsWithdrawn.Add(d.Amount)
	case model.DeductionSourcePrincipal:
		inv, ok := m.investments[d.SourceID]
		if !ok || inv.Investment.LessThan(d.Amount) {
			return conflict
		}
		inv.Investment = inv.Investment.Sub(d.Amount)
	case model.DeductionSourceReferral:
		rc, ok := m.codes[d.SourceID]
		if !ok || rc.Earnings.LessThan(d.Amount) {
			return conflict
		}
		rc.Earnings = rc.Earnings.Sub(d.Amount)
	default:
		return fmt.Errorf("%w: unknown deduction source %q", model.ErrValidation, d.Source)
	}

	d.CreatedAt = time.Now()
	m.deductions = append(m.deductions, *d)
	return nil
}

func (m *memRepo) CompleteWithdrawal(ctx context.Context, id string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok || w.Status != model.WithdrawalStatusPending {
		return fmt.Errorf("%w: withdrawal %s is not pending", model.ErrInvalidState, id)
	}
	w.Status = model.WithdrawalStatusCompleted
	w.BalanceInfo.IsCompleted = true
	w.CompletedAt = &completedAt
	return nil
}
