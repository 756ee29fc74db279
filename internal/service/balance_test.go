package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

func TestAvailableBalance_NoPlan(t *testing.T) {
	tests := []struct {
		name         string
		bonus        string
		pending      string
		wantCanDraw  bool
		wantTotal    string
		wantHasDraft bool
	}{
		{name: "no referral bonus", bonus: "0", wantTotal: "0"},
		{name: "referral bonus only", bonus: "50", wantCanDraw: true, wantTotal: "50"},
		{name: "pending withdrawal subtracted", bonus: "50", pending: "20", wantCanDraw: true, wantTotal: "30", wantHasDraft: true},
		{name: "negative total clamped", bonus: "50", pending: "70", wantCanDraw: true, wantTotal: "0", wantHasDraft: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, svc := referralOnlySetup(tt.bonus)
			if tt.pending != "" {
				repo.putWithdrawal(model.WithdrawalRequest{ID: "w1", UserID: "u1", Amount: dec(tt.pending), Status: model.WithdrawalStatusPending})
			}

			b, err := svc.AvailableBalance(context.Background(), "u1")
			require.NoError(t, err)

			assert.False(t, b.HasPlan)
			assert.Equal(t, tt.wantCanDraw, b.CanWithdrawEarnings)
			assert.Equal(t, tt.wantHasDraft, b.HasPendingWithdrawal)
			assert.True(t, dec(tt.wantTotal).Equal(b.Total), "total %s, want %s", b.Total, tt.wantTotal)
		})
	}
}

func TestAvailableBalance_WithoutReferralCode(t *testing.T) {
	svc := newTestService(newMemRepo(), &fakeClock{t: monday})

	b, err := svc.AvailableBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, b.HasPlan)
	assert.True(t, b.Total.IsZero())
	assert.True(t, b.ReferralBonus.IsZero())
}

func TestAvailableBalance_WithdrawalGate(t *testing.T) {
	now := monday

	tests := []struct {
		name        string
		activation  time.Time
		months      int
		minPercent  string
		earnings    string
		bonus       string
		wantCanDraw bool
		wantDays    int
		wantTotal   string
	}{
		{
			// minDays = ceil(50% × 90) = 45, отсчёт начнётся только через сутки.
			name:       "gate closed",
			activation: now.AddDate(0, 0, -1),
			months:     3,
			minPercent: "50",
			earnings:   "0",
			bonus:      "0",
			wantDays:   46,
			wantTotal:  "0",
		},
		{
			name:        "gate closed with referral bonus",
			activation:  now.AddDate(0, 0, -1),
			months:      3,
			minPercent:  "50",
			earnings:    "5",
			bonus:       "12.5",
			wantCanDraw: true,
			wantDays:    46,
			wantTotal:   "12.5",
		},
		{
			name:        "gate open",
			activation:  now.AddDate(0, 0, -60),
			months:      3,
			minPercent:  "50",
			earnings:    "300",
			bonus:       "20",
			wantCanDraw: true,
			wantDays:    0,
			wantTotal:   "320",
		},
		{
			// Даже при нулевом проценте отсчёт начинается через двое суток после активации.
			name:       "zero percent waits for gate start",
			activation: now,
			months:     1,
			minPercent: "0",
			earnings:   "0",
			bonus:      "0",
			wantDays:   2,
			wantTotal:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _ := referralOnlySetup(tt.bonus)
			inv := approvedInvestment("inv1", "u1", "1000", "1", tt.activation, tt.months)
			inv.MinWithdrawalPercent = dec(tt.minPercent)
			inv.Earnings = dec(tt.earnings)
			repo.putInvestment(inv)
			svc := newTestService(repo, &fakeClock{t: now})

			b, err := svc.AvailableBalance(context.Background(), "u1")
			require.NoError(t, err)

			assert.True(t, b.HasPlan)
			assert.False(t, b.IsCompleted)
			assert.Equal(t, tt.wantCanDraw, b.CanWithdrawEarnings)
			assert.Equal(t, tt.wantDays, b.DaysForWithdrawal)
			assert.True(t, dec("1000").Equal(b.Investment))
			assert.True(t, dec(tt.wantTotal).Equal(b.Total), "total %s, want %s", b.Total, tt.wantTotal)
		})
	}
}

func TestAvailableBalance_DaysForWithdrawalIsMinimum(t *testing.T) {
	repo, _ := referralOnlySetup("0")

	first := approvedInvestment("inv1", "u1", "1000", "1", monday.AddDate(0, 0, -1), 3)
	first.MinWithdrawalPercent = dec("50")
	second := approvedInvestment("inv2", "u1", "500", "1", monday.AddDate(0, 0, -10), 3)
	second.MinWithdrawalPercent = dec("20")
	repo.putInvestment(first)
	repo.putInvestment(second)

	svc := newTestService(repo, &fakeClock{t: monday})

	b, err := svc.AvailableBalance(context.Background(), "u1")
	require.NoError(t, err)

	// second: minDays = 18, прошло 8 дней с начала отсчёта.
	assert.Equal(t, 10, b.DaysForWithdrawal)
	assert.False(t, b.CanWithdrawEarnings)
	assert.True(t, dec("1500").Equal(b.Investment))
}

func TestAvailableBalance_AllCompleted(t *testing.T) {
	repo, _ := referralOnlySetup("25")

	a := approvedInvestment("A", "u1", "500", "1", monday.AddDate(0, -4, 0), 1)
	a.Earnings = dec("100.105")
	b := approvedInvestment("B", "u1", "200", "1", monday.AddDate(0, -3, 0), 2)
	b.Earnings = dec("40")
	repo.putInvestment(a)
	repo.putInvestment(b)
	repo.putWithdrawal(model.WithdrawalRequest{ID: "done", UserID: "u1", Amount: dec("999"), Status: model.WithdrawalStatusCompleted})
	repo.putWithdrawal(model.WithdrawalRequest{ID: "w1", UserID: "u1", Amount: dec("65"), Status: model.WithdrawalStatusPending})

	svc := newTestService(repo, &fakeClock{t: monday})

	bal, err := svc.AvailableBalance(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, bal.IsCompleted)
	assert.True(t, bal.HasPendingWithdrawal)
	assert.True(t, dec("65").Equal(bal.TotalPendingWithdrawals))
	assert.True(t, dec("700").Equal(bal.Investment))
	assert.True(t, dec("140.11").Equal(bal.Earnings), "earnings %s", bal.Earnings)
	// 700 + 140.11 + 25 - 65
	assert.True(t, dec("800.11").Equal(bal.Total), "total %s", bal.Total)
}

func TestAvailableBalance_OneActivePlanBlocksPrincipal(t *testing.T) {
	repo, _ := referralOnlySetup("0")

	expired := approvedInvestment("A", "u1", "500", "1", monday.AddDate(0, -4, 0), 1)
	expired.Earnings = dec("10")
	active := approvedInvestment("B", "u1", "200", "1", monday.AddDate(0, 0, -40), 3)
	active.Earnings = dec("20")
	active.MinWithdrawalPercent = dec("10")
	repo.putInvestment(expired)
	repo.putInvestment(active)

	svc := newTestService(repo, &fakeClock{t: monday})

	b, err := svc.AvailableBalance(context.Background(), "u1")
	require.NoError(t, err)

	assert.False(t, b.IsCompleted)
	assert.True(t, b.CanWithdrawEarnings)
	assert.True(t, dec("30").Equal(b.Total), "total %s", b.Total)
}
