package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/invest-ledger/internal/model"
)

func TestReferralBonus(t *testing.T) {
	tests := []struct {
		principal string
		percent   string
		want      string
	}{
		{"1000", "10", "100"},
		{"333.33", "7.5", "25"},
		{"100", "0", "0"},
		{"0.99", "33.3333", "0.33"},
	}

	for _, tt := range tests {
		t.Run(tt.principal+"@"+tt.percent, func(t *testing.T) {
			got := ReferralBonus(dec(tt.principal), dec(tt.percent))
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestCreateReferralCode(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		role    model.Role
		pattern string
	}{
		{"user", "abcd1234-0000-0000-0000-000000000000", model.RoleUser, `^REFABCD[0-9A-Z]{3}$`},
		{"socio", "9f8e7d6c-0000-0000-0000-000000000000", model.RoleSocio, `^SOC9F8E[0-9A-Z]{3}$`},
		{"short id", "ab", model.RoleUser, `^REFAB[0-9A-Z]{3}$`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			svc := newTestService(repo, &fakeClock{t: monday})

			rc, err := svc.CreateReferralCode(context.Background(), tt.userID, tt.role)
			require.NoError(t, err)
			assert.Regexp(t, regexp.MustCompile(tt.pattern), rc.Code)
			assert.Equal(t, tt.role, rc.Role)
			assert.Zero(t, rc.UsedCount)
			assert.True(t, rc.Earnings.IsZero())
			assert.Empty(t, rc.ReferredUsers)

			again, err := svc.CreateReferralCode(context.Background(), tt.userID, tt.role)
			require.NoError(t, err)
			assert.Equal(t, rc.Code, again.Code)
			assert.Len(t, repo.codes, 1)
		})
	}
}

func TestCreateReferralCode_RetriesOnCollision(t *testing.T) {
	repo := newMemRepo()
	repo.codeCollisions = referralCodeAttempts - 1
	svc := newTestService(repo, &fakeClock{t: monday})

	rc, err := svc.CreateReferralCode(context.Background(), "u1", model.RoleUser)
	require.NoError(t, err)
	assert.NotEmpty(t, rc.Code)
}

func TestCreateReferralCode_GivesUpAfterAttempts(t *testing.T) {
	repo := newMemRepo()
	repo.codeCollisions = referralCodeAttempts
	svc := newTestService(repo, &fakeClock{t: monday})

	_, err := svc.CreateReferralCode(context.Background(), "u1", model.RoleUser)
	require.ErrorIs(t, err, model.ErrConcurrencyConflict)
	assert.Empty(t, repo.codes)
}

func TestProcessReferral(t *testing.T) {
	setup := func() *memRepo {
		repo := newMemRepo()
		repo.addUser("owner", "owner", model.RoleUser, "")
		repo.addUser("affiliated", "affiliated", model.RoleUser, "socio1")
		repo.addUser("socio1", "socio1", model.RoleSocio, "")
		repo.addUser("new", "new", model.RoleUser, "")
		repo.putCode(model.ReferralCode{ID: "c-owner", UserID: "owner", Code: "REFOWNE123", Role: model.RoleUser, Earnings: decimal.Zero})
		repo.putCode(model.ReferralCode{ID: "c-aff", UserID: "affiliated", Code: "REFAFFI123", Role: model.RoleUser, Earnings: decimal.Zero})
		repo.putCode(model.ReferralCode{ID: "c-socio", UserID: "socio1", Code: "SOCSOCI123", Role: model.RoleSocio, Earnings: decimal.Zero})
		return repo
	}

	tests := []struct {
		name      string
		code      string
		userID    string
		want      bool
		wantCode  string
		wantSocio string
	}{
		{name: "unknown code", code: "NOPE", userID: "new", want: false},
		{name: "empty code", code: "  ", userID: "new", want: false},
		{name: "self referral", code: "REFOWNE123", userID: "owner", want: false},
		{name: "plain referral", code: "REFOWNE123", userID: "new", want: true, wantCode: "c-owner"},
		{name: "lower case code", code: " refowne123 ", userID: "new", want: true, wantCode: "c-owner"},
		{name: "inherits referrer socio", code: "REFAFFI123", userID: "new", want: true, wantCode: "c-aff", wantSocio: "socio1"},
		{name: "socio code assigns socio", code: "SOCSOCI123", userID: "new", want: true, wantCode: "c-socio", wantSocio: "socio1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := setup()
			svc := newTestService(repo, &fakeClock{t: monday})

			ok, err := svc.ProcessReferral(context.Background(), tt.code, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)

			if tt.wantCode != "" {
				rc := repo.code(tt.wantCode)
				assert.EqualValues(t, 1, rc.UsedCount)
				assert.Equal(t, []string{tt.userID}, rc.ReferredUsers)
			}

			u, err := repo.GetUser(context.Background(), tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSocio, u.SocioID)
		})
	}
}

func TestProcessReferral_AlreadyReferred(t *testing.T) {
	repo := newMemRepo()
	repo.addUser("a", "a", model.RoleUser, "")
	repo.addUser("b", "b", model.RoleUser, "")
	repo.addUser("new", "new", model.RoleUser, "")
	repo.putCode(model.ReferralCode{ID: "ca", UserID: "a", Code: "REFA000001", Role: model.RoleUser, Earnings: decimal.Zero})
	repo.putCode(model.ReferralCode{ID: "cb", UserID: "b", Code: "REFB000001", Role: model.RoleUser, Earnings: decimal.Zero})
	svc := newTestService(repo, &fakeClock{t: monday})

	ok, err := svc.ProcessReferral(context.Background(), "REFA000001", "new")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.ProcessReferral(context.Background(), "REFA000001", "new")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.ProcessReferral(context.Background(), "REFB000001", "new")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.EqualValues(t, 1, repo.code("ca").UsedCount)
	assert.EqualValues(t, 0, repo.code("cb").UsedCount)
}

func TestProcessReferral_OwnerMissing(t *testing.T) {
	repo := newMemRepo()
	repo.putCode(model.ReferralCode{ID: "c1", UserID: "ghost", Code: "REFGHOS123", Role: model.RoleUser, Earnings: decimal.Zero})
	svc := newTestService(repo, &fakeClock{t: monday})

	ok, err := svc.ProcessReferral(context.Background(), "REFGHOS123", "new")
	require.ErrorIs(t, err, model.ErrReferralLookup)
	assert.False(t, ok)
}

func referredSetup(t *testing.T) (*memRepo, *Service) {
	t.Helper()

	repo := newMemRepo()
	repo.addUser("referrer", "referrer", model.RoleUser, "")
	repo.addUser("investor", "investor", model.RoleUser, "")
	repo.putCode(model.ReferralCode{
		ID:            "c1",
		UserID:        "referrer",
		Code:          "REFREFE123",
		Role:          model.RoleUser,
		UsedCount:     1,
		Earnings:      decimal.Zero,
		ReferredUsers: []string{"investor"},
	})
	repo.putInvestment(pendingInvestment("inv1", "investor", "1000", 3))

	return repo, newTestService(repo, &fakeClock{t: monday})
}

func TestApprove_CreditsReferralBonus(t *testing.T) {
	repo, svc := referredSetup(t)

	inv, err := svc.Approve(context.Background(), "inv1")
	require.NoError(t, err)
	assert.True(t, inv.BonusCredited)

	assert.True(t, dec("100").Equal(repo.code("c1").Earnings))
	require.Len(t, repo.history, 1)

	h := repo.history[0]
	assert.Equal(t, "c1", h.ReferralCodeID)
	assert.Equal(t, "referrer", h.ReferrerID)
	assert.Equal(t, "investor", h.ReferredUserID)
	assert.Equal(t, "inv1", h.InvestmentID)
	assert.True(t, dec("100").Equal(h.Amount))
	assert.True(t, dec("10").Equal(h.Percentage))

	credited, err := svc.ResumeReferralBonuses(context.Background())
	require.NoError(t, err)
	assert.Zero(t, credited)
	assert.Len(t, repo.history, 1)
}

func TestCreditReferralBonus_Idempotent(t *testing.T) {
	repo, svc := referredSetup(t)

	_, err := svc.Approve(context.Background(), "inv1")
	require.NoError(t, err)

	inv := repo.investment("inv1")
	settings, err := repo.Settings(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.creditReferralBonus(context.Background(), &inv, settings))
	assert.True(t, dec("100").Equal(repo.code("c1").Earnings))
	assert.Len(t, repo.history, 1)
}

func TestApprove_BonusFailureIsResumable(t *testing.T) {
	repo, svc := referredSetup(t)
	repo.creditErr = fmt.Errorf("%w: connection refused", model.ErrStoreUnavailable)

	inv, err := svc.Approve(context.Background(), "inv1")
	require.ErrorIs(t, err, model.ErrStoreUnavailable)
	require.NotNil(t, inv)
	assert.Equal(t, model.InvestmentStatusApproved, inv.Status)
	assert.False(t, inv.BonusCredited)

	stored := repo.investment("inv1")
	assert.Equal(t, model.InvestmentStatusApproved, stored.Status)
	assert.False(t, stored.BonusCredited)
	assert.Empty(t, repo.history)

	repo.creditErr = nil

	credited, err := svc.ResumeReferralBonuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, credited)
	assert.True(t, repo.investment("inv1").BonusCredited)
	assert.True(t, dec("100").Equal(repo.code("c1").Earnings))
	assert.Len(t, repo.history, 1)
}

func TestApprove_ConcurrentBonusesToSameCode(t *testing.T) {
	repo, svc := referredSetup(t)
	repo.putInvestment(pendingInvestment("inv2", "investor", "500", 3))

	errs := make(chan error, 2)
	for _, id := range []string{"inv1", "inv2"} {
		go func() {
			_, err := svc.Approve(context.Background(), id)
			errs <- err
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.True(t, dec("150").Equal(repo.code("c1").Earnings))
	assert.Len(t, repo.history, 2)
}

func TestReferralSummary(t *testing.T) {
	_, svc := referredSetup(t)

	_, err := svc.Approve(context.Background(), "inv1")
	require.NoError(t, err)

	summary, err := svc.ReferralSummary(context.Background(), "referrer")
	require.NoError(t, err)
	assert.Equal(t, "REFREFE123", summary.Code)
	assert.EqualValues(t, 1, summary.UsedCount)
	assert.Equal(t, 1, summary.ReferredUsers)
	assert.True(t, dec("100").Equal(summary.Earnings))
	assert.Len(t, summary.History, 1)

	_, err = svc.ReferralSummary(context.Background(), "nobody")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestReferralSummary_IssuesMissingCode(t *testing.T) {
	repo, svc := referredSetup(t)

	summary, err := svc.ReferralSummary(context.Background(), "investor")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary.Code, "REF"))
	assert.Zero(t, summary.UsedCount)

	rc, err := repo.GetReferralCodeByUser(context.Background(), "investor")
	require.NoError(t, err)
	assert.Equal(t, summary.Code, rc.Code)
}
