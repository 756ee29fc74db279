// Package model содержит доменные сущности сервиса инвестиционного учёта.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя платформы.
type Role string

const (
	RoleUser  Role = "user"
	RoleSocio Role = "socio"
	RoleAdmin Role = "admin"
)

// Valid сообщает, является ли роль известной.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSocio, RoleAdmin:
		return true
	}
	return false
}

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           string
	Login        string
	PasswordHash []byte
	Role         Role
	SocioID      string
	CreatedAt    time.Time
}

// InvestmentStatus описывает статус инвестиции.
type InvestmentStatus string

const (
	InvestmentStatusPending  InvestmentStatus = "pending"
	InvestmentStatusApproved InvestmentStatus = "approved"
	InvestmentStatusRejected InvestmentStatus = "rejected"
)

// CanTransitionTo проверяет допустимость перехода между статусами инвестиции.
func (s InvestmentStatus) CanTransitionTo(next InvestmentStatus) bool {
	return s == InvestmentStatusPending &&
		(next == InvestmentStatusApproved || next == InvestmentStatusRejected)
}

// Investment описывает вложение пользователя в тарифный план.
type Investment struct {
	ID                   string
	UserID               string
	PlanName             string
	Investment           decimal.Decimal
	InterestRate         decimal.Decimal
	Duration             int
	MinWithdrawalPercent decimal.Decimal
	Status               InvestmentStatus
	Earnings             decimal.Decimal
	EarningsWithdrawn    decimal.Decimal
	ActivationDate       *time.Time
	ExpirationDate       *time.Time
	BonusCredited        bool
	VoucherURL           string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Expired сообщает, истёк ли срок инвестиции к моменту now.
func (i *Investment) Expired(now time.Time) bool {
	return i.ExpirationDate != nil && !i.ExpirationDate.After(now)
}

// ReferralCode описывает реферальный код пользователя.
type ReferralCode struct {
	ID            string
	UserID        string
	Code          string
	Role          Role
	UsedCount     int64
	Earnings      decimal.Decimal
	ReferredUsers []string
	CreatedAt     time.Time
}

// ReferralHistory фиксирует начисление реферального бонуса за одобренную инвестицию.
type ReferralHistory struct {
	ID             string
	ReferralCodeID string
	ReferrerID     string
	ReferredUserID string
	InvestmentID   string
	Amount         decimal.Decimal
	Percentage     decimal.Decimal
	CreatedAt      time.Time
}

// ReferralSummary содержит сводку по реферальной программе пользователя.
type ReferralSummary struct {
	Code          string
	Role          Role
	UsedCount     int64
	Earnings      decimal.Decimal
	ReferredUsers int
	History       []ReferralHistory
}

// WithdrawalStatus описывает статус заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
)

// BalanceInfo содержит снимок балансов пользователя на момент создания заявки.
type BalanceInfo struct {
	Investment    decimal.Decimal `json:"investment"`
	Earnings      decimal.Decimal `json:"earnings"`
	ReferralBonus decimal.Decimal `json:"referralBonus"`
	IsCompleted   bool            `json:"isCompleted"`
}

// WithdrawalRequest описывает заявку пользователя на вывод средств.
type WithdrawalRequest struct {
	ID            string
	UserID        string
	Amount        decimal.Decimal
	WithdrawalFee decimal.Decimal
	NetAmount     decimal.Decimal
	Status        WithdrawalStatus
	BalanceInfo   BalanceInfo
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// DeductionSource определяет источник, с которого списывается сумма вывода.
type DeductionSource string

const (
	DeductionSourceEarnings  DeductionSource = "earnings"
	DeductionSourcePrincipal DeductionSource = "principal"
	DeductionSourceReferral  DeductionSource = "referral"
)

// Deduction фиксирует одно списание с источника баланса в рамках заявки на вывод.
type Deduction struct {
	ID           string
	WithdrawalID string
	Source       DeductionSource
	SourceID     string
	Amount       decimal.Decimal
	CreatedAt    time.Time
}

// SystemSettings содержит глобальные параметры комиссий и бонусов.
type SystemSettings struct {
	WithdrawalFeePercent decimal.Decimal `json:"withdrawalFeePercent"`
	ReferralPercent      decimal.Decimal `json:"referralPercent"`
	MinimumWithdrawal    decimal.Decimal `json:"minimumWithdrawal"`
}

// AvailableBalance содержит сводный баланс пользователя, доступный к выводу.
type AvailableBalance struct {
	HasPlan                 bool            `json:"hasPlan"`
	Investment              decimal.Decimal `json:"investment"`
	Earnings                decimal.Decimal `json:"earnings"`
	ReferralBonus           decimal.Decimal `json:"referralBonus"`
	IsCompleted             bool            `json:"isCompleted"`
	CanWithdrawEarnings     bool            `json:"canWithdrawEarnings"`
	DaysForWithdrawal       int             `json:"daysForWithdrawal"`
	Total                   decimal.Decimal `json:"total"`
	HasPendingWithdrawal    bool            `json:"hasPendingWithdrawal"`
	TotalPendingWithdrawals decimal.Decimal `json:"totalPendingWithdrawals"`
}
