package store

import (
	"context"
	"errors"
	"time"

	"clinipay/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrDuplicateFeeRule = errors.New("duplicate active fee rule")
)

type Repository interface {
	CreateFeeRule(ctx context.Context, rule domain.FeeRule) (*domain.FeeRule, error)
	ListFeeRules(ctx context.Context, activeOnly bool) ([]domain.FeeRule, error)
	SetFeeRuleActive(ctx context.Context, ruleID string, active bool) (*domain.FeeRule, error)
	CreateCostRule(ctx context.Context, rule domain.VariableCostRule) (*domain.VariableCostRule, error)
	ListCostRules(ctx context.Context, activeOnly bool) ([]domain.VariableCostRule, error)
	SetCostRuleActive(ctx context.Context, ruleID string, active bool) (*domain.VariableCostRule, error)
	CreateSale(ctx context.Context, sale domain.Sale, installments []domain.Installment) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, clinicID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	ListInstallmentsBySale(ctx context.Context, saleID string) ([]domain.Installment, error)
	ListInstallmentsByDueRange(ctx context.Context, clinicID string, from time.Time, to time.Time, status string) ([]domain.Installment, error)
	UpdateInstallmentStatus(ctx context.Context, installmentID string, status string, at time.Time) (*domain.Installment, error)
	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpensesByDueRange(ctx context.Context, clinicID string, from time.Time, to time.Time) ([]domain.Expense, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, clinicID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
