package domain

import "time"

const (
	MethodCashPix    = "cash_pix"
	MethodCreditCard = "credit_card"
	MethodDebitCard  = "debit_card"
	MethodBankSlip   = "bank_slip"
)

const (
	CardTypeCredit = "credit"
	CardTypeDebit  = "debit"
)

const (
	InstallmentPending = "pending"
	InstallmentPaid    = "paid"
	InstallmentOverdue = "overdue"
)

const (
	CostCategoryTax        = "tax"
	CostCategoryCommission = "commission"
)

const (
	HealthHealthy   = "healthy"
	HealthAttention = "attention"
	HealthCritical  = "critical"
)

// FeeRule is one row of the card-fee table configured per clinic: the fee
// percentage and settlement float an operator charges for a card type at an
// exact installment count. At most one active rule exists per
// (operator, card type, installment count) key.
type FeeRule struct {
	ID               string    `json:"id"`
	Operator         string    `json:"operator"`
	CardType         string    `json:"card_type"`
	InstallmentCount int       `json:"installment_count"`
	FeePercent       float64   `json:"fee_percent"`
	ReceivingDays    int       `json:"receiving_days"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

type FeeRuleCreateRequest struct {
	Operator         string  `json:"operator"`
	CardType         string  `json:"card_type"`
	InstallmentCount int     `json:"installment_count"`
	FeePercent       float64 `json:"fee_percent"`
	ReceivingDays    int     `json:"receiving_days"`
}

type FeeRuleToggleRequest struct {
	Active bool `json:"active"`
}

// PaymentSplit is one payment instrument applied to a sale. A sale may carry
// several splits; their amounts must sum to the sale total.
type PaymentSplit struct {
	Method           string `json:"method"`
	AmountCents      int64  `json:"amount_cents"`
	InstallmentCount int    `json:"installment_count"`
	CardOperator     string `json:"card_operator,omitempty"`
	CardType         string `json:"card_type,omitempty"`
}

type Sale struct {
	ID              string         `json:"id"`
	ClinicID        string         `json:"clinic_id"`
	PatientName     string         `json:"patient_name"`
	Procedure       string         `json:"procedure"`
	TotalCents      int64          `json:"total_cents"`
	DirectCostCents int64          `json:"direct_cost_cents"`
	SaleDate        time.Time      `json:"sale_date"`
	Splits          []PaymentSplit `json:"splits"`
	CreatedAt       time.Time      `json:"created_at"`
}

type SaleCreateRequest struct {
	ClinicID        string         `json:"clinic_id"`
	PatientName     string         `json:"patient_name"`
	Procedure       string         `json:"procedure"`
	TotalCents      int64          `json:"total_cents"`
	DirectCostCents int64          `json:"direct_cost_cents"`
	SaleDate        string         `json:"sale_date,omitempty"`
	Splits          []PaymentSplit `json:"splits"`
}

type SaleResponse struct {
	Sale         Sale            `json:"sale"`
	Settlements  []NetSettlement `json:"settlements"`
	Installments []Installment   `json:"installments"`
}

// Installment is one dated portion of a split's settlement. Amount and due
// date are fixed when the schedule is generated; only status changes later.
type Installment struct {
	ID          string     `json:"id"`
	SaleID      string     `json:"sale_id"`
	ClinicID    string     `json:"clinic_id"`
	Method      string     `json:"method"`
	Sequence    int        `json:"sequence"`
	AmountCents int64      `json:"amount_cents"`
	DueDate     time.Time  `json:"due_date"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type InstallmentListResponse struct {
	Installments []Installment `json:"installments"`
}

type InstallmentStatusRequest struct {
	Status     string `json:"status"`
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

// NetSettlement is the outcome of applying a fee rule to a gross amount.
// RuleResolved is false when a card payment had no matching active rule and
// the engine degraded to a zero fee instead of rejecting.
type NetSettlement struct {
	GrossCents    int64   `json:"gross_cents"`
	FeePercent    float64 `json:"fee_percent"`
	FeeCents      int64   `json:"fee_cents"`
	NetCents      int64   `json:"net_cents"`
	ReceivingDays int     `json:"receiving_days"`
	RuleResolved  bool    `json:"rule_resolved"`
}

type SettlementQuoteRequest struct {
	AmountCents      int64  `json:"amount_cents"`
	Method           string `json:"method"`
	InstallmentCount int    `json:"installment_count"`
	CardOperator     string `json:"card_operator,omitempty"`
	CardType         string `json:"card_type,omitempty"`
}

// VariableCostRule is a percentage deduction applied to every sale price
// regardless of payment method (card fees are handled by FeeRule).
type VariableCostRule struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Name      string    `json:"name"`
	Percent   float64   `json:"percent"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CostRuleCreateRequest struct {
	Category string  `json:"category"`
	Name     string  `json:"name"`
	Percent  float64 `json:"percent"`
}

type ProfitabilityRequest struct {
	PriceCents       int64  `json:"price_cents"`
	Method           string `json:"method"`
	InstallmentCount int    `json:"installment_count"`
	CardOperator     string `json:"card_operator,omitempty"`
	CardType         string `json:"card_type,omitempty"`
	DirectCostCents  int64  `json:"direct_cost_cents"`
}

type ProfitabilityResult struct {
	GrossCents      int64   `json:"gross_cents"`
	TaxCents        int64   `json:"tax_cents"`
	FeeCents        int64   `json:"fee_cents"`
	CommissionCents int64   `json:"commission_cents"`
	NetRevenueCents int64   `json:"net_revenue_cents"`
	DirectCostCents int64   `json:"direct_cost_cents"`
	ProfitCents     int64   `json:"profit_cents"`
	MarginPercent   float64 `json:"margin_percent"`
	FeeRuleResolved bool    `json:"fee_rule_resolved"`
}

const (
	SolvePriceFromMarkup   = "price_from_markup"
	SolveMarkupFromPrice   = "markup_from_price"
	SolvePriceFromDiscount = "price_from_discount"
	SolveDiscountFromPrice = "discount_from_price"
)

type PriceSolveRequest struct {
	Mode       string  `json:"mode"`
	BaseCents  int64   `json:"base_cents"`
	PriceCents int64   `json:"price_cents,omitempty"`
	Percent    float64 `json:"percent,omitempty"`
}

type PriceSolveResponse struct {
	Mode       string  `json:"mode"`
	PriceCents int64   `json:"price_cents,omitempty"`
	Percent    float64 `json:"percent,omitempty"`
	Clamped    bool    `json:"clamped,omitempty"`
}

type Expense struct {
	ID          string    `json:"id"`
	ClinicID    string    `json:"clinic_id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	DueDate     time.Time `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
}

type ExpenseCreateRequest struct {
	ClinicID    string `json:"clinic_id"`
	Category    string `json:"category"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	DueDate     string `json:"due_date"`
}

type ExpenseListResponse struct {
	Expenses []Expense `json:"expenses"`
}

type CashFlowDay struct {
	Date             string `json:"date"`
	ReceivablesCents int64  `json:"receivables_cents"`
	ExpensesCents    int64  `json:"expenses_cents"`
	NetCents         int64  `json:"net_cents"`
}

type CategoryTotal struct {
	Label      string `json:"label"`
	TotalCents int64  `json:"total_cents"`
}

/// CashFlowReport is derived data: rebuilt from installments and expenses on
// every projection, never persisted.
type CashFlowReport struct {
	ClinicID              string          `json:"clinic_id"`
	PeriodStart           string          `json:"period_start"`
	PeriodEnd             string          `json:"period_end"`
	Days                  []CashFlowDay   `json:"days"`
	ReceivablesTotalCents int64           `json:"receivables_total_cents"`
	ExpensesTotalCents    int64           `json:"expenses_total_cents"`
	NetCents              int64           `json:"net_cents"`
	ReceivablesByMethod   []CategoryTotal `json:"receivables_by_method"`
	ExpensesByCategory    []CategoryTotal `json:"expenses_by_category"`
	Health                string          `json:"health"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ClinicID      string    `json:"clinic_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
