// Package engine holds the payment settlement and profitability math shared
// by every screen of the back office: fee resolution, net settlement,
// installment schedules, price solving and cash-flow projection. Everything
// here is pure: rule tables and reference dates come in as arguments, and no
// call touches storage or the clock.
package engine

import (
	"errors"
)

var (
	ErrFeeRuleNotFound         = errors.New("no active fee rule matches operator, card type and installment count")
	ErrUndefinedRate           = errors.New("rate undefined for zero base value")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInvalidPercent          = errors.New("percent must not be negative")
	ErrInvalidInstallmentCount = errors.New("installment count must be at least 1")
	ErrUnsupportedMethod       = errors.New("unsupported payment method")
	ErrInvalidPeriod           = errors.New("period start must not be after period end")
	ErrSplitSumMismatch        = errors.New("payment splits do not sum to sale total")
)

// MissingRulePolicy decides what happens when a card payment has no matching
// active fee rule. The historical behavior is to quietly charge no fee; the
// policy makes that choice explicit and lets a clinic opt into hard failure.
type MissingRulePolicy string

const (
	MissingRuleZeroFee MissingRulePolicy = "zero_fee"
	MissingRuleReject  MissingRulePolicy = "reject"
)

const (
	defaultNonCardReceivingDays    = 2
	defaultInstallmentIntervalDays = 30
)

type Options struct {
	// NonCardReceivingDays is the first-due offset for methods that carry no
	// operator float (cash/PIX, bank slip) and for degraded card settlements.
	NonCardReceivingDays int
	// InstallmentIntervalDays is the gap between consecutive due dates.
	InstallmentIntervalDays int
	MissingRulePolicy       MissingRulePolicy
}

type Engine struct {
	nonCardReceivingDays    int
	installmentIntervalDays int
	missingRulePolicy       MissingRulePolicy
}

func New(opts Options) *Engine {
	if opts.NonCardReceivingDays < 0 {
		opts.NonCardReceivingDays = defaultNonCardReceivingDays
	}
	if opts.InstallmentIntervalDays < 1 {
		opts.InstallmentIntervalDays = defaultInstallmentIntervalDays
	}
	if opts.MissingRulePolicy != MissingRuleReject {
		opts.MissingRulePolicy = MissingRuleZeroFee
	}

	return &Engine{
		nonCardReceivingDays:    opts.NonCardReceivingDays,
		installmentIntervalDays: opts.InstallmentIntervalDays,
		missingRulePolicy:       opts.MissingRulePolicy,
	}
}
