package engine

import (
	"math"
	"strings"

	"clinipay/backend/internal/domain"
)

// ComputeNetSettlement applies the fee rule table to a gross amount.
// Cash/PIX and bank slip carry no card fee by construction and never consult
// the resolver. For cards, a missing rule either degrades to a zero fee with
// RuleResolved=false or fails, depending on the configured policy. The fee is
// rounded to cents only once, at the final amount.
func (e *Engine) ComputeNetSettlement(rules []domain.FeeRule, grossCents int64, method string, installmentCount int, operator string, cardType string) (domain.NetSettlement, error) {
	if grossCents < 1 {
		return domain.NetSettlement{}, ErrInvalidAmount
	}
	if installmentCount < 1 {
		return domain.NetSettlement{}, ErrInvalidInstallmentCount
	}
	if !IsSupportedMethod(method) {
		return domain.NetSettlement{}, ErrUnsupportedMethod
	}

	if !IsCardMethod(method) {
		return domain.NetSettlement{
			GrossCents:    grossCents,
			NetCents:      grossCents,
			ReceivingDays: e.nonCardReceivingDays,
			RuleResolved:  true,
		}, nil
	}

	if strings.TrimSpace(cardType) == "" {
		cardType = CardTypeForMethod(method)
	}

	rule, err := ResolveFeeRule(rules, operator, cardType, installmentCount)
	if err != nil {
		if e.missingRulePolicy == MissingRuleReject {
			return domain.NetSettlement{}, err
		}
		// Degraded mode: no fee is charged and the caller is told the rule
		// was missing via RuleResolved=false.
		return domain.NetSettlement{
			GrossCents:    grossCents,
			NetCents:      grossCents,
			ReceivingDays: e.nonCardReceivingDays,
			RuleResolved:  false,
		}, nil
	}

	feeCents := roundPercentOf(grossCents, rule.FeePercent)

	return domain.NetSettlement{
		GrossCents:    grossCents,
		FeePercent:    rule.FeePercent,
		FeeCents:      feeCents,
		NetCents:      grossCents - feeCents,
		ReceivingDays: rule.ReceivingDays,
		RuleResolved:  true,
	}, nil
}

// ValidateSplits checks that the split amounts cover the sale total within
// one cent and that each split is well formed. It runs before any schedule is
// generated; the engine never pads or truncates the difference.
func ValidateSplits(splits []domain.PaymentSplit, totalCents int64) error {
	if totalCents < 1 {
		return ErrInvalidAmount
	}
	if len(splits) == 0 {
		return ErrSplitSumMismatch
	}

	sum := int64(0)
	for _, split := range splits {
		if split.AmountCents < 1 {
			return ErrInvalidAmount
		}
		if split.InstallmentCount < 1 {
			return ErrInvalidInstallmentCount
		}
		if !IsSupportedMethod(split.Method) {
			return ErrUnsupportedMethod
		}
		if IsCardMethod(split.Method) && strings.TrimSpace(split.CardOperator) == "" {
			return ErrFeeRuleNotFound
		}
		sum += split.AmountCents
	}

	diff := sum - totalCents
	if diff < -1 || diff > 1 {
		return ErrSplitSumMismatch
	}
	return nil
}

func roundPercentOf(amountCents int64, percent float64) int64 {
	return int64(math.Round(float64(amountCents) * percent / 100))
}
