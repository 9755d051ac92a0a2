package engine

import (
	"strings"

	"clinipay/backend/internal/domain"
)

// ResolveFeeRule finds the active rule matching all three keys exactly.
// There is deliberately no fallback: a table with rules for 1x and 2x but not
// 3x does not resolve a 3x payment. The caller decides what a missing rule
// means (see MissingRulePolicy). Operator matching is case-insensitive
// because rule tables are typed in by clinic staff.
func ResolveFeeRule(rules []domain.FeeRule, operator string, cardType string, installmentCount int) (*domain.FeeRule, error) {
	if installmentCount < 1 {
		return nil, ErrInvalidInstallmentCount
	}

	operator = strings.TrimSpace(operator)
	cardType = strings.ToLower(strings.TrimSpace(cardType))

	for i := range rules {
		rule := rules[i]
		if !rule.Active {
			continue
		}
		if !strings.EqualFold(rule.Operator, operator) {
			continue
		}
		if rule.CardType != cardType || rule.InstallmentCount != installmentCount {
			continue
		}
		matched := rule
		return &matched, nil
	}

	return nil, ErrFeeRuleNotFound
}

// IsCardMethod reports whether a payment method settles through a card
// operator and therefore consults the fee rule table.
func IsCardMethod(method string) bool {
	return method == domain.MethodCreditCard || method == domain.MethodDebitCard
}

// IsSupportedMethod reports whether the engine knows the payment method.
func IsSupportedMethod(method string) bool {
	switch method {
	case domain.MethodCashPix, domain.MethodCreditCard, domain.MethodDebitCard, domain.MethodBankSlip:
		return true
	default:
		return false
	}
}

// CardTypeForMethod returns the card type implied by a card method when the
// caller did not specify one explicitly.
func CardTypeForMethod(method string) string {
	switch method {
	case domain.MethodCreditCard:
		return domain.CardTypeCredit
	case domain.MethodDebitCard:
		return domain.CardTypeDebit
	default:
		return ""
	}
}
