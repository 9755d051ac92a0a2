package engine

import (
	"errors"
	"testing"

	"clinipay/backend/internal/domain"
)

func ruleTable() []domain.FeeRule {
	return []domain.FeeRule{
		{ID: "fr-1", Operator: "Rede", CardType: domain.CardTypeCredit, InstallmentCount: 1, FeePercent: 2.5, ReceivingDays: 30, Active: true},
		{ID: "fr-2", Operator: "Rede", CardType: domain.CardTypeCredit, InstallmentCount: 3, FeePercent: 3.2, ReceivingDays: 30, Active: true},
		{ID: "fr-3", Operator: "Rede", CardType: domain.CardTypeDebit, InstallmentCount: 1, FeePercent: 1.5, ReceivingDays: 1, Active: true},
		{ID: "fr-4", Operator: "Cielo", CardType: domain.CardTypeCredit, InstallmentCount: 3, FeePercent: 3.9, ReceivingDays: 31, Active: true},
		{ID: "fr-5", Operator: "Stone", CardType: domain.CardTypeCredit, InstallmentCount: 3, FeePercent: 2.9, ReceivingDays: 30, Active: false},
	}
}

func TestResolveFeeRuleExactMatch(t *testing.T) {
	rule, err := ResolveFeeRule(ruleTable(), "Rede", domain.CardTypeCredit, 3)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if rule.ID != "fr-2" {
		t.Fatalf("expected fr-2, got %s", rule.ID)
	}
	if rule.FeePercent != 3.2 || rule.ReceivingDays != 30 {
		t.Fatalf("unexpected rule values: %+v", rule)
	}
}

func TestResolveFeeRuleOperatorCaseInsensitive(t *testing.T) {
	rule, err := ResolveFeeRule(ruleTable(), "  rede ", "CREDIT", 1)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if rule.ID != "fr-1" {
		t.Fatalf("expected fr-1, got %s", rule.ID)
	}
}

func TestResolveFeeRuleNoNearestNeighborFallback(t *testing.T) {
	// Rules exist for 1x and 3x; 2x must not silently borrow either rate.
	_, err := ResolveFeeRule(ruleTable(), "Rede", domain.CardTypeCredit, 2)
	if !errors.Is(err, ErrFeeRuleNotFound) {
		t.Fatalf("expected ErrFeeRuleNotFound, got %v", err)
	}
}

func TestResolveFeeRuleIgnoresInactive(t *testing.T) {
	_, err := ResolveFeeRule(ruleTable(), "Stone", domain.CardTypeCredit, 3)
	if !errors.Is(err, ErrFeeRuleNotFound) {
		t.Fatalf("expected inactive rule to be skipped, got %v", err)
	}
}

func TestResolveFeeRuleUnknownOperator(t *testing.T) {
	_, err := ResolveFeeRule(ruleTable(), "Unknown", domain.CardTypeCredit, 5)
	if !errors.Is(err, ErrFeeRuleNotFound) {
		t.Fatalf("expected ErrFeeRuleNotFound, got %v", err)
	}
}

func TestResolveFeeRuleRejectsInvalidCount(t *testing.T) {
	_, err := ResolveFeeRule(ruleTable(), "Rede", domain.CardTypeCredit, 0)
	if !errors.Is(err, ErrInvalidInstallmentCount) {
		t.Fatalf("expected ErrInvalidInstallmentCount, got %v", err)
	}
}

func TestCardTypeForMethod(t *testing.T) {
	if got := CardTypeForMethod(domain.MethodCreditCard); got != domain.CardTypeCredit {
		t.Fatalf("expected credit, got %s", got)
	}
	if got := CardTypeForMethod(domain.MethodDebitCard); got != domain.CardTypeDebit {
		t.Fatalf("expected debit, got %s", got)
	}
	if got := CardTypeForMethod(domain.MethodCashPix); got != "" {
		t.Fatalf("expected empty card type for cash, got %s", got)
	}
}
