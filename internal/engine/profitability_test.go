package engine

import (
	"errors"
	"testing"

	"clinipay/backend/internal/domain"
)

func costRuleTable() []domain.VariableCostRule {
	return []domain.VariableCostRule{
		{ID: "cr-1", Category: domain.CostCategoryTax, Name: "Simples Nacional", Percent: 6, Active: true},
		{ID: "cr-2", Category: domain.CostCategoryCommission, Name: "Dentist commission", Percent: 10, Active: true},
		{ID: "cr-3", Category: domain.CostCategoryTax, Name: "Old ISS", Percent: 2, Active: false},
	}
}

func TestComputeProfitabilityCashNoRules(t *testing.T) {
	eng := newTestEngine()

	result, err := eng.ComputeProfitability(nil, nil, 100000, domain.MethodCashPix, 1, "", "", 25000)
	if err != nil {
		t.Fatalf("profitability failed: %v", err)
	}
	if result.NetRevenueCents != 100000 {
		t.Fatalf("expected net revenue equal to price, got %d", result.NetRevenueCents)
	}
	if result.ProfitCents != 75000 {
		t.Fatalf("expected profit 75000, got %d", result.ProfitCents)
	}
	if result.MarginPercent != 75 {
		t.Fatalf("expected margin 75%%, got %v", result.MarginPercent)
	}
}

func TestComputeProfitabilityWithTaxCommissionAndFee(t *testing.T) {
	eng := newTestEngine()

	// R$ 1000.00 on Rede credit 3x: tax 6% = 6000, commission 10% = 10000,
	// card fee 3.2% = 3200. Inactive rules contribute nothing.
	result, err := eng.ComputeProfitability(ruleTable(), costRuleTable(), 100000, domain.MethodCreditCard, 3, "Rede", domain.CardTypeCredit, 30000)
	if err != nil {
		t.Fatalf("profitability failed: %v", err)
	}
	if result.TaxCents != 6000 {
		t.Fatalf("expected tax 6000, got %d", result.TaxCents)
	}
	if result.CommissionCents != 10000 {
		t.Fatalf("expected commission 10000, got %d", result.CommissionCents)
	}
	if result.FeeCents != 3200 {
		t.Fatalf("expected fee 3200, got %d", result.FeeCents)
	}
	if result.NetRevenueCents != 80800 {
		t.Fatalf("expected net revenue 80800, got %d", result.NetRevenueCents)
	}
	if result.ProfitCents != 50800 {
		t.Fatalf("expected profit 50800, got %d", result.ProfitCents)
	}
	if !result.FeeRuleResolved {
		t.Fatalf("expected fee rule to be resolved")
	}
}

func TestComputeProfitabilityPercentagesAreAdditive(t *testing.T) {
	eng := newTestEngine()

	// Each rule applies to the original price, never to the running remainder,
	// so two 6% taxes deduct exactly 12% of price.
	rules := []domain.VariableCostRule{
		{ID: "cr-a", Category: domain.CostCategoryTax, Name: "A", Percent: 6, Active: true},
		{ID: "cr-b", Category: domain.CostCategoryTax, Name: "B", Percent: 6, Active: true},
	}
	result, err := eng.ComputeProfitability(nil, rules, 100000, domain.MethodCashPix, 1, "", "", 0)
	if err != nil {
		t.Fatalf("profitability failed: %v", err)
	}
	if result.TaxCents != 12000 {
		t.Fatalf("expected additive tax 12000, got %d", result.TaxCents)
	}
}

func TestComputeProfitabilityMarginZeroGuard(t *testing.T) {
	eng := newTestEngine()

	rules := []domain.VariableCostRule{
		{ID: "cr-x", Category: domain.CostCategoryTax, Name: "Heavy", Percent: 100, Active: true},
	}
	result, err := eng.ComputeProfitability(nil, rules, 50000, domain.MethodCashPix, 1, "", "", 1000)
	if err != nil {
		t.Fatalf("profitability failed: %v", err)
	}
	if result.NetRevenueCents != 0 {
		t.Fatalf("expected net revenue 0, got %d", result.NetRevenueCents)
	}
	if result.MarginPercent != 0 {
		t.Fatalf("expected margin 0 when net revenue is not positive, got %v", result.MarginPercent)
	}
	if result.ProfitCents != -1000 {
		t.Fatalf("expected profit -1000, got %d", result.ProfitCents)
	}
}

func TestComputeProfitabilityDegradedFee(t *testing.T) {
	eng := newTestEngine()

	result, err := eng.ComputeProfitability(ruleTable(), nil, 100000, domain.MethodCreditCard, 7, "Rede", domain.CardTypeCredit, 0)
	if err != nil {
		t.Fatalf("expected degraded result, got %v", err)
	}
	if result.FeeCents != 0 {
		t.Fatalf("expected zero fee in degraded mode, got %d", result.FeeCents)
	}
	if result.FeeRuleResolved {
		t.Fatalf("expected FeeRuleResolved=false without a matching rule")
	}
}

func TestComputeProfitabilityRejectsNonPositivePrice(t *testing.T) {
	eng := newTestEngine()

	if _, err := eng.ComputeProfitability(nil, nil, 0, domain.MethodCashPix, 1, "", "", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
