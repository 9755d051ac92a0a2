package engine

import (
	"errors"
	"testing"

	"clinipay/backend/internal/domain"
)

func newTestEngine() *Engine {
	return New(Options{})
}

func TestComputeNetSettlementCreditCard(t *testing.T) {
	eng := newTestEngine()

	// Rede credit 3x at 3.2% over R$ 1000.00.
	settlement, err := eng.ComputeNetSettlement(ruleTable(), 100000, domain.MethodCreditCard, 3, "Rede", domain.CardTypeCredit)
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	if settlement.FeeCents != 3200 {
		t.Fatalf("expected fee 3200 cents, got %d", settlement.FeeCents)
	}
	if settlement.NetCents != 96800 {
		t.Fatalf("expected net 96800 cents, got %d", settlement.NetCents)
	}
	if settlement.ReceivingDays != 30 {
		t.Fatalf("expected 30 receiving days, got %d", settlement.ReceivingDays)
	}
	if !settlement.RuleResolved {
		t.Fatalf("expected rule to be resolved")
	}
}

func TestComputeNetSettlementCashPixHasNoFee(t *testing.T) {
	eng := newTestEngine()

	settlement, err := eng.ComputeNetSettlement(nil, 50000, domain.MethodCashPix, 1, "", "")
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	if settlement.FeeCents != 0 || settlement.FeePercent != 0 {
		t.Fatalf("expected zero fee for cash/pix, got %+v", settlement)
	}
	if settlement.NetCents != 50000 {
		t.Fatalf("expected net equal to gross, got %d", settlement.NetCents)
	}
}

func TestComputeNetSettlementBankSlipHasNoFee(t *testing.T) {
	eng := newTestEngine()

	settlement, err := eng.ComputeNetSettlement(nil, 120000, domain.MethodBankSlip, 1, "", "")
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	if settlement.NetCents != 120000 {
		t.Fatalf("expected net equal to gross, got %d", settlement.NetCents)
	}
}

func TestComputeNetSettlementMissingRuleDegradesToZeroFee(t *testing.T) {
	eng := newTestEngine()

	settlement, err := eng.ComputeNetSettlement(ruleTable(), 100000, domain.MethodCreditCard, 5, "Unknown", domain.CardTypeCredit)
	if err != nil {
		t.Fatalf("expected degraded settlement, got error %v", err)
	}
	if settlement.FeeCents != 0 {
		t.Fatalf("expected zero fee in degraded mode, got %d", settlement.FeeCents)
	}
	if settlement.NetCents != 100000 {
		t.Fatalf("expected net equal to gross, got %d", settlement.NetCents)
	}
	if settlement.RuleResolved {
		t.Fatalf("expected RuleResolved=false when no rule matched")
	}
}

func TestComputeNetSettlementMissingRuleRejectPolicy(t *testing.T) {
	eng := New(Options{MissingRulePolicy: MissingRuleReject})

	_, err := eng.ComputeNetSettlement(ruleTable(), 100000, domain.MethodCreditCard, 5, "Unknown", domain.CardTypeCredit)
	if !errors.Is(err, ErrFeeRuleNotFound) {
		t.Fatalf("expected ErrFeeRuleNotFound under reject policy, got %v", err)
	}
}

func TestComputeNetSettlementDefaultsCardTypeFromMethod(t *testing.T) {
	eng := newTestEngine()

	settlement, err := eng.ComputeNetSettlement(ruleTable(), 10000, domain.MethodDebitCard, 1, "Rede", "")
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	if settlement.FeePercent != 1.5 {
		t.Fatalf("expected debit rule at 1.5%%, got %v", settlement.FeePercent)
	}
}

func TestComputeNetSettlementRejectsBadInput(t *testing.T) {
	eng := newTestEngine()

	if _, err := eng.ComputeNetSettlement(nil, 0, domain.MethodCashPix, 1, "", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := eng.ComputeNetSettlement(nil, 1000, domain.MethodCashPix, 0, "", ""); !errors.Is(err, ErrInvalidInstallmentCount) {
		t.Fatalf("expected ErrInvalidInstallmentCount, got %v", err)
	}
	if _, err := eng.ComputeNetSettlement(nil, 1000, "check", 1, "", ""); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestValidateSplitsExactSum(t *testing.T) {
	splits := []domain.PaymentSplit{
		{Method: domain.MethodCashPix, AmountCents: 30000, InstallmentCount: 1},
		{Method: domain.MethodCreditCard, AmountCents: 70000, InstallmentCount: 3, CardOperator: "Rede", CardType: domain.CardTypeCredit},
	}
	if err := ValidateSplits(splits, 100000); err != nil {
		t.Fatalf("expected valid splits, got %v", err)
	}
}

func TestValidateSplitsOneCentTolerance(t *testing.T) {
	splits := []domain.PaymentSplit{
		{Method: domain.MethodCashPix, AmountCents: 33333, InstallmentCount: 1},
		{Method: domain.MethodCashPix, AmountCents: 33333, InstallmentCount: 1},
		{Method: domain.MethodCashPix, AmountCents: 33333, InstallmentCount: 1},
	}
	if err := ValidateSplits(splits, 100000); err != nil {
		t.Fatalf("expected 1-cent shortfall to pass tolerance, got %v", err)
	}
}

func TestValidateSplitsMismatch(t *testing.T) {
	splits := []domain.PaymentSplit{
		{Method: domain.MethodCashPix, AmountCents: 40000, InstallmentCount: 1},
		{Method: domain.MethodCashPix, AmountCents: 40000, InstallmentCount: 1},
	}
	if err := ValidateSplits(splits, 100000); !errors.Is(err, ErrSplitSumMismatch) {
		t.Fatalf("expected ErrSplitSumMismatch, got %v", err)
	}
}

func TestValidateSplitsCardNeedsOperator(t *testing.T) {
	splits := []domain.PaymentSplit{
		{Method: domain.MethodCreditCard, AmountCents: 100000, InstallmentCount: 3},
	}
	if err := ValidateSplits(splits, 100000); !errors.Is(err, ErrFeeRuleNotFound) {
		t.Fatalf("expected card split without operator to fail, got %v", err)
	}
}
