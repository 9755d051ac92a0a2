package engine

import (
	"clinipay/backend/internal/domain"
)

// ComputeProfitability deducts taxes, the card fee and commissions from a
// sale price and nets the result against the externally supplied direct cost.
// Percentage rules are additive over the original price, never compounded, so
// the order of tax vs commission changes only the breakdown, not the total.
func (e *Engine) ComputeProfitability(feeRules []domain.FeeRule, costRules []domain.VariableCostRule, priceCents int64, method string, installmentCount int, operator string, cardType string, directCostCents int64) (domain.ProfitabilityResult, error) {
	if priceCents < 1 {
		return domain.ProfitabilityResult{}, ErrInvalidAmount
	}

	settlement, err := e.ComputeNetSettlement(feeRules, priceCents, method, installmentCount, operator, cardType)
	if err != nil {
		return domain.ProfitabilityResult{}, err
	}

	taxCents := int64(0)
	commissionCents := int64(0)
	for _, rule := range costRules {
		if !rule.Active || rule.Percent <= 0 {
			continue
		}
		switch rule.Category {
		case domain.CostCategoryTax:
			taxCents += roundPercentOf(priceCents, rule.Percent)
		case domain.CostCategoryCommission:
			commissionCents += roundPercentOf(priceCents, rule.Percent)
		}
	}

	netRevenue := priceCents - taxCents - settlement.FeeCents - commissionCents
	profit := netRevenue - directCostCents

	marginPercent := 0.0
	if netRevenue > 0 {
		marginPercent = float64(profit) / float64(netRevenue) * 100
	}

	return domain.ProfitabilityResult{
		GrossCents:      priceCents,
		TaxCents:        taxCents,
		FeeCents:        settlement.FeeCents,
		CommissionCents: commissionCents,
		NetRevenueCents: netRevenue,
		DirectCostCents: directCostCents,
		ProfitCents:     profit,
		MarginPercent:   marginPercent,
		FeeRuleResolved: settlement.RuleResolved,
	}, nil
}
