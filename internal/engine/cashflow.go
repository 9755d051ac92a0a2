package engine

import (
	"sort"
	"time"

	"clinipay/backend/internal/domain"
)

// Health thresholds: a positive net flow still counts as "attention" when it
// is a thin slice of expected receivables.
const healthyNetRatio = 0.3

// ProjectCashFlow buckets installments (expected receivables) and expenses by
// calendar day over the closed range [periodStart, periodEnd] and classifies
// the period's health. Output ordering is fully deterministic (days ascending,
// breakdown labels sorted) so identical inputs produce byte-identical reports.
// Installments and expenses outside the range are ignored, not errors.
func ProjectCashFlow(clinicID string, periodStart time.Time, periodEnd time.Time, installments []domain.Installment, expenses []domain.Expense) (domain.CashFlowReport, error) {
	start := startOfDay(periodStart)
	end := startOfDay(periodEnd)
	if start.After(end) {
		return domain.CashFlowReport{}, ErrInvalidPeriod
	}

	receivablesByDay := make(map[string]int64)
	expensesByDay := make(map[string]int64)
	byMethod := make(map[string]int64)
	byCategory := make(map[string]int64)

	receivablesTotal := int64(0)
	expensesTotal := int64(0)

	for _, inst := range installments {
		due := startOfDay(inst.DueDate)
		if due.Before(start) || due.After(end) {
			continue
		}
		key := due.Format("2006-01-02")
		receivablesByDay[key] += inst.AmountCents
		byMethod[inst.Method] += inst.AmountCents
		receivablesTotal += inst.AmountCents
	}

	for _, expense := range expenses {
		due := startOfDay(expense.DueDate)
		if due.Before(start) || due.After(end) {
			continue
		}
		key := due.Format("2006-01-02")
		expensesByDay[key] += expense.AmountCents
		byCategory[expense.Category] += expense.AmountCents
		expensesTotal += expense.AmountCents
	}

	days := make([]domain.CashFlowDay, 0, end.Sub(start)/(24*time.Hour)+1)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		in := receivablesByDay[key]
		out := expensesByDay[key]
		days = append(days, domain.CashFlowDay{
			Date:             key,
			ReceivablesCents: in,
			ExpensesCents:    out,
			NetCents:         in - out,
		})
	}

	net := receivablesTotal - expensesTotal

	return domain.CashFlowReport{
		ClinicID:              clinicID,
		PeriodStart:           start.Format("2006-01-02"),
		PeriodEnd:             end.Format("2006-01-02"),
		Days:                  days,
		ReceivablesTotalCents: receivablesTotal,
		ExpensesTotalCents:    expensesTotal,
		NetCents:              net,
		ReceivablesByMethod:   sortedTotals(byMethod),
		ExpensesByCategory:    sortedTotals(byCategory),
		Health:                classifyHealth(net, receivablesTotal),
	}, nil
}

func classifyHealth(netCents int64, receivablesTotalCents int64) string {
	if netCents <= 0 {
		return domain.HealthCritical
	}
	if receivablesTotalCents > 0 && float64(netCents)/float64(receivablesTotalCents) > healthyNetRatio {
		return domain.HealthHealthy
	}
	return domain.HealthAttention
}

func sortedTotals(totals map[string]int64) []domain.CategoryTotal {
	out := make([]domain.CategoryTotal, 0, len(totals))
	for label, total := range totals {
		out = append(out, domain.CategoryTotal{Label: label, TotalCents: total})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Label < out[j].Label
	})
	return out
}
