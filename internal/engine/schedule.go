package engine

import (
	"time"

	"clinipay/backend/internal/domain"
)

// GenerateSchedule produces the dated installments for one payment split.
// The amount is divided evenly and the rounding remainder is assigned to the
// final installment, so the schedule always sums exactly to the split amount.
// Due date i (1-indexed) is saleDate + firstOffset + interval*(i-1), where
// the first offset is the resolved rule's receiving days for card methods and
// the configured non-card offset otherwise. Due dates are calendar days;
// weekends and holidays are not skipped.
//
// The sale date is an explicit parameter: generating the same split twice
// yields an identical schedule. IDs and sale linkage are the caller's job.
func (e *Engine) GenerateSchedule(rules []domain.FeeRule, split domain.PaymentSplit, saleDate time.Time) ([]domain.Installment, error) {
	settlement, err := e.ComputeNetSettlement(rules, split.AmountCents, split.Method, split.InstallmentCount, split.CardOperator, split.CardType)
	if err != nil {
		return nil, err
	}

	count := split.InstallmentCount
	perCents := split.AmountCents / int64(count)
	remainder := split.AmountCents - perCents*int64(count)

	firstDue := startOfDay(saleDate).AddDate(0, 0, settlement.ReceivingDays)

	installments := make([]domain.Installment, 0, count)
	for i := 1; i <= count; i++ {
		amount := perCents
		if i == count {
			amount += remainder
		}
		installments = append(installments, domain.Installment{
			Method:      split.Method,
			Sequence:    i,
			AmountCents: amount,
			DueDate:     firstDue.AddDate(0, 0, e.installmentIntervalDays*(i-1)),
			Status:      domain.InstallmentPending,
		})
	}

	return installments, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
