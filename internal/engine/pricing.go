package engine

import "math"

// The four solvers below are two pairs of exact algebraic inverses relating a
// base value to a final price through a percentage. They back both the quote
// screen (cost + markup -> price) and its reverse (price typed in, markup
// shown), so both directions must agree.

// PriceFromMarkup returns cost raised by markupPercent.
func PriceFromMarkup(costCents int64, markupPercent float64) (int64, error) {
	if costCents < 0 {
		return 0, ErrInvalidAmount
	}
	if markupPercent < 0 {
		return 0, ErrInvalidPercent
	}
	return int64(math.Round(float64(costCents) * (1 + markupPercent/100))), nil
}

// MarkupFromPrice returns the markup percentage that takes cost to price.
// A zero cost has no defined markup; the caller must treat ErrUndefinedRate
// as "markup undefined", not as a crash.
func MarkupFromPrice(costCents int64, priceCents int64) (float64, error) {
	if costCents < 0 || priceCents < 0 {
		return 0, ErrInvalidAmount
	}
	if costCents == 0 {
		return 0, ErrUndefinedRate
	}
	return float64(priceCents-costCents) / float64(costCents) * 100, nil
}

// PriceFromDiscount returns the list price lowered by discountPercent.
// Discounts above 100% clamp the result to zero and report the clamp; a
// negative price is never produced.
func PriceFromDiscount(listCents int64, discountPercent float64) (priceCents int64, clamped bool, err error) {
	if listCents < 0 {
		return 0, false, ErrInvalidAmount
	}
	if discountPercent < 0 {
		return 0, false, ErrInvalidPercent
	}
	if discountPercent > 100 {
		return 0, true, nil
	}
	return int64(math.Round(float64(listCents) * (1 - discountPercent/100))), false, nil
}

// DiscountFromPrice returns the discount percentage that takes listCents to
// finalCents. Fails with ErrUndefinedRate when the list price is zero.
func DiscountFromPrice(listCents int64, finalCents int64) (float64, error) {
	if listCents < 0 || finalCents < 0 {
		return 0, ErrInvalidAmount
	}
	if listCents == 0 {
		return 0, ErrUndefinedRate
	}
	return float64(listCents-finalCents) / float64(listCents) * 100, nil
}
