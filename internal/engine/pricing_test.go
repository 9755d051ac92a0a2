package engine

import (
	"errors"
	"math"
	"testing"
)

func TestPriceFromMarkup(t *testing.T) {
	price, err := PriceFromMarkup(10000, 50)
	if err != nil {
		t.Fatalf("price from markup failed: %v", err)
	}
	if price != 15000 {
		t.Fatalf("expected 15000, got %d", price)
	}
}

func TestMarkupRoundTrip(t *testing.T) {
	costs := []int64{100, 10000, 999999}
	markups := []float64{0, 10, 50, 200}

	for _, cost := range costs {
		for _, markup := range markups {
			price, err := PriceFromMarkup(cost, markup)
			if err != nil {
				t.Fatalf("cost=%d markup=%v: %v", cost, markup, err)
			}
			got, err := MarkupFromPrice(cost, price)
			if err != nil {
				t.Fatalf("cost=%d markup=%v: inverse failed: %v", cost, markup, err)
			}
			if math.Abs(got-markup) > 0.01 {
				t.Fatalf("cost=%d: round trip gave %v, want %v", cost, got, markup)
			}
		}
	}
}

func TestDiscountRoundTrip(t *testing.T) {
	lists := []int64{100, 10000, 500000}
	discounts := []float64{0, 10, 50, 99}

	for _, list := range lists {
		for _, discount := range discounts {
			price, clamped, err := PriceFromDiscount(list, discount)
			if err != nil {
				t.Fatalf("list=%d discount=%v: %v", list, discount, err)
			}
			if clamped {
				t.Fatalf("list=%d discount=%v: unexpected clamp", list, discount)
			}
			got, err := DiscountFromPrice(list, price)
			if err != nil {
				t.Fatalf("list=%d discount=%v: inverse failed: %v", list, discount, err)
			}
			if math.Abs(got-discount) > 1 {
				t.Fatalf("list=%d: round trip gave %v, want %v", list, got, discount)
			}
		}
	}
}

func TestMarkupFromPriceZeroCostUndefined(t *testing.T) {
	_, err := MarkupFromPrice(0, 10000)
	if !errors.Is(err, ErrUndefinedRate) {
		t.Fatalf("expected ErrUndefinedRate for zero cost, got %v", err)
	}
}

func TestDiscountFromPriceZeroListUndefined(t *testing.T) {
	_, err := DiscountFromPrice(0, 5000)
	if !errors.Is(err, ErrUndefinedRate) {
		t.Fatalf("expected ErrUndefinedRate for zero list price, got %v", err)
	}
}

func TestPriceFromDiscountClampsAboveHundred(t *testing.T) {
	price, clamped, err := PriceFromDiscount(10000, 120)
	if err != nil {
		t.Fatalf("price from discount failed: %v", err)
	}
	if price != 0 {
		t.Fatalf("expected clamped price 0, got %d", price)
	}
	if !clamped {
		t.Fatalf("expected clamp to be reported")
	}
}

func TestPricingRejectsNegativeInputs(t *testing.T) {
	if _, err := PriceFromMarkup(-1, 10); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := PriceFromMarkup(100, -10); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("expected ErrInvalidPercent, got %v", err)
	}
	if _, _, err := PriceFromDiscount(100, -5); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("expected ErrInvalidPercent, got %v", err)
	}
	if _, err := MarkupFromPrice(100, -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestNegativeMarkupReadBack(t *testing.T) {
	// A price below cost reads back as a negative markup; the solver reports
	// it rather than hiding the loss.
	markup, err := MarkupFromPrice(10000, 8000)
	if err != nil {
		t.Fatalf("markup from price failed: %v", err)
	}
	if markup != -20 {
		t.Fatalf("expected -20, got %v", markup)
	}
}
