package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// taxRate is applied to the unrounded items subtotal.
	taxRate = 0.15
	// freeShippingThreshold is a strict greater-than cutoff.
	freeShippingThreshold = 100.0
	flatShippingPrice     = 10.0
)

// ErrEmptyPriceLines signals that pricing was requested for an empty item list.
var ErrEmptyPriceLines = errors.New("pricing: at least one line is required")

// PriceLine is the minimal input the calculator needs per order line.
type PriceLine struct {
	UnitPrice float64
	Quantity  int
}

// PriceBreakdown is the financial summary computed server-side at order
// creation. All fields are rounded to 2 decimal places.
type PriceBreakdown struct {
	ItemsPrice    float64
	ShippingPrice float64
	TaxPrice      float64
	TotalPrice    float64
}

// CalcPrices computes the order breakdown from the given lines.
//
// Shipping is free above the threshold, flat otherwise; tax is 15% of the
// unrounded items subtotal, rounded after multiplication. The function is
// pure and idempotent.
func CalcPrices(lines []PriceLine) (PriceBreakdown, error) {
	if len(lines) == 0 {
		return PriceBreakdown{}, ErrEmptyPriceLines
	}

	var itemsPrice float64
	for i, line := range lines {
		if line.Quantity < 1 {
			return PriceBreakdown{}, fmt.Errorf("pricing: line %d: quantity must be at least 1", i)
		}
		if line.UnitPrice < 0 {
			return PriceBreakdown{}, fmt.Errorf("pricing: line %d: unit price must not be negative", i)
		}
		itemsPrice += line.UnitPrice * float64(line.Quantity)
	}

	shippingPrice := flatShippingPrice
	if itemsPrice > freeShippingThreshold {
		shippingPrice = 0
	}

	taxPrice := Round2(taxRate * itemsPrice)
	roundedItems := Round2(itemsPrice)
	totalPrice := Round2(roundedItems + shippingPrice + taxPrice)

	return PriceBreakdown{
		ItemsPrice:    roundedItems,
		ShippingPrice: Round2(shippingPrice),
		TaxPrice:      taxPrice,
		TotalPrice:    totalPrice,
	}, nil
}

// Round2 rounds to 2 decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatAmount renders a monetary value in the canonical 2-decimal form used
// on the wire and when comparing against processor-reported amounts.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(Round2(v), 'f', 2, 64)
}

// ParseAmount parses a processor-reported decimal amount. Values must be
// plain decimals with at most two fraction digits; anything finer cannot be
// expressed in the canonical form, so it is rejected here instead of being
// silently rounded into a false match.
func ParseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("pricing: invalid amount %q: %w", s, err)
	}
	if _, frac, ok := strings.Cut(s, "."); ok && len(frac) > 2 {
		return 0, fmt.Errorf("pricing: invalid amount %q: more than two fraction digits", s)
	}
	return v, nil
}

// AmountsEqual reports whether two monetary values agree in their canonical
// 2-decimal representation. Comparison is exact; there is no epsilon.
func AmountsEqual(a, b float64) bool {
	return FormatAmount(a) == FormatAmount(b)
}
