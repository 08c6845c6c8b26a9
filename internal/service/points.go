package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidAmount reports whether an extracted total can earn points: present and
// strictly positive. Currency is passed through untouched, there is no
// conversion.
func ValidAmount(amount *decimal.Decimal) bool {
	return amount != nil && amount.Sign() > 0
}

// ComputePoints converts spend into whole points: floor(amount / perUnit).
// Zero points is a valid, non-failing result. A non-positive rate is a
// business misconfiguration, not a zero grant.
func ComputePoints(amount, perUnit decimal.Decimal) (int64, error) {
	if perUnit.Sign() <= 0 {
		return 0, fmt.Errorf("points rate must be positive, got %s", perUnit)
	}
	return amount.Div(perUnit).Floor().IntPart(), nil
}
