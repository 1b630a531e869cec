package shared

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Tolerance is the accepted gap between debit and credit totals.
var Tolerance = decimal.New(1, -2)

// Hundred is used when converting percentages.
var Hundred = decimal.NewFromInt(100)

// ErrInvalidWeights indicates a distribution request without a positive weight sum.
var ErrInvalidWeights = Classify(ErrValidation, errors.New("shared: distribution weights must sum to a positive value"))

// Round2 rounds half away from zero to cents.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Sum adds the supplied values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// WithinTolerance reports whether |a-b| <= Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// DistributeAndRound splits total across weights. Every entry but the last is
// rounded to cents; the last receives the exact remainder so the result always
// sums to Round2(total).
func DistributeAndRound(weights []decimal.Decimal, total decimal.Decimal) ([]decimal.Decimal, error) {
	if len(weights) == 0 {
		return nil, ErrInvalidWeights
	}
	sum := decimal.Zero
	for _, w := range weights {
		if w.IsNegative() {
			return nil, ErrInvalidWeights
		}
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		return nil, ErrInvalidWeights
	}
	out := make([]decimal.Decimal, len(weights))
	allocated := decimal.Zero
	last := len(weights) - 1
	for i := 0; i < last; i++ {
		part := Round2(total.Mul(weights[i]).Div(sum))
		out[i] = part
		allocated = allocated.Add(part)
	}
	out[last] = Round2(total).Sub(allocated)
	return out, nil
}
