package domain

import "github.com/shopspring/decimal"

// UnitOfMeasure carries the rounding precision quantities are compared at,
// e.g. 0.01 for a unit tracked to two decimals. A zero rounding compares
// exactly.
type UnitOfMeasure struct {
	Name     string
	Rounding decimal.Decimal
}

func (u UnitOfMeasure) Round(q decimal.Decimal) decimal.Decimal {
	if !u.Rounding.IsPositive() {
		return q
	}
	return q.Div(u.Rounding).Round(0).Mul(u.Rounding)
}

// Equal reports whether a and b are the same quantity at this unit's precision.
func (u UnitOfMeasure) Equal(a, b decimal.Decimal) bool {
	return u.Round(a).Equal(u.Round(b))
}

func (u UnitOfMeasure) IsZero(q decimal.Decimal) bool {
	return u.Round(q).IsZero()
}
