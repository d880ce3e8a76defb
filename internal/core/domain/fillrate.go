package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type FillRateCategory string

const (
	CategoryExcellent FillRateCategory = "excellent"
	CategoryGood      FillRateCategory = "good"
	CategoryRegular   FillRateCategory = "regular"
	CategoryPoor      FillRateCategory = "poor"
)

// CategoryFor bands a fill-rate percentage.
func CategoryFor(rate float64) FillRateCategory {
	switch {
	case rate >= 95:
		return CategoryExcellent
	case rate >= 80:
		return CategoryGood
	case rate >= 60:
		return CategoryRegular
	default:
		return CategoryPoor
	}
}

// FillRate is received/demanded*100 rounded to two decimals, or zero when
// nothing was demanded.
func FillRate(demanded, received decimal.Decimal) float64 {
	if !demanded.IsPositive() {
		return 0
	}
	return received.Div(demanded).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}

type FillRateRecord struct {
	RequisitionToken string           `json:"requisition_token"`
	ProductID        string           `json:"product_id"`
	Demanded         decimal.Decimal  `json:"demanded"`
	Sent             decimal.Decimal  `json:"sent"`
	Received         decimal.Decimal  `json:"received"`
	FillRate         float64          `json:"fill_rate"`
	Category         FillRateCategory `json:"category"`
}

type ReportFilter struct {
	Tokens     []string
	ProductIDs []string
	From       *time.Time
	To         *time.Time
}

// MatchesProduct is true when the filter names no products or names id.
func (f ReportFilter) MatchesProduct(id string) bool {
	if len(f.ProductIDs) == 0 {
		return true
	}
	for _, p := range f.ProductIDs {
		if p == id {
			return true
		}
	}
	return false
}

type ReportRow struct {
	FillRateRecord
	RequisitionCreatedAt time.Time       `json:"requisition_created_at"`
	Variance             decimal.Decimal `json:"variance"`
	VariancePct          float64         `json:"variance_pct"`
}
