package monolith

import "github.com/shopspring/decimal"

const moneyPlaces = 2

var (
	// DisplacementIncrement is added to the live valuation to produce the next bid floor.
	DisplacementIncrement = decimal.RequireFromString("1.00")
	// MinimumContribution is the smallest accepted syndicate contribution.
	MinimumContribution = decimal.RequireFromString("1.00")
	// MaximumAmount is the largest value a numeric(12,2) money column holds.
	MaximumAmount = decimal.RequireFromString("9999999999.99")
)

// MinimumNextBid returns the displacement cost for the provided valuation.
func MinimumNextBid(currentValuation decimal.Decimal) decimal.Decimal {
	return roundMoney(currentValuation.Add(DisplacementIncrement))
}

// ProgressRatio reports how far raised is toward target, clamped to [0, 1].
func ProgressRatio(raised, target decimal.Decimal) float64 {
	if !target.IsPositive() {
		return 0
	}
	ratio := raised.Div(target)
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		return 1
	}
	if ratio.IsNegative() {
		return 0
	}
	return ratio.InexactFloat64()
}

func roundMoney(value decimal.Decimal) decimal.Decimal {
	return value.Round(moneyPlaces)
}

func formatMoney(value decimal.Decimal) string {
	return "$" + value.StringFixed(moneyPlaces)
}
