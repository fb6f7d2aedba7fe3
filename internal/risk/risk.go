// Package risk converts a per-trade risk budget into a tradable lot size and
// guards the executor with notional limits.
package risk

import "github.com/shopspring/decimal"

// Limits caps the notional the engine may put on in a single trade. A zero or
// negative cap disables the check.
type Limits struct {
	MaxNotionalPerTrade float64
}

// Allow reports whether the proposed notional fits under the cap.
func (l Limits) Allow(notional float64) bool {
	return l.MaxNotionalPerTrade <= 0 || notional <= l.MaxNotionalPerTrade
}

// Sizer holds the instrument constraints needed to turn a quote-currency risk
// budget and a stop distance into lots. Pure; no side effects.
type Sizer struct {
	TickValue          float64 // quote value of one price unit per lot
	ContractMultiplier float64
	MinStopDistance    float64 // floor for stopDistance, avoids division blow-up
	LotMin             float64
	LotStep            float64
	LotMax             float64
}

// Lots returns the position size for the given budget, floored to the lot
// step and clamped to [0, LotMax]. It returns 0 when the rounded size falls
// below the minimum tradable unit: that is a skip condition, not an error.
func (s Sizer) Lots(riskAmount, stopDistance float64) float64 {
	if riskAmount <= 0 {
		return 0
	}
	if stopDistance < s.MinStopDistance {
		stopDistance = s.MinStopDistance
	}
	perLot := stopDistance * s.TickValue * s.ContractMultiplier
	if perLot <= 0 {
		return 0
	}

	lots := decimal.NewFromFloat(riskAmount / perLot)
	if step := decimal.NewFromFloat(s.LotStep); step.IsPositive() {
		lots = lots.Div(step).Floor().Mul(step)
	}
	if maxLots := decimal.NewFromFloat(s.LotMax); maxLots.IsPositive() && lots.GreaterThan(maxLots) {
		lots = maxLots
	}
	out, _ := lots.Float64()
	if out < s.LotMin {
		return 0
	}
	return out
}
