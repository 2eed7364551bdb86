// Package billing converts metered energy into billed cost.
package billing

import "github.com/shopspring/decimal"

// costPlaces is the precision costs are rounded to.
const costPlaces = 6

// Tariff prices an amount of energy consumed within one billing period.
type Tariff interface {
	Cost(energyKWh float64) float64
}

// FlatRate charges the same rate for every kWh.
type FlatRate struct {
	RatePerKWh float64
}

// Cost implements Tariff.
func (f FlatRate) Cost(energyKWh float64) float64 {
	return CostFor(energyKWh, f.RatePerKWh)
}

// CostFor returns energyKWh * rate.
func CostFor(energyKWh, rate float64) float64 {
	cost := decimal.NewFromFloat(energyKWh).Mul(decimal.NewFromFloat(rate)).Round(costPlaces)
	return cost.InexactFloat64()
}
