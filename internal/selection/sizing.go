package selection

import (
	"math"

	"qback/internal/factor"
	"qback/internal/strategy"
)

// equalWeightReserve keeps a cash buffer when splitting evenly
const equalWeightReserve = 0.95

// Allocation is the cash amount assigned to one buy candidate
type Allocation struct {
	Code   string
	Amount float64
}

// Size computes the buy allocation per candidate using the strategy's sizing
// method, then clips by the per-stock ratio cap and absolute max buy value.
// Candidates whose sizing input (market cap, volatility) is unusable are
// skipped rather than failing the batch.
func Size(candidates []string, cash, portfolioValue float64, values factor.SecurityValues, strat *strategy.Strategy) []Allocation {
	if len(candidates) == 0 || cash <= 0 {
		return nil
	}

	var allocations []Allocation
	switch strat.Sizing {
	case strategy.SizeMarketCap:
		allocations = sizeProportional(candidates, cash, values, "MARKET_CAP", false)
	case strategy.SizeRiskParity:
		allocations = sizeProportional(candidates, cash, values, strat.RiskFactorOrDefault(), true)
	default: // EQUAL_WEIGHT
		per := cash * equalWeightReserve / float64(len(candidates))
		for _, code := range candidates {
			allocations = append(allocations, Allocation{Code: code, Amount: per})
		}
	}

	return clip(allocations, portfolioValue, strat)
}

// sizeProportional allocates cash proportionally to a factor (or to its
// inverse for risk parity)
func sizeProportional(candidates []string, cash float64, values factor.SecurityValues, name string, inverse bool) []Allocation {
	weights := make(map[string]float64, len(candidates))
	total := 0.0
	for _, code := range candidates {
		vals, ok := values[code]
		if !ok {
			continue
		}
		v, ok := vals[name]
		if !ok || math.IsNaN(v) || v <= 0 {
			continue
		}
		w := v
		if inverse {
			w = 1 / v
		}
		weights[code] = w
		total += w
	}
	if total <= 0 {
		return nil
	}
	var allocations []Allocation
	for _, code := range candidates {
		w, ok := weights[code]
		if !ok {
			continue
		}
		allocations = append(allocations, Allocation{Code: code, Amount: cash * w / total})
	}
	return allocations
}

func clip(allocations []Allocation, portfolioValue float64, strat *strategy.Strategy) []Allocation {
	out := allocations[:0]
	for _, a := range allocations {
		if strat.PerStockRatio > 0 {
			if cap := portfolioValue * strat.PerStockRatio; a.Amount > cap {
				a.Amount = cap
			}
		}
		if strat.MaxBuyValue > 0 && a.Amount > strat.MaxBuyValue {
			a.Amount = strat.MaxBuyValue
		}
		if a.Amount > 0 {
			out = append(out, a)
		}
	}
	return out
}
