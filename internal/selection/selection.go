// Package selection implements candidate screening, ranking and position
// sizing for the rebalance step.
package selection

import (
	"math"
	"sort"

	"qback/internal/factor"
	"qback/internal/strategy"
)

// Screen keeps the codes passing every screening rule for the date.
// Securities with no factor values that day are dropped.
func Screen(codes []string, values factor.SecurityValues, rules []strategy.ScreeningRule) []string {
	var out []string
	for _, code := range codes {
		vals, ok := values[code]
		if !ok {
			continue
		}
		passed := true
		for _, rule := range rules {
			if !rule.Passes(vals) {
				passed = false
				break
			}
		}
		if passed {
			out = append(out, code)
		}
	}
	return out
}

// Rank orders the screened codes best-first. A configured composite (scoring
// rules) wins over the single priority factor; with neither, codes are
// returned in stable code order.
func Rank(codes []string, values factor.SecurityValues, strat *strategy.Strategy) []string {
	ranked := append([]string(nil), codes...)
	sort.Strings(ranked)

	switch {
	case len(strat.Scoring) > 0:
		scores := compositeScores(ranked, values, strat.Scoring)
		sort.SliceStable(ranked, func(i, j int) bool {
			return scores[ranked[i]] > scores[ranked[j]]
		})
	case strat.PriorityFactor != "":
		rankByFactor(ranked, values, strat.PriorityFactor, strat.PriorityOrder == "asc")
	}
	return ranked
}

// compositeScores combines the scoring factors into a weighted sum of
// direction-adjusted cross-sectional percentile ranks. A missing value
// contributes the worst percentile.
func compositeScores(codes []string, values factor.SecurityValues, rules []strategy.ScoringRule) map[string]float64 {
	scores := make(map[string]float64, len(codes))
	totalWeight := 0.0
	for _, rule := range rules {
		weight := rule.Weight
		if weight == 0 {
			weight = 1.0
		}
		totalWeight += weight

		lowerIsBetter := factor.PolarityOf(rule.Factor) == factor.LowerIsBetter
		for code, pct := range percentileRanks(codes, values, rule.Factor, lowerIsBetter) {
			scores[code] += pct * weight
		}
	}
	if totalWeight > 0 {
		for code := range scores {
			scores[code] /= totalWeight
		}
	}
	return scores
}

// percentileRanks returns each code's direction-adjusted rank percentile for
// one factor, scaled to (0,1] with 1 = best. NaN and missing values pin to 0,
// strictly below every present value, whatever the direction.
func percentileRanks(codes []string, values factor.SecurityValues, name string, lowerIsBetter bool) map[string]float64 {
	type entry struct {
		code  string
		value float64
	}
	var present []entry
	out := make(map[string]float64, len(codes))
	for _, code := range codes {
		v := math.NaN()
		if vals, ok := values[code]; ok {
			if fv, ok := vals[name]; ok {
				v = fv
			}
		}
		if math.IsNaN(v) {
			out[code] = 0
			continue
		}
		present = append(present, entry{code: code, value: v})
	}
	sort.Slice(present, func(i, j int) bool { return present[i].value < present[j].value })
	n := len(present)
	for i, e := range present {
		rank := i + 1
		if lowerIsBetter {
			rank = n - i
		}
		out[e.code] = float64(rank) / float64(n)
	}
	return out
}

// rankByFactor sorts codes in place by one factor's raw value.
// NaN values always sort last, whatever the direction.
func rankByFactor(codes []string, values factor.SecurityValues, name string, ascending bool) {
	value := func(code string) float64 {
		if vals, ok := values[code]; ok {
			if v, ok := vals[name]; ok {
				return v
			}
		}
		return math.NaN()
	}
	sort.SliceStable(codes, func(i, j int) bool {
		vi, vj := value(codes[i]), value(codes[j])
		ni, nj := math.IsNaN(vi), math.IsNaN(vj)
		if ni || nj {
			return !ni && nj
		}
		if ascending {
			return vi < vj
		}
		return vi > vj
	})
}
