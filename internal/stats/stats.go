// Package stats derives the write-once performance record of a run from its
// daily snapshot series and executions.
package stats

import (
	"math"
	"sort"

	"qback/internal/types"
)

const tradingDaysPerYear = 252

// Compute derives the full statistics record. An empty snapshot series
// returns an all-zero record rather than an error.
func Compute(runID string, initialCapital, riskFreeRate float64, snapshots []types.DailySnapshot, execs []types.Execution) types.RunStatistics {
	st := types.RunStatistics{RunID: runID, InitialCapital: initialCapital}
	if len(snapshots) == 0 {
		return st
	}

	first := snapshots[0]
	last := snapshots[len(snapshots)-1]
	st.StartDate = first.Date
	st.EndDate = last.Date
	st.FinalValue = last.PortfolioValue
	st.TotalCommission = last.TotalCommission
	st.TotalTax = last.TotalTax

	if initialCapital > 0 {
		st.TotalReturn = st.FinalValue/initialCapital - 1
	}

	years := last.Date.Sub(first.Date).Hours() / 24 / 365
	if years > 0 && initialCapital > 0 && st.FinalValue > 0 {
		st.AnnualizedReturn = math.Pow(st.FinalValue/initialCapital, 1/years) - 1
	}

	daily := dailyReturns(snapshots)
	st.Volatility = stdev(daily) * math.Sqrt(tradingDaysPerYear)
	st.MaxDrawdown = maxDrawdown(snapshots)

	if st.Volatility > 0 {
		st.SharpeRatio = (st.AnnualizedReturn - riskFreeRate) / st.Volatility
	}
	if down := downsideDeviation(daily) * math.Sqrt(tradingDaysPerYear); down > 0 {
		st.SortinoRatio = (st.AnnualizedReturn - riskFreeRate) / down
	}
	if st.MaxDrawdown > 0 {
		st.CalmarRatio = st.AnnualizedReturn / st.MaxDrawdown
	}

	fillTradeStats(&st, execs)
	return st
}

// dailyReturns recomputes close-to-close portfolio returns from the series
// so gaps from skipped days do not poison the carried DailyReturn column
func dailyReturns(snapshots []types.DailySnapshot) []float64 {
	out := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].PortfolioValue
		if prev > 0 {
			out = append(out, snapshots[i].PortfolioValue/prev-1)
		}
	}
	return out
}

func maxDrawdown(snapshots []types.DailySnapshot) float64 {
	peak := snapshots[0].PortfolioValue
	maxDD := 0.0
	for _, s := range snapshots {
		if s.PortfolioValue > peak {
			peak = s.PortfolioValue
		}
		if peak > 0 {
			if dd := (peak - s.PortfolioValue) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// fillTradeStats computes win/loss statistics from sell executions only;
// buys realize nothing
func fillTradeStats(st *types.RunStatistics, execs []types.Execution) {
	var winSum, lossSum float64
	for _, ex := range execs {
		if ex.Side != types.OrderSideSell {
			continue
		}
		st.TotalTrades++
		if ex.RealizedPnL > 0 {
			st.WinningTrades++
			winSum += ex.RealizedPnL
		} else if ex.RealizedPnL < 0 {
			st.LosingTrades++
			lossSum += -ex.RealizedPnL
		}
	}
	if st.TotalTrades > 0 {
		st.WinRate = float64(st.WinningTrades) / float64(st.TotalTrades)
	}
	if st.WinningTrades > 0 {
		st.AvgWin = winSum / float64(st.WinningTrades)
	}
	if st.LosingTrades > 0 {
		st.AvgLoss = lossSum / float64(st.LosingTrades)
	}
	if lossSum > 0 {
		st.ProfitFactor = winSum / lossSum
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// downsideDeviation measures dispersion of negative daily returns only,
// against a zero target
func downsideDeviation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		if x < 0 {
			sum += x * x
		}
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// PeriodReturns rolls the snapshot series up into calendar months and years.
// Each period's start value is the prior period's end, so period returns
// chain back to the total.
func PeriodReturns(runID string, initialCapital float64, snapshots []types.DailySnapshot, execs []types.Execution) []types.PeriodReturn {
	if len(snapshots) == 0 {
		return nil
	}
	months := rollup(runID, initialCapital, snapshots, execs, "2006-01")
	years := rollup(runID, initialCapital, snapshots, execs, "2006")
	return append(months, years...)
}

func rollup(runID string, initialCapital float64, snapshots []types.DailySnapshot, execs []types.Execution, layout string) []types.PeriodReturn {
	byPeriod := make(map[string]*types.PeriodReturn)
	var order []string

	startValue := initialCapital
	for _, s := range snapshots {
		key := s.Date.Format(layout)
		pr, ok := byPeriod[key]
		if !ok {
			pr = &types.PeriodReturn{RunID: runID, Period: key, StartValue: startValue}
			byPeriod[key] = pr
			order = append(order, key)
		}
		pr.EndValue = s.PortfolioValue
		startValue = s.PortfolioValue
	}

	wins := make(map[string]int)
	for _, ex := range execs {
		if ex.Side != types.OrderSideSell {
			continue
		}
		key := ex.Date.Format(layout)
		if pr, ok := byPeriod[key]; ok {
			pr.SellCount++
			if ex.RealizedPnL > 0 {
				wins[key]++
			}
		}
	}
	for _, ex := range execs {
		if ex.Side != types.OrderSideBuy {
			continue
		}
		if pr, ok := byPeriod[ex.Date.Format(layout)]; ok {
			pr.BuyCount++
		}
	}

	out := make([]types.PeriodReturn, 0, len(order))
	sort.Strings(order)
	for _, key := range order {
		pr := byPeriod[key]
		if pr.StartValue > 0 {
			pr.Return = pr.EndValue/pr.StartValue - 1
		}
		if pr.SellCount > 0 {
			pr.WinRate = float64(wins[key]) / float64(pr.SellCount)
		}
		out = append(out, *pr)
	}
	return out
}
