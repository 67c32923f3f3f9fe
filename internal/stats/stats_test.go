package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qback/internal/types"
)

func snap(d time.Time, value float64) types.DailySnapshot {
	return types.DailySnapshot{RunID: "r", Date: d, PortfolioValue: value}
}

func sell(d time.Time, pnl float64) types.Execution {
	return types.Execution{
		RunID: "r", Side: types.OrderSideSell, Date: d,
		Quantity: 10, RealizedPnL: pnl,
	}
}

func TestComputeEmptySeriesIsZeroRecord(t *testing.T) {
	st := Compute("r", 1_000_000, 0.02, nil, nil)
	assert.Equal(t, "r", st.RunID)
	assert.InDelta(t, 1_000_000, st.InitialCapital, 1e-9)
	assert.Zero(t, st.FinalValue)
	assert.Zero(t, st.TotalReturn)
	assert.Zero(t, st.SharpeRatio)
	assert.Zero(t, st.TotalTrades)
}

func TestComputeReturnsAndDrawdown(t *testing.T) {
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	snaps := []types.DailySnapshot{
		snap(base, 1_000_000),
		snap(base.AddDate(0, 0, 1), 1_100_000),
		snap(base.AddDate(0, 0, 2), 990_000), // 10% off the 1.1M peak
		snap(base.AddDate(0, 0, 3), 1_200_000),
	}
	st := Compute("r", 1_000_000, 0.02, snaps, nil)

	assert.InDelta(t, 0.2, st.TotalReturn, 1e-12)
	assert.InDelta(t, 0.1, st.MaxDrawdown, 1e-12)
	assert.InDelta(t, 1_200_000, st.FinalValue, 1e-9)
	assert.Positive(t, st.Volatility)
	assert.Positive(t, st.CalmarRatio)
}

func TestComputeAnnualizedReturnByElapsedYears(t *testing.T) {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(2, 0, 0) // exactly two years give sqrt compounding
	snaps := []types.DailySnapshot{
		snap(start, 1_000_000),
		snap(end, 1_440_000),
	}
	st := Compute("r", 1_000_000, 0.02, snaps, nil)
	assert.InDelta(t, 0.2, st.AnnualizedReturn, 1e-3)
}

func TestComputeTradeStatsFromSellsOnly(t *testing.T) {
	base := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	execs := []types.Execution{
		{RunID: "r", Side: types.OrderSideBuy, Date: base, Quantity: 10},
		sell(base.AddDate(0, 0, 1), 500),
		sell(base.AddDate(0, 0, 2), 300),
		sell(base.AddDate(0, 0, 3), -400),
		sell(base.AddDate(0, 0, 4), 0),
	}
	snaps := []types.DailySnapshot{snap(base, 1_000_000), snap(base.AddDate(0, 0, 5), 1_000_400)}
	st := Compute("r", 1_000_000, 0.02, snaps, execs)

	assert.Equal(t, 4, st.TotalTrades)
	assert.Equal(t, 2, st.WinningTrades)
	assert.Equal(t, 1, st.LosingTrades)
	assert.InDelta(t, 0.5, st.WinRate, 1e-12)
	assert.InDelta(t, 400, st.AvgWin, 1e-12)
	assert.InDelta(t, 400, st.AvgLoss, 1e-12)
	assert.InDelta(t, 2, st.ProfitFactor, 1e-12)
}

func TestDownsideDeviationIgnoresGains(t *testing.T) {
	assert.InDelta(t,
		math.Sqrt((0.01*0.01+0.02*0.02)/4),
		downsideDeviation([]float64{0.05, -0.01, 0.03, -0.02}),
		1e-12)
	assert.Zero(t, downsideDeviation([]float64{0.01, 0.02}))
}

func TestPeriodReturnsChain(t *testing.T) {
	jan := time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)
	snaps := []types.DailySnapshot{
		snap(jan.AddDate(0, 0, -10), 1_050_000),
		snap(jan, 1_100_000),
		snap(feb, 990_000),
	}
	periods := PeriodReturns("r", 1_000_000, snaps, nil)

	byKey := map[string]types.PeriodReturn{}
	for _, p := range periods {
		byKey[p.Period] = p
	}

	janRoll := byKey["2023-01"]
	assert.InDelta(t, 1_000_000, janRoll.StartValue, 1e-9)
	assert.InDelta(t, 1_100_000, janRoll.EndValue, 1e-9)
	assert.InDelta(t, 0.10, janRoll.Return, 1e-12)

	febRoll := byKey["2023-02"]
	assert.InDelta(t, 1_100_000, febRoll.StartValue, 1e-9)
	assert.InDelta(t, -0.10, febRoll.Return, 1e-12)

	year := byKey["2023"]
	assert.InDelta(t, 1_000_000, year.StartValue, 1e-9)
	assert.InDelta(t, 990_000, year.EndValue, 1e-9)
}

func TestPeriodReturnsCountsTrades(t *testing.T) {
	jan := time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC)
	snaps := []types.DailySnapshot{snap(jan, 1_000_000)}
	execs := []types.Execution{
		{RunID: "r", Side: types.OrderSideBuy, Date: jan, Quantity: 10},
		sell(jan, 100),
		sell(jan, -50),
	}
	periods := PeriodReturns("r", 1_000_000, snaps, execs)
	require.NotEmpty(t, periods)

	var monthly types.PeriodReturn
	for _, p := range periods {
		if p.Period == "2023-01" {
			monthly = p
		}
	}
	assert.Equal(t, 1, monthly.BuyCount)
	assert.Equal(t, 2, monthly.SellCount)
	assert.InDelta(t, 0.5, monthly.WinRate, 1e-12)
}
