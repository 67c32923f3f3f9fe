package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qback/internal/config"
	"qback/internal/errors"
	"qback/internal/factor"
	"qback/internal/market"
	"qback/internal/store"
	"qback/internal/strategy"
	"qback/internal/types"
)

func engineConfig() config.BacktestConfig {
	return config.BacktestConfig{
		Workers:          2,
		ChunkDays:        10,
		ProgressInterval: time.Millisecond,
		RiskFreeRate:     0.02,
		SnapshotRetries:  1,
	}
}

// weekdayRange returns the weekdays in [from, to]
func weekdayRange(from, to time.Time) []time.Time {
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return days
}

// flatBars builds bars at a constant close; closes overrides specific dates
func flatBars(code string, days []time.Time, base float64, closes map[string]float64) []market.PriceBar {
	bars := make([]market.PriceBar, 0, len(days))
	for _, d := range days {
		c := base
		if v, ok := closes[market.DateKey(d)]; ok {
			c = v
		}
		bars = append(bars, market.PriceBar{
			Code: code, Date: d,
			Open: c, High: c, Low: c, Close: c,
			Volume: 10_000, Value: c * 10_000, MarketCap: 500, ListedShares: 1_000,
		})
	}
	return bars
}

func annualReport(code string, netIncome float64) market.FinancialSnapshot {
	return market.FinancialSnapshot{
		Code: code, FiscalYear: 2021, FiscalQuarter: 4,
		ReportType: market.ReportAnnual,
		ReportDate: time.Date(2022, 3, 15, 0, 0, 0, 0, time.UTC),
		PeriodEnd:  time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC),
		NetIncome:  netIncome, Revenue: netIncome * 10, Equity: netIncome * 5,
		Assets: netIncome * 10, Liabilities: netIncome * 5,
	}
}

func baseStrategy(start, end string) *strategy.Strategy {
	return &strategy.Strategy{
		Name:           "test",
		InitialCapital: 1_000_000,
		StartDate:      start,
		EndDate:        end,
		Universe:       strategy.Universe{Type: "list", Codes: []string{"AAA", "BBB"}},
		MaxPositions:   2,
		Rebalance:      strategy.RebalanceMonthly,
		Sizing:         strategy.SizeEqualWeight,
	}
}

func newTestEngine(t *testing.T, data *market.Dataset, strat *strategy.Strategy, universe []string, results ResultStore) *Engine {
	t.Helper()
	require.NoError(t, strat.Validate())
	factors := factor.NewEngine(data, nil, nil, nil, engineConfig())
	engine, err := New(data, factors, strat, universe, results, nil, nil, engineConfig())
	require.NoError(t, err)
	return engine
}

func TestRunValueScreenBuyAndHold(t *testing.T) {
	days := weekdayRange(
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC))

	// AAA trades at PER 5, BBB at PER 100: only AAA passes the screen
	bars := append(
		flatBars("AAA", days, 100, nil),
		flatBars("BBB", days, 100, nil)...)
	fins := []market.FinancialSnapshot{
		annualReport("AAA", 100),
		annualReport("BBB", 5),
	}
	data := market.Build([]market.Security{
		{Code: "AAA", Name: "Alpha"}, {Code: "BBB", Name: "Beta"},
	}, bars, fins)

	strat := baseStrategy("2023-01-02", "2023-03-31")
	strat.Screening = []strategy.ScreeningRule{
		{Factor: "PER", Op: strategy.ScreenLT, Value: 10},
	}

	results := store.NewMemoryStore()
	engine := newTestEngine(t, data, strat, []string{"AAA", "BBB"}, results)

	res, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusCompleted, res.Status)
	assert.Len(t, res.Snapshots, len(days))

	// one entry on the first rebalance day, one final liquidation, no BBB
	require.Len(t, res.Executions, 2)
	buy, sell := res.Executions[0], res.Executions[1]
	assert.Equal(t, "AAA", buy.Code)
	assert.Equal(t, types.OrderSideBuy, buy.Side)
	assert.Equal(t, types.ReasonEntry, buy.Reason)
	assert.Equal(t, "2023-01-02", market.DateKey(buy.Date))
	assert.Equal(t, int64(9_500), buy.Quantity) // 950,000 / 100

	assert.Equal(t, "AAA", sell.Code)
	assert.Equal(t, types.ReasonFinalLiquidation, sell.Reason)
	assert.Equal(t, "2023-03-31", market.DateKey(sell.Date))

	// flat prices and zero costs return the initial capital exactly
	assert.InDelta(t, 1_000_000, res.Statistics.FinalValue, 1e-6)
	assert.InDelta(t, 0, res.Statistics.TotalReturn, 1e-9)
	assert.Equal(t, 1, res.Statistics.TotalTrades)

	// every snapshot keeps the cash + invested identity
	for _, snap := range res.Snapshots {
		assert.InDelta(t, snap.PortfolioValue, snap.Cash+snap.InvestedAmount, 1e-6,
			"snapshot %s", market.DateKey(snap.Date))
	}

	last, ok := results.LastProgress()
	require.True(t, ok)
	assert.Equal(t, types.RunStatusCompleted, last.Status)
	assert.InDelta(t, 100, last.Percent, 1e-9)
}

func TestRunStopLossFiresOnMarkedPrice(t *testing.T) {
	days := weekdayRange(
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 6, 0, 0, 0, 0, time.UTC))

	bars := flatBars("AAA", days, 100, map[string]float64{
		"2023-01-03": 85, // -15% against the 100 entry
		"2023-01-04": 85,
		"2023-01-05": 85,
		"2023-01-06": 85,
	})
	data := market.Build([]market.Security{{Code: "AAA", Name: "Alpha"}}, bars, nil)

	stop := 10.0
	strat := baseStrategy("2023-01-02", "2023-01-06")
	strat.Universe.Codes = []string{"AAA"}
	strat.Screening = []strategy.ScreeningRule{
		{Factor: "CLOSE", Op: strategy.ScreenGT, Value: 0},
	}
	strat.Sell.StopLoss = &stop

	engine := newTestEngine(t, data, strat, []string{"AAA"}, store.NewMemoryStore())
	res, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Executions, 2)
	sell := res.Executions[1]
	assert.Equal(t, types.OrderSideSell, sell.Side)
	assert.Equal(t, types.ReasonStopLoss, sell.Reason)
	// the exit fills the same day the mark crosses the threshold
	assert.Equal(t, "2023-01-03", market.DateKey(sell.Date))
	assert.InDelta(t, 85, sell.Price, 1e-9)
	assert.Negative(t, sell.RealizedPnL)

	assert.Equal(t, 1, res.Statistics.LosingTrades)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, types.ReasonStopLoss, res.Closed[0].Reason)
}

func TestRunConditionSellUsesPriceOffset(t *testing.T) {
	days := weekdayRange(
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 6, 0, 0, 0, 0, time.UTC))

	bars := flatBars("AAA", days, 100, map[string]float64{
		"2023-01-04": 90,
		"2023-01-05": 90,
		"2023-01-06": 90,
	})
	data := market.Build([]market.Security{{Code: "AAA", Name: "Alpha"}}, bars, nil)

	strat := baseStrategy("2023-01-02", "2023-01-06")
	strat.Universe.Codes = []string{"AAA"}
	strat.Screening = []strategy.ScreeningRule{
		{Factor: "CLOSE", Op: strategy.ScreenGT, Value: 0},
	}
	strat.Sell.Expression = "weak"
	strat.Sell.Conditions = map[string]strategy.Condition{
		"weak": {Factor: "CLOSE", Op: "<", Threshold: 95, Kind: strategy.KindComparison},
	}
	strat.Sell.PriceOffset = -1 // fill one percent under the slipped close

	engine := newTestEngine(t, data, strat, []string{"AAA"}, store.NewMemoryStore())
	res, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Executions, 2)
	sell := res.Executions[1]
	assert.Equal(t, types.ReasonConditionSell, sell.Reason)
	assert.Equal(t, "2023-01-04", market.DateKey(sell.Date))
	assert.InDelta(t, 90*0.99, sell.Price, 1e-9)
}

func TestRunNoTradingDays(t *testing.T) {
	// history exists only in 2022; the 2023 window has no trading days
	days := weekdayRange(
		time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 6, 30, 0, 0, 0, 0, time.UTC))
	bars := flatBars("AAA", days, 100, nil)
	data := market.Build([]market.Security{{Code: "AAA", Name: "Alpha"}}, bars, nil)

	strat := baseStrategy("2023-01-02", "2023-01-31")
	strat.Universe.Codes = []string{"AAA"}

	results := store.NewMemoryStore()
	engine := newTestEngine(t, data, strat, []string{"AAA"}, results)

	res, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.RunStatusNoData, res.Status)

	last, ok := results.LastProgress()
	require.True(t, ok)
	assert.Equal(t, types.RunStatusNoData, last.Status)
}

func TestRunCancelledBeforeFirstDay(t *testing.T) {
	days := weekdayRange(
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC))
	bars := flatBars("AAA", days, 100, nil)
	data := market.Build([]market.Security{{Code: "AAA", Name: "Alpha"}}, bars, nil)

	strat := baseStrategy("2023-01-02", "2023-01-31")
	strat.Universe.Codes = []string{"AAA"}

	engine := newTestEngine(t, data, strat, []string{"AAA"}, store.NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := engine.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, types.RunStatusFailed, res.Status)
	assert.Empty(t, res.Snapshots)

	// cancellation is reported as such wherever it surfaces, never as an
	// internal failure
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrCodeCancelled, appErr.Code)
}

func TestRunMaxPositionsZeroCompletes(t *testing.T) {
	days := weekdayRange(
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC))
	bars := flatBars("AAA", days, 100, nil)
	data := market.Build([]market.Security{{Code: "AAA", Name: "Alpha"}}, bars, nil)

	strat := baseStrategy("2023-01-02", "2023-01-31")
	strat.Universe.Codes = []string{"AAA"}
	strat.MaxPositions = 0
	strat.Screening = []strategy.ScreeningRule{
		{Factor: "CLOSE", Op: strategy.ScreenGT, Value: 0},
	}

	engine := newTestEngine(t, data, strat, []string{"AAA"}, store.NewMemoryStore())
	res, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusCompleted, res.Status)
	assert.Empty(t, res.Orders)
	assert.Len(t, res.Snapshots, len(days))
	assert.InDelta(t, 1_000_000, res.Statistics.FinalValue, 1e-9)
}

func TestRunPersistFailureRollsBackDay(t *testing.T) {
	days := weekdayRange(
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 13, 0, 0, 0, 0, time.UTC))
	bars := flatBars("AAA", days, 100, nil)
	data := market.Build([]market.Security{{Code: "AAA", Name: "Alpha"}}, bars, nil)

	strat := baseStrategy("2023-01-02", "2023-01-13")
	strat.Universe.Codes = []string{"AAA"}
	strat.Screening = []strategy.ScreeningRule{
		{Factor: "CLOSE", Op: strategy.ScreenGT, Value: 0},
	}

	results := store.NewMemoryStore()
	// exhaust the single retry too, so 2023-01-05 is dropped entirely
	results.FailDays["2023-01-05"] = 2

	engine := newTestEngine(t, data, strat, []string{"AAA"}, results)
	res, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusCompleted, res.Status)
	assert.Len(t, res.Snapshots, len(days)-1)
	for _, snap := range res.Snapshots {
		assert.NotEqual(t, "2023-01-05", market.DateKey(snap.Date))
	}
	// the run still ends fully liquidated and balanced
	assert.InDelta(t, 1_000_000, res.Statistics.FinalValue, 1e-6)
}

func TestRunMaxHoldDaysExit(t *testing.T) {
	days := weekdayRange(
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC))
	bars := flatBars("AAA", days, 100, nil)
	data := market.Build([]market.Security{{Code: "AAA", Name: "Alpha"}}, bars, nil)

	strat := baseStrategy("2023-01-02", "2023-01-31")
	strat.Universe.Codes = []string{"AAA"}
	strat.Screening = []strategy.ScreeningRule{
		{Factor: "CLOSE", Op: strategy.ScreenGT, Value: 0},
	}
	strat.Sell.MaxHoldDays = 7

	engine := newTestEngine(t, data, strat, []string{"AAA"}, store.NewMemoryStore())
	res, err := engine.Run(context.Background())
	require.NoError(t, err)

	var holdExit *types.Execution
	for i := range res.Executions {
		if res.Executions[i].Reason == types.ReasonMaxHoldDays {
			holdExit = &res.Executions[i]
			break
		}
	}
	require.NotNil(t, holdExit, "expected a hold-day exit")
	// entry 2023-01-02: seven calendar days later is 2023-01-09
	assert.Equal(t, "2023-01-09", market.DateKey(holdExit.Date))
}
