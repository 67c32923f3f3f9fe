package factor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qback/internal/cache"
	"qback/internal/config"
	"qback/internal/market"
)

func testConfig() config.BacktestConfig {
	return config.BacktestConfig{
		Workers:   2,
		ChunkDays: 5,
		CacheTTL:  time.Minute,
	}
}

func buildDataset(t *testing.T, bars []market.PriceBar, fins []market.FinancialSnapshot) *market.Dataset {
	t.Helper()
	securities := map[string]market.Security{}
	for _, b := range bars {
		securities[b.Code] = market.Security{Code: b.Code, Name: b.Code}
	}
	secs := make([]market.Security, 0, len(securities))
	for _, s := range securities {
		secs = append(secs, s)
	}
	return market.Build(secs, bars, fins)
}

func TestComputeRangeParallelMatchesSequential(t *testing.T) {
	bars := append(barSeries("A", seq(100, 80)...), barSeries("B", seq(50, 80)...)...)
	data := buildDataset(t, bars, nil)
	days := data.TradingDays(date(2023, 1, 2), date(2023, 12, 31))
	require.NotEmpty(t, days)

	universe := []string{"A", "B"}
	names := []string{"MOMENTUM_1M", "MA_20", "CLOSE"}

	parallel := NewEngine(data, nil, nil, nil, testConfig())
	table, err := parallel.ComputeRange(context.Background(), days, universe, names)
	require.NoError(t, err)
	assert.Len(t, table, len(days))

	serialCfg := testConfig()
	serialCfg.Workers = 1
	serial := NewEngine(data, nil, nil, nil, serialCfg)

	for _, day := range days {
		expect := serial.ComputeDate(day, universe, names)
		got := table[market.DateKey(day)]
		require.Len(t, got, len(expect), "date %s", market.DateKey(day))
		for code, vals := range expect {
			for name, want := range vals {
				gotVal := got[code][name]
				if math.IsNaN(want) {
					assert.True(t, math.IsNaN(gotVal), "%s %s %s", market.DateKey(day), code, name)
				} else {
					assert.InDelta(t, want, gotVal, 1e-12, "%s %s %s", market.DateKey(day), code, name)
				}
			}
		}
	}
}

func TestComputeRangeCacheRoundTrip(t *testing.T) {
	bars := barSeries("A", seq(100, 70)...)
	data := buildDataset(t, bars, nil)
	days := data.TradingDays(date(2023, 1, 2), date(2023, 12, 31))

	mem := cache.NewMemoryCache(1024)
	defer mem.Close()

	universe := []string{"A"}
	names := []string{"MOMENTUM_3M", "CLOSE"}

	first := NewEngine(data, mem, nil, nil, testConfig())
	t1, err := first.ComputeRange(context.Background(), days, universe, names)
	require.NoError(t, err)

	// a fresh engine over the same cache must serve identical values,
	// NaN round-tripping included
	second := NewEngine(data, mem, nil, nil, testConfig())
	t2, err := second.ComputeRange(context.Background(), days, universe, names)
	require.NoError(t, err)

	require.Len(t, t2, len(t1))
	for key, sv := range t1 {
		for code, vals := range sv {
			for name, want := range vals {
				gotVal := t2[key][code][name]
				if math.IsNaN(want) {
					assert.True(t, math.IsNaN(gotVal), "%s %s %s", key, code, name)
				} else {
					assert.InDelta(t, want, gotVal, 1e-12, "%s %s %s", key, code, name)
				}
			}
		}
	}
}

func TestComputeDateSkipsUntradedSecurities(t *testing.T) {
	bars := barSeries("A", 100, 101, 102)
	data := buildDataset(t, bars, nil)
	days := data.TradingDays(date(2023, 1, 2), date(2023, 1, 31))
	require.Len(t, days, 3)

	engine := NewEngine(data, nil, nil, nil, testConfig())
	values := engine.ComputeDate(days[0], []string{"A", "GHOST"}, []string{"CLOSE"})

	assert.Contains(t, values, "A")
	assert.NotContains(t, values, "GHOST")
	assert.InDelta(t, 100, values["A"]["CLOSE"], 1e-12)
}

func TestComputeDateUnknownFactorIgnored(t *testing.T) {
	bars := barSeries("A", 100, 101)
	data := buildDataset(t, bars, nil)
	days := data.TradingDays(date(2023, 1, 2), date(2023, 1, 31))

	engine := NewEngine(data, nil, nil, nil, testConfig())
	values := engine.ComputeDate(days[0], []string{"A"}, []string{"CLOSE", "BOGUS"})

	assert.Contains(t, values["A"], "CLOSE")
	assert.NotContains(t, values["A"], "BOGUS")
}

func TestFinancialFactorBeforeFirstReportIsNaN(t *testing.T) {
	bars := barSeries("A", seq(100, 10)...)
	// market cap in barSeries is close*1e6, so earnings of 1e7 keep PER
	// inside the sane range
	fins := []market.FinancialSnapshot{
		annual("A", 2022, date(2023, 1, 10), 1e7, 1e8, 5e7),
	}
	data := buildDataset(t, bars, fins)
	days := data.TradingDays(date(2023, 1, 2), date(2023, 12, 31))

	engine := NewEngine(data, nil, nil, nil, testConfig())
	table, err := engine.ComputeRange(context.Background(), days, []string{"A"}, []string{"PER"})
	require.NoError(t, err)

	// report published 2023-01-10: earlier dates are NaN, later ones are not
	assert.True(t, math.IsNaN(table.Value(days[0], "A", "PER")))
	assert.False(t, math.IsNaN(table.Value(days[len(days)-1], "A", "PER")))
}

func TestFinSelectionAtPicksLatestEpoch(t *testing.T) {
	bars := barSeries("A", seq(100, 10)...)
	fins := []market.FinancialSnapshot{
		annual("A", 2021, date(2022, 3, 15), 1e7, 1e8, 5e7),
		annual("A", 2022, date(2023, 3, 15), 2e7, 1.1e8, 6e7),
	}
	data := buildDataset(t, bars, fins)

	engine := NewEngine(data, nil, nil, nil, testConfig())
	engine.buildFinIndex([]string{"A"}, nil)

	assert.Nil(t, engine.finSelectionAt("A", date(2022, 3, 14)))

	sel := engine.finSelectionAt("A", date(2022, 3, 15))
	require.NotNil(t, sel)
	assert.Equal(t, 2021, sel.latest.FiscalYear)

	sel = engine.finSelectionAt("A", date(2023, 6, 1))
	require.NotNil(t, sel)
	assert.Equal(t, 2022, sel.latest.FiscalYear)
}

func seq(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}
