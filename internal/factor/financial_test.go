package factor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qback/internal/market"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func annual(code string, year int, reported time.Time, netIncome, revenue, equity float64) market.FinancialSnapshot {
	return market.FinancialSnapshot{
		Code: code, FiscalYear: year, FiscalQuarter: 4,
		ReportType: market.ReportAnnual,
		ReportDate: reported, PeriodEnd: date(year, 12, 31),
		NetIncome: netIncome, Revenue: revenue, Equity: equity,
		OperatingProfit: netIncome * 1.2, Assets: equity * 2,
		Liabilities: equity, CurrentAssets: equity,
		CurrentLiabilities: equity / 2, OperatingCashFlow: netIncome,
	}
}

func quarterly(code string, year, quarter int, reported time.Time, netIncome float64) market.FinancialSnapshot {
	return market.FinancialSnapshot{
		Code: code, FiscalYear: year, FiscalQuarter: quarter,
		ReportType: market.ReportQuarterly,
		ReportDate: reported, PeriodEnd: reported.AddDate(0, -1, 0),
		NetIncome:  netIncome, Revenue: netIncome * 10, Equity: netIncome * 5,
	}
}

func TestSelectFinancialsVisibility(t *testing.T) {
	fins := []market.FinancialSnapshot{
		annual("A", 2021, date(2022, 3, 15), 100, 1000, 500),
		annual("A", 2022, date(2023, 3, 15), 120, 1100, 600),
	}

	// before any report
	assert.Nil(t, selectFinancials(fins, date(2022, 1, 2)))

	// after first annual only
	sel := selectFinancials(fins, date(2022, 6, 1))
	require.NotNil(t, sel)
	assert.Equal(t, 2021, sel.latest.FiscalYear)
	assert.Nil(t, sel.prev)

	// after both: prev resolves one fiscal year back
	sel = selectFinancials(fins, date(2023, 6, 1))
	require.NotNil(t, sel)
	assert.Equal(t, 2022, sel.income.FiscalYear)
	require.NotNil(t, sel.prev)
	assert.Equal(t, 2021, sel.prev.FiscalYear)
}

func TestSelectFinancialsPrefersAnnualForIncome(t *testing.T) {
	fins := []market.FinancialSnapshot{
		annual("A", 2022, date(2023, 3, 15), 120, 1100, 600),
		quarterly("A", 2023, 1, date(2023, 5, 15), 40),
	}
	sel := selectFinancials(fins, date(2023, 6, 1))
	require.NotNil(t, sel)

	// the quarterly is latest, but income figures come from the annual
	assert.Equal(t, market.ReportQuarterly, sel.latest.ReportType)
	assert.Equal(t, market.ReportAnnual, sel.income.ReportType)
	assert.InDelta(t, 120, sel.income.NetIncome, 1e-12)
}

func TestSelectFinancialsGrowthReferences(t *testing.T) {
	fins := []market.FinancialSnapshot{
		annual("A", 2020, date(2021, 3, 15), 80, 800, 400),
		annual("A", 2021, date(2022, 3, 15), 100, 1000, 500),
		annual("A", 2022, date(2023, 3, 15), 120, 1100, 600),
	}
	sel := selectFinancials(fins, date(2023, 6, 1))
	require.NotNil(t, sel)
	require.NotNil(t, sel.prev2)
	assert.Equal(t, 2020, sel.prev2.FiscalYear)
}

func TestWithinSuppressesOutOfRange(t *testing.T) {
	assert.InDelta(t, 5, within(5, 0, 100), 1e-12)
	assert.True(t, math.IsNaN(within(150, 0, 100)))
	assert.True(t, math.IsNaN(within(-1, 0, 100)))
	assert.True(t, math.IsNaN(within(math.Inf(1), 0, 100)))
}

func TestPERFactor(t *testing.T) {
	fins := []market.FinancialSnapshot{
		annual("A", 2022, date(2023, 3, 15), 100, 1000, 500),
	}
	sel := selectFinancials(fins, date(2023, 6, 1))
	require.NotNil(t, sel)

	bar := market.PriceBar{Code: "A", MarketCap: 500, ListedShares: 100}
	assert.InDelta(t, 5, perFactor(sel, bar), 1e-12)

	// negative earnings suppress the ratio
	fins[0].NetIncome = -100
	sel = selectFinancials(fins, date(2023, 6, 1))
	assert.True(t, math.IsNaN(perFactor(sel, bar)))
}

func TestYoYGrowthAgainstNegativeBase(t *testing.T) {
	// a swing from -50 to 100 is growth of 3x against the absolute base
	assert.InDelta(t, 3, yoyGrowth(100, -50), 1e-12)
	assert.True(t, math.IsNaN(yoyGrowth(100, 0)))
}

func TestPEGFactor(t *testing.T) {
	fins := []market.FinancialSnapshot{
		annual("A", 2021, date(2022, 3, 15), 100, 1000, 500),
		annual("A", 2022, date(2023, 3, 15), 120, 1100, 600),
	}
	sel := selectFinancials(fins, date(2023, 6, 1))
	require.NotNil(t, sel)

	bar := market.PriceBar{Code: "A", MarketCap: 1200, ListedShares: 100}
	// PER = 1200/120 = 10, growth = 20% -> PEG = 10/20 = 0.5
	assert.InDelta(t, 0.5, pegFactor(sel, bar), 1e-12)
}
