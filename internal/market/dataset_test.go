package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func bar(code string, date time.Time, close float64) PriceBar {
	return PriceBar{Code: code, Date: date, Open: close, High: close, Low: close, Close: close}
}

func TestBuildSortsAndIndexes(t *testing.T) {
	// deliberately unordered input
	bars := []PriceBar{
		bar("AAA", d(2023, 1, 4), 102),
		bar("AAA", d(2023, 1, 2), 100),
		bar("AAA", d(2023, 1, 3), 101),
		bar("BBB", d(2023, 1, 3), 50),
	}
	ds := Build([]Security{{Code: "AAA"}, {Code: "BBB"}}, bars, nil)

	days := ds.TradingDays(d(2023, 1, 1), d(2023, 1, 31))
	require.Len(t, days, 3)
	assert.Equal(t, "2023-01-02", DateKey(days[0]))
	assert.Equal(t, "2023-01-04", DateKey(days[2]))

	b, ok := ds.Bar("AAA", d(2023, 1, 3))
	require.True(t, ok)
	assert.InDelta(t, 101, b.Close, 1e-12)

	_, ok = ds.Bar("BBB", d(2023, 1, 2))
	assert.False(t, ok)
}

func TestHistoryEndsAtDate(t *testing.T) {
	bars := []PriceBar{
		bar("AAA", d(2023, 1, 2), 100),
		bar("AAA", d(2023, 1, 3), 101),
		bar("AAA", d(2023, 1, 4), 102),
	}
	ds := Build([]Security{{Code: "AAA"}}, bars, nil)

	h := ds.History("AAA", d(2023, 1, 3))
	require.Len(t, h, 2)
	assert.InDelta(t, 101, h[len(h)-1].Close, 1e-12)

	// a non-trading date falls back to the bars before it
	h = ds.History("AAA", d(2023, 1, 7))
	assert.Len(t, h, 3)

	assert.Empty(t, ds.History("AAA", d(2022, 12, 30)))
	assert.Empty(t, ds.History("GHOST", d(2023, 1, 3)))
}

func TestFinancialsSortedByReportDate(t *testing.T) {
	fins := []FinancialSnapshot{
		{Code: "AAA", FiscalYear: 2022, ReportDate: d(2023, 3, 15)},
		{Code: "AAA", FiscalYear: 2021, ReportDate: d(2022, 3, 15)},
	}
	ds := Build([]Security{{Code: "AAA"}}, nil, fins)

	got := ds.Financials("AAA")
	require.Len(t, got, 2)
	assert.Equal(t, 2021, got[0].FiscalYear)
	assert.Equal(t, 2022, got[1].FiscalYear)
}

func TestSecuritiesByTheme(t *testing.T) {
	ds := Build([]Security{
		{Code: "AAA", Themes: []string{"semiconductor"}},
		{Code: "BBB", Themes: []string{"battery", "semiconductor"}},
		{Code: "CCC", Themes: []string{"bank"}},
	}, nil, nil)

	codes := ds.SecuritiesByTheme([]string{"semiconductor"})
	assert.Equal(t, []string{"AAA", "BBB"}, codes)
}

func TestLoaderExtendsLookback(t *testing.T) {
	store := NewMemoryStore()
	store.AddSecurity(Security{Code: "AAA", Name: "Alpha"})
	store.AddBars(
		bar("AAA", d(2022, 12, 20), 95), // inside the extended window only
		bar("AAA", d(2023, 1, 2), 100),
	)

	loader := NewLoader(store, nil)
	ds, err := loader.Load(context.Background(), []string{"AAA"}, d(2023, 1, 1), d(2023, 1, 31), 30)
	require.NoError(t, err)

	// the december bar is present for trailing windows but outside the
	// run's trading days
	assert.Len(t, ds.History("AAA", d(2023, 1, 2)), 2)
	assert.Len(t, ds.TradingDays(d(2023, 1, 1), d(2023, 1, 31)), 1)
}

func TestLoaderResolveUniverse(t *testing.T) {
	store := NewMemoryStore()
	store.AddSecurity(Security{Code: "AAA", Themes: []string{"battery"}})
	store.AddSecurity(Security{Code: "BBB", Themes: []string{"bank"}})
	loader := NewLoader(store, nil)
	ctx := context.Background()

	codes, err := loader.ResolveUniverse(ctx, []string{"ZZZ"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ZZZ"}, codes)

	codes, err = loader.ResolveUniverse(ctx, nil, []string{"battery"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, codes)

	codes, err = loader.ResolveUniverse(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, codes)
}
