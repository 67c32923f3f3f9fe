package factor

import (
	"math"
	"time"

	"qback/internal/market"
)

// FinancialFunc computes a statement-derived factor from the snapshot
// selection for the evaluation date and that day's price bar
type FinancialFunc func(sel *finSelection, bar market.PriceBar) float64

// finSelection is the set of statements relevant at one evaluation date:
// the latest report, the annual-preferred income reference and the prior
// periods needed for growth factors. Built once per (security, report epoch)
// and broadcast across dates rather than recomputed per date.
type finSelection struct {
	latest *market.FinancialSnapshot // latest report_date <= date, any type
	income *market.FinancialSnapshot // annual preferred for income figures
	prev   *market.FinancialSnapshot // income reference one fiscal year back
	prev2  *market.FinancialSnapshot // income reference two fiscal years back
}

// selectFinancials picks the statements visible at date. Returns nil when no
// report has been published yet.
func selectFinancials(fins []market.FinancialSnapshot, date time.Time) *finSelection {
	var latest, annual *market.FinancialSnapshot
	for i := range fins {
		f := &fins[i]
		if f.ReportDate.After(date) {
			break
		}
		latest = f
		if f.ReportType == market.ReportAnnual {
			annual = f
		}
	}
	if latest == nil {
		return nil
	}

	income := annual
	if income == nil {
		income = latest
	}

	sel := &finSelection{latest: latest, income: income}
	for i := range fins {
		f := &fins[i]
		if f.ReportDate.After(date) {
			break
		}
		if f.ReportType != income.ReportType || f.FiscalQuarter != income.FiscalQuarter {
			continue
		}
		switch income.FiscalYear - f.FiscalYear {
		case 1:
			sel.prev = f
		case 2:
			sel.prev2 = f
		}
	}
	return sel
}

// within returns v when inside [lo, hi], otherwise NaN. Out-of-sane-range
// results are treated as data errors and suppressed.
func within(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
		return nan
	}
	return v
}

// ratio divides, yielding NaN on a non-positive denominator
func ratio(num, den float64) float64 {
	if den <= 0 {
		return nan
	}
	return num / den
}

func perFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(bar.MarketCap, sel.income.NetIncome), 0, 100)
}

func pbrFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(bar.MarketCap, sel.latest.Equity), 0, 20)
}

func psrFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(bar.MarketCap, sel.income.Revenue), 0, 20)
}

func pcrFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(bar.MarketCap, sel.income.OperatingCashFlow), 0, 100)
}

func epsFactor(sel *finSelection, bar market.PriceBar) float64 {
	return ratio(sel.income.NetIncome, float64(bar.ListedShares))
}

func bpsFactor(sel *finSelection, bar market.PriceBar) float64 {
	return ratio(sel.latest.Equity, float64(bar.ListedShares))
}

func spsFactor(sel *finSelection, bar market.PriceBar) float64 {
	return ratio(sel.income.Revenue, float64(bar.ListedShares))
}

func cpsFactor(sel *finSelection, bar market.PriceBar) float64 {
	return ratio(sel.income.OperatingCashFlow, float64(bar.ListedShares))
}

func roeFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(sel.income.NetIncome, sel.latest.Equity), -0.5, 0.5)
}

func roaFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(sel.income.NetIncome, sel.latest.Assets), -0.5, 0.5)
}

func operatingMarginFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(sel.income.OperatingProfit, sel.income.Revenue), -1, 1)
}

func netMarginFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(sel.income.NetIncome, sel.income.Revenue), -1, 1)
}

func assetTurnoverFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(sel.income.Revenue, sel.latest.Assets), 0, 10)
}

// yoyGrowth computes (current-prior)/|prior|, requiring a comparable report
// one fiscal year back
func yoyGrowth(cur, prev float64) float64 {
	if prev == 0 {
		return nan
	}
	return within((cur-prev)/math.Abs(prev), -5, 5)
}

func revenueGrowthFactor(sel *finSelection, bar market.PriceBar) float64 {
	if sel.prev == nil {
		return nan
	}
	return yoyGrowth(sel.income.Revenue, sel.prev.Revenue)
}

func operatingProfitGrowthFactor(sel *finSelection, bar market.PriceBar) float64 {
	if sel.prev == nil {
		return nan
	}
	return yoyGrowth(sel.income.OperatingProfit, sel.prev.OperatingProfit)
}

func netIncomeGrowthFactor(sel *finSelection, bar market.PriceBar) float64 {
	if sel.prev == nil {
		return nan
	}
	return yoyGrowth(sel.income.NetIncome, sel.prev.NetIncome)
}

func epsGrowthFactor(sel *finSelection, bar market.PriceBar) float64 {
	if sel.prev == nil || bar.ListedShares <= 0 {
		return nan
	}
	return yoyGrowth(
		sel.income.NetIncome/float64(bar.ListedShares),
		sel.prev.NetIncome/float64(bar.ListedShares))
}

// cagr3y computes the compound annual growth rate from the report two fiscal
// years back to the current one
func cagr3y(cur, base float64) float64 {
	if base <= 0 || cur <= 0 {
		return nan
	}
	return within(math.Sqrt(cur/base)-1, -1, 5)
}

func revenueCAGRFactor(sel *finSelection, bar market.PriceBar) float64 {
	if sel.prev2 == nil {
		return nan
	}
	return cagr3y(sel.income.Revenue, sel.prev2.Revenue)
}

func netIncomeCAGRFactor(sel *finSelection, bar market.PriceBar) float64 {
	if sel.prev2 == nil {
		return nan
	}
	return cagr3y(sel.income.NetIncome, sel.prev2.NetIncome)
}

func debtRatioFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(sel.latest.Liabilities, sel.latest.Equity), 0, 10)
}

func currentRatioFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(sel.latest.CurrentAssets, sel.latest.CurrentLiabilities), 0, 20)
}

func equityRatioFactor(sel *finSelection, bar market.PriceBar) float64 {
	return within(ratio(sel.latest.Equity, sel.latest.Assets), 0, 1)
}

func pegFactor(sel *finSelection, bar market.PriceBar) float64 {
	per := perFactor(sel, bar)
	growth := netIncomeGrowthFactor(sel, bar)
	if math.IsNaN(per) || math.IsNaN(growth) || growth <= 0 {
		return nan
	}
	return within(per/(growth*100), 0, 10)
}
