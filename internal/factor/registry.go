package factor

import (
	"sort"
	"sync"
)

// Category groups factors by what they measure
type Category string

const (
	CategoryValue         Category = "value"
	CategoryProfitability Category = "profitability"
	CategoryGrowth        Category = "growth"
	CategoryStability     Category = "stability"
	CategoryMomentum      Category = "momentum"
	CategoryTechnical     Category = "technical"
	CategoryVolatility    Category = "volatility"
	CategoryLiquidity     Category = "liquidity"
)

// Polarity declares which direction of a factor is considered better when
// ranking candidates
type Polarity int

const (
	HigherIsBetter Polarity = 1
	LowerIsBetter  Polarity = -1
)

// Def describes one registered factor. Exactly one of Price or Fin is set.
type Def struct {
	Name     string
	Category Category
	Polarity Polarity
	Window   int // minimum bars of history for price factors
	Price    PriceFunc
	Fin      FinancialFunc
}

// Financial reports whether the factor derives from financial statements
func (d *Def) Financial() bool {
	return d.Fin != nil
}

var (
	registry     map[string]*Def
	registryOnce sync.Once
)

// ensureRegistry builds the factor table exactly once per process. Injected
// into the engine constructor instead of relying on ambient init order.
func ensureRegistry() {
	registryOnce.Do(func() {
		defs := []*Def{
			// Value
			{Name: "PER", Category: CategoryValue, Polarity: LowerIsBetter, Fin: perFactor},
			{Name: "PBR", Category: CategoryValue, Polarity: LowerIsBetter, Fin: pbrFactor},
			{Name: "PSR", Category: CategoryValue, Polarity: LowerIsBetter, Fin: psrFactor},
			{Name: "PCR", Category: CategoryValue, Polarity: LowerIsBetter, Fin: pcrFactor},
			{Name: "PEG", Category: CategoryValue, Polarity: LowerIsBetter, Fin: pegFactor},
			{Name: "EPS", Category: CategoryValue, Polarity: HigherIsBetter, Fin: epsFactor},
			{Name: "BPS", Category: CategoryValue, Polarity: HigherIsBetter, Fin: bpsFactor},
			{Name: "SPS", Category: CategoryValue, Polarity: HigherIsBetter, Fin: spsFactor},
			{Name: "CPS", Category: CategoryValue, Polarity: HigherIsBetter, Fin: cpsFactor},

			// Profitability
			{Name: "ROE", Category: CategoryProfitability, Polarity: HigherIsBetter, Fin: roeFactor},
			{Name: "ROA", Category: CategoryProfitability, Polarity: HigherIsBetter, Fin: roaFactor},
			{Name: "OPERATING_MARGIN", Category: CategoryProfitability, Polarity: HigherIsBetter, Fin: operatingMarginFactor},
			{Name: "NET_MARGIN", Category: CategoryProfitability, Polarity: HigherIsBetter, Fin: netMarginFactor},
			{Name: "ASSET_TURNOVER", Category: CategoryProfitability, Polarity: HigherIsBetter, Fin: assetTurnoverFactor},

			// Growth
			{Name: "REVENUE_GROWTH", Category: CategoryGrowth, Polarity: HigherIsBetter, Fin: revenueGrowthFactor},
			{Name: "OPERATING_PROFIT_GROWTH", Category: CategoryGrowth, Polarity: HigherIsBetter, Fin: operatingProfitGrowthFactor},
			{Name: "NET_INCOME_GROWTH", Category: CategoryGrowth, Polarity: HigherIsBetter, Fin: netIncomeGrowthFactor},
			{Name: "EPS_GROWTH", Category: CategoryGrowth, Polarity: HigherIsBetter, Fin: epsGrowthFactor},
			{Name: "REVENUE_CAGR_3Y", Category: CategoryGrowth, Polarity: HigherIsBetter, Fin: revenueCAGRFactor},
			{Name: "NET_INCOME_CAGR_3Y", Category: CategoryGrowth, Polarity: HigherIsBetter, Fin: netIncomeCAGRFactor},

			// Stability
			{Name: "DEBT_RATIO", Category: CategoryStability, Polarity: LowerIsBetter, Fin: debtRatioFactor},
			{Name: "CURRENT_RATIO", Category: CategoryStability, Polarity: HigherIsBetter, Fin: currentRatioFactor},
			{Name: "EQUITY_RATIO", Category: CategoryStability, Polarity: HigherIsBetter, Fin: equityRatioFactor},

			// Momentum
			{Name: "MOMENTUM_1M", Category: CategoryMomentum, Polarity: HigherIsBetter, Window: 20, Price: momentum(20)},
			{Name: "MOMENTUM_3M", Category: CategoryMomentum, Polarity: HigherIsBetter, Window: 60, Price: momentum(60)},
			{Name: "MOMENTUM_6M", Category: CategoryMomentum, Polarity: HigherIsBetter, Window: 120, Price: momentum(120)},
			{Name: "MOMENTUM_12M", Category: CategoryMomentum, Polarity: HigherIsBetter, Window: 240, Price: momentum(240)},
			{Name: "RSI_14", Category: CategoryMomentum, Polarity: HigherIsBetter, Window: 14, Price: rsi(14)},
			{Name: "PRICE_TO_HIGH_52W", Category: CategoryMomentum, Polarity: HigherIsBetter, Window: 240, Price: priceToHigh(240)},
			{Name: "PRICE_TO_LOW_52W", Category: CategoryMomentum, Polarity: HigherIsBetter, Window: 240, Price: priceToLow(240)},

			// Technical
			{Name: "MA_20", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 20, Price: movingAverage(20)},
			{Name: "MA_60", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 60, Price: movingAverage(60)},
			{Name: "MA_120", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 120, Price: movingAverage(120)},
			{Name: "MA_200", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 200, Price: movingAverage(200)},
			{Name: "DISPARITY_20", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 20, Price: disparity(20)},
			{Name: "DISPARITY_60", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 60, Price: disparity(60)},
			{Name: "DISPARITY_120", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 120, Price: disparity(120)},
			{Name: "BOLLINGER_B_20", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 20, Price: bollingerB(20, 2)},
			{Name: "STOCH_K_14", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 14, Price: stochasticK(14)},
			{Name: "MACD_HIST", Category: CategoryTechnical, Polarity: HigherIsBetter, Window: 35, Price: macdHistogram(12, 26, 9)},

			// Volatility
			{Name: "VOLATILITY_20D", Category: CategoryVolatility, Polarity: LowerIsBetter, Window: 20, Price: volatility(20)},
			{Name: "VOLATILITY_60D", Category: CategoryVolatility, Polarity: LowerIsBetter, Window: 60, Price: volatility(60)},
			{Name: "VOLATILITY_120D", Category: CategoryVolatility, Polarity: LowerIsBetter, Window: 120, Price: volatility(120)},
			{Name: "ATR_14", Category: CategoryVolatility, Polarity: LowerIsBetter, Window: 14, Price: atr(14)},
			{Name: "MAX_DRAWDOWN_60D", Category: CategoryVolatility, Polarity: LowerIsBetter, Window: 60, Price: trailingMaxDrawdown(60)},

			// Liquidity and raw quotes
			{Name: "AVG_VOLUME_20D", Category: CategoryLiquidity, Polarity: HigherIsBetter, Window: 20, Price: avgVolume(20)},
			{Name: "AVG_TRADING_VALUE_20D", Category: CategoryLiquidity, Polarity: HigherIsBetter, Window: 20, Price: avgTradingValue(20)},
			{Name: "TURNOVER_RATIO_20D", Category: CategoryLiquidity, Polarity: HigherIsBetter, Window: 20, Price: turnoverRatio(20)},
			{Name: "VOLUME_RATIO_20D", Category: CategoryLiquidity, Polarity: HigherIsBetter, Window: 20, Price: volumeRatio(20)},
			{Name: "MARKET_CAP", Category: CategoryLiquidity, Polarity: HigherIsBetter, Window: 1, Price: marketCap},
			{Name: "CLOSE", Category: CategoryLiquidity, Polarity: HigherIsBetter, Window: 1, Price: closePrice},
			{Name: "VOLUME", Category: CategoryLiquidity, Polarity: HigherIsBetter, Window: 1, Price: dayVolume},
			{Name: "HIGH_52W", Category: CategoryLiquidity, Polarity: HigherIsBetter, Window: 240, Price: rollingHigh(240)},
			{Name: "LOW_52W", Category: CategoryLiquidity, Polarity: HigherIsBetter, Window: 240, Price: rollingLow(240)},
		}

		registry = make(map[string]*Def, len(defs))
		for _, d := range defs {
			registry[d.Name] = d
		}
	})
}

// Lookup returns the definition for a factor name
func Lookup(name string) (*Def, bool) {
	ensureRegistry()
	d, ok := registry[name]
	return d, ok
}

// Exists reports whether a factor name is registered
func Exists(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// Names returns all registered factor names, sorted
func Names() []string {
	ensureRegistry()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PolarityOf returns the ranking direction for a factor, defaulting to
// higher-is-better for unknown names
func PolarityOf(name string) Polarity {
	if d, ok := Lookup(name); ok {
		return d.Polarity
	}
	return HigherIsBetter
}
