package factor

import (
	"math"

	"qback/internal/market"
)

// PriceFunc computes a trailing-window statistic from the bar history ending
// at the evaluation date (the last element). Returns NaN when the history is
// too short; a short window is never silently used.
type PriceFunc func(bars []market.PriceBar) float64

var nan = math.NaN()

func lastClose(bars []market.PriceBar) float64 {
	return bars[len(bars)-1].Close
}

// momentum returns the n-bar price change ratio
func momentum(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) <= n {
			return nan
		}
		base := bars[len(bars)-1-n].Close
		if base <= 0 {
			return nan
		}
		return lastClose(bars)/base - 1
	}
}

// movingAverage returns the mean of the last n closes
func movingAverage(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		sum := 0.0
		for _, b := range bars[len(bars)-n:] {
			sum += b.Close
		}
		return sum / float64(n)
	}
}

// disparity returns close relative to the n-bar moving average, as a percent
func disparity(n int) PriceFunc {
	ma := movingAverage(n)
	return func(bars []market.PriceBar) float64 {
		m := ma(bars)
		if math.IsNaN(m) || m <= 0 {
			return nan
		}
		return lastClose(bars) / m * 100
	}
}

// rsi returns the n-bar relative strength index (simple averages)
func rsi(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) <= n {
			return nan
		}
		var gain, loss float64
		window := bars[len(bars)-1-n:]
		for i := 1; i < len(window); i++ {
			diff := window[i].Close - window[i-1].Close
			if diff > 0 {
				gain += diff
			} else {
				loss -= diff
			}
		}
		if gain+loss == 0 {
			return 50
		}
		return 100 * gain / (gain + loss)
	}
}

// volatility returns the annualized stdev of daily returns over n returns
func volatility(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) <= n {
			return nan
		}
		window := bars[len(bars)-1-n:]
		returns := make([]float64, 0, n)
		for i := 1; i < len(window); i++ {
			prev := window[i-1].Close
			if prev <= 0 {
				return nan
			}
			returns = append(returns, window[i].Close/prev-1)
		}
		sd := stdev(returns)
		if math.IsNaN(sd) {
			return nan
		}
		return sd * math.Sqrt(252)
	}
}

// atr returns the n-bar average true range
func atr(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) <= n {
			return nan
		}
		window := bars[len(bars)-1-n:]
		sum := 0.0
		for i := 1; i < len(window); i++ {
			high := window[i].High
			low := window[i].Low
			prevClose := window[i-1].Close
			tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
			sum += tr
		}
		return sum / float64(n)
	}
}

// trailingMaxDrawdown returns the worst peak-to-trough decline over n bars,
// as a positive fraction
func trailingMaxDrawdown(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		window := bars[len(bars)-n:]
		peak := window[0].Close
		worst := 0.0
		for _, b := range window {
			if b.Close > peak {
				peak = b.Close
			}
			if peak > 0 {
				dd := (peak - b.Close) / peak
				if dd > worst {
					worst = dd
				}
			}
		}
		return worst
	}
}

// bollingerB returns %B within n-bar Bollinger bands (k standard deviations)
func bollingerB(n int, k float64) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		window := bars[len(bars)-n:]
		closes := make([]float64, n)
		for i, b := range window {
			closes[i] = b.Close
		}
		m := mean(closes)
		sd := stdev(closes)
		if sd == 0 || math.IsNaN(sd) {
			return nan
		}
		lower := m - k*sd
		upper := m + k*sd
		return (lastClose(bars) - lower) / (upper - lower)
	}
}

// stochasticK returns the n-bar fast stochastic %K
func stochasticK(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		window := bars[len(bars)-n:]
		low := window[0].Low
		high := window[0].High
		for _, b := range window {
			if b.Low < low {
				low = b.Low
			}
			if b.High > high {
				high = b.High
			}
		}
		if high == low {
			return nan
		}
		return (lastClose(bars) - low) / (high - low) * 100
	}
}

// macdHistogram returns MACD(fast,slow) minus its signal EMA
func macdHistogram(fast, slow, signal int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < slow+signal {
			return nan
		}
		closes := make([]float64, len(bars))
		for i, b := range bars {
			closes[i] = b.Close
		}
		fastEMA := emaSeries(closes, fast)
		slowEMA := emaSeries(closes, slow)
		macd := make([]float64, len(closes))
		for i := range closes {
			macd[i] = fastEMA[i] - slowEMA[i]
		}
		signalEMA := emaSeries(macd, signal)
		last := len(closes) - 1
		return macd[last] - signalEMA[last]
	}
}

// priceToHigh returns close relative to the n-bar high, as a ratio minus one
func priceToHigh(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		high := 0.0
		for _, b := range bars[len(bars)-n:] {
			if b.High > high {
				high = b.High
			}
		}
		if high <= 0 {
			return nan
		}
		return lastClose(bars)/high - 1
	}
}

// priceToLow returns close relative to the n-bar low, as a ratio minus one
func priceToLow(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		low := math.MaxFloat64
		for _, b := range bars[len(bars)-n:] {
			if b.Low < low && b.Low > 0 {
				low = b.Low
			}
		}
		if low == math.MaxFloat64 {
			return nan
		}
		return lastClose(bars)/low - 1
	}
}

// rollingHigh returns the highest high over n bars
func rollingHigh(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		high := 0.0
		for _, b := range bars[len(bars)-n:] {
			if b.High > high {
				high = b.High
			}
		}
		return high
	}
}

// rollingLow returns the lowest low over n bars
func rollingLow(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		low := math.MaxFloat64
		for _, b := range bars[len(bars)-n:] {
			if b.Low < low {
				low = b.Low
			}
		}
		return low
	}
}

// avgVolume returns the mean share volume over n bars
func avgVolume(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		sum := 0.0
		for _, b := range bars[len(bars)-n:] {
			sum += float64(b.Volume)
		}
		return sum / float64(n)
	}
}

// avgTradingValue returns the mean traded value over n bars
func avgTradingValue(n int) PriceFunc {
	return func(bars []market.PriceBar) float64 {
		if len(bars) < n {
			return nan
		}
		sum := 0.0
		for _, b := range bars[len(bars)-n:] {
			sum += b.Value
		}
		return sum / float64(n)
	}
}

// turnoverRatio returns mean volume over n bars divided by listed shares
func turnoverRatio(n int) PriceFunc {
	av := avgVolume(n)
	return func(bars []market.PriceBar) float64 {
		v := av(bars)
		shares := bars[len(bars)-1].ListedShares
		if math.IsNaN(v) || shares <= 0 {
			return nan
		}
		return v / float64(shares)
	}
}

// volumeRatio returns today's volume relative to the n-bar average
func volumeRatio(n int) PriceFunc {
	av := avgVolume(n)
	return func(bars []market.PriceBar) float64 {
		v := av(bars)
		if math.IsNaN(v) || v == 0 {
			return nan
		}
		return float64(bars[len(bars)-1].Volume) / v
	}
}

func closePrice(bars []market.PriceBar) float64 {
	return lastClose(bars)
}

func dayVolume(bars []market.PriceBar) float64 {
	return float64(bars[len(bars)-1].Volume)
}

func marketCap(bars []market.PriceBar) float64 {
	mc := bars[len(bars)-1].MarketCap
	if mc <= 0 {
		return nan
	}
	return mc
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return nan
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return nan
	}
	m := mean(xs)
	variance := 0.0
	for _, x := range xs {
		diff := x - m
		variance += diff * diff
	}
	variance /= float64(len(xs) - 1)
	return math.Sqrt(variance)
}

// emaSeries computes an exponential moving average over the whole series
func emaSeries(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	alpha := 2.0 / float64(n+1)
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}
