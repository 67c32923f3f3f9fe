package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"qback/internal/strategy"
)

func TestIsRebalanceDay(t *testing.T) {
	mondayJan2 := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	tuesdayJan3 := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)
	mondayJan9 := time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC)
	mondayFeb6 := time.Date(2023, 2, 6, 0, 0, 0, 0, time.UTC)
	mondayApr3 := time.Date(2023, 4, 3, 0, 0, 0, 0, time.UTC)
	mondayMay1 := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, isRebalanceDay(strategy.RebalanceDaily, tuesdayJan3))

	assert.True(t, isRebalanceDay(strategy.RebalanceWeekly, mondayJan2))
	assert.True(t, isRebalanceDay(strategy.RebalanceWeekly, mondayJan9))
	assert.False(t, isRebalanceDay(strategy.RebalanceWeekly, tuesdayJan3))

	// monthly: Monday inside the first seven days
	assert.True(t, isRebalanceDay(strategy.RebalanceMonthly, mondayJan2))
	assert.True(t, isRebalanceDay(strategy.RebalanceMonthly, mondayFeb6))
	assert.False(t, isRebalanceDay(strategy.RebalanceMonthly, mondayJan9))
	assert.False(t, isRebalanceDay(strategy.RebalanceMonthly, tuesdayJan3))

	// quarterly: monthly rule restricted to quarter-opening months
	assert.True(t, isRebalanceDay(strategy.RebalanceQuarterly, mondayJan2))
	assert.True(t, isRebalanceDay(strategy.RebalanceQuarterly, mondayApr3))
	assert.False(t, isRebalanceDay(strategy.RebalanceQuarterly, mondayFeb6))
	assert.False(t, isRebalanceDay(strategy.RebalanceQuarterly, mondayMay1))
}

func TestBuyQuantitySizesDownToFit(t *testing.T) {
	// allocation asks for 100 shares but cash only covers 99 with commission
	qty := buyQuantity(10_000, 100, 0.01, 10_000)
	assert.Equal(t, int64(99), qty)

	assert.Equal(t, int64(0), buyQuantity(50, 100, 0, 10_000))
	assert.Equal(t, int64(0), buyQuantity(10_000, 0, 0, 10_000))
	assert.Equal(t, int64(0), buyQuantity(10_000, 100, 0, 0))
}

func TestFillPrices(t *testing.T) {
	assert.InDelta(t, 101, buyPrice(100, 0.01), 1e-9)
	assert.InDelta(t, 99, sellPrice(100, 0.01, 0), 1e-9)
	// the offset applies after slippage, as a percent
	assert.InDelta(t, 99*0.995, sellPrice(100, 0.01, -0.5), 1e-9)
}
