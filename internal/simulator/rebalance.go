package simulator

import (
	"time"

	"qback/internal/factor"
	"qback/internal/selection"
	"qback/internal/strategy"
	"qback/internal/types"
)

// isRebalanceDay reports whether the schedule fires on date. Weekly trades
// on Mondays; monthly on the first Monday-and-first-week of the month;
// quarterly restricts the monthly rule to quarter-opening months.
func isRebalanceDay(freq strategy.Frequency, date time.Time) bool {
	switch freq {
	case strategy.RebalanceDaily:
		return true
	case strategy.RebalanceWeekly:
		return date.Weekday() == time.Monday
	case strategy.RebalanceMonthly:
		return date.Weekday() == time.Monday && date.Day() <= 7
	case strategy.RebalanceQuarterly:
		if date.Weekday() != time.Monday || date.Day() > 7 {
			return false
		}
		switch date.Month() {
		case time.January, time.April, time.July, time.October:
			return true
		}
	}
	return false
}

// rebalance runs the selection pipeline for one scheduled day: sell holdings
// that fell out of the screen, then fill open capacity from the ranked
// candidates. Returns the decided fills in execution order, sells first.
func (e *Engine) rebalance(date time.Time, values factor.SecurityValues) []fill {
	var fills []fill
	fills = append(fills, e.screeningExits(date, values)...)

	// max_positions of zero buys nothing; the run still completes
	capacity := e.strat.MaxPositions - len(e.portfolio.Positions())
	if capacity <= 0 {
		return fills
	}

	eligible := e.eligibleBuys(values)
	ranked := selection.Rank(eligible, values, e.strat)

	var candidates []string
	for _, code := range ranked {
		if _, held := e.portfolio.Position(code); held {
			continue
		}
		candidates = append(candidates, code)
		if len(candidates) >= capacity {
			break
		}
	}
	if e.strat.MaxDailyNew > 0 && len(candidates) > e.strat.MaxDailyNew {
		candidates = candidates[:e.strat.MaxDailyNew]
	}

	allocations := selection.Size(candidates, e.portfolio.Cash(), e.portfolio.Value(), values, e.strat)
	for _, alloc := range allocations {
		bar, ok := e.data.Bar(alloc.Code, date)
		if !ok {
			continue
		}
		price := buyPrice(bar.Close, e.strat.SlippageRate)
		qty := buyQuantity(alloc.Amount, price, e.strat.CommissionRate, e.portfolio.Cash())
		if qty <= 0 {
			continue
		}
		f := e.newBuyFill(alloc.Code, qty, price, types.ReasonEntry, date)
		e.applyBuy(f, date)
		fills = append(fills, f)
	}
	return fills
}

// screeningExits sells held securities that no longer pass the screening
// rules, after the minimum holding period
func (e *Engine) screeningExits(date time.Time, values factor.SecurityValues) []fill {
	if len(e.strat.Screening) == 0 {
		return nil
	}
	var fills []fill
	for _, decision := range e.heldFailingScreen(date, values) {
		pos, ok := e.portfolio.Position(decision)
		if !ok {
			continue
		}
		bar, ok := e.data.Bar(decision, date)
		if !ok {
			continue // no trade that day, keep until it trades again
		}
		price := e.sellFillPrice(bar.Close, types.ReasonScreeningExit)
		f := e.newSellFill(decision, pos.Quantity, price, types.ReasonScreeningExit, date)
		e.applySell(&f, date)
		fills = append(fills, f)
	}
	return fills
}

func (e *Engine) heldFailingScreen(date time.Time, values factor.SecurityValues) []string {
	var out []string
	for code, pos := range e.portfolio.Positions() {
		if holdingDays(pos.EntryDate, date) < e.strat.Sell.MinHoldDays {
			continue
		}
		vals, ok := values[code]
		if !ok {
			continue // untraded securities are not force-sold
		}
		for _, rule := range e.strat.Screening {
			if !rule.Passes(vals) {
				out = append(out, code)
				break
			}
		}
	}
	return out
}

// eligibleBuys returns universe codes passing both the screening rules and
// the buy expression. An unset expression admits every screened code.
func (e *Engine) eligibleBuys(values factor.SecurityValues) []string {
	screened := selection.Screen(e.universe, values, e.strat.Screening)
	if e.buyNode == nil {
		return screened
	}
	var out []string
	for _, code := range screened {
		vals := values[code]
		truth := func(id string) bool {
			cond, ok := e.strat.Conditions[id]
			if !ok {
				return false
			}
			return cond.Evaluate(vals)
		}
		if e.buyNode.Eval(truth) {
			out = append(out, code)
		}
	}
	return out
}
