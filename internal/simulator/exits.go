package simulator

import (
	"sort"
	"time"

	"qback/internal/factor"
	"qback/internal/types"
)

// exitDecision is the first matching exit trigger for one open position
type exitDecision struct {
	code   string
	reason types.OrderReason
}

// evaluateExits walks the open positions in code order and applies the exit
// chain to each. The chain is checked in fixed precedence and the first
// trigger wins: hold-day limit, then stop-loss and target-gain, then generic
// sell rules, then the condition-sell expression.
func (e *Engine) evaluateExits(date time.Time, values factor.SecurityValues) []exitDecision {
	codes := make([]string, 0, len(e.portfolio.Positions()))
	for code := range e.portfolio.Positions() {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var decisions []exitDecision
	for _, code := range codes {
		pos, _ := e.portfolio.Position(code)
		if reason, ok := e.exitReason(pos, date, values[code]); ok {
			decisions = append(decisions, exitDecision{code: code, reason: reason})
		}
	}
	return decisions
}

func (e *Engine) exitReason(pos *types.Position, date time.Time, vals map[string]float64) (types.OrderReason, bool) {
	sell := e.strat.Sell
	held := holdingDays(pos.EntryDate, date)

	if sell.MaxHoldDays > 0 && held >= sell.MaxHoldDays {
		return types.ReasonMaxHoldDays, true
	}

	if pos.AvgPrice > 0 {
		ret := (pos.CurrentPrice - pos.AvgPrice) / pos.AvgPrice * 100
		if sell.StopLoss != nil && ret <= -*sell.StopLoss {
			return types.ReasonStopLoss, true
		}
		if sell.TargetGain != nil && ret >= *sell.TargetGain {
			return types.ReasonTargetGain, true
		}
	}

	// rule and condition exits wait out the minimum holding period;
	// the risk exits above do not
	if held < sell.MinHoldDays {
		return "", false
	}

	if vals != nil {
		for _, rule := range sell.Rules {
			if rule.Passes(vals) {
				return types.ReasonSellRule, true
			}
		}
	}

	if e.sellNode != nil && vals != nil {
		truth := func(id string) bool {
			cond, ok := sell.Conditions[id]
			if !ok {
				return false
			}
			return cond.Evaluate(vals)
		}
		if e.sellNode.Eval(truth) {
			return types.ReasonConditionSell, true
		}
	}

	return "", false
}

// sellFillPrice picks the close-based exit price for a reason. Condition and
// hold-day exits carry the configured price offset; risk and rebalance exits
// fill at plain slipped close.
func (e *Engine) sellFillPrice(close float64, reason types.OrderReason) float64 {
	offset := 0.0
	switch reason {
	case types.ReasonMaxHoldDays, types.ReasonSellRule, types.ReasonConditionSell:
		offset = e.strat.Sell.PriceOffset
	}
	return sellPrice(close, e.strat.SlippageRate, offset)
}

// holdingDays counts calendar days since entry
func holdingDays(entry, date time.Time) int {
	return int(date.Sub(entry).Hours() / 24)
}
