package simulator

import (
	"math"
	"time"

	"github.com/google/uuid"

	"qback/internal/types"
)

// fill is one decided order plus its same-day execution. Orders and
// executions are always generated together; there are no resting orders.
type fill struct {
	order types.Order
	exec  types.Execution
}

// buyPrice applies slippage against the buyer
func buyPrice(close, slippage float64) float64 {
	return close * (1 + slippage)
}

// sellPrice applies slippage against the seller, plus the optional percent
// offset used for condition and hold-day exits
func sellPrice(close, slippage, offsetPct float64) float64 {
	return close * (1 - slippage) * (1 + offsetPct/100)
}

// buyQuantity sizes a buy at the allocation, then shrinks it until cost plus
// commission fits the available cash. Running out of room returns zero; a
// buy that cannot fit is skipped, never an error.
func buyQuantity(allocation, price, commissionRate, cash float64) int64 {
	if price <= 0 {
		return 0
	}
	qty := int64(math.Floor(allocation / price))
	for qty > 0 {
		cost := float64(qty) * price
		if cost+cost*commissionRate <= cash {
			return qty
		}
		qty--
	}
	return 0
}

// newBuyFill builds the order and execution for a filled buy
func (e *Engine) newBuyFill(code string, qty int64, price float64, reason types.OrderReason, date time.Time) fill {
	gross := float64(qty) * price
	orderID := uuid.New().String()
	return fill{
		order: types.Order{
			ID:       orderID,
			RunID:    e.runID,
			Code:     code,
			Side:     types.OrderSideBuy,
			Reason:   reason,
			Quantity: qty,
			Date:     date,
		},
		exec: types.Execution{
			ID:         uuid.New().String(),
			OrderID:    orderID,
			RunID:      e.runID,
			Code:       code,
			Side:       types.OrderSideBuy,
			Reason:     reason,
			Quantity:   qty,
			Price:      price,
			Commission: gross * e.strat.CommissionRate,
			Amount:     gross,
			Date:       date,
		},
	}
}

// newSellFill builds the order and execution for a filled sell. Tax applies
// to sells only. RealizedPnL is filled in after the ledger applies the sell.
func (e *Engine) newSellFill(code string, qty int64, price float64, reason types.OrderReason, date time.Time) fill {
	gross := float64(qty) * price
	orderID := uuid.New().String()
	return fill{
		order: types.Order{
			ID:       orderID,
			RunID:    e.runID,
			Code:     code,
			Side:     types.OrderSideSell,
			Reason:   reason,
			Quantity: qty,
			Date:     date,
		},
		exec: types.Execution{
			ID:         uuid.New().String(),
			OrderID:    orderID,
			RunID:      e.runID,
			Code:       code,
			Side:       types.OrderSideSell,
			Reason:     reason,
			Quantity:   qty,
			Price:      price,
			Commission: gross * e.strat.CommissionRate,
			Tax:        gross * e.strat.TaxRate,
			Amount:     gross,
			Date:       date,
		},
	}
}
