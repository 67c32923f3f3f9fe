package stats

import (
	"sort"
	"time"

	"qback/internal/types"
)

// buyLot is an unmatched remainder of one buy execution
type buyLot struct {
	date     int64
	price    float64
	quantity int64
}

// MatchFIFO pairs each sell execution with the oldest unmatched buys of the
// same security. The pairing is for trade display only; the simulator costs
// positions by weighted average and the two models are never reconciled.
func MatchFIFO(execs []types.Execution) []types.TradeMatch {
	ordered := append([]types.Execution(nil), execs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	open := make(map[string][]buyLot)
	var matches []types.TradeMatch

	for _, ex := range ordered {
		switch ex.Side {
		case types.OrderSideBuy:
			open[ex.Code] = append(open[ex.Code], buyLot{
				date:     ex.Date.Unix(),
				price:    ex.Price,
				quantity: ex.Quantity,
			})
		case types.OrderSideSell:
			remaining := ex.Quantity
			lots := open[ex.Code]
			for remaining > 0 && len(lots) > 0 {
				lot := &lots[0]
				qty := remaining
				if lot.quantity < qty {
					qty = lot.quantity
				}
				buyDate := unixDate(lot.date)
				matches = append(matches, types.TradeMatch{
					Code:        ex.Code,
					Quantity:    qty,
					BuyDate:     buyDate,
					BuyPrice:    lot.price,
					SellDate:    ex.Date,
					SellPrice:   ex.Price,
					RealizedPnL: float64(qty) * (ex.Price - lot.price),
					HoldingDays: int(ex.Date.Sub(buyDate).Hours() / 24),
				})
				lot.quantity -= qty
				remaining -= qty
				if lot.quantity == 0 {
					lots = lots[1:]
				}
			}
			open[ex.Code] = lots
		}
	}
	return matches
}

func unixDate(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
