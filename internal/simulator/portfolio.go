package simulator

import (
	"time"

	"qback/internal/types"
)

// Portfolio is the cash and position ledger for one run. The simulator is
// its only writer.
type Portfolio struct {
	cash            float64
	positions       map[string]*types.Position
	closed          []types.ClosedPosition
	totalCommission float64
	totalTax        float64
	buyCount        int
	sellCount       int
}

// NewPortfolio creates a ledger holding only cash
func NewPortfolio(cash float64) *Portfolio {
	return &Portfolio{
		cash:      cash,
		positions: make(map[string]*types.Position),
	}
}

// Cash returns the uninvested balance
func (p *Portfolio) Cash() float64 { return p.cash }

// Position returns the open lot for a code, if any
func (p *Portfolio) Position(code string) (*types.Position, bool) {
	pos, ok := p.positions[code]
	return pos, ok
}

// Positions returns the open lots keyed by code
func (p *Portfolio) Positions() map[string]*types.Position { return p.positions }

// Closed returns the exit history
func (p *Portfolio) Closed() []types.ClosedPosition { return p.closed }

// Counts returns cumulative buy and sell execution counts
func (p *Portfolio) Counts() (buys, sells int) { return p.buyCount, p.sellCount }

// Costs returns cumulative commission and tax paid
func (p *Portfolio) Costs() (commission, tax float64) { return p.totalCommission, p.totalTax }

// Value returns cash plus the market value of all open positions
func (p *Portfolio) Value() float64 {
	v := p.cash
	for _, pos := range p.positions {
		v += pos.MarketValue()
	}
	return v
}

// Invested returns the market value of open positions
func (p *Portfolio) Invested() float64 {
	return p.Value() - p.cash
}

// Mark updates a position's current price
func (p *Portfolio) Mark(code string, price float64) {
	if pos, ok := p.positions[code]; ok {
		pos.CurrentPrice = price
	}
}

// Buy applies a filled buy: cash out, weighted-average entry update.
// A repeat buy folds into the existing lot; it never opens a second one.
func (p *Portfolio) Buy(code, name string, quantity int64, price, commission float64, date time.Time) {
	cost := float64(quantity) * price
	p.cash -= cost + commission
	p.totalCommission += commission
	p.buyCount++

	pos, ok := p.positions[code]
	if !ok {
		p.positions[code] = &types.Position{
			Code:         code,
			Name:         name,
			Quantity:     quantity,
			AvgPrice:     price,
			EntryDate:    date,
			CurrentPrice: price,
		}
		return
	}
	newQty := pos.Quantity + quantity
	pos.AvgPrice = (pos.AvgPrice*float64(pos.Quantity) + price*float64(quantity)) / float64(newQty)
	pos.EntryDate = weightedDate(pos.EntryDate, pos.Quantity, date, quantity)
	pos.Quantity = newQty
	pos.CurrentPrice = price
}

// Sell applies a filled sell and returns the realized P&L against the
// weighted-average entry. The position closes into history exactly when its
// quantity reaches zero.
func (p *Portfolio) Sell(code string, quantity int64, price, commission, tax float64, date time.Time, reason types.OrderReason) float64 {
	pos, ok := p.positions[code]
	if !ok {
		return 0
	}
	if quantity > pos.Quantity {
		quantity = pos.Quantity
	}
	proceeds := float64(quantity)*price - commission - tax
	realized := proceeds - pos.AvgPrice*float64(quantity)

	p.cash += proceeds
	p.totalCommission += commission
	p.totalTax += tax
	p.sellCount++
	pos.Quantity -= quantity
	pos.CurrentPrice = price

	if pos.Quantity == 0 {
		p.closed = append(p.closed, types.ClosedPosition{
			Code:        code,
			Quantity:    quantity,
			AvgPrice:    pos.AvgPrice,
			EntryDate:   pos.EntryDate,
			ExitDate:    date,
			ExitPrice:   price,
			RealizedPnL: realized,
			Reason:      reason,
		})
		delete(p.positions, code)
	}
	return realized
}

// Clone deep-copies the ledger so a failed day can be rolled back
func (p *Portfolio) Clone() *Portfolio {
	c := &Portfolio{
		cash:            p.cash,
		positions:       make(map[string]*types.Position, len(p.positions)),
		closed:          append([]types.ClosedPosition(nil), p.closed...),
		totalCommission: p.totalCommission,
		totalTax:        p.totalTax,
		buyCount:        p.buyCount,
		sellCount:       p.sellCount,
	}
	for code, pos := range p.positions {
		cp := *pos
		c.positions[code] = &cp
	}
	return c
}

// Restore replaces the ledger state with a previously cloned one
func (p *Portfolio) Restore(from *Portfolio) {
	p.cash = from.cash
	p.positions = from.positions
	p.closed = from.closed
	p.totalCommission = from.totalCommission
	p.totalTax = from.totalTax
	p.buyCount = from.buyCount
	p.sellCount = from.sellCount
}

// weightedDate averages two entry dates by quantity, so a repeat buy moves
// the entry date the way it moves the entry price
func weightedDate(a time.Time, qa int64, b time.Time, qb int64) time.Time {
	total := qa + qb
	if total <= 0 {
		return a
	}
	ua := a.Unix() * qa
	ub := b.Unix() * qb
	return time.Unix((ua+ub)/total, 0).UTC()
}
