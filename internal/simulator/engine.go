// Package simulator runs the day-by-day portfolio state machine for one
// backtest: mark to market, exits, scheduled rebalance, valuation, persist.
package simulator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"qback/internal/condition"
	"qback/internal/config"
	"qback/internal/errors"
	"qback/internal/factor"
	"qback/internal/logger"
	"qback/internal/market"
	"qback/internal/monitoring"
	"qback/internal/stats"
	"qback/internal/strategy"
	"qback/internal/types"
)

// ResultStore persists run output. A day's fills and snapshot go through
// SaveDay as one unit; implementations make that atomic.
type ResultStore interface {
	SaveProgress(ctx context.Context, p types.Progress) error
	SaveDay(ctx context.Context, snap types.DailySnapshot, orders []types.Order, execs []types.Execution) error
	SaveResult(ctx context.Context, st types.RunStatistics, periods []types.PeriodReturn, matches []types.TradeMatch, closed []types.ClosedPosition) error
}

// Result is the in-memory output of one completed run
type Result struct {
	RunID      string
	Status     types.RunStatus
	Snapshots  []types.DailySnapshot
	Orders     []types.Order
	Executions []types.Execution
	Closed     []types.ClosedPosition
	Statistics types.RunStatistics
	Periods    []types.PeriodReturn
	Matches    []types.TradeMatch
}

// Engine drives a single backtest run. One engine per run; not reusable.
type Engine struct {
	runID    string
	data     *market.Dataset
	factors  *factor.Engine
	strat    *strategy.Strategy
	universe []string
	store    ResultStore
	log      logger.Logger
	metrics  *monitoring.Metrics
	cfg      config.BacktestConfig

	portfolio *Portfolio
	buyNode   condition.Node
	sellNode  condition.Node
	progress  *rate.Limiter

	// accumulated per day
	dayOrders []types.Order
	dayExecs  []types.Execution

	peakValue float64
	maxDD     float64
	benchPrev float64
}

// New builds an engine for one run. The strategy must already be validated;
// expression parse failures here mean it was not.
func New(data *market.Dataset, factors *factor.Engine, strat *strategy.Strategy, universe []string,
	store ResultStore, log logger.Logger, metrics *monitoring.Metrics, cfg config.BacktestConfig) (*Engine, error) {

	if log == nil {
		log = logger.Default()
	}
	e := &Engine{
		runID:     uuid.New().String(),
		data:      data,
		factors:   factors,
		strat:     strat,
		universe:  universe,
		store:     store,
		log:       log,
		metrics:   metrics,
		cfg:       cfg,
		portfolio: NewPortfolio(strat.InitialCapital),
		peakValue: strat.InitialCapital,
	}

	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	e.progress = rate.NewLimiter(rate.Every(interval), 1)

	var err error
	if strat.BuyExpression != "" {
		if e.buyNode, err = condition.Parse(strat.BuyExpression); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeExpressionParse, "buy expression failed to parse")
		}
	}
	if strat.Sell.Expression != "" {
		if e.sellNode, err = condition.Parse(strat.Sell.Expression); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeExpressionParse, "sell expression failed to parse")
		}
	}
	return e, nil
}

// RunID returns the identifier assigned to this run
func (e *Engine) RunID() string { return e.runID }

// Run executes the full simulation. The returned result is complete even
// when individual persistence writes failed; a nil error means the run
// reached COMPLETED.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	e.metrics.RunStarted()

	res := &Result{RunID: e.runID, Status: types.RunStatusPending}
	e.writeProgress(ctx, res.Status, 0, time.Time{}, "", true)

	days := e.data.TradingDays(e.strat.Start(), e.strat.End())
	if len(days) == 0 {
		res.Status = types.RunStatusNoData
		e.writeProgress(ctx, res.Status, 0, time.Time{}, "no trading days in range", true)
		e.metrics.RunFinished(string(res.Status), time.Since(started).Seconds())
		return res, errors.New(errors.ErrCodeNoTradingDays,
			fmt.Sprintf("no trading days between %s and %s", e.strat.StartDate, e.strat.EndDate), nil)
	}

	table, err := e.factors.ComputeRange(ctx, days, e.universe, e.strat.ReferencedFactors())
	if err != nil {
		res.Status = types.RunStatusFailed
		code, msg := errors.ErrCodeInternal, "factor precomputation failed"
		if ctx.Err() != nil {
			code, msg = errors.ErrCodeCancelled, "run cancelled"
		}
		wrapped := errors.Wrap(err, code, msg)
		e.writeProgress(context.Background(), res.Status, 0, time.Time{}, wrapped.Error(), true)
		e.metrics.RunFinished(string(res.Status), time.Since(started).Seconds())
		return res, wrapped
	}

	res.Status = types.RunStatusRunning
	e.writeProgress(ctx, res.Status, 0, days[0], "", true)

	prevValue := e.strat.InitialCapital
	for i, date := range days {
		// cancellation is observed only between days, so an aborted run
		// always leaves the last completed day intact
		if err := ctx.Err(); err != nil {
			res.Status = types.RunStatusFailed
			e.writeProgress(context.Background(), res.Status, percent(i, len(days)), date, "cancelled", true)
			e.metrics.RunFinished(string(res.Status), time.Since(started).Seconds())
			return res, errors.Wrap(err, errors.ErrCodeCancelled, "run cancelled")
		}

		staged := e.portfolio.Clone()
		e.dayOrders = e.dayOrders[:0]
		e.dayExecs = e.dayExecs[:0]

		values := table[market.DateKey(date)]
		final := i == len(days)-1

		e.markToMarket(date)
		if final {
			e.liquidateAll(date)
		} else {
			e.applyExits(date, values)
			if isRebalanceDay(e.strat.Rebalance, date) {
				e.rebalance(date, values)
			}
		}

		snap := e.buildSnapshot(date, prevValue)
		if err := e.persistDay(ctx, snap); err != nil {
			// roll the day back and move on; the series skips this day
			e.log.Error("day persist failed, rolling back", "run_id", e.runID,
				"date", market.DateKey(date), "error", err)
			e.portfolio.Restore(staged)
			continue
		}

		prevValue = snap.PortfolioValue
		res.Snapshots = append(res.Snapshots, snap)
		res.Orders = append(res.Orders, append([]types.Order(nil), e.dayOrders...)...)
		res.Executions = append(res.Executions, append([]types.Execution(nil), e.dayExecs...)...)

		if snap.PortfolioValue > e.peakValue {
			e.peakValue = snap.PortfolioValue
		}
		if dd := (e.peakValue - snap.PortfolioValue) / e.peakValue; dd > e.maxDD {
			e.maxDD = dd
		}

		e.metrics.DaySimulated()
		e.writeProgress(ctx, res.Status, percent(i+1, len(days)), date, "", final)
	}

	res.Closed = e.portfolio.Closed()
	res.Statistics = stats.Compute(e.runID, e.strat.InitialCapital, e.cfg.RiskFreeRate, res.Snapshots, res.Executions)
	res.Periods = stats.PeriodReturns(e.runID, e.strat.InitialCapital, res.Snapshots, res.Executions)
	res.Matches = stats.MatchFIFO(res.Executions)

	if e.store != nil {
		if err := e.store.SaveResult(ctx, res.Statistics, res.Periods, res.Matches, res.Closed); err != nil {
			e.log.Error("result persist failed", "run_id", e.runID, "error", err)
		}
	}

	res.Status = types.RunStatusCompleted
	e.writeProgress(ctx, res.Status, 100, days[len(days)-1], "", true)
	e.metrics.RunFinished(string(res.Status), time.Since(started).Seconds())
	e.log.Info("run completed", "run_id", e.runID,
		"days", len(res.Snapshots), "final_value", res.Statistics.FinalValue)
	return res, nil
}

// markToMarket refreshes position prices from the day's bars. A security
// with no bar keeps its last known price.
func (e *Engine) markToMarket(date time.Time) {
	for code := range e.portfolio.Positions() {
		if bar, ok := e.data.Bar(code, date); ok {
			e.portfolio.Mark(code, bar.Close)
		}
	}
}

// applyExits evaluates and executes the exit chain for every open position
func (e *Engine) applyExits(date time.Time, values factor.SecurityValues) {
	for _, d := range e.evaluateExits(date, values) {
		pos, ok := e.portfolio.Position(d.code)
		if !ok {
			continue
		}
		bar, ok := e.data.Bar(d.code, date)
		if !ok {
			continue // cannot fill without a trade that day
		}
		price := e.sellFillPrice(bar.Close, d.reason)
		f := e.newSellFill(d.code, pos.Quantity, price, d.reason, date)
		e.applySell(&f, date)
	}
}

// liquidateAll force-sells every open position at the slipped close.
// Runs on the final trading day only.
func (e *Engine) liquidateAll(date time.Time) {
	for _, d := range e.openCodes() {
		pos, ok := e.portfolio.Position(d)
		if !ok {
			continue
		}
		price := sellPrice(pos.CurrentPrice, e.strat.SlippageRate, 0)
		f := e.newSellFill(d, pos.Quantity, price, types.ReasonFinalLiquidation, date)
		e.applySell(&f, date)
	}
}

func (e *Engine) openCodes() []string {
	codes := make([]string, 0, len(e.portfolio.Positions()))
	for code := range e.portfolio.Positions() {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// applyBuy applies a buy fill to the ledger and records it for the day
func (e *Engine) applyBuy(f fill, date time.Time) {
	name := ""
	if sec, ok := e.data.Security(f.order.Code); ok {
		name = sec.Name
	}
	e.portfolio.Buy(f.order.Code, name, f.exec.Quantity, f.exec.Price, f.exec.Commission, date)
	e.dayOrders = append(e.dayOrders, f.order)
	e.dayExecs = append(e.dayExecs, f.exec)
	e.metrics.Order(string(types.OrderSideBuy))
}

// applySell applies a sell fill to the ledger, fills in the realized P&L,
// and records it for the day
func (e *Engine) applySell(f *fill, date time.Time) {
	f.exec.RealizedPnL = e.portfolio.Sell(f.order.Code, f.exec.Quantity, f.exec.Price,
		f.exec.Commission, f.exec.Tax, date, f.order.Reason)
	e.dayOrders = append(e.dayOrders, f.order)
	e.dayExecs = append(e.dayExecs, f.exec)
	e.metrics.Order(string(types.OrderSideSell))
}

// buildSnapshot values the portfolio after the day's fills
func (e *Engine) buildSnapshot(date time.Time, prevValue float64) types.DailySnapshot {
	value := e.portfolio.Value()
	buys, sells := e.portfolio.Counts()
	commission, tax := e.portfolio.Costs()

	snap := types.DailySnapshot{
		RunID:           e.runID,
		Date:            date,
		PortfolioValue:  value,
		Cash:            e.portfolio.Cash(),
		InvestedAmount:  value - e.portfolio.Cash(),
		PositionCount:   len(e.portfolio.Positions()),
		BuyCount:        buys,
		SellCount:       sells,
		CumReturn:       value/e.strat.InitialCapital - 1,
		TotalCommission: commission,
		TotalTax:        tax,
	}
	if prevValue > 0 {
		snap.DailyReturn = value/prevValue - 1
	}
	snap.BenchmarkReturn = e.benchmarkReturn(date)
	return snap
}

// benchmarkReturn is the benchmark security's daily close-to-close return
func (e *Engine) benchmarkReturn(date time.Time) float64 {
	if e.strat.Benchmark == "" {
		return 0
	}
	bar, ok := e.data.Bar(e.strat.Benchmark, date)
	if !ok {
		return 0
	}
	prev := e.benchPrev
	e.benchPrev = bar.Close
	if prev <= 0 {
		return 0
	}
	return bar.Close/prev - 1
}

// persistDay writes the day's snapshot and fills as one unit, retrying per
// the configured budget before giving up
func (e *Engine) persistDay(ctx context.Context, snap types.DailySnapshot) error {
	if e.store == nil {
		return nil
	}
	attempts := e.cfg.SnapshotRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = e.store.SaveDay(ctx, snap, e.dayOrders, e.dayExecs); err == nil {
			if i > 0 {
				e.metrics.SnapshotWrite("retried")
			} else {
				e.metrics.SnapshotWrite("ok")
			}
			return nil
		}
	}
	e.metrics.SnapshotWrite("failed")
	return err
}

// writeProgress persists the progress record. Routine updates go through
// the rate limiter; forced writes (status changes, final day) always land.
func (e *Engine) writeProgress(ctx context.Context, status types.RunStatus, pct float64, date time.Time, msg string, force bool) {
	if e.store == nil {
		return
	}
	if !force && !e.progress.Allow() {
		return
	}
	buys, sells := e.portfolio.Counts()
	p := types.Progress{
		RunID:       e.runID,
		Status:      status,
		Percent:     pct,
		CurrentDate: date,
		BuyCount:    buys,
		SellCount:   sells,
		Return:      e.portfolio.Value()/e.strat.InitialCapital - 1,
		MaxDrawdown: e.maxDD,
		Message:     msg,
	}
	if err := e.store.SaveProgress(ctx, p); err != nil {
		e.log.Debug("progress write failed", "run_id", e.runID, "error", err)
	}
}

func percent(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}
