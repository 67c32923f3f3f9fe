// Package store persists backtest run output to postgres, with an in-memory
// variant for tests.
package store

import (
	"context"
	"database/sql"
	"time"

	"qback/internal/database"
	"qback/internal/errors"
	"qback/internal/types"
)

// PostgresStore writes run output to the backtest_* tables
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a result store over an open connection pool
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveProgress upserts the mutable run-status record. Every other run table
// is append-only; this is the single record that changes in place.
func (s *PostgresStore) SaveProgress(ctx context.Context, p types.Progress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(run_id, status, percent, current_date_at, buy_count, sell_count,
			 return, max_drawdown, message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			percent = EXCLUDED.percent,
			current_date_at = EXCLUDED.current_date_at,
			buy_count = EXCLUDED.buy_count,
			sell_count = EXCLUDED.sell_count,
			return = EXCLUDED.return,
			max_drawdown = EXCLUDED.max_drawdown,
			message = EXCLUDED.message,
			updated_at = NOW()`,
		p.RunID, p.Status, p.Percent, nullTime(p.CurrentDate), p.BuyCount, p.SellCount,
		p.Return, p.MaxDrawdown, p.Message)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDBWrite, "failed to save run progress")
	}
	return nil
}

// SaveDay writes one trading day's snapshot, orders and executions in a
// single transaction, so a partially persisted day never exists
func (s *PostgresStore) SaveDay(ctx context.Context, snap types.DailySnapshot, orders []types.Order, execs []types.Execution) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_daily_snapshots
				(run_id, date, portfolio_value, cash, invested_amount, position_count,
				 buy_count, sell_count, daily_return, cum_return, benchmark_return,
				 total_commission, total_tax)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			snap.RunID, snap.Date, snap.PortfolioValue, snap.Cash, snap.InvestedAmount,
			snap.PositionCount, snap.BuyCount, snap.SellCount, snap.DailyReturn,
			snap.CumReturn, snap.BenchmarkReturn, snap.TotalCommission, snap.TotalTax); err != nil {
			return err
		}
		for _, o := range orders {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO backtest_orders (id, run_id, code, side, reason, quantity, date)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				o.ID, o.RunID, o.Code, o.Side, o.Reason, o.Quantity, o.Date); err != nil {
				return err
			}
		}
		for _, ex := range execs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO backtest_executions
					(id, order_id, run_id, code, side, reason, quantity, price,
					 commission, tax, amount, realized_pnl, date)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				ex.ID, ex.OrderID, ex.RunID, ex.Code, ex.Side, ex.Reason, ex.Quantity,
				ex.Price, ex.Commission, ex.Tax, ex.Amount, ex.RealizedPnL, ex.Date); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDBWrite, "failed to save trading day")
	}
	return nil
}

// SaveResult writes the terminal run output: statistics, period rollups,
// FIFO trade matches and the closed-position history
func (s *PostgresStore) SaveResult(ctx context.Context, st types.RunStatistics, periods []types.PeriodReturn, matches []types.TradeMatch, closed []types.ClosedPosition) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_statistics
				(run_id, initial_capital, final_value, total_return, annualized_return,
				 volatility, max_drawdown, sharpe_ratio, sortino_ratio, calmar_ratio,
				 total_trades, winning_trades, losing_trades, win_rate, avg_win, avg_loss,
				 profit_factor, total_commission, total_tax, start_date, end_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
			st.RunID, st.InitialCapital, st.FinalValue, st.TotalReturn, st.AnnualizedReturn,
			st.Volatility, st.MaxDrawdown, st.SharpeRatio, st.SortinoRatio, st.CalmarRatio,
			st.TotalTrades, st.WinningTrades, st.LosingTrades, st.WinRate, st.AvgWin,
			st.AvgLoss, st.ProfitFactor, st.TotalCommission, st.TotalTax,
			nullTime(st.StartDate), nullTime(st.EndDate)); err != nil {
			return err
		}
		for _, pr := range periods {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO backtest_rollups
					(run_id, period, start_value, end_value, return, buy_count, sell_count, win_rate)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				pr.RunID, pr.Period, pr.StartValue, pr.EndValue, pr.Return,
				pr.BuyCount, pr.SellCount, pr.WinRate); err != nil {
				return err
			}
		}
		for _, m := range matches {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO backtest_trade_matches
					(run_id, code, quantity, buy_date, buy_price, sell_date, sell_price,
					 realized_pnl, holding_days)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				st.RunID, m.Code, m.Quantity, m.BuyDate, m.BuyPrice, m.SellDate,
				m.SellPrice, m.RealizedPnL, m.HoldingDays); err != nil {
				return err
			}
		}
		for _, cp := range closed {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO backtest_closed_positions
					(run_id, code, quantity, avg_price, entry_date, exit_date, exit_price,
					 realized_pnl, reason)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				st.RunID, cp.Code, cp.Quantity, cp.AvgPrice, cp.EntryDate, cp.ExitDate,
				cp.ExitPrice, cp.RealizedPnL, cp.Reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDBWrite, "failed to save run result")
	}
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
