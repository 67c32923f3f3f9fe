package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"qback/internal/database"
)

// Store provides read access to price and financial history
type Store interface {
	Securities(ctx context.Context) ([]Security, error)
	SecuritiesByTheme(ctx context.Context, themes []string) ([]Security, error)
	Bars(ctx context.Context, codes []string, from, to time.Time) ([]PriceBar, error)
	Financials(ctx context.Context, codes []string, upTo time.Time) ([]FinancialSnapshot, error)
}

// PostgresStore reads market history from the relational store
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a postgres-backed market store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Securities returns all listed securities
func (s *PostgresStore) Securities(ctx context.Context) ([]Security, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, sector, COALESCE(themes, '{}')
		FROM securities
		ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()
	return scanSecurities(rows)
}

// SecuritiesByTheme returns securities tagged with any of the given themes
func (s *PostgresStore) SecuritiesByTheme(ctx context.Context, themes []string) ([]Security, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, sector, COALESCE(themes, '{}')
		FROM securities
		WHERE themes && $1
		ORDER BY code`, pq.Array(themes))
	if err != nil {
		return nil, fmt.Errorf("failed to query securities by theme: %w", err)
	}
	defer rows.Close()
	return scanSecurities(rows)
}

func scanSecurities(rows *sql.Rows) ([]Security, error) {
	var securities []Security
	for rows.Next() {
		var sec Security
		if err := rows.Scan(&sec.Code, &sec.Name, &sec.Sector, pq.Array(&sec.Themes)); err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		securities = append(securities, sec)
	}
	return securities, rows.Err()
}

// Bars returns daily price bars for the codes within [from, to]
func (s *PostgresStore) Bars(ctx context.Context, codes []string, from, to time.Time) ([]PriceBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, trade_date, open, high, low, close,
		       volume, trading_value, market_cap, listed_shares
		FROM price_bars
		WHERE code = ANY($1) AND trade_date BETWEEN $2 AND $3
		ORDER BY code, trade_date`, pq.Array(codes), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query price bars: %w", err)
	}
	defer rows.Close()

	var bars []PriceBar
	for rows.Next() {
		var b PriceBar
		if err := rows.Scan(&b.Code, &b.Date, &b.Open, &b.High, &b.Low, &b.Close,
			&b.Volume, &b.Value, &b.MarketCap, &b.ListedShares); err != nil {
			return nil, fmt.Errorf("failed to scan price bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Financials returns statements published on or before upTo for the codes
func (s *PostgresStore) Financials(ctx context.Context, codes []string, upTo time.Time) ([]FinancialSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, fiscal_year, fiscal_quarter, report_type, report_date, period_end,
		       revenue, operating_profit, net_income, equity, assets, liabilities,
		       current_assets, current_liabilities, operating_cash_flow
		FROM financial_snapshots
		WHERE code = ANY($1) AND report_date <= $2
		ORDER BY code, report_date`, pq.Array(codes), upTo)
	if err != nil {
		return nil, fmt.Errorf("failed to query financial snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []FinancialSnapshot
	for rows.Next() {
		var f FinancialSnapshot
		if err := rows.Scan(&f.Code, &f.FiscalYear, &f.FiscalQuarter, &f.ReportType,
			&f.ReportDate, &f.PeriodEnd, &f.Revenue, &f.OperatingProfit, &f.NetIncome,
			&f.Equity, &f.Assets, &f.Liabilities, &f.CurrentAssets, &f.CurrentLiabilities,
			&f.OperatingCashFlow); err != nil {
			return nil, fmt.Errorf("failed to scan financial snapshot: %w", err)
		}
		snapshots = append(snapshots, f)
	}
	return snapshots, rows.Err()
}
