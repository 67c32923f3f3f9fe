package market

import "time"

// DateLayout is the canonical key format for trading dates
const DateLayout = "2006-01-02"

// DateKey formats a date as a map key, dropping any time-of-day component
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Security is the immutable identity of a listed equity
type Security struct {
	Code   string
	Name   string
	Sector string
	Themes []string
}

// PriceBar is one daily OHLCV fact for a security. Append-only.
type PriceBar struct {
	Code         string
	Date         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	Value        float64 // traded value for the day
	MarketCap    float64
	ListedShares int64
}

// ReportType distinguishes annual from quarterly statements
type ReportType string

const (
	ReportAnnual    ReportType = "ANNUAL"
	ReportQuarterly ReportType = "QUARTERLY"
)

// FinancialSnapshot is one published financial statement for a security.
// Several exist per security; factor computation selects the latest one with
// ReportDate on or before the evaluation date.
type FinancialSnapshot struct {
	Code               string
	FiscalYear         int
	FiscalQuarter      int // 1..4; 4 for annual reports
	ReportType         ReportType
	ReportDate         time.Time // publication date, drives selection
	PeriodEnd          time.Time
	Revenue            float64
	OperatingProfit    float64
	NetIncome          float64
	Equity             float64
	Assets             float64
	Liabilities        float64
	CurrentAssets      float64
	CurrentLiabilities float64
	OperatingCashFlow  float64
}
