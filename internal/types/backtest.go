package types

import "time"

// RunStatus represents the lifecycle state of a backtest run
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusNoData    RunStatus = "NO_DATA"
)

// Terminal reports whether the status can no longer change
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusNoData
}

// OrderSide represents the direction of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderReason records why the simulator generated an order
type OrderReason string

const (
	ReasonEntry            OrderReason = "ENTRY"
	ReasonRebalance        OrderReason = "REBALANCE"
	ReasonScreeningExit    OrderReason = "SCREENING_EXIT"
	ReasonMaxHoldDays      OrderReason = "MAX_HOLD_DAYS"
	ReasonStopLoss         OrderReason = "STOP_LOSS"
	ReasonTargetGain       OrderReason = "TARGET_GAIN"
	ReasonSellRule         OrderReason = "SELL_RULE"
	ReasonConditionSell    OrderReason = "CONDITION_SELL"
	ReasonFinalLiquidation OrderReason = "FINAL_LIQUIDATION"
)

// Order represents a simulated order intent
type Order struct {
	ID       string
	RunID    string
	Code     string
	Side     OrderSide
	Reason   OrderReason
	Quantity int64
	Date     time.Time
}

// Execution represents the simulated same-day fill of an order.
// Orders and executions are 1:1; there are no partial or rejected fills.
type Execution struct {
	ID          string
	OrderID     string
	RunID       string
	Code        string
	Side        OrderSide
	Reason      OrderReason
	Quantity    int64
	Price       float64 // fill price after slippage
	Commission  float64
	Tax         float64 // sells only
	Amount      float64 // gross quantity*price
	RealizedPnL float64 // sells only
	Date        time.Time
}

// Position represents one open lot for a security. A repeat buy updates the
// weighted-average entry price and date, it never creates a second lot.
type Position struct {
	Code         string
	Name         string
	Quantity     int64
	AvgPrice     float64
	EntryDate    time.Time
	CurrentPrice float64
}

// MarketValue returns the marked value of the position
func (p *Position) MarketValue() float64 {
	return float64(p.Quantity) * p.CurrentPrice
}

// UnrealizedPnL returns the open profit against the weighted-average entry
func (p *Position) UnrealizedPnL() float64 {
	return float64(p.Quantity) * (p.CurrentPrice - p.AvgPrice)
}

// ClosedPosition is the history record written exactly once per full exit
type ClosedPosition struct {
	Code        string
	Quantity    int64
	AvgPrice    float64
	EntryDate   time.Time
	ExitDate    time.Time
	ExitPrice   float64
	RealizedPnL float64
	Reason      OrderReason
}

// DailySnapshot is the append-only end-of-day record of portfolio state.
// PortfolioValue is always Cash plus the sum of position market values.
type DailySnapshot struct {
	RunID           string
	Date            time.Time
	PortfolioValue  float64
	Cash            float64
	InvestedAmount  float64
	PositionCount   int
	BuyCount        int
	SellCount       int
	DailyReturn     float64
	CumReturn       float64
	BenchmarkReturn float64
	TotalCommission float64
	TotalTax        float64
}

// Progress is the bounded-cadence run progress record polled by the API layer
type Progress struct {
	RunID       string
	Status      RunStatus
	Percent     float64
	CurrentDate time.Time
	BuyCount    int
	SellCount   int
	Return      float64
	MaxDrawdown float64
	Message     string
}

// RunStatistics is the single write-once statistics record per run
type RunStatistics struct {
	RunID            string
	InitialCapital   float64
	FinalValue       float64
	TotalReturn      float64
	AnnualizedReturn float64
	Volatility       float64
	MaxDrawdown      float64
	SharpeRatio      float64
	SortinoRatio     float64
	CalmarRatio      float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgWin           float64
	AvgLoss          float64
	ProfitFactor     float64
	TotalCommission  float64
	TotalTax         float64
	StartDate        time.Time
	EndDate          time.Time
}

// PeriodReturn is a calendar month or year rollup of the snapshot series
type PeriodReturn struct {
	RunID      string
	Period     string // "2023-07" or "2023"
	StartValue float64
	EndValue   float64
	Return     float64
	BuyCount   int
	SellCount  int
	WinRate    float64
}

// TradeMatch pairs a SELL with the oldest unmatched BUY (FIFO) for display.
// The simulator itself costs positions by weighted average; the two models
// are intentionally never reconciled.
type TradeMatch struct {
	Code        string
	Quantity    int64
	BuyDate     time.Time
	BuyPrice    float64
	SellDate    time.Time
	SellPrice   float64
	RealizedPnL float64
	HoldingDays int
}
