package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Frequency is the rebalance schedule of a strategy
type Frequency string

const (
	RebalanceDaily     Frequency = "DAILY"
	RebalanceWeekly    Frequency = "WEEKLY"
	RebalanceMonthly   Frequency = "MONTHLY"
	RebalanceQuarterly Frequency = "QUARTERLY"
)

// SizingMethod selects how buy allocations are computed
type SizingMethod string

const (
	SizeEqualWeight SizingMethod = "EQUAL_WEIGHT"
	SizeMarketCap   SizingMethod = "MARKET_CAP"
	SizeRiskParity  SizingMethod = "RISK_PARITY"
)

// ConditionKind distinguishes the two arms of the condition tagged union
type ConditionKind string

const (
	KindComparison  ConditionKind = "comparison"
	KindCrossFactor ConditionKind = "cross_factor"
)

// Condition is one named atomic condition: factor OP threshold, or
// factor OP other-factor. Decoded from loosely-typed documents and
// validated once at run start.
type Condition struct {
	Factor      string
	Op          string // "<", ">", "<=", ">=", "=="
	Threshold   float64
	OtherFactor string
	Kind        ConditionKind
}

// Evaluate applies the condition to one security's factor values.
// A missing or NaN operand makes the condition false; it never errors.
func (c Condition) Evaluate(vals map[string]float64) bool {
	left, ok := vals[c.Factor]
	if !ok || math.IsNaN(left) {
		return false
	}
	var right float64
	if c.Kind == KindCrossFactor {
		right, ok = vals[c.OtherFactor]
		if !ok || math.IsNaN(right) {
			return false
		}
	} else {
		right = c.Threshold
	}
	switch c.Op {
	case "<":
		return left < right
	case ">":
		return left > right
	case "<=":
		return left <= right
	case ">=":
		return left >= right
	case "==":
		return left == right
	default:
		return false
	}
}

// rawCondition is the loose wire form: value may be a number or the name of
// another factor
type rawCondition struct {
	Factor string      `yaml:"factor" json:"factor"`
	Op     string      `yaml:"op" json:"op"`
	Value  interface{} `yaml:"value" json:"value"`
}

func (c *Condition) fromRaw(raw rawCondition) error {
	op, err := normalizeOp(raw.Op)
	if err != nil {
		return err
	}
	c.Factor = raw.Factor
	c.Op = op
	switch v := raw.Value.(type) {
	case float64:
		c.Kind = KindComparison
		c.Threshold = v
	case int:
		c.Kind = KindComparison
		c.Threshold = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("invalid numeric value %q", v)
		}
		c.Kind = KindComparison
		c.Threshold = f
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Kind = KindComparison
			c.Threshold = f
		} else {
			c.Kind = KindCrossFactor
			c.OtherFactor = v
		}
	default:
		return fmt.Errorf("condition value must be a number or factor name, got %T", raw.Value)
	}
	return nil
}

// UnmarshalYAML decodes the loose condition form from YAML
func (c *Condition) UnmarshalYAML(value *yaml.Node) error {
	var raw rawCondition
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return c.fromRaw(raw)
}

// UnmarshalJSON decodes the loose condition form from JSON
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw rawCondition
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return c.fromRaw(raw)
}

func normalizeOp(op string) (string, error) {
	switch op {
	case "<", "LT", "lt":
		return "<", nil
	case ">", "GT", "gt":
		return ">", nil
	case "<=", "LE", "le":
		return "<=", nil
	case ">=", "GE", "ge":
		return ">=", nil
	case "==", "=", "EQ", "eq":
		return "==", nil
	default:
		return "", fmt.Errorf("unknown operator %q", op)
	}
}

// ScreenOp is the comparison applied by a screening rule
type ScreenOp string

const (
	ScreenGT      ScreenOp = "GT"
	ScreenLT      ScreenOp = "LT"
	ScreenBetween ScreenOp = "BETWEEN"
)

// ScreeningRule shrinks the universe: factor against threshold(s).
// Also used for generic sell rules.
type ScreeningRule struct {
	Factor string   `yaml:"factor" json:"factor"`
	Op     ScreenOp `yaml:"op" json:"op"`
	Value  float64  `yaml:"value" json:"value"`
	Min    float64  `yaml:"min" json:"min"`
	Max    float64  `yaml:"max" json:"max"`
}

// Passes applies the rule to one security's factor values; NaN fails
func (r ScreeningRule) Passes(vals map[string]float64) bool {
	v, ok := vals[r.Factor]
	if !ok || math.IsNaN(v) {
		return false
	}
	switch r.Op {
	case ScreenGT:
		return v > r.Value
	case ScreenLT:
		return v < r.Value
	case ScreenBetween:
		return v >= r.Min && v <= r.Max
	default:
		return false
	}
}

// ScoringRule contributes a factor to the composite ranking score
type ScoringRule struct {
	Factor string  `yaml:"factor" json:"factor"`
	Weight float64 `yaml:"weight" json:"weight"` // defaults to 1.0
}

// Universe selects the tradable securities before screening
type Universe struct {
	Type   string   `yaml:"type" json:"type"` // "list", "theme", "all"
	Codes  []string `yaml:"codes" json:"codes"`
	Themes []string `yaml:"themes" json:"themes"`
}

// SellRules configures the exit side of the strategy
type SellRules struct {
	TargetGain  *float64             `yaml:"target_gain" json:"target_gain"` // percent
	StopLoss    *float64             `yaml:"stop_loss" json:"stop_loss"`     // percent, positive
	MinHoldDays int                  `yaml:"min_hold_days" json:"min_hold_days"`
	MaxHoldDays int                  `yaml:"max_hold_days" json:"max_hold_days"` // 0 = unlimited
	Rules       []ScreeningRule      `yaml:"rules" json:"rules"`                 // generic sell-condition rules
	Expression  string               `yaml:"expression" json:"expression"`       // condition-sell expression
	Conditions  map[string]Condition `yaml:"conditions" json:"conditions"`
	PriceOffset float64              `yaml:"price_offset" json:"price_offset"` // percent adj for condition/hold-day exits
}

// Strategy is the immutable-for-the-run configuration document
type Strategy struct {
	ID             string               `yaml:"id" json:"id"`
	Name           string               `yaml:"name" json:"name"`
	Universe       Universe             `yaml:"universe" json:"universe"`
	InitialCapital float64              `yaml:"initial_capital" json:"initial_capital"`
	StartDate      string               `yaml:"start_date" json:"start_date"`
	EndDate        string               `yaml:"end_date" json:"end_date"`
	BuyExpression  string               `yaml:"buy_expression" json:"buy_expression"`
	Conditions     map[string]Condition `yaml:"conditions" json:"conditions"`
	Screening      []ScreeningRule      `yaml:"screening" json:"screening"`
	Scoring        []ScoringRule        `yaml:"scoring" json:"scoring"`
	PriorityFactor string               `yaml:"priority_factor" json:"priority_factor"`
	PriorityOrder  string               `yaml:"priority_order" json:"priority_order"` // "asc" | "desc"
	MaxPositions   int                  `yaml:"max_positions" json:"max_positions"`
	PerStockRatio  float64              `yaml:"per_stock_ratio" json:"per_stock_ratio"` // fraction of portfolio value
	MaxBuyValue    float64              `yaml:"max_buy_value" json:"max_buy_value"`     // absolute cap per buy
	MaxDailyNew    int                  `yaml:"max_daily_new" json:"max_daily_new"`     // 0 = unlimited
	Rebalance      Frequency            `yaml:"rebalance" json:"rebalance"`
	Sizing         SizingMethod         `yaml:"sizing" json:"sizing"`
	RiskFactor     string               `yaml:"risk_factor" json:"risk_factor"` // for RISK_PARITY
	CommissionRate float64              `yaml:"commission_rate" json:"commission_rate"`
	TaxRate        float64              `yaml:"tax_rate" json:"tax_rate"` // sells only
	SlippageRate   float64              `yaml:"slippage_rate" json:"slippage_rate"`
	Benchmark      string               `yaml:"benchmark" json:"benchmark"`
	Sell           SellRules            `yaml:"sell" json:"sell"`

	start time.Time
	end   time.Time
}

// Start returns the parsed start date; valid only after Validate
func (s *Strategy) Start() time.Time { return s.start }

// End returns the parsed end date; valid only after Validate
func (s *Strategy) End() time.Time { return s.end }

// ReferencedFactors returns the factor names this strategy actually uses,
// so the engine can skip the full-registry fallback
func (s *Strategy) ReferencedFactors() []string {
	set := make(map[string]struct{})
	add := func(names ...string) {
		for _, n := range names {
			if n != "" {
				set[n] = struct{}{}
			}
		}
	}
	for _, c := range s.Conditions {
		add(c.Factor, c.OtherFactor)
	}
	for _, c := range s.Sell.Conditions {
		add(c.Factor, c.OtherFactor)
	}
	for _, r := range s.Screening {
		add(r.Factor)
	}
	for _, r := range s.Sell.Rules {
		add(r.Factor)
	}
	for _, r := range s.Scoring {
		add(r.Factor)
	}
	add(s.PriorityFactor)
	if s.Sizing == SizeMarketCap {
		add("MARKET_CAP")
	}
	if s.Sizing == SizeRiskParity {
		add(s.RiskFactorOrDefault())
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Strategy) RiskFactorOrDefault() string {
	if s.RiskFactor != "" {
		return s.RiskFactor
	}
	return "VOLATILITY_20D"
}
