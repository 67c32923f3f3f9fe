package strategy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"qback/internal/condition"
	"qback/internal/errors"
	"qback/internal/factor"
	"qback/internal/market"
)

// Load reads a strategy document from a YAML (or JSON, which YAML parses)
// file and validates it
func Load(path string) (*Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}
	var s Strategy
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.New(errors.ErrCodeStrategyInvalid, "failed to parse strategy document", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the document once at run start. A strategy that passes is
// safe to hand to the simulator unchanged.
func (s *Strategy) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return errors.New(errors.ErrCodeStrategyInvalid, fmt.Sprintf(format, args...), nil)
	}

	if s.Name == "" {
		return fail("strategy name is required")
	}
	if s.InitialCapital <= 0 {
		return fail("initial_capital must be positive, got %f", s.InitialCapital)
	}

	var err error
	if s.start, err = time.Parse(market.DateLayout, s.StartDate); err != nil {
		return fail("invalid start_date %q", s.StartDate)
	}
	if s.end, err = time.Parse(market.DateLayout, s.EndDate); err != nil {
		return fail("invalid end_date %q", s.EndDate)
	}
	if !s.start.Before(s.end) {
		return fail("start_date %s must precede end_date %s", s.StartDate, s.EndDate)
	}

	switch s.Universe.Type {
	case "list":
		if len(s.Universe.Codes) == 0 {
			return fail("universe type list requires codes")
		}
	case "theme":
		if len(s.Universe.Themes) == 0 {
			return fail("universe type theme requires themes")
		}
	case "all", "":
	default:
		return fail("unknown universe type %q", s.Universe.Type)
	}

	if s.MaxPositions < 0 {
		return fail("max_positions must not be negative")
	}
	if s.PerStockRatio < 0 || s.PerStockRatio > 1 {
		return fail("per_stock_ratio must be within [0,1], got %f", s.PerStockRatio)
	}
	for _, rate := range []struct {
		name  string
		value float64
	}{
		{"commission_rate", s.CommissionRate},
		{"tax_rate", s.TaxRate},
		{"slippage_rate", s.SlippageRate},
	} {
		if rate.value < 0 || rate.value >= 1 {
			return fail("%s must be within [0,1), got %f", rate.name, rate.value)
		}
	}

	switch s.Rebalance {
	case RebalanceDaily, RebalanceWeekly, RebalanceMonthly, RebalanceQuarterly:
	case "":
		s.Rebalance = RebalanceMonthly
	default:
		return fail("unknown rebalance frequency %q", s.Rebalance)
	}

	switch s.Sizing {
	case SizeEqualWeight, SizeMarketCap, SizeRiskParity:
	case "":
		s.Sizing = SizeEqualWeight
	default:
		return fail("unknown sizing method %q", s.Sizing)
	}

	switch s.PriorityOrder {
	case "asc", "desc", "":
	default:
		return fail("priority_order must be asc or desc, got %q", s.PriorityOrder)
	}

	if len(s.Conditions) > 0 && s.BuyExpression == "" {
		return fail("conditions are defined but buy_expression is empty")
	}
	if len(s.Sell.Conditions) > 0 && s.Sell.Expression == "" {
		return fail("sell.conditions are defined but sell.expression is empty")
	}
	if err := validateExpression(s.BuyExpression, s.Conditions, "buy_expression"); err != nil {
		return err
	}
	if err := validateExpression(s.Sell.Expression, s.Sell.Conditions, "sell.expression"); err != nil {
		return err
	}

	for id, c := range s.Conditions {
		if err := validateCondition(id, c); err != nil {
			return err
		}
	}
	for id, c := range s.Sell.Conditions {
		if err := validateCondition(id, c); err != nil {
			return err
		}
	}
	for _, r := range append(append([]ScreeningRule{}, s.Screening...), s.Sell.Rules...) {
		if !factor.Exists(r.Factor) {
			return fail("screening rule references unknown factor %q", r.Factor)
		}
		if r.Op != ScreenGT && r.Op != ScreenLT && r.Op != ScreenBetween {
			return fail("screening rule for %q has unknown op %q", r.Factor, r.Op)
		}
	}
	for _, r := range s.Scoring {
		if !factor.Exists(r.Factor) {
			return fail("scoring rule references unknown factor %q", r.Factor)
		}
	}
	if s.PriorityFactor != "" && !factor.Exists(s.PriorityFactor) {
		return fail("unknown priority_factor %q", s.PriorityFactor)
	}
	if s.Sizing == SizeRiskParity && !factor.Exists(s.RiskFactorOrDefault()) {
		return fail("unknown risk_factor %q", s.RiskFactor)
	}

	if s.Sell.TargetGain != nil && *s.Sell.TargetGain <= 0 {
		return fail("sell.target_gain must be positive")
	}
	if s.Sell.StopLoss != nil && *s.Sell.StopLoss <= 0 {
		return fail("sell.stop_loss must be positive")
	}
	if s.Sell.MinHoldDays < 0 || s.Sell.MaxHoldDays < 0 {
		return fail("hold day limits must not be negative")
	}
	if s.Sell.MaxHoldDays > 0 && s.Sell.MinHoldDays > s.Sell.MaxHoldDays {
		return fail("sell.min_hold_days exceeds sell.max_hold_days")
	}

	return nil
}

func validateCondition(id string, c Condition) error {
	if !factor.Exists(c.Factor) {
		return errors.New(errors.ErrCodeFactorUnknown,
			fmt.Sprintf("condition %q references unknown factor %q", id, c.Factor), nil)
	}
	if c.Kind == KindCrossFactor && !factor.Exists(c.OtherFactor) {
		return errors.New(errors.ErrCodeFactorUnknown,
			fmt.Sprintf("condition %q references unknown factor %q", id, c.OtherFactor), nil)
	}
	return nil
}

func validateExpression(expr string, conditions map[string]Condition, field string) error {
	if expr == "" {
		return nil
	}
	node, err := condition.Parse(expr)
	if err != nil {
		return errors.New(errors.ErrCodeExpressionParse,
			fmt.Sprintf("invalid %s: %v", field, err), err)
	}
	for _, id := range condition.Identifiers(node) {
		if _, ok := conditions[id]; !ok {
			return errors.New(errors.ErrCodeExpressionParse,
				fmt.Sprintf("%s references undefined condition %q", field, id), nil)
		}
	}
	return nil
}
