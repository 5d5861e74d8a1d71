package rules

import (
	"fmt"

	"radar-trader/internal/analysis"
	"radar-trader/internal/analysis/patterns"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

// DefaultRules returns the global rule catalog in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "RSI Oversold", Kind: KindIndicator, Signal: analysis.SignalBullish,
			Indicator: models.KeyRSI, Condition: LessThan, Value: Number(30),
			Message: "RSI is oversold at {RSI:.2f}.", Score: 1, Family: FamilyMeanReversion,
		},
		{
			Name: "RSI Overbought", Kind: KindIndicator, Signal: analysis.SignalBearish,
			Indicator: models.KeyRSI, Condition: GreaterThan, Value: Number(70),
			Message: "RSI is overbought at {RSI:.2f}.", Score: 1, Family: FamilyMeanReversion,
		},
		{
			Name: "Bullish MACD Cross", Kind: KindIndicator, Signal: analysis.SignalBullish,
			Indicator: models.KeyMACDCrossover, Condition: Equals, Value: Text(string(models.MACDCrossoverBullish)),
			Message: "Bullish MACD crossover occurred.", Score: 1, Family: FamilyTrendFollowing,
		},
		{
			Name: "Bearish MACD Cross", Kind: KindIndicator, Signal: analysis.SignalBearish,
			Indicator: models.KeyMACDCrossover, Condition: Equals, Value: Text(string(models.MACDCrossoverBearish)),
			Message: "Bearish MACD crossover occurred.", Score: 1, Family: FamilyTrendFollowing,
		},
		{
			Name: "Golden Cross Event", Kind: KindIndicator, Signal: analysis.SignalBullish,
			Indicator: models.KeyCrossover, Condition: Equals, Value: Text(string(models.CrossoverGolden)),
			Message: "Bullish 'Golden Cross' (50-EMA over 200-EMA) occurred.", Score: 2, Family: FamilyTrendFollowing,
		},
		{
			Name: "Death Cross Event", Kind: KindIndicator, Signal: analysis.SignalBearish,
			Indicator: models.KeyCrossover, Condition: Equals, Value: Text(string(models.CrossoverDeath)),
			Message: "Bearish 'Death Cross' (50-EMA under 200-EMA) occurred.", Score: 2, Family: FamilyTrendFollowing,
		},
		{
			Name: "Pullback to Support", Kind: KindCustom, Signal: analysis.SignalBullish,
			Predicate: "pullback_to_support",
			Message:   "Price pulled back and bounced from the 20-day EMA support.", Score: 2,
		},
		{
			Name: "Bollinger Band Squeeze", Kind: KindIndicator, Signal: analysis.SignalNeutral,
			Indicator: models.KeyBBWidth, Condition: LessThan, Value: Number(0.10),
			Message: "Bollinger Bands are in a tight squeeze (width {BB_Width:.2f}).", Score: 1,
		},
		{
			Name: "Volume Spike", Kind: KindIndicator, Signal: analysis.SignalNeutral,
			Indicator: models.KeyVolumeSpike, Condition: Equals, Value: Flag(true),
			Message: "Significant volume spike detected.", Score: 1,
		},
		{
			Name: "Bullish Engulfing Pattern", Kind: KindPattern, Signal: analysis.SignalBullish,
			Predicate: patterns.BullishEngulfing,
			Message:   "Bullish Engulfing pattern detected.", Score: 1,
		},
		{
			Name: "Hammer Pattern", Kind: KindPattern, Signal: analysis.SignalBullish,
			Predicate: patterns.Hammer,
			Message:   "Hammer pattern detected, potential reversal.", Score: 1,
		},
	}
}

// Strategy is a named subset of the catalog selected by signal tag.
type Strategy struct {
	Name    string
	Signals []analysis.Signal
}

// Includes reports whether the strategy runs rules with signal s.
func (s Strategy) Includes(sig analysis.Signal) bool {
	for _, x := range s.Signals {
		if x == sig {
			return true
		}
	}
	return false
}

var allSignals = []analysis.Signal{analysis.SignalBullish, analysis.SignalBearish, analysis.SignalNeutral}

// DefaultStrategies returns the built-in strategies.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: models.StrategyDailyConfluence, Signals: allSignals},
		{Name: models.StrategyFull, Signals: allSignals},
		{Name: models.StrategyBullish, Signals: []analysis.Signal{analysis.SignalBullish, analysis.SignalNeutral}},
		{Name: models.StrategyBearish, Signals: []analysis.Signal{analysis.SignalBearish, analysis.SignalNeutral}},
	}
}

// Catalog holds the rule catalog and strategy definitions.
type Catalog struct {
	rules      []Rule
	strategies map[string]Strategy
}

// NewCatalog validates rules and strategies. Every predicate must resolve
// and every indicator rule must carry a condition and threshold.
func NewCatalog(rules []Rule, strategies []Strategy) (*Catalog, error) {
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, err
		}
	}

	c := &Catalog{
		rules:      rules,
		strategies: make(map[string]Strategy, len(strategies)),
	}
	for _, s := range strategies {
		c.strategies[s.Name] = s
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRules(), DefaultStrategies())
	if err != nil {
		panic(fmt.Sprintf("built-in rule catalog is invalid: %v", err))
	}
	return c
}

func validateRule(r Rule) error {
	if r.Score < 1 {
		return apperrors.NewConfigError("rule "+r.Name, r.Score, "score must be at least 1")
	}
	switch r.Kind {
	case KindIndicator:
		if r.Indicator == "" || r.Value.IsZero() {
			return apperrors.NewConfigError("rule "+r.Name, r.Indicator, "indicator rule needs an indicator and value")
		}
		switch r.Condition {
		case LessThan, GreaterThan, Equals:
		default:
			return apperrors.NewConfigError("rule "+r.Name, r.Condition, "unknown condition")
		}
	case KindPattern:
		if _, ok := patterns.Lookup(r.Predicate); !ok {
			return apperrors.NewConfigError("rule "+r.Name, r.Predicate, "unknown pattern predicate")
		}
	case KindCustom:
		if _, ok := LookupCustom(r.Predicate); !ok {
			return apperrors.NewConfigError("rule "+r.Name, r.Predicate, "unknown custom predicate")
		}
	default:
		return apperrors.NewConfigError("rule "+r.Name, r.Kind, "unknown rule type")
	}
	return nil
}

// Rules returns the full catalog.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// RulesForStrategy returns the catalog subset for a strategy in catalog
// order. An unknown strategy or one selecting no rules is a configuration
// error.
func (c *Catalog) RulesForStrategy(name string) ([]Rule, error) {
	s, ok := c.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUnknownStrategy, apperrors.NewConfigError("strategy", name, "not in catalog"))
	}

	var out []Rule
	for _, r := range c.rules {
		if s.Includes(r.Signal) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, apperrors.NewConfigError("strategy", name, "no rules defined")
	}
	return out, nil
}

// SelectStrategy picks the scan strategy for the market trend.
func SelectStrategy(trend analysis.Trend) string {
	switch trend {
	case analysis.TrendUp:
		return models.StrategyBullish
	case analysis.TrendDown:
		return models.StrategyBearish
	default:
		return models.StrategyFull
	}
}
