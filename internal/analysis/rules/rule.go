// Package rules scores instruments against declarative rule sets.
package rules

import (
	"encoding/json"
	"fmt"

	"radar-trader/internal/analysis"
	"radar-trader/internal/models"
)

// Kind tags the variant of a rule.
type Kind string

const (
	KindIndicator Kind = "indicator"
	KindPattern   Kind = "pattern"
	KindCustom    Kind = "custom"
)

// Condition is the comparison applied by indicator rules.
type Condition string

const (
	LessThan    Condition = "less_than"
	GreaterThan Condition = "greater_than"
	Equals      Condition = "equals"
)

// Family groups rules for volatility adjustments.
type Family string

const (
	FamilyNone           Family = ""
	FamilyMeanReversion  Family = "mean_reversion"
	FamilyTrendFollowing Family = "trend_following"
)

// Threshold is the number, string or bool an indicator is compared with.
type Threshold struct {
	num  *float64
	text *string
	flag *bool
}

// Number returns a numeric threshold.
func Number(v float64) Threshold { return Threshold{num: &v} }

// Text returns a string threshold.
func Text(v string) Threshold { return Threshold{text: &v} }

// Flag returns a boolean threshold.
func Flag(v bool) Threshold { return Threshold{flag: &v} }

// IsZero reports whether no threshold was set.
func (t Threshold) IsZero() bool {
	return t.num == nil && t.text == nil && t.flag == nil
}

// Compare applies cond between an indicator value and the threshold. Values
// of a different type than the threshold never match.
func (t Threshold) Compare(cond Condition, value interface{}) bool {
	switch v := value.(type) {
	case float64:
		if t.num == nil {
			return false
		}
		switch cond {
		case LessThan:
			return v < *t.num
		case GreaterThan:
			return v > *t.num
		case Equals:
			return v == *t.num
		}
	case string:
		return cond == Equals && t.text != nil && v == *t.text
	case bool:
		return cond == Equals && t.flag != nil && v == *t.flag
	}
	return false
}

func (t Threshold) String() string {
	switch {
	case t.num != nil:
		return fmt.Sprintf("%g", *t.num)
	case t.text != nil:
		return *t.text
	case t.flag != nil:
		return fmt.Sprintf("%t", *t.flag)
	}
	return "<none>"
}

// MarshalJSON writes the threshold as a bare JSON value.
func (t Threshold) MarshalJSON() ([]byte, error) {
	switch {
	case t.num != nil:
		return json.Marshal(*t.num)
	case t.text != nil:
		return json.Marshal(*t.text)
	case t.flag != nil:
		return json.Marshal(*t.flag)
	}
	return []byte("null"), nil
}

// UnmarshalJSON reads a bare JSON number, string or bool.
func (t *Threshold) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*t = Threshold{}
	case float64:
		*t = Number(v)
	case string:
		*t = Text(v)
	case bool:
		*t = Flag(v)
	default:
		return fmt.Errorf("unsupported threshold %s", string(data))
	}
	return nil
}

// Rule is one entry of the rule catalog. Indicator rules use Indicator,
// Condition and Value; pattern and custom rules name a registered predicate.
type Rule struct {
	Name      string          `json:"name"`
	Kind      Kind            `json:"type"`
	Signal    analysis.Signal `json:"signal"`
	Indicator string          `json:"indicator,omitempty"`
	Condition Condition       `json:"condition,omitempty"`
	Value     Threshold       `json:"value"`
	Predicate string          `json:"predicate,omitempty"`
	Message   string          `json:"message"`
	Score     int             `json:"score"`
	Family    Family          `json:"family,omitempty"`
}

// CustomPredicate evaluates a rule against the indicator set.
type CustomPredicate func(ind models.IndicatorSet) bool

var customRegistry = map[string]CustomPredicate{
	"pullback_to_support": pullbackToSupport,
}

// LookupCustom returns the named custom predicate.
func LookupCustom(name string) (CustomPredicate, bool) {
	p, ok := customRegistry[name]
	return p, ok
}

// pullbackToSupport holds in an uptrend (EMA50 above EMA200) when the candle
// dipped below EMA20 and closed back above it.
func pullbackToSupport(ind models.IndicatorSet) bool {
	if ind.EMA20 == nil || ind.EMA50 == nil || ind.EMA200 == nil || ind.Low == nil || ind.Close == nil {
		return false
	}
	return *ind.EMA50 > *ind.EMA200 && *ind.Low < *ind.EMA20 && *ind.EMA20 < *ind.Close
}
