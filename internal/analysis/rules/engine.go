package rules

import (
	"fmt"
	"regexp"
	"strconv"

	"radar-trader/internal/analysis"
	"radar-trader/internal/analysis/patterns"
	"radar-trader/internal/models"
)

// Context carries the instrument- and market-level inputs to scoring.
type Context struct {
	Sector        string
	StrongSectors []string
	Volatility    analysis.Volatility
}

// NewContext builds a scoring context for one instrument.
func NewContext(sector string, market analysis.MarketContext) Context {
	return Context{
		Sector:        sector,
		StrongSectors: market.StrongSectors,
		Volatility:    market.Volatility,
	}
}

// Evaluate scores the indicator set and series against rules. Rules are
// applied in order; a rule whose indicator is missing contributes nothing.
func Evaluate(ind models.IndicatorSet, series models.Series, rules []Rule, ctx Context) (int, []string) {
	score := 0
	reasons := make([]string, 0, len(rules)+1)

	if (analysis.MarketContext{StrongSectors: ctx.StrongSectors}).IsStrongSector(ctx.Sector) {
		score++
		reasons = append(reasons, fmt.Sprintf("Sector %s is among today's strongest sectors.", ctx.Sector))
	}

	for _, r := range rules {
		if !triggered(r, ind, series) {
			continue
		}
		score += r.Score + volatilityBonus(r, ctx.Volatility)
		reasons = append(reasons, FormatMessage(r.Message, ind))
	}

	return score, reasons
}

func volatilityBonus(r Rule, v analysis.Volatility) int {
	switch {
	case v == analysis.VolatilityHigh && r.Family == FamilyMeanReversion:
		return 1
	case v == analysis.VolatilityLow && r.Family == FamilyTrendFollowing:
		return 1
	default:
		return 0
	}
}

func triggered(r Rule, ind models.IndicatorSet, series models.Series) bool {
	switch r.Kind {
	case KindIndicator:
		v, ok := ind.Value(r.Indicator)
		if !ok {
			return false
		}
		return r.Value.Compare(r.Condition, v)
	case KindPattern:
		p, ok := patterns.Lookup(r.Predicate)
		return ok && p(series)
	case KindCustom:
		p, ok := LookupCustom(r.Predicate)
		return ok && p(ind)
	}
	return false
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)(?::\.(\d+)f)?\}`)

// FormatMessage fills {Key} and {Key:.Nf} placeholders from the indicator
// set. Missing values render as "n/a".
func FormatMessage(tmpl string, ind models.IndicatorSet) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		v, ok := ind.Value(parts[1])
		if !ok {
			return "n/a"
		}
		switch x := v.(type) {
		case float64:
			if parts[2] != "" {
				prec, _ := strconv.Atoi(parts[2])
				return strconv.FormatFloat(x, 'f', prec, 64)
			}
			return strconv.FormatFloat(x, 'f', -1, 64)
		default:
			return fmt.Sprintf("%v", x)
		}
	})
}
