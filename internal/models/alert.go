package models

import (
	"time"
)

// AlertStatus is the lifecycle status of an alert.
type AlertStatus string

const (
	AlertActive    AlertStatus = "ACTIVE"
	AlertExpired   AlertStatus = "EXPIRED"
	AlertTriggered AlertStatus = "TRIGGERED"
	AlertCancelled AlertStatus = "CANCELLED"
)

// AlertPriority ranks alerts for the trading engine.
type AlertPriority string

const (
	PriorityLow      AlertPriority = "LOW"
	PriorityMedium   AlertPriority = "MEDIUM"
	PriorityHigh     AlertPriority = "HIGH"
	PriorityCritical AlertPriority = "CRITICAL"
)

// IsActionable reports whether the engine may trade on this priority.
func (p AlertPriority) IsActionable() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// PriorityForScore maps a screening score to a priority.
func PriorityForScore(score int) AlertPriority {
	switch {
	case score >= 5:
		return PriorityCritical
	case score >= 3:
		return PriorityHigh
	case score >= 2:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// AlertType distinguishes screening results from entry signals.
type AlertType string

const (
	AlertTypeScreening AlertType = "SCREENING"
	AlertTypeEntry     AlertType = "ENTRY"
)

// Strategy names that produce alerts.
const (
	StrategyDailyConfluence = "Daily_Confluence_Scan"
	StrategyBullish         = "Bullish_Scan"
	StrategyBearish         = "Bearish_Scan"
	StrategyFull            = "Full_Scan"
	StrategyORB             = "RealTime_ORB"
)

// IsBullishOrigin reports whether alerts from the strategy open long trades.
func IsBullishOrigin(strategy string) bool {
	return strategy == StrategyORB || strategy == StrategyBullish
}

// Alert is a scored trade setup for one instrument and strategy.
type Alert struct {
	ID            int64         `json:"id"`
	InstrumentKey string        `json:"instrument_key"`
	Symbol        string        `json:"symbol"`
	Strategy      string        `json:"strategy"`
	Score         int           `json:"score"`
	Reasons       []string      `json:"reasons"`
	Indicators    Snapshot      `json:"indicators"`
	Status        AlertStatus   `json:"status"`
	Priority      AlertPriority `json:"priority"`
	Type          AlertType     `json:"alert_type"`
	CreatedAt     time.Time     `json:"timestamp"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
}

// AlertPayload is the stored score and reasons of an alert.
type AlertPayload struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// Payload returns the score and reasons payload.
func (a *Alert) Payload() AlertPayload {
	reasons := a.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return AlertPayload{Score: a.Score, Reasons: reasons}
}

// IsExpired reports whether the alert has passed its expiry.
func (a *Alert) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// AlertFilter selects alerts from a store. Zero values are ignored.
type AlertFilter struct {
	Status        AlertStatus
	Priorities    []AlertPriority
	Type          AlertType
	Strategies    []string
	InstrumentKey string
	Since         time.Time
	Limit         int
}
