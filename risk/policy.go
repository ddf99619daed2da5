package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/rustyeddy/propdesk/broker"
)

// ErrMissingRule is wrapped by ConfigError.
var ErrMissingRule = errors.New("challenge rule not configured")

// ConfigError reports a challenge that lacks a required rule percentage.
// An account with such a challenge cannot be evaluated.
type ConfigError struct {
	AccountID   string
	ChallengeID string
	Field       string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("challenge %s (account %s): %s is missing or invalid", e.ChallengeID, e.AccountID, e.Field)
}

func (e *ConfigError) Unwrap() error { return ErrMissingRule }

// Rules are the thresholds an account is held to in its current phase.
type Rules struct {
	DailyDrawdownLimit   float64 // percent
	OverallDrawdownLimit float64 // percent

	// ProfitTarget is the current phase's target percent. HasTarget is false
	// for FUNDED accounts.
	ProfitTarget float64
	HasTarget    bool

	MinTradingDays int
}

// RulesFor resolves the rules for a's current phase. A nil, non-finite or
// non-positive percentage is a ConfigError, never a zero limit.
func RulesFor(a broker.Account, c broker.Challenge) (Rules, error) {
	missing := func(field string) error {
		return &ConfigError{AccountID: a.ID, ChallengeID: c.ID, Field: field}
	}

	daily, ok := percent(c.DailyDrawdownPercent)
	if !ok {
		return Rules{}, missing("dailyDrawdownPercent")
	}
	overall, ok := percent(c.OverallDrawdownPercent)
	if !ok {
		return Rules{}, missing("overallDrawdownPercent")
	}

	r := Rules{
		DailyDrawdownLimit:   daily,
		OverallDrawdownLimit: overall,
		MinTradingDays:       max(c.MinTradingDays, 0),
	}

	switch a.Phase {
	case broker.Phase1:
		if r.ProfitTarget, ok = percent(c.Phase1TargetPercent); !ok {
			return Rules{}, missing("phase1TargetPercent")
		}
		r.HasTarget = true
	case broker.Phase2:
		if r.ProfitTarget, ok = percent(c.Phase2TargetPercent); !ok {
			return Rules{}, missing("phase2TargetPercent")
		}
		r.HasTarget = true
	}
	return r, nil
}

func percent(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) || *p <= 0 {
		return 0, false
	}
	return *p, true
}
