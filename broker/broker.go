// Package broker holds the challenge-account data model shared by the risk
// calculator, the trade lifecycle manager and the position monitor.
package broker

import "time"

type Platform string

const (
	// PlatformMT5 trades forex/metal/crypto CFDs in lots.
	PlatformMT5 Platform = "mt5"
	// PlatformBybit trades linear perpetuals where volume is in base units.
	PlatformBybit Platform = "bybit"
	// PlatformSpot trades a whitelist of crypto pairs without leverage.
	PlatformSpot Platform = "spot"
)

type Phase string

const (
	Phase1 Phase = "PHASE1"
	Phase2 Phase = "PHASE2"
	Funded Phase = "FUNDED"
)

// Next returns the phase an account advances to once the current phase's
// target is met. FUNDED has no successor.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case Phase1:
		return Phase2, true
	case Phase2:
		return Funded, true
	}
	return p, false
}

type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusDailyLocked  Status = "DAILY_LOCKED"
	StatusDisqualified Status = "DISQUALIFIED"
	StatusClosed       Status = "CLOSED"
	StatusPaused       Status = "PAUSED"
)

func (s Status) Tradeable() bool { return s == StatusActive }

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Direction is +1 for BUY and -1 for SELL.
func (s Side) Direction() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

type PositionType string

const (
	CFD  PositionType = "CFD"
	Spot PositionType = "SPOT"
)

type CloseReason string

const (
	TPHit         CloseReason = "TP_HIT"
	SLHit         CloseReason = "SL_HIT"
	UserClose     CloseReason = "USER_CLOSE"
	RiskAutoClose CloseReason = "RISK_AUTO_CLOSE"
)

type ViolationType string

const (
	DailyDrawdown   ViolationType = "DAILY_DRAWDOWN"
	OverallDrawdown ViolationType = "OVERALL_DRAWDOWN"
)

// Account is one user's challenge attempt.
//
// MaxEquityToDate never decreases. Balance only moves when a trade closes;
// Equity moves on closes and on revaluation.
type Account struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	ChallengeID string   `json:"challengeId"`
	Platform    Platform `json:"platform"`
	Phase       Phase    `json:"phase"`
	Status      Status   `json:"status"`

	InitialBalance   float64 `json:"initialBalance"`
	Balance          float64 `json:"balance"`
	Equity           float64 `json:"equity"`
	MaxEquityToDate  float64 `json:"maxEquityToDate"`
	TodayStartEquity float64 `json:"todayStartEquity"`
	MinEquityToday   float64 `json:"minEquityToday"`
	MinEquityOverall float64 `json:"minEquityOverall"`

	LastDailyReset *time.Time `json:"lastDailyReset,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewAccount returns an ACTIVE PHASE1 account whose equity figures all start
// at the initial balance.
func NewAccount(id, userID, challengeID string, platform Platform, initial float64, now time.Time) Account {
	return Account{
		ID:               id,
		UserID:           userID,
		ChallengeID:      challengeID,
		Platform:         platform,
		Phase:            Phase1,
		Status:           StatusActive,
		InitialBalance:   initial,
		Balance:          initial,
		Equity:           initial,
		MaxEquityToDate:  initial,
		TodayStartEquity: initial,
		MinEquityToday:   initial,
		MinEquityOverall: initial,
		LastDailyReset:   &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Challenge is the immutable rule set an account is evaluated against. The
// percentages are pointers so a missing value can be told apart from zero.
type Challenge struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	AccountSize            float64  `json:"accountSize"`
	DailyDrawdownPercent   *float64 `json:"dailyDrawdownPercent"`
	OverallDrawdownPercent *float64 `json:"overallDrawdownPercent"`
	Phase1TargetPercent    *float64 `json:"phase1TargetPercent"`
	Phase2TargetPercent    *float64 `json:"phase2TargetPercent"`
	MinTradingDays         int      `json:"minTradingDays"`
}

// BreachSnapshot records account state at the moment a rule was breached.
type BreachSnapshot struct {
	Type            ViolationType `json:"type"`
	Equity          float64       `json:"equity"`
	Balance         float64       `json:"balance"`
	DrawdownPercent float64       `json:"drawdownPercent"`
	At              time.Time     `json:"at"`
}

// Trade is a single position. A nil ClosePrice means the trade is open.
// For open trades Profit holds the last marked floating P&L.
type Trade struct {
	ID           string       `json:"id"`
	AccountID    string       `json:"accountId"`
	Symbol       string       `json:"symbol"`
	Side         Side         `json:"type"`
	PositionType PositionType `json:"positionType"`
	Volume       float64      `json:"volume"`
	OpenPrice    float64      `json:"openPrice"`
	ClosePrice   *float64     `json:"closePrice"`
	StopLoss     *float64     `json:"stopLoss"`
	TakeProfit   *float64     `json:"takeProfit"`
	Profit       float64      `json:"profit"`
	Leverage     float64      `json:"leverage"`
	OpenedAt     time.Time    `json:"openedAt"`
	ClosedAt     *time.Time   `json:"closedAt"`
	CloseReason  CloseReason  `json:"closeReason,omitempty"`

	Breach WriteOnce[BreachSnapshot] `json:"breach"`
}

func (t Trade) IsOpen() bool { return t.ClosePrice == nil }

// SetCloseReason sets the reason if none is recorded yet. An existing reason
// is only ever replaced by RISK_AUTO_CLOSE.
func (t *Trade) SetCloseReason(r CloseReason) bool {
	if r == "" {
		return false
	}
	if t.CloseReason == "" || (r == RiskAutoClose && t.CloseReason != RiskAutoClose) {
		t.CloseReason = r
		return true
	}
	return false
}

// EquitySnapshot is an append-only equity sample.
type EquitySnapshot struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Equity    float64   `json:"equity"`
	Balance   float64   `json:"balance"`
	Time      time.Time `json:"time"`
}

// Violation is an immutable record of a rule breach.
type Violation struct {
	ID        string        `json:"id"`
	AccountID string        `json:"accountId"`
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Value     float64       `json:"value"`
	Limit     float64       `json:"limit"`
	CreatedAt time.Time     `json:"createdAt"`
}

// PhaseTransition is an immutable record of a phase advance.
type PhaseTransition struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	From      Phase     `json:"fromPhase"`
	To        Phase     `json:"toPhase"`
	At        time.Time `json:"timestamp"`
}
