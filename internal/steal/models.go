package steal

import (
	"time"

	"github.com/shopspring/decimal"
)

type StealAttempt struct {
	StealID          string          `gorm:"column:steal_id;primaryKey;type:uuid;default:uuid_generate_v4()"`
	ThiefID          string          `gorm:"column:thief_id;type:uuid;not null"`
	TargetID         string          `gorm:"column:target_id;type:uuid;not null"`
	StealPercentage  int             `gorm:"column:steal_percentage;not null"`
	PotentialAmount  decimal.Decimal `gorm:"column:potential_amount;type:numeric(20,2);not null"`
	TargetWasOnline  bool            `gorm:"column:target_was_online;not null"`
	DefenseWindowEnd *time.Time      `gorm:"column:defense_window_end"`
	WasDefended      bool            `gorm:"column:was_defended;not null;default:false"`
	StolenAmount     decimal.Decimal `gorm:"column:stolen_amount;type:numeric(20,2);not null;default:0"`
	Status           string          `gorm:"column:status;type:varchar(20);not null;default:'in_progress'"`
	CreatedAt        time.Time       `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;not null;default:now()"`
}

const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusDefended   = "defended"
)

const (
	// MinTargetBalance is the least a target may hold to be worth
	// robbing; exactly this much is allowed.
	MinTargetBalance = 10
	// DefenseWindow is how long an online target has to defend.
	DefenseWindow = 16 * time.Second
	// OnlineThreshold: a login strictly more recent than this counts as
	// online; exactly this old counts as offline.
	OnlineThreshold = 5 * time.Minute

	MinStealPercent = 1
	MaxStealPercent = 50
)

// Percentage of the target's balance a thief can go for. Deterministic
// on purpose: anything that moves money must be reproducible from stored
// stats. Practice raises the cut, getting caught lowers it, and low
// trust raises it.
func Percentage(trustScore, stealsSuccessful, stealsDefended int) int {
	pct := 10 + 2*stealsSuccessful - 3*stealsDefended + (50-trustScore)/10
	if pct < MinStealPercent {
		return MinStealPercent
	}
	if pct > MaxStealPercent {
		return MaxStealPercent
	}
	return pct
}

type InitiateResult struct {
	Success          bool            `json:"success"`
	Error            string          `json:"error,omitempty"`
	StealID          string          `json:"steal_id,omitempty"`
	PotentialAmount  decimal.Decimal `json:"potential_amount"`
	TargetWasOnline  bool            `json:"target_was_online"`
	DefenseWindowEnd *time.Time      `json:"defense_window_end,omitempty"`
}

type DefendResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type CompleteResult struct {
	Success         bool            `json:"success"`
	Error           string          `json:"error,omitempty"`
	Status          string          `json:"status,omitempty"`
	StolenAmount    decimal.Decimal `json:"stolen_amount"`
	ThiefNewBalance decimal.Decimal `json:"thief_new_balance"`
}
