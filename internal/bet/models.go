package bet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bet is an immutable proposition. Only Status ever changes, and only
// through CancelBet before anyone besides the creator has swiped.
type Bet struct {
	BetID        string          `gorm:"column:bet_id;primaryKey;type:uuid;default:uuid_generate_v4()"`
	CreatorID    string          `gorm:"column:creator_id;type:uuid;not null"`
	Text         string          `gorm:"column:text;type:text;not null"`
	Category     string          `gorm:"column:category;type:varchar(50);not null"`
	BaseStake    decimal.Decimal `gorm:"column:base_stake;type:numeric(20,2);not null"`
	TargetUserID *string         `gorm:"column:target_user_id;type:uuid"`
	GroupID      *string         `gorm:"column:group_id;type:uuid"`
	Status       string          `gorm:"column:status;type:varchar(20);not null;default:'active'"`
	ExpiresAt    time.Time       `gorm:"column:expires_at;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null;default:now()"`
}

// Participant records one user's swipe on one bet. The unique index on
// (bet_id, user_id) is the idempotency guard against double-swiping.
type Participant struct {
	ParticipantID string          `gorm:"column:participant_id;primaryKey;type:uuid;default:uuid_generate_v4()"`
	BetID         string          `gorm:"column:bet_id;type:uuid;not null;uniqueIndex:idx_bet_user"`
	UserID        string          `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_bet_user"`
	Swipe         string          `gorm:"column:swipe;type:varchar(5);not null"`
	StakeLocked   bool            `gorm:"column:stake_locked;not null;default:false"`
	StakeAmount   decimal.Decimal `gorm:"column:stake_amount;type:numeric(20,2);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null;default:now()"`
}

const (
	VoteYes = "yes"
	VoteNo  = "no"
)

const (
	BetStatusActive    = "active"
	BetStatusCancelled = "cancelled"
)

const (
	MatchPending  = "pending"
	MatchHairball = "hairball"
	MatchClash    = "clash"
)

type SwipeResult struct {
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	MatchType    string          `json:"match_type,omitempty"`
	ClashID      string          `json:"clash_id,omitempty"`
	ClashCreated bool            `json:"clash_created"`
	NewBalance   decimal.Decimal `json:"new_balance"`
}

type CancelResult struct {
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Refunded decimal.Decimal `json:"refunded"`
}
