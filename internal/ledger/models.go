package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	WalletID               string          `gorm:"column:wallet_id;primaryKey;type:uuid;default:uuid_generate_v4()"`
	UserID                 string          `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Balance                decimal.Decimal `gorm:"column:balance;type:numeric(20,2);not null;default:0"`
	TrustScore             int             `gorm:"column:trust_score;not null;default:50"`
	WinStreak              int             `gorm:"column:win_streak;not null;default:0"`
	StealsSuccessful       int             `gorm:"column:steals_successful;not null;default:0"`
	StealsDefended         int             `gorm:"column:steals_defended;not null;default:0"`
	TimesRobbed            int             `gorm:"column:times_robbed;not null;default:0"`
	LastLoginAt            *time.Time      `gorm:"column:last_login_at"`
	LastAllowanceClaimedAt *time.Time      `gorm:"column:last_allowance_claimed_at"`
	Version                int             `gorm:"column:version;not null;default:1"`
	CreatedAt              time.Time       `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;not null;default:now()"`
}

type Transaction struct {
	TransactionID   string          `gorm:"column:transaction_id;primaryKey;type:uuid;default:uuid_generate_v4()"`
	WalletID        string          `gorm:"column:wallet_id;type:uuid;not null"`
	UserID          string          `gorm:"column:user_id;type:uuid;not null"`
	TransactionType string          `gorm:"column:transaction_type;type:varchar(30);not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null"` // signed, negative for debits
	BalanceBefore   decimal.Decimal `gorm:"column:balance_before;type:numeric(20,2);not null"`
	BalanceAfter    decimal.Decimal `gorm:"column:balance_after;type:numeric(20,2);not null"`
	ReferenceID     string          `gorm:"column:reference_id;type:varchar(255);not null"` // causing entity (bet, clash, steal, debt)
	CreatedAt       time.Time       `gorm:"column:created_at;not null;default:now()"`
}

const (
	TxTypeOpening      = "opening"
	TxTypeStakeLock    = "stake_lock"
	TxTypeStakeRefund  = "stake_refund"
	TxTypePotWin       = "pot_win"
	TxTypeClashLoss    = "clash_loss"
	TxTypeStealGain    = "steal_gain"
	TxTypeStealLoss    = "steal_loss"
	TxTypeStealPenalty = "steal_penalty"
	TxTypeLoan         = "loan"
	TxTypeRepayment    = "repayment"
	TxTypeAllowance    = "allowance"
)

type AllowanceResult struct {
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"new_balance"`
}
