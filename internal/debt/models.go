package debt

import (
	"time"

	"github.com/shopspring/decimal"
)

type Debt struct {
	DebtID                string          `gorm:"column:debt_id;primaryKey;type:uuid;default:uuid_generate_v4()"`
	UserID                string          `gorm:"column:user_id;type:uuid;not null"`
	Principal             decimal.Decimal `gorm:"column:principal;type:numeric(20,2);not null"`
	InterestRate          decimal.Decimal `gorm:"column:interest_rate;type:numeric(5,4);not null"`
	AccruedInterest       decimal.Decimal `gorm:"column:accrued_interest;type:numeric(20,2);not null;default:0"`
	AmountRepaid          decimal.Decimal `gorm:"column:amount_repaid;type:numeric(20,2);not null;default:0"`
	DueAt                 time.Time       `gorm:"column:due_at;not null"`
	LastInterestAccrualAt time.Time       `gorm:"column:last_interest_accrual_at;not null"`
	RepoTriggered         bool            `gorm:"column:repo_triggered;not null;default:false"`
	Status                string          `gorm:"column:status;type:varchar(20);not null;default:'active'"`
	CreatedAt             time.Time       `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;not null;default:now()"`
}

const (
	StatusActive        = "active"
	StatusRepaid        = "repaid"
	StatusRepoTriggered = "repo_triggered"
)

// TotalOwed is principal + accrued interest - repaid, never negative.
func (d *Debt) TotalOwed() decimal.Decimal {
	owed := d.Principal.Add(d.AccruedInterest).Sub(d.AmountRepaid)
	if owed.IsNegative() {
		return decimal.Zero
	}
	return owed
}

var (
	minStake     = decimal.NewFromInt(2)
	stakeDivisor = decimal.NewFromInt(50)
)

// CalculateStake sizes a default wager from a balance:
// max(2, floor(balance / 50)).
func CalculateStake(balance decimal.Decimal) decimal.Decimal {
	stake := balance.Div(stakeDivisor).Floor()
	if stake.LessThan(minStake) {
		return minStake
	}
	return stake
}

type CanBorrowResult struct {
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	CurrentDebt decimal.Decimal `json:"current_debt"`
	MaxTotal    decimal.Decimal `json:"max_total_debt"`
}

type BorrowResult struct {
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	DebtID     string          `json:"debt_id,omitempty"`
	NewBalance decimal.Decimal `json:"new_balance"`
	DueAt      time.Time       `json:"due_at"`
}

type AccrueResult struct {
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	NewInterest   decimal.Decimal `json:"new_interest"`
	TotalOwed     decimal.Decimal `json:"total_owed"`
	RepoTriggered bool            `json:"repo_triggered"`
}

type RepayResult struct {
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	AmountApplied decimal.Decimal `json:"amount_applied"`
	RemainingDebt decimal.Decimal `json:"remaining_debt"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Status        string          `json:"status,omitempty"`
}
