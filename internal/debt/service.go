package debt

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wager_service/internal/ledger"
)

const (
	// InterestAccrualCooldown is the minimum gap between two accruals on
	// the same debt.
	InterestAccrualCooldown = 24 * time.Hour
	// RepoGracePeriod past dueAt before seizure is flagged.
	RepoGracePeriod = 7 * 24 * time.Hour
	// LoanTerm is how long the borrower has before the debt is due.
	LoanTerm = 7 * 24 * time.Hour
)

var (
	// DefaultInterestRate compounds daily with ceiling rounding.
	DefaultInterestRate = decimal.NewFromFloat(0.10)
	// MaxDebtRatio caps total debt at twice the debt-free part of the
	// wallet balance.
	MaxDebtRatio = decimal.NewFromInt(2)
)

type Service struct {
	repo           Repository
	wallets        ledger.WalletRepository
	borrowTrustMin int
}

func NewService(repo Repository, wallets ledger.WalletRepository, borrowTrustMin int) *Service {
	return &Service{repo: repo, wallets: wallets, borrowTrustMin: borrowTrustMin}
}

func (s *Service) CanBorrow(ctx context.Context, userID string, amount decimal.Decimal) (*CanBorrowResult, error) {
	w, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return &CanBorrowResult{Success: false, Error: ledger.ErrWalletNotFound.Error()}, nil
		}
		return nil, err
	}
	if w.TrustScore < s.borrowTrustMin {
		return &CanBorrowResult{Success: false, Error: ErrTrustTooLow.Error()}, nil
	}

	currentDebt, err := s.GetTotalDebt(ctx, userID)
	if err != nil {
		return nil, err
	}
	maxTotal := w.Balance.Sub(currentDebt).Mul(MaxDebtRatio)
	if currentDebt.Add(amount).GreaterThan(maxTotal) {
		return &CanBorrowResult{
			Success:     false,
			Error:       ErrDebtLimitExceeded.Error(),
			CurrentDebt: currentDebt,
			MaxTotal:    maxTotal,
		}, nil
	}
	return &CanBorrowResult{Success: true, CurrentDebt: currentDebt, MaxTotal: maxTotal}, nil
}

func (s *Service) BorrowCoins(ctx context.Context, userID string, amount decimal.Decimal) (*BorrowResult, error) {
	if !amount.IsPositive() {
		return &BorrowResult{Success: false, Error: ledger.ErrNonPositiveAmount.Error()}, nil
	}
	check, err := s.CanBorrow(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	if !check.Success {
		return &BorrowResult{Success: false, Error: check.Error}, nil
	}

	now := time.Now()
	d := &Debt{
		DebtID:                uuid.New().String(),
		UserID:                userID,
		Principal:             amount,
		InterestRate:          DefaultInterestRate,
		AccruedInterest:       decimal.Zero,
		AmountRepaid:          decimal.Zero,
		DueAt:                 now.Add(LoanTerm),
		LastInterestAccrualAt: now,
		Status:                StatusActive,
	}
	newBalance, err := s.repo.BorrowAndCredit(ctx, d, MaxDebtRatio)
	if err != nil {
		if errors.Is(err, ErrDebtLimitExceeded) {
			return &BorrowResult{Success: false, Error: ErrDebtLimitExceeded.Error()}, nil
		}
		return nil, err
	}

	log.Printf("Loan issued: debt=%s user=%s principal=%s due=%s", d.DebtID, userID, amount.String(), d.DueAt.Format(time.RFC3339))
	return &BorrowResult{Success: true, DebtID: d.DebtID, NewBalance: newBalance, DueAt: d.DueAt}, nil
}

// AccrueInterestOnDebt adds ceil(totalOwed * rate) at most once per 24h,
// and flags seizure once the debt is more than 7 days overdue. The flag
// is for an external collector; no funds move here.
func (s *Service) AccrueInterestOnDebt(ctx context.Context, debtID string) (*AccrueResult, error) {
	d, err := s.repo.GetDebt(ctx, debtID)
	if err != nil {
		if errors.Is(err, ErrDebtNotFound) {
			return &AccrueResult{Success: false, Error: ErrDebtNotFound.Error()}, nil
		}
		return nil, err
	}
	if d.Status == StatusRepaid {
		return &AccrueResult{Success: false, Error: ErrDebtNotActive.Error()}, nil
	}

	now := time.Now()
	if now.Sub(d.LastInterestAccrualAt) < InterestAccrualCooldown {
		return &AccrueResult{Success: false, Error: ErrAlreadyAccruedRecently.Error(), TotalOwed: d.TotalOwed()}, nil
	}

	newInterest := d.TotalOwed().Mul(d.InterestRate).Ceil()
	triggerRepo := !d.RepoTriggered && now.Sub(d.DueAt) > RepoGracePeriod

	err = s.repo.AccrueInterest(ctx, debtID, newInterest, d.LastInterestAccrualAt, now, triggerRepo)
	if err != nil {
		if errors.Is(err, ErrAlreadyAccruedRecently) {
			return &AccrueResult{Success: false, Error: ErrAlreadyAccruedRecently.Error(), TotalOwed: d.TotalOwed()}, nil
		}
		return nil, err
	}

	if triggerRepo {
		log.Printf("Repo triggered: debt=%s user=%s owed=%s", d.DebtID, d.UserID, d.TotalOwed().Add(newInterest).String())
	}
	return &AccrueResult{
		Success:       true,
		NewInterest:   newInterest,
		TotalOwed:     d.TotalOwed().Add(newInterest),
		RepoTriggered: triggerRepo || d.RepoTriggered,
	}, nil
}

func (s *Service) RepayDebt(ctx context.Context, userID, debtID string, amount decimal.Decimal) (*RepayResult, error) {
	if !amount.IsPositive() {
		return &RepayResult{Success: false, Error: ledger.ErrNonPositiveAmount.Error()}, nil
	}
	applied, remaining, newBalance, status, err := s.repo.RepayAndDebit(ctx, debtID, userID, amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrDebtNotFound):
			return &RepayResult{Success: false, Error: ErrDebtNotFound.Error()}, nil
		case errors.Is(err, ErrNotDebtor):
			return &RepayResult{Success: false, Error: ErrNotDebtor.Error()}, nil
		case errors.Is(err, ErrDebtNotActive):
			return &RepayResult{Success: false, Error: ErrDebtNotActive.Error()}, nil
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return &RepayResult{Success: false, Error: ledger.ErrInsufficientFunds.Error()}, nil
		case errors.Is(err, ledger.ErrWalletNotFound):
			return &RepayResult{Success: false, Error: ledger.ErrWalletNotFound.Error()}, nil
		}
		return nil, err
	}

	log.Printf("Repayment: debt=%s user=%s applied=%s remaining=%s", debtID, userID, applied.String(), remaining.String())
	return &RepayResult{
		Success:       true,
		AmountApplied: applied,
		RemainingDebt: remaining,
		NewBalance:    newBalance,
		Status:        status,
	}, nil
}

// GetTotalDebt sums totalOwed across every debt not yet repaid.
func (s *Service) GetTotalDebt(ctx context.Context, userID string) (decimal.Decimal, error) {
	debts, err := s.repo.OutstandingDebts(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for i := range debts {
		total = total.Add(debts[i].TotalOwed())
	}
	return total, nil
}
