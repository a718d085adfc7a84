package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

const AllowanceCooldown = 48 * time.Hour

type Service struct {
	repo            WalletRepository
	allowanceAmount decimal.Decimal
	openingBalance  decimal.Decimal
}

func NewService(repo WalletRepository, allowanceAmount, openingBalance decimal.Decimal) *Service {
	return &Service{
		repo:            repo,
		allowanceAmount: allowanceAmount,
		openingBalance:  openingBalance,
	}
}

func (s *Service) CreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	return s.repo.Create(ctx, userID, s.openingBalance)
}

func (s *Service) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	return s.repo.GetByUser(ctx, userID)
}

func (s *Service) RecordLogin(ctx context.Context, userID string) error {
	return s.repo.RecordLogin(ctx, userID, time.Now())
}

// LockStakeForSwipe debits a stake from the user's wallet, recording the
// bet as the causing entity. Exposed for the bet matching engine.
func (s *Service) LockStakeForSwipe(ctx context.Context, userID string, stake decimal.Decimal, betID string) (*Transaction, error) {
	if !stake.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	return s.repo.DebitIfSufficient(ctx, userID, stake, TxTypeStakeLock, betID)
}

func (s *Service) ClaimAllowance(ctx context.Context, userID string) (*AllowanceResult, error) {
	now := time.Now()

	w, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return &AllowanceResult{Success: false, Error: ErrWalletNotFound.Error()}, nil
		}
		return nil, err
	}
	if w.LastAllowanceClaimedAt != nil && now.Sub(*w.LastAllowanceClaimedAt) < AllowanceCooldown {
		return &AllowanceResult{Success: false, Error: ErrAllowanceCooldown.Error()}, nil
	}

	t, err := s.repo.CreditAllowance(ctx, userID, s.allowanceAmount, AllowanceCooldown, now)
	if err != nil {
		if errors.Is(err, ErrAllowanceCooldown) {
			return &AllowanceResult{Success: false, Error: ErrAllowanceCooldown.Error()}, nil
		}
		return nil, err
	}

	log.Printf("Allowance claimed: user=%s amount=%s balance=%s", userID, t.Amount.String(), t.BalanceAfter.String())
	return &AllowanceResult{
		Success:    true,
		Amount:     t.Amount,
		NewBalance: t.BalanceAfter,
	}, nil
}
