// Package ledgertest provides an in-memory WalletRepository for
// exercising the state machines above the storage layer.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wager_service/internal/ledger"
)

type WalletRepo struct {
	Mu           sync.Mutex
	Wallets      map[string]*ledger.Wallet
	Transactions []*ledger.Transaction
}

func NewWalletRepo() *WalletRepo {
	return &WalletRepo{Wallets: make(map[string]*ledger.Wallet)}
}

// Seed registers a wallet with the given balance and returns it for
// further stat tweaking by the test.
func (r *WalletRepo) Seed(userID string, balance int64) *ledger.Wallet {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	w := &ledger.Wallet{
		WalletID:   uuid.New().String(),
		UserID:     userID,
		Balance:    decimal.NewFromInt(balance),
		TrustScore: 50,
		Version:    1,
	}
	r.Wallets[userID] = w
	return w
}

func (r *WalletRepo) Balance(userID string) decimal.Decimal {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.Wallets[userID].Balance
}

func (r *WalletRepo) GetByUser(_ context.Context, userID string) (*ledger.Wallet, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	w, ok := r.Wallets[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	copied := *w
	return &copied, nil
}

func (r *WalletRepo) Create(_ context.Context, userID string, openingBalance decimal.Decimal) (*ledger.Wallet, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if _, ok := r.Wallets[userID]; ok {
		return nil, ledger.ErrWalletExists
	}
	w := &ledger.Wallet{
		WalletID:   uuid.New().String(),
		UserID:     userID,
		Balance:    openingBalance,
		TrustScore: 50,
		Version:    1,
	}
	r.Wallets[userID] = w
	copied := *w
	return &copied, nil
}

func (r *WalletRepo) Credit(_ context.Context, userID string, amount decimal.Decimal, txType, referenceID string) (*ledger.Transaction, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.apply(userID, amount, txType, referenceID)
}

func (r *WalletRepo) DebitIfSufficient(_ context.Context, userID string, amount decimal.Decimal, txType, referenceID string) (*ledger.Transaction, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.apply(userID, amount.Neg(), txType, referenceID)
}

func (r *WalletRepo) GetTransactionByReference(_ context.Context, referenceID, txType string) (*ledger.Transaction, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	for _, t := range r.Transactions {
		if t.ReferenceID == referenceID && t.TransactionType == txType {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *WalletRepo) RecordLogin(_ context.Context, userID string, at time.Time) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	w, ok := r.Wallets[userID]
	if !ok {
		return ledger.ErrWalletNotFound
	}
	w.LastLoginAt = &at
	return nil
}

func (r *WalletRepo) CreditAllowance(_ context.Context, userID string, amount decimal.Decimal, minInterval time.Duration, now time.Time) (*ledger.Transaction, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	w, ok := r.Wallets[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	if w.LastAllowanceClaimedAt != nil && now.Sub(*w.LastAllowanceClaimedAt) < minInterval {
		return nil, ledger.ErrAllowanceCooldown
	}
	t, err := r.apply(userID, amount, ledger.TxTypeAllowance, w.WalletID)
	if err != nil {
		return nil, err
	}
	w.LastAllowanceClaimedAt = &now
	return t, nil
}

// Apply mutates a balance the way ApplyDelta does, for fakes of the
// other repositories. Callers must hold Mu.
func (r *WalletRepo) Apply(userID string, amount decimal.Decimal, txType, referenceID string) (*ledger.Transaction, error) {
	return r.apply(userID, amount, txType, referenceID)
}

// ApplyClamped floors a debit at zero, mirroring ApplyDeltaClamped.
// Callers must hold Mu.
func (r *WalletRepo) ApplyClamped(userID string, amount decimal.Decimal, txType, referenceID string) (*ledger.Transaction, error) {
	w, ok := r.Wallets[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	if amount.IsNegative() && w.Balance.Add(amount).IsNegative() {
		amount = w.Balance.Neg()
	}
	return r.apply(userID, amount, txType, referenceID)
}

func (r *WalletRepo) apply(userID string, amount decimal.Decimal, txType, referenceID string) (*ledger.Transaction, error) {
	w, ok := r.Wallets[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	newBalance := w.Balance.Add(amount)
	if newBalance.IsNegative() {
		return nil, ledger.ErrInsufficientFunds
	}
	t := &ledger.Transaction{
		TransactionID:   uuid.New().String(),
		WalletID:        w.WalletID,
		UserID:          userID,
		TransactionType: txType,
		Amount:          amount,
		BalanceBefore:   w.Balance,
		BalanceAfter:    newBalance,
		ReferenceID:     referenceID,
		CreatedAt:       time.Now(),
	}
	w.Balance = newBalance
	w.Version++
	r.Transactions = append(r.Transactions, t)
	return t, nil
}
