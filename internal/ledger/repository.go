package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletExists      = errors.New("wallet already exists for this user")
	ErrAllowanceCooldown = errors.New("allowance already claimed in the last 48 hours")
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

type WalletRepository interface {
	GetByUser(ctx context.Context, userID string) (*Wallet, error)
	Create(ctx context.Context, userID string, openingBalance decimal.Decimal) (*Wallet, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, txType, referenceID string) (*Transaction, error)
	DebitIfSufficient(ctx context.Context, userID string, amount decimal.Decimal, txType, referenceID string) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, referenceID, txType string) (*Transaction, error)
	RecordLogin(ctx context.Context, userID string, at time.Time) error
	CreditAllowance(ctx context.Context, userID string, amount decimal.Decimal, minInterval time.Duration, now time.Time) (*Transaction, error)
}

type WalletRepositoryImpl struct {
	db *gorm.DB
}

func NewWalletRepositoryImpl(db *gorm.DB) *WalletRepositoryImpl {
	return &WalletRepositoryImpl{db: db}
}

func (r *WalletRepositoryImpl) GetByUser(ctx context.Context, userID string) (*Wallet, error) {
	var w Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) Create(ctx context.Context, userID string, openingBalance decimal.Decimal) (*Wallet, error) {
	w := Wallet{
		WalletID: uuid.New().String(),
		UserID:   userID,
		Balance:  openingBalance,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&w)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrWalletExists
	}
	if openingBalance.IsPositive() {
		tx := &Transaction{
			TransactionID:   uuid.New().String(),
			WalletID:        w.WalletID,
			UserID:          userID,
			TransactionType: TxTypeOpening,
			Amount:          openingBalance,
			BalanceBefore:   decimal.Zero,
			BalanceAfter:    openingBalance,
			ReferenceID:     w.WalletID,
		}
		if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
			return nil, err
		}
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) Credit(ctx context.Context, userID string, amount decimal.Decimal, txType, referenceID string) (*Transaction, error) {
	var out *Transaction
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		w, err := GetWalletForUpdate(ctx, dbtx, userID)
		if err != nil {
			return err
		}
		out, err = ApplyDelta(ctx, dbtx, w, amount, txType, referenceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *WalletRepositoryImpl) DebitIfSufficient(ctx context.Context, userID string, amount decimal.Decimal, txType, referenceID string) (*Transaction, error) {
	var out *Transaction
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		w, err := GetWalletForUpdate(ctx, dbtx, userID)
		if err != nil {
			return err
		}
		out, err = ApplyDelta(ctx, dbtx, w, amount.Neg(), txType, referenceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *WalletRepositoryImpl) GetTransactionByReference(ctx context.Context, referenceID, txType string) (*Transaction, error) {
	var t Transaction
	err := r.db.WithContext(ctx).Where("reference_id = ? AND transaction_type = ?", referenceID, txType).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *WalletRepositoryImpl) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"last_login_at": at,
			"updated_at":    at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (r *WalletRepositoryImpl) CreditAllowance(ctx context.Context, userID string, amount decimal.Decimal, minInterval time.Duration, now time.Time) (*Transaction, error) {
	var out *Transaction
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		w, err := GetWalletForUpdate(ctx, dbtx, userID)
		if err != nil {
			return err
		}
		if w.LastAllowanceClaimedAt != nil && now.Sub(*w.LastAllowanceClaimedAt) < minInterval {
			return ErrAllowanceCooldown
		}
		out, err = ApplyDelta(ctx, dbtx, w, amount, TxTypeAllowance, w.WalletID)
		if err != nil {
			return err
		}
		return dbtx.Model(&Wallet{}).
			Where("wallet_id = ?", w.WalletID).
			Update("last_allowance_claimed_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetWalletForUpdate loads a wallet row under a FOR UPDATE lock. Callers
// must already be inside a transaction.
func GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*Wallet, error) {
	var w Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &w, nil
}

// LockPairForUpdate locks two wallets in a fixed (sorted userID) order so
// crossing transfers cannot deadlock. Callers must already be inside a
// transaction.
func LockPairForUpdate(ctx context.Context, tx *gorm.DB, userA, userB string) (*Wallet, *Wallet, error) {
	first, second := userA, userB
	if second < first {
		first, second = second, first
	}
	locked := make(map[string]*Wallet, 2)
	for _, userID := range []string{first, second} {
		w, err := GetWalletForUpdate(ctx, tx, userID)
		if err != nil {
			return nil, nil, err
		}
		locked[userID] = w
	}
	return locked[userA], locked[userB], nil
}

// ApplyDelta is the single balance mutation primitive. amount is signed;
// a negative delta that would take the balance below zero fails with
// ErrInsufficientFunds. Writes the wallet update and the immutable
// transaction row together; callers must be inside a transaction and must
// have locked the wallet.
func ApplyDelta(ctx context.Context, tx *gorm.DB, w *Wallet, amount decimal.Decimal, txType, referenceID string) (*Transaction, error) {
	newBalance := w.Balance.Add(amount)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	result := tx.WithContext(ctx).Model(&Wallet{}).
		Where("wallet_id = ? AND version = ?", w.WalletID, w.Version).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrWalletNotFound
	}

	t := &Transaction{
		TransactionID:   uuid.New().String(),
		WalletID:        w.WalletID,
		UserID:          w.UserID,
		TransactionType: txType,
		Amount:          amount,
		BalanceBefore:   w.Balance,
		BalanceAfter:    newBalance,
		ReferenceID:     referenceID,
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}

	w.Balance = newBalance
	w.Version++
	return t, nil
}

// ApplyDeltaClamped debits up to amount, flooring the balance at zero
// instead of failing. Used for penalty debits where the non-negative
// invariant is the only floor.
func ApplyDeltaClamped(ctx context.Context, tx *gorm.DB, w *Wallet, amount decimal.Decimal, txType, referenceID string) (*Transaction, error) {
	if amount.IsNegative() && w.Balance.Add(amount).IsNegative() {
		amount = w.Balance.Neg()
	}
	return ApplyDelta(ctx, tx, w, amount, txType, referenceID)
}

// UpdateStats applies counter changes inside an open transaction.
func UpdateStats(ctx context.Context, tx *gorm.DB, userID string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	result := tx.WithContext(ctx).Model(&Wallet{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}
