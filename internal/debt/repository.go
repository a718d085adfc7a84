package debt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wager_service/internal/ledger"
)

var (
	ErrDebtNotFound           = errors.New("debt not found")
	ErrDebtNotActive          = errors.New("debt is already repaid")
	ErrNotDebtor              = errors.New("only the borrower can repay this debt")
	ErrTrustTooLow            = errors.New("trust score too low to borrow")
	ErrDebtLimitExceeded      = errors.New("borrowing this much would exceed your debt limit")
	ErrAlreadyAccruedRecently = errors.New("interest already accrued in the last 24 hours")
)

type Repository interface {
	// BorrowAndCredit creates the debt and credits the principal to the
	// wallet in one transaction. The debt cap is re-checked under the
	// wallet lock: concurrent borrows that both passed the service-level
	// check serialize here, and the loser fails with
	// ErrDebtLimitExceeded.
	BorrowAndCredit(ctx context.Context, d *Debt, maxDebtRatio decimal.Decimal) (newBalance decimal.Decimal, err error)
	GetDebt(ctx context.Context, debtID string) (*Debt, error)
	OutstandingDebts(ctx context.Context, userID string) ([]Debt, error)
	// AccrueInterest adds newInterest and advances the accrual timestamp,
	// conditioned on the timestamp the caller read: a concurrent accrual
	// that got there first makes this one fail with
	// ErrAlreadyAccruedRecently.
	AccrueInterest(ctx context.Context, debtID string, newInterest decimal.Decimal, prevAccrualAt, accruedAt time.Time, triggerRepo bool) error
	// RepayAndDebit debits the wallet and applies the repayment in one
	// transaction, capping the applied amount at the total owed. Only the
	// borrower may repay their own debt.
	RepayAndDebit(ctx context.Context, debtID, userID string, amount decimal.Decimal) (applied, remaining, newBalance decimal.Decimal, status string, err error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) BorrowAndCredit(ctx context.Context, d *Debt, maxDebtRatio decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		w, err := ledger.GetWalletForUpdate(ctx, dbtx, d.UserID)
		if err != nil {
			return err
		}

		var outstanding decimal.Decimal
		row := dbtx.Model(&Debt{}).
			Where("user_id = ? AND status <> ?", d.UserID, StatusRepaid).
			Select("COALESCE(SUM(principal + accrued_interest - amount_repaid), 0)").
			Row()
		if err := row.Scan(&outstanding); err != nil {
			return fmt.Errorf("failed to sum outstanding debt: %w", err)
		}
		// The cap is sized on the debt-free part of the balance: borrowed
		// principal sitting in the wallet must not inflate the cap.
		if outstanding.Add(d.Principal).GreaterThan(w.Balance.Sub(outstanding).Mul(maxDebtRatio)) {
			return ErrDebtLimitExceeded
		}

		if err := dbtx.Create(d).Error; err != nil {
			return fmt.Errorf("failed to create debt: %w", err)
		}
		if _, err := ledger.ApplyDelta(ctx, dbtx, w, d.Principal, ledger.TxTypeLoan, d.DebtID); err != nil {
			return err
		}
		newBalance = w.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

func (r *RepositoryImpl) GetDebt(ctx context.Context, debtID string) (*Debt, error) {
	var d Debt
	err := r.db.WithContext(ctx).Where("debt_id = ?", debtID).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDebtNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *RepositoryImpl) OutstandingDebts(ctx context.Context, userID string) ([]Debt, error) {
	var debts []Debt
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, StatusRepaid).
		Order("created_at ASC").
		Find(&debts).Error
	if err != nil {
		return nil, err
	}
	return debts, nil
}

func (r *RepositoryImpl) AccrueInterest(ctx context.Context, debtID string, newInterest decimal.Decimal, prevAccrualAt, accruedAt time.Time, triggerRepo bool) error {
	updates := map[string]interface{}{
		"accrued_interest":         gorm.Expr("accrued_interest + ?", newInterest),
		"last_interest_accrual_at": accruedAt,
		"updated_at":               accruedAt,
	}
	if triggerRepo {
		updates["repo_triggered"] = true
		updates["status"] = StatusRepoTriggered
	}
	result := r.db.WithContext(ctx).Model(&Debt{}).
		Where("debt_id = ? AND last_interest_accrual_at = ?", debtID, prevAccrualAt).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to accrue interest: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyAccruedRecently
	}
	return nil
}

func (r *RepositoryImpl) RepayAndDebit(ctx context.Context, debtID, userID string, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal, string, error) {
	var applied, remaining, newBalance decimal.Decimal
	var status string
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var d Debt
		err := dbtx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("debt_id = ?", debtID).
			First(&d).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDebtNotFound
			}
			return fmt.Errorf("failed to lock debt: %w", err)
		}
		if d.UserID != userID {
			return ErrNotDebtor
		}
		if d.Status == StatusRepaid {
			return ErrDebtNotActive
		}

		applied = amount
		if applied.GreaterThan(d.TotalOwed()) {
			applied = d.TotalOwed()
		}

		w, err := ledger.GetWalletForUpdate(ctx, dbtx, userID)
		if err != nil {
			return err
		}
		if _, err := ledger.ApplyDelta(ctx, dbtx, w, applied.Neg(), ledger.TxTypeRepayment, d.DebtID); err != nil {
			return err
		}
		newBalance = w.Balance

		d.AmountRepaid = d.AmountRepaid.Add(applied)
		remaining = d.TotalOwed()
		status = d.Status
		if remaining.IsZero() {
			status = StatusRepaid
		}
		return dbtx.Model(&Debt{}).
			Where("debt_id = ?", d.DebtID).
			Updates(map[string]interface{}{
				"amount_repaid": d.AmountRepaid,
				"status":        status,
				"updated_at":    time.Now(),
			}).Error
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, "", err
	}
	return applied, remaining, newBalance, status, nil
}
