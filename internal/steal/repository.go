package steal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wager_service/internal/ledger"
)

var (
	ErrStealNotFound          = errors.New("steal attempt not found")
	ErrThiefNotFound          = errors.New("thief wallet not found")
	ErrTargetNotFound         = errors.New("target wallet not found")
	ErrSelfSteal              = errors.New("you cannot rob yourself")
	ErrTargetTooBroke         = errors.New("target is too broke to be worth robbing")
	ErrNotTarget              = errors.New("only the target can defend this steal")
	ErrAlreadyCompleted       = errors.New("steal attempt has already been completed")
	ErrAlreadyDefended        = errors.New("steal attempt has already been defended")
	ErrNoDefenseWindow        = errors.New("no defense window: the target was offline")
	ErrWindowClosed           = errors.New("defense window has closed")
	ErrDefenseWindowStillOpen = errors.New("defense window is still open: completion must wait")
)

type Repository interface {
	CreateAttempt(ctx context.Context, a *StealAttempt) error
	GetAttempt(ctx context.Context, stealID string) (*StealAttempt, error)
	// MarkDefended flags the attempt and bumps the defender's counter;
	// the in_progress guard rides in the UPDATE so a racing completion
	// cannot interleave.
	MarkDefended(ctx context.Context, stealID, targetID string) error
	CompleteFailed(ctx context.Context, stealID string) error
	// CompleteDefended debits the thief's penalty, floored only by the
	// non-negative balance invariant.
	CompleteDefended(ctx context.Context, stealID, thiefID string, penalty decimal.Decimal) (thiefNewBalance decimal.Decimal, err error)
	// CompleteSuccess moves the loot target->thief atomically and bumps
	// both counters. Fails with ErrAlreadyDefended when a defense landed
	// after the caller read the attempt, so the caller can settle the
	// defended path instead.
	CompleteSuccess(ctx context.Context, stealID, thiefID, targetID string, amount decimal.Decimal) (stolen, thiefNewBalance decimal.Decimal, err error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) CreateAttempt(ctx context.Context, a *StealAttempt) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to create steal attempt: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetAttempt(ctx context.Context, stealID string) (*StealAttempt, error) {
	var a StealAttempt
	err := r.db.WithContext(ctx).Where("steal_id = ?", stealID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStealNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *RepositoryImpl) MarkDefended(ctx context.Context, stealID, targetID string) error {
	return r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		result := dbtx.Model(&StealAttempt{}).
			Where("steal_id = ? AND status = ? AND was_defended = false", stealID, StatusInProgress).
			Updates(map[string]interface{}{
				"was_defended": true,
				"updated_at":   time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyDefended
		}
		return ledger.UpdateStats(ctx, dbtx, targetID, map[string]interface{}{
			"steals_defended": gorm.Expr("steals_defended + 1"),
		})
	})
}

func (r *RepositoryImpl) CompleteFailed(ctx context.Context, stealID string) error {
	result := r.db.WithContext(ctx).Model(&StealAttempt{}).
		Where("steal_id = ? AND status = ?", stealID, StatusInProgress).
		Updates(map[string]interface{}{
			"status":     StatusFailed,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyCompleted
	}
	return nil
}

func (r *RepositoryImpl) CompleteDefended(ctx context.Context, stealID, thiefID string, penalty decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		result := dbtx.Model(&StealAttempt{}).
			Where("steal_id = ? AND status = ?", stealID, StatusInProgress).
			Updates(map[string]interface{}{
				"status":     StatusDefended,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyCompleted
		}

		w, err := ledger.GetWalletForUpdate(ctx, dbtx, thiefID)
		if err != nil {
			return err
		}
		if _, err := ledger.ApplyDeltaClamped(ctx, dbtx, w, penalty.Neg(), ledger.TxTypeStealPenalty, stealID); err != nil {
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

func (r *RepositoryImpl) CompleteSuccess(ctx context.Context, stealID, thiefID, targetID string, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	var stolen, thiefBalance decimal.Decimal
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		// was_defended rides in the guard: a defense that committed after
		// the caller's read blocks the success path here, atomically.
		result := dbtx.Model(&StealAttempt{}).
			Where("steal_id = ? AND status = ? AND was_defended = false", stealID, StatusInProgress).
			Update("status", StatusSuccess)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var a StealAttempt
			if err := dbtx.Where("steal_id = ?", stealID).First(&a).Error; err != nil {
				return err
			}
			if a.Status == StatusInProgress && a.WasDefended {
				return ErrAlreadyDefended
			}
			return ErrAlreadyCompleted
		}

		thief, target, err := ledger.LockPairForUpdate(ctx, dbtx, thiefID, targetID)
		if err != nil {
			return err
		}

		// The target's balance may have shrunk since the attempt was
		// sized; the non-negative invariant caps what actually moves.
		stolen = amount
		if stolen.GreaterThan(target.Balance) {
			stolen = target.Balance
		}
		if _, err := ledger.ApplyDelta(ctx, dbtx, target, stolen.Neg(), ledger.TxTypeStealLoss, stealID); err != nil {
			return err
		}
		if _, err := ledger.ApplyDelta(ctx, dbtx, thief, stolen, ledger.TxTypeStealGain, stealID); err != nil {
			return err
		}
		thiefBalance = thief.Balance

		if err := ledger.UpdateStats(ctx, dbtx, thiefID, map[string]interface{}{
			"steals_successful": gorm.Expr("steals_successful + 1"),
		}); err != nil {
			return err
		}
		if err := ledger.UpdateStats(ctx, dbtx, targetID, map[string]interface{}{
			"times_robbed": gorm.Expr("times_robbed + 1"),
		}); err != nil {
			return err
		}

		return dbtx.Model(&StealAttempt{}).
			Where("steal_id = ?", stealID).
			Updates(map[string]interface{}{
				"stolen_amount": stolen,
				"updated_at":    time.Now(),
			}).Error
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return stolen, thiefBalance, nil
}
