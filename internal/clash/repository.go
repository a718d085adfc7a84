package clash

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
	ErrClashNotFound      = errors.New("clash not found")
	ErrNotParticipant     = errors.New("you are not a participant in this clash")
	ErrNotProver          = errors.New("only the prover can submit proof")
	ErrNoProof            = errors.New("no proof has been submitted yet")
	ErrProofAlreadyExists = errors.New("proof has already been submitted")
	ErrWrongState         = errors.New("clash is not in a state that allows this action")
	ErrAlreadyResolved    = errors.New("clash has already been resolved")
	ErrProofAlreadyViewed = errors.New("proof already viewed the maximum number of times")
	ErrProofUnavailable   = errors.New("proof is no longer available")
	ErrProofWindowExpired = errors.New("proof viewing window has expired")
	ErrDeadlinePassed     = errors.New("proof deadline has passed")
	ErrInlineProofData    = errors.New("proof must be an uploaded storage reference, not inline data")
)

type Repository interface {
	GetClash(ctx context.Context, clashID string) (*Clash, error)
	// CreateProof inserts the proof and moves the clash from
	// pending_proof to proof_submitted atomically.
	CreateProof(ctx context.Context, p *Proof) error
	GetProofByClash(ctx context.Context, clashID string) (*Proof, error)
	// ConsumeView increments the view count only while it is below
	// max_views on a live proof; the guard and increment are one
	// statement, so concurrent viewers cannot both take the last view.
	ConsumeView(ctx context.Context, proofID string) (viewsRemaining int, err error)
	// ExpireProof destroys the proof and flags the clash.
	ExpireProof(ctx context.Context, proofID, clashID string) error
	Dispute(ctx context.Context, clashID, reason string) error
	// ResolveWithPayout credits the pot to the winner, updates streaks,
	// records both transaction rows and marks the clash resolved, all in
	// one transaction. A clash can only resolve once.
	ResolveWithPayout(ctx context.Context, clashID, winnerID, loserID string, pot decimal.Decimal) (winnerNewBalance decimal.Decimal, err error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) GetClash(ctx context.Context, clashID string) (*Clash, error) {
	var c Clash
	err := r.db.WithContext(ctx).Where("clash_id = ?", clashID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClashNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *RepositoryImpl) CreateProof(ctx context.Context, p *Proof) error {
	return r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		result := dbtx.Model(&Clash{}).
			Where("clash_id = ? AND status = ?", p.ClashID, StatusPendingProof).
			Updates(map[string]interface{}{
				"status":     StatusProofSubmitted,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrWrongState
		}

		insert := dbtx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "clash_id"}},
			DoNothing: true,
		}).Create(p)
		if insert.Error != nil {
			return fmt.Errorf("failed to create proof: %w", insert.Error)
		}
		if insert.RowsAffected == 0 {
			return ErrProofAlreadyExists
		}
		return nil
	})
}

func (r *RepositoryImpl) GetProofByClash(ctx context.Context, clashID string) (*Proof, error) {
	var p Proof
	err := r.db.WithContext(ctx).Where("clash_id = ?", clashID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoProof
		}
		return nil, err
	}
	return &p, nil
}

func (r *RepositoryImpl) ConsumeView(ctx context.Context, proofID string) (int, error) {
	var remaining int
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		result := dbtx.Model(&Proof{}).
			Where("proof_id = ? AND view_count < max_views AND is_destroyed = false", proofID).
			Update("view_count", gorm.Expr("view_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrProofAlreadyViewed
		}

		var p Proof
		if err := dbtx.Where("proof_id = ?", proofID).First(&p).Error; err != nil {
			return err
		}
		remaining = p.MaxViews - p.ViewCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (r *RepositoryImpl) ExpireProof(ctx context.Context, proofID, clashID string) error {
	return r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Model(&Proof{}).
			Where("proof_id = ?", proofID).
			Update("is_destroyed", true).Error; err != nil {
			return err
		}
		return dbtx.Model(&Clash{}).
			Where("clash_id = ?", clashID).
			Updates(map[string]interface{}{
				"proof_expired": true,
				"updated_at":    time.Now(),
			}).Error
	})
}

func (r *RepositoryImpl) Dispute(ctx context.Context, clashID, reason string) error {
	result := r.db.WithContext(ctx).Model(&Clash{}).
		Where("clash_id = ? AND status = ?", clashID, StatusProofSubmitted).
		Updates(map[string]interface{}{
			"status":         StatusDisputed,
			"dispute_reason": reason,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWrongState
	}
	return nil
}

func (r *RepositoryImpl) ResolveWithPayout(ctx context.Context, clashID, winnerID, loserID string, pot decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var c Clash
		err := dbtx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("clash_id = ?", clashID).
			First(&c).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClashNotFound
			}
			return fmt.Errorf("failed to lock clash: %w", err)
		}
		if c.Status == StatusResolved {
			return ErrAlreadyResolved
		}
		if c.Status != StatusProofSubmitted && c.Status != StatusDisputed {
			return ErrWrongState
		}

		winner, loser, err := ledger.LockPairForUpdate(ctx, dbtx, winnerID, loserID)
		if err != nil {
			return err
		}
		if _, err := ledger.ApplyDelta(ctx, dbtx, winner, pot, ledger.TxTypePotWin, clashID); err != nil {
			return err
		}
		newBalance = winner.Balance

		// The loser staked at swipe time; the zero-amount row closes out
		// their side of the clash in the transaction log.
		if _, err := ledger.ApplyDelta(ctx, dbtx, loser, decimal.Zero, ledger.TxTypeClashLoss, clashID); err != nil {
			return err
		}

		if err := ledger.UpdateStats(ctx, dbtx, winnerID, map[string]interface{}{
			"win_streak": gorm.Expr("win_streak + 1"),
		}); err != nil {
			return err
		}
		if err := ledger.UpdateStats(ctx, dbtx, loserID, map[string]interface{}{
			"win_streak": 0,
		}); err != nil {
			return err
		}

		return dbtx.Model(&Clash{}).
			Where("clash_id = ?", clashID).
			Updates(map[string]interface{}{
				"status":     StatusResolved,
				"winner_id":  winnerID,
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}
