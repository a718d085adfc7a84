package bet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wager_service/internal/clash"
	"wager_service/internal/ledger"
)

var (
	ErrBetNotFound   = errors.New("bet not found")
	ErrBetCancelled  = errors.New("this bet has been cancelled")
	ErrBetExpired    = errors.New("this bet has expired")
	ErrAlreadySwiped = errors.New("you already swiped on this bet")
	ErrNotCreator    = errors.New("only the bet creator can cancel it")
	ErrCancelTooLate = errors.New("bet can no longer be cancelled: someone already swiped")
	ErrInvalidVote   = errors.New("vote must be yes or no")
)

type Repository interface {
	CreateBet(ctx context.Context, b *Bet) error
	GetBet(ctx context.Context, betID string) (*Bet, error)
	// SwipeWithStake atomically inserts the participant row (failing with
	// ErrAlreadySwiped on the unique index) and debits the stake. A failed
	// debit rolls back the insert, so no partial participant row survives.
	SwipeWithStake(ctx context.Context, p *Participant) (newBalance decimal.Decimal, err error)
	SwipedParticipants(ctx context.Context, betID string) ([]Participant, error)
	HasNonCreatorSwipe(ctx context.Context, betID, creatorID string) (bool, error)
	// CancelWithRefund marks the bet cancelled and refunds any stake the
	// creator has locked, in one transaction.
	CancelWithRefund(ctx context.Context, b *Bet) (refunded decimal.Decimal, err error)
	// InsertClashIfAbsent creates the clash only if none exists for the
	// bet, atomically with the existence check.
	InsertClashIfAbsent(ctx context.Context, c *clash.Clash) (created bool, existing *clash.Clash, err error)
	GetClashByBet(ctx context.Context, betID string) (*clash.Clash, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) CreateBet(ctx context.Context, b *Bet) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("failed to create bet: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetBet(ctx context.Context, betID string) (*Bet, error) {
	var b Bet
	err := r.db.WithContext(ctx).Where("bet_id = ?", betID).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBetNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *RepositoryImpl) SwipeWithStake(ctx context.Context, p *Participant) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		w, err := ledger.GetWalletForUpdate(ctx, dbtx, p.UserID)
		if err != nil {
			return err
		}

		result := dbtx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bet_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(p)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAlreadySwiped
		}

		_, err = ledger.ApplyDelta(ctx, dbtx, w, p.StakeAmount.Neg(), ledger.TxTypeStakeLock, p.BetID)
		if err != nil {
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

func (r *RepositoryImpl) SwipedParticipants(ctx context.Context, betID string) ([]Participant, error) {
	var parts []Participant
	err := r.db.WithContext(ctx).
		Where("bet_id = ? AND swipe <> ''", betID).
		Order("created_at ASC").
		Find(&parts).Error
	if err != nil {
		return nil, err
	}
	return parts, nil
}

func (r *RepositoryImpl) HasNonCreatorSwipe(ctx context.Context, betID, creatorID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Participant{}).
		Where("bet_id = ? AND user_id <> ?", betID, creatorID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RepositoryImpl) CancelWithRefund(ctx context.Context, b *Bet) (decimal.Decimal, error) {
	refunded := decimal.Zero
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		result := dbtx.Model(&Bet{}).
			Where("bet_id = ? AND status = ?", b.BetID, BetStatusActive).
			Update("status", BetStatusCancelled)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBetCancelled
		}

		var p Participant
		err := dbtx.Where("bet_id = ? AND user_id = ? AND stake_locked = true", b.BetID, b.CreatorID).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // creator never swiped, nothing to refund
		}
		if err != nil {
			return err
		}

		w, err := ledger.GetWalletForUpdate(ctx, dbtx, b.CreatorID)
		if err != nil {
			return err
		}
		if _, err := ledger.ApplyDelta(ctx, dbtx, w, p.StakeAmount, ledger.TxTypeStakeRefund, b.BetID); err != nil {
			return err
		}
		if err := dbtx.Model(&Participant{}).
			Where("participant_id = ?", p.ParticipantID).
			Update("stake_locked", false).Error; err != nil {
			return err
		}
		refunded = p.StakeAmount
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return refunded, nil
}

func (r *RepositoryImpl) InsertClashIfAbsent(ctx context.Context, c *clash.Clash) (bool, *clash.Clash, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bet_id"}},
		DoNothing: true,
	}).Create(c)
	if result.Error != nil {
		return false, nil, fmt.Errorf("failed to create clash: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		existing, err := r.GetClashByBet(ctx, c.BetID)
		if err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}
	return true, c, nil
}

func (r *RepositoryImpl) GetClashByBet(ctx context.Context, betID string) (*clash.Clash, error) {
	var c clash.Clash
	err := r.db.WithContext(ctx).Where("bet_id = ?", betID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
