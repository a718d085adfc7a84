package bet

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wager_service/internal/clash"
	"wager_service/internal/debt"
	"wager_service/internal/ledger"
	"wager_service/internal/notify"
)

// ProofDeadlineWindow is how long the prover has after a clash forms.
const ProofDeadlineWindow = 24 * time.Hour

type Service struct {
	repo    Repository
	wallets ledger.WalletRepository
	events  notify.Publisher
}

func NewService(repo Repository, wallets ledger.WalletRepository, events notify.Publisher) *Service {
	return &Service{repo: repo, wallets: wallets, events: events}
}

// RecordSwipe locks the stake and records the vote atomically, then
// classifies the match. Clash creation runs after the swipe commits: a
// clash bookkeeping failure is surfaced but never rolls the swipe back.
func (s *Service) RecordSwipe(ctx context.Context, betID, userID, vote string, stakeAmount decimal.Decimal) (*SwipeResult, error) {
	if vote != VoteYes && vote != VoteNo {
		return &SwipeResult{Success: false, Error: ErrInvalidVote.Error()}, nil
	}

	b, err := s.repo.GetBet(ctx, betID)
	if err != nil {
		if errors.Is(err, ErrBetNotFound) {
			return &SwipeResult{Success: false, Error: ErrBetNotFound.Error()}, nil
		}
		return nil, err
	}
	if b.Status == BetStatusCancelled {
		return &SwipeResult{Success: false, Error: ErrBetCancelled.Error()}, nil
	}
	if time.Now().After(b.ExpiresAt) {
		return &SwipeResult{Success: false, Error: ErrBetExpired.Error()}, nil
	}

	stake := stakeAmount
	if !stake.IsPositive() {
		stake = b.BaseStake
	}

	p := &Participant{
		ParticipantID: uuid.New().String(),
		BetID:         betID,
		UserID:        userID,
		Swipe:         vote,
		StakeLocked:   true,
		StakeAmount:   stake,
	}
	newBalance, err := s.repo.SwipeWithStake(ctx, p)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadySwiped):
			return &SwipeResult{Success: false, Error: ErrAlreadySwiped.Error()}, nil
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return &SwipeResult{Success: false, Error: ledger.ErrInsufficientFunds.Error()}, nil
		case errors.Is(err, ledger.ErrWalletNotFound):
			return &SwipeResult{Success: false, Error: ledger.ErrWalletNotFound.Error()}, nil
		}
		return nil, err
	}

	result := &SwipeResult{Success: true, NewBalance: newBalance}
	if err := s.classifyMatch(ctx, b, result); err != nil {
		// The swipe committed; downstream clash bookkeeping failed.
		log.Printf("Clash creation failed after swipe: bet=%s user=%s: %v", betID, userID, err)
		result.Error = "swipe recorded, but clash creation failed: " + err.Error()
	}
	return result, nil
}

func (s *Service) classifyMatch(ctx context.Context, b *Bet, result *SwipeResult) error {
	existing, err := s.repo.GetClashByBet(ctx, b.BetID)
	if err != nil {
		result.MatchType = MatchPending
		return err
	}
	if existing != nil {
		result.MatchType = MatchClash
		result.ClashID = existing.ClashID
		return nil
	}

	parts, err := s.repo.SwipedParticipants(ctx, b.BetID)
	if err != nil {
		result.MatchType = MatchPending
		return err
	}
	if len(parts) < 2 {
		result.MatchType = MatchPending
		return nil
	}

	first, second := parts[0], parts[1]
	if first.Swipe == second.Swipe {
		result.MatchType = MatchHairball
		return nil
	}

	proverID := first.UserID
	if second.Swipe == VoteYes {
		proverID = second.UserID
	}
	c := &clash.Clash{
		ClashID:       uuid.New().String(),
		BetID:         b.BetID,
		User1ID:       first.UserID,
		User2ID:       second.UserID,
		ProverID:      proverID,
		TotalPot:      first.StakeAmount.Add(second.StakeAmount),
		Status:        clash.StatusPendingProof,
		ProofDeadline: time.Now().Add(ProofDeadlineWindow),
	}

	result.MatchType = MatchClash
	created, stored, err := s.repo.InsertClashIfAbsent(ctx, c)
	if err != nil {
		return err
	}
	result.ClashID = stored.ClashID
	result.ClashCreated = created
	if created {
		log.Printf("Clash formed: clash=%s bet=%s pot=%s prover=%s", stored.ClashID, b.BetID, stored.TotalPot.String(), proverID)
		for _, userID := range []string{first.UserID, second.UserID} {
			s.events.Publish(ctx, notify.Event{
				Type:        "clash_formed",
				UserID:      userID,
				ReferenceID: stored.ClashID,
				Message:     "A clash has formed: proof is due within 24 hours",
				At:          time.Now(),
			})
		}
	}
	return nil
}

func (s *Service) CreateBetForFriend(ctx context.Context, creatorID, friendID, text, category string, baseStake decimal.Decimal, expiresAt time.Time) (*Bet, error) {
	b, err := s.newBet(ctx, creatorID, text, category, baseStake, expiresAt)
	if err != nil {
		return nil, err
	}
	b.TargetUserID = &friendID
	if err := s.repo.CreateBet(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) CreateBetForGroup(ctx context.Context, creatorID, groupID, text, category string, baseStake decimal.Decimal, expiresAt time.Time) (*Bet, error) {
	b, err := s.newBet(ctx, creatorID, text, category, baseStake, expiresAt)
	if err != nil {
		return nil, err
	}
	b.GroupID = &groupID
	if err := s.repo.CreateBet(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) CreateBetForAllFriends(ctx context.Context, creatorID string, friendIDs []string, text, category string, baseStake decimal.Decimal, expiresAt time.Time) ([]*Bet, error) {
	bets := make([]*Bet, 0, len(friendIDs))
	for _, friendID := range friendIDs {
		b, err := s.CreateBetForFriend(ctx, creatorID, friendID, text, category, baseStake, expiresAt)
		if err != nil {
			return bets, err
		}
		bets = append(bets, b)
	}
	return bets, nil
}

// CancelBet is allowed only to the creator and only before any
// non-creator has swiped. The creator's own locked stake, if any, is
// refunded.
func (s *Service) CancelBet(ctx context.Context, betID, callerID string) (*CancelResult, error) {
	b, err := s.repo.GetBet(ctx, betID)
	if err != nil {
		if errors.Is(err, ErrBetNotFound) {
			return &CancelResult{Success: false, Error: ErrBetNotFound.Error()}, nil
		}
		return nil, err
	}
	if b.CreatorID != callerID {
		return &CancelResult{Success: false, Error: ErrNotCreator.Error()}, nil
	}
	if b.Status == BetStatusCancelled {
		return &CancelResult{Success: false, Error: ErrBetCancelled.Error()}, nil
	}

	swiped, err := s.repo.HasNonCreatorSwipe(ctx, betID, callerID)
	if err != nil {
		return nil, err
	}
	if swiped {
		return &CancelResult{Success: false, Error: ErrCancelTooLate.Error()}, nil
	}

	refunded, err := s.repo.CancelWithRefund(ctx, b)
	if err != nil {
		if errors.Is(err, ErrBetCancelled) {
			return &CancelResult{Success: false, Error: ErrBetCancelled.Error()}, nil
		}
		return nil, err
	}
	return &CancelResult{Success: true, Refunded: refunded}, nil
}

// newBet builds the row, sizing the default wager from the creator's
// balance when no stake is given.
func (s *Service) newBet(ctx context.Context, creatorID, text, category string, baseStake decimal.Decimal, expiresAt time.Time) (*Bet, error) {
	if !baseStake.IsPositive() {
		w, err := s.wallets.GetByUser(ctx, creatorID)
		if err != nil {
			return nil, err
		}
		baseStake = debt.CalculateStake(w.Balance)
	}
	return &Bet{
		BetID:     uuid.New().String(),
		CreatorID: creatorID,
		Text:      text,
		Category:  category,
		BaseStake: baseStake,
		Status:    BetStatusActive,
		ExpiresAt: expiresAt,
	}, nil
}
