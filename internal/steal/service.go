package steal

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wager_service/internal/ledger"
	"wager_service/internal/notify"
)

var hundred = decimal.NewFromInt(100)

type Service struct {
	repo    Repository
	wallets ledger.WalletRepository
	events  notify.Publisher
}

func NewService(repo Repository, wallets ledger.WalletRepository, events notify.Publisher) *Service {
	return &Service{repo: repo, wallets: wallets, events: events}
}

// InitiateSteal sizes the attempt and, when the target is active, opens
// a defense window. No funds move until CompleteSteal.
func (s *Service) InitiateSteal(ctx context.Context, thiefID, targetID string) (*InitiateResult, error) {
	if thiefID == targetID {
		return &InitiateResult{Success: false, Error: ErrSelfSteal.Error()}, nil
	}

	thief, err := s.wallets.GetByUser(ctx, thiefID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return &InitiateResult{Success: false, Error: ErrThiefNotFound.Error()}, nil
		}
		return nil, err
	}
	target, err := s.wallets.GetByUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return &InitiateResult{Success: false, Error: ErrTargetNotFound.Error()}, nil
		}
		return nil, err
	}
	if target.Balance.LessThan(decimal.NewFromInt(MinTargetBalance)) {
		return &InitiateResult{Success: false, Error: ErrTargetTooBroke.Error()}, nil
	}

	pct := Percentage(thief.TrustScore, thief.StealsSuccessful, thief.StealsDefended)
	potential := target.Balance.Mul(decimal.NewFromInt(int64(pct))).Div(hundred).Floor()

	now := time.Now()
	online := target.LastLoginAt != nil && now.Sub(*target.LastLoginAt) < OnlineThreshold
	var windowEnd *time.Time
	if online {
		end := now.Add(DefenseWindow)
		windowEnd = &end
	}

	a := &StealAttempt{
		StealID:          uuid.New().String(),
		ThiefID:          thiefID,
		TargetID:         targetID,
		StealPercentage:  pct,
		PotentialAmount:  potential,
		TargetWasOnline:  online,
		DefenseWindowEnd: windowEnd,
		StolenAmount:     decimal.Zero,
		Status:           StatusInProgress,
	}
	if err := s.repo.CreateAttempt(ctx, a); err != nil {
		return nil, err
	}

	log.Printf("Steal initiated: steal=%s thief=%s target=%s pct=%d potential=%s online=%t",
		a.StealID, thiefID, targetID, pct, potential.String(), online)
	if online {
		s.events.Publish(ctx, notify.Event{
			Type:        "steal_incoming",
			UserID:      targetID,
			ReferenceID: a.StealID,
			Message:     "Someone is robbing you! Defend now!",
			At:          now,
		})
	}
	return &InitiateResult{
		Success:          true,
		StealID:          a.StealID,
		PotentialAmount:  potential,
		TargetWasOnline:  online,
		DefenseWindowEnd: windowEnd,
	}, nil
}

// DefendSteal flags the attempt for the eventual CompleteSteal call. It
// never moves money itself. The window is open strictly before
// DefenseWindowEnd; the end instant counts as closed.
func (s *Service) DefendSteal(ctx context.Context, stealID, defenderID string) (*DefendResult, error) {
	a, err := s.repo.GetAttempt(ctx, stealID)
	if err != nil {
		if errors.Is(err, ErrStealNotFound) {
			return &DefendResult{Success: false, Error: ErrStealNotFound.Error()}, nil
		}
		return nil, err
	}
	if defenderID != a.TargetID {
		return &DefendResult{Success: false, Error: ErrNotTarget.Error()}, nil
	}
	if a.Status != StatusInProgress {
		return &DefendResult{Success: false, Error: ErrAlreadyCompleted.Error()}, nil
	}
	if a.DefenseWindowEnd == nil {
		return &DefendResult{Success: false, Error: ErrNoDefenseWindow.Error()}, nil
	}
	if !time.Now().Before(*a.DefenseWindowEnd) {
		return &DefendResult{Success: false, Error: ErrWindowClosed.Error()}, nil
	}

	if err := s.repo.MarkDefended(ctx, stealID, a.TargetID); err != nil {
		if errors.Is(err, ErrAlreadyDefended) {
			return &DefendResult{Success: false, Error: ErrAlreadyDefended.Error()}, nil
		}
		return nil, err
	}
	log.Printf("Steal defended: steal=%s defender=%s", stealID, defenderID)
	return &DefendResult{Success: true}, nil
}

// CompleteSteal settles the attempt once the minigame has run and any
// defense window has lapsed. A defended attempt costs the thief double
// the potential; a clean one moves the loot atomically.
func (s *Service) CompleteSteal(ctx context.Context, stealID string, minigameSucceeded bool) (*CompleteResult, error) {
	a, err := s.repo.GetAttempt(ctx, stealID)
	if err != nil {
		if errors.Is(err, ErrStealNotFound) {
			return &CompleteResult{Success: false, Error: ErrStealNotFound.Error()}, nil
		}
		return nil, err
	}
	if a.Status != StatusInProgress {
		return &CompleteResult{Success: false, Error: ErrAlreadyCompleted.Error()}, nil
	}

	if !minigameSucceeded {
		if err := s.repo.CompleteFailed(ctx, stealID); err != nil {
			if errors.Is(err, ErrAlreadyCompleted) {
				return &CompleteResult{Success: false, Error: ErrAlreadyCompleted.Error()}, nil
			}
			return nil, err
		}
		return &CompleteResult{Success: true, Status: StatusFailed, StolenAmount: decimal.Zero}, nil
	}

	// An online target keeps their chance to defend until the window
	// lapses; the caller retries after it closes.
	if a.TargetWasOnline && a.DefenseWindowEnd != nil && time.Now().Before(*a.DefenseWindowEnd) {
		return &CompleteResult{Success: false, Error: ErrDefenseWindowStillOpen.Error()}, nil
	}

	if a.WasDefended {
		return s.settleDefended(ctx, a)
	}

	stolen, newBalance, err := s.repo.CompleteSuccess(ctx, stealID, a.ThiefID, a.TargetID, a.PotentialAmount)
	if err != nil {
		// A defense may commit between our read and the settlement; the
		// repository's was_defended guard catches it and we settle the
		// defended path instead of robbing a defended target.
		if errors.Is(err, ErrAlreadyDefended) {
			return s.settleDefended(ctx, a)
		}
		if errors.Is(err, ErrAlreadyCompleted) {
			return &CompleteResult{Success: false, Error: ErrAlreadyCompleted.Error()}, nil
		}
		return nil, err
	}
	log.Printf("Steal succeeded: steal=%s thief=%s target=%s stolen=%s", stealID, a.ThiefID, a.TargetID, stolen.String())
	s.events.Publish(ctx, notify.Event{
		Type:        "robbed",
		UserID:      a.TargetID,
		ReferenceID: stealID,
		Message:     "You got robbed for " + stolen.String() + " coins",
		At:          time.Now(),
	})
	return &CompleteResult{Success: true, Status: StatusSuccess, StolenAmount: stolen, ThiefNewBalance: newBalance}, nil
}

func (s *Service) settleDefended(ctx context.Context, a *StealAttempt) (*CompleteResult, error) {
	penalty := a.PotentialAmount.Mul(decimal.NewFromInt(2))
	newBalance, err := s.repo.CompleteDefended(ctx, a.StealID, a.ThiefID, penalty)
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			return &CompleteResult{Success: false, Error: ErrAlreadyCompleted.Error()}, nil
		}
		return nil, err
	}
	log.Printf("Steal defended and penalized: steal=%s thief=%s penalty=%s", a.StealID, a.ThiefID, penalty.String())
	s.events.Publish(ctx, notify.Event{
		Type:        "steal_defended",
		UserID:      a.ThiefID,
		ReferenceID: a.StealID,
		Message:     "Your steal was defended: penalty applied",
		At:          time.Now(),
	})
	return &CompleteResult{Success: true, Status: StatusDefended, StolenAmount: decimal.Zero, ThiefNewBalance: newBalance}, nil
}
