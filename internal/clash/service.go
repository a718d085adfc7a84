package clash

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"wager_service/internal/notify"
)

const (
	// DefaultMaxViews applies when the proof is not view-once.
	DefaultMaxViews = 3
	// DefaultViewDurationHours bounds how long a proof stays viewable
	// after submission when the uploader does not choose a duration.
	DefaultViewDurationHours = 24
)

// ViewURLSigner mints a short-lived signed URL for an opaque storage
// path.
type ViewURLSigner interface {
	SignedURL(path string) (string, error)
}

type Service struct {
	repo   Repository
	signer ViewURLSigner
	events notify.Publisher
}

func NewService(repo Repository, signer ViewURLSigner, events notify.Publisher) *Service {
	return &Service{repo: repo, signer: signer, events: events}
}

// SubmitProof accepts an opaque storage reference from the prover and
// moves the clash to proof_submitted.
func (s *Service) SubmitProof(ctx context.Context, clashID, uploaderID, storagePath, mediaType string, viewDurationHours int, isViewOnce bool) (*SubmitProofResult, error) {
	c, err := s.repo.GetClash(ctx, clashID)
	if err != nil {
		if errors.Is(err, ErrClashNotFound) {
			return &SubmitProofResult{Success: false, Error: ErrClashNotFound.Error()}, nil
		}
		return nil, err
	}
	if uploaderID != c.ProverID {
		return &SubmitProofResult{Success: false, Error: ErrNotProver.Error()}, nil
	}
	if c.Status != StatusPendingProof {
		return &SubmitProofResult{Success: false, Error: ErrWrongState.Error()}, nil
	}
	if time.Now().After(c.ProofDeadline) {
		return &SubmitProofResult{Success: false, Error: ErrDeadlinePassed.Error()}, nil
	}
	if storagePath == "" || strings.HasPrefix(storagePath, "data:") {
		return &SubmitProofResult{Success: false, Error: ErrInlineProofData.Error()}, nil
	}

	maxViews := DefaultMaxViews
	if isViewOnce {
		maxViews = 1
	}
	if viewDurationHours <= 0 {
		viewDurationHours = DefaultViewDurationHours
	}

	p := &Proof{
		ProofID:           uuid.New().String(),
		ClashID:           clashID,
		UploaderID:        uploaderID,
		StoragePath:       storagePath,
		MediaType:         mediaType,
		MaxViews:          maxViews,
		ViewDurationHours: viewDurationHours,
		SubmittedAt:       time.Now(),
	}
	if err := s.repo.CreateProof(ctx, p); err != nil {
		if errors.Is(err, ErrWrongState) || errors.Is(err, ErrProofAlreadyExists) {
			return &SubmitProofResult{Success: false, Error: err.Error()}, nil
		}
		return nil, err
	}

	s.events.Publish(ctx, notify.Event{
		Type:        "proof_submitted",
		UserID:      c.Opponent(uploaderID),
		ReferenceID: clashID,
		Message:     "Proof has been submitted: view and accept or dispute it",
		At:          time.Now(),
	})
	return &SubmitProofResult{Success: true, ProofID: p.ProofID, Status: StatusProofSubmitted}, nil
}

// ViewProof hands a participant a signed URL while views remain and the
// view window is open. Expiry is evaluated lazily here: the first call
// after the window closes destroys the proof and flags the clash.
func (s *Service) ViewProof(ctx context.Context, clashID, viewerID string) (*ViewProofResult, error) {
	c, err := s.repo.GetClash(ctx, clashID)
	if err != nil {
		if errors.Is(err, ErrClashNotFound) {
			return &ViewProofResult{Success: false, Error: ErrClashNotFound.Error()}, nil
		}
		return nil, err
	}
	if !c.IsParticipant(viewerID) {
		return &ViewProofResult{Success: false, Error: ErrNotParticipant.Error()}, nil
	}

	p, err := s.repo.GetProofByClash(ctx, clashID)
	if err != nil {
		if errors.Is(err, ErrNoProof) {
			return &ViewProofResult{Success: false, Error: ErrNoProof.Error()}, nil
		}
		return nil, err
	}
	if p.IsDestroyed {
		return &ViewProofResult{Success: false, Error: ErrProofUnavailable.Error(), ProofExpired: c.ProofExpired}, nil
	}

	windowEnd := p.SubmittedAt.Add(time.Duration(p.ViewDurationHours) * time.Hour)
	if time.Now().After(windowEnd) {
		if err := s.repo.ExpireProof(ctx, p.ProofID, clashID); err != nil {
			return nil, err
		}
		log.Printf("Proof expired: clash=%s proof=%s", clashID, p.ProofID)
		return &ViewProofResult{Success: false, Error: ErrProofWindowExpired.Error(), ProofExpired: true}, nil
	}

	if p.ViewCount >= p.MaxViews {
		return &ViewProofResult{Success: false, Error: ErrProofAlreadyViewed.Error()}, nil
	}
	remaining, err := s.repo.ConsumeView(ctx, p.ProofID)
	if err != nil {
		if errors.Is(err, ErrProofAlreadyViewed) {
			return &ViewProofResult{Success: false, Error: ErrProofAlreadyViewed.Error()}, nil
		}
		return nil, err
	}

	url, err := s.signer.SignedURL(p.StoragePath)
	if err != nil {
		return nil, err
	}
	return &ViewProofResult{Success: true, CanView: true, ViewURL: url, ViewsRemaining: remaining}, nil
}

// ResolveClash pays the whole pot to the winner: the prover when the
// proof is accepted, the other participant when it is not.
func (s *Service) ResolveClash(ctx context.Context, clashID string, proofAccepted bool, reviewerID string) (*ResolveResult, error) {
	c, err := s.repo.GetClash(ctx, clashID)
	if err != nil {
		if errors.Is(err, ErrClashNotFound) {
			return &ResolveResult{Success: false, Error: ErrClashNotFound.Error()}, nil
		}
		return nil, err
	}
	if !c.IsParticipant(reviewerID) {
		return &ResolveResult{Success: false, Error: ErrNotParticipant.Error()}, nil
	}
	if c.Status == StatusResolved {
		return &ResolveResult{Success: false, Error: ErrAlreadyResolved.Error()}, nil
	}
	if c.Status == StatusPendingProof {
		return &ResolveResult{Success: false, Error: ErrNoProof.Error()}, nil
	}

	winnerID := c.ProverID
	if !proofAccepted {
		winnerID = c.Opponent(c.ProverID)
	}
	loserID := c.Opponent(winnerID)

	newBalance, err := s.repo.ResolveWithPayout(ctx, clashID, winnerID, loserID, c.TotalPot)
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrWrongState) {
			return &ResolveResult{Success: false, Error: err.Error()}, nil
		}
		return nil, err
	}

	log.Printf("Clash resolved: clash=%s winner=%s pot=%s", clashID, winnerID, c.TotalPot.String())
	for _, userID := range []string{winnerID, loserID} {
		s.events.Publish(ctx, notify.Event{
			Type:        "clash_resolved",
			UserID:      userID,
			ReferenceID: clashID,
			At:          time.Now(),
		})
	}
	return &ResolveResult{
		Success:          true,
		WinnerID:         winnerID,
		PotAwarded:       c.TotalPot,
		WinnerNewBalance: newBalance,
	}, nil
}

// DisputeClash flags the proof for downstream review. No funds move.
func (s *Service) DisputeClash(ctx context.Context, clashID, disputerID, reason string) (*DisputeResult, error) {
	c, err := s.repo.GetClash(ctx, clashID)
	if err != nil {
		if errors.Is(err, ErrClashNotFound) {
			return &DisputeResult{Success: false, Error: ErrClashNotFound.Error()}, nil
		}
		return nil, err
	}
	if !c.IsParticipant(disputerID) {
		return &DisputeResult{Success: false, Error: ErrNotParticipant.Error()}, nil
	}

	if err := s.repo.Dispute(ctx, clashID, reason); err != nil {
		if errors.Is(err, ErrWrongState) {
			return &DisputeResult{Success: false, Error: ErrWrongState.Error()}, nil
		}
		return nil, err
	}

	log.Printf("Clash disputed: clash=%s by=%s", clashID, disputerID)
	s.events.Publish(ctx, notify.Event{
		Type:        "clash_disputed",
		UserID:      c.Opponent(disputerID),
		ReferenceID: clashID,
		Message:     reason,
		At:          time.Now(),
	})
	return &DisputeResult{Success: true, Status: StatusDisputed}, nil
}
