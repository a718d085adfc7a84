package steal_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager_service/internal/ledger"
	"wager_service/internal/ledger/ledgertest"
	"wager_service/internal/notify"
	"wager_service/internal/steal"
)

type fakeStealRepo struct {
	mu       sync.Mutex
	wallets  *ledgertest.WalletRepo
	attempts map[string]*steal.StealAttempt

	// afterGetAttempt runs once after a read returns, to stand in for a
	// concurrent writer committing in the read/settle gap.
	afterGetAttempt func()
}

func newFakeStealRepo(wallets *ledgertest.WalletRepo) *fakeStealRepo {
	return &fakeStealRepo{wallets: wallets, attempts: make(map[string]*steal.StealAttempt)}
}

func (r *fakeStealRepo) CreateAttempt(_ context.Context, a *steal.StealAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *a
	r.attempts[a.StealID] = &copied
	return nil
}

func (r *fakeStealRepo) GetAttempt(_ context.Context, stealID string) (*steal.StealAttempt, error) {
	r.mu.Lock()
	a, ok := r.attempts[stealID]
	if !ok {
		r.mu.Unlock()
		return nil, steal.ErrStealNotFound
	}
	copied := *a
	r.mu.Unlock()
	if r.afterGetAttempt != nil {
		hook := r.afterGetAttempt
		r.afterGetAttempt = nil
		hook()
	}
	return &copied, nil
}

func (r *fakeStealRepo) MarkDefended(_ context.Context, stealID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[stealID]
	if !ok || a.Status != steal.StatusInProgress {
		return steal.ErrAlreadyCompleted
	}
	if a.WasDefended {
		return steal.ErrAlreadyDefended
	}
	a.WasDefended = true
	r.wallets.Mu.Lock()
	if w, ok := r.wallets.Wallets[targetID]; ok {
		w.StealsDefended++
	}
	r.wallets.Mu.Unlock()
	return nil
}

func (r *fakeStealRepo) CompleteFailed(_ context.Context, stealID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[stealID]
	if !ok || a.Status != steal.StatusInProgress {
		return steal.ErrAlreadyCompleted
	}
	a.Status = steal.StatusFailed
	return nil
}

func (r *fakeStealRepo) CompleteDefended(_ context.Context, stealID, thiefID string, penalty decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[stealID]
	if !ok || a.Status != steal.StatusInProgress {
		return decimal.Zero, steal.ErrAlreadyCompleted
	}
	r.wallets.Mu.Lock()
	tx, err := r.wallets.ApplyClamped(thiefID, penalty.Neg(), ledger.TxTypeStealPenalty, stealID)
	r.wallets.Mu.Unlock()
	if err != nil {
		return decimal.Zero, err
	}
	a.Status = steal.StatusDefended
	return tx.BalanceAfter, nil
}

func (r *fakeStealRepo) CompleteSuccess(_ context.Context, stealID, thiefID, targetID string, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[stealID]
	if !ok || a.Status != steal.StatusInProgress {
		return decimal.Zero, decimal.Zero, steal.ErrAlreadyCompleted
	}
	if a.WasDefended {
		return decimal.Zero, decimal.Zero, steal.ErrAlreadyDefended
	}

	r.wallets.Mu.Lock()
	defer r.wallets.Mu.Unlock()
	target, ok := r.wallets.Wallets[targetID]
	if !ok {
		return decimal.Zero, decimal.Zero, ledger.ErrWalletNotFound
	}
	stolen := amount
	if stolen.GreaterThan(target.Balance) {
		stolen = target.Balance
	}
	if _, err := r.wallets.Apply(targetID, stolen.Neg(), ledger.TxTypeStealLoss, stealID); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	tx, err := r.wallets.Apply(thiefID, stolen, ledger.TxTypeStealGain, stealID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if thief, ok := r.wallets.Wallets[thiefID]; ok {
		thief.StealsSuccessful++
	}
	target.TimesRobbed++
	a.Status = steal.StatusSuccess
	a.StolenAmount = stolen
	return stolen, tx.BalanceAfter, nil
}

func setupStealTest(t *testing.T) (*fakeStealRepo, *ledgertest.WalletRepo, *steal.Service) {
	t.Helper()
	wallets := ledgertest.NewWalletRepo()
	repo := newFakeStealRepo(wallets)
	service := steal.NewService(repo, wallets, notify.NewHub())
	return repo, wallets, service
}

func markOnline(wallets *ledgertest.WalletRepo, userID string, ago time.Duration) {
	wallets.Mu.Lock()
	defer wallets.Mu.Unlock()
	at := time.Now().Add(-ago)
	wallets.Wallets[userID].LastLoginAt = &at
}

// closeWindow backdates the defense window so completion can proceed.
func closeWindow(repo *fakeStealRepo, stealID string) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	end := time.Now().Add(-time.Second)
	repo.attempts[stealID].DefenseWindowEnd = &end
}

func TestPercentageFormula(t *testing.T) {
	cases := []struct {
		trust, successful, defended, want int
	}{
		{50, 0, 0, 10},
		{50, 5, 0, 20},
		{50, 0, 3, 1},  // 10 - 9 = 1
		{50, 0, 4, 1},  // clamped at the floor
		{0, 20, 0, 50}, // clamped at the ceiling
		{20, 0, 0, 13},
		{100, 0, 0, 5},
	}
	for _, tc := range cases {
		got := steal.Percentage(tc.trust, tc.successful, tc.defended)
		assert.Equal(t, tc.want, got, "trust=%d successful=%d defended=%d", tc.trust, tc.successful, tc.defended)
	}
}

func TestInitiateStealSizing(t *testing.T) {
	_, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)
	wallets.Seed("target", 237)

	result, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	// Fresh thief at trust 50: 10% of 237, floored.
	assert.True(t, result.PotentialAmount.Equal(decimal.NewFromInt(23)))
	assert.False(t, result.TargetWasOnline)
	assert.Nil(t, result.DefenseWindowEnd)
}

func TestInitiateStealTargetTooBroke(t *testing.T) {
	_, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)
	wallets.Seed("target", 9)

	result, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, steal.ErrTargetTooBroke.Error(), result.Error)

	// Exactly the minimum is allowed.
	wallets.Seed("target2", 10)
	result, err = service.InitiateSteal(context.Background(), "thief", "target2")
	require.NoError(t, err)
	assert.True(t, result.Success, result.Error)
}

func TestInitiateStealSelfAndMissing(t *testing.T) {
	_, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)

	result, err := service.InitiateSteal(context.Background(), "thief", "thief")
	require.NoError(t, err)
	assert.Equal(t, steal.ErrSelfSteal.Error(), result.Error)

	result, err = service.InitiateSteal(context.Background(), "thief", "ghost")
	require.NoError(t, err)
	assert.Equal(t, steal.ErrTargetNotFound.Error(), result.Error)

	result, err = service.InitiateSteal(context.Background(), "ghost", "thief")
	require.NoError(t, err)
	assert.Equal(t, steal.ErrThiefNotFound.Error(), result.Error)
}

func TestOnlineBoundaryOpensDefenseWindow(t *testing.T) {
	_, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)
	wallets.Seed("target", 100)

	// A login exactly the threshold old counts as offline.
	markOnline(wallets, "target", steal.OnlineThreshold)
	result, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.False(t, result.TargetWasOnline)
	assert.Nil(t, result.DefenseWindowEnd)

	// A fresher login opens a 16s window.
	markOnline(wallets, "target", time.Minute)
	result, err = service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.TargetWasOnline)
	require.NotNil(t, result.DefenseWindowEnd)
	assert.WithinDuration(t, time.Now().Add(steal.DefenseWindow), *result.DefenseWindowEnd, time.Second)
}

func TestDefendPaths(t *testing.T) {
	repo, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)
	wallets.Seed("target", 100)

	// Offline target: nothing to defend.
	offline, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	result, err := service.DefendSteal(context.Background(), offline.StealID, "target")
	require.NoError(t, err)
	assert.Equal(t, steal.ErrNoDefenseWindow.Error(), result.Error)

	markOnline(wallets, "target", time.Minute)
	online, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)

	// Only the target may defend.
	result, err = service.DefendSteal(context.Background(), online.StealID, "thief")
	require.NoError(t, err)
	assert.Equal(t, steal.ErrNotTarget.Error(), result.Error)

	// In-window defense succeeds and bumps the counter.
	result, err = service.DefendSteal(context.Background(), online.StealID, "target")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, wallets.Wallets["target"].StealsDefended)

	// A second defense is rejected.
	result, err = service.DefendSteal(context.Background(), online.StealID, "target")
	require.NoError(t, err)
	assert.Equal(t, steal.ErrAlreadyDefended.Error(), result.Error)

	// After the window lapses, defense is too late.
	late, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	closeWindow(repo, late.StealID)
	result, err = service.DefendSteal(context.Background(), late.StealID, "target")
	require.NoError(t, err)
	assert.Equal(t, steal.ErrWindowClosed.Error(), result.Error)
}

func TestCompleteStealConservation(t *testing.T) {
	repo, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)
	wallets.Seed("target", 200)

	initiated, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	require.True(t, initiated.PotentialAmount.Equal(decimal.NewFromInt(20)))

	result, err := service.CompleteSteal(context.Background(), initiated.StealID, true)
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, steal.StatusSuccess, result.Status)
	assert.True(t, result.StolenAmount.Equal(decimal.NewFromInt(20)))
	assert.True(t, wallets.Balance("thief").Equal(decimal.NewFromInt(70)))
	assert.True(t, wallets.Balance("target").Equal(decimal.NewFromInt(180)))

	// Total coins conserved.
	sum := wallets.Balance("thief").Add(wallets.Balance("target"))
	assert.True(t, sum.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 1, wallets.Wallets["thief"].StealsSuccessful)
	assert.Equal(t, 1, wallets.Wallets["target"].TimesRobbed)
	assert.Equal(t, steal.StatusSuccess, repo.attempts[initiated.StealID].Status)
}

func TestCompleteStealMinigameFailed(t *testing.T) {
	_, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)
	wallets.Seed("target", 200)
	initiated, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)

	result, err := service.CompleteSteal(context.Background(), initiated.StealID, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, steal.StatusFailed, result.Status)
	assert.True(t, result.StolenAmount.IsZero())
	assert.True(t, wallets.Balance("thief").Equal(decimal.NewFromInt(50)))
	assert.True(t, wallets.Balance("target").Equal(decimal.NewFromInt(200)))

	// Terminal attempts reject further completion.
	result, err = service.CompleteSteal(context.Background(), initiated.StealID, true)
	require.NoError(t, err)
	assert.Equal(t, steal.ErrAlreadyCompleted.Error(), result.Error)
}

func TestCompleteStealWaitsForWindow(t *testing.T) {
	repo, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)
	wallets.Seed("target", 200)
	markOnline(wallets, "target", time.Minute)
	initiated, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)

	result, err := service.CompleteSteal(context.Background(), initiated.StealID, true)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, steal.ErrDefenseWindowStillOpen.Error(), result.Error)

	closeWindow(repo, initiated.StealID)
	result, err = service.CompleteSteal(context.Background(), initiated.StealID, true)
	require.NoError(t, err)
	assert.True(t, result.Success, result.Error)
}

func TestDefendedStealCostsDoublePenalty(t *testing.T) {
	repo, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 500)
	wallets.Seed("target", 1000)
	markOnline(wallets, "target", time.Minute)

	initiated, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	require.True(t, initiated.PotentialAmount.Equal(decimal.NewFromInt(100)))

	defend, err := service.DefendSteal(context.Background(), initiated.StealID, "target")
	require.NoError(t, err)
	require.True(t, defend.Success)

	closeWindow(repo, initiated.StealID)
	result, err := service.CompleteSteal(context.Background(), initiated.StealID, true)
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, steal.StatusDefended, result.Status)
	assert.True(t, result.StolenAmount.IsZero())
	assert.True(t, result.ThiefNewBalance.Equal(decimal.NewFromInt(300)), "penalty is double the potential")
	assert.True(t, wallets.Balance("target").Equal(decimal.NewFromInt(1000)), "target untouched")
}

func TestDefenseCommittingAfterReadStillPenalizes(t *testing.T) {
	repo, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 500)
	wallets.Seed("target", 1000)
	markOnline(wallets, "target", time.Minute)

	initiated, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	require.True(t, initiated.PotentialAmount.Equal(decimal.NewFromInt(100)))
	closeWindow(repo, initiated.StealID)

	// The target's in-window defense commits after the completion call
	// has read the attempt but before it settles.
	repo.afterGetAttempt = func() {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		repo.attempts[initiated.StealID].WasDefended = true
	}

	result, err := service.CompleteSteal(context.Background(), initiated.StealID, true)
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, steal.StatusDefended, result.Status)
	assert.True(t, result.StolenAmount.IsZero())
	assert.True(t, result.ThiefNewBalance.Equal(decimal.NewFromInt(300)), "double penalty applied, not a payout")
	assert.True(t, wallets.Balance("target").Equal(decimal.NewFromInt(1000)), "defended target keeps everything")
	assert.Equal(t, steal.StatusDefended, repo.attempts[initiated.StealID].Status)
}

func TestDefendedPenaltyClampsAtZero(t *testing.T) {
	repo, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)
	wallets.Seed("target", 1000)
	markOnline(wallets, "target", time.Minute)

	initiated, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)
	// Potential 100, penalty 200, thief only holds 50.

	defend, err := service.DefendSteal(context.Background(), initiated.StealID, "target")
	require.NoError(t, err)
	require.True(t, defend.Success)

	closeWindow(repo, initiated.StealID)
	result, err := service.CompleteSteal(context.Background(), initiated.StealID, true)
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.True(t, result.ThiefNewBalance.IsZero(), "penalty floored at zero balance")
}

func TestStolenAmountClampedToTargetBalance(t *testing.T) {
	_, wallets, service := setupStealTest(t)
	wallets.Seed("thief", 50)
	wallets.Seed("target", 200)
	initiated, err := service.InitiateSteal(context.Background(), "thief", "target")
	require.NoError(t, err)

	// The target spends down between initiation and completion.
	_, err = wallets.DebitIfSufficient(context.Background(), "target", decimal.NewFromInt(195), ledger.TxTypeStakeLock, "spend")
	require.NoError(t, err)

	result, err := service.CompleteSteal(context.Background(), initiated.StealID, true)
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.True(t, result.StolenAmount.Equal(decimal.NewFromInt(5)), "clamped to what the target still holds")
	assert.True(t, wallets.Balance("target").IsZero())
}
