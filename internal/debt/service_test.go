package debt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager_service/internal/debt"
	"wager_service/internal/ledger"
	"wager_service/internal/ledger/ledgertest"
)

type fakeDebtRepo struct {
	mu      sync.Mutex
	wallets *ledgertest.WalletRepo
	debts   map[string]*debt.Debt
}

func newFakeDebtRepo(wallets *ledgertest.WalletRepo) *fakeDebtRepo {
	return &fakeDebtRepo{wallets: wallets, debts: make(map[string]*debt.Debt)}
}

func (r *fakeDebtRepo) BorrowAndCredit(ctx context.Context, d *debt.Debt, maxDebtRatio decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.wallets.GetByUser(ctx, d.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	outstanding := decimal.Zero
	for _, existing := range r.debts {
		if existing.UserID == d.UserID && existing.Status != debt.StatusRepaid {
			outstanding = outstanding.Add(existing.TotalOwed())
		}
	}
	if outstanding.Add(d.Principal).GreaterThan(w.Balance.Sub(outstanding).Mul(maxDebtRatio)) {
		return decimal.Zero, debt.ErrDebtLimitExceeded
	}
	tx, err := r.wallets.Credit(ctx, d.UserID, d.Principal, ledger.TxTypeLoan, d.DebtID)
	if err != nil {
		return decimal.Zero, err
	}
	copied := *d
	r.debts[d.DebtID] = &copied
	return tx.BalanceAfter, nil
}

func (r *fakeDebtRepo) GetDebt(_ context.Context, debtID string) (*debt.Debt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.debts[debtID]
	if !ok {
		return nil, debt.ErrDebtNotFound
	}
	copied := *d
	return &copied, nil
}

func (r *fakeDebtRepo) OutstandingDebts(_ context.Context, userID string) ([]debt.Debt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var debts []debt.Debt
	for _, d := range r.debts {
		if d.UserID == userID && d.Status != debt.StatusRepaid {
			debts = append(debts, *d)
		}
	}
	return debts, nil
}

func (r *fakeDebtRepo) AccrueInterest(_ context.Context, debtID string, newInterest decimal.Decimal, prevAccrualAt, accruedAt time.Time, triggerRepo bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.debts[debtID]
	if !ok || !d.LastInterestAccrualAt.Equal(prevAccrualAt) {
		return debt.ErrAlreadyAccruedRecently
	}
	d.AccruedInterest = d.AccruedInterest.Add(newInterest)
	d.LastInterestAccrualAt = accruedAt
	if triggerRepo {
		d.RepoTriggered = true
		d.Status = debt.StatusRepoTriggered
	}
	return nil
}

func (r *fakeDebtRepo) RepayAndDebit(ctx context.Context, debtID, userID string, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.debts[debtID]
	if !ok {
		return decimal.Zero, decimal.Zero, decimal.Zero, "", debt.ErrDebtNotFound
	}
	if d.UserID != userID {
		return decimal.Zero, decimal.Zero, decimal.Zero, "", debt.ErrNotDebtor
	}
	if d.Status == debt.StatusRepaid {
		return decimal.Zero, decimal.Zero, decimal.Zero, "", debt.ErrDebtNotActive
	}
	applied := amount
	if applied.GreaterThan(d.TotalOwed()) {
		applied = d.TotalOwed()
	}
	tx, err := r.wallets.DebitIfSufficient(ctx, userID, applied, ledger.TxTypeRepayment, debtID)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, "", err
	}
	d.AmountRepaid = d.AmountRepaid.Add(applied)
	remaining := d.TotalOwed()
	if remaining.IsZero() {
		d.Status = debt.StatusRepaid
	}
	return applied, remaining, tx.BalanceAfter, d.Status, nil
}

// rewind pushes the accrual clock back so the cooldown no longer bites.
func (r *fakeDebtRepo) rewind(debtID string, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.debts[debtID]
	d.LastInterestAccrualAt = d.LastInterestAccrualAt.Add(-by)
}

func setupDebtTest(t *testing.T) (*fakeDebtRepo, *ledgertest.WalletRepo, *debt.Service) {
	t.Helper()
	wallets := ledgertest.NewWalletRepo()
	repo := newFakeDebtRepo(wallets)
	service := debt.NewService(repo, wallets, 30)
	return repo, wallets, service
}

func TestCalculateStake(t *testing.T) {
	cases := []struct {
		balance int64
		want    int64
	}{
		{50, 2},
		{500, 10},
		{25, 2},
		{0, 2},
		{149, 2},
		{150, 3},
	}
	for _, tc := range cases {
		got := debt.CalculateStake(decimal.NewFromInt(tc.balance))
		assert.True(t, got.Equal(decimal.NewFromInt(tc.want)), "balance %d: got %s want %d", tc.balance, got.String(), tc.want)
	}
}

func TestBorrowCreditsWallet(t *testing.T) {
	repo, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)

	result, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(100))
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(200)))
	assert.True(t, wallets.Balance("user-1").Equal(decimal.NewFromInt(200)))

	d := repo.debts[result.DebtID]
	require.NotNil(t, d)
	assert.Equal(t, debt.StatusActive, d.Status)
	assert.WithinDuration(t, time.Now().Add(debt.LoanTerm), d.DueAt, time.Minute)
}

func TestBorrowTrustTooLow(t *testing.T) {
	_, wallets, service := setupDebtTest(t)
	w := wallets.Seed("user-1", 100)
	w.TrustScore = 29

	result, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, debt.ErrTrustTooLow.Error(), result.Error)
}

func TestBorrowDebtLimit(t *testing.T) {
	_, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)

	// Limit is 2x the current balance.
	check, err := service.CanBorrow(context.Background(), "user-1", decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, check.Success)
	assert.True(t, check.MaxTotal.Equal(decimal.NewFromInt(200)))

	check, err = service.CanBorrow(context.Background(), "user-1", decimal.NewFromInt(201))
	require.NoError(t, err)
	assert.False(t, check.Success)
	assert.Equal(t, debt.ErrDebtLimitExceeded.Error(), check.Error)
}

func TestConcurrentBorrowsCannotExceedCap(t *testing.T) {
	_, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)

	// Cap is 200; two racing borrows of 200 must not both land.
	results := make(chan *debt.BorrowResult, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			result, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(200))
			require.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for result := range results {
		if result.Success {
			succeeded++
		} else {
			assert.Equal(t, debt.ErrDebtLimitExceeded.Error(), result.Error)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one borrow within the cap")

	total, err := service.GetTotalDebt(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, total.LessThanOrEqual(decimal.NewFromInt(200)), "total debt stays within balance x ratio, got %s", total.String())
}

func TestBorrowRejectsNonPositiveAmount(t *testing.T) {
	_, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)

	result, err := service.BorrowCoins(context.Background(), "user-1", decimal.Zero)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ledger.ErrNonPositiveAmount.Error(), result.Error)
}

func TestAccrueInterestCooldown(t *testing.T) {
	repo, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)
	borrow, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(100))
	require.NoError(t, err)

	// Freshly issued: the accrual clock starts at the loan, so the first
	// call inside 24h fails.
	result, err := service.AccrueInterestOnDebt(context.Background(), borrow.DebtID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, debt.ErrAlreadyAccruedRecently.Error(), result.Error)

	repo.rewind(borrow.DebtID, 25*time.Hour)
	result, err = service.AccrueInterestOnDebt(context.Background(), borrow.DebtID)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.NewInterest.Equal(decimal.NewFromInt(10)), "ceil(100 * 0.10) = 10, got %s", result.NewInterest.String())
	assert.True(t, result.TotalOwed.Equal(decimal.NewFromInt(110)))

	// Second call within 24h of the accrual fails again.
	result, err = service.AccrueInterestOnDebt(context.Background(), borrow.DebtID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, debt.ErrAlreadyAccruedRecently.Error(), result.Error)
}

func TestDailyCompoundingWithCeiling(t *testing.T) {
	repo, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)
	borrow, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(100))
	require.NoError(t, err)

	// 100 -> 110 -> 121 -> 134 (ceil(121 * 0.10) = 13).
	want := []int64{110, 121, 134}
	for _, owed := range want {
		repo.rewind(borrow.DebtID, 25*time.Hour)
		result, err := service.AccrueInterestOnDebt(context.Background(), borrow.DebtID)
		require.NoError(t, err)
		require.True(t, result.Success, result.Error)
		assert.True(t, result.TotalOwed.Equal(decimal.NewFromInt(owed)), "want owed %d got %s", owed, result.TotalOwed.String())
	}
}

func TestAccrualFlagsRepoPastGracePeriod(t *testing.T) {
	repo, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)
	borrow, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(100))
	require.NoError(t, err)

	repo.mu.Lock()
	d := repo.debts[borrow.DebtID]
	d.DueAt = time.Now().Add(-8 * 24 * time.Hour)
	d.LastInterestAccrualAt = time.Now().Add(-25 * time.Hour)
	repo.mu.Unlock()

	result, err := service.AccrueInterestOnDebt(context.Background(), borrow.DebtID)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.RepoTriggered)
	assert.Equal(t, debt.StatusRepoTriggered, repo.debts[borrow.DebtID].Status)
}

func TestAccrueOnRepaidDebtFails(t *testing.T) {
	repo, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)
	borrow, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(100))
	require.NoError(t, err)
	repo.debts[borrow.DebtID].Status = debt.StatusRepaid

	result, err := service.AccrueInterestOnDebt(context.Background(), borrow.DebtID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, debt.ErrDebtNotActive.Error(), result.Error)
}

func TestRepayPartialThenFull(t *testing.T) {
	_, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)
	borrow, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(100))
	require.NoError(t, err)
	// Balance is now 200, owing 100.

	result, err := service.RepayDebt(context.Background(), "user-1", borrow.DebtID, decimal.NewFromInt(40))
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.AmountApplied.Equal(decimal.NewFromInt(40)))
	assert.True(t, result.RemainingDebt.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, debt.StatusActive, result.Status)

	// Overpay: only the remaining 60 is taken.
	result, err = service.RepayDebt(context.Background(), "user-1", borrow.DebtID, decimal.NewFromInt(500))
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.AmountApplied.Equal(decimal.NewFromInt(60)))
	assert.True(t, result.RemainingDebt.IsZero())
	assert.Equal(t, debt.StatusRepaid, result.Status)
	assert.True(t, wallets.Balance("user-1").Equal(decimal.NewFromInt(100)))

	// A repaid debt takes no further payments.
	result, err = service.RepayDebt(context.Background(), "user-1", borrow.DebtID, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, debt.ErrDebtNotActive.Error(), result.Error)
}

func TestRepayInsufficientFunds(t *testing.T) {
	repo, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)
	borrow, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(100))
	require.NoError(t, err)
	require.True(t, borrow.Success, borrow.Error)

	// Drain the wallet, then try to repay.
	_, err = wallets.DebitIfSufficient(context.Background(), "user-1", decimal.NewFromInt(200), ledger.TxTypeStakeLock, "drain")
	require.NoError(t, err)

	result, err := service.RepayDebt(context.Background(), "user-1", borrow.DebtID, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ledger.ErrInsufficientFunds.Error(), result.Error)
	assert.True(t, repo.debts[borrow.DebtID].TotalOwed().Equal(decimal.NewFromInt(100)), "failed repayment leaves the debt untouched")
}

func TestRepayRequiresBorrower(t *testing.T) {
	repo, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 100)
	wallets.Seed("user-2", 100)
	borrow, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(100))
	require.NoError(t, err)
	require.True(t, borrow.Success, borrow.Error)

	result, err := service.RepayDebt(context.Background(), "user-2", borrow.DebtID, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, debt.ErrNotDebtor.Error(), result.Error)
	assert.True(t, repo.debts[borrow.DebtID].TotalOwed().Equal(decimal.NewFromInt(100)), "debt untouched")
	assert.True(t, wallets.Balance("user-2").Equal(decimal.NewFromInt(100)), "stranger's wallet untouched")
}

func TestGetTotalDebtSumsOutstanding(t *testing.T) {
	_, wallets, service := setupDebtTest(t)
	wallets.Seed("user-1", 1000)

	for _, amount := range []int64{100, 50} {
		result, err := service.BorrowCoins(context.Background(), "user-1", decimal.NewFromInt(amount))
		require.NoError(t, err)
		require.True(t, result.Success, result.Error)
	}

	total, err := service.GetTotalDebt(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(150)))
}
