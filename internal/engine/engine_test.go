package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parapet-finance/parapet/internal/lending"
	"github.com/parapet-finance/parapet/internal/pool"
	"github.com/parapet-finance/parapet/internal/token"
	"github.com/parapet-finance/parapet/internal/types"
)

const (
	testLoan   = types.LoanID("usdc-pool-a")
	testBuyer  = types.AccountID("buyer-1")
	testSeller = types.AccountID("seller-1")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func dec(t *testing.T, s string) sdkmath.LegacyDec {
	t.Helper()
	d, err := sdkmath.LegacyNewDecFromStr(s)
	require.NoError(t, err)
	return d
}

type testHarness struct {
	engine *Engine
	clock  *fakeClock
	oracle *lending.StaticOracle
	vault  *token.AssetVault
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	oracle := lending.NewStaticOracle(clock.Now)
	oracle.SetLoan(testLoan, lending.LoanRecord{
		TermEnd:           clock.Now().Add(2 * 365 * 24 * time.Hour),
		BuyerAPR:          dec(t, "0.04"),
		PaymentPeriodDays: 30,
		LastPaymentAt:     clock.Now(),
		Principal: map[types.AccountID]map[uint64]sdkmath.LegacyDec{
			testBuyer: {1: dec(t, "1000000")},
		},
	})

	registry := lending.NewRegistry()
	registry.Register("static", oracle)
	registry.Bind(testLoan, "static")

	vault, err := token.NewAssetVault(6)
	require.NoError(t, err)
	require.NoError(t, vault.Credit(testSeller, dec(t, "1000000")))
	require.NoError(t, vault.Credit(testBuyer, dec(t, "100000")))

	eng := New(registry, clock.Now)
	_, err = eng.RegisterPool(PoolSpec{
		ID: 1,
		Params: types.PoolParams{
			LeverageRatioFloor:       dec(t, "0.10"),
			LeverageRatioCeiling:     dec(t, "0.20"),
			LeverageRatioBuffer:      dec(t, "0.05"),
			MinRequiredCapital:       dec(t, "100000"),
			Curvature:                dec(t, "0.05"),
			MinPremiumPercent:        dec(t, "0.02"),
			UnderlyingPremiumPercent: dec(t, "0.10"),
			MinProtectionDuration:    30 * 24 * time.Hour,
			RenewalGracePeriod:       7 * 24 * time.Hour,
		},
		CycleParams: types.PoolCycleParams{
			OpenDuration:  10 * 24 * time.Hour,
			CycleDuration: 90 * 24 * time.Hour,
		},
		Token:  token.NewSnapshotToken(),
		Assets: vault,
		Basket: lending.NewStaticBasket(registry, testLoan),
	})
	require.NoError(t, err)

	return &testHarness{engine: eng, clock: clock, oracle: oracle, vault: vault}
}

func TestRegisterPool(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	p, err := h.engine.Pool(1)
	require.NoError(t, err)
	assert.Equal(t, types.PoolID(1), p.ID())
	assert.Equal(t, []types.PoolID{1}, h.engine.PoolIDs())

	_, err = h.engine.Pool(42)
	require.ErrorIs(t, err, ErrUnknownPool)

	// Duplicate registration fails.
	vault, err := token.NewAssetVault(6)
	require.NoError(t, err)
	_, err = h.engine.RegisterPool(PoolSpec{
		ID:     1,
		Params: p.Params(),
		CycleParams: types.PoolCycleParams{
			OpenDuration:  10 * 24 * time.Hour,
			CycleDuration: 90 * 24 * time.Hour,
		},
		Token:  token.NewSnapshotToken(),
		Assets: vault,
		Basket: lending.NewStaticBasket(lending.NewRegistry(), testLoan),
	})
	require.Error(t, err)
}

func TestFullLifecycleThroughEngine(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	shares, err := h.engine.Deposit(1, testSeller, testSeller, dec(t, "140000"))
	require.NoError(t, err)
	assert.True(t, shares.Equal(dec(t, "140000")))

	phase, err := h.engine.MovePoolPhase(1)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseOpenToBuyers, phase)

	prot, err := h.engine.BuyProtection(1, testBuyer, types.ProtectionPurchaseParams{
		LoanID:     testLoan,
		PositionID: 1,
		Amount:     dec(t, "1000000"),
		Duration:   170 * 24 * time.Hour,
	}, sdkmath.LegacyDec{})
	require.NoError(t, err)
	assert.Equal(t, types.ProtectionID(1), prot.ID)

	// Accrual through the engine after a payment lands.
	h.clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, h.oracle.Update(testLoan, func(r *lending.LoanRecord) {
		r.LastPaymentAt = h.clock.Now()
	}))
	result, err := h.engine.AccruePremiumAndExpire(1, nil)
	require.NoError(t, err)
	assert.True(t, result.Accrued.IsPositive())

	p, err := h.engine.Pool(1)
	require.NoError(t, err)
	assert.True(t, p.ExchangeRate().GT(sdkmath.LegacyOneDec()))

	// Assessment sees the loan healthy.
	require.NoError(t, h.engine.AssessStates(1))
	detail, err := h.engine.Tracker().LoanStatus(1, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanActive, detail.Current)
}

func TestLateLoanLifecycleThroughEngine(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.engine.Deposit(1, testSeller, testSeller, dec(t, "140000"))
	require.NoError(t, err)
	_, err = h.engine.MovePoolPhase(1)
	require.NoError(t, err)
	_, err = h.engine.BuyProtection(1, testBuyer, types.ProtectionPurchaseParams{
		LoanID:     testLoan,
		PositionID: 1,
		Amount:     dec(t, "1000000"),
		Duration:   170 * 24 * time.Hour,
	}, sdkmath.LegacyDec{})
	require.NoError(t, err)

	require.NoError(t, h.oracle.Update(testLoan, func(r *lending.LoanRecord) {
		r.Late = true
		r.LateSince = h.clock.Now()
	}))
	h.clock.Advance(31 * 24 * time.Hour)

	result := h.engine.AssessAll()
	assert.Equal(t, 1, result.Assessed)
	assert.Equal(t, 0, result.Failed)

	detail, err := h.engine.Tracker().LoanStatus(1, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanLate, detail.Current)

	// Recovery past the deadline, then claim through the engine.
	require.NoError(t, h.oracle.Update(testLoan, func(r *lending.LoanRecord) {
		r.Late = false
	}))
	h.clock.Advance(61 * 24 * time.Hour)
	require.NoError(t, h.engine.AssessStates(1))

	claimed, err := h.engine.Claim(1, testSeller)
	require.NoError(t, err)
	assert.True(t, claimed.Equal(dec(t, "140000")))

	_, err = h.engine.Claim(42, testSeller)
	require.Error(t, err)
}

func TestDefaultedLoanBlocksNewSales(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.engine.Deposit(1, testSeller, testSeller, dec(t, "140000"))
	require.NoError(t, err)
	_, err = h.engine.MovePoolPhase(1)
	require.NoError(t, err)
	_, err = h.engine.BuyProtection(1, testBuyer, types.ProtectionPurchaseParams{
		LoanID:     testLoan,
		PositionID: 1,
		Amount:     dec(t, "1000000"),
		Duration:   170 * 24 * time.Hour,
	}, sdkmath.LegacyDec{})
	require.NoError(t, err)

	require.NoError(t, h.oracle.Update(testLoan, func(r *lending.LoanRecord) {
		r.Late = true
		r.LateSince = h.clock.Now()
	}))
	h.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, h.engine.AssessStates(1))

	// Still late at the resolution deadline: the loan defaults for good.
	h.clock.Advance(61 * 24 * time.Hour)
	require.NoError(t, h.engine.AssessStates(1))

	detail, err := h.engine.Tracker().LoanStatus(1, testLoan)
	require.NoError(t, err)
	require.Equal(t, types.LoanDefaulted, detail.Current)

	// The raw oracle now reports the borrower current again. The default is
	// sticky, so neither a new sale nor a renewal goes through.
	require.NoError(t, h.oracle.Update(testLoan, func(r *lending.LoanRecord) {
		r.Late = false
	}))
	params := types.ProtectionPurchaseParams{
		LoanID:     testLoan,
		PositionID: 1,
		Amount:     dec(t, "100000"),
		Duration:   60 * 24 * time.Hour,
	}
	_, err = h.engine.BuyProtection(1, testBuyer, params, sdkmath.LegacyDec{})
	require.ErrorIs(t, err, pool.ErrLoanNotProtectable)
	_, err = h.engine.RenewProtection(1, testBuyer, params, sdkmath.LegacyDec{})
	require.ErrorIs(t, err, pool.ErrLoanNotProtectable)
}

func TestAccrueAllContinuesPastFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.engine.Deposit(1, testSeller, testSeller, dec(t, "140000"))
	require.NoError(t, err)

	// No protections anywhere: the pass is a quiet no-op.
	h.engine.AccrueAll()

	p, err := h.engine.Pool(1)
	require.NoError(t, err)
	assert.True(t, p.TotalCapital().Equal(dec(t, "140000")))
}

func TestRunLoopStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.engine.RunLoop(ctx, "* * * * *", "* * * * *")
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunLoop did not stop after context cancellation")
	}
}

func TestRunLoopRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.engine.RunLoop(context.Background(), "not a cron spec", "* * * * *")
	require.Error(t, err)
}
