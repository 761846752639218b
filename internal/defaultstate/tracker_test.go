package defaultstate

import (
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parapet-finance/parapet/internal/cycle"
	"github.com/parapet-finance/parapet/internal/lending"
	"github.com/parapet-finance/parapet/internal/pool"
	"github.com/parapet-finance/parapet/internal/token"
	"github.com/parapet-finance/parapet/internal/types"
)

const (
	testLoan   = types.LoanID("usdc-pool-a")
	testBuyer  = types.AccountID("buyer-1")
	testSeller = types.AccountID("seller-1")
	testPoolID = types.PoolID(1)
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
	tracker  *Tracker
	pool     *pool.ProtectionPool
	cycles   *cycle.Manager
	clock    *fakeClock
	oracle   *lending.StaticOracle
	registry *lending.Registry
	vault    *token.AssetVault
	token    *token.SnapshotToken
}

// newHarness builds a tracked pool holding one active protection of
// 1,000,000 against 140,000 of seller capital.
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

	tok := token.NewSnapshotToken()
	cycles := cycle.NewManager(clock.Now)

	p, err := pool.New(pool.Config{
		ID: testPoolID,
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
		Cycles:   cycles,
		Token:    tok,
		Assets:   vault,
		Registry: registry,
		Basket:   lending.NewStaticBasket(registry, testLoan),
		Clock:    clock.Now,
	})
	require.NoError(t, err)

	_, err = p.Deposit(testSeller, testSeller, dec(t, "140000"))
	require.NoError(t, err)
	_, err = p.MovePhase()
	require.NoError(t, err)
	_, err = p.BuyProtection(testBuyer, types.ProtectionPurchaseParams{
		LoanID:     testLoan,
		PositionID: 1,
		Amount:     dec(t, "1000000"),
		Duration:   170 * 24 * time.Hour,
	}, sdkmath.LegacyDec{})
	require.NoError(t, err)

	tracker := NewTracker(clock.Now)
	require.NoError(t, tracker.RegisterPool(p))

	return &testHarness{
		tracker: tracker, pool: p, cycles: cycles, clock: clock,
		oracle: oracle, registry: registry, vault: vault, token: tok,
	}
}

func (h *testHarness) markLate(t *testing.T) {
	t.Helper()
	require.NoError(t, h.oracle.Update(testLoan, func(r *lending.LoanRecord) {
		r.Late = true
		r.LateSince = h.clock.Now()
	}))
}

func (h *testHarness) markCurrent(t *testing.T) {
	t.Helper()
	require.NoError(t, h.oracle.Update(testLoan, func(r *lending.LoanRecord) {
		r.Late = false
	}))
}

func TestAssessActiveLoanNoLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.tracker.AssessStates(testPoolID))

	detail, err := h.tracker.LoanStatus(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanActive, detail.Current)

	instances, err := h.tracker.LockedCapital(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Empty(t, instances)
	assert.Equal(t, h.clock.Now(), mustAssessedAt(t, h))
}

func mustAssessedAt(t *testing.T, h *testHarness) time.Time {
	t.Helper()
	at, err := h.tracker.LastAssessedAt(testPoolID)
	require.NoError(t, err)
	return at
}

func TestLatenessWithinPaymentGraceDoesNotLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.markLate(t)

	// Inside one payment period the adapter still reports LateWithinGrace.
	require.NoError(t, h.tracker.AssessStates(testPoolID))
	detail, err := h.tracker.LoanStatus(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanLateWithinGrace, detail.Current)

	instances, err := h.tracker.LockedCapital(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Empty(t, instances)
	assert.True(t, h.pool.TotalCapital().Equal(dec(t, "140000")))
}

func TestLateLoanLocksCapital(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.markLate(t)

	// Past the 30-day payment period the loan reads Late.
	h.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, h.tracker.AssessStates(testPoolID))

	detail, err := h.tracker.LoanStatus(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanLate, detail.Current)
	assert.Equal(t, h.clock.Now(), detail.LateAt)

	// Exposure is the full protection amount, clamped by available capital.
	instances, err := h.tracker.LockedCapital(testPoolID, testLoan)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.True(t, instances[0].Locked)
	assert.True(t, instances[0].Amount.Equal(dec(t, "140000")))
	assert.Equal(t, uint64(1), instances[0].SnapshotID)
	assert.True(t, h.pool.TotalCapital().IsZero())

	// Nothing more happens inside the two-payment-period window.
	h.clock.Advance(59 * 24 * time.Hour)
	require.NoError(t, h.tracker.AssessStates(testPoolID))
	detail, err = h.tracker.LoanStatus(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanLate, detail.Current)

	instances, err = h.tracker.LockedCapital(testPoolID, testLoan)
	require.NoError(t, err)
	require.Len(t, instances, 1, "no second lock while already Late")
	assert.True(t, instances[0].Locked)
}

func TestLockExposureCapsAtRemainingPrincipal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	// The buyer's position shrank after purchase: only the remaining
	// principal is at risk.
	require.NoError(t, h.oracle.Update(testLoan, func(r *lending.LoanRecord) {
		r.Principal[testBuyer][1] = dec(t, "100000")
	}))
	h.markLate(t)
	h.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, h.tracker.AssessStates(testPoolID))

	instances, err := h.tracker.LockedCapital(testPoolID, testLoan)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.True(t, instances[0].Amount.Equal(dec(t, "100000")))
	assert.True(t, h.pool.TotalCapital().Equal(dec(t, "40000")))
}

func TestRecoveryUnlocksAndClaimPaysProRata(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.markLate(t)
	h.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, h.tracker.AssessStates(testPoolID))

	// The borrower catches up; past the two-period deadline the tracker
	// resolves the lateness and unlocks.
	h.markCurrent(t)
	h.clock.Advance(61 * 24 * time.Hour)
	require.NoError(t, h.tracker.AssessStates(testPoolID))

	detail, err := h.tracker.LoanStatus(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanActive, detail.Current)

	instances, err := h.tracker.LockedCapital(testPoolID, testLoan)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.False(t, instances[0].Locked)

	// Sole seller at the snapshot claims the whole instance.
	sellerBefore := h.vault.BalanceOf(testSeller)
	claimed, err := h.tracker.Claim(testPoolID, testSeller)
	require.NoError(t, err)
	assert.True(t, claimed.Equal(dec(t, "140000")))
	assert.True(t, h.vault.BalanceOf(testSeller).Equal(sellerBefore.Add(claimed)))

	// A snapshot settles at most once per seller.
	claimed, err = h.tracker.Claim(testPoolID, testSeller)
	require.NoError(t, err)
	assert.True(t, claimed.IsZero())
}

func TestClaimSplitsByShareAtSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	// A second seller enters before lock; shares at the snapshot are
	// 140000 vs 60000.
	other := types.AccountID("seller-2")
	require.NoError(t, h.vault.Credit(other, dec(t, "100000")))
	_, err := h.pool.MovePhase()
	require.NoError(t, err)
	_, err = h.pool.Deposit(other, other, dec(t, "60000"))
	require.NoError(t, err)

	h.markLate(t)
	h.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, h.tracker.AssessStates(testPoolID))

	h.markCurrent(t)
	h.clock.Advance(61 * 24 * time.Hour)
	require.NoError(t, h.tracker.AssessStates(testPoolID))

	claimed, err := h.tracker.Claim(testPoolID, testSeller)
	require.NoError(t, err)
	assert.True(t, claimed.Equal(dec(t, "140000")), "claimed %s", claimed)

	claimed, err = h.tracker.Claim(testPoolID, other)
	require.NoError(t, err)
	assert.True(t, claimed.Equal(dec(t, "60000")), "claimed %s", claimed)
}

func TestDefaultKeepsCapitalLocked(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.markLate(t)
	h.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, h.tracker.AssessStates(testPoolID))

	// Still late past the deadline: terminal default.
	h.clock.Advance(61 * 24 * time.Hour)
	require.NoError(t, h.tracker.AssessStates(testPoolID))

	detail, err := h.tracker.LoanStatus(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanDefaulted, detail.Current)

	instances, err := h.tracker.LockedCapital(testPoolID, testLoan)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.True(t, instances[0].Locked, "defaulted capital never unlocks")

	claimed, err := h.tracker.Claim(testPoolID, testSeller)
	require.NoError(t, err)
	assert.True(t, claimed.IsZero(), "locked instances are not claimable")

	// A terminal loan is skipped by later assessments even if the adapter
	// flips back.
	h.markCurrent(t)
	require.NoError(t, h.tracker.AssessStates(testPoolID))
	detail, err = h.tracker.LoanStatus(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanDefaulted, detail.Current)
}

func TestAssessStateBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	// Second pool insures a loan the adapter has no record for; assessing
	// it fails without disturbing the first pool.
	ghost := types.LoanID("ghost-loan")
	h.registry.Bind(ghost, "static")

	vault2, err := token.NewAssetVault(6)
	require.NoError(t, err)
	p2, err := pool.New(pool.Config{
		ID:     types.PoolID(2),
		Params: h.pool.Params(),
		CycleParams: types.PoolCycleParams{
			OpenDuration:  10 * 24 * time.Hour,
			CycleDuration: 90 * 24 * time.Hour,
		},
		Cycles:   h.cycles,
		Token:    token.NewSnapshotToken(),
		Assets:   vault2,
		Registry: h.registry,
		Basket:   lending.NewStaticBasket(h.registry, ghost),
		Clock:    h.clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, h.tracker.RegisterPool(p2))

	result := h.tracker.AssessStateBatch([]types.PoolID{testPoolID, 2})
	assert.Equal(t, 1, result.Assessed)
	assert.Equal(t, 1, result.Failed)

	// The healthy pool was still assessed.
	detail, err := h.tracker.LoanStatus(testPoolID, testLoan)
	require.NoError(t, err)
	assert.Equal(t, types.LoanActive, detail.Current)
}

func TestTrackerRegistration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.tracker.RegisterPool(h.pool)
	require.ErrorIs(t, err, ErrPoolAlreadyTracked)

	err = h.tracker.AssessStates(99)
	require.ErrorIs(t, err, ErrPoolNotTracked)

	_, err = h.tracker.Claim(99, testSeller)
	require.ErrorIs(t, err, ErrPoolNotTracked)
}
