package pool

import (
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parapet-finance/parapet/internal/cycle"
	"github.com/parapet-finance/parapet/internal/lending"
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

// testHarness wires a pool to in-memory collaborators and a fake clock.
type testHarness struct {
	pool   *ProtectionPool
	cycles *cycle.Manager
	clock  *fakeClock
	oracle *lending.StaticOracle
	vault  *token.AssetVault
	token  *token.SnapshotToken
}

func testPoolParams(t *testing.T) types.PoolParams {
	t.Helper()
	return types.PoolParams{
		LeverageRatioFloor:       dec(t, "0.10"),
		LeverageRatioCeiling:     dec(t, "0.20"),
		LeverageRatioBuffer:      dec(t, "0.05"),
		MinRequiredCapital:       dec(t, "100000"),
		Curvature:                dec(t, "0.05"),
		MinPremiumPercent:        dec(t, "0.02"),
		UnderlyingPremiumPercent: dec(t, "0.10"),
		MinProtectionDuration:    30 * 24 * time.Hour,
		RenewalGracePeriod:       7 * 24 * time.Hour,
	}
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

	tok := token.NewSnapshotToken()
	cycles := cycle.NewManager(clock.Now)

	p, err := New(Config{
		ID:     testPoolID,
		Params: testPoolParams(t),
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

	return &testHarness{pool: p, cycles: cycles, clock: clock, oracle: oracle, vault: vault, token: tok}
}

// advanceCycles rolls the fake clock forward whole cycles, refreshing once
// per rollover so the lazy cycle state keeps up.
func (h *testHarness) advanceCycles(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.clock.Advance(90*24*time.Hour + time.Hour)
		_, err := h.cycles.Refresh(testPoolID)
		require.NoError(t, err)
	}
}

func TestNewPoolValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	cfg := Config{
		ID:       0,
		Params:   testPoolParams(t),
		Cycles:   h.cycles,
		Token:    h.token,
		Assets:   h.vault,
		Registry: lending.NewRegistry(),
		Basket:   lending.NewStaticBasket(lending.NewRegistry()),
	}
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrInvalidPoolConfig)

	cfg.ID = 2
	cfg.Token = nil
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrInvalidPoolConfig)

	cfg.Token = h.token
	cfg.Params.LeverageRatioFloor = dec(t, "0.30")
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrInvalidPoolConfig)
}

func TestPhaseProgression(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	assert.Equal(t, types.PhaseOpenToSellers, h.pool.Phase())

	phase, err := h.pool.MovePhase()
	require.NoError(t, err)
	assert.Equal(t, types.PhaseOpenToBuyers, phase)

	phase, err = h.pool.MovePhase()
	require.NoError(t, err)
	assert.Equal(t, types.PhaseOpen, phase)

	_, err = h.pool.MovePhase()
	require.ErrorIs(t, err, ErrPhaseTerminal)
	assert.Equal(t, types.PhaseOpen, h.pool.Phase())
}

func TestLeverageRatioAndExchangeRateDefaults(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	assert.True(t, h.pool.LeverageRatio().IsZero(), "no protection outstanding")
	assert.True(t, h.pool.ExchangeRate().Equal(sdkmath.LegacyOneDec()), "no shares outstanding")
}

func TestSnapshotAggregates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.pool.Deposit(testSeller, testSeller, dec(t, "40000"))
	require.NoError(t, err)

	snap := h.pool.Snapshot()
	assert.Equal(t, testPoolID, snap.ID)
	assert.Equal(t, "OpenToSellers", snap.Phase)
	assert.True(t, snap.TotalCapital.Equal(dec(t, "40000")))
	assert.True(t, snap.ExchangeRate.Equal(sdkmath.LegacyOneDec()))
	assert.Equal(t, 0, snap.ProtectionCount)
}

func TestReduceCapitalClamps(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.pool.Deposit(testSeller, testSeller, dec(t, "40000"))
	require.NoError(t, err)

	reduced := h.pool.ReduceCapital(dec(t, "25000"))
	assert.True(t, reduced.Equal(dec(t, "25000")))
	assert.True(t, h.pool.TotalCapital().Equal(dec(t, "15000")))

	reduced = h.pool.ReduceCapital(dec(t, "99999"))
	assert.True(t, reduced.Equal(dec(t, "15000")), "reduction clamps at available capital")
	assert.True(t, h.pool.TotalCapital().IsZero())
}
