/*

Default-state tracker. Polls the lending adapters for every registered pool,
runs the per-loan health state machine, locks seller capital behind a share
snapshot when a loan turns Late, unlocks it on recovery and leaves it locked
forever on default. Pro-rata claims against unlocked instances are settled
from the snapshots taken at lock time.

*/

package defaultstate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/parapet-finance/parapet/internal/logger"
	"github.com/parapet-finance/parapet/internal/metrics"
	"github.com/parapet-finance/parapet/internal/pool"
	"github.com/parapet-finance/parapet/internal/types"
)

var (
	ErrPoolNotTracked     = errors.New("pool not registered with tracker")
	ErrPoolAlreadyTracked = errors.New("pool already registered with tracker")
)

// lateGracePeriods is how many payment periods a Late loan gets before the
// tracker resolves it to Active (recovered) or Defaulted.
const lateGracePeriods = 2

type poolState struct {
	pool           *pool.ProtectionPool
	lastAssessedAt time.Time
	loans          map[types.LoanID]*types.LoanStatusDetail
	locked         map[types.LoanID][]*types.LockedCapitalInstance
	lastClaimed    map[types.LoanID]map[types.AccountID]uint64
}

// Tracker watches loan health across all registered pools.
type Tracker struct {
	mu    sync.Mutex
	pools map[types.PoolID]*poolState
	now   func() time.Time
	log   zerolog.Logger
}

// NewTracker creates a tracker. A nil clock defaults to time.Now.
func NewTracker(clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		pools: make(map[types.PoolID]*poolState),
		now:   clock,
		log:   logger.GetForComponent("default_tracker"),
	}
}

// RegisterPool adds a pool to the assessment set.
func (t *Tracker) RegisterPool(p *pool.ProtectionPool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pools[p.ID()]; exists {
		return fmt.Errorf("%w: pool %d", ErrPoolAlreadyTracked, p.ID())
	}
	t.pools[p.ID()] = &poolState{
		pool:        p,
		loans:       make(map[types.LoanID]*types.LoanStatusDetail),
		locked:      make(map[types.LoanID][]*types.LockedCapitalInstance),
		lastClaimed: make(map[types.LoanID]map[types.AccountID]uint64),
	}
	return nil
}

// AssessStates runs the state machine over every loan of one pool.
func (t *Tracker) AssessStates(id types.PoolID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assessLocked(id)
}

// BatchResult summarizes a multi-pool assessment.
type BatchResult struct {
	Assessed int
	Failed   int
}

// AssessStateBatch assesses each listed pool independently: a failure on one
// pool is logged and counted, the remaining pools still run.
func (t *Tracker) AssessStateBatch(ids []types.PoolID) BatchResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result BatchResult
	for _, id := range ids {
		if err := t.assessLocked(id); err != nil {
			result.Failed++
			t.log.Error().
				Uint64("pool", uint64(id)).
				Err(err).
				Msg("Pool assessment failed, continuing with remaining pools")
			continue
		}
		result.Assessed++
	}
	return result
}

// TrackedPools lists every registered pool id.
func (t *Tracker) TrackedPools() []types.PoolID {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]types.PoolID, 0, len(t.pools))
	for id := range t.pools {
		ids = append(ids, id)
	}
	return ids
}

func (t *Tracker) assessLocked(id types.PoolID) error {
	ps, ok := t.pools[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPoolNotTracked, id)
	}

	registry := ps.pool.Registry()
	now := t.now()

	for _, loan := range ps.pool.Basket().ListLoans() {
		detail, ok := ps.loans[loan]
		if !ok {
			detail = &types.LoanStatusDetail{Current: types.LoanActive}
			ps.loans[loan] = detail
		}
		if detail.Current.Terminal() {
			continue
		}

		observed, err := registry.CurrentStatus(loan)
		if err != nil {
			return fmt.Errorf("status for loan %s: %w", loan, err)
		}

		if err := t.applyTransition(ps, loan, detail, observed, now); err != nil {
			return err
		}
	}

	ps.lastAssessedAt = now
	return nil
}

func (t *Tracker) applyTransition(ps *poolState, loan types.LoanID,
	detail *types.LoanStatusDetail, observed types.LoanStatus, now time.Time) error {

	if detail.Current == types.LoanLate {
		oracle, err := ps.pool.Registry().Resolve(loan)
		if err != nil {
			return err
		}
		periodDays, err := oracle.PaymentPeriodDays(loan)
		if err != nil {
			return fmt.Errorf("payment period for %s: %w", loan, err)
		}
		deadline := detail.LateAt.Add(time.Duration(lateGracePeriods*periodDays) * 24 * time.Hour)

		// Late loans get the full grace window before anything changes.
		if !now.After(deadline) {
			return nil
		}

		if observed == types.LoanActive {
			detail.Current = types.LoanActive
			t.unlockLatest(ps, loan)
			t.log.Info().
				Uint64("pool", uint64(ps.pool.ID())).
				Str("loan", string(loan)).
				Msg("Loan recovered from lateness, capital unlocked")
			return nil
		}

		// Still not current past the deadline: the loan has defaulted and
		// its locked capital stays locked until payout mechanics exist.
		detail.Current = types.LoanDefaulted
		metrics.LoanDefaults.WithLabelValues(fmt.Sprintf("%d", ps.pool.ID())).Inc()
		t.log.Warn().
			Uint64("pool", uint64(ps.pool.ID())).
			Str("loan", string(loan)).
			Str("observed", observed.String()).
			Msg("Loan defaulted, capital remains locked")
		return nil
	}

	if observed == types.LoanLate &&
		(detail.Current == types.LoanActive || detail.Current == types.LoanLateWithinGrace) {
		if err := t.lockCapital(ps, loan); err != nil {
			return err
		}
		detail.Current = types.LoanLate
		detail.LateAt = now
		return nil
	}

	detail.Current = observed
	return nil
}

// lockCapital snapshots seller balances and earmarks the pool capital
// covering the loan's active protections.
func (t *Tracker) lockCapital(ps *poolState, loan types.LoanID) error {
	oracle, err := ps.pool.Registry().Resolve(loan)
	if err != nil {
		return err
	}

	lockAmount := sdkmath.LegacyZeroDec()
	for _, pr := range ps.pool.ActiveProtectionsForLoan(loan) {
		principal, err := oracle.RemainingPrincipal(loan, pr.Buyer, pr.Purchase.PositionID)
		if err != nil {
			return fmt.Errorf("principal for protection %d: %w", pr.ID, err)
		}
		exposure := pr.Purchase.Amount
		if principal.LT(exposure) {
			exposure = principal
		}
		lockAmount = lockAmount.Add(exposure)
	}

	snapshotID := ps.pool.Token().Snapshot()
	locked := ps.pool.ReduceCapital(lockAmount)

	ps.locked[loan] = append(ps.locked[loan], &types.LockedCapitalInstance{
		SnapshotID: snapshotID,
		Amount:     locked,
		Locked:     true,
	})

	if lockedValue, err := locked.Float64(); err == nil {
		metrics.CapitalLocked.WithLabelValues(fmt.Sprintf("%d", ps.pool.ID())).Add(lockedValue)
	}

	t.log.Warn().
		Uint64("pool", uint64(ps.pool.ID())).
		Str("loan", string(loan)).
		Uint64("snapshot", snapshotID).
		Str("locked", locked.String()).
		Msg("Capital locked against late loan")
	return nil
}

func (t *Tracker) unlockLatest(ps *poolState, loan types.LoanID) {
	instances := ps.locked[loan]
	if len(instances) == 0 {
		return
	}
	// Only the last instance can be locked.
	instances[len(instances)-1].Locked = false
}

// Claim pays the seller their pro-rata share of every unlocked instance they
// have not claimed yet, across all loans of the pool. Each snapshot is
// settled at most once per seller: the per-loan high-water mark only moves
// forward.
func (t *Tracker) Claim(id types.PoolID, seller types.AccountID) (sdkmath.LegacyDec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.pools[id]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d", ErrPoolNotTracked, id)
	}

	shareToken := ps.pool.Token()
	total := sdkmath.LegacyZeroDec()

	for loan, instances := range ps.locked {
		marks, ok := ps.lastClaimed[loan]
		if !ok {
			marks = make(map[types.AccountID]uint64)
			ps.lastClaimed[loan] = marks
		}
		highWater := marks[seller]
		visited := highWater

		for _, instance := range instances {
			if instance.Locked || instance.SnapshotID <= highWater {
				continue
			}
			if instance.SnapshotID > visited {
				visited = instance.SnapshotID
			}
			if instance.Amount.IsZero() {
				continue
			}

			supply, err := shareToken.TotalSupplyAt(instance.SnapshotID)
			if err != nil {
				return sdkmath.LegacyDec{}, fmt.Errorf("supply at snapshot %d: %w", instance.SnapshotID, err)
			}
			if supply.IsZero() {
				continue
			}
			balance, err := shareToken.BalanceOfAt(seller, instance.SnapshotID)
			if err != nil {
				return sdkmath.LegacyDec{}, fmt.Errorf("balance at snapshot %d: %w", instance.SnapshotID, err)
			}

			total = total.Add(instance.Amount.Mul(balance).Quo(supply))
		}

		marks[seller] = visited
	}

	if total.IsPositive() {
		if err := ps.pool.PayOut(seller, total); err != nil {
			return sdkmath.LegacyDec{}, fmt.Errorf("claim payout: %w", err)
		}
		t.log.Info().
			Uint64("pool", uint64(id)).
			Str("seller", string(seller)).
			Str("amount", total.String()).
			Msg("Locked capital claimed")
	}
	return total, nil
}

// LoanStatus reports the tracked status detail for one loan of a pool.
// ClaimMarks returns the seller's claim high-water mark per loan.
func (t *Tracker) ClaimMarks(id types.PoolID, seller types.AccountID) (map[types.LoanID]uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotTracked, id)
	}
	marks := make(map[types.LoanID]uint64)
	for loan, bySeller := range ps.lastClaimed {
		if snapshotID, ok := bySeller[seller]; ok && snapshotID > 0 {
			marks[loan] = snapshotID
		}
	}
	return marks, nil
}

func (t *Tracker) LoanStatus(id types.PoolID, loan types.LoanID) (types.LoanStatusDetail, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.pools[id]
	if !ok {
		return types.LoanStatusDetail{}, fmt.Errorf("%w: %d", ErrPoolNotTracked, id)
	}
	detail, ok := ps.loans[loan]
	if !ok {
		return types.LoanStatusDetail{}, fmt.Errorf("loan %s not assessed yet", loan)
	}
	return *detail, nil
}

// LockedCapital returns copies of the locking history for one loan.
func (t *Tracker) LockedCapital(id types.PoolID, loan types.LoanID) ([]types.LockedCapitalInstance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotTracked, id)
	}
	instances := ps.locked[loan]
	out := make([]types.LockedCapitalInstance, len(instances))
	for i, instance := range instances {
		out[i] = *instance
	}
	return out, nil
}

// LastAssessedAt reports when a pool was last assessed.
func (t *Tracker) LastAssessedAt(id types.PoolID) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.pools[id]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %d", ErrPoolNotTracked, id)
	}
	return ps.lastAssessedAt, nil
}
