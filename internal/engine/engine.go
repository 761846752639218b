/*

Engine is the single-writer facade over every pool, the cycle manager and
the default-state tracker. All public operations go through it; it applies
the mutation, updates metrics and, when persistence is initialized, writes
the resulting state through the stores.

*/

package engine

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parapet-finance/parapet/internal/cycle"
	"github.com/parapet-finance/parapet/internal/defaultstate"
	"github.com/parapet-finance/parapet/internal/lending"
	"github.com/parapet-finance/parapet/internal/logger"
	"github.com/parapet-finance/parapet/internal/metrics"
	"github.com/parapet-finance/parapet/internal/pool"
	"github.com/parapet-finance/parapet/internal/state"
	"github.com/parapet-finance/parapet/internal/token"
	"github.com/parapet-finance/parapet/internal/types"
)

var ErrUnknownPool = errors.New("unknown pool")

// Engine owns the registered pools and their shared collaborators.
type Engine struct {
	cycles   *cycle.Manager
	tracker  *defaultstate.Tracker
	registry *lending.Registry
	pools    map[types.PoolID]*pool.ProtectionPool
	now      func() time.Time
	log      zerolog.Logger
}

// New creates an engine. A nil clock defaults to time.Now.
func New(registry *lending.Registry, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		cycles:   cycle.NewManager(clock),
		tracker:  defaultstate.NewTracker(clock),
		registry: registry,
		pools:    make(map[types.PoolID]*pool.ProtectionPool),
		now:      clock,
		log:      logger.GetForComponent("engine"),
	}
}

// PoolSpec describes one pool to register.
type PoolSpec struct {
	ID          types.PoolID
	Params      types.PoolParams
	CycleParams types.PoolCycleParams
	Token       token.ShareToken
	Assets      token.AssetTransfer
	Basket      lending.Basket
}

// RegisterPool creates a pool, starts its cycle and adds it to the
// assessment set.
func (e *Engine) RegisterPool(spec PoolSpec) (*pool.ProtectionPool, error) {
	if _, exists := e.pools[spec.ID]; exists {
		return nil, fmt.Errorf("pool %d already registered", spec.ID)
	}

	p, err := pool.New(pool.Config{
		ID:          spec.ID,
		Params:      spec.Params,
		CycleParams: spec.CycleParams,
		Cycles:      e.cycles,
		Token:       spec.Token,
		Assets:      spec.Assets,
		Registry:    e.registry,
		Basket:      spec.Basket,
		Clock:       e.now,
	})
	if err != nil {
		return nil, err
	}
	if err := e.tracker.RegisterPool(p); err != nil {
		return nil, err
	}

	e.pools[spec.ID] = p
	e.persistPool(p)
	return p, nil
}

// Pool returns a registered pool.
func (e *Engine) Pool(id types.PoolID) (*pool.ProtectionPool, error) {
	p, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPool, id)
	}
	return p, nil
}

// PoolIDs lists every registered pool.
func (e *Engine) PoolIDs() []types.PoolID {
	ids := make([]types.PoolID, 0, len(e.pools))
	for id := range e.pools {
		ids = append(ids, id)
	}
	return ids
}

// Tracker exposes the default-state tracker for status reads.
func (e *Engine) Tracker() *defaultstate.Tracker {
	return e.tracker
}

// MovePoolPhase advances a pool's phase one step.
func (e *Engine) MovePoolPhase(id types.PoolID) (types.PoolPhase, error) {
	p, err := e.Pool(id)
	if err != nil {
		return 0, err
	}
	phase, err := p.MovePhase()
	if err != nil {
		return phase, err
	}
	e.persistPool(p)
	return phase, nil
}

// Deposit adds seller capital to a pool.
func (e *Engine) Deposit(id types.PoolID, seller, receiver types.AccountID, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	p, err := e.Pool(id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	shares, err := p.Deposit(seller, receiver, amount)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	e.persistPool(p)
	e.updatePoolGauges(p)
	return shares, nil
}

// RequestWithdrawal books a withdrawal for two cycles ahead.
func (e *Engine) RequestWithdrawal(id types.PoolID, seller types.AccountID, shares sdkmath.LegacyDec) (uint64, error) {
	p, err := e.Pool(id)
	if err != nil {
		return 0, err
	}
	target, err := p.RequestWithdrawal(seller, shares)
	if err != nil {
		return 0, err
	}
	if state.Ready() {
		if err := state.SaveWithdrawalRequest(id, seller, target, shares); err != nil {
			e.log.Error().Err(err).Uint64("pool", uint64(id)).Msg("Failed to persist withdrawal request")
		}
	}
	return target, nil
}

// Withdraw executes a previously requested withdrawal.
func (e *Engine) Withdraw(id types.PoolID, seller, receiver types.AccountID, shares sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	p, err := e.Pool(id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	amount, err := p.Withdraw(seller, receiver, shares)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	e.persistPool(p)
	e.updatePoolGauges(p)
	return amount, nil
}

// BuyProtection sells a new protection out of a pool.
func (e *Engine) BuyProtection(id types.PoolID, buyer types.AccountID,
	params types.ProtectionPurchaseParams, maxPremium sdkmath.LegacyDec) (types.Protection, error) {

	p, err := e.Pool(id)
	if err != nil {
		return types.Protection{}, err
	}
	if err := e.loanProtectable(id, params.LoanID); err != nil {
		return types.Protection{}, err
	}
	protection, err := p.BuyProtection(buyer, params, maxPremium)
	if err != nil {
		return types.Protection{}, err
	}
	e.afterSale(p, protection)
	return protection, nil
}

// RenewProtection renews an expired protection within its grace period.
func (e *Engine) RenewProtection(id types.PoolID, buyer types.AccountID,
	params types.ProtectionPurchaseParams, maxPremium sdkmath.LegacyDec) (types.Protection, error) {

	p, err := e.Pool(id)
	if err != nil {
		return types.Protection{}, err
	}
	if err := e.loanProtectable(id, params.LoanID); err != nil {
		return types.Protection{}, err
	}
	protection, err := p.RenewProtection(buyer, params, maxPremium)
	if err != nil {
		return types.Protection{}, err
	}
	e.afterSale(p, protection)
	return protection, nil
}

// loanProtectable rejects sales against loans the tracker holds in a
// terminal state. The raw oracle derivation can flip back to Active after a
// default; the tracker's verdict is sticky and wins.
func (e *Engine) loanProtectable(id types.PoolID, loan types.LoanID) error {
	detail, err := e.tracker.LoanStatus(id, loan)
	if err != nil {
		// Not tracked or never assessed. The pool's own oracle check applies.
		return nil
	}
	if detail.Current == types.LoanDefaulted || detail.Current == types.LoanExpired {
		return fmt.Errorf("%w: %s is %s", pool.ErrLoanNotProtectable, loan, detail.Current)
	}
	return nil
}

func (e *Engine) afterSale(p *pool.ProtectionPool, protection types.Protection) {
	label := fmt.Sprintf("%d", p.ID())
	metrics.ProtectionsSold.WithLabelValues(label).Inc()
	if premiumValue, err := protection.PremiumPaid.Float64(); err == nil {
		metrics.PremiumCollected.WithLabelValues(label).Add(premiumValue)
	}
	e.updatePoolGauges(p)

	e.persistPool(p)
	if state.Ready() {
		if err := state.SaveProtection(p.ID(), protection); err != nil {
			e.log.Error().Err(err).Uint64("pool", uint64(p.ID())).Msg("Failed to persist protection")
		}
	}
}

// AccruePremiumAndExpire runs an accrual pass over one pool.
func (e *Engine) AccruePremiumAndExpire(id types.PoolID, loans []types.LoanID) (pool.AccrualResult, error) {
	p, err := e.Pool(id)
	if err != nil {
		return pool.AccrualResult{}, err
	}
	result, err := p.AccruePremiumAndExpire(loans)
	if err != nil {
		return pool.AccrualResult{}, err
	}

	label := fmt.Sprintf("%d", id)
	if accruedValue, ferr := result.Accrued.Float64(); ferr == nil {
		metrics.PremiumAccrued.WithLabelValues(label).Add(accruedValue)
	}
	e.updatePoolGauges(p)

	e.persistPool(p)
	if state.Ready() && result.Expired > 0 {
		if err := state.MarkProtectionsExpired(id, result.ExpiredIDs); err != nil {
			e.log.Error().Err(err).Uint64("pool", uint64(id)).Msg("Failed to mark protections expired")
		}
	}
	return result, nil
}

// AccrueAll runs an accrual pass over every pool.
func (e *Engine) AccrueAll() {
	for id := range e.pools {
		if _, err := e.AccruePremiumAndExpire(id, nil); err != nil {
			e.log.Error().Err(err).Uint64("pool", uint64(id)).Msg("Accrual pass failed")
		}
	}
}

// AssessStates assesses one pool's loans.
func (e *Engine) AssessStates(id types.PoolID) error {
	if err := e.tracker.AssessStates(id); err != nil {
		return err
	}
	e.afterAssessment(id)
	return nil
}

// AssessAll runs a batch assessment over every tracked pool, tagged with a
// run id and recorded in the assessment ledger.
func (e *Engine) AssessAll() defaultstate.BatchResult {
	runID := uuid.New().String()
	startedAt := e.now()

	result := e.tracker.AssessStateBatch(e.tracker.TrackedPools())
	metrics.AssessmentRuns.Inc()

	for id := range e.pools {
		e.afterAssessment(id)
	}

	e.log.Info().
		Str("run", runID).
		Int("assessed", result.Assessed).
		Int("failed", result.Failed).
		Msg("Batch assessment complete")

	if state.Ready() {
		if err := state.RecordAssessmentRun(runID, startedAt, e.now(), result.Assessed, result.Failed); err != nil {
			e.log.Error().Err(err).Str("run", runID).Msg("Failed to record assessment run")
		}
	}
	return result
}

func (e *Engine) afterAssessment(id types.PoolID) {
	p, ok := e.pools[id]
	if !ok {
		return
	}
	e.updatePoolGauges(p)
	e.persistPool(p)

	if !state.Ready() {
		return
	}
	for _, loan := range p.Basket().ListLoans() {
		detail, err := e.tracker.LoanStatus(id, loan)
		if err != nil {
			continue
		}
		if err := state.UpsertLoanStatus(id, loan, detail); err != nil {
			e.log.Error().Err(err).Str("loan", string(loan)).Msg("Failed to persist loan status")
		}
		instances, err := e.tracker.LockedCapital(id, loan)
		if err != nil {
			continue
		}
		for _, instance := range instances {
			if err := state.UpsertLockedCapital(id, loan, instance); err != nil {
				e.log.Error().Err(err).Str("loan", string(loan)).Msg("Failed to persist locked capital")
			}
		}
	}
}

// Claim settles a seller's share of all unlocked capital in a pool.
func (e *Engine) Claim(id types.PoolID, seller types.AccountID) (sdkmath.LegacyDec, error) {
	amount, err := e.tracker.Claim(id, seller)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if p, ok := e.pools[id]; ok {
		e.persistPool(p)
	}
	if state.Ready() && amount.IsPositive() {
		marks, err := e.tracker.ClaimMarks(id, seller)
		if err == nil {
			for loan, snapshotID := range marks {
				if err := state.SaveClaimMark(id, loan, seller, snapshotID); err != nil {
					e.log.Error().Err(err).Uint64("pool", uint64(id)).Str("loan", string(loan)).Msg("Failed to persist claim mark")
				}
			}
		}
	}
	return amount, nil
}

func (e *Engine) persistPool(p *pool.ProtectionPool) {
	if !state.Ready() {
		return
	}
	if err := state.UpsertPoolState(p.Snapshot()); err != nil {
		e.log.Error().Err(err).Uint64("pool", uint64(p.ID())).Msg("Failed to persist pool state")
	}
}

func (e *Engine) updatePoolGauges(p *pool.ProtectionPool) {
	label := fmt.Sprintf("%d", p.ID())
	if capitalValue, err := p.TotalCapital().Float64(); err == nil {
		metrics.PoolCapital.WithLabelValues(label).Set(capitalValue)
	}
	if ratioValue, err := p.LeverageRatio().Float64(); err == nil {
		metrics.PoolLeverageRatio.WithLabelValues(label).Set(ratioValue)
	}
}
