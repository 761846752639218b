/*

ProtectionPool is the single-writer aggregate for one pool: sellers' capital,
the append-only protection log, per-loan bookkeeping and withdrawal requests.
Every public operation takes the pool mutex for its full duration and
validates completely before mutating, so a failed operation leaves no
partial writes.

*/

package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/parapet-finance/parapet/internal/cycle"
	"github.com/parapet-finance/parapet/internal/lending"
	"github.com/parapet-finance/parapet/internal/logger"
	"github.com/parapet-finance/parapet/internal/token"
	"github.com/parapet-finance/parapet/internal/types"
)

var (
	ErrInvalidPoolConfig     = errors.New("invalid pool configuration")
	ErrPhaseTerminal         = errors.New("pool phase is already Open")
	ErrLeverageRatioTooLow   = errors.New("leverage ratio would breach floor")
	ErrLeverageRatioTooHigh  = errors.New("leverage ratio would breach ceiling")
	ErrPoolNotOpen           = errors.New("pool cycle is not open")
	ErrDepositNotAllowed     = errors.New("deposits not allowed in buyers-only phase")
	ErrPurchasesNotAllowed   = errors.New("pool is not accepting protection buyers")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrCapitalFullyLocked    = errors.New("pool capital is fully locked")
	ErrNoWithdrawalRequest   = errors.New("no withdrawal request for current cycle")
	ErrWithdrawalExceedsReq  = errors.New("withdrawal exceeds requested shares")
	ErrInsufficientShares    = errors.New("shares exceed balance")
	ErrDurationTooShort      = errors.New("protection duration below minimum")
	ErrDurationBeyondCycle   = errors.New("protection would outlive the next cycle")
	ErrLoanNotProtectable    = errors.New("loan status does not allow protection purchase")
	ErrNotEligible           = errors.New("buyer not eligible for this protection")
	ErrAmountExceedsLoan     = errors.New("protection amount exceeds remaining principal")
	ErrProtectionExists      = errors.New("buyer already holds active protection for this position")
	ErrPremiumExceedsMax     = errors.New("computed premium exceeds buyer maximum")
	ErrNoExpiredProtection   = errors.New("no expired protection to renew for this position")
	ErrRenewalGraceExpired   = errors.New("renewal grace period has passed")
	ErrUnknownProtection     = errors.New("unknown protection id")
)

// Config wires a ProtectionPool to its collaborators.
type Config struct {
	ID          types.PoolID
	Params      types.PoolParams
	CycleParams types.PoolCycleParams
	Cycles      *cycle.Manager
	Token       token.ShareToken
	Assets      token.AssetTransfer
	Registry    *lending.Registry
	Basket      lending.Basket
	Clock       func() time.Time
}

// ProtectionPool holds all mutable state of one protection pool.
type ProtectionPool struct {
	mu sync.Mutex

	id       types.PoolID
	params   types.PoolParams
	phase    types.PoolPhase
	cycles   *cycle.Manager
	token    token.ShareToken
	assets   token.AssetTransfer
	registry *lending.Registry
	basket   lending.Basket
	now      func() time.Time
	log      zerolog.Logger

	totalCapital          sdkmath.LegacyDec
	totalProtectionAmount sdkmath.LegacyDec
	totalPremiumPaid      sdkmath.LegacyDec
	totalPremiumAccrued   sdkmath.LegacyDec

	// Append-only protection log; id N lives at index N-1.
	protections []*types.Protection
	loans       map[types.LoanID]*types.LoanDetail
	buyers      map[types.AccountID]*types.BuyerAccount
	withdrawals map[uint64]*types.WithdrawalCycleDetail
}

// New creates a pool and registers its cycle, starting in OpenToSellers.
func New(cfg Config) (*ProtectionPool, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Cycles.Register(cfg.ID, cfg.CycleParams); err != nil {
		return nil, fmt.Errorf("registering pool cycle: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	p := &ProtectionPool{
		id:                    cfg.ID,
		params:                cfg.Params,
		phase:                 types.PhaseOpenToSellers,
		cycles:                cfg.Cycles,
		token:                 cfg.Token,
		assets:                cfg.Assets,
		registry:              cfg.Registry,
		basket:                cfg.Basket,
		now:                   clock,
		log:                   logger.GetForComponent("protection_pool").With().Uint64("pool", uint64(cfg.ID)).Logger(),
		totalCapital:          sdkmath.LegacyZeroDec(),
		totalProtectionAmount: sdkmath.LegacyZeroDec(),
		totalPremiumPaid:      sdkmath.LegacyZeroDec(),
		totalPremiumAccrued:   sdkmath.LegacyZeroDec(),
		loans:                 make(map[types.LoanID]*types.LoanDetail),
		buyers:                make(map[types.AccountID]*types.BuyerAccount),
		withdrawals:           make(map[uint64]*types.WithdrawalCycleDetail),
	}

	p.log.Info().
		Str("phase", p.phase.String()).
		Msg("Protection pool created")
	return p, nil
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.ID == 0:
		return fmt.Errorf("%w: pool id is zero", ErrInvalidPoolConfig)
	case cfg.Cycles == nil:
		return fmt.Errorf("%w: cycle manager is nil", ErrInvalidPoolConfig)
	case cfg.Token == nil:
		return fmt.Errorf("%w: share token is nil", ErrInvalidPoolConfig)
	case cfg.Assets == nil:
		return fmt.Errorf("%w: asset transfer is nil", ErrInvalidPoolConfig)
	case cfg.Registry == nil:
		return fmt.Errorf("%w: adapter registry is nil", ErrInvalidPoolConfig)
	case cfg.Basket == nil:
		return fmt.Errorf("%w: loan basket is nil", ErrInvalidPoolConfig)
	case cfg.Params.LeverageRatioFloor.IsNil() || cfg.Params.LeverageRatioCeiling.IsNil():
		return fmt.Errorf("%w: leverage ratio bounds not set", ErrInvalidPoolConfig)
	case cfg.Params.LeverageRatioFloor.GT(cfg.Params.LeverageRatioCeiling):
		return fmt.Errorf("%w: floor above ceiling", ErrInvalidPoolConfig)
	}
	return nil
}

// ID returns the pool id.
func (p *ProtectionPool) ID() types.PoolID { return p.id }

// Params returns the pool's pricing parameters.
func (p *ProtectionPool) Params() types.PoolParams { return p.params }

// Token exposes the share-token collaborator for snapshot reads.
func (p *ProtectionPool) Token() token.ShareToken { return p.token }

// Registry exposes the lending adapter registry.
func (p *ProtectionPool) Registry() *lending.Registry { return p.registry }

// Basket exposes the pool's loan basket.
func (p *ProtectionPool) Basket() lending.Basket { return p.basket }

// Phase returns the current pool phase.
func (p *ProtectionPool) Phase() types.PoolPhase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// MovePhase advances the pool phase one step. Open is terminal.
func (p *ProtectionPool) MovePhase() (types.PoolPhase, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase == types.PhaseOpen {
		return p.phase, fmt.Errorf("%w: pool %d", ErrPhaseTerminal, p.id)
	}
	p.phase++
	p.log.Info().Str("phase", p.phase.String()).Msg("Pool phase advanced")
	return p.phase, nil
}

// LeverageRatio is totalCapital / totalProtectionAmount, zero when no
// protection is outstanding.
func (p *ProtectionPool) LeverageRatio() sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leverageRatioLocked(p.totalCapital, p.totalProtectionAmount)
}

func (p *ProtectionPool) leverageRatioLocked(capital, protection sdkmath.LegacyDec) sdkmath.LegacyDec {
	if protection.IsZero() {
		return sdkmath.LegacyZeroDec()
	}
	return capital.Quo(protection)
}

// ExchangeRate is totalCapital / totalShareSupply, one when no shares exist.
func (p *ProtectionPool) ExchangeRate() sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeRateLocked()
}

// quantizeToAsset truncates an 18-decimal amount to the underlying asset's
// native precision. Everything the pool books against the vault goes through
// this, so booked totals never exceed what the vault actually moved.
func (p *ProtectionPool) quantizeToAsset(amount sdkmath.LegacyDec) sdkmath.LegacyDec {
	factor := sdkmath.LegacyNewDec(10).Power(uint64(p.assets.Decimals()))
	return amount.Mul(factor).TruncateDec().Quo(factor)
}

func (p *ProtectionPool) exchangeRateLocked() sdkmath.LegacyDec {
	supply := p.token.TotalSupply()
	if supply.IsZero() {
		return sdkmath.LegacyOneDec()
	}
	return p.totalCapital.Quo(supply)
}

// TotalCapital returns the sellers' capital currently backing the pool.
func (p *ProtectionPool) TotalCapital() sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalCapital
}

// TotalProtectionAmount returns the outstanding protection notional.
func (p *ProtectionPool) TotalProtectionAmount() sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalProtectionAmount
}

// ReduceCapital removes up to amount from the pool's capital, returning how
// much was actually removed. Used by the default tracker to lock capital.
func (p *ProtectionPool) ReduceCapital(amount sdkmath.LegacyDec) sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()

	reduced := amount
	if p.totalCapital.LT(amount) {
		reduced = p.totalCapital
	}
	p.totalCapital = p.totalCapital.Sub(reduced)
	return reduced
}

// PayOut transfers underlying out of the pool, for locked-capital claims.
func (p *ProtectionPool) PayOut(to types.AccountID, amount sdkmath.LegacyDec) error {
	return p.assets.TransferOut(to, amount)
}

// ActiveProtectionsForLoan returns copies of the loan's active protections.
func (p *ProtectionPool) ActiveProtectionsForLoan(loan types.LoanID) []types.Protection {
	p.mu.Lock()
	defer p.mu.Unlock()

	detail, ok := p.loans[loan]
	if !ok {
		return nil
	}
	out := make([]types.Protection, 0, len(detail.ActiveProtections))
	for id := range detail.ActiveProtections {
		out = append(out, *p.protections[id-1])
	}
	return out
}

// Protection returns a copy of one protection record.
func (p *ProtectionPool) Protection(id types.ProtectionID) (types.Protection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id == 0 || int(id) > len(p.protections) {
		return types.Protection{}, fmt.Errorf("%w: %d", ErrUnknownProtection, id)
	}
	return *p.protections[id-1], nil
}

// Protections returns copies of the whole protection log.
func (p *ProtectionPool) Protections() []types.Protection {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.Protection, len(p.protections))
	for i, pr := range p.protections {
		out[i] = *pr
	}
	return out
}

// Snapshot is a read-only view of the pool's aggregate state.
type Snapshot struct {
	ID                    types.PoolID      `json:"id"`
	Phase                 string            `json:"phase"`
	Cycle                 types.PoolCycle   `json:"cycle"`
	TotalCapital          sdkmath.LegacyDec `json:"total_capital"`
	TotalProtectionAmount sdkmath.LegacyDec `json:"total_protection_amount"`
	TotalPremiumPaid      sdkmath.LegacyDec `json:"total_premium_paid"`
	TotalPremiumAccrued   sdkmath.LegacyDec `json:"total_premium_accrued"`
	LeverageRatio         sdkmath.LegacyDec `json:"leverage_ratio"`
	ExchangeRate          sdkmath.LegacyDec `json:"exchange_rate"`
	ProtectionCount       int               `json:"protection_count"`
}

// Snapshot captures the pool aggregates for persistence and the status API.
func (p *ProtectionPool) Snapshot() Snapshot {
	cyc, _ := p.cycles.Current(p.id)

	p.mu.Lock()
	defer p.mu.Unlock()

	return Snapshot{
		ID:                    p.id,
		Phase:                 p.phase.String(),
		Cycle:                 cyc,
		TotalCapital:          p.totalCapital,
		TotalProtectionAmount: p.totalProtectionAmount,
		TotalPremiumPaid:      p.totalPremiumPaid,
		TotalPremiumAccrued:   p.totalPremiumAccrued,
		LeverageRatio:         p.leverageRatioLocked(p.totalCapital, p.totalProtectionAmount),
		ExchangeRate:          p.exchangeRateLocked(),
		ProtectionCount:       len(p.protections),
	}
}

func (p *ProtectionPool) buyerAccountLocked(buyer types.AccountID) *types.BuyerAccount {
	acct, ok := p.buyers[buyer]
	if !ok {
		acct = types.NewBuyerAccount()
		p.buyers[buyer] = acct
	}
	return acct
}

func (p *ProtectionPool) loanDetailLocked(loan types.LoanID) *types.LoanDetail {
	detail, ok := p.loans[loan]
	if !ok {
		detail = types.NewLoanDetail()
		p.loans[loan] = detail
	}
	return detail
}
