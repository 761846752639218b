/*

Protection ledger: buying and renewing protections, continuous premium
accrual and expiry. Protections are appended to the pool's log and mutated
exactly once, to flip the Expired flag.

*/

package pool

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/premium"
	"github.com/parapet-finance/parapet/internal/types"
)

// renewalMinDuration is the fixed minimum duration for renewals, which are
// exempt from the pool's MinProtectionDuration.
const renewalMinDuration = 24 * time.Hour

// BuyProtection prices and persists a new protection for the buyer,
// transferring the premium into the pool. maxPremium caps what the buyer is
// willing to pay; a quote above it fails the purchase without state change.
func (p *ProtectionPool) BuyProtection(buyer types.AccountID, params types.ProtectionPurchaseParams,
	maxPremium sdkmath.LegacyDec) (types.Protection, error) {
	return p.buy(buyer, params, maxPremium, false)
}

// RenewProtection re-buys coverage for a (loan, position) whose previous
// protection expired, within the pool's renewal grace period. Renewals may
// be as short as one day regardless of MinProtectionDuration.
func (p *ProtectionPool) RenewProtection(buyer types.AccountID, params types.ProtectionPurchaseParams,
	maxPremium sdkmath.LegacyDec) (types.Protection, error) {

	p.mu.Lock()
	acct, ok := p.buyers[buyer]
	var expired *types.Protection
	if ok {
		if id, found := acct.LastExpiredByPosition[params.Position()]; found {
			expired = p.protections[id-1]
		}
	}
	now := p.now()
	p.mu.Unlock()

	if expired == nil {
		return types.Protection{}, fmt.Errorf("%w: %s position %d",
			ErrNoExpiredProtection, params.LoanID, params.PositionID)
	}
	if now.After(expired.ExpiresAt().Add(p.params.RenewalGracePeriod)) {
		return types.Protection{}, fmt.Errorf("%w: expired at %s, grace %s",
			ErrRenewalGraceExpired, expired.ExpiresAt(), p.params.RenewalGracePeriod)
	}

	return p.buy(buyer, params, maxPremium, true)
}

func (p *ProtectionPool) buy(buyer types.AccountID, params types.ProtectionPurchaseParams,
	maxPremium sdkmath.LegacyDec, isRenewal bool) (types.Protection, error) {

	if params.LoanID == "" || buyer == "" {
		return types.Protection{}, fmt.Errorf("%w: empty identifier", ErrInvalidAmount)
	}
	if params.Amount.IsNil() || !params.Amount.IsPositive() {
		return types.Protection{}, fmt.Errorf("%w: protection amount %s", ErrInvalidAmount, params.Amount)
	}

	minDuration := p.params.MinProtectionDuration
	if isRenewal {
		minDuration = renewalMinDuration
	}
	if params.Duration < minDuration {
		return types.Protection{}, fmt.Errorf("%w: %s < %s", ErrDurationTooShort, params.Duration, minDuration)
	}

	cyc, err := p.cycles.Refresh(p.id)
	if err != nil {
		return types.Protection{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase == types.PhaseOpenToSellers {
		return types.Protection{}, fmt.Errorf("%w: phase %s", ErrPurchasesNotAllowed, p.phase)
	}

	now := p.now()
	if now.Add(params.Duration).After(cyc.EndOfNextCycle()) {
		return types.Protection{}, fmt.Errorf("%w: coverage ends %s, next cycle ends %s",
			ErrDurationBeyondCycle, now.Add(params.Duration), cyc.EndOfNextCycle())
	}

	status, err := p.registry.CurrentStatus(params.LoanID)
	if err != nil {
		return types.Protection{}, fmt.Errorf("loan status: %w", err)
	}
	if status != types.LoanActive {
		return types.Protection{}, fmt.Errorf("%w: %s is %s", ErrLoanNotProtectable, params.LoanID, status)
	}

	eligible, err := p.basket.CanBuy(buyer, params, isRenewal)
	if err != nil {
		return types.Protection{}, fmt.Errorf("basket eligibility: %w", err)
	}
	if !eligible {
		return types.Protection{}, fmt.Errorf("%w: buyer %s loan %s", ErrNotEligible, buyer, params.LoanID)
	}

	oracle, err := p.registry.Resolve(params.LoanID)
	if err != nil {
		return types.Protection{}, err
	}
	principal, err := oracle.RemainingPrincipal(params.LoanID, buyer, params.PositionID)
	if err != nil {
		return types.Protection{}, fmt.Errorf("remaining principal: %w", err)
	}
	if principal.LT(params.Amount) {
		return types.Protection{}, fmt.Errorf("%w: principal %s, amount %s",
			ErrAmountExceedsLoan, principal, params.Amount)
	}

	if !isRenewal {
		if acct, ok := p.buyers[buyer]; ok {
			for id := range acct.ActiveProtections {
				if p.protections[id-1].Purchase.Position() == params.Position() {
					return types.Protection{}, fmt.Errorf("%w: protection %d", ErrProtectionExists, id)
				}
			}
		}
	}

	newTotalProtection := p.totalProtectionAmount.Add(params.Amount)
	ratio := p.leverageRatioLocked(p.totalCapital, newTotalProtection)
	if ratio.LT(p.params.LeverageRatioFloor) {
		return types.Protection{}, fmt.Errorf("%w: ratio %s floor %s",
			ErrLeverageRatioTooLow, ratio, p.params.LeverageRatioFloor)
	}

	buyerAPR, err := oracle.BuyerAPR(params.LoanID)
	if err != nil {
		return types.Protection{}, fmt.Errorf("buyer apr: %w", err)
	}

	quote, err := premium.Calculate(premium.QuoteRequest{
		Amount:          params.Amount,
		DurationSeconds: int64(params.Duration / time.Second),
		BuyerAPR:        buyerAPR,
		LeverageRatio:   ratio,
		TotalCapital:    p.totalCapital,
		Params:          p.params,
	})
	if err != nil {
		return types.Protection{}, fmt.Errorf("pricing protection: %w", err)
	}

	// The vault only moves whole base units, so the buyer is charged the
	// quote truncated to asset precision. K is rescaled to match: accrual
	// over the full term then recognizes exactly the premium received.
	charged := p.quantizeToAsset(quote.Premium)
	if !charged.IsPositive() {
		return types.Protection{}, fmt.Errorf("%w: premium %s below asset precision",
			ErrInvalidAmount, quote.Premium)
	}
	k := quote.K
	if !charged.Equal(quote.Premium) {
		k = quote.K.Mul(charged).Quo(quote.Premium)
	}

	if !maxPremium.IsNil() && charged.GT(maxPremium) {
		return types.Protection{}, fmt.Errorf("%w: premium %s, max %s",
			ErrPremiumExceedsMax, charged, maxPremium)
	}

	if err := p.assets.TransferIn(buyer, charged); err != nil {
		return types.Protection{}, fmt.Errorf("premium transfer: %w", err)
	}

	protection := &types.Protection{
		ID:          types.ProtectionID(len(p.protections) + 1),
		Buyer:       buyer,
		PremiumPaid: charged,
		StartedAt:   now,
		K:           k,
		Lambda:      quote.Lambda,
		Purchase:    params,
	}
	p.protections = append(p.protections, protection)

	detail := p.loanDetailLocked(params.LoanID)
	detail.ActiveProtections[protection.ID] = struct{}{}
	detail.TotalProtectionAmount = detail.TotalProtectionAmount.Add(params.Amount)
	detail.TotalPremium = detail.TotalPremium.Add(charged)

	acct := p.buyerAccountLocked(buyer)
	acct.ActiveProtections[protection.ID] = struct{}{}
	paid := sdkmath.LegacyZeroDec()
	if prior, ok := acct.PremiumByLoan[params.LoanID]; ok {
		paid = prior
	}
	acct.PremiumByLoan[params.LoanID] = paid.Add(charged)

	p.totalProtectionAmount = newTotalProtection
	p.totalPremiumPaid = p.totalPremiumPaid.Add(charged)

	p.log.Info().
		Uint64("protection", uint64(protection.ID)).
		Str("buyer", string(buyer)).
		Str("loan", string(params.LoanID)).
		Str("amount", params.Amount.String()).
		Str("premium", charged.String()).
		Bool("minPremium", quote.IsMinPremium).
		Bool("renewal", isRenewal).
		Msg("Protection sold")
	return *protection, nil
}

type loanAccrualPlan struct {
	loan        types.LoanID
	accrued     sdkmath.LegacyDec
	lastPayment time.Time
	expire      []types.ProtectionID
}

// AccrualResult summarizes one accrual pass.
type AccrualResult struct {
	Accrued    sdkmath.LegacyDec
	Expired    int
	ExpiredIDs []types.ProtectionID
}

// AccruePremiumAndExpire recognizes earned premium for the given loans (all
// insured loans when the list is empty) and expires protections whose
// coverage window has passed. Earned premium joins sellers' capital, raising
// the exchange rate. The whole pass is planned before any state is touched,
// so an accrual error leaves the pool unchanged.
func (p *ProtectionPool) AccruePremiumAndExpire(loans []types.LoanID) (AccrualResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(loans) == 0 {
		loans = make([]types.LoanID, 0, len(p.loans))
		for loan := range p.loans {
			loans = append(loans, loan)
		}
	}

	now := p.now()
	plans := make([]loanAccrualPlan, 0, len(loans))
	for _, loan := range loans {
		detail, ok := p.loans[loan]
		if !ok {
			continue
		}

		oracle, err := p.registry.Resolve(loan)
		if err != nil {
			return AccrualResult{}, err
		}
		lastPayment, err := oracle.LastPaymentTimestamp(loan)
		if err != nil {
			return AccrualResult{}, fmt.Errorf("last payment for %s: %w", loan, err)
		}

		plan := loanAccrualPlan{loan: loan, accrued: sdkmath.LegacyZeroDec(), lastPayment: lastPayment}
		for id := range detail.ActiveProtections {
			pr := p.protections[id-1]

			if !lastPayment.Before(pr.StartedAt) && !pr.StartedAt.After(now) {
				from := int64(detail.LastPremiumAccrualAt.Sub(pr.StartedAt) / time.Second)
				if from < 0 {
					from = 0
				}
				untilExpiry := int64(pr.Purchase.Duration / time.Second)
				untilPayment := int64(lastPayment.Sub(pr.StartedAt) / time.Second)
				to := untilExpiry
				if untilPayment < to {
					to = untilPayment
				}
				if to > from {
					accrued, err := premium.Accrued(from, to, pr.K, pr.Lambda)
					if err != nil {
						return AccrualResult{}, fmt.Errorf("accruing protection %d: %w", id, err)
					}
					plan.accrued = plan.accrued.Add(accrued)
				}
			}

			if now.After(pr.ExpiresAt()) {
				plan.expire = append(plan.expire, id)
			}
		}
		plans = append(plans, plan)
	}

	result := AccrualResult{Accrued: sdkmath.LegacyZeroDec()}
	for _, plan := range plans {
		detail := p.loans[plan.loan]

		for _, id := range plan.expire {
			pr := p.protections[id-1]
			pr.Expired = true
			delete(detail.ActiveProtections, id)
			detail.TotalProtectionAmount = detail.TotalProtectionAmount.Sub(pr.Purchase.Amount)
			p.totalProtectionAmount = p.totalProtectionAmount.Sub(pr.Purchase.Amount)

			acct := p.buyerAccountLocked(pr.Buyer)
			delete(acct.ActiveProtections, id)
			acct.LastExpiredByPosition[pr.Purchase.Position()] = id
			result.Expired++
			result.ExpiredIDs = append(result.ExpiredIDs, id)

			p.log.Debug().
				Uint64("protection", uint64(id)).
				Str("loan", string(plan.loan)).
				Msg("Protection expired")
		}

		if plan.accrued.IsPositive() {
			detail.LastPremiumAccrualAt = plan.lastPayment
			p.totalPremiumAccrued = p.totalPremiumAccrued.Add(plan.accrued)
			p.totalCapital = p.totalCapital.Add(plan.accrued)
			result.Accrued = result.Accrued.Add(plan.accrued)
		}
	}

	if result.Accrued.IsPositive() || result.Expired > 0 {
		p.log.Info().
			Str("accrued", result.Accrued.String()).
			Int("expired", result.Expired).
			Msg("Premium accrual pass complete")
	}
	return result, nil
}
