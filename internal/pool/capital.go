/*

Capital ledger: deposits, two-cycle-delayed withdrawal requests and their
execution at the pool's exchange rate.

*/

package pool

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/types"
)

// withdrawalDelayCycles is how many cycles ahead a withdrawal request
// targets: requested now, executable in the open window two cycles later.
const withdrawalDelayCycles = 2

// Deposit takes underlying from the seller and mints shares to the receiver
// at the current exchange rate (1:1 while the pool is empty).
func (p *ProtectionPool) Deposit(seller, receiver types.AccountID, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: deposit %s", ErrInvalidAmount, amount)
	}
	amount = p.quantizeToAsset(amount)
	if !amount.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: deposit below asset precision", ErrInvalidAmount)
	}

	cyc, err := p.cycles.Refresh(p.id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase == types.PhaseOpenToBuyers {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: pool %d", ErrDepositNotAllowed, p.id)
	}
	if p.phase == types.PhaseOpen && cyc.State != types.CycleOpen {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: cycle %d is %s", ErrPoolNotOpen, cyc.Index, cyc.State)
	}

	shares := amount
	if !p.token.TotalSupply().IsZero() {
		rate := p.exchangeRateLocked()
		if rate.IsZero() {
			// Shares outstanding but every unit of capital is locked behind
			// a default. A deposit here cannot be priced.
			return sdkmath.LegacyDec{}, fmt.Errorf("%w: pool %d", ErrCapitalFullyLocked, p.id)
		}
		shares = amount.Quo(rate)
	}

	newCapital := p.totalCapital.Add(amount)
	if newCapital.GTE(p.params.MinRequiredCapital) && p.totalProtectionAmount.IsPositive() {
		ratio := p.leverageRatioLocked(newCapital, p.totalProtectionAmount)
		if ratio.GT(p.params.LeverageRatioCeiling) {
			return sdkmath.LegacyDec{}, fmt.Errorf("%w: ratio %s ceiling %s",
				ErrLeverageRatioTooHigh, ratio, p.params.LeverageRatioCeiling)
		}
	}

	if err := p.assets.TransferIn(seller, amount); err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("deposit transfer: %w", err)
	}
	if err := p.token.Mint(receiver, shares); err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("minting shares: %w", err)
	}
	p.totalCapital = newCapital

	p.log.Info().
		Str("seller", string(seller)).
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Msg("Deposit accepted")
	return shares, nil
}

// RequestWithdrawal books (or overwrites) the seller's withdrawal request
// for the cycle two indexes ahead.
func (p *ProtectionPool) RequestWithdrawal(seller types.AccountID, shares sdkmath.LegacyDec) (uint64, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return 0, fmt.Errorf("%w: request %s", ErrInvalidAmount, shares)
	}

	cyc, err := p.cycles.Refresh(p.id)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	balance := p.token.BalanceOf(seller)
	if balance.LT(shares) {
		return 0, fmt.Errorf("%w: have %s, requested %s", ErrInsufficientShares, balance, shares)
	}

	target := cyc.Index + withdrawalDelayCycles
	detail, ok := p.withdrawals[target]
	if !ok {
		detail = types.NewWithdrawalCycleDetail()
		p.withdrawals[target] = detail
	}

	previous := sdkmath.LegacyZeroDec()
	if prior, ok := detail.BySeller[seller]; ok {
		previous = prior
	}
	detail.TotalShares = detail.TotalShares.Sub(previous).Add(shares)
	detail.BySeller[seller] = shares

	p.log.Info().
		Str("seller", string(seller)).
		Str("shares", shares.String()).
		Uint64("targetCycle", target).
		Msg("Withdrawal requested")
	return target, nil
}

// Withdraw burns shares previously requested for the current cycle and
// returns underlying to the receiver at the current exchange rate.
func (p *ProtectionPool) Withdraw(seller, receiver types.AccountID, shares sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: withdraw %s", ErrInvalidAmount, shares)
	}

	cyc, err := p.cycles.Refresh(p.id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if cyc.State != types.CycleOpen {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: cycle %d is %s", ErrPoolNotOpen, cyc.Index, cyc.State)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	detail, ok := p.withdrawals[cyc.Index]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: cycle %d", ErrNoWithdrawalRequest, cyc.Index)
	}
	requested, ok := detail.BySeller[seller]
	if !ok || requested.IsZero() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: cycle %d seller %s", ErrNoWithdrawalRequest, cyc.Index, seller)
	}
	if shares.GT(requested) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: requested %s, withdrawing %s",
			ErrWithdrawalExceedsReq, requested, shares)
	}

	if p.token.BalanceOf(seller).LT(shares) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: withdrawing %s", ErrInsufficientShares, shares)
	}

	amount := p.quantizeToAsset(shares.Mul(p.exchangeRateLocked()))
	if !amount.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: withdrawal below asset precision", ErrInvalidAmount)
	}

	// Transfer first. A vault failure leaves shares, capital and the request
	// untouched.
	if err := p.assets.TransferOut(receiver, amount); err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("withdrawal transfer: %w", err)
	}
	if err := p.token.Burn(seller, shares); err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("burning shares: %w", err)
	}
	p.totalCapital = p.totalCapital.Sub(amount)
	detail.BySeller[seller] = requested.Sub(shares)
	detail.TotalShares = detail.TotalShares.Sub(shares)

	p.log.Info().
		Str("seller", string(seller)).
		Str("shares", shares.String()).
		Str("amount", amount.String()).
		Uint64("cycle", cyc.Index).
		Msg("Withdrawal executed")
	return amount, nil
}

// WithdrawalRequest reports the seller's outstanding request for a cycle.
func (p *ProtectionPool) WithdrawalRequest(seller types.AccountID, cycleIndex uint64) sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()

	detail, ok := p.withdrawals[cycleIndex]
	if !ok {
		return sdkmath.LegacyZeroDec()
	}
	if requested, ok := detail.BySeller[seller]; ok {
		return requested
	}
	return sdkmath.LegacyZeroDec()
}
