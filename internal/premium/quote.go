/*

Protection premium quoting. Combines the risk-rate component (the exponential
default-risk curve) with the underlying-yield carry component, and fits the
accrual constants to the resulting premium.

*/

package premium

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/decmath"
	"github.com/parapet-finance/parapet/internal/types"
)

var ErrInvalidQuoteInput = errors.New("invalid quote input")

// carryDaysPerYear annualizes the underlying-yield carry component.
var carryDaysPerYear = sdkmath.LegacyNewDec(365)

// QuoteRequest carries everything needed to price one protection.
type QuoteRequest struct {
	Amount          sdkmath.LegacyDec
	DurationSeconds int64
	BuyerAPR        sdkmath.LegacyDec
	LeverageRatio   sdkmath.LegacyDec
	TotalCapital    sdkmath.LegacyDec
	Params          types.PoolParams
}

// Quote is a priced protection: the premium owed, whether the minimum
// premium path was used, and the fitted accrual constants.
type Quote struct {
	Premium      sdkmath.LegacyDec
	IsMinPremium bool
	K            sdkmath.LegacyDec
	Lambda       sdkmath.LegacyDec
}

// Calculate prices a protection against the pool's current state.
func Calculate(req QuoteRequest) (Quote, error) {
	if req.DurationSeconds <= 0 {
		return Quote{}, fmt.Errorf("%w: duration %d seconds", ErrInvalidQuoteInput, req.DurationSeconds)
	}
	if !req.Amount.IsPositive() {
		return Quote{}, fmt.Errorf("%w: amount %s", ErrInvalidQuoteInput, req.Amount)
	}

	durationInDays := sdkmath.LegacyNewDec(req.DurationSeconds).QuoInt64(SecondsPerDay)

	var (
		riskFactor   sdkmath.LegacyDec
		minPremium   = sdkmath.LegacyZeroDec()
		isMinPremium bool
		err          error
	)
	if CanPrice(req.TotalCapital, req.LeverageRatio,
		req.Params.LeverageRatioFloor, req.Params.LeverageRatioCeiling, req.Params.MinRequiredCapital) {
		riskFactor, err = RiskFactor(req.LeverageRatio,
			req.Params.LeverageRatioFloor, req.Params.LeverageRatioCeiling,
			req.Params.LeverageRatioBuffer, req.Params.Curvature)
	} else {
		isMinPremium = true
		minPremium = req.Params.MinPremiumPercent
		riskFactor, err = RiskFactorFromMinPremium(minPremium, durationInDays)
	}
	if err != nil {
		return Quote{}, err
	}

	lambda := riskFactor.Quo(DaysPerYear)
	expDecay, err := decmath.Exp(durationInDays.Mul(lambda).Neg())
	if err != nil {
		return Quote{}, fmt.Errorf("quote decay: %w", err)
	}

	riskRate := sdkmath.LegacyOneDec().Sub(expDecay)
	carryRate := req.BuyerAPR.
		Mul(req.Params.UnderlyingPremiumPercent).
		Mul(durationInDays).
		Quo(carryDaysPerYear)

	premiumAmount := req.Amount.Mul(riskRate.Add(carryRate))

	k, fittedLambda, err := SolveKAndLambda(premiumAmount, durationInDays,
		req.LeverageRatio, req.Params.LeverageRatioFloor, req.Params.LeverageRatioCeiling,
		req.Params.LeverageRatioBuffer, req.Params.Curvature, minPremium)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Premium:      premiumAmount,
		IsMinPremium: isMinPremium,
		K:            k,
		Lambda:       fittedLambda,
	}, nil
}
