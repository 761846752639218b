/*

Premium accrual curve. A purchased premium P over D days is recognized along
an exponential decay curve parameterized by (K, lambda):

	accrued(t0, t1) = K * (e^(-t0*lambda) - e^(-t1*lambda))    (t in days)

with K solved so that accrued(0, D) == P. Both constants are captured on the
protection at purchase time and never change.

*/

package premium

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/decmath"
)

var (
	// ErrNegativeAccrual indicates the accrual integral came out negative.
	// The curve is monotonic by construction, so this is a fatal invariant
	// violation rather than a recoverable input error.
	ErrNegativeAccrual = errors.New("accrued premium is negative")

	ErrInvalidWindow = errors.New("accrual window end precedes start")

	ErrDegenerateCurve = errors.New("curve denominator vanished, duration or lambda too small")
)

// SolveKAndLambda fits the decay constants for a protection premium.
// If minPremiumPercent is positive the pool could not be priced off its
// leverage ratio and the min-premium risk factor is used instead.
func SolveKAndLambda(premiumAmount, durationInDays, leverageRatio, floor, ceiling, buffer,
	curvature, minPremiumPercent sdkmath.LegacyDec) (k, lambda sdkmath.LegacyDec, err error) {

	var riskFactor sdkmath.LegacyDec
	if minPremiumPercent.IsPositive() {
		riskFactor, err = RiskFactorFromMinPremium(minPremiumPercent, durationInDays)
	} else {
		riskFactor, err = RiskFactor(leverageRatio, floor, ceiling, buffer, curvature)
	}
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}

	lambda = riskFactor.Quo(DaysPerYear)

	exp1, err := decmath.Exp(durationInDays.Mul(lambda).Neg())
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("solving K: %w", err)
	}

	denominator := sdkmath.LegacyOneDec().Sub(exp1)
	if !denominator.IsPositive() {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("%w: duration=%s lambda=%s",
			ErrDegenerateCurve, durationInDays, lambda)
	}

	k = premiumAmount.Quo(denominator)
	return k, lambda, nil
}

// Accrued integrates the premium curve over [fromSecond, toSecond], both
// measured in seconds since protection start. The result is asserted
// non-negative; a negative value surfaces as ErrNegativeAccrual.
func Accrued(fromSecond, toSecond int64, k, lambda sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if toSecond < fromSecond {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: from=%d to=%d", ErrInvalidWindow, fromSecond, toSecond)
	}

	expFrom, err := decmath.Exp(lambda.MulInt64(fromSecond).QuoInt64(SecondsPerDay).Neg())
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("accrual window start: %w", err)
	}
	expTo, err := decmath.Exp(lambda.MulInt64(toSecond).QuoInt64(SecondsPerDay).Neg())
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("accrual window end: %w", err)
	}

	accrued := k.Mul(expFrom.Sub(expTo))
	if accrued.IsNegative() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: from=%d to=%d k=%s lambda=%s",
			ErrNegativeAccrual, fromSecond, toSecond, k, lambda)
	}
	return accrued, nil
}
