/*

Risk factor calculation. The risk factor maps a pool's leverage ratio into
the decay-rate space of the premium accrual curve: the thinner the capital
cushion, the higher the factor and therefore the premium.

*/

package premium

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/decmath"
)

var (
	// ErrRiskFactorDomain indicates the leverage ratio fell on or below the
	// buffered floor, making the risk-factor denominator non-positive. This
	// is a fatal modeling error: callers must gate with CanPrice first.
	ErrRiskFactorDomain = errors.New("risk factor denominator is not positive")

	ErrInvalidDuration = errors.New("duration in days must be positive")
)

// DaysPerYear is the annualization constant used for lambda scaling.
var DaysPerYear = sdkmath.LegacyMustNewDecFromStr("365.24")

// SecondsPerDay converts protection durations between seconds and days.
const SecondsPerDay = 86400

// RiskFactor computes
//
//	curvature * ((ceiling + buffer) - leverageRatio) / (leverageRatio - (floor - buffer))
//
// Returns ErrRiskFactorDomain if the denominator is not strictly positive.
func RiskFactor(leverageRatio, floor, ceiling, buffer, curvature sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	denominator := leverageRatio.Sub(floor.Sub(buffer))
	if !denominator.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: leverageRatio=%s floor=%s buffer=%s",
			ErrRiskFactorDomain, leverageRatio, floor, buffer)
	}

	numerator := curvature.Mul(ceiling.Add(buffer).Sub(leverageRatio))
	return numerator.Quo(denominator), nil
}

// RiskFactorFromMinPremium derives the risk factor that would price a
// protection at exactly the minimum premium over the given duration:
//
//	lambda = -ln(1 - minPremiumPercent) / durationInDays
//	riskFactor = lambda * 365.24
func RiskFactorFromMinPremium(minPremiumPercent, durationInDays sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if !durationInDays.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", ErrInvalidDuration, durationInDays)
	}

	lnValue, err := decmath.Ln(sdkmath.LegacyOneDec().Sub(minPremiumPercent))
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("min premium risk factor: %w", err)
	}

	lambda := lnValue.Neg().Quo(durationInDays)
	return lambda.Mul(DaysPerYear), nil
}

// CanPrice reports whether the pool is in a state where the leverage-ratio
// pricing formula applies. When false, callers fall back to the minimum
// premium path and surface isMinPremium=true.
func CanPrice(totalCapital, leverageRatio, floor, ceiling, minRequiredCapital sdkmath.LegacyDec) bool {
	return totalCapital.GTE(minRequiredCapital) &&
		leverageRatio.GTE(floor) &&
		leverageRatio.LTE(ceiling)
}
