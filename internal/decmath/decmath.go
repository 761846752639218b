/*

This file bridges cosmossdk.io/math 18-decimal fixed point to the
shopspring/decimal transcendental primitives. All engine math stays in
LegacyDec; Exp and Ln run through shopspring series at a higher internal
precision and are rounded back to 18 fractional digits.

*/

package decmath

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// internalPrecision is the number of fractional digits carried through the
// shopspring series before rounding back to 18. Twelve guard digits keep the
// round-trip law of the accrual curve well inside its documented epsilon.
const internalPrecision = 30

var (
	// ErrDomain marks an argument outside the mathematical domain of the
	// primitive. Per the error taxonomy these are fatal modeling errors,
	// not recoverable input validation.
	ErrDomain = errors.New("argument outside function domain")

	ErrConversionFailed = errors.New("fixed-point conversion failed")
)

// Exp returns e^x rounded to 18 fractional digits.
func Exp(x sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	d, err := toShop(x)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	r, err := d.ExpTaylor(internalPrecision)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("exp(%s): %w", x, err)
	}
	return fromShop(r)
}

// Ln returns the natural logarithm of x rounded to 18 fractional digits.
// x must be strictly positive.
func Ln(x sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if !x.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: ln(%s)", ErrDomain, x)
	}
	d, err := toShop(x)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	r, err := d.Ln(internalPrecision)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("ln(%s): %w", x, err)
	}
	return fromShop(r)
}

func toShop(x sdkmath.LegacyDec) (decimal.Decimal, error) {
	if x.IsNil() {
		return decimal.Decimal{}, fmt.Errorf("%w: nil decimal", ErrConversionFailed)
	}
	d, err := decimal.NewFromString(x.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	return d, nil
}

func fromShop(d decimal.Decimal) (sdkmath.LegacyDec, error) {
	out, err := sdkmath.LegacyNewDecFromStr(d.Round(sdkmath.LegacyPrecision).String())
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	return out, nil
}
