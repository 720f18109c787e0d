/*
This file contains the decimal normalizer used by every component that performs
arithmetic across two assets of differing precision, plus display-conversion
helpers for the reporting layers. Canonical math always happens in 18-decimal
fixed point; only external transfers use native precision.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// CanonicalDecimals is the precision of the internal unit. All fund-bearing
// arithmetic is done at this precision.
const CanonicalDecimals = 18

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// pow10 returns 10^n as an Int. n must already be validated to [0, 18].
func pow10(n uint8) sdkmath.Int {
	result := sdkmath.OneInt()
	ten := sdkmath.NewInt(10)
	for i := uint8(0); i < n; i++ {
		result = result.Mul(ten)
	}
	return result
}

// ValidateDecimals rejects native precisions the engine cannot normalize.
// This is a registration-time check: no asset with more than 18 decimal
// places may be configured.
func ValidateDecimals(decimals uint8) error {
	if decimals > CanonicalDecimals {
		return fmt.Errorf("%w: %d (must be at most 18)", ErrInvalidPrecision, decimals)
	}
	return nil
}

// ToCanonical converts a native amount to the canonical 18-decimal unit.
// Scale-up is exact.
func ToCanonical(amount sdkmath.Int, decimals uint8) (sdkmath.Int, error) {
	if err := ValidateDecimals(decimals); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if amount.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	return amount.Mul(pow10(CanonicalDecimals - decimals)), nil
}

// FromCanonical converts a canonical 18-decimal amount back to native
// precision, truncating toward zero. The round trip ToCanonical→FromCanonical
// is exact; FromCanonical→ToCanonical loses at most one native unit and never
// gains value.
func FromCanonical(amount18 sdkmath.Int, decimals uint8) (sdkmath.Int, error) {
	if err := ValidateDecimals(decimals); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if amount18.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if amount18.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	return amount18.Quo(pow10(CanonicalDecimals - decimals)), nil
}

// ToCanonicalDec expresses a native amount in canonical fixed point. The
// decimals are trusted here; ValidateDecimals runs at asset registration.
func ToCanonicalDec(amount sdkmath.Int, decimals uint8) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDecFromIntWithPrec(amount, int64(decimals))
}

// FromCanonicalDec converts a canonical value back to native units,
// truncating toward zero.
func FromCanonicalDec(amount sdkmath.LegacyDec, decimals uint8) sdkmath.Int {
	return amount.MulInt(pow10(decimals)).TruncateInt()
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision
// handling. Reporting only; never feed the result back into engine math.
func SDKIntToFloat64(amount sdkmath.Int, decimals uint8) (float64, error) {
	if err := ValidateDecimals(decimals); err != nil {
		return 0, err
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDecFromInt(pow10(decimals))

	result := decAmount.Quo(factor)
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

// Float64ToSDKInt converts a float64 to SDK Int with proper precision
// handling. Used to parse operator-supplied display amounts, never for
// engine-internal values.
func Float64ToSDKInt(amount float64, decimals uint8) (sdkmath.Int, error) {
	if err := ValidateDecimals(decimals); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: amount is %f", ErrNotFinite, amount)
	}
	if amount < 0 {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if amount == 0 {
		return sdkmath.ZeroInt(), nil
	}

	// Use string conversion to avoid floating point precision issues
	formatStr := fmt.Sprintf("%%.%df", decimals)
	amountStr := fmt.Sprintf(formatStr, amount)

	decAmount, err := sdkmath.LegacyNewDecFromStr(amountStr)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: failed to create decimal from string: %w", ErrConversionFailed, err)
	}

	factor := sdkmath.LegacyNewDecFromInt(pow10(decimals))
	result := decAmount.Mul(factor).TruncateInt()
	if result.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	return result, nil
}
