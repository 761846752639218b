/*

Per-loan bookkeeping and default-tracking types.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// LoanStatus is the health state of an underlying lending pool.
type LoanStatus int

const (
	LoanNotSupported LoanStatus = iota
	LoanActive
	LoanLateWithinGrace
	LoanLate
	LoanDefaulted
	LoanExpired
)

func (s LoanStatus) String() string {
	switch s {
	case LoanNotSupported:
		return "NotSupported"
	case LoanActive:
		return "Active"
	case LoanLateWithinGrace:
		return "LateWithinGrace"
	case LoanLate:
		return "Late"
	case LoanDefaulted:
		return "Defaulted"
	case LoanExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status can never change again.
func (s LoanStatus) Terminal() bool {
	return s == LoanDefaulted || s == LoanExpired
}

// LoanDetail is a pool's bookkeeping for one insured loan.
// Invariant: TotalProtectionAmount equals the sum of the amounts of the
// protections currently in ActiveProtections.
type LoanDetail struct {
	LastPremiumAccrualAt  time.Time
	TotalPremium          sdkmath.LegacyDec
	TotalProtectionAmount sdkmath.LegacyDec
	ActiveProtections     map[ProtectionID]struct{}
}

// NewLoanDetail returns zeroed bookkeeping for a freshly seen loan.
func NewLoanDetail() *LoanDetail {
	return &LoanDetail{
		TotalPremium:          sdkmath.LegacyZeroDec(),
		TotalProtectionAmount: sdkmath.LegacyZeroDec(),
		ActiveProtections:     make(map[ProtectionID]struct{}),
	}
}

// LoanStatusDetail is the tracked health state of one loan within one pool.
// LateAt is zero unless the loan is, or previously was, Late.
type LoanStatusDetail struct {
	Current LoanStatus `json:"current"`
	LateAt  time.Time  `json:"late_at"`
}

// LockedCapitalInstance is one locking event for a (pool, loan) pair.
// Instances are appended on a Late transition and closed (Locked=false) on
// recovery; they are never deleted because later claims need them.
// Only the last instance of a list may have Locked==true.
type LockedCapitalInstance struct {
	SnapshotID uint64            `json:"snapshot_id"`
	Amount     sdkmath.LegacyDec `json:"amount"`
	Locked     bool              `json:"locked"`
}
