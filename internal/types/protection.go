/*

Protection records. Protections live in an append-only log indexed by
ProtectionID; after creation the only permitted mutation is flipping the
Expired flag.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// ProtectionPurchaseParams are the buyer-supplied terms of a protection.
type ProtectionPurchaseParams struct {
	LoanID     LoanID            `json:"loan_id"`
	PositionID uint64            `json:"position_id"`
	Amount     sdkmath.LegacyDec `json:"amount"`
	Duration   time.Duration     `json:"duration"`
}

// Position returns the (loan, position) pair this purchase covers.
func (p ProtectionPurchaseParams) Position() LoanPosition {
	return LoanPosition{LoanID: p.LoanID, PositionID: p.PositionID}
}

// Protection is one purchased protection. K and Lambda are the premium
// accrual decay constants captured at purchase time and immutable afterwards.
type Protection struct {
	ID          ProtectionID             `json:"id"`
	Buyer       AccountID                `json:"buyer"`
	PremiumPaid sdkmath.LegacyDec        `json:"premium_paid"`
	StartedAt   time.Time                `json:"started_at"`
	K           sdkmath.LegacyDec        `json:"k"`
	Lambda      sdkmath.LegacyDec        `json:"lambda"`
	Expired     bool                     `json:"expired"`
	Purchase    ProtectionPurchaseParams `json:"purchase"`
}

// ExpiresAt returns the scheduled end of coverage.
func (p *Protection) ExpiresAt() time.Time {
	return p.StartedAt.Add(p.Purchase.Duration)
}

// BuyerAccount tracks a single buyer's positions within one pool.
type BuyerAccount struct {
	// PremiumByLoan is the cumulative premium the buyer paid per loan.
	PremiumByLoan map[LoanID]sdkmath.LegacyDec
	// ActiveProtections is the set of this buyer's non-expired protections.
	ActiveProtections map[ProtectionID]struct{}
	// LastExpiredByPosition remembers the latest expired protection per
	// (loan, position) so renewals can be matched to it.
	LastExpiredByPosition map[LoanPosition]ProtectionID
}

// NewBuyerAccount returns an empty buyer account.
func NewBuyerAccount() *BuyerAccount {
	return &BuyerAccount{
		PremiumByLoan:         make(map[LoanID]sdkmath.LegacyDec),
		ActiveProtections:     make(map[ProtectionID]struct{}),
		LastExpiredByPosition: make(map[LoanPosition]ProtectionID),
	}
}

// WithdrawalCycleDetail aggregates the withdrawal requests that target one
// cycle index. A seller has at most one outstanding request per cycle; a
// later request overwrites the earlier one.
type WithdrawalCycleDetail struct {
	TotalShares sdkmath.LegacyDec
	BySeller    map[AccountID]sdkmath.LegacyDec
}

// NewWithdrawalCycleDetail returns an empty per-cycle withdrawal aggregate.
func NewWithdrawalCycleDetail() *WithdrawalCycleDetail {
	return &WithdrawalCycleDetail{
		TotalShares: sdkmath.LegacyZeroDec(),
		BySeller:    make(map[AccountID]sdkmath.LegacyDec),
	}
}
