/*

Share token collaborator. The engine never implements fungible-token
mechanics itself; it drives this interface for minting, burning and the
balance snapshots that make locked-capital claims fair.

*/

package token

import (
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/types"
)

var (
	ErrInsufficientBalance = errors.New("insufficient share balance")
	ErrUnknownSnapshot     = errors.New("unknown snapshot id")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// ShareToken is the fungible seller-share collaborator of a pool.
// Snapshot ids are strictly increasing.
type ShareToken interface {
	Mint(owner types.AccountID, shares sdkmath.LegacyDec) error
	Burn(owner types.AccountID, shares sdkmath.LegacyDec) error
	BalanceOf(owner types.AccountID) sdkmath.LegacyDec
	TotalSupply() sdkmath.LegacyDec
	Snapshot() uint64
	BalanceOfAt(owner types.AccountID, snapshotID uint64) (sdkmath.LegacyDec, error)
	TotalSupplyAt(snapshotID uint64) (sdkmath.LegacyDec, error)
}

// AssetTransfer moves the underlying asset across the pool boundary.
// Amounts are 18-decimal fixed point; implementations rescale to the asset's
// native precision internally.
type AssetTransfer interface {
	TransferIn(from types.AccountID, amount sdkmath.LegacyDec) error
	TransferOut(to types.AccountID, amount sdkmath.LegacyDec) error
	Decimals() uint32
}
