/*

In-memory underlying-asset vault. Balances are held in the asset's native
base units (sdkmath.Int); the engine talks 18-decimal fixed point and the
conversion happens here, at the boundary, and nowhere else.

*/

package token

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/types"
)

var (
	ErrInvalidDecimals    = errors.New("asset decimals must be between 0 and 18")
	ErrInsufficientFunds  = errors.New("insufficient underlying balance")
	ErrNegativeTransfer   = errors.New("transfer amount must be positive")
	ErrPoolVaultCorrupted = errors.New("pool vault balance underflow")
)

// AssetVault is an in-memory AssetTransfer with per-account balances and a
// single pool account that TransferIn/TransferOut settle against.
type AssetVault struct {
	mu       sync.Mutex
	decimals uint32
	accounts map[types.AccountID]sdkmath.Int
	pool     sdkmath.Int
}

// NewAssetVault creates a vault for an asset with the given native precision.
func NewAssetVault(decimals uint32) (*AssetVault, error) {
	if decimals > sdkmath.LegacyPrecision {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDecimals, decimals)
	}
	return &AssetVault{
		decimals: decimals,
		accounts: make(map[types.AccountID]sdkmath.Int),
		pool:     sdkmath.ZeroInt(),
	}, nil
}

// Credit funds an external account, in 18-decimal fixed point.
func (v *AssetVault) Credit(account types.AccountID, amount sdkmath.LegacyDec) error {
	units, err := v.toBaseUnits(amount)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.accounts[account] = v.accountLocked(account).Add(units)
	return nil
}

// BalanceOf reports an external account's balance in 18-decimal fixed point.
func (v *AssetVault) BalanceOf(account types.AccountID) sdkmath.LegacyDec {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fromBaseUnits(v.accountLocked(account))
}

// PoolBalance reports the pool account's balance in 18-decimal fixed point.
func (v *AssetVault) PoolBalance() sdkmath.LegacyDec {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fromBaseUnits(v.pool)
}

func (v *AssetVault) TransferIn(from types.AccountID, amount sdkmath.LegacyDec) error {
	units, err := v.toBaseUnits(amount)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	balance := v.accountLocked(from)
	if balance.LT(units) {
		return fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientFunds, from, balance, units)
	}
	v.accounts[from] = balance.Sub(units)
	v.pool = v.pool.Add(units)
	return nil
}

func (v *AssetVault) TransferOut(to types.AccountID, amount sdkmath.LegacyDec) error {
	units, err := v.toBaseUnits(amount)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.pool.LT(units) {
		return fmt.Errorf("%w: pool has %s, needs %s", ErrPoolVaultCorrupted, v.pool, units)
	}
	v.pool = v.pool.Sub(units)
	v.accounts[to] = v.accountLocked(to).Add(units)
	return nil
}

func (v *AssetVault) Decimals() uint32 {
	return v.decimals
}

func (v *AssetVault) accountLocked(account types.AccountID) sdkmath.Int {
	if balance, ok := v.accounts[account]; ok {
		return balance
	}
	return sdkmath.ZeroInt()
}

// toBaseUnits rescales an 18-decimal amount to the asset's native precision,
// truncating dust below the asset's smallest unit.
func (v *AssetVault) toBaseUnits(amount sdkmath.LegacyDec) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrNegativeTransfer, amount)
	}
	factor := sdkmath.LegacyNewDec(10).Power(uint64(v.decimals))
	return amount.Mul(factor).TruncateInt(), nil
}

func (v *AssetVault) fromBaseUnits(units sdkmath.Int) sdkmath.LegacyDec {
	factor := sdkmath.LegacyNewDec(10).Power(uint64(v.decimals))
	return sdkmath.LegacyNewDecFromInt(units).Quo(factor)
}
