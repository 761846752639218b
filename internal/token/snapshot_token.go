/*

Reference in-memory ShareToken with snapshot support. Snapshots copy the
balance map; fine at the account counts this engine deals with, and it keeps
historical balances immutable by construction.

*/

package token

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/types"
)

type snapshot struct {
	balances map[types.AccountID]sdkmath.LegacyDec
	supply   sdkmath.LegacyDec
}

// SnapshotToken is an in-memory ShareToken implementation.
type SnapshotToken struct {
	mu         sync.Mutex
	balances   map[types.AccountID]sdkmath.LegacyDec
	supply     sdkmath.LegacyDec
	snapshots  map[uint64]snapshot
	nextSnapID uint64
}

// NewSnapshotToken returns an empty share token. Snapshot ids start at 1.
func NewSnapshotToken() *SnapshotToken {
	return &SnapshotToken{
		balances:   make(map[types.AccountID]sdkmath.LegacyDec),
		supply:     sdkmath.LegacyZeroDec(),
		snapshots:  make(map[uint64]snapshot),
		nextSnapID: 1,
	}
}

func (t *SnapshotToken) Mint(owner types.AccountID, shares sdkmath.LegacyDec) error {
	if !shares.IsPositive() {
		return fmt.Errorf("%w: mint %s", ErrInvalidAmount, shares)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.balances[owner] = t.balanceLocked(owner).Add(shares)
	t.supply = t.supply.Add(shares)
	return nil
}

func (t *SnapshotToken) Burn(owner types.AccountID, shares sdkmath.LegacyDec) error {
	if !shares.IsPositive() {
		return fmt.Errorf("%w: burn %s", ErrInvalidAmount, shares)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	balance := t.balanceLocked(owner)
	if balance.LT(shares) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, balance, shares)
	}
	t.balances[owner] = balance.Sub(shares)
	t.supply = t.supply.Sub(shares)
	return nil
}

func (t *SnapshotToken) BalanceOf(owner types.AccountID) sdkmath.LegacyDec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(owner)
}

func (t *SnapshotToken) TotalSupply() sdkmath.LegacyDec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

// Snapshot captures current balances and returns the new snapshot id.
func (t *SnapshotToken) Snapshot() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSnapID
	t.nextSnapID++

	frozen := make(map[types.AccountID]sdkmath.LegacyDec, len(t.balances))
	for owner, balance := range t.balances {
		frozen[owner] = balance
	}
	t.snapshots[id] = snapshot{balances: frozen, supply: t.supply}
	return id
}

func (t *SnapshotToken) BalanceOfAt(owner types.AccountID, snapshotID uint64) (sdkmath.LegacyDec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snapshots[snapshotID]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d", ErrUnknownSnapshot, snapshotID)
	}
	if balance, ok := snap.balances[owner]; ok {
		return balance, nil
	}
	return sdkmath.LegacyZeroDec(), nil
}

func (t *SnapshotToken) TotalSupplyAt(snapshotID uint64) (sdkmath.LegacyDec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snapshots[snapshotID]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d", ErrUnknownSnapshot, snapshotID)
	}
	return snap.supply, nil
}

func (t *SnapshotToken) balanceLocked(owner types.AccountID) sdkmath.LegacyDec {
	if balance, ok := t.balances[owner]; ok {
		return balance
	}
	return sdkmath.LegacyZeroDec()
}
