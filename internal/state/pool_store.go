// ./internal/state/pool_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/parapet-finance/parapet/internal/pool"
	"github.com/parapet-finance/parapet/internal/types"
)

// UpsertPoolState persists one pool's aggregate snapshot.
func UpsertPoolState(snap pool.Snapshot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO pool_states (
            pool_id, phase, cycle_index, cycle_state, cycle_started_at,
            total_capital, total_protection_amount,
            total_premium_paid, total_premium_accrued,
            leverage_ratio, exchange_rate, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
        ON CONFLICT (pool_id) DO UPDATE SET
            phase = EXCLUDED.phase,
            cycle_index = EXCLUDED.cycle_index,
            cycle_state = EXCLUDED.cycle_state,
            cycle_started_at = EXCLUDED.cycle_started_at,
            total_capital = EXCLUDED.total_capital,
            total_protection_amount = EXCLUDED.total_protection_amount,
            total_premium_paid = EXCLUDED.total_premium_paid,
            total_premium_accrued = EXCLUDED.total_premium_accrued,
            leverage_ratio = EXCLUDED.leverage_ratio,
            exchange_rate = EXCLUDED.exchange_rate,
            updated_at = CURRENT_TIMESTAMP;`

	_, err := DB.Exec(stmt,
		uint64(snap.ID), snap.Phase, snap.Cycle.Index, snap.Cycle.State.String(), snap.Cycle.StartedAt,
		snap.TotalCapital.String(), snap.TotalProtectionAmount.String(),
		snap.TotalPremiumPaid.String(), snap.TotalPremiumAccrued.String(),
		snap.LeverageRatio.String(), snap.ExchangeRate.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pool state: %w", err)
	}

	log.Debug().
		Uint64("pool", uint64(snap.ID)).
		Str("phase", snap.Phase).
		Msg("Persisted pool state")
	return nil
}

// SaveWithdrawalRequest persists a seller's withdrawal request for a target
// cycle. A repeat request overwrites the booked shares.
func SaveWithdrawalRequest(poolID types.PoolID, seller types.AccountID, targetCycle uint64, shares sdkmath.LegacyDec) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO withdrawal_requests (pool_id, seller, target_cycle, shares, updated_at)
        VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
        ON CONFLICT (pool_id, seller, target_cycle) DO UPDATE SET
            shares = EXCLUDED.shares,
            updated_at = CURRENT_TIMESTAMP;`

	if _, err := DB.Exec(stmt, uint64(poolID), string(seller), targetCycle, shares.String()); err != nil {
		return fmt.Errorf("failed to save withdrawal request: %w", err)
	}
	return nil
}
