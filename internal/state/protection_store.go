// ./internal/state/protection_store.go
package state

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapet-finance/parapet/internal/types"
)

// SaveProtection appends one protection record. The log is append-only, so
// a conflicting insert means the record already exists and only the expired
// flag may change.
func SaveProtection(poolID types.PoolID, p types.Protection) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO protections (
            pool_id, protection_id, buyer, loan_id, position_id,
            amount, premium_paid, started_at, duration_seconds, k, lambda, expired
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (pool_id, protection_id) DO UPDATE SET expired = EXCLUDED.expired;`

	_, err := DB.Exec(stmt,
		uint64(poolID), uint64(p.ID), string(p.Buyer), string(p.Purchase.LoanID), p.Purchase.PositionID,
		p.Purchase.Amount.String(), p.PremiumPaid.String(), p.StartedAt,
		int64(p.Purchase.Duration/time.Second), p.K.String(), p.Lambda.String(), p.Expired,
	)
	if err != nil {
		return fmt.Errorf("failed to save protection: %w", err)
	}

	log.Debug().
		Uint64("pool", uint64(poolID)).
		Uint64("protection", uint64(p.ID)).
		Bool("expired", p.Expired).
		Msg("Persisted protection")
	return nil
}

// MarkProtectionsExpired flips the expired flag for the given protections.
func MarkProtectionsExpired(poolID types.PoolID, ids []types.ProtectionID) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt := `UPDATE protections SET expired = TRUE WHERE pool_id = $1 AND protection_id = $2;`
	for _, id := range ids {
		if _, err = tx.Exec(stmt, uint64(poolID), uint64(id)); err != nil {
			return fmt.Errorf("failed to mark protection %d expired: %w", id, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CountProtections returns how many protections a pool has persisted.
func CountProtections(poolID types.PoolID) (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var count int
	err := DB.QueryRow(`SELECT COUNT(*) FROM protections WHERE pool_id = $1;`, uint64(poolID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count protections: %w", err)
	}
	return count, nil
}
