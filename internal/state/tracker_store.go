// ./internal/state/tracker_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapet-finance/parapet/internal/types"
)

// UpsertLoanStatus persists the tracked health state of one loan.
func UpsertLoanStatus(poolID types.PoolID, loan types.LoanID, detail types.LoanStatusDetail) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	var lateAt sql.NullTime
	if !detail.LateAt.IsZero() {
		lateAt = sql.NullTime{Time: detail.LateAt, Valid: true}
	}

	stmt := `
        INSERT INTO loan_statuses (pool_id, loan_id, current_status, late_at, updated_at)
        VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
        ON CONFLICT (pool_id, loan_id) DO UPDATE SET
            current_status = EXCLUDED.current_status,
            late_at = EXCLUDED.late_at,
            updated_at = CURRENT_TIMESTAMP;`

	if _, err := DB.Exec(stmt, uint64(poolID), string(loan), detail.Current.String(), lateAt); err != nil {
		return fmt.Errorf("failed to upsert loan status: %w", err)
	}
	return nil
}

// UpsertLockedCapital persists one locking instance, updating only the
// locked flag on conflict (amounts and snapshots never change).
func UpsertLockedCapital(poolID types.PoolID, loan types.LoanID, instance types.LockedCapitalInstance) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO locked_capital (pool_id, loan_id, snapshot_id, amount, locked)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (pool_id, loan_id, snapshot_id) DO UPDATE SET locked = EXCLUDED.locked;`

	_, err := DB.Exec(stmt,
		uint64(poolID), string(loan), instance.SnapshotID, instance.Amount.String(), instance.Locked)
	if err != nil {
		return fmt.Errorf("failed to upsert locked capital: %w", err)
	}

	log.Debug().
		Uint64("pool", uint64(poolID)).
		Str("loan", string(loan)).
		Uint64("snapshot", instance.SnapshotID).
		Bool("locked", instance.Locked).
		Msg("Persisted locked capital instance")
	return nil
}

// SaveClaimMark persists a seller's claim high-water mark for one loan.
func SaveClaimMark(poolID types.PoolID, loan types.LoanID, seller types.AccountID, snapshotID uint64) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO claim_marks (pool_id, loan_id, seller, last_claimed_snapshot, updated_at)
        VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
        ON CONFLICT (pool_id, loan_id, seller) DO UPDATE SET
            last_claimed_snapshot = GREATEST(claim_marks.last_claimed_snapshot, EXCLUDED.last_claimed_snapshot),
            updated_at = CURRENT_TIMESTAMP;`

	if _, err := DB.Exec(stmt, uint64(poolID), string(loan), string(seller), snapshotID); err != nil {
		return fmt.Errorf("failed to save claim mark: %w", err)
	}
	return nil
}

// RecordAssessmentRun persists a summary row for one batch assessment.
func RecordAssessmentRun(runID string, startedAt, finishedAt time.Time, assessed, failed int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO assessment_runs (run_id, started_at, finished_at, pools_assessed, pools_failed)
        VALUES ($1, $2, $3, $4, $5);`

	if _, err := DB.Exec(stmt, runID, startedAt, finishedAt, assessed, failed); err != nil {
		return fmt.Errorf("failed to record assessment run: %w", err)
	}

	log.Debug().
		Str("run", runID).
		Int("assessed", assessed).
		Int("failed", failed).
		Msg("Recorded assessment run")
	return nil
}
