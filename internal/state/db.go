// ./internal/state/db.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Connected to the PostgreSQL database")
	return nil
}

// Ready reports whether persistence is initialized. The engine runs fully
// in memory when it is not.
func Ready() bool {
	return DB != nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema creates every table the engine persists into.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schema := `
	CREATE TABLE IF NOT EXISTS pool_states (
		pool_id BIGINT PRIMARY KEY,
		phase TEXT NOT NULL,
		cycle_index BIGINT NOT NULL,
		cycle_state TEXT NOT NULL,
		cycle_started_at TIMESTAMPTZ NOT NULL,
		total_capital NUMERIC(40, 18) NOT NULL,
		total_protection_amount NUMERIC(40, 18) NOT NULL,
		total_premium_paid NUMERIC(40, 18) NOT NULL,
		total_premium_accrued NUMERIC(40, 18) NOT NULL,
		leverage_ratio NUMERIC(40, 18) NOT NULL,
		exchange_rate NUMERIC(40, 18) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS protections (
		pool_id BIGINT NOT NULL,
		protection_id BIGINT NOT NULL,
		buyer TEXT NOT NULL,
		loan_id TEXT NOT NULL,
		position_id BIGINT NOT NULL,
		amount NUMERIC(40, 18) NOT NULL,
		premium_paid NUMERIC(40, 18) NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		duration_seconds BIGINT NOT NULL,
		k NUMERIC(40, 18) NOT NULL,
		lambda NUMERIC(40, 18) NOT NULL,
		expired BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (pool_id, protection_id)
	);
	CREATE INDEX IF NOT EXISTS idx_protections_loan ON protections (loan_id);
	CREATE INDEX IF NOT EXISTS idx_protections_buyer ON protections (buyer);

	CREATE TABLE IF NOT EXISTS loan_statuses (
		pool_id BIGINT NOT NULL,
		loan_id TEXT NOT NULL,
		current_status TEXT NOT NULL,
		late_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (pool_id, loan_id)
	);

	CREATE TABLE IF NOT EXISTS locked_capital (
		pool_id BIGINT NOT NULL,
		loan_id TEXT NOT NULL,
		snapshot_id BIGINT NOT NULL,
		amount NUMERIC(40, 18) NOT NULL,
		locked BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (pool_id, loan_id, snapshot_id)
	);

	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		pool_id BIGINT NOT NULL,
		seller TEXT NOT NULL,
		target_cycle BIGINT NOT NULL,
		shares NUMERIC(40, 18) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (pool_id, seller, target_cycle)
	);

	CREATE TABLE IF NOT EXISTS claim_marks (
		pool_id BIGINT NOT NULL,
		loan_id TEXT NOT NULL,
		seller TEXT NOT NULL,
		last_claimed_snapshot BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (pool_id, loan_id, seller)
	);

	CREATE TABLE IF NOT EXISTS assessment_runs (
		run_id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		pools_assessed INTEGER NOT NULL,
		pools_failed INTEGER NOT NULL
	);
	`

	if _, err := DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	log.Debug().Msg("Ensured database schema")
	return nil
}
