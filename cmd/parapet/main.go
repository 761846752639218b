package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parapet-finance/parapet/internal/config"
	"github.com/parapet-finance/parapet/internal/engine"
	"github.com/parapet-finance/parapet/internal/lending"
	"github.com/parapet-finance/parapet/internal/logger"
	"github.com/parapet-finance/parapet/internal/state"
	"github.com/parapet-finance/parapet/internal/token"
	"github.com/parapet-finance/parapet/internal/types"
	"github.com/parapet-finance/parapet/internal/web"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the protection pool engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Protection pool engine starting...")

	// Persistence is optional. When DB_HOST is unset the engine runs
	// entirely in memory.
	if config.DBHost != "" {
		dbCfg := state.DBConfig{
			Host: config.DBHost, Port: config.DBPort,
			User: config.DBUser, Password: config.DBPassword,
			DBName: config.DBName, SSLMode: config.DBSSLMode,
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
	} else {
		log.Warn().Msg("DB_HOST not set, running without persistence")
	}

	// --- 2. Pool and Loan Definitions ---
	defs, err := config.LoadDefinitions(config.PoolsFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", config.PoolsFile).Msg("Failed to load pool definitions")
	}

	registry := lending.NewRegistry()
	oracle := lending.NewStaticOracle(nil)
	if err := installLoans(registry, oracle, defs.Loans); err != nil {
		log.Fatal().Err(err).Msg("Failed to install loan records")
	}
	log.Info().Int("loans", len(defs.Loans)).Msg("Loan records installed")

	// --- 3. Engine Assembly ---
	eng := engine.New(registry, nil)

	for _, def := range defs.Pools {
		params, err := def.PoolParams()
		if err != nil {
			log.Fatal().Err(err).Uint64("pool", def.ID).Msg("Invalid pool parameters")
		}
		cycleParams, err := def.CycleParams()
		if err != nil {
			log.Fatal().Err(err).Uint64("pool", def.ID).Msg("Invalid cycle parameters")
		}
		vault, err := token.NewAssetVault(def.AssetDecimals)
		if err != nil {
			log.Fatal().Err(err).Uint64("pool", def.ID).Msg("Invalid asset decimals")
		}

		loans := make([]types.LoanID, 0, len(def.Loans))
		for _, id := range def.Loans {
			loans = append(loans, types.LoanID(id))
		}

		if _, err := eng.RegisterPool(engine.PoolSpec{
			ID:          types.PoolID(def.ID),
			Params:      params,
			CycleParams: cycleParams,
			Token:       token.NewSnapshotToken(),
			Assets:      vault,
			Basket:      lending.NewStaticBasket(registry, loans...),
		}); err != nil {
			log.Fatal().Err(err).Uint64("pool", def.ID).Msg("Failed to register pool")
		}
		log.Info().Uint64("pool", def.ID).Int("loans", len(loans)).Msg("Pool registered")
	}

	// --- 4. Web Server ---
	webServer := web.NewWebServer(config.WebPort, eng)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Engine Loop ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("assess_cron", config.AssessCron).
		Str("accrue_cron", config.AccrueCron).
		Msg("Starting engine loop")

	if err := eng.RunLoop(ctx, config.AssessCron, config.AccrueCron); err != nil {
		log.Fatal().Err(err).Msg("Engine loop failed")
	}
	log.Info().Msg("Shutdown complete")
}

// installLoans registers each declared loan's protocol binding and fixture
// record with the static adapter.
func installLoans(registry *lending.Registry, oracle *lending.StaticOracle, loans []config.LoanDef) error {
	tags := make(map[types.ProtocolTag]bool)

	for _, def := range loans {
		apr, err := sdkmath.LegacyNewDecFromStr(def.BuyerAPR)
		if err != nil {
			return fmt.Errorf("loan %s buyer_apr: %w", def.ID, err)
		}
		termEnd, err := time.Parse(time.RFC3339, def.TermEnd)
		if err != nil {
			return fmt.Errorf("loan %s term_end: %w", def.ID, err)
		}

		principal := make(map[types.AccountID]map[uint64]sdkmath.LegacyDec)
		for _, pos := range def.Positions {
			amount, err := sdkmath.LegacyNewDecFromStr(pos.Principal)
			if err != nil {
				return fmt.Errorf("loan %s position %d principal: %w", def.ID, pos.PositionID, err)
			}
			lender := types.AccountID(pos.Lender)
			if principal[lender] == nil {
				principal[lender] = make(map[uint64]sdkmath.LegacyDec)
			}
			principal[lender][pos.PositionID] = amount
		}

		oracle.SetLoan(types.LoanID(def.ID), lending.LoanRecord{
			TermEnd:           termEnd,
			BuyerAPR:          apr,
			PaymentPeriodDays: def.PaymentPeriodDays,
			LastPaymentAt:     time.Now(),
			Principal:         principal,
		})

		tag := types.ProtocolTag(def.Protocol)
		if !tags[tag] {
			registry.Register(tag, oracle)
			tags[tag] = true
		}
		registry.Bind(types.LoanID(def.ID), tag)
	}
	return nil
}
