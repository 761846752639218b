/*

Runtime configuration, loaded from environment variables at startup.

*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment
// variables. These are populated at startup by LoadConfig.
var (
	// WebPort is the port of the status API server.
	WebPort string

	// AssessCron and AccrueCron are the polling schedules of the engine loop.
	AssessCron string
	AccrueCron string

	// PoolsFile is the path to the YAML pool/loan definition file.
	PoolsFile string

	// DBHost etc. configure the optional PostgreSQL persistence layer.
	// Persistence is skipped entirely when DBHost is empty.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	WebPort = getEnvOrDefault("WEB_PORT", "8080")
	AssessCron = getEnvOrDefault("ASSESS_CRON", "*/10 * * * *")
	AccrueCron = getEnvOrDefault("ACCRUE_CRON", "0 * * * *")

	var err error
	PoolsFile, err = getEnv("POOLS_FILE")
	if err != nil {
		return err
	}

	DBHost = os.Getenv("DB_HOST")
	if DBHost != "" {
		DBPort, err = getEnvAsInt("DB_PORT")
		if err != nil {
			return err
		}
		DBUser, err = getEnv("DB_USER")
		if err != nil {
			return err
		}
		DBPassword, err = getEnv("DB_PASSWORD")
		if err != nil {
			return err
		}
		DBName, err = getEnv("DB_NAME")
		if err != nil {
			return err
		}
		DBSSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
	}

	log.Info().Msg("Application configuration loaded")
	return nil
}

func getEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", errors.New("required environment variable not set: " + key)
	}
	return value, nil
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string) (int, error) {
	raw, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s is not an integer: %w", key, err)
	}
	return value, nil
}
