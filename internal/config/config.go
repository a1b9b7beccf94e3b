// Package config reads vigil settings from the environment and an optional
// .env file. Command-line flags override everything here.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// DefaultDBURL is used by the database commands when nothing is configured.
const DefaultDBURL = "postgres://localhost:5432/vigil"

type Config struct {
	Region      string
	DBURL       string
	LogLevel    string
	LogFile     string
	LogMaxMB    int
	MetricsAddr string
	OutputDir   string
}

// Load reads .env files (missing files are fine) and then the environment.
func Load(files ...string) *Config {
	_ = godotenv.Load(files...)

	return &Config{
		Region:      getEnv("AWS_REGION", "us-east-1"),
		DBURL:       dbURL(),
		LogLevel:    getEnv("VIGIL_LOG_LEVEL", "info"),
		LogFile:     getEnv("VIGIL_LOG_FILE", ""),
		LogMaxMB:    getEnvInt("VIGIL_LOG_MAX_MB", 50),
		MetricsAddr: getEnv("VIGIL_METRICS_ADDR", ""),
		OutputDir:   getEnv("VIGIL_OUTPUT_DIR", "vigil_output"),
	}
}

// dbURL prefers VIGIL_DB_URL, then builds a URL from the POSTGRES_* variables.
// An empty result means no ledger was configured.
func dbURL() string {
	if u := os.Getenv("VIGIL_DB_URL"); u != "" {
		return u
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := getEnv("POSTGRES_DB", "vigil")
	port := getEnv("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}
