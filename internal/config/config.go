package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	BackendURL          string
	HTTPTimeout         time.Duration
	ScannerErrorDisplay time.Duration
	ContinuousScan      bool
	MetricsAddr         string
	LogLevel            string
	LogFile             string

	// Contract backend (cmd/stockscan-devserver).
	ListenAddr string
	DBPath     string
	SeedFile   string
}

func Load() *Config {
	return &Config{
		BackendURL:          getEnv("BACKEND_URL", "http://localhost:5000/api"),
		HTTPTimeout:         getDuration("HTTP_TIMEOUT", 10*time.Second),
		ScannerErrorDisplay: getDuration("SCANNER_ERROR_DISPLAY", 3*time.Second),
		ContinuousScan:      getBool("CONTINUOUS_SCAN", true),
		MetricsAddr:         getEnv("METRICS_ADDR", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFile:             getEnv("LOG_FILE", ""),
		ListenAddr:          getEnv("LISTEN_ADDR", ":5000"),
		DBPath:              getEnv("DB_PATH", "/data/stockscan.db"),
		SeedFile:            getEnv("SEED_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// getDuration falls back to defaultVal when the variable is unset, malformed
// or not positive.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func getBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return b
}
