package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	// TelemetryProvider selects the infrastructure backend used to read VM
	// power state: "simulator" or "vcenter".
	TelemetryProvider string
	TelemetryTimeout  time.Duration
	VCenterEndpoint   string
	VCenterUser       string
	VCenterPassword   string
	SimulatorOnRatio  float64

	PricingConfigPath string
	DefaultCurrency   string

	SuspendAfterHours int
	SchedulerEnabled  bool
	BillingInterval   time.Duration
	MonitorInterval   time.Duration

	AutoMigrateEnabled bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "walletd"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "walletd"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		TelemetryProvider: strings.ToLower(getenv("TELEMETRY_PROVIDER", "simulator")),
		TelemetryTimeout:  getenvDuration("TELEMETRY_TIMEOUT", 5*time.Second),
		VCenterEndpoint:   strings.TrimSpace(getenv("VCENTER_ENDPOINT", "")),
		VCenterUser:       getenv("VCENTER_USER", ""),
		VCenterPassword:   getenv("VCENTER_PASSWORD", ""),
		SimulatorOnRatio:  getenvFloat("SIMULATOR_ON_RATIO", 0.85),

		PricingConfigPath: getenv("PRICING_CONFIG_PATH", ""),
		DefaultCurrency:   getenv("DEFAULT_CURRENCY", "ZAR"),

		SuspendAfterHours: getenvInt("SUSPEND_AFTER_FAILED_HOURS", 72),
		SchedulerEnabled:  getenvBool("SCHEDULER_ENABLED", true),
		BillingInterval:   getenvDuration("BILLING_INTERVAL", time.Hour),
		MonitorInterval:   getenvDuration("MONITOR_INTERVAL", 15*time.Minute),

		AutoMigrateEnabled: getenvBool("AUTO_MIGRATE", true),
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
