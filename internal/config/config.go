package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  The engine serves a single facility with a
// fixed seat universe, so the seat count is configuration rather than data.
type Config struct {
	Env                string // application environment (e.g. "dev", "prod")
	Port               string // HTTP port to listen on
	DBUser             string // database username
	DBPass             string // database password (optional)
	DBHost             string // database host address
	DBPort             string // database port number
	DBName             string // database name
	JWTSecret          string // secret used to validate identity-provider tokens
	SeatCount          int    // size of the seat universe (seats are numbered 1..SeatCount)
	Currency           string // ISO currency code sent to the gateway
	GatewayBaseURL     string // payment gateway API base URL
	GatewayKeyID       string // gateway API key id (also returned to clients for checkout)
	GatewayKeySecret   string // gateway API key secret; signs verification assertions
	WebhookSecret      string // secret for gateway webhook body signatures
	AdminKeyHash       string // bcrypt hash of the admin terminal key (empty disables admin routes)
	SweepIntervalSec   int    // seconds between lifecycle sweeps
	StaleAttemptDays   int    // age in days after which Pending attempts are pruned
	MirrorPath         string // path of the spreadsheet dashboard (empty disables the mirror)
	SeatCacheTTLSec    int    // TTL for the cached seat snapshot in Redis
	RateLimitPerMinute int    // requests per member per minute on payment endpoints (0 disables)
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:                must("APP_ENV"),
		Port:               must("APP_PORT"),
		DBUser:             must("DB_USER"),
		DBPass:             os.Getenv("DB_PASS"), // empty password allowed
		DBHost:             must("DB_HOST"),
		DBPort:             must("DB_PORT"),
		DBName:             must("DB_NAME"),
		JWTSecret:          must("JWT_SECRET"),
		SeatCount:          mustInt("SEAT_COUNT"),
		Currency:           getenv("CURRENCY", "INR"),
		GatewayBaseURL:     must("GATEWAY_BASE_URL"),
		GatewayKeyID:       must("GATEWAY_KEY_ID"),
		GatewayKeySecret:   must("GATEWAY_KEY_SECRET"),
		WebhookSecret:      must("GATEWAY_WEBHOOK_SECRET"),
		AdminKeyHash:       os.Getenv("ADMIN_KEY_HASH"),
		SweepIntervalSec:   atoi(getenv("SWEEP_INTERVAL_SEC", "60")),
		StaleAttemptDays:   atoi(getenv("STALE_ATTEMPT_DAYS", "45")),
		MirrorPath:         os.Getenv("MIRROR_PATH"),
		SeatCacheTTLSec:    atoi(getenv("SEAT_CACHE_TTL_SEC", "5")),
		RateLimitPerMinute: atoi(getenv("RATE_LIMIT_PER_MIN", "30")),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// getenv returns the value of an optional variable or the given default.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// atoi converts optional numeric variables, falling back to zero on bad input.
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
