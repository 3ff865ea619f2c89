package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	// Upstream endpoints. All three are mandatory; the process is useless
	// without them.
	BenefitsURL     string
	AccumulatorsURL string
	TokenURL        string

	TokenClientID     string
	TokenClientSecret string

	RetryMaxAttempts int
	BackoffMin       time.Duration
	BackoffMax       time.Duration

	CircuitThreshold int
	CircuitCooldown  time.Duration

	RequestDeadline time.Duration
	UpstreamTimeout time.Duration

	// TLSInsecure disables upstream certificate verification. Verification
	// is on by default; the override exists for test environments only.
	TLSInsecure bool

	RatesDSN string

	PCPSpecialties []string
	PCPRefresh     time.Duration

	CORSOrigins []string

	OTelEnabled  bool
	OTelEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("COSTIMATOR_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("COSTIMATOR_LOG_LEVEL", "info"),

		BenefitsURL:     os.Getenv("BENEFITS_URL"),
		AccumulatorsURL: os.Getenv("ACCUMULATORS_URL"),
		TokenURL:        os.Getenv("TOKEN_URL"),

		TokenClientID:     os.Getenv("TOKEN_CLIENT_ID"),
		TokenClientSecret: os.Getenv("TOKEN_CLIENT_SECRET"),

		RetryMaxAttempts: getEnvInt("HTTP_RETRY_MAX_ATTEMPTS", 3),
		BackoffMin:       time.Duration(getEnvInt("HTTP_BACKOFF_MIN_SEC", 4)) * time.Second,
		BackoffMax:       time.Duration(getEnvInt("HTTP_BACKOFF_MAX_SEC", 10)) * time.Second,

		CircuitThreshold: getEnvInt("CIRCUIT_THRESHOLD", 5),
		CircuitCooldown:  time.Duration(getEnvInt("CIRCUIT_COOLDOWN_SEC", 30)) * time.Second,

		RequestDeadline: time.Duration(getEnvInt("REQUEST_DEADLINE_MS", 15000)) * time.Millisecond,
		UpstreamTimeout: time.Duration(getEnvInt("COSTIMATOR_UPSTREAM_TIMEOUT_SEC", 30)) * time.Second,

		TLSInsecure: getEnvBool("COSTIMATOR_TLS_INSECURE", false),

		RatesDSN: getEnv("COSTIMATOR_RATES_DSN", "file:/data/rates.sqlite"),

		PCPSpecialties: getEnvStringSlice("COSTIMATOR_PCP_SPECIALTIES", []string{"207Q", "208D", "363L"}),
		PCPRefresh:     time.Duration(getEnvInt("COSTIMATOR_PCP_REFRESH_SEC", 0)) * time.Second,

		CORSOrigins: getEnvStringSlice("COSTIMATOR_CORS_ORIGINS", nil),

		OTelEnabled:  getEnvBool("COSTIMATOR_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("COSTIMATOR_OTEL_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects missing endpoints and obviously invalid settings.
func (c Config) Validate() error {
	if c.BenefitsURL == "" {
		return fmt.Errorf("BENEFITS_URL is required")
	}
	if c.AccumulatorsURL == "" {
		return fmt.Errorf("ACCUMULATORS_URL is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("TOKEN_URL is required")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("HTTP_RETRY_MAX_ATTEMPTS must be > 0, got %d", c.RetryMaxAttempts)
	}
	if c.BackoffMin <= 0 || c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("backoff bounds invalid: min %s, max %s", c.BackoffMin, c.BackoffMax)
	}
	if c.CircuitThreshold <= 0 {
		return fmt.Errorf("CIRCUIT_THRESHOLD must be > 0, got %d", c.CircuitThreshold)
	}
	if c.CircuitCooldown <= 0 {
		return fmt.Errorf("CIRCUIT_COOLDOWN_SEC must be > 0, got %s", c.CircuitCooldown)
	}
	if c.RequestDeadline <= 0 {
		return fmt.Errorf("REQUEST_DEADLINE_MS must be > 0, got %s", c.RequestDeadline)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
