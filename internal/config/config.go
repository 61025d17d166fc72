// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the database path, scorer connectivity,
// scan intervals, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-broker-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// MatcherConfig defines connectivity to the external buyer-scoring service.
type MatcherConfig struct {
	Endpoint      string        // MATCHER_ENDPOINT
	APIKey        string        // MATCHER_API_KEY (bearer credential)
	Timeout       time.Duration // MATCHER_TIMEOUT
	PacketVersion string        // MATCHER_PACKET_VERSION
	MaxFailures   int           // MATCHER_MAX_FAILURES (circuit-breaker threshold)

	// Shadow scoring: every successful emission is copied here, best effort.
	ShadowEndpoint string // MATCHER_SHADOW_ENDPOINT ("" disables)

	// Canary routing: a percentage of emissions goes to the canary endpoint.
	CanaryEnabled  bool   // MATCHER_CANARY_ENABLED
	CanaryPercent  int    // MATCHER_CANARY_PERCENT [0..100]
	CanaryEndpoint string // MATCHER_CANARY_ENDPOINT
}

// ScanConfig defines the background scan intervals. A zero interval disables
// the corresponding loop.
type ScanConfig struct {
	EscalationInterval time.Duration // SCAN_ESCALATION_INTERVAL
	DriftInterval      time.Duration // SCAN_DRIFT_INTERVAL
	RegressionInterval time.Duration // SCAN_REGRESSION_INTERVAL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath               string // SQLite path
	RateMemoryWindowDays int    // how far back a confirmed rate may be reused

	// Scorer connectivity
	Matcher MatcherConfig

	// Background scans
	Scan ScanConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:               getenv("DB_PATH", "broker.db"),
		RateMemoryWindowDays: getint("RATE_MEMORY_WINDOW_DAYS", 30),

		// Scorer connectivity
		Matcher: MatcherConfig{
			Endpoint:       getenv("MATCHER_ENDPOINT", ""),
			APIKey:         getenv("MATCHER_API_KEY", ""),
			Timeout:        getdur("MATCHER_TIMEOUT", 30*time.Second),
			PacketVersion:  getenv("MATCHER_PACKET_VERSION", "1.2"),
			MaxFailures:    getint("MATCHER_MAX_FAILURES", 3),
			ShadowEndpoint: getenv("MATCHER_SHADOW_ENDPOINT", ""),
			CanaryEnabled:  getbool("MATCHER_CANARY_ENABLED", false),
			CanaryPercent:  getint("MATCHER_CANARY_PERCENT", 0),
			CanaryEndpoint: getenv("MATCHER_CANARY_ENDPOINT", ""),
		},

		// Background scans
		Scan: ScanConfig{
			EscalationInterval: getdur("SCAN_ESCALATION_INTERVAL", 15*time.Minute),
			DriftInterval:      getdur("SCAN_DRIFT_INTERVAL", 6*time.Hour),
			RegressionInterval: getdur("SCAN_REGRESSION_INTERVAL", time.Hour),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-broker-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateMemoryWindowDays <= 0 {
		return cfg, errors.New("RATE_MEMORY_WINDOW_DAYS must be > 0")
	}
	if cfg.Matcher.Timeout <= 0 {
		return cfg, errors.New("MATCHER_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.Matcher.PacketVersion) == "" {
		return cfg, errors.New("MATCHER_PACKET_VERSION must not be empty")
	}
	if cfg.Matcher.MaxFailures < 1 {
		return cfg, errors.New("MATCHER_MAX_FAILURES must be >= 1")
	}
	if cfg.Matcher.CanaryPercent < 0 || cfg.Matcher.CanaryPercent > 100 {
		return cfg, errors.New("MATCHER_CANARY_PERCENT must be in [0,100]")
	}
	if cfg.Matcher.CanaryEnabled && strings.TrimSpace(cfg.Matcher.CanaryEndpoint) == "" {
		return cfg, errors.New("MATCHER_CANARY_ENDPOINT must be set when canary routing is enabled")
	}
	if cfg.Scan.EscalationInterval < 0 || cfg.Scan.DriftInterval < 0 || cfg.Scan.RegressionInterval < 0 {
		return cfg, errors.New("scan intervals must be >= 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
