// Package config loads the server's settings from environment variables.
//
// Every variable has a default, so an empty environment (apart from
// JWT_SECRET) yields a runnable configuration. A variable that is set but
// cannot be parsed is an error rather than a silent fallback, and Load
// reports every problem it finds in one joined error so an operator can fix
// a bad deployment in a single pass.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port              string        // PORT
	ReadTimeout       time.Duration // READ_TIMEOUT
	ReadHeaderTimeout time.Duration // READ_HEADER_TIMEOUT
	WriteTimeout      time.Duration // WRITE_TIMEOUT
	IdleTimeout       time.Duration // IDLE_TIMEOUT
	MaxHeaderBytes    int           // MAX_HEADER_BYTES
	GinMode           string        // GIN_MODE: debug|release|test
}

// LogConfig controls the process-wide zerolog logger.
type LogConfig struct {
	Level  string // LOG_LEVEL: debug|info|warn|error|fatal|panic
	Pretty bool   // LOG_PRETTY: console writer instead of JSON
}

type CORSConfig struct {
	AllowedOrigins []string // CORS_ALLOWED_ORIGINS; empty allows any origin without credentials
}

type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
}

// OTELConfig configures trace export over OTLP/gRPC.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT, host:port
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0,1]
}

// AuthConfig defines token signing and password hashing settings.
type AuthConfig struct {
	JWTSecret      string        // JWT_SECRET (required)
	JWTIssuer      string        // JWT_ISSUER
	AccessTokenTTL time.Duration // ACCESS_TOKEN_TTL
	BcryptCost     int           // BCRYPT_COST in [4,31]
}

// WSConfig defines the real-time socket endpoint.
type WSConfig struct {
	Path            string        // WS_PATH, mounted at the root (not under API_BASE_PATH)
	AllowedOrigins  []string      // WS_ALLOWED_ORIGINS; empty allows same-host only
	MaxMessageBytes int64         // WS_MAX_MESSAGE_BYTES
	WriteWait       time.Duration // WS_WRITE_WAIT
	PongWait        time.Duration // WS_PONG_WAIT; pings are sent at 9/10 of it
	SendBuffer      int           // WS_SEND_BUFFER, per-connection outbound queue
	AuthTimeout     time.Duration // WS_AUTH_TIMEOUT for the first frame
	FrameRPS        float64       // WS_FRAME_RPS inbound frames per second (0 disables)
	FrameBurst      int           // WS_FRAME_BURST

	TypingInterval   time.Duration // TYPING_INTERVAL
	TypingPruneAfter time.Duration // TYPING_PRUNE_AFTER
}

type Config struct {
	Server ServerConfig
	Log    LogConfig

	SwaggerEnabled bool   // SWAGGER_ENABLED
	APIBasePath    string // API_BASE_PATH

	DBPath              string  // DB_PATH (SQLite file)
	HistoryDefaultLimit int     // HISTORY_DEFAULT_LIMIT, page size when ?limit is absent
	HistoryMaxLimit     int     // HISTORY_MAX_LIMIT, upper clamp for ?limit
	SearchThreshold     float64 // SEARCH_THRESHOLD, minimum search score in [0,1]
	SearchWindow        int     // SEARCH_WINDOW, how many recent messages a search scans

	Auth AuthConfig
	WS   WSConfig

	RateRPS   float64 // RATE_RPS, tokens per second per caller
	RateBurst int     // RATE_BURST

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyKeyMaxLen int // IDEMPOTENCY_KEY_MAX_LEN, longest Idempotency-Key / client_msg_id

	OTEL OTELConfig
}

// MustLoad is Load for process startup: it panics on any error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads, normalizes and validates the configuration.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Server: ServerConfig{
			Port:              e.str("PORT", "8080"),
			ReadTimeout:       e.duration("READ_TIMEOUT", 15*time.Second),
			ReadHeaderTimeout: e.duration("READ_HEADER_TIMEOUT", 10*time.Second),
			WriteTimeout:      e.duration("WRITE_TIMEOUT", 20*time.Second),
			IdleTimeout:       e.duration("IDLE_TIMEOUT", 60*time.Second),
			MaxHeaderBytes:    e.integer("MAX_HEADER_BYTES", 1<<20),
			GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),
		},
		Log: LogConfig{
			Level:  strings.ToLower(e.str("LOG_LEVEL", "info")),
			Pretty: e.flag("LOG_PRETTY", false),
		},
		SwaggerEnabled: e.flag("SWAGGER_ENABLED", false),
		APIBasePath:    cleanPath(e.str("API_BASE_PATH", "/api/v1")),

		DBPath:              e.str("DB_PATH", "app.db"),
		HistoryDefaultLimit: e.integer("HISTORY_DEFAULT_LIMIT", 50),
		HistoryMaxLimit:     e.integer("HISTORY_MAX_LIMIT", 200),
		SearchThreshold:     e.number("SEARCH_THRESHOLD", 0.1),
		SearchWindow:        e.integer("SEARCH_WINDOW", 500),

		Auth: AuthConfig{
			JWTSecret:      e.str("JWT_SECRET", ""),
			JWTIssuer:      e.str("JWT_ISSUER", "go-realtime-chat"),
			AccessTokenTTL: e.duration("ACCESS_TOKEN_TTL", 30*time.Minute),
			BcryptCost:     e.integer("BCRYPT_COST", 10),
		},
		WS: WSConfig{
			Path:             cleanPath(e.str("WS_PATH", "/ws")),
			AllowedOrigins:   e.list("WS_ALLOWED_ORIGINS"),
			MaxMessageBytes:  int64(e.integer("WS_MAX_MESSAGE_BYTES", 64<<10)),
			WriteWait:        e.duration("WS_WRITE_WAIT", 10*time.Second),
			PongWait:         e.duration("WS_PONG_WAIT", 60*time.Second),
			SendBuffer:       e.integer("WS_SEND_BUFFER", 256),
			AuthTimeout:      e.duration("WS_AUTH_TIMEOUT", 10*time.Second),
			FrameRPS:         e.number("WS_FRAME_RPS", 20),
			FrameBurst:       e.integer("WS_FRAME_BURST", 40),
			TypingInterval:   e.duration("TYPING_INTERVAL", time.Second),
			TypingPruneAfter: e.duration("TYPING_PRUNE_AFTER", 10*time.Minute),
		},

		RateRPS:   e.number("RATE_RPS", 5),
		RateBurst: e.integer("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: e.list("CORS_ALLOWED_ORIGINS")},
		Security: SecurityConfig{
			EnableHSTS: e.flag("ENABLE_HSTS", false),
			HSTSMaxAge: e.duration("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyKeyMaxLen: e.integer("IDEMPOTENCY_KEY_MAX_LEN", 200),

		OTEL: OTELConfig{
			Enabled:     e.flag("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.flag("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-realtime-chat"),
			SampleRatio: e.number("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}

	if cfg.Log.Level == "warning" {
		cfg.Log.Level = "warn"
	}
	switch cfg.Server.GinMode {
	case "debug", "release", "test":
	default:
		cfg.Server.GinMode = "release"
	}

	errs := append(e.errs, cfg.validate()...)
	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (cfg Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}

	s := cfg.Server
	check(strings.TrimSpace(s.Port) != "", "PORT must not be empty")
	check(s.ReadTimeout > 0 && s.ReadHeaderTimeout > 0 && s.WriteTimeout > 0 && s.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(s.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	check(strings.TrimSpace(cfg.DBPath) != "", "DB_PATH must not be empty")
	check(cfg.HistoryDefaultLimit >= 1 && cfg.HistoryMaxLimit >= cfg.HistoryDefaultLimit,
		"HISTORY_DEFAULT_LIMIT must be >= 1 and <= HISTORY_MAX_LIMIT")
	check(cfg.SearchThreshold >= 0 && cfg.SearchThreshold <= 1, "SEARCH_THRESHOLD must be between 0 and 1")
	check(cfg.SearchWindow >= 1, "SEARCH_WINDOW must be >= 1")

	a := cfg.Auth
	check(strings.TrimSpace(a.JWTSecret) != "", "JWT_SECRET must not be empty")
	check(a.AccessTokenTTL > 0, "ACCESS_TOKEN_TTL must be > 0")
	check(a.BcryptCost >= 4 && a.BcryptCost <= 31, "BCRYPT_COST must be between 4 and 31")

	ws := cfg.WS
	check(ws.Path != "/", "WS_PATH must not be the root path")
	check(ws.MaxMessageBytes > 0, "WS_MAX_MESSAGE_BYTES must be > 0")
	check(ws.WriteWait > 0 && ws.PongWait > 0 && ws.AuthTimeout > 0,
		"WS_WRITE_WAIT, WS_PONG_WAIT and WS_AUTH_TIMEOUT must be positive durations")
	check(ws.SendBuffer >= 1, "WS_SEND_BUFFER must be >= 1")
	check(ws.FrameRPS >= 0, "WS_FRAME_RPS must be >= 0")
	check(ws.FrameBurst >= 1, "WS_FRAME_BURST must be >= 1")
	check(ws.TypingInterval >= 0 && ws.TypingPruneAfter > 0,
		"TYPING_INTERVAL must be >= 0 and TYPING_PRUNE_AFTER > 0")

	check(cfg.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.IdempotencyKeyMaxLen >= 1 && cfg.IdempotencyKeyMaxLen <= 200,
		"IDEMPOTENCY_KEY_MAX_LEN must be in [1,200]")
	check(cfg.OTEL.SampleRatio >= 0 && cfg.OTEL.SampleRatio <= 1,
		"OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// env reads typed variables and remembers the ones that failed to parse.
// Unset or empty variables take the default.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) bad(k, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, want))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) integer(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.bad(k, v, "integer")
		return def
	}
	return n
}

func (e *env) number(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.bad(k, v, "number")
		return def
	}
	return f
}

func (e *env) flag(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.bad(k, v, "boolean")
	return def
}

func (e *env) duration(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.bad(k, v, "duration")
		return def
	}
	return d
}

// list splits a comma-separated variable, dropping blank items.
func (e *env) list(k string) []string {
	v, ok := e.lookup(k)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cleanPath returns p with exactly one leading slash and no trailing one;
// blank becomes "/".
func cleanPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
