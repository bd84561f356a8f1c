// Package config loads runtime configuration for the RADIUS client
// transport, following the same flag-then-env-then-default precedence the
// embedding server uses elsewhere (CLI flags > env vars > defaults).
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vradius/radclient/internal/radius"
)

// envPrefix is the prefix for all RADIUS client environment variables.
const envPrefix = "RADCLIENT_"

// defaults mirror sensible RADIUS engineering values rather than
// arbitrary numbers: the initial retransmit interval is the classic
// freeradius default (initial_rt=2s), mrc=5, mrd=30s, a 40s zombie period,
// and a 300s revive interval.
const (
	defaultMode              = "client"
	defaultZombiePeriod      = 40 * time.Second
	defaultReviveInterval    = 300 * time.Second
	defaultResponseWindow    = 30 * time.Second
	defaultInitialRT         = 2 * time.Second
	defaultMaxRT             = 16 * time.Second
	defaultMRC               = 5
	defaultMRD               = 30 * time.Second
	defaultMaxPacketSize     = 4096
	defaultNumAnswersToAlive = 3
	defaultRequireMA         = "auto"
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
)

// RetryEntry is one row of the per-code retry table (§6 retry[code]).
type RetryEntry struct {
	Code      int
	InitialRT time.Duration
	MaxRT     time.Duration
	MRC       int
	MRD       time.Duration
}

func (r RetryEntry) toRadiusConfig() radius.RetryConfig {
	return radius.RetryConfig{InitialRT: r.InitialRT, MaxRT: r.MaxRT, MRC: r.MRC, MRD: r.MRD}
}

// Config holds all runtime configuration for one RADIUS trunk (§6).
// Precedence when built via Load: CLI flags > env vars > defaults. An
// embedder that already has its own configuration layer can instead
// build a Config struct literal directly and skip Load entirely — Load
// exists for the standalone example/test harness, matching the teacher's
// config.Load() pattern.
type Config struct {
	Host string
	Port int

	Mode radius.Mode

	// Stream marks the transport as a reliable, ordered byte stream
	// rather than UDP datagrams (§4.6, §8: stream submissions never arm
	// the per-code retry table).
	Stream bool

	// StatusCheckCode is the packet code used for liveness probes, or 0
	// if status checks are disabled.
	StatusCheckCode   int
	NumAnswersToAlive int

	ZombiePeriod   time.Duration
	ReviveInterval time.Duration
	ResponseWindow time.Duration

	Retry        map[int]RetryEntry
	TimeoutRetry RetryEntry

	MaxPacketSize int

	RequireMessageAuthenticator radius.RequireMA

	Allowed map[int]bool

	LogLevel  string
	LogFormat string
}

// Validate rejects contradictory configuration at construction time
// rather than failing silently at runtime (SPEC_FULL.md supplemented
// feature), matching the teacher's defensive defaulting in config.Load.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.StatusCheckCode != 0 && c.NumAnswersToAlive < 1 {
		return fmt.Errorf("num_answers_to_alive must be >= 1 when status checks are enabled")
	}
	if c.StatusCheckCode == 0 && c.ReviveInterval <= 0 {
		return fmt.Errorf("revive_interval must be > 0 when status checks are disabled")
	}
	if c.ResponseWindow <= 0 {
		return fmt.Errorf("response_window must be > 0")
	}
	if c.MaxPacketSize < radius.MinReceiveBufferSize || c.MaxPacketSize > radius.MaxPacketSize {
		return fmt.Errorf("max_packet_size %d out of range [%d,%d]", c.MaxPacketSize, radius.MinReceiveBufferSize, radius.MaxPacketSize)
	}
	return nil
}

// TrunkConfig builds the radius package's own configuration view. package
// radius cannot import package config (config already imports radius for
// its Mode/RequireMA enums), so this is the one-way bridge between the
// two: a Config is built once at startup, then handed to radius.NewTrunk
// as a TrunkConfig.
func (c *Config) TrunkConfig() radius.TrunkConfig {
	return radius.TrunkConfig{
		Mode:                        c.Mode,
		Stream:                      c.Stream,
		StatusCheckCode:             c.StatusCheckCode,
		NumAnswersToAlive:           c.NumAnswersToAlive,
		ZombiePeriod:                c.ZombiePeriod,
		ReviveInterval:              c.ReviveInterval,
		ResponseWindow:              c.ResponseWindow,
		MaxPacketSize:               c.MaxPacketSize,
		RequireMessageAuthenticator: c.RequireMessageAuthenticator,
		RetryFor:                    c.RetryFor,
		IsAllowed:                   c.IsAllowed,
		TimeoutRetry:                c.TimeoutRetry.toRadiusConfig(),
	}
}

// RetryFor returns the retry configuration for code, falling back to
// TimeoutRetry if no per-code entry exists (§4.6 rule: CLIENT over stream
// or REPLICATE always use timeout_retry; PROXY-without-parent also
// resolves here via the Dispatcher, not this lookup).
func (c *Config) RetryFor(code int) radius.RetryConfig {
	if e, ok := c.Retry[code]; ok {
		return e.toRadiusConfig()
	}
	return c.TimeoutRetry.toRadiusConfig()
}

// IsAllowed reports whether code may be sent outbound (§6 allowed[code]).
// An empty Allowed map means "allow everything" — the zero-config case.
func (c *Config) IsAllowed(code int) bool {
	if len(c.Allowed) == 0 {
		return true
	}
	return c.Allowed[code]
}

// Default returns a Config with the spec's suggested defaults (§6),
// pointed at host:port with status checks and per-code retry left for
// the caller to fill in.
func Default(host string, port int) *Config {
	return &Config{
		Host:                        host,
		Port:                        port,
		Mode:                        radius.ModeClient,
		NumAnswersToAlive:           defaultNumAnswersToAlive,
		ZombiePeriod:                defaultZombiePeriod,
		ReviveInterval:              defaultReviveInterval,
		ResponseWindow:              defaultResponseWindow,
		Retry:                       map[int]RetryEntry{},
		TimeoutRetry:                RetryEntry{InitialRT: defaultInitialRT, MaxRT: defaultMaxRT, MRC: defaultMRC, MRD: defaultMRD},
		MaxPacketSize:               defaultMaxPacketSize,
		RequireMessageAuthenticator: radius.RequireMAAuto,
		Allowed:                     map[int]bool{},
		LogLevel:                    defaultLogLevel,
		LogFormat:                   defaultLogFormat,
	}
}

// Load parses configuration from CLI flags and environment variables for
// the standalone harness. Precedence: CLI flags > env vars > defaults.
func Load(args []string) (*Config, error) {
	cfg := Default("", 1812)

	fs := flag.NewFlagSet("radclient", flag.ContinueOnError)

	var mode, requireMA string
	fs.StringVar(&cfg.Host, "host", envOr("HOST", ""), "RADIUS server hostname or IP")
	fs.IntVar(&cfg.Port, "port", envOrInt("PORT", 1812), "RADIUS server UDP port")
	fs.StringVar(&mode, "mode", envOr("MODE", defaultMode), "transport mode (client, proxy, replicate)")
	fs.BoolVar(&cfg.Stream, "stream", envOrBool("STREAM", false), "transport is a reliable ordered stream rather than UDP datagrams")
	fs.IntVar(&cfg.StatusCheckCode, "status-check-code", envOrInt("STATUS_CHECK_CODE", 0), "packet code for status-check probes, 0 to disable")
	fs.IntVar(&cfg.NumAnswersToAlive, "num-answers-to-alive", envOrInt("NUM_ANSWERS_TO_ALIVE", defaultNumAnswersToAlive), "contiguous good probe replies required to mark a connection alive")
	fs.DurationVar(&cfg.ZombiePeriod, "zombie-period", envOrDuration("ZOMBIE_PERIOD", defaultZombiePeriod), "no-reply duration before a connection is declared zombie")
	fs.DurationVar(&cfg.ReviveInterval, "revive-interval", envOrDuration("REVIVE_INTERVAL", defaultReviveInterval), "delay before reconnect when status checks are disabled")
	fs.DurationVar(&cfg.ResponseWindow, "response-window", envOrDuration("RESPONSE_WINDOW", defaultResponseWindow), "per-packet reply deadline")
	fs.IntVar(&cfg.MaxPacketSize, "max-packet-size", envOrInt("MAX_PACKET_SIZE", defaultMaxPacketSize), "initial receive buffer size")
	fs.StringVar(&requireMA, "require-message-authenticator", envOr("REQUIRE_MESSAGE_AUTHENTICATOR", defaultRequireMA), "message-authenticator policy (yes, no, auto)")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", defaultLogLevel), "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", defaultLogFormat), "log output format (text, json)")

	timeoutInitial := fs.Duration("timeout-retry-initial-rt", envOrDuration("TIMEOUT_RETRY_INITIAL_RT", defaultInitialRT), "initial retransmit interval for timeout_retry")
	timeoutMax := fs.Duration("timeout-retry-max-rt", envOrDuration("TIMEOUT_RETRY_MAX_RT", defaultMaxRT), "max retransmit interval for timeout_retry")
	timeoutMRC := fs.Int("timeout-retry-mrc", envOrInt("TIMEOUT_RETRY_MRC", defaultMRC), "max retransmit count for timeout_retry")
	timeoutMRD := fs.Duration("timeout-retry-mrd", envOrDuration("TIMEOUT_RETRY_MRD", defaultMRD), "max retransmit duration for timeout_retry")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	switch strings.ToLower(mode) {
	case "client":
		cfg.Mode = radius.ModeClient
	case "proxy":
		cfg.Mode = radius.ModeProxy
	case "replicate":
		cfg.Mode = radius.ModeReplicate
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	switch strings.ToLower(requireMA) {
	case "yes":
		cfg.RequireMessageAuthenticator = radius.RequireMAYes
	case "no":
		cfg.RequireMessageAuthenticator = radius.RequireMANo
	case "auto":
		cfg.RequireMessageAuthenticator = radius.RequireMAAuto
	default:
		return nil, fmt.Errorf("unknown require-message-authenticator %q", requireMA)
	}

	cfg.TimeoutRetry = RetryEntry{InitialRT: *timeoutInitial, MaxRT: *timeoutMax, MRC: *timeoutMRC, MRD: *timeoutMRD}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		return v
	}
	return fallback
}

func envOrInt(name string, fallback int) int {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(name string, fallback bool) bool {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDuration(name string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// SlogLevel returns the slog.Level corresponding to the configured log
// level, matching the teacher's config.SlogLevel helper.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format (text or json) and log level, matching the teacher's
// config.SlogHandler helper.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
