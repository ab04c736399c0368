// Package config defines the top-level configuration for chainpilot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CHAINPILOT_* environment
// variables. It is loaded once at startup and immutable thereafter; the
// paper/live mode transition is an explicit audited state change owned by
// the app, not a config mutation.
type Config struct {
	Mode     string         `toml:"mode"` // "paper" or "live"
	LogLevel string         `toml:"log_level"`
	Wallets  []WalletConfig `toml:"wallets"`
	Risk     RiskConfig     `toml:"risk"`
	Strategy StrategyConfig `toml:"strategy"`
	Executor ExecutorConfig `toml:"executor"`
	AI       AIConfig       `toml:"ai"`
	Venue    VenueConfig    `toml:"venue"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Notify   NotifyConfig   `toml:"notify"`
}

// WalletConfig describes one funding wallet. Wallets are created at load time
// and persist for the process lifetime; they are disabled, never deleted.
type WalletConfig struct {
	ID               string   `toml:"id"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	Balance          float64  `toml:"balance"`
	MaxPositionSize  float64  `toml:"max_position_size"`
	MaxDailyLoss     float64  `toml:"max_daily_loss"`
	IsDefault        bool     `toml:"is_default"`
	Symbols          []string `toml:"symbols"` // symbols this wallet prefers to fund
	Disabled         bool     `toml:"disabled"`
}

// RiskConfig holds process-wide admission-control limits.
type RiskConfig struct {
	MaxPositionSize        float64 `toml:"max_position_size"`
	MaxDailyLoss           float64 `toml:"max_daily_loss"`
	MinConfidenceThreshold float64 `toml:"min_confidence_threshold"`
	AIConfidenceThreshold  float64 `toml:"ai_confidence_threshold"`
	// Weights maps each strategy type to its risk weight. Every strategy
	// variant must have an entry; a missing entry is a startup error.
	Weights map[string]float64 `toml:"weights"`
	// MultiWallet enables multi-wallet allocation. When false every trade
	// routes to the single default wallet.
	MultiWallet bool `toml:"multi_wallet"`
}

// StrategyConfig holds strategy-engine parameters.
type StrategyConfig struct {
	// Enabled lists the strategy variants the router fans events out to.
	Enabled       []string `toml:"enabled"`
	OrderSize     float64  `toml:"order_size"`
	WindowSize    int      `toml:"window_size"`     // rolling price window length
	MaxEventAge   duration `toml:"max_event_age"`   // stale events are dropped
	SignalTTL     duration `toml:"signal_ttl"`      // signals expire after this
	MomentumMin   float64  `toml:"momentum_min"`    // min |trend| for momentum entry
	ReversionBand float64  `toml:"reversion_band"`  // deviation band for mean reversion
	MinEdgeBps    float64  `toml:"min_edge_bps"`    // lp_arbitrage minimum edge
}

// ExecutorConfig holds execution-engine parameters.
type ExecutorConfig struct {
	Workers          int      `toml:"workers"`
	ExecutionTimeout duration `toml:"execution_timeout"`
	MaxAttempts      int      `toml:"max_attempts"`
	BackoffBase      duration `toml:"backoff_base"`
	DedupTTL         duration `toml:"dedup_ttl"`
	// PaperSlippageBps is the deterministic slippage applied by the paper
	// simulator around the target price.
	PaperSlippageBps float64 `toml:"paper_slippage_bps"`
	FeeBps           float64 `toml:"fee_bps"`
}

// AIConfig holds AI-gateway parameters. The gateway is advisory: every
// failure path degrades to no AI input.
type AIConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// VenueConfig holds execution-venue endpoints and chain parameters.
type VenueConfig struct {
	RPCURL    string `toml:"rpc_url"`
	BundleURL string `toml:"bundle_url"` // MEV-protected relay; empty disables the bundle path
	WsURL     string `toml:"ws_url"`     // confirmation stream
	ChainID   int    `toml:"chain_id"`
	// MaxSubmitsPerSecond bounds submission rate through the shared limiter.
	MaxSubmitsPerSecond int `toml:"max_submits_per_second"`
}

// RedisConfig holds message-bus connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds persistence-sink connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds cold-archive object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// PipelineConfig sizes the bounded channels between stages.
type PipelineConfig struct {
	EventBuffer  int `toml:"event_buffer"`  // inbound market-event channel
	SignalBuffer int `toml:"signal_buffer"` // per-shard admission channel
	RoutedBuffer int `toml:"routed_buffer"` // per-lane execution channel
	ResultBuffer int `toml:"result_buffer"` // settlement channel
	SymbolShards int `toml:"symbol_shards"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "25ms", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "25ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with conservative default values.
// Where the operating limits are ambiguous, defaults err on the side of
// rejecting trades.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Risk: RiskConfig{
			MaxPositionSize:        100,
			MaxDailyLoss:           500,
			MinConfidenceThreshold: 0.7,
			AIConfidenceThreshold:  0.7,
			MultiWallet:            false,
			Weights: map[string]float64{
				string(domain.StrategyMomentum):      0.6,
				string(domain.StrategyMeanReversion): 0.5,
				string(domain.StrategyLPArbitrage):   0.4,
				string(domain.StrategyAIDriven):      0.7,
			},
		},
		Strategy: StrategyConfig{
			Enabled:       []string{"momentum", "mean_reversion", "lp_arbitrage"},
			OrderSize:     10,
			WindowSize:    32,
			MaxEventAge:   duration{2 * time.Second},
			SignalTTL:     duration{5 * time.Second},
			MomentumMin:   0.002,
			ReversionBand: 0.015,
			MinEdgeBps:    30,
		},
		Executor: ExecutorConfig{
			Workers:          4,
			ExecutionTimeout: duration{25 * time.Millisecond},
			MaxAttempts:      3,
			BackoffBase:      duration{50 * time.Millisecond},
			DedupTTL:         duration{2 * time.Minute},
			PaperSlippageBps: 10,
			FeeBps:           5,
		},
		AI: AIConfig{
			Enabled: false,
			Timeout: duration{15 * time.Millisecond},
		},
		Venue: VenueConfig{
			ChainID:             1,
			MaxSubmitsPerSecond: 50,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "chainpilot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "chainpilot-archive",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Pipeline: PipelineConfig{
			EventBuffer:  256,
			SignalBuffer: 128,
			RoutedBuffer: 64,
			ResultBuffer: 128,
			SymbolShards: 4,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_confirmed", "trade_failed", "circuit_breaker", "mode_change", "error"},
		},
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. Live mode is strict: missing wallet
// credentials, venue endpoints, or risk-weight entries refuse startup. Paper
// mode tolerates missing external endpoints since the simulator replaces them.
func (c *Config) Validate() error {
	var errs []string

	live := c.Mode == "live"
	if c.Mode != "paper" && !live {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Risk limits: undefined risk parameters are fatal regardless of mode.
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.MinConfidenceThreshold < 0 || c.Risk.MinConfidenceThreshold > 1 {
		errs = append(errs, "risk: min_confidence_threshold must be in [0,1]")
	}
	if c.Risk.AIConfidenceThreshold < 0 || c.Risk.AIConfidenceThreshold > 1 {
		errs = append(errs, "risk: ai_confidence_threshold must be in [0,1]")
	}
	// Weight table completeness: every strategy variant needs an entry.
	for _, st := range domain.AllStrategyTypes {
		w, ok := c.Risk.Weights[string(st)]
		if !ok {
			errs = append(errs, fmt.Sprintf("risk: weights missing entry for strategy %q", st))
			continue
		}
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Sprintf("risk: weight for %q must be in [0,1], got %v", st, w))
		}
	}

	// Wallets.
	if len(c.Wallets) == 0 {
		errs = append(errs, "wallets: at least one wallet must be configured")
	}
	defaults := 0
	seen := map[string]bool{}
	for i, w := range c.Wallets {
		if w.ID == "" {
			errs = append(errs, fmt.Sprintf("wallets[%d]: id must not be empty", i))
		}
		if seen[w.ID] {
			errs = append(errs, fmt.Sprintf("wallets[%d]: duplicate id %q", i, w.ID))
		}
		seen[w.ID] = true
		if w.IsDefault {
			defaults++
		}
		if w.MaxPositionSize <= 0 {
			errs = append(errs, fmt.Sprintf("wallets[%d]: max_position_size must be > 0", i))
		}
		if w.MaxDailyLoss <= 0 {
			errs = append(errs, fmt.Sprintf("wallets[%d]: max_daily_loss must be > 0", i))
		}
		if live && w.PrivateKey == "" && w.EncryptedKeyPath == "" {
			errs = append(errs, fmt.Sprintf("wallets[%d]: private_key or encrypted_key_path required in live mode", i))
		}
		if w.EncryptedKeyPath != "" && w.KeyPassword == "" {
			errs = append(errs, fmt.Sprintf("wallets[%d]: key_password is required when encrypted_key_path is set", i))
		}
	}
	if defaults == 0 && len(c.Wallets) > 0 {
		errs = append(errs, "wallets: exactly one wallet must have is_default = true")
	}
	if defaults > 1 {
		errs = append(errs, "wallets: only one wallet may be the default")
	}

	// Strategy.
	if c.Strategy.OrderSize <= 0 {
		errs = append(errs, "strategy: order_size must be > 0")
	}
	if c.Strategy.WindowSize < 2 {
		errs = append(errs, "strategy: window_size must be >= 2")
	}
	for _, name := range c.Strategy.Enabled {
		if !validStrategyName(name) {
			errs = append(errs, fmt.Sprintf("strategy: unknown strategy %q in enabled list", name))
		}
	}

	// Executor.
	if c.Executor.Workers < 1 {
		errs = append(errs, "executor: workers must be >= 1")
	}
	if c.Executor.MaxAttempts < 1 {
		errs = append(errs, "executor: max_attempts must be >= 1")
	}
	if c.Executor.ExecutionTimeout.Duration <= 0 {
		errs = append(errs, "executor: execution_timeout must be > 0")
	}
	if c.Executor.BackoffBase.Duration <= 0 {
		errs = append(errs, "executor: backoff_base must be > 0")
	}

	// AI gateway.
	if c.AI.Enabled {
		if c.AI.URL == "" {
			errs = append(errs, "ai: url is required when enabled")
		}
		if c.AI.Timeout.Duration <= 0 {
			errs = append(errs, "ai: timeout must be > 0 when enabled")
		}
		if c.AI.Timeout.Duration >= c.Executor.ExecutionTimeout.Duration {
			errs = append(errs, "ai: timeout must be smaller than executor execution_timeout")
		}
	}

	// Venue: required in live mode only; paper mode uses the simulator.
	if live {
		if c.Venue.RPCURL == "" {
			errs = append(errs, "venue: rpc_url is required in live mode")
		}
		if c.Venue.ChainID <= 0 {
			errs = append(errs, "venue: chain_id must be positive")
		}
	}

	// Redis.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres.
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// S3 archive.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Pipeline buffers.
	if c.Pipeline.EventBuffer < 1 || c.Pipeline.SignalBuffer < 1 || c.Pipeline.RoutedBuffer < 1 || c.Pipeline.ResultBuffer < 1 {
		errs = append(errs, "pipeline: all channel buffers must be >= 1")
	}
	if c.Pipeline.SymbolShards < 1 {
		errs = append(errs, "pipeline: symbol_shards must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validStrategyName(name string) bool {
	switch domain.StrategyType(name) {
	case domain.StrategyMomentum, domain.StrategyMeanReversion, domain.StrategyLPArbitrage, domain.StrategyAIDriven:
		return true
	}
	return false
}
