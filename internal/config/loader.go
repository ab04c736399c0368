package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CHAINPILOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CHAINPILOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Per-wallet keys use the wallet ID: CHAINPILOT_WALLET_<ID>_PRIVATE_KEY.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "CHAINPILOT_MODE")
	setStr(&cfg.LogLevel, "CHAINPILOT_LOG_LEVEL")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSize, "CHAINPILOT_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "CHAINPILOT_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MinConfidenceThreshold, "CHAINPILOT_RISK_MIN_CONFIDENCE_THRESHOLD")
	setFloat64(&cfg.Risk.AIConfidenceThreshold, "CHAINPILOT_RISK_AI_CONFIDENCE_THRESHOLD")
	setBool(&cfg.Risk.MultiWallet, "CHAINPILOT_RISK_MULTI_WALLET")

	// ── Wallet secrets ──
	for i := range cfg.Wallets {
		id := strings.ToUpper(cfg.Wallets[i].ID)
		if id == "" {
			continue
		}
		setStr(&cfg.Wallets[i].PrivateKey, "CHAINPILOT_WALLET_"+id+"_PRIVATE_KEY")
		setStr(&cfg.Wallets[i].KeyPassword, "CHAINPILOT_WALLET_"+id+"_KEY_PASSWORD")
	}

	// ── Strategy ──
	setFloat64(&cfg.Strategy.OrderSize, "CHAINPILOT_STRATEGY_ORDER_SIZE")
	setInt(&cfg.Strategy.WindowSize, "CHAINPILOT_STRATEGY_WINDOW_SIZE")
	setStringSlice(&cfg.Strategy.Enabled, "CHAINPILOT_STRATEGY_ENABLED")
	setDuration(&cfg.Strategy.SignalTTL, "CHAINPILOT_STRATEGY_SIGNAL_TTL")

	// ── Executor ──
	setInt(&cfg.Executor.Workers, "CHAINPILOT_EXECUTOR_WORKERS")
	setDuration(&cfg.Executor.ExecutionTimeout, "CHAINPILOT_EXECUTOR_EXECUTION_TIMEOUT")
	setInt(&cfg.Executor.MaxAttempts, "CHAINPILOT_EXECUTOR_MAX_ATTEMPTS")
	setDuration(&cfg.Executor.BackoffBase, "CHAINPILOT_EXECUTOR_BACKOFF_BASE")
	setFloat64(&cfg.Executor.PaperSlippageBps, "CHAINPILOT_EXECUTOR_PAPER_SLIPPAGE_BPS")
	setFloat64(&cfg.Executor.FeeBps, "CHAINPILOT_EXECUTOR_FEE_BPS")

	// ── AI gateway ──
	setBool(&cfg.AI.Enabled, "CHAINPILOT_AI_ENABLED")
	setStr(&cfg.AI.URL, "CHAINPILOT_AI_URL")
	setStr(&cfg.AI.APIKey, "CHAINPILOT_AI_API_KEY")
	setDuration(&cfg.AI.Timeout, "CHAINPILOT_AI_TIMEOUT")

	// ── Venue ──
	setStr(&cfg.Venue.RPCURL, "CHAINPILOT_VENUE_RPC_URL")
	setStr(&cfg.Venue.BundleURL, "CHAINPILOT_VENUE_BUNDLE_URL")
	setStr(&cfg.Venue.WsURL, "CHAINPILOT_VENUE_WS_URL")
	setInt(&cfg.Venue.ChainID, "CHAINPILOT_VENUE_CHAIN_ID")
	setInt(&cfg.Venue.MaxSubmitsPerSecond, "CHAINPILOT_VENUE_MAX_SUBMITS_PER_SECOND")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CHAINPILOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CHAINPILOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CHAINPILOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CHAINPILOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CHAINPILOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CHAINPILOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CHAINPILOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CHAINPILOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CHAINPILOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CHAINPILOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CHAINPILOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CHAINPILOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CHAINPILOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "CHAINPILOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CHAINPILOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CHAINPILOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CHAINPILOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CHAINPILOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CHAINPILOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CHAINPILOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CHAINPILOT_S3_USE_SSL")
	setInt(&cfg.S3.RetentionDays, "CHAINPILOT_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CHAINPILOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CHAINPILOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CHAINPILOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CHAINPILOT_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
