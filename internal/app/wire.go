package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dkellerman/chainpilot/internal/ai"
	s3blob "github.com/dkellerman/chainpilot/internal/blob/s3"
	"github.com/dkellerman/chainpilot/internal/cache/redis"
	"github.com/dkellerman/chainpilot/internal/config"
	"github.com/dkellerman/chainpilot/internal/crypto"
	"github.com/dkellerman/chainpilot/internal/domain"
	"github.com/dkellerman/chainpilot/internal/executor"
	"github.com/dkellerman/chainpilot/internal/notify"
	"github.com/dkellerman/chainpilot/internal/store/postgres"
	"github.com/dkellerman/chainpilot/internal/venue"
)

// Dependencies bundles every concrete implementation the engine needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Bus         domain.Bus
	RateLimiter domain.RateLimiter

	ExecutionStore domain.ExecutionStore
	ApprovalStore  domain.ApprovalStore
	AuditStore     domain.AuditStore

	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	Venue      venue.Venue
	VenueWS    *venue.WSClient // nil unless a live confirmation stream is configured
	Gateway    ai.Gateway      // nil when the AI consult is disabled
	Wallets    []domain.Wallet
	WalletKeys map[string]executor.WalletKeys

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	live := cfg.Mode == "live"

	// --- Redis: bus and venue rate limiter ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Bus = redis.NewBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- PostgreSQL: execution history, approvals, audit log ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.ExecutionStore = postgres.NewExecutionStore(pool)
	deps.ApprovalStore = postgres.NewApprovalStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- S3 cold archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.ExecutionStore, deps.BlobWriter, logger)
	}

	// --- Wallets and signing keys ---
	deps.WalletKeys = make(map[string]executor.WalletKeys, len(cfg.Wallets))
	for _, wc := range cfg.Wallets {
		w := domain.Wallet{
			ID:              wc.ID,
			Balance:         wc.Balance,
			MaxPositionSize: wc.MaxPositionSize,
			MaxDailyLoss:    wc.MaxDailyLoss,
			IsDefault:       wc.IsDefault,
			Symbols:         wc.Symbols,
			Disabled:        wc.Disabled,
		}

		keys := executor.WalletKeys{Address: "paper:" + wc.ID}
		if live {
			keyHex, err := crypto.LoadKey(crypto.KeyConfig{
				RawPrivateKey:    wc.PrivateKey,
				EncryptedKeyPath: wc.EncryptedKeyPath,
				KeyPassword:      wc.KeyPassword,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: wallet %s key: %w", wc.ID, err)
			}
			signer, err := crypto.NewSigner(keyHex, cfg.Venue.ChainID)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: wallet %s signer: %w", wc.ID, err)
			}
			keys = executor.WalletKeys{
				Address: signer.Address().Hex(),
				Signer:  signer,
			}
			w.Address = keys.Address
		}

		deps.Wallets = append(deps.Wallets, w)
		deps.WalletKeys[wc.ID] = keys
	}

	// --- Venue: live RPC or the paper simulator ---
	if live {
		deps.Venue = venue.NewRPCClient(cfg.Venue.RPCURL, cfg.Venue.BundleURL)
		if cfg.Venue.WsURL != "" {
			deps.VenueWS = venue.NewWSClient(cfg.Venue.WsURL, logger)
		}
	} else {
		deps.Venue = venue.NewSimulator(cfg.Executor.PaperSlippageBps, cfg.Executor.FeeBps)
	}

	// --- AI gateway ---
	if cfg.AI.Enabled {
		deps.Gateway = ai.NewClient(cfg.AI.URL, cfg.AI.APIKey)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
