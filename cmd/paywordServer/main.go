package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Layr-Labs/chain-indexer/pkg/clients/ethereum"
	"github.com/Layr-Labs/payword-channels-go/pkg/admission"
	"github.com/Layr-Labs/payword-channels-go/pkg/channel"
	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/contractCaller/caller"
	"github.com/Layr-Labs/payword-channels-go/pkg/escrow"
	"github.com/Layr-Labs/payword-channels-go/pkg/ledger"
	"github.com/Layr-Labs/payword-channels-go/pkg/logger"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence/badger"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence/memory"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence/redis"
	"github.com/Layr-Labs/payword-channels-go/pkg/server"
	"github.com/Layr-Labs/payword-channels-go/pkg/settlement"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "payword-server",
		Usage: "PayWord vendor server for pay-per-segment streaming",
		Description: `Serves HLS content behind PayWord hash-chain micropayments.

This server implements:
- Per-segment admission of hash-chain payment proofs
- An append-only payment ledger with replay protection
- Channel and vendor management over an EthWord escrow
- Settlement of the best payment through closeChannel`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   3001,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvPaywordPort},
			},
			&cli.Uint64Flag{
				Name:     "chain-id",
				Aliases:  []string{"chain"},
				Usage:    fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				EnvVars:  []string{config.EnvPaywordChainID},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL",
				Value:   "http://localhost:8545",
				EnvVars: []string{config.EnvPaywordRPCURL},
			},
			&cli.StringFlag{
				Name:     "admin-api-key",
				Usage:    "Bearer token required by administrative routes",
				EnvVars:  []string{config.EnvPaywordAdminAPIKey},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "settlement-private-key",
				Usage:   "Vendor private key (hex) used to submit closeChannel; settlement is disabled without it",
				EnvVars: []string{config.EnvPaywordSettlementKey},
			},
			&cli.StringFlag{
				Name:    "content-dir",
				Usage:   "Directory holding the HLS playlists and segments",
				Value:   "./content",
				EnvVars: []string{config.EnvPaywordContentDir},
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origins",
				Usage:   "Browser origins allowed by CORS",
				EnvVars: []string{config.EnvPaywordAllowedOrigins},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "Ledger backend: memory, badger or redis",
				Value:   string(config.PersistenceType_Badger),
				EnvVars: []string{config.EnvPaywordPersistence},
			},
			&cli.StringFlag{
				Name:    "badger-dir",
				Usage:   "Data directory for the badger backend",
				Value:   "./data/payword",
				EnvVars: []string{config.EnvPaywordBadgerDir},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis host:port for the redis backend",
				EnvVars: []string{config.EnvPaywordRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvPaywordRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number (0-15)",
				EnvVars: []string{config.EnvPaywordRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix prepended to every redis key",
				EnvVars: []string{config.EnvPaywordRedisKeyPrefix},
			},
			&cli.DurationFlag{
				Name:    "escrow-timeout",
				Usage:   "Timeout for each escrow RPC call",
				Value:   config.DefaultEscrowConfig().CallTimeout,
				EnvVars: []string{config.EnvPaywordEscrowTimeout},
			},
			&cli.IntFlag{
				Name:    "escrow-retries",
				Usage:   "Retries after a transient escrow RPC failure",
				Value:   config.DefaultEscrowConfig().MaxRetries,
				EnvVars: []string{config.EnvPaywordEscrowRetries},
			},
			&cli.Float64Flag{
				Name:    "escrow-rps",
				Usage:   "Escrow RPC requests per second (0 disables limiting)",
				Value:   config.DefaultEscrowConfig().RequestsPerSecond,
				EnvVars: []string{config.EnvPaywordEscrowRPS},
			},
			&cli.IntFlag{
				Name:    "admission-attempts",
				Usage:   "Ledger append attempts per request before answering a write conflict",
				Value:   admission.DefaultMaxAttempts,
				EnvVars: []string{config.EnvPaywordAdmissionAttempts},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvPaywordVerbose},
			},
		},
		Action: runPaywordServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runPaywordServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := parsePaywordConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l.Sugar().Infow("Using chain", "name", cfg.ChainName, "chain_id", cfg.ChainID)

	ethClient := ethereum.NewEthereumClient(&ethereum.EthereumClientConfig{
		BaseUrl:   cfg.RpcUrl,
		BlockType: ethereum.BlockType_Latest,
	}, l)

	contractCaller, err := caller.NewContractCallerFromEthereumClient(ethClient, cfg.SettlementPrivateKey, l)
	if err != nil {
		return fmt.Errorf("failed to create contract caller: %w", err)
	}
	if !contractCaller.CanSettle() {
		l.Sugar().Warn("No settlement key configured; channels must be closed with an external settlement tx")
	}
	esc := escrow.NewRetryingEscrow(contractCaller, cfg.Escrow, l)

	store, err := newPersistence(cfg.Persistence, l)
	if err != nil {
		return fmt.Errorf("failed to open %s persistence: %w", cfg.Persistence.Type, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Warnw("Failed to close persistence", "error", err)
		}
	}()

	paymentLedger := ledger.NewLedger(store, l)
	channels := channel.NewService(store, esc, l)
	settler := settlement.NewSettler(paymentLedger, channels, esc, config.GetSettlementTimeoutForChain(cfg.ChainID), l)

	gate, err := admission.NewGate(store, paymentLedger, &admission.GateConfig{MaxAttempts: cfg.AdmissionAttempts}, l)
	if err != nil {
		return fmt.Errorf("failed to create admission gate: %w", err)
	}

	srv, err := server.NewServer(&server.Config{
		Port:           cfg.Port,
		AdminAPIKey:    cfg.AdminAPIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		CanSettle:      contractCaller.CanSettle(),
	}, channels, settler, gate, os.DirFS(cfg.ContentDir), l)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if c.Bool("verbose") {
		l.Sugar().Infow("PayWord Server Configuration",
			"port", cfg.Port,
			"chain", cfg.ChainName,
			"content_dir", cfg.ContentDir,
			"persistence", cfg.Persistence.Type,
			"escrow_timeout", cfg.Escrow.CallTimeout,
			"escrow_retries", cfg.Escrow.MaxRetries,
			"settlement_timeout", config.GetSettlementTimeoutForChain(cfg.ChainID),
			"settlement_address", contractCaller.SettlementAddress().Hex())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("PayWord Server running", "port", cfg.Port)
	l.Sugar().Infow("Available endpoints",
		"content", "GET /hls/*",
		"vendors", "/vendors",
		"channels", "/channels",
		"settle", "POST /channels/{id}/settle",
		"verify", "GET /payments/verify/{hash}")
	l.Sugar().Info("Press Ctrl+C to stop")

	<-ctx.Done()
	l.Sugar().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		l.Sugar().Warnw("Server did not shut down cleanly", "error", err)
	}
	return nil
}

func parsePaywordConfig(c *cli.Context) (*config.PaywordServerConfig, error) {
	return &config.PaywordServerConfig{
		Port:                 c.Int("port"),
		ChainID:              config.ChainId(c.Uint64("chain-id")),
		RpcUrl:               c.String("rpc-url"),
		AdminAPIKey:          c.String("admin-api-key"),
		SettlementPrivateKey: c.String("settlement-private-key"),
		ContentDir:           c.String("content-dir"),
		AllowedOrigins:       c.StringSlice("allowed-origins"),
		Persistence: &config.PersistenceConfig{
			Type:      config.PersistenceType(c.String("persistence")),
			BadgerDir: c.String("badger-dir"),
			Redis: &config.RedisConfig{
				Address:   c.String("redis-address"),
				Password:  c.String("redis-password"),
				DB:        c.Int("redis-db"),
				KeyPrefix: c.String("redis-key-prefix"),
			},
		},
		Escrow: &config.EscrowConfig{
			CallTimeout:       c.Duration("escrow-timeout"),
			MaxRetries:        c.Int("escrow-retries"),
			RequestsPerSecond: c.Float64("escrow-rps"),
		},
		AdmissionAttempts: c.Int("admission-attempts"),
		Debug:             c.Bool("verbose"),
		Verbose:           c.Bool("verbose"),
	}, nil
}

func newPersistence(cfg *config.PersistenceConfig, l *zap.Logger) (persistence.IPaywordPersistence, error) {
	switch cfg.Type {
	case config.PersistenceType_Memory:
		l.Sugar().Warn("Using in-memory persistence; the ledger is lost on restart")
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceType_Badger:
		return badger.NewBadgerPersistence(cfg.BadgerDir, l)
	case config.PersistenceType_Redis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported persistence type %q", cfg.Type)
	}
}
