package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coinrail/custody_service/internal/api/handlers"
	"github.com/coinrail/custody_service/internal/api/routes"
	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/chains/evm"
	"github.com/coinrail/custody_service/internal/chains/monero"
	"github.com/coinrail/custody_service/internal/chains/solana"
	"github.com/coinrail/custody_service/internal/chains/tron"
	"github.com/coinrail/custody_service/internal/chains/utxo"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/internal/domain/services/deposit"
	"github.com/coinrail/custody_service/internal/domain/services/ledger"
	"github.com/coinrail/custody_service/internal/domain/services/refund"
	"github.com/coinrail/custody_service/internal/domain/services/withdrawal"
	"github.com/coinrail/custody_service/internal/infrastructure/adapters"
	"github.com/coinrail/custody_service/internal/infrastructure/cache"
	"github.com/coinrail/custody_service/internal/infrastructure/config"
	"github.com/coinrail/custody_service/internal/infrastructure/database"
	"github.com/coinrail/custody_service/internal/infrastructure/repositories"
	"github.com/coinrail/custody_service/internal/workers/stale_sweeper"
	"github.com/coinrail/custody_service/pkg/crypto"
	"github.com/coinrail/custody_service/pkg/logger"
	"github.com/coinrail/custody_service/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database connection", "error", err)
		}
	}()

	if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		log.Fatal("Failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	vault, err := crypto.NewKeyVault([]byte(cfg.Custody.MasterKey))
	if err != nil {
		log.Fatal("Failed to initialize key vault", "error", err)
	}

	// Repositories
	txRepo := repositories.NewTransactionRepository(db)
	walletRepo := repositories.NewCustodyWalletRepository(db)
	userRepo := repositories.NewUserRepository(db)
	profitRepo := repositories.NewProfitRepository(db)

	keys := adapters.NewWalletKeySource(walletRepo, vault)

	// Chain backends
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	solClient := solana.NewClient(cfg.Chains.Solana.RPCEndpoint)
	solBackend := solana.NewBackend(solClient, keys, solana.Config{
		ConfirmAttempts: cfg.Chains.Solana.ConfirmAttempts,
		ConfirmInterval: time.Duration(cfg.Chains.Solana.ConfirmIntervalSec) * time.Second,
	}, log)

	xmrClient := monero.NewClient(cfg.Chains.Monero.WalletRPCEndpoint, cfg.Chains.Monero.DaemonRPCEndpoint, nil)
	xmrConfig := monero.DefaultConfig()
	if cfg.Chains.Monero.ConfirmThreshold > 0 {
		xmrConfig.ConfirmThreshold = cfg.Chains.Monero.ConfirmThreshold
	}
	xmrBackend := monero.NewBackend(xmrClient, keys, xmrConfig, log)
	defer xmrBackend.Close()

	backendList := []chains.Backend{solBackend, xmrBackend}

	for name, endpoint := range cfg.Chains.EVM.Endpoints {
		chain := entities.Chain(name)
		if !chain.IsValid() {
			log.Warn("Skipping EVM endpoint for unknown chain", "chain", name)
			continue
		}
		backendList = append(backendList, evm.NewBackend(chain, endpoint, keys, cfg.Chains.EVM.ConfirmThreshold, log))
	}

	if cfg.Chains.Tron.APIEndpoint != "" {
		backendList = append(backendList, tron.NewBackend(cfg.Chains.Tron.APIEndpoint, keys, log))
	}

	for name, endpoint := range cfg.Chains.UTXO.Endpoints {
		chain := entities.Chain(name)
		if !chain.IsValid() {
			log.Warn("Skipping UTXO endpoint for unknown chain", "chain", name)
			continue
		}
		backendList = append(backendList, utxo.NewBackend(
			chain, endpoint,
			cfg.Chains.UTXO.RPCUser, cfg.Chains.UTXO.RPCPassword,
			keys, cfg.Chains.UTXO.ConfirmThreshold, log,
		))
	}

	registry := chains.NewRegistry(backendList...)
	log.Info("Chain backends registered", "chains", len(registry.Chains()))

	// Services
	m := metrics.New()

	mailer, err := adapters.NewEmailService(log.Zap(), adapters.EmailServiceConfig{
		Provider:  cfg.Email.Provider,
		APIKey:    cfg.Email.APIKey,
		FromEmail: cfg.Email.FromEmail,
		FromName:  cfg.Email.FromName,
	})
	if err != nil {
		log.Fatal("Failed to initialize email service", "error", err)
	}
	notifier := adapters.NewNotificationService(log.Zap(), userRepo, mailer)

	refunder := refund.NewService(walletRepo, log)
	profits := ledger.NewService(profitRepo, log)

	queue := withdrawal.NewQueue(txRepo, walletRepo, registry, refunder, notifier, profits, log, m)
	queue.Start(rootCtx)

	// Push sources for chains with streaming support
	push := make(map[entities.Chain]deposit.PushSource)
	if cfg.Chains.Solana.WSEndpoint != "" {
		ws, err := solana.NewWSWatcher(rootCtx, cfg.Chains.Solana.WSEndpoint, nil, log)
		if err != nil {
			log.Warn("Solana WS unavailable, deposits fall back to polling", "error", err)
		} else {
			defer ws.Close()
			push[entities.ChainSOL] = ws
		}
	}

	monitor := deposit.NewMonitor(deposit.Config{
		PollInterval: cfg.Workers.DepositPollInterval,
		MaxAttempts:  cfg.Workers.DepositMaxAttempts,
		IdleTimeout:  cfg.Workers.DepositIdleTimeout,
		Reconcile:    cfg.Workers.ReconcileOnStartup,
	}, registry, txRepo, walletRepo, walletRepo, notifier, redisClient, push, log, m)

	if err := monitor.Start(rootCtx); err != nil {
		log.Fatal("Failed to start deposit monitor", "error", err)
	}

	sweeper := stale_sweeper.NewWorker(txRepo, queue, &stale_sweeper.Config{
		Schedule:  cfg.Workers.StaleSweepSchedule,
		StaleFor:  cfg.Workers.StaleProcessingAfter,
		BatchSize: 100,
	}, log)
	if err := sweeper.Start(rootCtx); err != nil {
		log.Fatal("Failed to start stale sweeper", "error", err)
	}

	// HTTP surface
	custodyHandlers := handlers.NewCustodyHandlers(queue, monitor, registry, log)
	adminHandlers := handlers.NewAdminHandlers(profitRepo, log)
	router := routes.Setup(cfg.Environment, custodyHandlers, adminHandlers, m, log)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	<-rootCtx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown error", "error", err)
	}

	sweeper.Stop()
	monitor.Stop()

	log.Info("Shutdown complete")
}
