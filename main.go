package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	clts "tvhook/clients"
	"tvhook/config"
	"tvhook/internal/app"
	"tvhook/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Optional .env for local runs; missing file is fine.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config from environment variables
	envConfig := config.Load()
	logger.Info("starting relay", zap.Bool("isProd", envConfig.IsProd))

	// Open the persistent store and restore prior session state
	st, err := store.Open(logger, envConfig.Store.Path)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	ledger := app.NewLedger(logger)
	persister := app.NewPersister(logger, st, ledger, envConfig.Store.SaveInterval)

	if err := persister.LoadInto(envConfig); err != nil {
		logger.Warn("failed to load persisted state, using env/defaults", zap.Error(err))
	}

	// Create LiveConfig with the restored config as initial value
	liveConfig := config.NewLiveConfig(envConfig)
	liveConfig.AddObserver(persister)

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)

	dispatcher := app.NewDispatcher(
		logger,
		liveConfig,
		ledger,
		clients.Webhook,
		clients.PageFeed,
		envConfig.Screenshot,
	)
	dispatcher.SetLedgerChangeHook(persister.MarkDirty)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(logger, liveConfig, clients, ledger, dispatcher, persister)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
