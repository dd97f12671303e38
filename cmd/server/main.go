package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"akiba/internal/cache"
	"akiba/internal/chain"
	"akiba/internal/config"
	"akiba/internal/db"
	"akiba/internal/handlers"
	"akiba/internal/mpesa"
	"akiba/internal/notify"
	"akiba/internal/services"
	"akiba/internal/store"
	"akiba/internal/websocket"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := newLogger(cfg.AppEnv)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer database.Close()

	users := store.NewUserStore(database)
	pending := store.NewPendingStore(database)
	transactions := store.NewTransactionStore(database)
	balances := store.NewBalanceStore(database)
	goals := store.NewGoalStore(database)
	cursor := store.NewCursorStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)

	readCache := cache.New(cache.NewClient(cfg.RedisAddr, cfg.RedisPassword), cfg.CacheTTL)
	hub := websocket.NewHub()
	notifier := notify.New(cfg.NotifyURL, cfg.NotifyAPIKey, logger)
	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.MpesaBaseURL,
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		Shortcode:      cfg.MpesaShortcode,
		Passkey:        cfg.MpesaPasskey,
		CallbackURL:    cfg.MpesaCallbackURL,
	}, logger)

	ledger, err := chain.Dial(cfg.ChainRPCURL, cfg.ContractAddress)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect chain RPC")
	}

	reconciler := services.NewReconciler(txRunner, pending, transactions, balances, goals, users, readCache, notifier, hub, cfg.TokenDecimals, logger)
	savings := services.NewSavingsService(txRunner, pending, pending, transactions, balances, goals, users, audit, readCache, gateway, ledger, cfg.PendingTTL, logger)
	sweeper := services.NewSweeper(pending, readCache, notifier, cfg.SweepInterval, logger)
	watcher := chain.NewWatcher(ledger, cursor, reconciler.OnLedgerEvent, chain.WatcherConfig{
		PollEvery:   cfg.ChainPollEvery,
		ConfirmLag:  cfg.ChainConfirmLag,
		BatchBlocks: cfg.ChainBatchBlocks,
	}, logger)

	background, stopBackground := context.WithCancel(context.Background())
	notifier.Start(background)
	go watcher.Run(background)
	go sweeper.Run(background)

	handler := handlers.New(txRunner, cfg, users, audit, savings, reconciler, ledger, hub, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("akiba API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	stopBackground()
	notifier.Stop()
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
