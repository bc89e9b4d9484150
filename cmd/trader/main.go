package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stock-rotation-bot-go/internal/broker"
	"stock-rotation-bot-go/internal/config"
	"stock-rotation-bot-go/internal/database"
	"stock-rotation-bot-go/internal/logger"
	"stock-rotation-bot-go/internal/notify"
	"stock-rotation-bot-go/internal/trader"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize broker gateway client
	client := broker.NewRestClient(&cfg.Broker, log)
	if _, err := client.Ping(); err != nil {
		log.Fatal("Failed to connect to broker gateway", zap.Error(err))
	}
	log.Info("Successfully connected to broker gateway.")

	// Initialize notification sink
	sink := notify.NewWebhookSink(cfg.Notify.WebhookURL, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize and run the trading engine
	engine, err := trader.NewEngine(log, &cfg, client, db, sink)
	if err != nil {
		log.Fatal("Failed to initialize engine", zap.Error(err))
	}

	apiServer := trader.NewAPIServer(engine, cfg.Server.ApiPort, log)
	apiServer.Start()

	engine.Run(ctx)

	if err := apiServer.Stop(context.Background()); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}
	log.Info("Bot has been shut down.")
}
