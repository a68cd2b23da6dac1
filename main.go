package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"waconnect/config"
	"waconnect/internal/adapters"
	"waconnect/internal/adapters/evolution"
	"waconnect/internal/adapters/quepasa"
	"waconnect/internal/bot"
	"waconnect/internal/db"
	"waconnect/internal/delivery"
	"waconnect/internal/handlers"
	"waconnect/internal/services"
	"waconnect/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration load failed")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database open failed")
	}

	registry := adapters.NewRegistry(evolution.New(), quepasa.New())

	contacts := services.NewContactService(database)
	conversations := services.NewConversationService(database)
	outbound := services.NewOutboundService(database, registry)
	accounts := services.NewAccountService(database, registry, cfg.PublicBaseURL)
	inbound := services.NewInboundService(database, registry, contacts, conversations)
	massSend := services.NewMassSendService(database, outbound, conversations)

	engine := bot.NewEngine(database, outbound)
	inbound.SetBotHandler(engine)

	rabbit, err := delivery.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("RabbitMQ connect failed")
	}
	manager := delivery.NewManager(cfg.GlobalWebhookURL, rabbit)
	defer manager.Close()
	inbound.SetEventSink(manager)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SessionSweepSpec, func() { engine.ExpireStale(rootCtx) }); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.SessionSweepSpec).Msg("Session sweep schedule invalid")
	}
	if _, err := scheduler.AddFunc(cfg.MassSendSpec, func() { massSend.ProcessScheduled(rootCtx) }); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.MassSendSpec).Msg("Mass send schedule invalid")
	}
	scheduler.Start()
	defer scheduler.Stop()

	webhook := handlers.NewWebhookHandler(accounts, inbound)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.NewRouter(webhook),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}
