package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"crmsync/config"
	"crmsync/internal/adapters/provider"
	"crmsync/internal/crm"
	"crmsync/internal/db"
	"crmsync/internal/handlers"
	"crmsync/internal/models"
	"crmsync/internal/queue"
	"crmsync/internal/services"
	"crmsync/pkg/logger"
)

func main() {
	logger.InitLogger()

	log.Info().Msg("Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("database_path", cfg.DatabasePath).Msg("Initializing database...")
	dbHandle, err := db.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(dbHandle, models.AllModels()...); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	providerClient, err := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize provider client")
	}

	// Record and rule access: standalone deployments run with in-memory
	// stores; an embedding CRM replaces these with its own implementations.
	records := crm.NewInMemoryRecordStore()
	rules := crm.NewInMemoryRuleRegistry()

	publisher, err := queue.NewPublisher(cfg.RabbitMQURL, cfg.SyncQueueName, cfg.QueuePrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize task queue publisher")
	}
	defer publisher.Close()

	syncService, err := services.NewRecordSyncService(dbHandle, records, rules, providerClient, publisher, services.RecordSyncOptions{
		DaysBack:    cfg.SyncDaysBack,
		MaxMessages: cfg.SyncMaxMessages,
		PageCap:     cfg.SyncPageCap,
		JobTimeout:  time.Duration(cfg.SyncJobTimeoutMin) * time.Minute,
		Cooldown:    time.Duration(cfg.SyncCooldownMinutes) * time.Minute,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RecordSyncService")
	}
	syncService.SetAutoSyncInterval(time.Duration(cfg.AutoSyncIntervalHrs) * time.Hour)
	log.Info().Msg("RecordSyncService initialized successfully")

	convStore, err := services.NewConversationStore(dbHandle)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ConversationStore")
	}
	msgStore, err := services.NewMessageStore(dbHandle)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MessageStore")
	}

	if cfg.RabbitMQURL != "" {
		consumer, err := queue.NewConsumer(cfg.RabbitMQURL, cfg.SyncQueueName, cfg.QueuePrefix, syncService, publisher, cfg.MaxTaskRetries)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize task queue consumer")
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Start(context.Background()); err != nil {
				log.Error().Err(err).Msg("Task queue consumer stopped")
			}
		}()
	}

	syncHandler := handlers.NewSyncHandler(dbHandle, syncService, records, rules, publisher)
	channelHandler := handlers.NewChannelHandler(dbHandle, providerClient)
	webhookHandler := handlers.NewWebhookHandler(dbHandle, syncService.Extractor(), convStore, msgStore, cfg.WebhookSecret)

	router := handlers.NewRouter(syncHandler, channelHandler, webhookHandler)

	port := cfg.Port
	if port == "" {
		port = "8080"
		log.Info().Str("port", port).Msg("Defaulting to port")
	}

	log.Info().Str("port", port).Msgf("Server starting on port %s...", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
