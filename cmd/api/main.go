package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/estio/conversations-gateway/internal/config"
	"github.com/estio/conversations-gateway/internal/events"
	gateway "github.com/estio/conversations-gateway/internal/gateways"
	"github.com/estio/conversations-gateway/internal/handlers"
	"github.com/estio/conversations-gateway/internal/repository"
	"github.com/estio/conversations-gateway/internal/services"
	xhttp "github.com/estio/conversations-gateway/pkg/http"
	"github.com/estio/conversations-gateway/pkg/logger"
	"github.com/estio/conversations-gateway/pkg/pg"
	"github.com/estio/conversations-gateway/pkg/prom"
	"github.com/estio/conversations-gateway/pkg/redis"
	"github.com/estio/conversations-gateway/pkg/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 30))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	if config.Get().PromNamespace != "" {
		hostname, herr := os.Hostname()
		if herr != nil {
			hostname = "unknown"
		}
		if err := prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace); err != nil {
			logger.Error("failed to init metrics", "error", err)
		} else {
			go prom.ListenAndServer(":9100", "/metrics")
		}
	}

	// Conversation/message events are optional: without a broker URL the
	// publisher drops events and the service runs standalone.
	publisher := events.NewFallback()
	if config.Get().AMQPURL != "" {
		p, perr := events.New(config.Get().AMQPURL, config.Get().AMQPExchange)
		if perr != nil {
			logger.Error("failed connecting to amqp, events disabled", "error", perr)
		} else {
			publisher = p
		}
	}
	defer publisher.Close()

	// repositories
	locationRepo := repository.NewLocationRepository(db)
	contactRepo := repository.NewContactRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// outbound clients
	bridgeClient := gateway.NewBridgeClient(config.Get().BridgeBaseURL, config.Get().BridgeAPIKey, config.Get().BridgeTimeout)
	crmClient := gateway.NewCRMClient(config.Get().CRMBaseURL, config.Get().CRMTimeout)
	legacyClient := gateway.NewLegacyGatewayClient(config.Get().GatewayPrimaryURL, config.Get().GatewaySecondaryURL, config.Get().GatewayTimeout)

	// services
	syncService := services.NewSyncService(messageRepo, conversationRepo, publisher)
	identityService := services.NewIdentityService(contactRepo, crmClient)

	mirrorPool := worker.NewWorkerManager(config.Get().MirrorBufferSize, config.Get().MirrorWorkers, nil)
	deliveryService := services.NewDeliveryService(
		locationRepo, contactRepo, conversationRepo, messageRepo,
		bridgeClient, legacyClient, crmClient,
		syncService, identityService, publisher,
		mirrorPool, config.Get().CRMCustomProviderID,
	)
	go mirrorPool.Start()

	backfillService := services.NewBackfillService(
		locationRepo, conversationRepo, contactRepo, bridgeClient, syncService,
		config.Get().BackfillPageSize, config.Get().BackfillDuplicateLimit,
	)
	conversationService := services.NewConversationService(conversationRepo, messageRepo, publisher)
	webhookService := services.NewWebhookService(locationRepo, contactRepo, conversationRepo, redisAdap, syncService)

	// v1 handlers
	conversationHandler := handlers.NewConversationHandler(conversationService, deliveryService, backfillService)
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	healthHandler := handlers.NewHealthHandler()

	g := s.Router.Group("/api/v1")
	handlers.RegisterConversationRoutes(g, conversationHandler)
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()
	logger.Info("conversations gateway started",
		"addr", config.Get().HttpListenAddr,
		"version", version,
		"commit", commit,
		"build_date", date)

	<-c
	mirrorPool.Exit()
	s.Shutdown()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
