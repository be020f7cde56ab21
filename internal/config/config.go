package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/estio/conversations-gateway/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every environment-sourced setting of the gateway. Only this
// struct may be used to read configuration; no direct env access elsewhere.
// Tenant credentials (bridge instance, gateway account, CRM token) live on
// the Location row, not here.
type Config struct {
	AppEnv   string `env:"APP_ENV" default:"dev"`
	AppName  string `env:"APP_NAME" default:"conversations_gateway"`
	AppDebug bool   `env:"APP_DEBUG" default:"1"`

	HttpListenAddr         string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpServerReadTimeout  int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	LogLevel []string `env:"LOG_LEVEL"`

	// Self-hosted WhatsApp bridge.
	BridgeBaseURL string        `env:"BRIDGE_BASE_URL" default:"http://localhost:8080"`
	BridgeAPIKey  string        `env:"BRIDGE_API_KEY"`
	BridgeTimeout time.Duration `env:"BRIDGE_TIMEOUT" default:"15s"`

	// Remote CRM (system of record).
	CRMBaseURL string        `env:"CRM_BASE_URL"`
	CRMTimeout time.Duration `env:"CRM_TIMEOUT" default:"10s"`
	// Custom conversation-provider id registered on the CRM side. When set,
	// mirrored WhatsApp messages are pushed through the custom channel so no
	// native WhatsApp subscription is required.
	CRMCustomProviderID string `env:"CRM_CUSTOM_PROVIDER_ID"`

	// Legacy SMS-gateway providers (interchangeable endpoints).
	GatewayPrimaryURL   string        `env:"GATEWAY_PRIMARY_URL"`
	GatewaySecondaryURL string        `env:"GATEWAY_SECONDARY_URL"`
	GatewayTimeout      time.Duration `env:"GATEWAY_TIMEOUT" default:"10s"`

	// Conversation/message events (optional).
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" default:"conversations.events"`

	// Fire-and-forget CRM mirror worker pool.
	MirrorWorkers    int `env:"MIRROR_WORKERS" default:"8"`
	MirrorBufferSize int `env:"MIRROR_BUFFER_SIZE" default:"1024"`

	// Inbound history backfill.
	BackfillPageSize       int `env:"BACKFILL_PAGE_SIZE" default:"20"`
	BackfillDuplicateLimit int `env:"BACKFILL_DUPLICATE_LIMIT" default:"5"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
