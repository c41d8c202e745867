package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	HttpServerPort uint16   `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"  envSeparator:","`

	StoreDriver   string `env:"STORE_DRIVER"   envDefault:"postgres" validate:"oneof=postgres memory"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"floorchat_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"floorchat_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"floorchat_db"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	AuthSecret      string        `env:"AUTH_SECRET"       envDefault:"change-me-in-production" validate:"min=16"`
	SocketTokenTTL  time.Duration `env:"SOCKET_TOKEN_TTL"  envDefault:"60s"  validate:"gt=0"`
	SessionTokenTTL time.Duration `env:"SESSION_TOKEN_TTL" envDefault:"24h"  validate:"gt=0"`

	HistoryPageSize  int           `env:"HISTORY_PAGE_SIZE"  envDefault:"50"  validate:"min=1,max=200"`
	HistoryCacheTTL  time.Duration `env:"HISTORY_CACHE_TTL"  envDefault:"30s" validate:"gte=0"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH" envDefault:"2000" validate:"min=1"`

	SendRateLimit  int           `env:"SEND_RATE_LIMIT"  envDefault:"20"  validate:"gte=0"`
	SendRateWindow time.Duration `env:"SEND_RATE_WINDOW" envDefault:"10s" validate:"gt=0"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
