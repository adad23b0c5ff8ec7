package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig mirrors the teacher's per-process envconfig structs
// (internal/health-checker/config.go and siblings), extended with the
// sections this single long-lived server needs.
type AppConfig struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Registry RegistryConfig
	Postgres PostgresConfig
	Mail     MailConfig
	Admin    AdminConfig
	Digest   DigestConfig
}

type ServerConfig struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Testing  bool   `envconfig:"TESTING" default:"false"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true" validate:"required"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379" validate:"gte=1,lte=65535"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
}

type KafkaConfig struct {
	Brokers         []string `envconfig:"KAFKA_BROKERS" required:"true" validate:"required,min=1"`
	KeepaliveQueue  string   `envconfig:"KAFKA_KEEPALIVE_QUEUE" default:"keepalives" validate:"required"`
	ResultsQueue    string   `envconfig:"KAFKA_RESULTS_QUEUE" default:"results" validate:"required"`
	ConsumerGroupID string   `envconfig:"KAFKA_CONSUMER_GROUP_ID" required:"true" validate:"required"`
}

type RegistryConfig struct {
	Dir string `envconfig:"REGISTRY_DIR" default:"./registry" validate:"required"`
}

// Postgres is optional: an empty Host disables the audit log, so only
// Port is range-checked and the rest go unvalidated.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:""`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432" validate:"gte=1,lte=65535"`
	User     string `envconfig:"POSTGRES_USER" default:""`
	Password string `envconfig:"POSTGRES_PASSWORD" default:""`
	DBName   string `envconfig:"POSTGRES_DB" default:""`
}

type MailConfig struct {
	Host             string `envconfig:"MAIL_HOST" default:""`
	Port             int    `envconfig:"MAIL_PORT" default:"587" validate:"gte=1,lte=65535"`
	Email            string `envconfig:"MAIL_EMAIL" default:""`
	Password         string `envconfig:"MAIL_PASSWORD" default:""`
	AdminMailAddress string `envconfig:"MAIL_ADMIN_ADDRESS" default:"" validate:"omitempty,email"`
}

type AdminConfig struct {
	Addr string `envconfig:"ADMIN_ADDR" default:":8080" validate:"required"`
}

type DigestConfig struct {
	CronExpr   string   `envconfig:"DIGEST_CRON" default:"0 0 * * *" validate:"required"`
	Recipients []string `envconfig:"DIGEST_RECIPIENTS" default:""`
}

// lockTTL and renewal/poll periods follow spec §5; kept here so every
// component reads the same constants instead of hard-coding them.
const (
	LockTTL            = 60 * time.Second
	LockRenewalPeriod  = 20 * time.Second
	ResignationCeiling = 3 * time.Second
	UnsubscribeCeiling = 5 * time.Second
	ResumePollPeriod   = 1 * time.Second
	WatchdogPeriod     = 30 * time.Second
	PrunerPeriod       = 20 * time.Second
	TCPHandlerTimeout  = 10 * time.Second
	StaleWarnSeconds   = 120
	StaleCriticalSec   = 180
)

func LoadConfig(path string) (AppConfig, error) {
	_ = godotenv.Load(path)

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
