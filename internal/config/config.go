package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	RabbitMQ   RabbitMQConfig
	Dispatcher DispatcherConfig
}

type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port string `env:"SERVER_PORT" envDefault:"8080"`
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER,required"`
	Password string `env:"DB_PASSWORD,required"`
	DBName   string `env:"DB_NAME" envDefault:"veribits"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type RabbitMQConfig struct {
	URL           string `env:"RABBITMQ_URL"`
	Host          string `env:"RABBITMQ_HOST" envDefault:"localhost"`
	Port          string `env:"RABBITMQ_PORT" envDefault:"5672"`
	User          string `env:"RABBITMQ_USER" envDefault:"guest"`
	Password      string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	VHost         string `env:"RABBITMQ_VHOST" envDefault:"/"`
	SourceQueue   string `env:"RABBITMQ_SOURCE_QUEUE" envDefault:"veribits.events"`
	PrefetchCount int    `env:"RABBITMQ_PREFETCH_COUNT" envDefault:"10"`
}

type DispatcherConfig struct {
	PollInterval   time.Duration `env:"DISPATCHER_POLL_INTERVAL" envDefault:"15s"`
	BatchSize      int           `env:"DISPATCHER_BATCH_SIZE" envDefault:"100"`
	MaxConcurrency int           `env:"DISPATCHER_MAX_CONCURRENCY" envDefault:"8"`
	ClaimLease     time.Duration `env:"DISPATCHER_CLAIM_LEASE" envDefault:"1m"`
	HTTPTimeout    time.Duration `env:"DISPATCHER_HTTP_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from the environment, preloading a .env file
// when one is present.
func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// ConnectionString returns a DSN string for GORM.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrationURL returns the postgres:// URL used by golang-migrate.
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
