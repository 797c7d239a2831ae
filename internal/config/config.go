package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/usageledger/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment      DeploymentConfig      `mapstructure:"deployment"`
	Server          ServerConfig          `mapstructure:"server"`
	Logging         LoggingConfig         `mapstructure:"logging"`
	EventStore      EventStoreConfig      `mapstructure:"event_store"`
	Postgres        PostgresConfig        `mapstructure:"postgres"`
	ClickHouse      ClickHouseConfig      `mapstructure:"clickhouse"`
	Kafka           KafkaConfig           `mapstructure:"kafka"`
	EventProcessing EventProcessingConfig `mapstructure:"event_processing"`
	API             APIConfig             `mapstructure:"api"`
	Sentry          SentryConfig          `mapstructure:"sentry"`
	Profiling       ProfilingConfig       `mapstructure:"profiling"`
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LoggingConfig struct {
	Level          types.LogLevel `mapstructure:"level" validate:"required"`
	FluentdEnabled bool           `mapstructure:"fluentd_enabled"`
	FluentdHost    string         `mapstructure:"fluentd_host"`
	FluentdPort    int            `mapstructure:"fluentd_port"`
}

type EventStoreConfig struct {
	Type types.EventStoreType `mapstructure:"type" validate:"required,oneof=postgres clickhouse"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

type ClickHouseConfig struct {
	Address  string `mapstructure:"address"`
	TLS      bool   `mapstructure:"tls"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id"`
	TLS           bool     `mapstructure:"tls"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`
}

type EventProcessingConfig struct {
	Enabled              bool             `mapstructure:"enabled"`
	Topic                string           `mapstructure:"topic"`
	ConsumerGroup        string           `mapstructure:"consumer_group"`
	PubSub               types.PubSubType `mapstructure:"pubsub" validate:"required,oneof=kafka memory"`
	RateLimit            int64            `mapstructure:"rate_limit"`
	Workers              int              `mapstructure:"workers" validate:"min=1"`
	LockTimeout          time.Duration    `mapstructure:"lock_timeout"`
	MaxRetries           uint64           `mapstructure:"max_retries"`
	RetryInitialInterval time.Duration    `mapstructure:"retry_initial_interval"`
}

type APIConfig struct {
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type ProfilingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
	AppName       string `mapstructure:"app_name"`
}

// NewConfig loads configuration from config.yaml, an optional .env file and
// LEDGER_ prefixed environment variables, in increasing order of precedence.
func NewConfig() (*Configuration, error) {
	v := viper.New()

	// Missing .env is fine outside local development
	_ = godotenv.Load()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetDefaultConfig returns the defaults without reading any file or environment.
func GetDefaultConfig() *Configuration {
	v := viper.New()
	setDefaults(v)

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return &cfg
}

func (c *Configuration) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(types.ModeLocal))
	v.SetDefault("server.address", ":8080")

	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("logging.fluentd_enabled", false)
	v.SetDefault("logging.fluentd_port", 24224)

	v.SetDefault("event_store.type", string(types.EventStoreTypePostgres))

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "ledger")
	v.SetDefault("postgres.password", "ledger")
	v.SetDefault("postgres.dbname", "usage_ledger")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_minutes", 60)

	v.SetDefault("clickhouse.address", "localhost:9000")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.database", "usage_ledger")

	v.SetDefault("kafka.brokers", []string{"localhost:29092"})
	v.SetDefault("kafka.client_id", "usage-ledger")
	v.SetDefault("kafka.sasl_mechanism", "SCRAM-SHA-512")

	v.SetDefault("event_processing.enabled", true)
	v.SetDefault("event_processing.topic", "usage_events")
	v.SetDefault("event_processing.consumer_group", "usage-ledger-resolver")
	v.SetDefault("event_processing.pubsub", string(types.PubSubTypeKafka))
	v.SetDefault("event_processing.rate_limit", 10)
	v.SetDefault("event_processing.workers", 4)
	v.SetDefault("event_processing.lock_timeout", 10*time.Second)
	v.SetDefault("event_processing.max_retries", 3)
	v.SetDefault("event_processing.retry_initial_interval", 100*time.Millisecond)

	v.SetDefault("api.rate_limit", 50.0)
	v.SetDefault("api.burst", 100)

	v.SetDefault("sentry.sample_rate", 1.0)
	v.SetDefault("profiling.app_name", "usage-ledger")
}

// GetDSN returns the lib/pq connection string.
func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (c PostgresConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}
