package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	LedgerModeSimulated = "simulated"
	LedgerModeEthereum  = "ethereum"

	DatabaseDriverPostgres = "postgres"
	DatabaseDriverMemory   = "memory"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" envDefault:"clover-api"`
	Version                       string        `env:"APP_VERSION" envDefault:"dev"`
	Port                          int           `env:"PORT" envDefault:"3000"`
	LogLevel                      string        `env:"LOG_LEVEL" envDefault:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" envDefault:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" envDefault:"150"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" envDefault:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" envDefault:"60"`
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" envDefault:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" envDefault:"64000"` // 64KB
	AllowOrigins                  []string      `env:"HTTP_SERVER_ALLOW_ORIGINS" envDefault:"*"`
	AllowMethods                  []string      `env:"HTTP_SERVER_ALLOW_METHODS" envDefault:"GET,POST"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" envDefault:"5"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Database driver: postgres, or memory for local runs without a mirror database
	DatabaseDriver string `env:"DB_DRIVER" envDefault:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" envDefault:"localhost"`
	// Database port
	DatabasePort int `env:"DB_PORT" envDefault:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" envDefault:"postgres"`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" envDefault:""`
	// Database name
	DatabaseName string `env:"DB_NAME" envDefault:"clover"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" envDefault:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"10m"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" envDefault:"db/pg"`
	// Database Migration Version, zero migrates to the latest
	DatabaseMigrationVersion uint `env:"DB_MIGRATION_VERSION" envDefault:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" envDefault:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" envDefault:"true"`

	// Redis is optional. Without it locks are in-process and parked writes are only logged.
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	// Lock TTL bounds how long a crashed instance can block a batch
	RedisLockTTL time.Duration `env:"REDIS_LOCK_TTL" envDefault:"5m"`
	// Reconciliation stream
	ReconcileStream        string        `env:"RECONCILE_STREAM" envDefault:"clover:reconcile"`
	ReconcileConsumerGroup string        `env:"RECONCILE_CONSUMER_GROUP" envDefault:"clover-reconcilers"`
	ReconcileConsumerName  string        `env:"RECONCILE_CONSUMER_NAME" envDefault:""`
	ReconcileClaimMinIdle  time.Duration `env:"RECONCILE_CLAIM_MIN_IDLE" envDefault:"1m"`

	// Kafka brokers (comma-separated). Empty disables provenance events.
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:""`
	// Kafka topic for provenance events
	KafkaProvenanceTopic string `env:"KAFKA_PROVENANCE_TOPIC" envDefault:"clover-provenance"`

	// Ledger settings
	LedgerMode            string        `env:"LEDGER_MODE" envDefault:"simulated"`
	LedgerRPCURL          string        `env:"LEDGER_RPC_URL" envDefault:"http://localhost:8545"`
	LedgerChainID         int64         `env:"LEDGER_CHAIN_ID" envDefault:"1337"`
	LedgerContractAddress string        `env:"LEDGER_CONTRACT_ADDRESS" envDefault:""`
	LedgerPrivateKey      string        `env:"LEDGER_PRIVATE_KEY" envDefault:""`
	LedgerGasLimit        uint64        `env:"LEDGER_GAS_LIMIT" envDefault:"0"`
	LedgerConfirmTimeout  time.Duration `env:"LEDGER_CONFIRMATION_TIMEOUT" envDefault:"2m"`
	LedgerPollInterval    time.Duration `env:"LEDGER_POLL_INTERVAL" envDefault:"1s"`
	LedgerSendTimeout     time.Duration `env:"LEDGER_SEND_TIMEOUT" envDefault:"30s"`
	// Keystore holding stakeholder account keys
	KeystoreDir        string `env:"KEYSTORE_DIR" envDefault:"./keystore"`
	KeystorePassphrase string `env:"KEYSTORE_PASSPHRASE" envDefault:""`

	// collapse or destination
	TransferStatusPolicy string `env:"TRANSFER_STATUS_POLICY" envDefault:"collapse"`

	// Tracing settings
	// OTLP collector endpoint, empty keeps spans local
	OTLPEndpoint string `env:"OTLP_ENDPOINT" envDefault:""`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" envDefault:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" envDefault:"true"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrapf(err, "failed to load %s", f)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DatabaseDriverPostgres, DatabaseDriverMemory:
	default:
		return errors.Errorf("unknown DB_DRIVER %q", c.DatabaseDriver)
	}

	switch c.LedgerMode {
	case LedgerModeSimulated:
	case LedgerModeEthereum:
		if c.LedgerContractAddress == "" || c.LedgerPrivateKey == "" {
			return errors.New("LEDGER_CONTRACT_ADDRESS and LEDGER_PRIVATE_KEY are required in ethereum mode")
		}
	default:
		return errors.Errorf("unknown LEDGER_MODE %q", c.LedgerMode)
	}

	if c.KeystorePassphrase == "" && c.LedgerMode == LedgerModeEthereum {
		return errors.New("KEYSTORE_PASSPHRASE is required in ethereum mode")
	}
	return nil
}
