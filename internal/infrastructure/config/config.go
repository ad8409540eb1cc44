package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the custody engine
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Email       EmailConfig    `mapstructure:"email"`
	Custody     CustodyConfig  `mapstructure:"custody"`
	Chains      ChainsConfig   `mapstructure:"chains"`
	Workers     WorkerConfig   `mapstructure:"workers"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type EmailConfig struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// CustodyConfig covers key handling for platform wallets
type CustodyConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// ChainsConfig carries per-chain node endpoints and policy
type ChainsConfig struct {
	Solana SolanaConfig `mapstructure:"solana"`
	Monero MoneroConfig `mapstructure:"monero"`
	EVM    EVMConfig    `mapstructure:"evm"`
	Tron   TronConfig   `mapstructure:"tron"`
	UTXO   UTXOConfig   `mapstructure:"utxo"`
}

type SolanaConfig struct {
	RPCEndpoint        string `mapstructure:"rpc_endpoint"`
	WSEndpoint         string `mapstructure:"ws_endpoint"`
	ConfirmAttempts    int    `mapstructure:"confirm_attempts"`
	ConfirmIntervalSec int    `mapstructure:"confirm_interval_sec"`
}

type MoneroConfig struct {
	WalletRPCEndpoint string `mapstructure:"wallet_rpc_endpoint"`
	DaemonRPCEndpoint string `mapstructure:"daemon_rpc_endpoint"`
	ConfirmThreshold  uint64 `mapstructure:"confirm_threshold"`
}

type EVMConfig struct {
	Endpoints        map[string]string `mapstructure:"endpoints"` // chain -> RPC URL
	ConfirmThreshold uint64            `mapstructure:"confirm_threshold"`
}

type TronConfig struct {
	APIEndpoint string `mapstructure:"api_endpoint"`
}

type UTXOConfig struct {
	Endpoints        map[string]string `mapstructure:"endpoints"` // chain -> node RPC URL
	RPCUser          string            `mapstructure:"rpc_user"`
	RPCPassword      string            `mapstructure:"rpc_password"`
	ConfirmThreshold uint64            `mapstructure:"confirm_threshold"`
}

// WorkerConfig bounds the background loops
type WorkerConfig struct {
	DepositPollInterval  time.Duration `mapstructure:"deposit_poll_interval"`
	DepositMaxAttempts   int           `mapstructure:"deposit_max_attempts"`
	DepositIdleTimeout   time.Duration `mapstructure:"deposit_idle_timeout"`
	StaleSweepSchedule   string        `mapstructure:"stale_sweep_schedule"`
	StaleProcessingAfter time.Duration `mapstructure:"stale_processing_after"`
	ReconcileOnStartup   bool          `mapstructure:"reconcile_on_startup"`
}

// Load reads configuration from config.yaml, .env, and environment variables
func Load() (*Config, error) {
	// .env is optional
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "custody_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)
	viper.SetDefault("database.migrations_path", "migrations")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("email.provider", "sendgrid")
	viper.SetDefault("email.from_email", "no-reply@coinrail.io")
	viper.SetDefault("email.from_name", "Coinrail")

	viper.SetDefault("chains.solana.confirm_attempts", 10)
	viper.SetDefault("chains.solana.confirm_interval_sec", 3)
	viper.SetDefault("chains.monero.confirm_threshold", 6)
	viper.SetDefault("chains.evm.confirm_threshold", 12)
	viper.SetDefault("chains.utxo.confirm_threshold", 3)

	viper.SetDefault("workers.deposit_poll_interval", 30*time.Second)
	viper.SetDefault("workers.deposit_max_attempts", 120)
	viper.SetDefault("workers.deposit_idle_timeout", 15*time.Minute)
	viper.SetDefault("workers.stale_sweep_schedule", "@every 5m")
	viper.SetDefault("workers.stale_processing_after", 30*time.Minute)
	viper.SetDefault("workers.reconcile_on_startup", true)
}

func validate(cfg *Config) error {
	if cfg.Environment == "production" {
		if cfg.Custody.MasterKey == "" {
			return fmt.Errorf("custody.master_key is required in production")
		}
		if cfg.Email.APIKey == "" {
			return fmt.Errorf("email.api_key is required in production")
		}
	}
	if cfg.Workers.DepositMaxAttempts <= 0 {
		return fmt.Errorf("workers.deposit_max_attempts must be positive")
	}
	return nil
}
