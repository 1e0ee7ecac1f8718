package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Environment   string `mapstructure:"ENVIRONMENT"`
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`

	// Partition store
	StoreBackend     string `mapstructure:"STORE_BACKEND"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	DynamoDBTable    string `mapstructure:"DYNAMODB_TABLE"`
	DynamoDBEndpoint string `mapstructure:"DYNAMODB_ENDPOINT"`
	AWSRegion        string `mapstructure:"AWS_REGION"`

	// Reconciliation
	PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`
	RepairGrace  time.Duration `mapstructure:"REPAIR_GRACE"`

	// Circuit breaker in front of the store
	BreakerFailureRatio float64       `mapstructure:"BREAKER_FAILURE_RATIO"`
	BreakerMinRequests  uint32        `mapstructure:"BREAKER_MIN_REQUESTS"`
	BreakerOpenTimeout  time.Duration `mapstructure:"BREAKER_OPEN_TIMEOUT"`

	SeedFile string `mapstructure:"SEED_FILE"`
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "development-secret")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DYNAMODB_TABLE", "researchhub-partitions")
	v.SetDefault("DYNAMODB_ENDPOINT", "")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("POLL_INTERVAL", "2s")
	v.SetDefault("REPAIR_GRACE", "1m")
	v.SetDefault("BREAKER_FAILURE_RATIO", 0.6)
	v.SetDefault("BREAKER_MIN_REQUESTS", 5)
	v.SetDefault("BREAKER_OPEN_TIMEOUT", "30s")
	v.SetDefault("SEED_FILE", "")
}

// LoadConfig loads the configuration from a .env file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Println("Warning: .env file not found, loading from environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the settings are usable together.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendDynamoDB:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.JWTSecret == "" || (c.IsProduction() && c.JWTSecret == "development-secret") {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	return nil
}

// IsProduction checks if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
