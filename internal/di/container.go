// Package di assembles the application's services from configuration.
package di

import (
	"context"
	"fmt"

	"researchhub/backend/internal/config"
	"researchhub/backend/internal/conversation"
	"researchhub/backend/internal/database"
	"researchhub/backend/internal/directory"
	"researchhub/backend/internal/handler"
	"researchhub/backend/internal/hub"
	"researchhub/backend/internal/metrics"
	"researchhub/backend/internal/notify"
	"researchhub/backend/internal/reconcile"
	"researchhub/backend/internal/seed"
	"researchhub/backend/internal/social"
	"researchhub/backend/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "researchhub"

// Container holds the wired services.
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *metrics.Collector
	Backend       store.PartitionStore
	Partitions    *store.Partitions
	Directory     *directory.Directory
	Notifications *notify.Fanout
	Registry      *social.Registry
	Engine        *social.Engine
	Conversations *conversation.Store
	Feed          *reconcile.PollingFeed
	Hub           *hub.Hub
	Seeder        *seed.Seeder

	closers []func() error
}

// Build wires every service on top of the configured store backend.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewCollector(MetricsNamespace),
	}

	backend, err := c.provideBackend(ctx)
	if err != nil {
		return nil, err
	}
	c.Backend = store.NewBreakerStore(backend, ProvideBreakerConfig(cfg), c.Metrics, logger.Named("store"))
	c.Partitions = store.NewPartitions(c.Backend)

	c.Directory = directory.New(c.Partitions, logger.Named("directory"))
	c.Notifications = notify.NewFanout(c.Partitions, c.Metrics, logger.Named("notify"))
	c.Registry = social.NewRegistry(c.Partitions, c.Metrics, logger.Named("registry"), cfg.RepairGrace)
	c.Engine = social.NewEngine(c.Partitions, c.Directory, c.Registry, c.Notifications, c.Metrics, logger.Named("requests"))
	c.Conversations = conversation.NewStore(c.Partitions, c.Directory, c.Notifications, c.Metrics, logger.Named("conversation"))
	c.Feed = reconcile.NewPollingFeed(reconcile.Sources{
		Notifications: c.Notifications,
		Requests:      c.Engine,
		Connections:   c.Registry,
		Directory:     c.Directory,
		Conversations: c.Conversations,
	}, cfg.PollInterval, c.Metrics, logger.Named("reconcile"))
	c.Hub = hub.NewHub(logger.Named("hub"))
	c.Seeder = seed.NewSeeder(c.Partitions, c.Directory, c.Registry, logger.Named("seed"))

	return c, nil
}

// Handler builds the HTTP handler over the container's services.
func (c *Container) Handler() *handler.Handler {
	return handler.New(handler.Deps{
		Directory:     c.Directory,
		Engine:        c.Engine,
		Registry:      c.Registry,
		Notifications: c.Notifications,
		Conversations: c.Conversations,
		Feed:          c.Feed,
		Hub:           c.Hub,
		Metrics:       c.Metrics,
		Logger:        c.Logger.Named("http"),
		JWTSecret:     c.Config.JWTSecret,
	})
}

// Close releases backend connections.
func (c *Container) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

func (c *Container) provideBackend(ctx context.Context) (store.PartitionStore, error) {
	switch c.Config.StoreBackend {
	case config.BackendMemory, "":
		c.Logger.Info("Using in-memory partition store")
		return store.NewMemoryStore(), nil

	case config.BackendPostgres:
		db, err := database.Connect(c.Config.DatabaseURL, c.Logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		c.closers = append(c.closers, sqlDB.Close)
		return store.NewGormStore(db), nil

	case config.BackendDynamoDB:
		awsCfg, err := ProvideAWSConfig(ctx, c.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		c.Logger.Info("Using DynamoDB partition store", zap.String("table", c.Config.DynamoDBTable))
		return store.NewDynamoStore(ProvideDynamoDBClient(awsCfg, c.Config.DynamoDBEndpoint), c.Config.DynamoDBTable), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Config.StoreBackend)
	}
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client. A non-empty endpoint points it at a
// local emulator.
func ProvideDynamoDBClient(awsCfg aws.Config, endpoint string) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// ProvideBreakerConfig maps the configured thresholds onto the store breaker.
func ProvideBreakerConfig(cfg *config.Config) store.BreakerConfig {
	bc := store.DefaultBreakerConfig("partition-store")
	if cfg.BreakerFailureRatio > 0 {
		bc.FailureRatio = cfg.BreakerFailureRatio
	}
	if cfg.BreakerMinRequests > 0 {
		bc.MinRequests = cfg.BreakerMinRequests
	}
	if cfg.BreakerOpenTimeout > 0 {
		bc.OpenTimeout = cfg.BreakerOpenTimeout
	}
	return bc
}
