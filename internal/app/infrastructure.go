package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/minwoneasy/minwon-api/internal/config"
	"github.com/minwoneasy/minwon-api/internal/idp"
	"github.com/minwoneasy/minwon-api/pkg/database"
	"github.com/minwoneasy/minwon-api/pkg/observability"
	"github.com/minwoneasy/minwon-api/pkg/storage"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const serviceName = "minwon"

type Infrastructure interface {
	Postgres() *database.Postgres
	Redis() *database.Redis
	Storage() *storage.MinIO
	IdentityProvider() *idp.Client
	Logger() *zap.Logger
	MetricsHandler() http.Handler
	MeterProvider() *metric.MeterProvider

	Shutdown(ctx context.Context) error
}

type infrastructure struct {
	postgres       *database.Postgres
	redis          *database.Redis
	storage        *storage.MinIO
	identity       *idp.Client
	logger         *zap.Logger
	metricsHandler http.Handler
	meterProvider  *metric.MeterProvider
}

var _ Infrastructure = &infrastructure{}

// NewInfrastructure connects every backing service. Any failure is fatal:
// the service cannot authenticate or store anything without them.
func NewInfrastructure(ctx context.Context, cfg config.Config) (*infrastructure, error) {
	i := &infrastructure{}

	logger, err := observability.InitLogger(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	i.logger = logger

	postgres, err := database.NewPostgres(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	i.postgres = postgres

	redis, err := database.NewRedis(ctx, cfg.Redis.Address(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		i.closeConnections()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	i.redis = redis

	minio, err := storage.NewMinIO(ctx, cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.Secure)
	if err != nil {
		i.closeConnections()
		return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	i.storage = minio

	identity, err := idp.Discover(ctx, idp.Config{
		IssuerURL:          cfg.OIDC.IssuerURL,
		ClientID:           cfg.OIDC.ClientID,
		ClientSecret:       cfg.OIDC.ClientSecret,
		RedirectURL:        cfg.CallbackURL(),
		SigningAlg:         cfg.OIDC.SigningAlg,
		DiscoveryTimeout:   cfg.OIDC.DiscoveryTimeout.Duration,
		HTTPTimeout:        cfg.OIDC.HTTPTimeout.Duration,
		InsecureSkipVerify: cfg.OIDC.InsecureSkipVerify,
	}, logger)
	if err != nil {
		i.closeConnections()
		return nil, fmt.Errorf("failed to discover identity provider: %w", err)
	}
	i.identity = identity

	meterProvider, metricsHandler, err := observability.InitTelemetry(serviceName)
	if err != nil {
		i.closeConnections()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	i.meterProvider = meterProvider
	i.metricsHandler = metricsHandler

	return i, nil
}

func (i *infrastructure) closeConnections() {
	if i.postgres != nil {
		_ = i.postgres.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

func (i *infrastructure) Postgres() *database.Postgres {
	return i.postgres
}

func (i *infrastructure) Redis() *database.Redis {
	return i.redis
}

func (i *infrastructure) Storage() *storage.MinIO {
	return i.storage
}

func (i *infrastructure) IdentityProvider() *idp.Client {
	return i.identity
}

func (i *infrastructure) Logger() *zap.Logger {
	return i.logger
}

func (i *infrastructure) MetricsHandler() http.Handler {
	return i.metricsHandler
}

func (i *infrastructure) MeterProvider() *metric.MeterProvider {
	return i.meterProvider
}

func (i *infrastructure) Shutdown(ctx context.Context) error {
	errs := make(chan error, 4)

	go func() { errs <- i.postgres.Close() }()
	go func() { errs <- i.redis.Close() }()
	go func() { errs <- i.logger.Sync() }()
	go func() { errs <- observability.Shutdown(ctx, i.meterProvider, i.logger) }()

	return errors.Join(<-errs, <-errs, <-errs, <-errs)
}
