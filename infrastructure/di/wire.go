//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/MiguelSchuhAlles/preanesth-app/application/operations"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/config"
	"github.com/MiguelSchuhAlles/preanesth-app/pkg/auth"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideErrorHandler,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideCloudWatchClient,
	ProvideSchemas,
	ProvideStoreClient,
	ProvideRepositories,
	ProvideMetrics,
	ProvideTracer,
	ProvideAuditLogger,
	ProvideRecordStore,
	ProvidePipeline,
	operations.NewDispatcher,
	ProvideJWTValidator,
	ProvideRateLimiter,
	wire.Bind(new(auth.RateLimiter), new(*auth.TokenBucketLimiter)),
	ProvideAuthenticator,
	ProvideOperationHandler,
	ProvideHealthHandler,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container. The cleanup releases
// background workers.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
