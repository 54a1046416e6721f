package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/audit"
	"github.com/MiguelSchuhAlles/preanesth-app/application/operations"
	"github.com/MiguelSchuhAlles/preanesth-app/application/services"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/validators"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/config"
	store "github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/dynamodb"
	"github.com/MiguelSchuhAlles/preanesth-app/interfaces/http/rest"
	"github.com/MiguelSchuhAlles/preanesth-app/interfaces/http/rest/handlers"
	"github.com/MiguelSchuhAlles/preanesth-app/interfaces/http/rest/middleware"
	"github.com/MiguelSchuhAlles/preanesth-app/pkg/auth"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
	"github.com/MiguelSchuhAlles/preanesth-app/pkg/observability"
)

const serviceName = "preanesth-app"

// rateLimiterSweep is how often idle rate limiter buckets are evicted
const rateLimiterSweep = 10 * time.Minute

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		zapCfg.Level = level
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", serviceName), zap.String("environment", cfg.Environment)), nil
}

// ProvideErrorHandler creates the HTTP error handler. Causes are only exposed outside production.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, !cfg.IsProduction())
}

// ProvideAWSConfig creates AWS configuration. With tracing on, every AWS call is
// recorded as an X-Ray subsegment.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.EnableTracing {
		awsv2.AWSV2Instrumentor(&awsCfg.APIOptions)
	}
	return awsCfg, nil
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config, cfg *config.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideSchemas creates the entity schemas
func ProvideSchemas() *validators.Schemas {
	return validators.NewSchemas(time.Now)
}

// ProvideStoreClient creates the record store client over the single table
func ProvideStoreClient(api *awsdynamodb.Client, cfg *config.Config, schemas *validators.Schemas, logger *zap.Logger) *store.Client {
	return store.NewClient(api, store.Options{
		TableName:               cfg.TableName,
		GSI1Name:                cfg.GSI1IndexName,
		Timeout:                 cfg.StorageTimeout,
		SequenceRetryLimit:      cfg.SequenceRetryLimit,
		BreakerFailureThreshold: uint32(cfg.BreakerFailureThreshold),
		PageSize:                cfg.PageSize,
	}, schemas, logger)
}

// ProvideRepositories creates every repository over one store client
func ProvideRepositories(client *store.Client, logger *zap.Logger) services.Repositories {
	return services.Repositories{
		Institutions: store.NewInstitutionRepository(client, logger),
		Users:        store.NewUserRepository(client, logger),
		Patients:     store.NewPatientRepository(client, logger),
		Evaluations:  store.NewEvaluationRepository(client, logger),
		Audit:        store.NewAuditRepository(client, logger),
	}
}

// ProvideMetrics creates the operation recorder. Metrics are published to CloudWatch
// only when enabled.
func ProvideMetrics(cfg *config.Config, client *awscloudwatch.Client, logger *zap.Logger) observability.Recorder {
	if !cfg.EnableMetrics {
		return observability.NopRecorder{}
	}
	namespace := fmt.Sprintf("%s/%s", cfg.MetricsNamespace, cfg.Environment)
	return observability.NewMetrics(namespace, client, logger)
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer(serviceName, cfg.EnableTracing)
}

// ProvideAuditLogger creates the audit logger
func ProvideAuditLogger(repos services.Repositories, metrics observability.Recorder, logger *zap.Logger) *audit.Logger {
	return audit.NewLogger(repos.Audit, metrics, logger)
}

// ProvideRecordStore creates the record store service
func ProvideRecordStore(repos services.Repositories, auditLog *audit.Logger, schemas *validators.Schemas, logger *zap.Logger) *services.RecordStore {
	return services.NewRecordStore(repos, auditLog, schemas, logger)
}

// ProvidePipeline creates the operation middleware chain, outermost first
func ProvidePipeline(logger *zap.Logger, metrics observability.Recorder, tracer *observability.Tracer) *operations.Pipeline {
	return operations.NewPipeline(
		operations.RecoveryMiddleware(logger),
		operations.LoggingMiddleware(logger),
		operations.MetricsMiddleware(metrics),
		operations.TracingMiddleware(tracer),
	)
}

// developmentJWTSecret signs local tokens when JWT_SECRET is unset outside production
const developmentJWTSecret = "development-secret-change-in-production"

// ProvideJWTValidator creates the bearer token validator
func ProvideJWTValidator(cfg *config.Config, logger *zap.Logger) (*auth.JWTValidator, error) {
	secret := cfg.JWTSecret
	if secret == "" && !cfg.IsProduction() {
		logger.Warn("JWT_SECRET not set, using the development secret")
		secret = developmentJWTSecret
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     secret,
		Issuer:        cfg.JWTIssuer,
		Leeway:        30 * time.Second,
	})
}

// ProvideRateLimiter creates the per-caller rate limiter. The cleanup stops its sweeper.
func ProvideRateLimiter(cfg *config.Config) (*auth.TokenBucketLimiter, func()) {
	limiter := auth.NewPerMinuteLimiter(cfg.RateLimitPerMinute)
	limiter.StartCleanup(rateLimiterSweep)
	return limiter, limiter.Stop
}

// ProvideAuthenticator creates the authentication middleware
func ProvideAuthenticator(validator *auth.JWTValidator, limiter auth.RateLimiter, errs *pkgerrors.ErrorHandler, logger *zap.Logger) *middleware.Authenticator {
	return middleware.NewAuthenticator(validator, limiter, errs, logger)
}

// ProvideOperationHandler creates the HTTP operation handler
func ProvideOperationHandler(dispatcher *operations.Dispatcher, errs *pkgerrors.ErrorHandler, logger *zap.Logger) *handlers.OperationHandler {
	return handlers.NewOperationHandler(dispatcher, errs, logger)
}

// ProvideHealthHandler creates the health handler. Readiness fails while the
// storage circuit breaker is open.
func ProvideHealthHandler(errs *pkgerrors.ErrorHandler, client *store.Client) *handlers.HealthHandler {
	return handlers.NewHealthHandler(errs, client.Ready)
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	cfg *config.Config,
	operationHandler *handlers.OperationHandler,
	health *handlers.HealthHandler,
	authenticator *middleware.Authenticator,
	errs *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(operationHandler, health, authenticator, errs, rest.RouterConfig{
		EnableCORS:     cfg.EnableCORS,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)
}
