package operations

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/pkg/common"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
	"github.com/MiguelSchuhAlles/preanesth-app/pkg/observability"
)

// LoggingMiddleware logs every call with its outcome code. Parameters are never logged.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, call *Call) (any, error) {
			start := time.Now()
			result, err := next.Handle(ctx, call)

			fields := []zap.Field{
				zap.String("operation", call.Operation.String()),
				zap.String("institutionID", call.Caller.InstitutionID),
				zap.String("callerUserID", call.Caller.UserID),
				zap.Duration("duration", time.Since(start)),
			}
			if requestID, ok := common.GetRequestID(ctx); ok {
				fields = append(fields, zap.String("requestID", requestID))
			}
			switch {
			case err == nil:
				logger.Info("Operation completed", fields...)
			case pkgerrors.IsTransientStorage(err) || pkgerrors.IsAuditFailure(err) || pkgerrors.CodeOf(err) == pkgerrors.CodeInternal:
				logger.Error("Operation failed", append(fields, zap.String("code", pkgerrors.CodeOf(err)), zap.Error(err))...)
			default:
				logger.Info("Operation rejected", append(fields, zap.String("code", pkgerrors.CodeOf(err)))...)
			}
			return result, err
		})
	}
}

// MetricsMiddleware records latency and outcome of every call.
func MetricsMiddleware(recorder observability.Recorder) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, call *Call) (any, error) {
			start := time.Now()
			result, err := next.Handle(ctx, call)
			recorder.RecordOperation(ctx, call.Operation.String(), time.Since(start), err)
			return result, err
		})
	}
}

// TracingMiddleware runs every call in its own subsegment annotated with the operation.
func TracingMiddleware(tracer *observability.Tracer) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, call *Call) (any, error) {
			var result any
			err := tracer.TraceFunction(ctx, "operation."+call.Operation.String(), func(ctx context.Context) error {
				tracer.AddAnnotation(ctx, "operation", call.Operation.String())
				tracer.AddAnnotation(ctx, "institution_id", call.Caller.InstitutionID)
				var err error
				result, err = next.Handle(ctx, call)
				return err
			})
			return result, err
		})
	}
}

// RecoveryMiddleware turns a panic inside a handler into an internal error.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, call *Call) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Operation panicked",
						zap.String("operation", call.Operation.String()),
						zap.Any("panic", r),
					)
					result, err = nil, pkgerrors.NewInternalError("unexpected failure")
				}
			}()
			return next.Handle(ctx, call)
		})
	}
}
