package middleware

import (
	"net/http"
	"time"

	"github.com/MiguelSchuhAlles/preanesth-app/pkg/common"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestContext copies chi's request id into the request context and echoes it
// back in the X-Request-ID response header. It must run after middleware.RequestID.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
			r.Header.Set("X-Request-ID", requestID)
		}
		ctx := common.WithRequestID(r.Context(), requestID)
		ctx = common.WithStartTime(ctx, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger creates a logging middleware. Durations are measured from RequestContext.
// Request bodies and query strings are never logged; they can carry patient data.
func Logger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("HTTP Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", common.GetElapsedTime(r.Context(), time.Now())),
				zap.String("requestID", middleware.GetReqID(r.Context())),
				zap.String("userAgent", r.UserAgent()),
			)
		})
	}
}
