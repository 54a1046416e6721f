package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MiguelSchuhAlles/preanesth-app/pkg/auth"
	"github.com/MiguelSchuhAlles/preanesth-app/pkg/common"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"

	"go.uber.org/zap"
)

// Authenticator validates bearer tokens and applies the per-caller rate limit.
// The caller identity it attaches to the request context is the only source of
// institution, user and role for the operations behind it.
type Authenticator struct {
	validator *auth.JWTValidator
	limiter   auth.RateLimiter
	errors    *pkgerrors.ErrorHandler
	logger    *zap.Logger
}

// NewAuthenticator creates the authentication middleware
func NewAuthenticator(validator *auth.JWTValidator, limiter auth.RateLimiter, errs *pkgerrors.ErrorHandler, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		validator: validator,
		limiter:   limiter,
		errors:    errs,
		logger:    logger,
	}
}

// Middleware rejects unauthenticated requests with 401 and callers over their
// budget with 429.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			a.errors.Handle(w, r, pkgerrors.NewUnauthorizedError("missing bearer token"))
			return
		}

		claims, err := a.validator.ValidateToken(token)
		if err != nil {
			a.logger.Warn("Invalid token",
				zap.Error(err),
				zap.String("path", r.URL.Path),
			)
			a.errors.Handle(w, r, pkgerrors.NewUnauthorizedError(tokenMessage(err)))
			return
		}

		identity := common.Identity{
			UserID:        claims.UserID,
			InstitutionID: claims.InstitutionID,
			Role:          claims.Role,
		}

		allowed, err := a.limiter.Allow(r.Context(), identity.Key())
		if err != nil {
			a.errors.Handle(w, r, pkgerrors.NewInternalError("rate limiter unavailable").WithCause(err))
			return
		}
		if !allowed {
			a.errors.Handle(w, r, pkgerrors.NewRateLimitedError())
			return
		}

		a.logger.Debug("Request authenticated",
			zap.String("user_id", identity.UserID),
			zap.String("institution_id", identity.InstitutionID),
			zap.String("method", r.Method),
		)

		next.ServeHTTP(w, r.WithContext(common.WithIdentity(r.Context(), identity)))
	})
}

func tokenMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "token has expired"
	case errors.Is(err, auth.ErrInvalidSignature):
		return "invalid token signature"
	case errors.Is(err, auth.ErrInvalidClaims):
		return "token is missing caller claims"
	default:
		return "invalid token"
	}
}

// extractToken reads the bearer token from the Authorization header
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
