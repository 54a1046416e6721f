package rest

import (
	"net/http"

	"github.com/MiguelSchuhAlles/preanesth-app/interfaces/http/rest/handlers"
	"github.com/MiguelSchuhAlles/preanesth-app/interfaces/http/rest/middleware"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig holds the transport settings of the router
type RouterConfig struct {
	EnableCORS     bool
	AllowedOrigins []string
}

// Router creates and configures the HTTP router
type Router struct {
	operations    *handlers.OperationHandler
	health        *handlers.HealthHandler
	authenticator *middleware.Authenticator
	errors        *pkgerrors.ErrorHandler
	config        RouterConfig
	logger        *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	operations *handlers.OperationHandler,
	health *handlers.HealthHandler,
	authenticator *middleware.Authenticator,
	errs *pkgerrors.ErrorHandler,
	config RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		operations:    operations,
		health:        health,
		authenticator: authenticator,
		errors:        errs,
		config:        config,
		logger:        logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(middleware.RequestContext)
	router.Use(middleware.Logger(rt.logger))
	router.Use(rt.errors.Middleware)

	if rt.config.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.health.Health)
	router.Get("/ready", rt.health.Ready)

	router.Route("/v1", func(r chi.Router) {
		r.Use(rt.authenticator.Middleware)
		r.Get("/operations", rt.operations.List)
		r.Post("/operations", rt.operations.Invoke)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errors.Handle(w, r, pkgerrors.NewNotFoundError("route"))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.errors.Handle(w, r, pkgerrors.NewValidationError("method not allowed"))
	})

	return router
}
