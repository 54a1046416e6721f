package di

import (
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/operations"
	"github.com/MiguelSchuhAlles/preanesth-app/application/services"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/config"
	"github.com/MiguelSchuhAlles/preanesth-app/interfaces/http/rest"
	"github.com/MiguelSchuhAlles/preanesth-app/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	RecordStore *services.RecordStore
	Dispatcher  *operations.Dispatcher
	Router      *rest.Router
	Metrics     observability.Recorder
	Tracer      *observability.Tracer
}
