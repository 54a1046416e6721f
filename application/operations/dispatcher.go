package operations

import (
	"context"
	"fmt"
	"sync"

	"github.com/MiguelSchuhAlles/preanesth-app/application/services"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// Request is the inbound request object. The caller fields come from the authenticated
// boundary, never from the client payload.
type Request struct {
	InstitutionID string         `json:"institutionId"`
	CallerUserID  string         `json:"callerUserId"`
	CallerRole    string         `json:"callerRole"`
	Operation     string         `json:"operation"`
	Parameters    map[string]any `json:"parameters"`
}

// Response carries the result payload of a successful operation.
type Response struct {
	Operation Operation `json:"operation"`
	Result    any       `json:"result"`
}

// Call is one decoded request on its way through the pipeline.
type Call struct {
	Operation Operation
	Caller    services.Caller
	Params    *Parameters
}

// Handler executes a call
type Handler interface {
	Handle(ctx context.Context, call *Call) (any, error)
}

// HandlerFunc is an adapter to allow functions to be used as handlers
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, call *Call) (any, error) {
	return f(ctx, call)
}

// Middleware wraps a handler
type Middleware func(next Handler) Handler

// Pipeline chains multiple middleware together
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline creates a new middleware pipeline; the first middleware runs outermost.
func NewPipeline(middlewares ...Middleware) *Pipeline {
	return &Pipeline{middlewares: middlewares}
}

// Wrap applies the pipeline to handler
func (p *Pipeline) Wrap(handler Handler) Handler {
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		handler = p.middlewares[i](handler)
	}
	return handler
}

// Dispatcher routes requests to their handlers
type Dispatcher struct {
	handlers map[Operation]Handler
	pipeline *Pipeline
	mu       sync.RWMutex
}

// NewDispatcher creates a dispatcher serving every operation of the record store.
func NewDispatcher(store *services.RecordStore, pipeline *Pipeline) *Dispatcher {
	if pipeline == nil {
		pipeline = NewPipeline()
	}
	d := &Dispatcher{
		handlers: make(map[Operation]Handler),
		pipeline: pipeline,
	}
	for op, h := range recordStoreHandlers(store) {
		if err := d.Register(op, h); err != nil {
			panic(err)
		}
	}
	return d
}

// Register registers a handler for an operation
func (d *Dispatcher) Register(op Operation, handler Handler) error {
	if !op.Valid() {
		return fmt.Errorf("cannot register invalid operation %d", int(op))
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[op]; exists {
		return fmt.Errorf("handler already registered for operation %s", op)
	}
	d.handlers[op] = d.pipeline.Wrap(handler)
	return nil
}

// Dispatch decodes req and runs it. Errors always belong to the pkg/errors taxonomy.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	op, err := ParseOperation(req.Operation)
	if err != nil {
		return nil, pkgerrors.NewValidationError("unknown operation", pkgerrors.FieldViolation{
			Field:      "operation",
			Constraint: "oneof",
			Message:    err.Error(),
		})
	}

	d.mu.RLock()
	handler, exists := d.handlers[op]
	d.mu.RUnlock()
	if !exists {
		return nil, pkgerrors.NewInternalError(fmt.Sprintf("no handler registered for operation %s", op))
	}

	// An unrecognized role stays invalid and is refused by the store.
	role, _ := entities.ParseRole(req.CallerRole)
	call := &Call{
		Operation: op,
		Caller: services.Caller{
			UserID:        req.CallerUserID,
			InstitutionID: req.InstitutionID,
			Role:          role,
		},
		Params: NewParameters(req.Parameters),
	}

	result, err := handler.Handle(ctx, call)
	if err != nil {
		return nil, pkgerrors.Normalize(err)
	}
	return &Response{Operation: op, Result: result}, nil
}
