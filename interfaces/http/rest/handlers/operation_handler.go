package handlers

import (
	"context"
	"net/http"

	"github.com/MiguelSchuhAlles/preanesth-app/application/operations"
	"github.com/MiguelSchuhAlles/preanesth-app/pkg/common"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"

	"go.uber.org/zap"
)

// MaxRequestBytes bounds an operation request body. Evaluation payloads are the
// largest documents and stay well below it.
const MaxRequestBytes = 1 << 20

// Dispatcher runs a decoded operation request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req operations.Request) (*operations.Response, error)
}

// OperationHandler exposes the record store operations over HTTP
type OperationHandler struct {
	dispatcher Dispatcher
	errors     *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewOperationHandler creates a new operation handler
func NewOperationHandler(dispatcher Dispatcher, errs *pkgerrors.ErrorHandler, logger *zap.Logger) *OperationHandler {
	return &OperationHandler{
		dispatcher: dispatcher,
		errors:     errs,
		logger:     logger,
	}
}

// OperationRequest is the body of POST /v1/operations. The caller identity never
// comes from the body.
type OperationRequest struct {
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Invoke handles POST /v1/operations
func (h *OperationHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	identity, ok := common.GetIdentity(r.Context())
	if !ok {
		h.errors.Handle(w, r, pkgerrors.NewUnauthorizedError("missing caller identity"))
		return
	}

	var req OperationRequest
	if err := common.ParseJSONBody(w, r, &req, MaxRequestBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("request body is not a valid operation request", pkgerrors.FieldViolation{
			Field:      "body",
			Constraint: "json",
			Message:    err.Error(),
		}))
		return
	}

	resp, err := h.dispatcher.Dispatch(r.Context(), operations.Request{
		InstitutionID: identity.InstitutionID,
		CallerUserID:  identity.UserID,
		CallerRole:    identity.Role,
		Operation:     req.Operation,
		Parameters:    req.Parameters,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondWithMeta(w, http.StatusOK, resp.Result, &common.MetaInfo{
		RequestID: common.ExtractRequestID(r),
		Operation: resp.Operation.String(),
	})
}

// List handles GET /v1/operations
func (h *OperationHandler) List(w http.ResponseWriter, r *http.Request) {
	ops := operations.Operations()
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.String())
	}
	common.RespondJSON(w, http.StatusOK, names)
}
