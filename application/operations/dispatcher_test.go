package operations

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/audit"
	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/application/services"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/validators"
	store "github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/dynamodb"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/dynamodb/dynamotest"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

var testNow = time.Date(2025, 9, 28, 21, 0, 0, 0, time.UTC)

type harness struct {
	dispatcher *Dispatcher
	audit      *store.AuditRepository
}

func newHarness(t *testing.T, pipeline *Pipeline) *harness {
	t.Helper()
	clock := func() time.Time { return testNow }
	opts := store.Options{TableName: "preanesth-test", Timeout: time.Second, SequenceRetryLimit: 50, Clock: clock}
	table := dynamotest.New(schema.Layout(opts.TableName, opts.GSI1Name))
	logger := zap.NewNop()
	schemas := validators.NewSchemas(clock)
	client := store.NewClient(table, opts, schemas, logger)
	auditRepo := store.NewAuditRepository(client, logger)
	rs := services.NewRecordStore(services.Repositories{
		Institutions: store.NewInstitutionRepository(client, logger),
		Users:        store.NewUserRepository(client, logger),
		Patients:     store.NewPatientRepository(client, logger),
		Evaluations:  store.NewEvaluationRepository(client, logger),
		Audit:        auditRepo,
	}, audit.NewLogger(auditRepo, nil, logger), schemas, logger, services.WithClock(clock))
	return &harness{dispatcher: NewDispatcher(rs, pipeline), audit: auditRepo}
}

func request(role, user, operation string, params map[string]any) Request {
	return Request{InstitutionID: "H1", CallerUserID: user, CallerRole: role, Operation: operation, Parameters: params}
}

func (h *harness) must(t *testing.T, req Request) any {
	t.Helper()
	resp, err := h.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err, req.Operation)
	return resp.Result
}

func (h *harness) setup(t *testing.T) {
	t.Helper()
	h.must(t, request("Admin", "user-admin", "provisionInstitution", map[string]any{
		"name": "Hospital Um", "adminDisplayName": "Ana",
	}))
	h.must(t, request("Admin", "user-admin", "createUser", map[string]any{
		"userId": "user-clin", "role": "Clinician", "displayName": "Carla",
	}))
}

// roundTrip decodes the result as a client would see it.
func roundTrip(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestOperations_WireNames(t *testing.T) {
	h := newHarness(t, nil)
	seen := map[string]bool{}
	for _, op := range Operations() {
		name := op.String()
		assert.False(t, seen[name], "duplicate wire name %s", name)
		seen[name] = true

		parsed, err := ParseOperation(name)
		require.NoError(t, err)
		assert.Equal(t, op, parsed)
		assert.Contains(t, h.dispatcher.handlers, op, "no handler for %s", name)
		assert.True(t, op.Action().Valid())
	}
	_, err := ParseOperation("dropTable")
	assert.Error(t, err)
}

func TestDispatcher_UnknownOperation(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.dispatcher.Dispatch(context.Background(), request("Admin", "user-admin", "dropTable", nil))
	require.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, "operation", pkgerrors.GetAppError(err).Violations[0].Field)
}

func TestDispatcher_RegisterTwice(t *testing.T) {
	h := newHarness(t, nil)
	err := h.dispatcher.Register(GetPatient, HandlerFunc(func(context.Context, *Call) (any, error) { return nil, nil }))
	assert.Error(t, err)
}

func TestDispatcher_DuplicateCreateScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)

	req := request("Clinician", "user-clin", "createPatient", map[string]any{
		"name": "Maria Silva", "dateOfBirth": "1980-05-17", "cpf": "123.456.789-09",
	})
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.dispatcher.Dispatch(context.Background(), req)
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDuplicateCPF))
		}
	}
	assert.Equal(t, 1, failures)

	page := h.must(t, request("Clinician", "user-clin", "listPatients", nil)).(ports.Page[*entities.Patient])
	assert.Len(t, page.Items, 1)
}

func TestDispatcher_EvaluationScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)

	patient := h.must(t, request("Clinician", "user-clin", "createPatient", map[string]any{
		"name": "Maria Silva", "dateOfBirth": "1980-05-17", "cpf": "123.456.789-09",
	})).(*entities.Patient)

	created := roundTrip(t, h.must(t, request("Clinician", "user-clin", "createEvaluation", map[string]any{
		"patientId": patient.ID, "authorUserId": "user-clin", "payload": map[string]any{"asa": 2},
	})))
	id := created["evaluationId"].(string)
	assert.Equal(t, "Draft", created["status"])

	finalized := roundTrip(t, h.must(t, request("Clinician", "user-clin", "finalizeEvaluation", map[string]any{
		"patientId": patient.ID, "evaluationId": id,
	})))
	assert.Equal(t, "Finalized", finalized["status"])

	_, err := h.dispatcher.Dispatch(context.Background(), request("Clinician", "user-clin", "finalizeEvaluation", map[string]any{
		"patientId": patient.ID, "evaluationId": id,
	}))
	assert.True(t, pkgerrors.IsConflict(err))

	amended := roundTrip(t, h.must(t, request("Clinician", "user-clin", "amendEvaluation", map[string]any{
		"patientId": patient.ID, "evaluationId": id, "payload": map[string]any{"asa": 3},
	})))
	assert.Equal(t, "Amended", amended["status"])
	assert.Equal(t, id, amended["supersedes"])

	list := roundTrip(t, h.must(t, request("Clinician", "user-clin", "listEvaluations", map[string]any{
		"patientId": patient.ID, "limit": float64(10),
	})))
	items := list["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, id, items[0].(map[string]any)["evaluationId"])
	assert.Equal(t, map[string]any{"asa": float64(2)}, items[0].(map[string]any)["payload"])
	assert.Equal(t, amended["evaluationId"], items[1].(map[string]any)["evaluationId"])
}

func TestDispatcher_FinalizeMissingIsAudited(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)
	patient := h.must(t, request("Clinician", "user-clin", "createPatient", map[string]any{
		"name": "Maria Silva", "dateOfBirth": "1980-05-17", "cpf": "123.456.789-09",
	})).(*entities.Patient)

	_, err := h.dispatcher.Dispatch(context.Background(), request("Clinician", "user-clin", "finalizeEvaluation", map[string]any{
		"patientId": patient.ID, "evaluationId": "20250928T210000.000Z-000099",
	}))
	require.True(t, pkgerrors.IsNotFound(err))

	page, err := h.audit.ListAudit(context.Background(), entities.PatientTarget("H1", patient.ID), ports.PageRequest{})
	require.NoError(t, err)
	last := page.Items[len(page.Items)-1]
	assert.Equal(t, entities.ActionFinalize, last.Action)
	assert.Equal(t, entities.OutcomeFailure, last.Outcome.Status)
	assert.Equal(t, pkgerrors.CodeNotFound, last.Outcome.Code)
}

func TestDispatcher_UndecodableParametersAreAudited(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)

	tests := []struct {
		name   string
		req    Request
		field  string
		code   string
		action entities.AuditAction
	}{
		{
			name:   "wrong type",
			req:    request("Clinician", "user-clin", "createEvaluation", map[string]any{"patientId": 42, "payload": map[string]any{}}),
			field:  "patientId",
			code:   pkgerrors.CodeInvalidInput,
			action: entities.ActionCreate,
		},
		{
			name:   "unknown parameter",
			req:    request("Clinician", "user-clin", "getPatient", map[string]any{"patientId": "p-1", "cpf": "123.456.789-09"}),
			field:  "cpf",
			code:   pkgerrors.CodeInvalidInput,
			action: entities.ActionRead,
		},
		{
			name:   "fractional version",
			req:    request("Admin", "user-admin", "archivePatient", map[string]any{"patientId": "p-1", "expectedVersion": 1.5}),
			field:  "expectedVersion",
			code:   pkgerrors.CodeInvalidInput,
			action: entities.ActionUpdate,
		},
	}

	institution := entities.InstitutionTarget("H1")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.dispatcher.Dispatch(context.Background(), tt.req)
			require.True(t, pkgerrors.IsValidation(err), "got %v", err)
			assert.Equal(t, tt.field, pkgerrors.GetAppError(err).Violations[0].Field)

			page, err := h.audit.ListAudit(context.Background(), institution, ports.PageRequest{Limit: 100})
			require.NoError(t, err)
			last := page.Items[len(page.Items)-1]
			assert.Equal(t, tt.req.Operation, last.Operation)
			assert.Equal(t, tt.action, last.Action)
			assert.Equal(t, tt.code, last.Outcome.Code)
		})
	}
}

func TestDispatcher_AuthorMustBeCaller(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)

	_, err := h.dispatcher.Dispatch(context.Background(), request("Clinician", "user-clin", "createEvaluation", map[string]any{
		"patientId": "p-1", "authorUserId": "someone-else", "payload": map[string]any{"asa": 1},
	}))
	assert.True(t, pkgerrors.IsForbidden(err))
}

func TestDispatcher_UnknownRoleIsForbidden(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)

	_, err := h.dispatcher.Dispatch(context.Background(), request("Surgeon", "user-clin", "listPatients", nil))
	assert.True(t, pkgerrors.IsForbidden(err))
}

type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) RecordOperation(ctx context.Context, operation string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code := "OK"
	if err != nil {
		code = pkgerrors.CodeOf(err)
	}
	r.ops = append(r.ops, operation+":"+code)
}

func (r *recorder) RecordAuditFailure(ctx context.Context, operation string) {}

func TestPipeline(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, call *Call) (any, error) {
				order = append(order, name)
				return next.Handle(ctx, call)
			})
		}
	}
	rec := &recorder{}
	p := NewPipeline(mark("outer"), mark("inner"), MetricsMiddleware(rec), RecoveryMiddleware(zap.NewNop()))

	handler := p.Wrap(HandlerFunc(func(ctx context.Context, call *Call) (any, error) {
		order = append(order, "handler")
		panic("boom")
	}))
	_, err := handler.Handle(context.Background(), &Call{Operation: GetPatient, Params: NewParameters(nil)})

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInternal))
	assert.Equal(t, []string{"getPatient:INTERNAL"}, rec.ops)
}

func TestDispatcher_Middleware(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, NewPipeline(LoggingMiddleware(zap.NewNop()), MetricsMiddleware(rec)))
	h.setup(t)

	_, _ = h.dispatcher.Dispatch(context.Background(), request("Clinician", "user-clin", "getPatient", map[string]any{"patientId": "nobody"}))

	assert.Equal(t, []string{"provisionInstitution:OK", "createUser:OK", "getPatient:NOT_FOUND"}, rec.ops)
}

func TestParameters(t *testing.T) {
	p := NewParameters(map[string]any{
		"s": "x", "n": float64(3), "obj": map[string]any{"a": 1}, "nil": nil, "extra": true,
	})

	assert.Equal(t, "x", p.String("s"))
	assert.Equal(t, 3, *p.Int("n"))
	assert.Equal(t, map[string]any{"a": 1}, p.Object("obj"))
	assert.Equal(t, "", p.String("nil"))
	assert.Nil(t, p.Int("missing"))

	err := p.Err()
	require.True(t, pkgerrors.IsValidation(err))
	violations := pkgerrors.GetAppError(err).Violations
	require.Len(t, violations, 1)
	assert.Equal(t, "extra", violations[0].Field)
}
