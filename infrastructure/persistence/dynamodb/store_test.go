package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/validators"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/dynamodb/dynamotest"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

var testNow = time.Date(2025, 9, 28, 21, 0, 0, 0, time.UTC)

const (
	testInstitution = "inst-a"
	testClinician   = "user-clin"
)

type testStore struct {
	table        *dynamotest.Table
	client       *Client
	institutions *InstitutionRepository
	users        *UserRepository
	patients     *PatientRepository
	evaluations  *EvaluationRepository
	audit        *AuditRepository
}

func newTestStore(t *testing.T, configure ...func(*Options)) *testStore {
	t.Helper()
	opts := Options{
		TableName: "preanesth-test",
		Timeout:   time.Second,
		Clock:     func() time.Time { return testNow },
	}
	for _, fn := range configure {
		fn(&opts)
	}
	table := dynamotest.New(schema.Layout(opts.TableName, opts.GSI1Name))
	logger := zap.NewNop()
	client := NewClient(table, opts, validators.NewSchemas(opts.Clock), logger)
	return &testStore{
		table:        table,
		client:       client,
		institutions: NewInstitutionRepository(client, logger),
		users:        NewUserRepository(client, logger),
		patients:     NewPatientRepository(client, logger),
		evaluations:  NewEvaluationRepository(client, logger),
		audit:        NewAuditRepository(client, logger),
	}
}

func successEntry(action entities.AuditAction, operation string, target entities.TargetRef) *entities.AuditEntry {
	return &entities.AuditEntry{
		InstitutionID: target.InstitutionID,
		PerformedBy:   testClinician,
		Action:        action,
		Operation:     operation,
		Target:        target,
		Outcome:       entities.Succeeded(),
	}
}

func mustCPF(t *testing.T, raw string) valueobjects.CPF {
	t.Helper()
	cpf, err := valueobjects.ParseCPF(raw)
	require.NoError(t, err)
	return cpf
}

func (s *testStore) createPatient(t *testing.T, id, cpf string) *entities.Patient {
	t.Helper()
	p := entities.NewPatient(id, testInstitution, entities.PatientFields{
		Name:        "Maria Silva",
		DateOfBirth: time.Date(1980, 5, 17, 0, 0, 0, 0, time.UTC),
		CPF:         mustCPF(t, cpf),
	}, testNow)
	err := s.patients.CreatePatient(context.Background(), p,
		successEntry(entities.ActionCreate, "createPatient", entities.PatientTarget(testInstitution, id)))
	require.NoError(t, err)
	return p
}

func (s *testStore) createDraft(t *testing.T, patient *entities.Patient) *entities.Evaluation {
	t.Helper()
	e, err := s.evaluations.CreateEvaluation(context.Background(), patient, draftFactory(patient),
		successEntry(entities.ActionCreate, "createEvaluation", entities.EvaluationTarget(testInstitution, patient.ID, "")))
	require.NoError(t, err)
	return e
}

func draftFactory(patient *entities.Patient) ports.EvaluationFactory {
	return func(id valueobjects.Token) (*entities.Evaluation, error) {
		return entities.NewDraftEvaluation(id, patient.ID, patient.InstitutionID, testClinician,
			json.RawMessage(`{"asa":2}`), testNow.AddDate(20, 0, 0), testNow), nil
	}
}

func TestPatientRepository_CreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := s.createPatient(t, "p-1", "123.456.789-09")

	got, err := s.patients.GetPatient(ctx, testInstitution, "p-1")
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, valueobjects.CPF("12345678909"), got.CPF)
	assert.Equal(t, 1, got.Version)

	byCPF, err := s.patients.FindPatientByCPF(ctx, testInstitution, "12345678909")
	require.NoError(t, err)
	assert.Equal(t, "p-1", byCPF.ID)

	// The audit entry landed in the patient's partition together with the record
	assert.Equal(t, 1, s.table.Count(schema.PatientPartition("p-1"), "AUDIT#"))
	assert.NotNil(t, s.table.Item(schema.SequenceKey(schema.PatientPartition("p-1"))))
}

func TestPatientRepository_GetOtherInstitution(t *testing.T) {
	s := newTestStore(t)
	s.createPatient(t, "p-1", "123.456.789-09")

	_, err := s.patients.GetPatient(context.Background(), "inst-b", "p-1")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPatientRepository_ConcurrentDuplicateCPF(t *testing.T) {
	s := newTestStore(t)
	const writers = 12

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []string
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p-%02d", i)
			p := entities.NewPatient(id, testInstitution, entities.PatientFields{
				Name:        "Same Person",
				DateOfBirth: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
				CPF:         "52998224725",
			}, testNow)
			err := s.patients.CreatePatient(context.Background(), p,
				successEntry(entities.ActionCreate, "createPatient", entities.PatientTarget(testInstitution, id)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded = append(succeeded, id)
			case pkgerrors.HasCode(err, pkgerrors.CodeDuplicateCPF):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, succeeded, 1)
	assert.Equal(t, writers-1, conflicts)

	page, err := s.patients.ListPatients(context.Background(), testInstitution, ports.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, succeeded[0], page.Items[0].ID)

	// Losers leave no audit entry behind: their transactions were cancelled as a whole
	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("p-%02d", i)
		if id == succeeded[0] {
			continue
		}
		assert.Zero(t, s.table.Count(schema.PatientPartition(id), "AUDIT#"), id)
	}
}

func TestPatientRepository_UpdateMovesCPFGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := s.createPatient(t, "p-1", "123.456.789-09")

	newCPF := mustCPF(t, "111.444.777-35")
	previous, err := p.Apply(entities.PatientUpdate{CPF: &newCPF}, testNow)
	require.NoError(t, err)
	err = s.patients.UpdatePatient(ctx, p, previous, 1,
		successEntry(entities.ActionUpdate, "updatePatient", entities.PatientTarget(testInstitution, "p-1")))
	require.NoError(t, err)

	assert.Nil(t, s.table.Item(schema.CPFGuardKey(testInstitution, "12345678909")))
	assert.NotNil(t, s.table.Item(schema.CPFGuardKey(testInstitution, "11144477735")))

	// The released cpf can be taken by another patient
	s.createPatient(t, "p-2", "123.456.789-09")
}

func TestPatientRepository_UpdateConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.createPatient(t, "p-1", "123.456.789-09")
	s.createPatient(t, "p-2", "111.444.777-35")
	target := entities.PatientTarget(testInstitution, "p-1")

	t.Run("stale version", func(t *testing.T) {
		p, err := s.patients.GetPatient(ctx, testInstitution, "p-1")
		require.NoError(t, err)
		name := "Maria S."
		_, err = p.Apply(entities.PatientUpdate{Name: &name}, testNow)
		require.NoError(t, err)

		err = s.patients.UpdatePatient(ctx, p, p.CPF, 7, successEntry(entities.ActionUpdate, "updatePatient", target))
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeVersionMismatch))
	})

	t.Run("cpf taken", func(t *testing.T) {
		p, err := s.patients.GetPatient(ctx, testInstitution, "p-1")
		require.NoError(t, err)
		taken := valueobjects.CPF("11144477735")
		previous, err := p.Apply(entities.PatientUpdate{CPF: &taken}, testNow)
		require.NoError(t, err)

		err = s.patients.UpdatePatient(ctx, p, previous, 1, successEntry(entities.ActionUpdate, "updatePatient", target))
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDuplicateCPF))
	})

	t.Run("archived", func(t *testing.T) {
		p, err := s.patients.GetPatient(ctx, testInstitution, "p-1")
		require.NoError(t, err)
		require.NoError(t, p.Archive(testNow))
		require.NoError(t, s.patients.UpdatePatient(ctx, p, p.CPF, 1, successEntry(entities.ActionUpdate, "archivePatient", target)))

		// A writer still holding the pre-archive copy
		stale, err := s.patients.GetPatient(ctx, testInstitution, "p-1")
		require.NoError(t, err)
		stale.Archived = false
		name := "Too late"
		_, err = stale.Apply(entities.PatientUpdate{Name: &name}, testNow)
		require.NoError(t, err)

		err = s.patients.UpdatePatient(ctx, stale, stale.CPF, 2, successEntry(entities.ActionUpdate, "updatePatient", target))
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePatientArchived))
	})
}

func TestEvaluationRepository_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	patient := s.createPatient(t, "p-1", "123.456.789-09")
	draft := s.createDraft(t, patient)

	assert.True(t, draft.ID().Valid())
	assert.Equal(t, entities.StatusDraft, draft.Status())
	target := entities.EvaluationTarget(testInstitution, patient.ID, draft.ID().String())

	require.NoError(t, draft.UpdatePayload(json.RawMessage(`{"asa":3}`), testNow))
	require.NoError(t, s.evaluations.SaveDraft(ctx, draft, 1, successEntry(entities.ActionUpdate, "updateEvaluation", target)))

	require.NoError(t, draft.Finalize(testClinician, "", false, testNow))
	require.NoError(t, s.evaluations.SaveDraft(ctx, draft, 2, successEntry(entities.ActionFinalize, "finalizeEvaluation", target)))

	stored, err := s.evaluations.GetEvaluation(ctx, patient.ID, draft.ID())
	require.NoError(t, err)
	assert.Equal(t, entities.StatusFinalized, stored.Status())
	assert.JSONEq(t, `{"asa":3}`, string(stored.Payload()))
	assert.Equal(t, 3, stored.Version())

	t.Run("finalize again", func(t *testing.T) {
		stale := entities.ReconstructEvaluation(draftStateAt(draft, 2))
		require.NoError(t, stale.Finalize(testClinician, "", false, testNow))
		err := s.evaluations.SaveDraft(ctx, stale, 2, successEntry(entities.ActionFinalize, "finalizeEvaluation", target))
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAlreadyFinalized))
	})

	t.Run("edit after finalize", func(t *testing.T) {
		stale := entities.ReconstructEvaluation(draftStateAt(draft, 2))
		require.NoError(t, stale.UpdatePayload(json.RawMessage(`{"asa":4}`), testNow))
		err := s.evaluations.SaveDraft(ctx, stale, 2, successEntry(entities.ActionUpdate, "updateEvaluation", target))
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeEvaluationLocked))
	})

	// Patient and evaluation creation, update and finalize; failed attempts write nothing
	assert.Equal(t, 4, s.table.Count(schema.PatientPartition(patient.ID), "AUDIT#"))
}

// draftStateAt returns a copy of e as a draft at version.
func draftStateAt(e *entities.Evaluation, version int) entities.EvaluationState {
	state := e.State()
	state.Status = entities.StatusDraft
	state.FinalizedAt = nil
	state.FinalizedBy = ""
	state.Version = version
	return state
}

func TestEvaluationRepository_CreateForArchivedPatient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	patient := s.createPatient(t, "p-1", "123.456.789-09")
	snapshot := *patient

	require.NoError(t, patient.Archive(testNow))
	require.NoError(t, s.patients.UpdatePatient(ctx, patient, patient.CPF, 1,
		successEntry(entities.ActionUpdate, "archivePatient", entities.PatientTarget(testInstitution, "p-1"))))

	_, err := s.evaluations.CreateEvaluation(ctx, &snapshot, draftFactory(&snapshot),
		successEntry(entities.ActionCreate, "createEvaluation", entities.EvaluationTarget(testInstitution, "p-1", "")))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePatientArchived))

	missing := entities.NewPatient("p-missing", testInstitution, entities.PatientFields{}, testNow)
	_, err = s.evaluations.CreateEvaluation(ctx, missing, draftFactory(missing),
		successEntry(entities.ActionCreate, "createEvaluation", entities.EvaluationTarget(testInstitution, "p-missing", "")))
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestEvaluationRepository_AmendOnce(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.SequenceRetryLimit = 50 })
	ctx := context.Background()
	patient := s.createPatient(t, "p-1", "123.456.789-09")
	original := s.createDraft(t, patient)
	require.NoError(t, original.Finalize(testClinician, "", false, testNow))
	require.NoError(t, s.evaluations.SaveDraft(ctx, original, 1, successEntry(entities.ActionFinalize, "finalizeEvaluation",
		entities.EvaluationTarget(testInstitution, patient.ID, original.ID().String()))))

	amendFactory := func(id valueobjects.Token) (*entities.Evaluation, error) {
		return original.Amend(id, testClinician, json.RawMessage(`{"asa":1}`), testNow.AddDate(20, 0, 0), testNow)
	}

	const writers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		amended   []*entities.Evaluation
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := s.evaluations.AmendEvaluation(ctx, original, amendFactory,
				successEntry(entities.ActionAmend, "amendEvaluation", entities.EvaluationTarget(testInstitution, patient.ID, "")))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				amended = append(amended, e)
			case pkgerrors.HasCode(err, pkgerrors.CodeAlreadySuperseded):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, amended, 1)
	assert.Equal(t, writers-1, conflicts)
	assert.Equal(t, original.ID(), amended[0].Supersedes())
	assert.Equal(t, entities.StatusAmended, amended[0].Status())

	stored, err := s.evaluations.GetEvaluation(ctx, patient.ID, original.ID())
	require.NoError(t, err)
	assert.Equal(t, entities.StatusFinalized, stored.Status())
}

func TestEvaluationRepository_ConcurrentCreatesStayOrdered(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.SequenceRetryLimit = 100 })
	ctx := context.Background()
	patient := s.createPatient(t, "p-1", "123.456.789-09")

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.evaluations.CreateEvaluation(ctx, patient, draftFactory(patient),
				successEntry(entities.ActionCreate, "createEvaluation", entities.EvaluationTarget(testInstitution, patient.ID, "")))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var (
		ids   []valueobjects.Token
		token string
	)
	for {
		page, err := s.evaluations.ListEvaluations(ctx, patient.ID, ports.PageRequest{Token: token, Limit: 3})
		require.NoError(t, err)
		for _, e := range page.Items {
			ids = append(ids, e.ID())
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	require.Len(t, ids, writers)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1].String(), ids[i].String())
	}

	var lazy []valueobjects.Token
	for it, err := range s.evaluations.Evaluations(ctx, patient.ID, "") {
		require.NoError(t, err)
		lazy = append(lazy, it.Value.ID())
	}
	assert.Equal(t, ids, lazy)

	// Evaluation tokens and audit tokens share the partition sequence and never collide
	assert.Equal(t, 1+writers, s.table.Count(schema.PatientPartition(patient.ID), "AUDIT#"))
}

func TestEvaluationRepository_ResumeLazyListing(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.PageSize = 2 })
	ctx := context.Background()
	patient := s.createPatient(t, "p-1", "123.456.789-09")

	const total = 5
	var want []valueobjects.Token
	for i := 0; i < total; i++ {
		want = append(want, s.createDraft(t, patient).ID())
	}

	for _, stopAfter := range []int{1, 2, 3, total} {
		t.Run(fmt.Sprintf("stop after %d", stopAfter), func(t *testing.T) {
			var (
				got   []valueobjects.Token
				token string
			)
			for it, err := range s.evaluations.Evaluations(ctx, patient.ID, "") {
				require.NoError(t, err)
				got = append(got, it.Value.ID())
				token = it.PageToken
				if len(got) == stopAfter {
					break
				}
			}
			for it, err := range s.evaluations.Evaluations(ctx, patient.ID, token) {
				require.NoError(t, err)
				got = append(got, it.Value.ID())
			}
			assert.Equal(t, want, got)
		})
	}

	t.Run("pages end without an empty tail", func(t *testing.T) {
		first, err := s.evaluations.ListEvaluations(ctx, patient.ID, ports.PageRequest{Limit: 3})
		require.NoError(t, err)
		require.Len(t, first.Items, 3)
		require.NotEmpty(t, first.NextToken)

		rest, err := s.evaluations.ListEvaluations(ctx, patient.ID, ports.PageRequest{Token: first.NextToken, Limit: 2})
		require.NoError(t, err)
		require.Len(t, rest.Items, 2)
		assert.Equal(t, want[3:], []valueobjects.Token{rest.Items[0].ID(), rest.Items[1].ID()})
		assert.Empty(t, rest.NextToken)
	})

	t.Run("token from another patient", func(t *testing.T) {
		other := s.createPatient(t, "p-2", "529.982.247-25")
		var token string
		for it, err := range s.evaluations.Evaluations(ctx, patient.ID, "") {
			require.NoError(t, err)
			token = it.PageToken
			break
		}
		_, err := s.evaluations.ListEvaluations(ctx, other.ID, ports.PageRequest{Token: token})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidPageToken))
	})
}

func TestClient_SequenceContentionExhaustsRetries(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.SequenceRetryLimit = 3 })
	partition := schema.PatientPartition("p-1")

	// Another writer advances the sequence between every read and commit
	var bumps int
	s.table.SetHook(func(_ context.Context, op string, _ any) error {
		if op != dynamotest.OpTransactWriteItems {
			return nil
		}
		bumps++
		key := schema.SequenceKey(partition)
		item, err := attributevalue.MarshalMap(sequenceItem{
			PK: key.PK, SK: key.SK, EntityType: entitySequence,
			LastToken: valueobjects.FormatToken(testNow.Add(time.Hour), bumps).String(),
			UpdatedAt: formatTime(testNow),
		})
		if err != nil {
			return err
		}
		return s.table.Seed(item)
	})

	p := entities.NewPatient("p-1", testInstitution, entities.PatientFields{
		Name: "Maria", DateOfBirth: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC), CPF: "12345678909",
	}, testNow)
	err := s.patients.CreatePatient(context.Background(), p,
		successEntry(entities.ActionCreate, "createPatient", entities.PatientTarget(testInstitution, "p-1")))

	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransientStorage(err))
	assert.Equal(t, 3, s.table.Calls(dynamotest.OpTransactWriteItems))
	assert.Nil(t, s.table.Item(schema.PatientKey(testInstitution, "p-1")))
}

// conflictOn cancels the next n transactions that touch an item matching key, reporting a
// TransactionConflict on that item. before runs ahead of each cancellation.
func conflictOn(t *testing.T, n int, match func(schema.Key) bool, before func()) dynamotest.Hook {
	var mu sync.Mutex
	return func(_ context.Context, op string, input any) error {
		if op != dynamotest.OpTransactWriteItems {
			return nil
		}
		in := input.(*dynamodb.TransactWriteItemsInput)
		reasons := make([]types.CancellationReason, len(in.TransactItems))
		hit := false
		for i, item := range in.TransactItems {
			reasons[i] = types.CancellationReason{Code: aws.String(reasonNone)}
			var av map[string]types.AttributeValue
			switch {
			case item.Put != nil:
				av = item.Put.Item
			case item.Update != nil:
				av = item.Update.Key
			case item.Delete != nil:
				av = item.Delete.Key
			case item.ConditionCheck != nil:
				av = item.ConditionCheck.Key
			}
			key, err := itemKey(av)
			require.NoError(t, err)
			if match(key) {
				reasons[i] = types.CancellationReason{Code: aws.String(reasonTransactionConflict)}
				hit = true
			}
		}

		mu.Lock()
		defer mu.Unlock()
		if !hit || n == 0 {
			return nil
		}
		n--
		if before != nil {
			before()
		}
		return &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
}

func TestClient_TransactionConflictRebuildsAttempt(t *testing.T) {
	cpf := valueobjects.CPF("52998224725")
	isCPFGuard := func(k schema.Key) bool { return k == schema.CPFGuardKey(testInstitution, cpf) }

	tests := []struct {
		name      string
		conflicts int
		// rival commits the same cpf while this writer's transaction is cancelled
		rival     bool
		wantCode  string
		wantCalls int
	}{
		{name: "conflict then commit", conflicts: 1, wantCalls: 2},
		{name: "rival committed the cpf", conflicts: 1, rival: true, wantCode: pkgerrors.CodeDuplicateCPF, wantCalls: 2},
		{name: "conflicts exhaust retries", conflicts: 10, wantCode: pkgerrors.CodeStorageUnavailable, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, func(o *Options) { o.SequenceRetryLimit = 3 })
			rival := func() {
				other := entities.NewPatient("p-rival", testInstitution, entities.PatientFields{CPF: cpf}, testNow)
				item, err := attributevalue.MarshalMap(newCPFGuardItem(other, testNow))
				require.NoError(t, err)
				require.NoError(t, s.table.Seed(item))
			}
			var before func()
			if tt.rival {
				before = rival
			}
			s.table.SetHook(conflictOn(t, tt.conflicts, isCPFGuard, before))

			p := entities.NewPatient("p-1", testInstitution, entities.PatientFields{
				Name: "Maria", DateOfBirth: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC), CPF: cpf,
			}, testNow)
			err := s.patients.CreatePatient(context.Background(), p,
				successEntry(entities.ActionCreate, "createPatient", entities.PatientTarget(testInstitution, "p-1")))

			assert.Equal(t, tt.wantCalls, s.table.Calls(dynamotest.OpTransactWriteItems))
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.NotNil(t, s.table.Item(schema.PatientKey(testInstitution, "p-1")))
				assert.Equal(t, 1, s.table.Count(schema.PatientPartition("p-1"), "AUDIT#"))
				return
			}
			require.Error(t, err)
			assert.True(t, pkgerrors.HasCode(err, tt.wantCode), "got %v", err)
			assert.Nil(t, s.table.Item(schema.PatientKey(testInstitution, "p-1")))
			assert.Zero(t, s.table.Count(schema.PatientPartition("p-1"), "AUDIT#"))
		})
	}
}

func TestClient_SequenceConflictRebuildsEvaluation(t *testing.T) {
	s := newTestStore(t)
	patient := s.createPatient(t, "p-1", "123.456.789-09")
	seqKey := schema.SequenceKey(schema.PatientPartition(patient.ID))
	before := s.table.Calls(dynamotest.OpTransactWriteItems)

	s.table.SetHook(conflictOn(t, 2, func(k schema.Key) bool { return k == seqKey }, nil))
	e := s.createDraft(t, patient)

	assert.Equal(t, 3, s.table.Calls(dynamotest.OpTransactWriteItems)-before)
	stored, err := s.evaluations.GetEvaluation(context.Background(), patient.ID, e.ID())
	require.NoError(t, err)
	assert.Equal(t, e.ID(), stored.ID())
	assert.Equal(t, 2, s.table.Count(schema.PatientPartition(patient.ID), "AUDIT#"))
}

func TestClient_BreakerOpensOnTransientFailures(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.BreakerFailureThreshold = 2 })
	s.table.FailNext(dynamotest.OpGetItem, 100, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")})
	ctx := context.Background()
	require.NoError(t, s.client.Ready(ctx))

	for i := 0; i < 4; i++ {
		_, err := s.patients.GetPatient(ctx, testInstitution, "p-1")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsTransientStorage(err), "attempt %d", i)
		assert.True(t, pkgerrors.GetAppError(err).Retryable)
	}
	// The breaker stopped forwarding calls after the threshold
	assert.Equal(t, 2, s.table.Calls(dynamotest.OpGetItem))
	assert.True(t, pkgerrors.IsTransientStorage(s.client.Ready(ctx)))
}

func TestClient_ConditionFailuresDoNotTripBreaker(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.BreakerFailureThreshold = 1 })
	s.createPatient(t, "p-1", "123.456.789-09")

	for i := 0; i < 3; i++ {
		p := entities.NewPatient(fmt.Sprintf("dup-%d", i), testInstitution, entities.PatientFields{CPF: "12345678909"}, testNow)
		err := s.patients.CreatePatient(context.Background(), p,
			successEntry(entities.ActionCreate, "createPatient", entities.PatientTarget(testInstitution, p.ID)))
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDuplicateCPF))
	}
	_, err := s.patients.GetPatient(context.Background(), testInstitution, "p-1")
	assert.NoError(t, err)
}

func TestClient_Timeout(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.Timeout = 20 * time.Millisecond })
	s.table.Hang(dynamotest.OpGetItem)

	start := time.Now()
	_, err := s.patients.GetPatient(context.Background(), testInstitution, "p-1")

	assert.True(t, pkgerrors.IsTransientStorage(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPagination_InvalidTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.createPatient(t, fmt.Sprintf("p-%d", i), valueobjects.CompleteCPF(fmt.Sprintf("%09d", 100000001+i)))
	}

	page, err := s.patients.ListPatients(ctx, testInstitution, ports.PageRequest{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextToken)

	rest, err := s.patients.ListPatients(ctx, testInstitution, ports.PageRequest{Token: page.NextToken, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextToken)

	for name, token := range map[string]string{
		"garbage":           "%%%not-base64",
		"not json":          "bm90LWpzb24",
		"other institution": encodePageToken(keyAttributes(schema.PatientKey("inst-b", "p-0"))),
		"other listing":     encodePageToken(keyAttributes(schema.CPFGuardKey(testInstitution, "12345678909"))),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.patients.ListPatients(ctx, testInstitution, ports.PageRequest{Token: token})
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidPageToken))
		})
	}
}

func TestAuditRepository_ChainAndHead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	patient := s.createPatient(t, "p-1", "123.456.789-09")
	s.createDraft(t, patient)

	read := successEntry(entities.ActionRead, "getPatient", entities.PatientTarget(testInstitution, patient.ID))
	require.NoError(t, s.audit.AppendAudit(ctx, read))

	var chain []*entities.AuditEntry
	for entry, err := range s.audit.AuditTrail(ctx, entities.PatientTarget(testInstitution, patient.ID)) {
		require.NoError(t, err)
		chain = append(chain, entry)
	}
	require.Len(t, chain, 3)

	prev := ""
	for _, e := range chain {
		assert.Equal(t, prev, e.PrevHash)
		assert.Equal(t, e.ComputeHash(), e.Hash)
		prev = e.Hash
	}
	assert.Equal(t, []entities.AuditAction{entities.ActionCreate, entities.ActionCreate, entities.ActionRead},
		[]entities.AuditAction{chain[0].Action, chain[1].Action, chain[2].Action})

	head, err := s.audit.AuditHead(ctx, entities.PatientTarget(testInstitution, patient.ID))
	require.NoError(t, err)
	assert.Equal(t, chain[2].Hash, head)
}

func TestAuditRepository_ListByPerformer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.createPatient(t, "p-1", "123.456.789-09")
	s.createPatient(t, "p-2", "111.444.777-35")

	foreign := successEntry(entities.ActionRead, "getPatient", entities.PatientTarget("inst-b", "p-9"))
	require.NoError(t, s.audit.AppendAudit(ctx, foreign))

	all, err := s.audit.ListAuditByPerformer(ctx, testInstitution, testClinician, "", ports.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)

	one, err := s.audit.ListAuditByPerformer(ctx, testInstitution, testClinician, "p-2", ports.PageRequest{})
	require.NoError(t, err)
	require.Len(t, one.Items, 1)
	assert.Equal(t, "p-2", one.Items[0].Target.PatientID)

	none, err := s.audit.ListAuditByPerformer(ctx, testInstitution, "someone-else", "", ports.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, none.Items)
}

func TestInstitutionAndUserRepositories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inst := entities.NewInstitution(testInstitution, "Hospital A", entities.InstitutionConfig{}, testNow)
	admin := entities.NewUser("admin-1", testInstitution, entities.RoleAdmin, "Ana Admin", testNow)
	provision := func() error {
		return s.institutions.ProvisionInstitution(ctx, inst, admin,
			successEntry(entities.ActionCreate, "provisionInstitution", entities.InstitutionTarget(testInstitution)))
	}
	require.NoError(t, provision())
	assert.True(t, pkgerrors.HasCode(provision(), pkgerrors.CodeInstitutionExists))

	stored, err := s.institutions.GetInstitution(ctx, testInstitution)
	require.NoError(t, err)
	assert.Equal(t, "Hospital A", stored.Name)
	assert.False(t, stored.Config.SecondSignatureRequired())

	required := true
	stored.UpdateConfig(entities.InstitutionConfig{RequireSecondSignature: &required}, testNow)
	require.NoError(t, s.institutions.UpdateInstitution(ctx, stored, 1,
		successEntry(entities.ActionUpdate, "updateInstitutionConfig", entities.InstitutionTarget(testInstitution))))
	err = s.institutions.UpdateInstitution(ctx, stored, 1,
		successEntry(entities.ActionUpdate, "updateInstitutionConfig", entities.InstitutionTarget(testInstitution)))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeVersionMismatch))

	clinician := entities.NewUser(testClinician, testInstitution, entities.RoleClinician, "Caio Clinician", testNow)
	require.NoError(t, s.users.CreateUser(ctx, clinician,
		successEntry(entities.ActionCreate, "createUser", entities.UserTarget(testInstitution, testClinician))))
	err = s.users.CreateUser(ctx, clinician,
		successEntry(entities.ActionCreate, "createUser", entities.UserTarget(testInstitution, testClinician)))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUserExists))

	orphan := entities.NewUser("u-orphan", "inst-missing", entities.RoleClinician, "Nobody", testNow)
	err = s.users.CreateUser(ctx, orphan,
		successEntry(entities.ActionCreate, "createUser", entities.UserTarget("inst-missing", "u-orphan")))
	assert.True(t, pkgerrors.IsNotFound(err))

	require.NoError(t, clinician.Deactivate(testNow))
	require.NoError(t, s.users.UpdateUser(ctx, clinician, 1,
		successEntry(entities.ActionUpdate, "deactivateUser", entities.UserTarget(testInstitution, testClinician))))

	users, err := s.users.ListUsers(ctx, testInstitution, ports.PageRequest{})
	require.NoError(t, err)
	require.Len(t, users.Items, 2)
	assert.Equal(t, "admin-1", users.Items[0].ID)
	assert.False(t, users.Items[1].Active)

	// Institution-level entries are chained in the institution partition
	assert.Equal(t, 4, s.table.Count(schema.InstitutionPartition(testInstitution), "AUDIT#"))
}
