package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/audit"
	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/validators"
	store "github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/dynamodb"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/dynamodb/dynamotest"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

var testNow = time.Date(2025, 9, 28, 21, 0, 0, 0, time.UTC)

const scenarioCPF = "123.456.789-09"

var (
	admin     = Caller{UserID: "user-admin", InstitutionID: "H1", Role: entities.RoleAdmin}
	clinician = Caller{UserID: "user-clin", InstitutionID: "H1", Role: entities.RoleClinician}
	auditor   = Caller{UserID: "user-audit", InstitutionID: "H1", Role: entities.RoleAuditor}
)

type fixture struct {
	table *dynamotest.Table
	store *RecordStore
	audit *store.AuditRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	opts := store.Options{
		TableName:          "preanesth-test",
		Timeout:            time.Second,
		SequenceRetryLimit: 100,
		Clock:              clock,
	}
	table := dynamotest.New(schema.Layout(opts.TableName, opts.GSI1Name))
	logger := zap.NewNop()
	schemas := validators.NewSchemas(clock)
	client := store.NewClient(table, opts, schemas, logger)
	auditRepo := store.NewAuditRepository(client, logger)
	repos := Repositories{
		Institutions: store.NewInstitutionRepository(client, logger),
		Users:        store.NewUserRepository(client, logger),
		Patients:     store.NewPatientRepository(client, logger),
		Evaluations:  store.NewEvaluationRepository(client, logger),
		Audit:        auditRepo,
	}
	rs := NewRecordStore(repos, audit.NewLogger(auditRepo, nil, logger), schemas, logger, WithClock(clock))
	return &fixture{table: table, store: rs, audit: auditRepo}
}

// provisioned returns a fixture whose institution H1 has an admin, a clinician and an auditor.
func provisioned(t *testing.T, config map[string]any) *fixture {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()
	fields := map[string]any{"name": "Hospital Um", "adminDisplayName": "Ana Admin"}
	if config != nil {
		fields["config"] = config
	}
	_, err := f.store.ProvisionInstitution(ctx, admin, fields)
	require.NoError(t, err)
	for _, u := range []Caller{clinician, auditor} {
		_, err := f.store.CreateUser(ctx, admin, map[string]any{
			"userId": u.UserID, "role": u.Role.String(), "displayName": u.UserID,
		})
		require.NoError(t, err)
	}
	return f
}

func patientFields(cpf string) map[string]any {
	return map[string]any{"name": "Maria Silva", "dateOfBirth": "1980-05-17", "cpf": cpf}
}

func (f *fixture) trail(t *testing.T, target entities.TargetRef) []*entities.AuditEntry {
	t.Helper()
	page, err := f.audit.ListAudit(context.Background(), target, ports.PageRequest{Limit: 100})
	require.NoError(t, err)
	return page.Items
}

func (f *fixture) failures(t *testing.T, target entities.TargetRef) []*entities.AuditEntry {
	t.Helper()
	var out []*entities.AuditEntry
	for _, e := range f.trail(t, target) {
		if e.Outcome.Status == entities.OutcomeFailure {
			out = append(out, e)
		}
	}
	return out
}

func throttled() error {
	return &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
}

func TestRecordStore_ConcurrentDuplicateCreate(t *testing.T) {
	f := provisioned(t, nil)
	institution := entities.InstitutionTarget("H1")
	before := len(f.trail(t, institution))

	const writers = 10
	var wg sync.WaitGroup
	results := make([]*entities.Patient, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.store.CreatePatient(context.Background(), clinician, patientFields(scenarioCPF))
		}(i)
	}
	wg.Wait()

	var winner *entities.Patient
	conflicts := 0
	for i, err := range errs {
		if err == nil {
			require.Nil(t, winner, "only one create may succeed")
			winner = results[i]
			continue
		}
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDuplicateCPF), "unexpected error %v", err)
		conflicts++
	}
	require.NotNil(t, winner)
	assert.Equal(t, writers-1, conflicts)

	found, err := f.store.FindPatientByCPF(context.Background(), clinician, scenarioCPF)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, found.ID)

	list, err := f.store.ListPatients(context.Background(), clinician, ports.PageRequest{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)

	// One success in the patient's trail; each loser recorded its conflict in the institution's.
	created := f.trail(t, entities.PatientTarget("H1", winner.ID))
	require.NotEmpty(t, created)
	assert.Equal(t, entities.ActionCreate, created[0].Action)
	assert.Equal(t, entities.OutcomeSuccess, created[0].Outcome.Status)

	failed := f.failures(t, institution)
	assert.Len(t, failed, writers-1)
	for _, e := range failed {
		assert.Equal(t, "createPatient", e.Operation)
		assert.Equal(t, pkgerrors.CodeDuplicateCPF, e.Outcome.Code)
	}
	// listPatients is recorded as a read of the institution's patients
	assert.Len(t, f.trail(t, institution), before+writers-1+1)
}

func TestRecordStore_FinalizeAndAmend(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()

	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)
	draft, err := f.store.CreateEvaluation(ctx, clinician, patient.ID, map[string]any{"asa": 2})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusDraft, draft.Status())
	assert.Equal(t, "user-clin", draft.AuthorUserID())

	id := draft.ID().String()
	finalized, err := f.store.FinalizeEvaluation(ctx, clinician, patient.ID, id, "", nil)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusFinalized, finalized.Status())

	for i := 0; i < 3; i++ {
		_, err := f.store.FinalizeEvaluation(ctx, clinician, patient.ID, id, "", nil)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAlreadyFinalized), "attempt %d: %v", i, err)
	}
	_, err = f.store.UpdateDraftEvaluation(ctx, clinician, patient.ID, id, map[string]any{"asa": 4}, nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeEvaluationLocked))

	amended, err := f.store.AmendEvaluation(ctx, clinician, patient.ID, id, map[string]any{"asa": 3})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusAmended, amended.Status())
	assert.Equal(t, draft.ID(), amended.Supersedes())
	assert.JSONEq(t, `{"asa":3}`, string(amended.Payload()))

	_, err = f.store.AmendEvaluation(ctx, clinician, patient.ID, id, map[string]any{"asa": 5})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAlreadySuperseded))

	page, err := f.store.ListEvaluations(ctx, clinician, patient.ID, ports.PageRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, draft.ID(), page.Items[0].ID())
	assert.Equal(t, entities.StatusFinalized, page.Items[0].Status())
	assert.JSONEq(t, `{"asa":2}`, string(page.Items[0].Payload()))
	assert.Equal(t, amended.ID(), page.Items[1].ID())

	var ids []string
	for token := ""; ; {
		page, err := f.store.ListEvaluations(ctx, clinician, patient.ID, ports.PageRequest{Token: token, Limit: 1})
		require.NoError(t, err)
		for _, e := range page.Items {
			ids = append(ids, e.ID().String())
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	assert.Equal(t, []string{draft.ID().String(), amended.ID().String()}, ids)

	report, err := f.store.VerifyAuditChain(ctx, auditor, patient.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Reason)
}

func TestRecordStore_FinalizeMissingEvaluation(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()
	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)

	_, err = f.store.FinalizeEvaluation(ctx, clinician, patient.ID, "20250928T210000.000Z-000042", "", nil)
	require.True(t, pkgerrors.IsNotFound(err))

	failed := f.failures(t, entities.PatientTarget("H1", patient.ID))
	require.Len(t, failed, 1)
	assert.Equal(t, entities.ActionFinalize, failed[0].Action)
	assert.Equal(t, pkgerrors.CodeNotFound, failed[0].Outcome.Code)
	assert.Equal(t, "20250928T210000.000Z-000042", failed[0].Target.ID)
}

func TestRecordStore_AuditPerMutation(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()

	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)
	target := entities.PatientTarget("H1", patient.ID)

	stale := 7
	calls := []struct {
		name    string
		run     func() error
		success bool
	}{
		{"update", func() error {
			_, err := f.store.UpdatePatient(ctx, clinician, patient.ID, map[string]any{"name": "Maria S."}, nil)
			return err
		}, true},
		{"stale update", func() error {
			_, err := f.store.UpdatePatient(ctx, clinician, patient.ID, map[string]any{"name": "X"}, &stale)
			return err
		}, false},
		{"invalid update", func() error {
			_, err := f.store.UpdatePatient(ctx, clinician, patient.ID, map[string]any{"cpf": "111.111.111-11"}, nil)
			return err
		}, false},
		{"evaluation", func() error {
			_, err := f.store.CreateEvaluation(ctx, clinician, patient.ID, map[string]any{"asa": 1})
			return err
		}, true},
		{"payload not an object", func() error {
			_, err := f.store.CreateEvaluation(ctx, clinician, patient.ID, []any{1, 2})
			return err
		}, false},
		{"archive", func() error {
			_, err := f.store.ArchivePatient(ctx, clinician, patient.ID, nil)
			return err
		}, true},
		{"evaluation for archived patient", func() error {
			_, err := f.store.CreateEvaluation(ctx, clinician, patient.ID, map[string]any{"asa": 1})
			return err
		}, false},
	}

	// Failures caught before the patient is resolved land in the institution's trail.
	institution := entities.InstitutionTarget("H1")
	recorded := func() []*entities.AuditEntry {
		return append(f.trail(t, target), f.trail(t, institution)...)
	}
	for _, c := range calls {
		before := recorded()
		err := c.run()
		if c.success {
			require.NoError(t, err, c.name)
		} else {
			require.Error(t, err, c.name)
		}
		after := recorded()
		require.Len(t, after, len(before)+1, c.name)
		added := newEntries(before, after)
		require.Len(t, added, 1, c.name)
		assert.Equal(t, c.success, added[0].Outcome.Status == entities.OutcomeSuccess, c.name)
		if !c.success {
			assert.Equal(t, pkgerrors.CodeOf(err), added[0].Outcome.Code, c.name)
		}
	}

	report, err := f.store.VerifyAuditChain(ctx, admin, patient.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, len(f.trail(t, target)), report.Entries)
}

func newEntries(before, after []*entities.AuditEntry) []*entities.AuditEntry {
	seen := make(map[string]bool, len(before))
	for _, e := range before {
		seen[e.Hash] = true
	}
	var added []*entities.AuditEntry
	for _, e := range after {
		if !seen[e.Hash] {
			added = append(added, e)
		}
	}
	return added
}

func TestRecordStore_Authorization(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()
	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)

	tests := []struct {
		name string
		run  func() error
	}{
		{"auditor creates patient", func() error {
			_, err := f.store.CreatePatient(ctx, auditor, patientFields("529.982.247-25"))
			return err
		}},
		{"auditor reads patient", func() error {
			_, err := f.store.GetPatient(ctx, auditor, patient.ID)
			return err
		}},
		{"admin writes evaluation", func() error {
			_, err := f.store.CreateEvaluation(ctx, admin, patient.ID, map[string]any{"asa": 1})
			return err
		}},
		{"clinician creates user", func() error {
			_, err := f.store.CreateUser(ctx, clinician, map[string]any{"userId": "u-x", "role": "Admin", "displayName": "X"})
			return err
		}},
		{"clinician reads audit", func() error {
			_, err := f.store.ListPatientAudit(ctx, clinician, patient.ID, ports.PageRequest{})
			return err
		}},
		{"unknown role", func() error {
			_, err := f.store.GetPatient(ctx, Caller{UserID: "u-y", InstitutionID: "H1"}, patient.ID)
			return err
		}},
	}

	institution := entities.InstitutionTarget("H1")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(f.failures(t, institution))
			err := tt.run()
			require.True(t, pkgerrors.IsForbidden(err), "got %v", err)
			failed := f.failures(t, institution)
			require.Len(t, failed, before+1)
			assert.Equal(t, pkgerrors.CodeForbidden, failed[len(failed)-1].Outcome.Code)
		})
	}

	// Nothing was written to the patient's trail besides its creation.
	assert.Len(t, f.trail(t, entities.PatientTarget("H1", patient.ID)), 1)
}

func TestRecordStore_TenantIsolation(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()
	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)

	other := Caller{UserID: "user-h2", InstitutionID: "H2", Role: entities.RoleClinician}
	_, err = f.store.GetPatient(ctx, other, patient.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
	_, err = f.store.FindPatientByCPF(ctx, other, scenarioCPF)
	assert.True(t, pkgerrors.IsNotFound(err))
	_, err = f.store.CreateEvaluation(ctx, other, patient.ID, map[string]any{"asa": 1})
	assert.True(t, pkgerrors.IsNotFound(err))

	// The same cpf is free in another institution.
	_, err = f.store.CreatePatient(ctx, other, patientFields(scenarioCPF))
	require.NoError(t, err)

	// Cross-tenant attempts are recorded in the caller's institution, never in the foreign patient's trail.
	assert.Len(t, f.trail(t, entities.PatientTarget("H1", patient.ID)), 1)
	assert.Len(t, f.failures(t, entities.InstitutionTarget("H2")), 3)
}

func TestRecordStore_ReadIsWithheldWhenAuditFails(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()
	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)

	f.table.FailNext(dynamotest.OpTransactWriteItems, 1, throttled())
	got, err := f.store.GetPatient(ctx, clinician, patient.ID)

	assert.Nil(t, got)
	require.True(t, pkgerrors.IsAuditFailure(err), "got %v", err)
	assert.Len(t, f.trail(t, entities.PatientTarget("H1", patient.ID)), 1)
}

func TestRecordStore_FailureAuditFails(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()
	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)

	stale := 3
	f.table.FailNext(dynamotest.OpTransactWriteItems, 1, throttled())
	_, err = f.store.UpdatePatient(ctx, clinician, patient.ID, map[string]any{"name": "X"}, &stale)

	require.True(t, pkgerrors.IsAuditFailure(err))
	appErr := pkgerrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Contains(t, fmt.Sprint(appErr.Details["outcome"]), pkgerrors.CodeVersionMismatch)
	assert.Len(t, f.trail(t, entities.PatientTarget("H1", patient.ID)), 1)
}

func TestRecordStore_SecondSignature(t *testing.T) {
	f := provisioned(t, map[string]any{"requireSecondSignature": true})
	ctx := context.Background()
	_, err := f.store.CreateUser(ctx, admin, map[string]any{"userId": "user-clin2", "role": "Clinician", "displayName": "Bruno"})
	require.NoError(t, err)

	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)
	draft, err := f.store.CreateEvaluation(ctx, clinician, patient.ID, map[string]any{"asa": 2})
	require.NoError(t, err)
	id := draft.ID().String()

	_, err = f.store.FinalizeEvaluation(ctx, clinician, patient.ID, id, "", nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSecondSignatureRequired))
	_, err = f.store.FinalizeEvaluation(ctx, clinician, patient.ID, id, "user-clin", nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSecondSignatureRequired))
	_, err = f.store.FinalizeEvaluation(ctx, clinician, patient.ID, id, "user-audit", nil)
	assert.True(t, pkgerrors.IsValidation(err))

	finalized, err := f.store.FinalizeEvaluation(ctx, clinician, patient.ID, id, "user-clin2", nil)
	require.NoError(t, err)
	assert.Equal(t, "user-clin2", finalized.State().CosignedBy)
}

func TestRecordStore_RefinalizeIgnoresCosigner(t *testing.T) {
	f := provisioned(t, map[string]any{"requireSecondSignature": true})
	ctx := context.Background()
	_, err := f.store.CreateUser(ctx, admin, map[string]any{"userId": "user-clin2", "role": "Clinician", "displayName": "Bruno"})
	require.NoError(t, err)

	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)
	draft, err := f.store.CreateEvaluation(ctx, clinician, patient.ID, map[string]any{"asa": 2})
	require.NoError(t, err)
	id := draft.ID().String()
	_, err = f.store.FinalizeEvaluation(ctx, clinician, patient.ID, id, "user-clin2", nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		cosigner string
	}{
		{name: "no cosigner", cosigner: ""},
		{name: "unknown user", cosigner: "user-nobody"},
		{name: "auditor", cosigner: "user-audit"},
		{name: "author", cosigner: "user-clin"},
		{name: "valid cosigner", cosigner: "user-clin2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.FinalizeEvaluation(ctx, clinician, patient.ID, id, tt.cosigner, nil)
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAlreadyFinalized), "got %v", err)
		})
	}
}

func TestRecordStore_InstitutionAdministration(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()

	_, err := f.store.ProvisionInstitution(ctx, admin, map[string]any{"name": "Again", "adminDisplayName": "Ana"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInstitutionExists))

	inst, err := f.store.GetInstitution(ctx, admin)
	require.NoError(t, err)
	assert.False(t, inst.Config.SecondSignatureRequired())

	stale := inst.Version + 5
	_, err = f.store.UpdateInstitutionConfig(ctx, admin, map[string]any{"retentionDays": 3650}, &stale)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeVersionMismatch))

	updated, err := f.store.UpdateInstitutionConfig(ctx, admin, map[string]any{"retentionDays": 3650}, &inst.Version)
	require.NoError(t, err)
	assert.Equal(t, 3650, updated.Config.Retention())

	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)
	draft, err := f.store.CreateEvaluation(ctx, clinician, patient.ID, map[string]any{"asa": 1})
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 0, 3650), draft.State().RetainUntil)
}

func TestRecordStore_UserAdministration(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()

	_, err := f.store.CreateUser(ctx, admin, map[string]any{"userId": "user-clin", "role": "Clinician", "displayName": "Dup"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUserExists))

	promoted, err := f.store.ChangeUserRole(ctx, admin, "user-clin", "Admin", nil)
	require.NoError(t, err)
	assert.Equal(t, entities.RoleAdmin, promoted.Role)

	_, err = f.store.ChangeUserRole(ctx, admin, "user-clin", "Surgeon", nil)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = f.store.DeactivateUser(ctx, admin, admin.UserID, nil)
	assert.True(t, pkgerrors.IsForbidden(err))

	deactivated, err := f.store.DeactivateUser(ctx, admin, "user-audit", nil)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)
	_, err = f.store.ChangeUserRole(ctx, admin, "user-audit", "Clinician", nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUserInactive))

	otherAdmin := Caller{UserID: "admin-h2", InstitutionID: "H2", Role: entities.RoleAdmin}
	_, err = f.store.DeactivateUser(ctx, otherAdmin, "user-clin", nil)
	assert.True(t, pkgerrors.IsNotFound(err))

	users, err := f.store.ListUsers(ctx, admin, ports.PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, users.Items, 3)

	// provisioning, two users, promote, deactivate and every failure above land in H1's trail
	report, err := f.store.VerifyAuditChain(ctx, auditor, "")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 9, report.Entries)
}

func TestRecordStore_ListAuditByPerformer(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()
	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)
	_, err = f.store.GetPatient(ctx, clinician, patient.ID)
	require.NoError(t, err)
	_, err = f.store.GetPatient(ctx, admin, patient.ID)
	require.NoError(t, err)

	page, err := f.store.ListAuditByPerformer(ctx, auditor, clinician.UserID, patient.ID, ports.PageRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	for _, e := range page.Items {
		assert.Equal(t, clinician.UserID, e.PerformedBy)
	}

	_, err = f.store.ListAuditByPerformer(ctx, auditor, "bad#id", "", ports.PageRequest{})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRecordStore_MalformedCaller(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.GetPatient(context.Background(), Caller{UserID: "", InstitutionID: "H1", Role: entities.RoleAdmin}, "p-1")

	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnauthorized))
	assert.Zero(t, f.table.Calls(dynamotest.OpTransactWriteItems))
}

func TestRecordStore_PayloadIsStoredCompacted(t *testing.T) {
	f := provisioned(t, nil)
	ctx := context.Background()
	patient, err := f.store.CreatePatient(ctx, clinician, patientFields(scenarioCPF))
	require.NoError(t, err)

	draft, err := f.store.CreateEvaluation(ctx, clinician, patient.ID, json.RawMessage("{ \"asa\" : 2 }"))
	require.NoError(t, err)

	got, err := f.store.GetEvaluation(ctx, clinician, patient.ID, draft.ID().String())
	require.NoError(t, err)
	assert.Equal(t, `{"asa":2}`, string(got.Payload()))
}
