package operations

import (
	"context"

	"github.com/MiguelSchuhAlles/preanesth-app/application/services"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

type storeHandlers struct {
	store *services.RecordStore
}

func result[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

// decoded runs fn once every parameter of call decoded cleanly. A request that does not decode
// is refused through the store so that it is audited like any other failure.
func (h storeHandlers) decoded(ctx context.Context, call *Call, fn func() (any, error)) (any, error) {
	if err := call.Params.Err(); err != nil {
		return nil, h.reject(ctx, call, err)
	}
	return fn()
}

func (h storeHandlers) reject(ctx context.Context, call *Call, cause error) error {
	op := call.Operation
	return h.store.Reject(ctx, call.Caller, op.String(), op.Action(), descriptors[op].kind, op.Audited(), cause)
}

func recordStoreHandlers(store *services.RecordStore) map[Operation]HandlerFunc {
	h := storeHandlers{store: store}
	return map[Operation]HandlerFunc{
		CreatePatient: func(ctx context.Context, c *Call) (any, error) {
			fields := c.Params.Rest()
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.CreatePatient(ctx, c.Caller, fields))
			})
		},
		GetPatient: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.GetPatient(ctx, c.Caller, patientID))
			})
		},
		FindPatientByCPF: func(ctx context.Context, c *Call) (any, error) {
			cpf := c.Params.String("cpf")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.FindPatientByCPF(ctx, c.Caller, cpf))
			})
		},
		ListPatients: func(ctx context.Context, c *Call) (any, error) {
			page := c.Params.Page()
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.ListPatients(ctx, c.Caller, page))
			})
		},
		UpdatePatient: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			fields := c.Params.Object("fields")
			version := c.Params.Int("expectedVersion")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.UpdatePatient(ctx, c.Caller, patientID, fields, version))
			})
		},
		ArchivePatient: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			version := c.Params.Int("expectedVersion")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.ArchivePatient(ctx, c.Caller, patientID, version))
			})
		},
		CreateEvaluation: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			author := c.Params.String("authorUserId")
			payload := c.Params.Value("payload")
			return h.decoded(ctx, c, func() (any, error) {
				if author != "" && author != c.Caller.UserID {
					return nil, h.reject(ctx, c, pkgerrors.NewForbiddenError("evaluations are authored by the caller"))
				}
				return result(store.CreateEvaluation(ctx, c.Caller, patientID, payload))
			})
		},
		GetEvaluation: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			evaluationID := c.Params.String("evaluationId")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.GetEvaluation(ctx, c.Caller, patientID, evaluationID))
			})
		},
		UpdateDraftEvaluation: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			evaluationID := c.Params.String("evaluationId")
			payload := c.Params.Value("payload")
			version := c.Params.Int("expectedVersion")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.UpdateDraftEvaluation(ctx, c.Caller, patientID, evaluationID, payload, version))
			})
		},
		FinalizeEvaluation: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			evaluationID := c.Params.String("evaluationId")
			cosigner := c.Params.String("cosignerUserId")
			version := c.Params.Int("expectedVersion")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.FinalizeEvaluation(ctx, c.Caller, patientID, evaluationID, cosigner, version))
			})
		},
		AmendEvaluation: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			evaluationID := c.Params.String("evaluationId")
			payload := c.Params.Value("payload")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.AmendEvaluation(ctx, c.Caller, patientID, evaluationID, payload))
			})
		},
		ListEvaluations: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			page := c.Params.Page()
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.ListEvaluations(ctx, c.Caller, patientID, page))
			})
		},
		ProvisionInstitution: func(ctx context.Context, c *Call) (any, error) {
			fields := c.Params.Rest()
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.ProvisionInstitution(ctx, c.Caller, fields))
			})
		},
		GetInstitution: func(ctx context.Context, c *Call) (any, error) {
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.GetInstitution(ctx, c.Caller))
			})
		},
		UpdateInstitutionConfig: func(ctx context.Context, c *Call) (any, error) {
			config := c.Params.Object("config")
			version := c.Params.Int("expectedVersion")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.UpdateInstitutionConfig(ctx, c.Caller, config, version))
			})
		},
		CreateUser: func(ctx context.Context, c *Call) (any, error) {
			fields := c.Params.Rest()
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.CreateUser(ctx, c.Caller, fields))
			})
		},
		ChangeUserRole: func(ctx context.Context, c *Call) (any, error) {
			userID := c.Params.String("userId")
			role := c.Params.String("role")
			version := c.Params.Int("expectedVersion")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.ChangeUserRole(ctx, c.Caller, userID, role, version))
			})
		},
		DeactivateUser: func(ctx context.Context, c *Call) (any, error) {
			userID := c.Params.String("userId")
			version := c.Params.Int("expectedVersion")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.DeactivateUser(ctx, c.Caller, userID, version))
			})
		},
		ListUsers: func(ctx context.Context, c *Call) (any, error) {
			page := c.Params.Page()
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.ListUsers(ctx, c.Caller, page))
			})
		},
		ListPatientAudit: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			page := c.Params.Page()
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.ListPatientAudit(ctx, c.Caller, patientID, page))
			})
		},
		ListInstitutionAudit: func(ctx context.Context, c *Call) (any, error) {
			page := c.Params.Page()
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.ListInstitutionAudit(ctx, c.Caller, page))
			})
		},
		ListAuditByPerformer: func(ctx context.Context, c *Call) (any, error) {
			userID := c.Params.String("userId")
			patientID := c.Params.String("patientId")
			page := c.Params.Page()
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.ListAuditByPerformer(ctx, c.Caller, userID, patientID, page))
			})
		},
		VerifyAuditChain: func(ctx context.Context, c *Call) (any, error) {
			patientID := c.Params.String("patientId")
			return h.decoded(ctx, c, func() (any, error) {
				return result(store.VerifyAuditChain(ctx, c.Caller, patientID))
			})
		},
	}
}
