package errors

// Error codes carried by AppError.Code. Codes are stable and safe to expose to callers.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidPageToken   = "INVALID_PAGE_TOKEN"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeAuditWriteFailed   = "AUDIT_WRITE_FAILED"

	// Conflicts
	CodeDuplicateCPF        = "DUPLICATE_CPF"
	CodeAlreadyFinalized    = "ALREADY_FINALIZED"
	CodeAlreadySuperseded   = "ALREADY_SUPERSEDED"
	CodeEvaluationLocked    = "EVALUATION_LOCKED"
	CodeVersionMismatch     = "VERSION_MISMATCH"
	CodeInstitutionExists   = "INSTITUTION_EXISTS"
	CodeUserExists          = "USER_EXISTS"
	CodeDuplicateIdentifier = "DUPLICATE_IDENTIFIER"

	// Preconditions
	CodeNotFinalized            = "NOT_FINALIZED"
	CodePatientArchived         = "PATIENT_ARCHIVED"
	CodeSecondSignatureRequired = "SECOND_SIGNATURE_REQUIRED"
	CodeUserInactive            = "USER_INACTIVE"
)

// ErrDuplicateCPF reports a second patient with the same cpf in one institution
func ErrDuplicateCPF() *AppError {
	return NewConflictError(CodeDuplicateCPF, "a patient with this cpf already exists in the institution")
}

// ErrAlreadyFinalized reports a finalize attempt on a Finalized or Amended evaluation
func ErrAlreadyFinalized(status string) *AppError {
	return NewConflictError(CodeAlreadyFinalized, "evaluation is already finalized").
		WithDetail("status", status)
}

// ErrAlreadySuperseded reports a second amendment of the same evaluation
func ErrAlreadySuperseded(evaluationID string) *AppError {
	return NewConflictError(CodeAlreadySuperseded, "evaluation has already been amended").
		WithDetail("evaluation_id", evaluationID)
}

// ErrEvaluationLocked reports a payload change on an evaluation that is no longer a draft
func ErrEvaluationLocked(status string) *AppError {
	return NewConflictError(CodeEvaluationLocked, "only draft evaluations can be edited").
		WithDetail("status", status)
}

// ErrVersionMismatch reports an optimistic concurrency failure
func ErrVersionMismatch(expected, actual int) *AppError {
	return NewConflictError(CodeVersionMismatch, "the record was modified by another request").
		WithDetail("expected_version", expected).
		WithDetail("actual_version", actual)
}

// ErrNotFinalized reports an amendment of a draft evaluation
func ErrNotFinalized() *AppError {
	return NewPreconditionError(CodeNotFinalized, "only finalized evaluations can be amended")
}

// ErrPatientArchived reports a write against an archived patient
func ErrPatientArchived() *AppError {
	return NewPreconditionError(CodePatientArchived, "patient is archived")
}

// ErrSecondSignatureRequired reports a finalization missing the institution's required cosigner
func ErrSecondSignatureRequired() *AppError {
	return NewPreconditionError(CodeSecondSignatureRequired,
		"institution requires a cosigner distinct from the author to finalize")
}
