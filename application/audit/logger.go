// Package audit records who accessed or changed what. Successful mutations commit their entry in
// the same transaction as the change (see Entry); failures and reads are recorded here as
// standalone entries. An operation whose entry cannot be written fails with AuditFailure.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
	"github.com/MiguelSchuhAlles/preanesth-app/pkg/observability"
)

// Actor is the caller an entry is attributed to.
type Actor struct {
	InstitutionID string
	UserID        string
}

// Logger writes audit entries
type Logger struct {
	repo    ports.AuditRepository
	metrics observability.Recorder
	logger  *zap.Logger
}

// NewLogger creates a new audit logger
func NewLogger(repo ports.AuditRepository, metrics observability.Recorder, logger *zap.Logger) *Logger {
	if metrics == nil {
		metrics = observability.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{repo: repo, metrics: metrics, logger: logger}
}

// Entry prepares the success entry of a mutation. The store seals and commits it with the change.
func (l *Logger) Entry(actor Actor, action entities.AuditAction, operation string, target entities.TargetRef) *entities.AuditEntry {
	return &entities.AuditEntry{
		InstitutionID: actor.InstitutionID,
		PerformedBy:   actor.UserID,
		Action:        action,
		Operation:     operation,
		Target:        target,
		Outcome:       entities.Succeeded(),
	}
}

// Record writes a standalone entry and returns it sealed.
func (l *Logger) Record(ctx context.Context, actor Actor, action entities.AuditAction, operation string,
	target entities.TargetRef, outcome entities.Outcome) (*entities.AuditEntry, error) {
	entry := l.Entry(actor, action, operation, target)
	entry.Outcome = outcome
	if err := l.append(ctx, entry); err != nil {
		return nil, pkgerrors.NewAuditFailure(err, nil)
	}
	return entry, nil
}

// Read records a read of target. The data must be withheld when this fails.
func (l *Logger) Read(ctx context.Context, actor Actor, operation string, target entities.TargetRef) error {
	_, err := l.Record(ctx, actor, entities.ActionRead, operation, target, entities.Succeeded())
	return err
}

// Failure records that operation failed with cause and returns the error for the caller: cause
// itself, or an AuditFailure carrying both when the entry could not be written.
func (l *Logger) Failure(ctx context.Context, actor Actor, action entities.AuditAction, operation string,
	target entities.TargetRef, cause error) error {
	if pkgerrors.IsAuditFailure(cause) {
		return cause
	}
	entry := l.Entry(actor, action, operation, target)
	entry.Outcome = entities.Failed(pkgerrors.CodeOf(cause))

	// The caller may have given up already; the entry is still owed.
	if err := l.append(context.WithoutCancel(ctx), entry); err != nil {
		return pkgerrors.NewAuditFailure(err, cause)
	}
	return cause
}

func (l *Logger) append(ctx context.Context, entry *entities.AuditEntry) error {
	err := l.repo.AppendAudit(ctx, entry)
	if err == nil {
		return nil
	}
	l.metrics.RecordAuditFailure(ctx, entry.Operation)
	l.logger.Error("Audit entry could not be written",
		zap.String("operation", entry.Operation),
		zap.String("action", entry.Action.String()),
		zap.String("institutionID", entry.InstitutionID),
		zap.String("performedBy", entry.PerformedBy),
		zap.String("targetKind", entry.Target.Kind.String()),
		zap.String("targetID", entry.Target.ID),
		zap.String("outcome", entry.Outcome.Status.String()),
		zap.String("outcomeCode", entry.Outcome.Code),
		zap.Error(err),
	)
	return err
}

// ChainReport is the result of verifying a partition's hash chain.
type ChainReport struct {
	Entries  int                `json:"entries"`
	Valid    bool               `json:"valid"`
	Head     string             `json:"head,omitempty"`
	BrokenAt valueobjects.Token `json:"brokenAt,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// VerifyChain recomputes the hash chain of the partition target belongs to and checks that it
// ends at the head recorded by the partition sequence.
func (l *Logger) VerifyChain(ctx context.Context, target entities.TargetRef) (*ChainReport, error) {
	report := &ChainReport{Valid: true}
	var prev *entities.AuditEntry

	fail := func(at valueobjects.Token, reason string) bool {
		report.Valid = false
		report.BrokenAt = at
		report.Reason = reason
		return false
	}
	check := func(entry *entities.AuditEntry) bool {
		report.Entries++
		prevHash := ""
		if prev != nil {
			prevHash = prev.Hash
			if entry.ID <= prev.ID {
				return fail(entry.ID, "entries out of order")
			}
		}
		if entry.PrevHash != prevHash {
			return fail(entry.ID, "previous hash does not match")
		}
		if entry.ComputeHash() != entry.Hash {
			return fail(entry.ID, "entry hash does not match its content")
		}
		prev = entry
		return true
	}

	for entry, err := range l.repo.AuditTrail(ctx, target) {
		if err != nil {
			return nil, err
		}
		if !check(entry) {
			break
		}
	}
	if !report.Valid {
		l.logger.Error("Audit chain verification failed",
			zap.String("institutionID", target.InstitutionID),
			zap.String("patientID", target.PatientID),
			zap.String("brokenAt", report.BrokenAt.String()),
			zap.String("reason", report.Reason),
		)
		return report, nil
	}

	head, err := l.repo.AuditHead(ctx, target)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		report.Head = prev.Hash
	}
	if head != report.Head {
		report.Valid = false
		report.Reason = "chain does not end at the recorded head"
	}
	return report, nil
}
