package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// sequence issues monotonic tokens for one partition and extends its audit hash chain.
// The state read at the start of an attempt is written back with a compare-and-swap on the
// previous token, so two writers in the same partition can never both commit.
type sequence struct {
	partition string
	exists    bool
	prevToken valueobjects.Token
	current   valueobjects.Token
	hash      string
	now       time.Time
}

func (c *Client) readSequence(ctx context.Context, partition string) (*sequence, error) {
	var item sequenceItem
	found, err := c.getInto(ctx, "ReadSequence", schema.SequenceKey(partition), &item)
	if err != nil {
		return nil, err
	}
	seq := &sequence{partition: partition, exists: found, now: c.now().UTC()}
	if found {
		seq.prevToken = valueobjects.Token(item.LastToken)
		seq.current = seq.prevToken
		seq.hash = item.LastAuditHash
	}
	return seq, nil
}

// next issues the partition's next token.
func (s *sequence) next() (valueobjects.Token, error) {
	tok, err := valueobjects.NextToken(s.current, s.now)
	if err != nil {
		return "", pkgerrors.NewInternalError("partition sequence holds a malformed token").WithCause(err)
	}
	s.current = tok
	return tok, nil
}

// seal assigns the entry its token and timestamp and links it into the hash chain.
func (s *sequence) seal(entry *entities.AuditEntry) error {
	tok, err := s.next()
	if err != nil {
		return err
	}
	entry.ID = tok
	entry.Timestamp = s.now
	entry.Seal(s.hash)
	s.hash = entry.Hash
	return nil
}

// write registers the compare-and-swap of the sequence item.
func (s *sequence) write(tx *transaction) {
	key := schema.SequenceKey(s.partition)
	item := sequenceItem{
		PK:            key.PK,
		SK:            key.SK,
		EntityType:    entitySequence,
		LastToken:     s.current.String(),
		LastAuditHash: s.hash,
		UpdatedAt:     formatTime(s.now),
	}
	if !s.exists {
		tx.put(labelSequence, item, notExists())
		return
	}
	cond := expression.Name("LastToken").Equal(expression.Value(s.prevToken.String()))
	tx.put(labelSequence, item, &cond)
}

// tokenRace lists the labels whose failure only means another writer took the tokens first.
var tokenRace = []string{labelSequence, labelAudit, labelNewRecord}

// commitSequenced builds and commits a transaction in partition, rebuilding it with a fresh
// sequence when the only conditions lost were the token race or when items collided with a
// concurrent transaction. A rebuilt attempt re-evaluates every guard against committed state, so
// a racing duplicate surfaces as its own condition failure. build may be called more than once.
func (c *Client) commitSequenced(ctx context.Context, op, partition string, build func(seq *sequence, tx *transaction) error) error {
	for attempt := 1; ; attempt++ {
		seq, err := c.readSequence(ctx, partition)
		if err != nil {
			return err
		}
		tx := c.newTransaction()
		if err := build(seq, tx); err != nil {
			return err
		}
		seq.write(tx)

		err = c.transact(ctx, op, tx)
		ce, ok := asConditionError(err)
		if !ok || !ce.only(tokenRace...) {
			return err
		}
		if attempt >= c.retries {
			c.logger.Error("Partition sequence contention exhausted retries",
				zap.String("operation", op),
				zap.Int("attempts", attempt),
			)
			// Flattened: callers must not see a *conditionError here.
			cause := fmt.Errorf("partition %s: %d attempts lost the token race: %s", partition, attempt, ce.Error())
			return pkgerrors.NewTransientStorageError(op, cause).WithDetail("reason", "sequence contention")
		}
		c.logger.Debug("Partition sequence race, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Strings("contended", ce.contended),
		)
	}
}

// putAudit seals entry in seq and registers its write.
func (c *Client) putAudit(seq *sequence, tx *transaction, entry *entities.AuditEntry) error {
	if err := seq.seal(entry); err != nil {
		return err
	}
	if c.schemas != nil {
		if err := c.schemas.AuditEntry(entry); err != nil {
			return pkgerrors.NewInternalError("refusing to write malformed audit entry").WithCause(err)
		}
	}
	tx.put(labelAudit, newAuditItem(entry), notExists())
	return nil
}
