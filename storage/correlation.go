package storage

import (
	"context"
	"fmt"
)

const correlationTable = "m_command_correlation"

// Correlations is the set of in-flight async correlation ids, whichever
// backend holds it.
type Correlations interface {
	Begin(ctx context.Context, correlationID string) error
	End(ctx context.Context, correlationID string) error
	IsComplete(ctx context.Context, correlationID string) (bool, error)
}

// CorrelationStore tracks in-flight async commands in the relational
// database. A missing row means the command is complete.
type CorrelationStore struct {
	db *DB
}

func NewCorrelationStore(db *DB) *CorrelationStore {
	return &CorrelationStore{db: db}
}

// Begin is idempotent.
func (s *CorrelationStore) Begin(ctx context.Context, correlationID string) error {
	ib := s.db.Flavor().NewInsertBuilder()
	ib.InsertInto(correlationTable).Cols("id").Values(correlationID)
	ib.SQL("ON CONFLICT DO NOTHING")
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("track correlation %s: %w", correlationID, classify(err))
	}
	return nil
}

// End is idempotent.
func (s *CorrelationStore) End(ctx context.Context, correlationID string) error {
	del := s.db.Flavor().NewDeleteBuilder()
	del.DeleteFrom(correlationTable)
	del.Where(del.Equal("id", correlationID))
	query, args := del.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("end correlation %s: %w", correlationID, classify(err))
	}
	return nil
}

func (s *CorrelationStore) IsComplete(ctx context.Context, correlationID string) (bool, error) {
	sb := s.db.Flavor().NewSelectBuilder()
	sb.Select("COUNT(*)").From(correlationTable).Where(sb.Equal("id", correlationID))
	query, args := sb.Build()
	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return false, classify(err)
	}
	return n == 0, nil
}
