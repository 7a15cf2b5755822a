package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"

	"github.com/fiterafrica/fineract-template/domain"
)

const commandSourceTable = "m_portfolio_command_source"

var commandLogStruct = sqlbuilder.NewStruct(new(domain.CommandLogEntry))

// CommandLog stores command log entries in the relational database.
type CommandLog struct {
	db     *DB
	schema *sqlbuilder.Struct
}

func NewCommandLog(db *DB) *CommandLog {
	return &CommandLog{db: db, schema: commandLogStruct.For(db.Flavor())}
}

func (r *CommandLog) Create(ctx context.Context, e *domain.CommandLogEntry) error {
	query, args := r.schema.InsertInto(commandSourceTable, e).Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert command %s: %w", e.ID, domain.ErrDuplicateCommand)
		}
		return fmt.Errorf("insert command %s: %w", e.ID, classify(err))
	}
	return nil
}

// Update rewrites an entry. An approval only applies to a row still awaiting
// approval or claimed for it, a rejection only to an awaiting row, so two
// checkers cannot both decide.
func (r *CommandLog) Update(ctx context.Context, e *domain.CommandLogEntry) error {
	ub := r.schema.Update(commandSourceTable, e)
	ub.Where(ub.Equal("id", e.ID))
	decision := true
	switch e.Status {
	case domain.StatusApproved:
		ub.Where(ub.In("status", int(domain.StatusAwaitingApproval), int(domain.StatusInProgress)))
	case domain.StatusRejected:
		ub.Where(ub.Equal("status", int(domain.StatusAwaitingApproval)))
	default:
		decision = false
	}
	query, args := ub.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update command %s: %w", e.ID, classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if decision {
			return fmt.Errorf("update command %s: %w", e.ID, domain.ErrCommandNotAwaitingApproval)
		}
		return fmt.Errorf("update command %s: %w", e.ID, domain.ErrCommandNotFound)
	}
	return nil
}

// ClaimForApproval moves an awaiting entry to IN_PROGRESS. Only one checker
// wins the claim; the others get ErrCommandNotAwaitingApproval.
func (r *CommandLog) ClaimForApproval(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusAwaitingApproval, domain.StatusInProgress)
}

// ReleaseApproval hands a claimed entry back to the approval queue after the
// approved execution failed.
func (r *CommandLog) ReleaseApproval(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusInProgress, domain.StatusAwaitingApproval)
}

func (r *CommandLog) transition(ctx context.Context, id string, from, to domain.ProcessingStatus) error {
	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(commandSourceTable)
	ub.Set(ub.Assign("status", int(to)))
	ub.Where(ub.Equal("id", id), ub.Equal("status", int(from)))
	query, args := ub.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("move command %s to %s: %w", id, to, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("move command %s to %s: %w", id, to, err)
	}
	if n == 0 {
		return fmt.Errorf("command %s is not %s: %w", id, from, domain.ErrCommandNotAwaitingApproval)
	}
	return nil
}

func (r *CommandLog) Get(ctx context.Context, id string) (*domain.CommandLogEntry, error) {
	sb := r.schema.SelectFrom(commandSourceTable)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()
	var e domain.CommandLogEntry
	if err := r.db.GetContext(ctx, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("command %s: %w", id, domain.ErrCommandNotFound)
		}
		return nil, classify(err)
	}
	return &e, nil
}

func (r *CommandLog) Delete(ctx context.Context, id string) error {
	del := r.db.Flavor().NewDeleteBuilder()
	del.DeleteFrom(commandSourceTable)
	del.Where(del.Equal("id", id))
	query, args := del.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete command %s: %w", id, classify(err))
	}
	return nil
}

// FindByIdempotencyKey returns nil when no entry carries key.
func (r *CommandLog) FindByIdempotencyKey(ctx context.Context, tenantID, action, entity, key string) (*domain.CommandLogEntry, error) {
	sb := r.schema.SelectFrom(commandSourceTable)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("action_name", action),
		sb.Equal("entity_name", entity),
		sb.Equal("idempotency_key", key),
	)
	sb.Limit(1)
	query, args := sb.Build()
	var e domain.CommandLogEntry
	if err := r.db.GetContext(ctx, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &e, nil
}

// ListFilter narrows List. A zero Status matches every status.
type ListFilter struct {
	TenantID string
	Status   domain.ProcessingStatus
	MakerID  int64
	Limit    int
	Offset   int
}

// List returns entries newest first.
func (r *CommandLog) List(ctx context.Context, f ListFilter) ([]domain.CommandLogEntry, error) {
	sb := r.schema.SelectFrom(commandSourceTable)
	sb.Where(sb.Equal("tenant_id", f.TenantID))
	if f.Status != domain.StatusInvalid {
		sb.Where(sb.Equal("status", int(f.Status)))
	}
	if f.MakerID != 0 {
		sb.Where(sb.Equal("maker_id", f.MakerID))
	}
	sb.OrderBy("made_on").Desc()
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sb.Limit(limit).Offset(f.Offset)
	query, args := sb.Build()
	entries := []domain.CommandLogEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}
