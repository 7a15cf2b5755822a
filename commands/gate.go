package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/domain"
)

// Gate applies maker-checker around command execution.
type Gate struct {
	route   Strategy
	sync    Strategy
	retrier *Retrier
	log     CommandLog
	logger  *log.Logger
	now     func() time.Time
}

// NewGate returns a gate that submits through route and executes approved
// commands through sync.
func NewGate(route, sync Strategy, retrier *Retrier, commandLog CommandLog, logger *log.Logger) *Gate {
	return &Gate{route: route, sync: sync, retrier: retrier, log: commandLog, logger: logger, now: time.Now}
}

// Submit authorizes the acting user and runs env. A user updating their own
// record bypasses maker-checker.
func (g *Gate) Submit(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome {
	ec.ApprovedByChecker = false
	if env.IsSelfUpdate(ec.User.ID) {
		ec.ApprovedByChecker = true
	} else if err := ec.RequireExecute(env); err != nil {
		return domain.Failed(err)
	}
	return g.Execute(ctx, ec, env)
}

// Execute runs env with conflict retries. A command that needs a checker is
// stored as awaiting approval and reported as such.
func (g *Gate) Execute(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome {
	out := g.retrier.Do(ctx, PolicyFor(ec.Tenant), func(ctx context.Context, _ int) domain.Outcome {
		return g.route.Execute(ctx, ec, env)
	})
	if out.Kind != domain.OutcomeRequiresApproval {
		return out
	}
	return g.logForApproval(ctx, ec, out.Entry)
}

func (g *Gate) logForApproval(ctx context.Context, ec domain.ExecutionContext, entry *domain.CommandLogEntry) domain.Outcome {
	if err := g.log.Create(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateCommand) && entry.IdempotencyKey != nil {
			if prior, ferr := g.log.FindByIdempotencyKey(ctx, entry.TenantID, entry.ActionName, entry.EntityName, *entry.IdempotencyKey); ferr == nil && prior != nil && prior.AwaitingApproval() {
				out := domain.RequiresApproval(prior)
				out.Result = prior.LoggedResult()
				return out
			}
		}
		return domain.Failed(fmt.Errorf("log command for approval: %w", err))
	}
	g.logger.WithFields(log.Fields{
		"command_id":     entry.ID,
		"correlation_id": ec.CorrelationID,
		"permission":     entry.PermissionCode,
		"user":           ec.User.Username,
	}).Info("command awaiting checker approval")
	out := domain.RequiresApproval(entry)
	out.Result = entry.LoggedResult()
	return out
}

// Approve executes a parked command synchronously on behalf of the checker.
// The entry is claimed before the handler runs so concurrent approvals
// execute it once; the existing entry is transitioned, never re-created.
func (g *Gate) Approve(ctx context.Context, ec domain.ExecutionContext, id string) domain.Outcome {
	entry, err := g.awaiting(ctx, ec, id)
	if err != nil {
		return domain.Failed(err)
	}
	env, err := entry.Envelope()
	if err != nil {
		return domain.Failed(err)
	}
	if err := g.log.ClaimForApproval(ctx, entry.ID); err != nil {
		return domain.Failed(fmt.Errorf("approve %s: %w", entry.ID, err))
	}
	ec.ApprovedByChecker = true
	out := g.retrier.Do(ctx, PolicyFor(ec.Tenant), func(ctx context.Context, _ int) domain.Outcome {
		return g.sync.Execute(ctx, ec, env)
	})
	if out.Kind == domain.OutcomeCompleted {
		return out
	}
	logger := g.logger.WithError(out.Err).WithFields(log.Fields{
		"command_id":     entry.ID,
		"correlation_id": ec.CorrelationID,
	})
	var unrecorded *notRecordedError
	if errors.As(out.Err, &unrecorded) {
		logger.Error("approved command executed but its approval was not stored, leaving it in progress")
		return out
	}
	if err := g.log.ReleaseApproval(context.WithoutCancel(ctx), entry.ID); err != nil {
		logger.WithField("release_error", err.Error()).Error("release approval claim")
	}
	return out
}

// Reject marks a parked command rejected. Nothing is executed and the entry
// is kept for audit.
func (g *Gate) Reject(ctx context.Context, ec domain.ExecutionContext, id string) error {
	entry, err := g.awaiting(ctx, ec, id)
	if err != nil {
		return err
	}
	if err := entry.MarkRejected(ec.User, g.now()); err != nil {
		return err
	}
	return g.log.Update(ctx, entry)
}

// Delete purges a parked command without recording a checker decision.
func (g *Gate) Delete(ctx context.Context, ec domain.ExecutionContext, id string) error {
	entry, err := g.awaiting(ctx, ec, id)
	if err != nil {
		return err
	}
	if err := entry.CanDelete(); err != nil {
		return err
	}
	// claiming first keeps a concurrent approval from losing its entry
	if err := g.log.ClaimForApproval(ctx, id); err != nil {
		return err
	}
	return g.log.Delete(ctx, id)
}

func (g *Gate) awaiting(ctx context.Context, ec domain.ExecutionContext, id string) (*domain.CommandLogEntry, error) {
	entry, err := g.log.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.TenantID != ec.Tenant.ID {
		return nil, fmt.Errorf("command %s: %w", id, domain.ErrCommandNotFound)
	}
	if !entry.AwaitingApproval() {
		return nil, fmt.Errorf("command %s: %w", id, domain.ErrCommandNotAwaitingApproval)
	}
	if err := ec.RequireChecker(entry.PermissionCode); err != nil {
		return nil, err
	}
	return entry, nil
}
