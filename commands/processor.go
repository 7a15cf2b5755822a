package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fiterafrica/fineract-template/domain"
)

const tracerName = "github.com/fiterafrica/fineract-template/commands"

// CommandLog persists command log entries.
type CommandLog interface {
	Create(ctx context.Context, e *domain.CommandLogEntry) error
	Update(ctx context.Context, e *domain.CommandLogEntry) error
	Get(ctx context.Context, id string) (*domain.CommandLogEntry, error)
	Delete(ctx context.Context, id string) error
	FindByIdempotencyKey(ctx context.Context, tenantID, action, entity, key string) (*domain.CommandLogEntry, error)
	ClaimForApproval(ctx context.Context, id string) error
	ReleaseApproval(ctx context.Context, id string) error
}

// ApprovalPolicy tells whether a permission is configured for
// maker-checker in a tenant.
type ApprovalPolicy interface {
	RequiresMakerChecker(ctx context.Context, tenant domain.Tenant, permissionCode string) (bool, error)
}

// Processor is the synchronous strategy: it runs the handler on the calling
// goroutine and records the outcome in the command log.
type Processor struct {
	registry *Registry
	log      CommandLog
	policy   ApprovalPolicy
	logger   *log.Logger
	now      func() time.Time
}

func NewProcessor(registry *Registry, commandLog CommandLog, policy ApprovalPolicy, logger *log.Logger) *Processor {
	return &Processor{registry: registry, log: commandLog, policy: policy, logger: logger, now: time.Now}
}

// Execute runs env once. Conflict retries are the caller's concern.
func (p *Processor) Execute(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "commands.execute", trace.WithAttributes(
		attribute.String("command.action", env.ActionName),
		attribute.String("command.entity", env.EntityName),
		attribute.String("command.key", env.EntityKey()),
		attribute.String("command.correlation_id", ec.CorrelationID),
		attribute.Bool("command.approved_by_checker", ec.ApprovedByChecker),
	))
	defer span.End()

	out := p.execute(ctx, ec, env)
	span.SetAttributes(attribute.String("command.outcome", out.Kind.String()))
	if out.Kind == domain.OutcomeFailed {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func (p *Processor) execute(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome {
	if out, ok := p.replay(ctx, ec, env); ok {
		return out
	}

	handler, err := p.registry.Lookup(env)
	if err != nil {
		return domain.Failed(err)
	}

	if !ec.ApprovedByChecker {
		required, err := p.policy.RequiresMakerChecker(ctx, ec.Tenant, env.PermissionCode())
		if err != nil {
			return domain.Failed(fmt.Errorf("maker-checker config: %w", err))
		}
		if required {
			return p.park(ec, env)
		}
	}

	reserved, out, done := p.reserve(ctx, ec, env)
	if done {
		return out
	}

	result, err := handler.Handle(ctx, ec, env)
	if err != nil {
		if reserved != nil {
			p.release(ctx, ec, reserved)
		}
		if errors.Is(err, domain.ErrRequiresApproval) && !ec.ApprovedByChecker {
			return p.park(ec, env)
		}
		return domain.Failed(err)
	}
	if result == nil {
		result = domain.ResultFromEnvelope(env)
	}

	if env.CommandID != nil {
		return p.completeApproval(ctx, ec, *env.CommandID, result)
	}

	entry := reserved
	if entry == nil {
		entry, err = domain.NewCommandLogEntry(ec.Tenant.ID, env, ec.User, domain.StatusProcessed, p.now())
		if err != nil {
			return domain.Failed(err)
		}
	}
	entry.MarkProcessed(result)
	if reserved != nil {
		err = p.log.Update(ctx, entry)
	} else {
		err = p.log.Create(ctx, entry)
	}
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"correlation_id": ec.CorrelationID,
			"action":         env.ActionName,
			"entity":         env.EntityName,
		}).Error("command executed but the audit entry could not be stored")
		return domain.Failed(&notRecordedError{what: "command log", err: err})
	}
	result.CommandID = domain.Ptr(entry.ID)
	return domain.Completed(result)
}

// reserve inserts an IN_PROGRESS entry for a command carrying an idempotency
// key before its handler runs. A concurrent submission of the same key loses
// the insert and is answered from the winner's entry instead.
func (p *Processor) reserve(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) (*domain.CommandLogEntry, domain.Outcome, bool) {
	if env.IdempotencyKey == "" || env.CommandID != nil {
		return nil, domain.Outcome{}, false
	}
	entry, err := domain.NewCommandLogEntry(ec.Tenant.ID, env, ec.User, domain.StatusInProgress, p.now())
	if err != nil {
		return nil, domain.Failed(err), true
	}
	if err := p.log.Create(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateCommand) {
			if out, ok := p.replay(ctx, ec, env); ok {
				return nil, out, true
			}
		}
		return nil, domain.Failed(fmt.Errorf("reserve idempotency key: %w", err)), true
	}
	return entry, domain.Outcome{}, false
}

// release frees a reserved idempotency key after the handler failed so the
// command can be submitted again.
func (p *Processor) release(ctx context.Context, ec domain.ExecutionContext, entry *domain.CommandLogEntry) {
	if err := p.log.Delete(context.WithoutCancel(ctx), entry.ID); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"command_id":     entry.ID,
			"correlation_id": ec.CorrelationID,
		}).Error("release idempotency key")
	}
}

// replay short-circuits a command whose idempotency key was already logged.
func (p *Processor) replay(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) (domain.Outcome, bool) {
	if env.IdempotencyKey == "" || env.CommandID != nil {
		return domain.Outcome{}, false
	}
	prior, err := p.log.FindByIdempotencyKey(ctx, ec.Tenant.ID, env.ActionName, env.EntityName, env.IdempotencyKey)
	if err != nil {
		return domain.Failed(fmt.Errorf("resolve idempotency key: %w", err)), true
	}
	if prior == nil {
		return domain.Outcome{}, false
	}
	p.logger.WithFields(log.Fields{
		"command_id":      prior.ID,
		"idempotency_key": env.IdempotencyKey,
		"status":          prior.Status.String(),
	}).Info("duplicate command, returning the recorded result")
	switch prior.Status {
	case domain.StatusInProgress:
		return domain.Failed(fmt.Errorf("command %s: %w", prior.ID, domain.ErrCommandInProgress)), true
	case domain.StatusRejected:
		return domain.Failed(fmt.Errorf("command %s: %w", prior.ID, domain.ErrCommandRejected)), true
	case domain.StatusAwaitingApproval:
		return domain.Completed(prior.LoggedResult()), true
	default:
		return domain.Completed(prior.StoredResult()), true
	}
}

func (p *Processor) park(ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome {
	entry, err := domain.NewCommandLogEntry(ec.Tenant.ID, env, ec.User, domain.StatusAwaitingApproval, p.now())
	if err != nil {
		return domain.Failed(err)
	}
	return domain.RequiresApproval(entry)
}

func (p *Processor) completeApproval(ctx context.Context, ec domain.ExecutionContext, id string, result *domain.Result) domain.Outcome {
	entry, err := p.log.Get(ctx, id)
	if err != nil {
		return domain.Failed(&notRecordedError{what: "approval", err: err})
	}
	if err := entry.MarkApproved(ec.User, result, p.now()); err != nil {
		return domain.Failed(&notRecordedError{what: "approval", err: err})
	}
	if err := p.log.Update(ctx, entry); err != nil {
		return domain.Failed(&notRecordedError{what: "approval", err: err})
	}
	result.CommandID = domain.Ptr(entry.ID)
	return domain.Completed(result)
}

// notRecordedError reports a command whose handler succeeded but whose log
// entry could not be written. It is never retried: the side effects already
// happened.
type notRecordedError struct {
	what string
	err  error
}

func (e *notRecordedError) Error() string { return "store " + e.what + ": " + e.err.Error() }

func (e *notRecordedError) Unwrap() error { return e.err }

func (e *notRecordedError) Kind() domain.ErrorKind { return domain.KindInternal }
