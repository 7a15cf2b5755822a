package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/domain"
)

// Sender hands a command message to the broker.
type Sender interface {
	Send(ctx context.Context, msg domain.Message) error
}

// Tracker records correlation ids of commands that are still in flight.
// An id that is absent is complete.
type Tracker interface {
	Begin(ctx context.Context, correlationID string) error
	End(ctx context.Context, correlationID string) error
	IsComplete(ctx context.Context, correlationID string) (bool, error)
}

// Claims deduplicates async submissions carrying the same idempotency key.
type Claims interface {
	// Claim records correlationID for key unless another submission holds it,
	// in which case that submission's correlation id is returned.
	Claim(ctx context.Context, tenantID, key, correlationID string) (string, bool, error)
	Release(ctx context.Context, tenantID, key string) error
}

// AsyncStrategy publishes commands to the broker and answers with a
// correlation id the caller can poll.
type AsyncStrategy struct {
	sender  Sender
	tracker Tracker
	claims  Claims
	logger  *log.Logger
	newID   func() string
}

// NewAsyncStrategy returns the async path. claims may be nil.
func NewAsyncStrategy(sender Sender, tracker Tracker, claims Claims, logger *log.Logger) *AsyncStrategy {
	return &AsyncStrategy{sender: sender, tracker: tracker, claims: claims, logger: logger, newID: uuid.NewString}
}

func claimKey(env *domain.Envelope) string {
	return env.ActionName + ":" + env.EntityName + ":" + env.IdempotencyKey
}

// Execute tracks the correlation id before publishing so a fast worker can
// never end it first. A failed publish removes it again.
func (a *AsyncStrategy) Execute(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome {
	correlationID := a.newID()
	logger := a.logger.WithFields(log.Fields{
		"correlation_id": correlationID,
		"tenant":         ec.Tenant.ID,
		"user":           ec.User.Username,
		"action":         env.ActionName,
		"entity":         env.EntityName,
	})

	claimed := false
	if a.claims != nil && env.IdempotencyKey != "" {
		existing, ok, err := a.claims.Claim(ctx, ec.Tenant.ID, claimKey(env), correlationID)
		if err != nil {
			return domain.Failed(fmt.Errorf("claim idempotency key: %w", err))
		}
		if !ok {
			logger.WithField("existing_correlation_id", existing).Info("duplicate async submission")
			return domain.Completed(domain.CorrelationIDResult(existing))
		}
		claimed = true
	}
	release := func() {
		if !claimed {
			return
		}
		if err := a.claims.Release(context.WithoutCancel(ctx), ec.Tenant.ID, claimKey(env)); err != nil {
			logger.WithError(err).Warn("release idempotency claim")
		}
	}

	body, err := env.Encode()
	if err != nil {
		release()
		return domain.Failed(err)
	}
	msg := domain.Message{
		Headers: domain.Headers{
			CorrelationID:     correlationID,
			AuthToken:         ec.AuthToken,
			RunAs:             ec.User.Username,
			TenantID:          ec.Tenant.ID,
			ApprovedByChecker: ec.ApprovedByChecker,
		},
		Body: body,
	}

	if err := a.tracker.Begin(ctx, correlationID); err != nil {
		release()
		return domain.Failed(fmt.Errorf("track correlation id: %w", err))
	}
	if err := a.sender.Send(ctx, msg); err != nil {
		if endErr := a.tracker.End(context.WithoutCancel(ctx), correlationID); endErr != nil {
			logger.WithError(endErr).Error("end correlation after failed publish")
		}
		release()
		return domain.Failed(fmt.Errorf("publish command: %w", err))
	}
	logger.Debug("command accepted for async execution")
	return domain.Completed(domain.CorrelationIDResult(correlationID))
}
