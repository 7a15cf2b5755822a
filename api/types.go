package api

import (
	"context"

	"github.com/fiterafrica/fineract-template/domain"
	"github.com/fiterafrica/fineract-template/storage"
)

// Gate runs commands and the checker decisions on parked ones.
type Gate interface {
	Submit(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome
	Approve(ctx context.Context, ec domain.ExecutionContext, id string) domain.Outcome
	Reject(ctx context.Context, ec domain.ExecutionContext, id string) error
	Delete(ctx context.Context, ec domain.ExecutionContext, id string) error
}

// Router tells whether a command would be answered with a correlation id.
type Router interface {
	IsAsync(env *domain.Envelope) bool
}

// Sessions resolves the execution context of the caller.
type Sessions interface {
	Establish(ctx context.Context, h domain.Headers) (domain.ExecutionContext, error)
}

// StatusTracker answers correlation id polls.
type StatusTracker interface {
	IsComplete(ctx context.Context, correlationID string) (bool, error)
}

// CommandLog lists maker-checker entries.
type CommandLog interface {
	List(ctx context.Context, f storage.ListFilter) ([]domain.CommandLogEntry, error)
}

// Authenticator is implemented by types able to identify the caller.
type Authenticator interface {
	Authenticate(authHeader, tenantHeader string) (Principal, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps groups what Register needs. Health may be nil.
type Deps struct {
	Gate     Gate
	Router   Router
	Sessions Sessions
	Tracker  StatusTracker
	Log      CommandLog
	Auth     Authenticator
	Health   Pinger
}
