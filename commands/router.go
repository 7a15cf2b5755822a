package commands

import (
	"context"

	"github.com/fiterafrica/fineract-template/domain"
)

// Strategy executes a command on one path.
type Strategy interface {
	Execute(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome
}

// Router picks the synchronous or asynchronous strategy for a command. The
// choice depends only on deployment mode and the action name; maker-checker
// is decided where the command finally runs.
type Router struct {
	sync         Strategy
	async        Strategy
	asyncEnabled bool
}

// NewRouter returns a router. A nil async strategy disables the async path.
func NewRouter(sync, async Strategy) *Router {
	return &Router{sync: sync, async: async, asyncEnabled: async != nil}
}

// IsAsync reports whether env would take the asynchronous path.
func (r *Router) IsAsync(env *domain.Envelope) bool {
	return r.asyncEnabled && env.IsAsync()
}

// Execute routes env. On the async path validation is deferred to the
// worker, so only transport failures are reported here.
func (r *Router) Execute(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome {
	if r.IsAsync(env) {
		return r.async.Execute(ctx, ec, env)
	}
	return r.sync.Execute(ctx, ec, env)
}
