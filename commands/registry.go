package commands

import (
	"context"
	"strings"
	"sync"

	"github.com/fiterafrica/fineract-template/domain"
)

// Handler executes one kind of command against the business services.
// Handlers may be invoked again from scratch when a storage conflict is
// retried.
type Handler interface {
	Handle(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) (*domain.Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) (*domain.Result, error)

func (f HandlerFunc) Handle(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) (*domain.Result, error) {
	return f(ctx, ec, env)
}

type handlerKey struct {
	action string
	entity string
}

// Registry resolves handlers by action and entity. The async marker is not
// part of the key, so ASYNCDEPOSIT resolves to the DEPOSIT handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
	fallback Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[handlerKey]Handler)}
}

func normalizeKey(action, entity string) handlerKey {
	action = strings.TrimPrefix(strings.ToUpper(action), domain.AsyncPrefix)
	return handlerKey{action: action, entity: strings.ToUpper(entity)}
}

// Register binds h to action on entity, replacing any previous binding.
func (r *Registry) Register(action, entity string, h Handler) {
	r.mu.Lock()
	r.handlers[normalizeKey(action, entity)] = h
	r.mu.Unlock()
}

// SetFallback installs a handler for commands without a specific binding.
func (r *Registry) SetFallback(h Handler) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// Lookup returns the handler for env or a validation error.
func (r *Registry) Lookup(env *domain.Envelope) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[normalizeKey(env.ActionName, env.EntityName)]; ok {
		return h, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, domain.NewValidationError("error.msg.command.unsupported", "unsupported command "+env.ActionName+" on "+env.EntityName)
}
