package commands

import (
	"context"
	"errors"
	"sync"

	"github.com/fiterafrica/fineract-template/domain"
)

type memLog struct {
	mu      sync.Mutex
	entries map[string]*domain.CommandLogEntry
	creates int
	failOn  error
}

func newMemLog() *memLog {
	return &memLog{entries: make(map[string]*domain.CommandLogEntry)}
}

func (m *memLog) Create(_ context.Context, e *domain.CommandLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return m.failOn
	}
	if e.IdempotencyKey != nil {
		for _, other := range m.entries {
			if other.TenantID == e.TenantID && other.ActionName == e.ActionName && other.EntityName == e.EntityName &&
				other.IdempotencyKey != nil && *other.IdempotencyKey == *e.IdempotencyKey {
				return domain.ErrDuplicateCommand
			}
		}
	}
	cp := *e
	m.entries[e.ID] = &cp
	m.creates++
	return nil
}

func (m *memLog) Update(_ context.Context, e *domain.CommandLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ID]; !ok {
		return domain.ErrCommandNotFound
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memLog) Get(_ context.Context, id string) (*domain.CommandLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrCommandNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memLog) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memLog) FindByIdempotencyKey(_ context.Context, tenantID, action, entity, key string) (*domain.CommandLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.ActionName == action && e.EntityName == entity && e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memLog) ClaimForApproval(_ context.Context, id string) error {
	return m.transition(id, domain.StatusAwaitingApproval, domain.StatusInProgress)
}

func (m *memLog) ReleaseApproval(_ context.Context, id string) error {
	return m.transition(id, domain.StatusInProgress, domain.StatusAwaitingApproval)
}

func (m *memLog) transition(id string, from, to domain.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != from {
		return domain.ErrCommandNotAwaitingApproval
	}
	e.Status = to
	return nil
}

func (m *memLog) byStatus(s domain.ProcessingStatus) []*domain.CommandLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CommandLogEntry
	for _, e := range m.entries {
		if e.Status == s {
			out = append(out, e)
		}
	}
	return out
}

type staticPolicy map[string]bool

func (p staticPolicy) RequiresMakerChecker(_ context.Context, t domain.Tenant, code string) (bool, error) {
	return t.MakerCheckerEnabled && p[code], nil
}

type countingHandler struct {
	mu     sync.Mutex
	calls  int
	result func(env *domain.Envelope) (*domain.Result, error)
}

func (h *countingHandler) Handle(_ context.Context, _ domain.ExecutionContext, env *domain.Envelope) (*domain.Result, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.result == nil {
		return &domain.Result{ResourceID: env.EntityID, SavingsID: env.SavingsID}, nil
	}
	return h.result(env)
}

func (h *countingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type memTracker struct {
	mu       sync.Mutex
	pending  map[string]bool
	events   []string
	beginErr error
}

func newMemTracker() *memTracker {
	return &memTracker{pending: make(map[string]bool)}
}

func (t *memTracker) Begin(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.beginErr != nil {
		return t.beginErr
	}
	t.pending[id] = true
	t.events = append(t.events, "begin:"+id)
	return nil
}

func (t *memTracker) End(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
	t.events = append(t.events, "end:"+id)
	return nil
}

func (t *memTracker) IsComplete(_ context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.pending[id], nil
}

type recordingSender struct {
	mu      sync.Mutex
	tracker *memTracker
	sent    []domain.Message
	err     error
	// pendingAtSend records whether the correlation id was tracked when the
	// message left.
	pendingAtSend []bool
}

func (s *recordingSender) Send(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracker != nil {
		done, _ := s.tracker.IsComplete(ctx, msg.Headers.CorrelationID)
		s.pendingAtSend = append(s.pendingAtSend, !done)
	}
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type memClaims struct {
	mu       sync.Mutex
	claims   map[string]string
	released []string
}

func newMemClaims() *memClaims {
	return &memClaims{claims: make(map[string]string)}
}

func (c *memClaims) Claim(_ context.Context, tenantID, key, correlationID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := tenantID + "|" + key
	if existing, ok := c.claims[k]; ok {
		return existing, false, nil
	}
	c.claims[k] = correlationID
	return correlationID, true, nil
}

func (c *memClaims) Release(_ context.Context, tenantID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, tenantID+"|"+key)
	c.released = append(c.released, key)
	return nil
}

type memDirectory struct {
	tenants map[string]domain.Tenant
	users   map[string]domain.User
}

func (d memDirectory) TenantByID(_ context.Context, id string) (domain.Tenant, error) {
	t, ok := d.tenants[id]
	if !ok {
		return domain.Tenant{}, &domain.NotFoundError{Resource: "tenant", ID: id}
	}
	return t, nil
}

func (d memDirectory) UserByUsername(_ context.Context, _ string, username string) (domain.User, error) {
	u, ok := d.users[username]
	if !ok {
		return domain.User{}, &domain.NotFoundError{Resource: "user", ID: username}
	}
	return u, nil
}

var errBoom = errors.New("boom")
