package commands

import (
	"context"
	"fmt"

	"github.com/fiterafrica/fineract-template/domain"
)

// Directory resolves tenants and users.
type Directory interface {
	TenantByID(ctx context.Context, id string) (domain.Tenant, error)
	UserByUsername(ctx context.Context, tenantID, username string) (domain.User, error)
}

// Sessions rebuilds the execution context of a command that crossed a
// process or goroutine boundary. The acting user is resolved again by name
// rather than trusting a forwarded principal.
type Sessions struct {
	dir Directory
}

func NewSessions(dir Directory) *Sessions {
	return &Sessions{dir: dir}
}

// Establish builds a fresh context from transport headers.
func (s *Sessions) Establish(ctx context.Context, h domain.Headers) (domain.ExecutionContext, error) {
	if h.TenantID == "" || h.RunAs == "" {
		return domain.ExecutionContext{}, domain.NewValidationError("error.msg.headers.incomplete", "tenant and run-as headers are required")
	}
	tenant, err := s.dir.TenantByID(ctx, h.TenantID)
	if err != nil {
		return domain.ExecutionContext{}, fmt.Errorf("load tenant %s: %w", h.TenantID, err)
	}
	user, err := s.dir.UserByUsername(ctx, tenant.ID, h.RunAs)
	if err != nil {
		return domain.ExecutionContext{}, fmt.Errorf("load user %s: %w", h.RunAs, err)
	}
	return domain.ExecutionContext{
		Tenant:            tenant,
		User:              user,
		AuthToken:         h.AuthToken,
		CorrelationID:     h.CorrelationID,
		ApprovedByChecker: h.ApprovedByChecker,
	}, nil
}
