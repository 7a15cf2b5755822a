package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func newEntry(t *testing.T, status ProcessingStatus) *CommandLogEntry {
	t.Helper()
	env, err := NewEnvelope(Envelope{
		ActionName:     "APPROVE",
		EntityName:     "LOAN",
		LoanID:         Ptr(int64(7)),
		JSON:           `{"approvedOnDate":"2024-01-01"}`,
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	e, err := NewCommandLogEntry("default", env, User{ID: 1, Username: "maker"}, status, time.Unix(100, 0))
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	return e
}

func TestCommandLogEntryApproveOnce(t *testing.T) {
	e := newEntry(t, StatusAwaitingApproval)
	if e.PermissionCode != "APPROVE_LOAN" {
		t.Fatalf("unexpected permission code %q", e.PermissionCode)
	}

	checker := User{ID: 2, Username: "checker"}
	if err := e.MarkApproved(checker, &Result{ResourceID: Ptr(int64(7))}, time.Unix(200, 0)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if e.Status != StatusApproved || e.CheckerID == nil || *e.CheckerID != 2 {
		t.Fatalf("unexpected entry after approval: %+v", e)
	}
	if err := e.MarkApproved(checker, nil, time.Unix(300, 0)); !errors.Is(err, ErrCommandNotAwaitingApproval) {
		t.Fatalf("second approval must fail, got %v", err)
	}
	if err := e.MarkRejected(checker, time.Unix(300, 0)); !errors.Is(err, ErrCommandNotAwaitingApproval) {
		t.Fatalf("rejecting an approved entry must fail, got %v", err)
	}
	if err := e.CanDelete(); err == nil {
		t.Fatal("approved entries cannot be deleted")
	}
}

func TestCommandLogEntryRejectIsTerminal(t *testing.T) {
	e := newEntry(t, StatusAwaitingApproval)
	if err := e.CanDelete(); err != nil {
		t.Fatalf("awaiting entry should be deletable: %v", err)
	}
	if err := e.MarkRejected(User{ID: 2}, time.Unix(200, 0)); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if !e.Status.Terminal() {
		t.Fatal("rejected must be terminal")
	}
	if e.ResultJSON != nil {
		t.Fatal("rejection must not record a result")
	}
}

func TestCommandLogEntryRehydratesEnvelope(t *testing.T) {
	e := newEntry(t, StatusAwaitingApproval)
	env, err := e.Envelope()
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if env.CommandID == nil || *env.CommandID != e.ID {
		t.Fatalf("expected command id %s, got %v", e.ID, env.CommandID)
	}
	if env.EntityKey() != "LOAN-7" || env.IdempotencyKey != "idem-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if v, ok := env.Payload().String("approvedOnDate"); !ok || v != "2024-01-01" {
		t.Fatalf("payload not restored: %q", v)
	}
}

func TestStoredResultDefaultsStatus(t *testing.T) {
	e := newEntry(t, StatusProcessed)
	e.MarkProcessed(&Result{LoanID: Ptr(int64(7)), CorrelationID: "drop-me"})
	r := e.StoredResult()
	if r.Status != StatusSuccessful {
		t.Fatalf("expected stored status %s, got %q", StatusSuccessful, r.Status)
	}
	if r.CorrelationID != "" {
		t.Fatal("correlation ids are not persisted with the result")
	}
	if r.CommandID == nil || *r.CommandID != e.ID {
		t.Fatal("stored result must reference the entry")
	}
}

func TestParseProcessingStatus(t *testing.T) {
	s, err := ParseProcessingStatus("awaiting_approval")
	if err != nil || s != StatusAwaitingApproval {
		t.Fatalf("unexpected parse: %v %v", s, err)
	}
	if _, err := ParseProcessingStatus("bogus"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestCommandLogEntryClaimedForApproval(t *testing.T) {
	e := newEntry(t, StatusInProgress)
	if e.AwaitingApproval() || e.Status.Terminal() {
		t.Fatalf("claimed entry is neither awaiting nor terminal")
	}
	if err := e.MarkRejected(User{ID: 3}, time.Unix(200, 0)); !errors.Is(err, ErrCommandNotAwaitingApproval) {
		t.Fatalf("claimed entry must not be rejectable, got %v", err)
	}
	if err := e.CanDelete(); err == nil {
		t.Fatal("claimed entry must not be deletable")
	}
	if err := e.MarkApproved(User{ID: 2}, nil, time.Unix(200, 0)); err != nil {
		t.Fatalf("the claiming checker completes the approval: %v", err)
	}
	if e.Status != StatusApproved {
		t.Fatalf("unexpected status %s", e.Status)
	}
}

func TestInProgressAndDuplicateKinds(t *testing.T) {
	if !IsConflict(fmt.Errorf("command c1: %w", ErrCommandInProgress)) {
		t.Fatal("an in-progress command must be retried as a conflict")
	}
	wrapped := fmt.Errorf("insert command c1: %w", ErrDuplicateCommand)
	if !errors.Is(wrapped, ErrDuplicateCommand) || KindOf(wrapped) != KindValidation {
		t.Fatalf("duplicate command must stay a validation error, got %v", KindOf(wrapped))
	}
	if s, err := ParseProcessingStatus("in_progress"); err != nil || s != StatusInProgress {
		t.Fatalf("parse IN_PROGRESS: %v %v", s, err)
	}
}
