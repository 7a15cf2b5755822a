package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers pick retry and response behaviour
// without inspecting concrete types.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindApprovalRequired
	KindNotFound
	KindBusiness
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindApprovalRequired:
		return "approval_required"
	case KindNotFound:
		return "not_found"
	case KindBusiness:
		return "business"
	default:
		return "internal"
	}
}

// ErrConcurrencyConflict indicates that the underlying storage rejected an
// update because a newer version of the entity is already persisted.
var ErrConcurrencyConflict = &ConflictError{Reason: "concurrency conflict"}

// ErrRequiresApproval is returned by handlers that discover mid-execution
// that a checker must approve the command first.
var ErrRequiresApproval = errors.New("command requires checker approval")

var (
	ErrCommandNotFound            = errors.New("command not found")
	ErrCommandNotAwaitingApproval = errors.New("command is not awaiting approval")
	ErrCommandRejected            = errors.New("command was rejected by a checker")
)

// ErrDuplicateCommand is returned when a log entry with the same idempotency
// key already exists.
var ErrDuplicateCommand = NewValidationError("error.msg.command.duplicate", "a command with this idempotency key was already recorded")

// ErrCommandInProgress is returned while another execution of the same
// command holds its log entry. It is a conflict so the caller retries.
var ErrCommandInProgress = &ConflictError{Reason: "command is already being processed"}

type kinded interface {
	Kind() ErrorKind
}

// KindOf walks the wrap chain of err and returns the first classification
// found. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, ErrRequiresApproval):
		return KindApprovalRequired
	case errors.Is(err, ErrCommandNotFound):
		return KindNotFound
	case errors.Is(err, ErrCommandNotAwaitingApproval), errors.Is(err, ErrCommandRejected):
		return KindValidation
	}
	return KindInternal
}

// IsConflict reports whether err should be retried as a storage conflict.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// ValidationError reports a malformed or unsupported command.
type ValidationError struct {
	Code    string
	Message string
	Params  map[string]any
}

func NewValidationError(code, msg string) *ValidationError {
	return &ValidationError{Code: code, Message: msg}
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *ValidationError) Kind() ErrorKind { return KindValidation }

// AuthorizationError reports a missing execute or checker permission.
type AuthorizationError struct {
	User       string
	Permission string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s has no %s permission", e.User, e.Permission)
}

func (e *AuthorizationError) Kind() ErrorKind { return KindAuthorization }

// ConflictError wraps optimistic lock and deadlock signals from storage.
type ConflictError struct {
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Kind() ErrorKind { return KindConflict }

// NotFoundError reports a missing domain resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Kind() ErrorKind { return KindNotFound }

// BusinessError is raised by handlers when a domain rule rejects the command.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *BusinessError) Kind() ErrorKind { return KindBusiness }

// ErrorCode returns the stable code carried by err, if any.
func ErrorCode(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	switch KindOf(err) {
	case KindAuthorization:
		return "error.msg.not.authorized"
	case KindConflict:
		return "error.msg.concurrency.conflict"
	case KindNotFound:
		return "error.msg.resource.not.found"
	case KindApprovalRequired:
		return "error.msg.approval.required"
	case KindValidation:
		return "error.msg.validation"
	}
	return "error.msg.platform.service.unavailable"
}
