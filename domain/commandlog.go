package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus tracks a command log entry through maker-checker.
type ProcessingStatus int

const (
	StatusInvalid ProcessingStatus = iota
	StatusProcessed
	StatusAwaitingApproval
	StatusApproved
	StatusRejected
	// StatusInProgress marks an entry whose command is executing: an
	// idempotency key reserved ahead of the handler, or an approval claimed
	// by a checker.
	StatusInProgress
)

var statusNames = map[ProcessingStatus]string{
	StatusInvalid:          "INVALID",
	StatusProcessed:        "PROCESSED",
	StatusAwaitingApproval: "AWAITING_APPROVAL",
	StatusApproved:         "APPROVED",
	StatusRejected:         "REJECTED",
	StatusInProgress:       "IN_PROGRESS",
}

func (s ProcessingStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return statusNames[StatusInvalid]
}

// ParseProcessingStatus accepts the names produced by String.
func ParseProcessingStatus(v string) (ProcessingStatus, error) {
	for s, n := range statusNames {
		if s != StatusInvalid && strings.EqualFold(n, v) {
			return s, nil
		}
	}
	return StatusInvalid, NewValidationError("error.msg.makerchecker.status.invalid", fmt.Sprintf("unknown status %q", v))
}

func (s ProcessingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ProcessingStatus) UnmarshalText(b []byte) error {
	v, err := ParseProcessingStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal reports whether no further transition is allowed.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusProcessed
}

// CommandLogEntry is the persisted audit and maker-checker record of a
// command.
type CommandLogEntry struct {
	ID             string           `json:"id" db:"id"`
	TenantID       string           `json:"tenantId" db:"tenant_id"`
	ActionName     string           `json:"actionName" db:"action_name"`
	EntityName     string           `json:"entityName" db:"entity_name"`
	PermissionCode string           `json:"permissionCode" db:"permission_code"`
	Href           string           `json:"href" db:"api_get_url"`
	CommandJSON    string           `json:"commandAsJson" db:"command_as_json"`
	EnvelopeJSON   string           `json:"-" db:"envelope_json"`
	ResourceID     *int64           `json:"resourceId,omitempty" db:"resource_id"`
	SubResourceID  *int64           `json:"subResourceId,omitempty" db:"subresource_id"`
	OfficeID       *int64           `json:"officeId,omitempty" db:"office_id"`
	GroupID        *int64           `json:"groupId,omitempty" db:"group_id"`
	ClientID       *int64           `json:"clientId,omitempty" db:"client_id"`
	LoanID         *int64           `json:"loanId,omitempty" db:"loan_id"`
	SavingsID      *int64           `json:"savingsId,omitempty" db:"savings_account_id"`
	ProductID      *int64           `json:"productId,omitempty" db:"product_id"`
	TransactionID  *string          `json:"transactionId,omitempty" db:"transaction_id"`
	Status         ProcessingStatus `json:"processingResult" db:"status"`
	MakerID        int64            `json:"makerId" db:"maker_id"`
	MadeOn         int64            `json:"madeOn" db:"made_on"`
	CheckerID      *int64           `json:"checkerId,omitempty" db:"checker_id"`
	CheckedOn      *int64           `json:"checkedOn,omitempty" db:"checked_on"`
	IdempotencyKey *string          `json:"idempotencyKey,omitempty" db:"idempotency_key"`
	ResultJSON     *string          `json:"result,omitempty" db:"result"`
}

// NewCommandLogEntry records env as submitted by maker.
func NewCommandLogEntry(tenantID string, env *Envelope, maker User, status ProcessingStatus, now time.Time) (*CommandLogEntry, error) {
	raw, err := env.Encode()
	if err != nil {
		return nil, err
	}
	e := &CommandLogEntry{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ActionName:     env.ActionName,
		EntityName:     env.EntityName,
		PermissionCode: env.PermissionCode(),
		Href:           env.Href,
		CommandJSON:    env.JSON,
		EnvelopeJSON:   string(raw),
		ResourceID:     env.EntityID,
		SubResourceID:  env.SubentityID,
		OfficeID:       env.OfficeID,
		GroupID:        env.GroupID,
		ClientID:       env.ClientID,
		LoanID:         env.LoanID,
		SavingsID:      env.SavingsID,
		ProductID:      env.ProductID,
		TransactionID:  env.TransactionID,
		Status:         status,
		MakerID:        maker.ID,
		MadeOn:         now.UnixMilli(),
	}
	if env.IdempotencyKey != "" {
		e.IdempotencyKey = Ptr(env.IdempotencyKey)
	}
	return e, nil
}

// Envelope rebuilds the stored command so it can be executed on approval.
func (e *CommandLogEntry) Envelope() (*Envelope, error) {
	env, err := DecodeEnvelope([]byte(e.EnvelopeJSON))
	if err != nil {
		return nil, fmt.Errorf("rehydrate command %s: %w", e.ID, err)
	}
	env.CommandID = Ptr(e.ID)
	return env, nil
}

// AwaitingApproval reports whether a checker may still act on the entry.
func (e *CommandLogEntry) AwaitingApproval() bool {
	return e.Status == StatusAwaitingApproval
}

// MarkApproved records the checker decision and the resolved resources. The
// entry is either still awaiting approval or claimed by the approving checker.
func (e *CommandLogEntry) MarkApproved(checker User, r *Result, now time.Time) error {
	if !e.AwaitingApproval() && e.Status != StatusInProgress {
		return fmt.Errorf("approve %s: %w", e.ID, ErrCommandNotAwaitingApproval)
	}
	e.Status = StatusApproved
	e.markChecked(checker, now)
	e.applyResult(r)
	return nil
}

// MarkRejected records a rejection. Nothing is executed.
func (e *CommandLogEntry) MarkRejected(checker User, now time.Time) error {
	if !e.AwaitingApproval() {
		return fmt.Errorf("reject %s: %w", e.ID, ErrCommandNotAwaitingApproval)
	}
	e.Status = StatusRejected
	e.markChecked(checker, now)
	return nil
}

// MarkProcessed stores the outcome of an immediately executed command.
func (e *CommandLogEntry) MarkProcessed(r *Result) {
	e.Status = StatusProcessed
	e.applyResult(r)
}

// CanDelete returns an error unless the entry is still awaiting approval.
func (e *CommandLogEntry) CanDelete() error {
	if !e.AwaitingApproval() {
		return fmt.Errorf("delete %s: %w", e.ID, ErrCommandNotAwaitingApproval)
	}
	return nil
}

func (e *CommandLogEntry) markChecked(checker User, now time.Time) {
	e.CheckerID = Ptr(checker.ID)
	e.CheckedOn = Ptr(now.UnixMilli())
}

func (e *CommandLogEntry) applyResult(r *Result) {
	if r == nil {
		return
	}
	if r.ResourceID != nil {
		e.ResourceID = r.ResourceID
	}
	if r.SubResourceID != nil {
		e.SubResourceID = r.SubResourceID
	}
	if r.OfficeID != nil {
		e.OfficeID = r.OfficeID
	}
	if r.GroupID != nil {
		e.GroupID = r.GroupID
	}
	if r.ClientID != nil {
		e.ClientID = r.ClientID
	}
	if r.LoanID != nil {
		e.LoanID = r.LoanID
	}
	if r.SavingsID != nil {
		e.SavingsID = r.SavingsID
	}
	if r.ProductID != nil {
		e.ProductID = r.ProductID
	}
	if r.TransactionID != nil {
		e.TransactionID = r.TransactionID
	}
	stored := *r
	stored.CorrelationID = ""
	stored.CommandID = Ptr(e.ID)
	if data, err := stored.Encode(); err == nil {
		e.ResultJSON = Ptr(string(data))
	}
}

// StoredResult returns the result persisted with the entry. Entries that
// never ran yield a result carrying only their references.
func (e *CommandLogEntry) StoredResult() *Result {
	if e.ResultJSON != nil {
		if r, err := DecodeResult([]byte(*e.ResultJSON)); err == nil {
			return r
		}
	}
	return e.LoggedResult()
}

// LoggedResult is what the submitter receives when the command was parked
// for approval.
func (e *CommandLogEntry) LoggedResult() *Result {
	return &Result{
		CommandID:           Ptr(e.ID),
		OfficeID:            e.OfficeID,
		GroupID:             e.GroupID,
		ClientID:            e.ClientID,
		LoanID:              e.LoanID,
		SavingsID:           e.SavingsID,
		ResourceID:          e.ResourceID,
		SubResourceID:       e.SubResourceID,
		ProductID:           e.ProductID,
		TransactionID:       e.TransactionID,
		RollbackTransaction: Ptr(e.Status == StatusAwaitingApproval),
	}
}
