package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// AsyncPrefix marks action names eligible for the asynchronous path.
const AsyncPrefix = "ASYNC"

// Envelope describes one requested mutation independently of the transport
// that carried it. Absent references stay nil so they serialize as null.
type Envelope struct {
	CommandID                  *string `json:"commandId"`
	OfficeID                   *int64  `json:"officeId"`
	GroupID                    *int64  `json:"groupId"`
	ClientID                   *int64  `json:"clientId"`
	LoanID                     *int64  `json:"loanId"`
	SavingsID                  *int64  `json:"savingsId"`
	ActionName                 string  `json:"actionName"`
	EntityName                 string  `json:"entityName"`
	EntityID                   *int64  `json:"entityId"`
	SubentityID                *int64  `json:"subentityId"`
	Href                       string  `json:"href"`
	JSON                       string  `json:"json"`
	TransactionID              *string `json:"transactionId"`
	ProductID                  *int64  `json:"productId"`
	CreditBureauID             *int64  `json:"creditBureauId"`
	OrganisationCreditBureauID *int64  `json:"organisationCreditBureauId"`
	TemplateID                 *int64  `json:"templateId"`
	JobName                    *string `json:"jobName"`
	IdempotencyKey             string  `json:"idempotencyKey,omitempty"`

	payload *Payload
}

// NewEnvelope parses the JSON payload of env once and returns it ready for
// dispatch. The returned envelope must not be mutated.
func NewEnvelope(env Envelope) (*Envelope, error) {
	env.ActionName = strings.TrimSpace(env.ActionName)
	env.EntityName = strings.TrimSpace(env.EntityName)
	if env.ActionName == "" || env.EntityName == "" {
		return nil, NewValidationError("error.msg.command.incomplete", "action and entity names are required")
	}
	p, err := ParsePayload(env.JSON)
	if err != nil {
		return nil, err
	}
	env.payload = p
	env.JSON = p.Raw()
	return &env, nil
}

// DecodeEnvelope reads an envelope from its wire form.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, NewValidationError("error.msg.command.malformed", err.Error())
	}
	return NewEnvelope(env)
}

// Encode returns the wire form of the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}

// Payload returns the parsed command body shared by every handler.
func (e *Envelope) Payload() *Payload {
	if e.payload != nil {
		return e.payload
	}
	if p, err := ParsePayload(e.JSON); err == nil {
		return p
	}
	return emptyPayload()
}

// IsAsync reports whether the action carries the async marker.
func (e *Envelope) IsAsync() bool {
	return strings.HasPrefix(e.ActionName, AsyncPrefix)
}

// PermissionCode is the task permission guarding this command.
func (e *Envelope) PermissionCode() string {
	return PermissionCode(e.ActionName, e.EntityName)
}

// EntityKey derives the serialization key used by the dispatcher. Only the
// first populated reference is considered, so a command touching two
// accounts is ordered against the first one only.
func (e *Envelope) EntityKey() string {
	id := "null"
	for _, ref := range []*int64{e.SavingsID, e.LoanID, e.ClientID, e.GroupID, e.EntityID} {
		if ref != nil {
			id = strconv.FormatInt(*ref, 10)
			break
		}
	}
	return e.EntityName + "-" + id
}

// IsSelfUpdate reports whether the command changes the acting user's own
// record, which is never routed through maker-checker.
func (e *Envelope) IsSelfUpdate(userID int64) bool {
	return strings.EqualFold(e.EntityName, "USER") &&
		strings.EqualFold(e.ActionName, "UPDATE") &&
		e.EntityID != nil && *e.EntityID == userID
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s %s (%s)", e.ActionName, e.EntityName, e.EntityKey())
}

// Ptr returns a pointer to v, convenient for populating optional references.
func Ptr[T any](v T) *T { return &v }
