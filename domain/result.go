package domain

import "github.com/bytedance/sonic"

const (
	StatusSuccessful = "SUCCESSFUL"
	StatusFailed     = "FAILED"
)

// Result is what a handler returns on success. The zero value of every
// reference is omitted on the wire.
type Result struct {
	CorrelationID       string         `json:"correlationId,omitempty"`
	CommandID           *string        `json:"commandId,omitempty"`
	OfficeID            *int64         `json:"officeId,omitempty"`
	GroupID             *int64         `json:"groupId,omitempty"`
	ClientID            *int64         `json:"clientId,omitempty"`
	LoanID              *int64         `json:"loanId,omitempty"`
	SavingsID           *int64         `json:"savingsId,omitempty"`
	ResourceID          *int64         `json:"resourceId,omitempty"`
	SubResourceID       *int64         `json:"subResourceId,omitempty"`
	ProductID           *int64         `json:"productId,omitempty"`
	GSIMID              *int64         `json:"gsimId,omitempty"`
	GLIMID              *int64         `json:"glimId,omitempty"`
	TransactionID       *string        `json:"transactionId,omitempty"`
	ResourceIdentifier  string         `json:"resourceIdentifier,omitempty"`
	Changes             map[string]any `json:"changes,omitempty"`
	RollbackTransaction *bool          `json:"rollbackTransaction,omitempty"`
	Status              string         `json:"status,omitempty"`
}

// CorrelationIDResult is the stub returned when a command was accepted for
// asynchronous execution.
func CorrelationIDResult(correlationID string) *Result {
	return &Result{CorrelationID: correlationID}
}

// ResultFromEnvelope seeds a result with the references the command carried.
func ResultFromEnvelope(env *Envelope) *Result {
	return &Result{
		CommandID:     env.CommandID,
		OfficeID:      env.OfficeID,
		GroupID:       env.GroupID,
		ClientID:      env.ClientID,
		LoanID:        env.LoanID,
		SavingsID:     env.SavingsID,
		ResourceID:    env.EntityID,
		SubResourceID: env.SubentityID,
		ProductID:     env.ProductID,
		TransactionID: env.TransactionID,
	}
}

// Encode serializes r, defaulting the status to SUCCESSFUL.
func (r *Result) Encode() ([]byte, error) {
	out := *r
	if out.Status == "" {
		out.Status = StatusSuccessful
	}
	return sonic.Marshal(&out)
}

// DecodeResult reads a result previously written with Encode.
func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
