package domain

import (
	"strconv"

	"github.com/bytedance/sonic"
)

// Transport header names shared by the API, the queue and result consumers.
const (
	HeaderCorrelationID     = "X-FINERACT-CORRELATION-ID"
	HeaderAuthToken         = "X-FINERACT-AUTH_TOKEN"
	HeaderRunAs             = "X-FINERACT-RUN-AS"
	HeaderTenantID          = "X-FINERACT-TENANT-ID"
	HeaderApprovedByChecker = "X-FINERACT-APPROVED-BY-CHECKER"
	HeaderErrorMessage      = "X-FINERACT-ERROR_MESSAGE"
)

// Headers is the identity and correlation metadata travelling with a command.
type Headers struct {
	CorrelationID     string `json:"X-FINERACT-CORRELATION-ID"`
	AuthToken         string `json:"X-FINERACT-AUTH_TOKEN,omitempty"`
	RunAs             string `json:"X-FINERACT-RUN-AS"`
	TenantID          string `json:"X-FINERACT-TENANT-ID"`
	ApprovedByChecker bool   `json:"X-FINERACT-APPROVED-BY-CHECKER"`
	ErrorMessage      string `json:"X-FINERACT-ERROR_MESSAGE,omitempty"`
}

// Map flattens h into transport header pairs, skipping empty values.
func (h Headers) Map() map[string]string {
	m := map[string]string{
		HeaderCorrelationID:     h.CorrelationID,
		HeaderRunAs:             h.RunAs,
		HeaderTenantID:          h.TenantID,
		HeaderApprovedByChecker: strconv.FormatBool(h.ApprovedByChecker),
	}
	if h.AuthToken != "" {
		m[HeaderAuthToken] = h.AuthToken
	}
	if h.ErrorMessage != "" {
		m[HeaderErrorMessage] = h.ErrorMessage
	}
	return m
}

// HeadersFromMap is the inverse of Map.
func HeadersFromMap(m map[string]string) Headers {
	approved, _ := strconv.ParseBool(m[HeaderApprovedByChecker])
	return Headers{
		CorrelationID:     m[HeaderCorrelationID],
		AuthToken:         m[HeaderAuthToken],
		RunAs:             m[HeaderRunAs],
		TenantID:          m[HeaderTenantID],
		ApprovedByChecker: approved,
		ErrorMessage:      m[HeaderErrorMessage],
	}
}

// Message is the unit moved over queues and result channels.
type Message struct {
	Headers Headers                `json:"headers"`
	Body    sonic.NoCopyRawMessage `json:"body"`
}

// Encode serializes m.
func (m Message) Encode() ([]byte, error) {
	return sonic.Marshal(m)
}

// DecodeMessage parses a queue or channel payload.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := sonic.Unmarshal(data, &m); err != nil {
		return Message{}, NewValidationError("error.msg.message.malformed", err.Error())
	}
	return m, nil
}
