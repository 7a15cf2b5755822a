package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/fiterafrica/fineract-template/domain"
)

const maxHandlerResponse = 1 << 20

// HTTPHandler forwards commands to the business service that owns them,
// propagating the caller's token and tenant.
type HTTPHandler struct {
	baseURL string
	client  *http.Client
}

func NewHTTPHandler(baseURL string, timeout time.Duration) *HTTPHandler {
	return &HTTPHandler{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type handlerError struct {
	Code    string `json:"userMessageGlobalisationCode"`
	Message string `json:"defaultUserMessage"`
}

func (h *HTTPHandler) Handle(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) (*domain.Result, error) {
	body, err := env.Encode()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/commands", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if ec.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+ec.AuthToken)
	}
	req.Header.Set(domain.HeaderTenantID, ec.Tenant.ID)
	req.Header.Set(domain.HeaderRunAs, ec.User.Username)
	if ec.CorrelationID != "" {
		req.Header.Set(domain.HeaderCorrelationID, ec.CorrelationID)
	}
	if ec.ApprovedByChecker {
		req.Header.Set(domain.HeaderApprovedByChecker, "true")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call handler service: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHandlerResponse))
	if err != nil {
		return nil, fmt.Errorf("read handler response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(bytes.TrimSpace(data)) == 0 {
			return domain.ResultFromEnvelope(env), nil
		}
		return domain.DecodeResult(data)
	}
	return nil, statusError(resp.StatusCode, data)
}

func statusError(status int, data []byte) error {
	var he handlerError
	_ = sonic.Unmarshal(data, &he)
	if he.Message == "" {
		he.Message = strings.TrimSpace(string(data))
	}
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &domain.ValidationError{Code: orDefault(he.Code, "error.msg.validation"), Message: he.Message}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.AuthorizationError{Permission: orDefault(he.Code, "unknown")}
	case http.StatusNotFound:
		return &domain.NotFoundError{Resource: "resource", ID: he.Message}
	case http.StatusConflict:
		return &domain.ConflictError{Reason: orDefault(he.Message, "conflict")}
	case http.StatusPreconditionRequired:
		return domain.ErrRequiresApproval
	default:
		return &domain.BusinessError{Code: orDefault(he.Code, fmt.Sprintf("error.msg.http.%d", status)), Message: he.Message}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
