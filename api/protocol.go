package api

import (
	"github.com/go-playground/validator/v10"

	"github.com/fiterafrica/fineract-template/domain"
)

const (
	postCommandMaxSize = 64 * 1024 // 64 KiB
	tenantHeader       = "Fineract-Platform-TenantId"
	readMakerChecker   = "READ_MAKERCHECKER"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// POST /api/commands request body
type commandRequest struct {
	ActionName                 string  `json:"actionName" validate:"required,max=100"`
	EntityName                 string  `json:"entityName" validate:"required,max=100"`
	Href                       string  `json:"href" validate:"max=500"`
	JSON                       string  `json:"json"`
	IdempotencyKey             string  `json:"idempotencyKey" validate:"max=128"`
	OfficeID                   *int64  `json:"officeId" validate:"omitempty,gt=0"`
	GroupID                    *int64  `json:"groupId" validate:"omitempty,gt=0"`
	ClientID                   *int64  `json:"clientId" validate:"omitempty,gt=0"`
	LoanID                     *int64  `json:"loanId" validate:"omitempty,gt=0"`
	SavingsID                  *int64  `json:"savingsId" validate:"omitempty,gt=0"`
	EntityID                   *int64  `json:"entityId" validate:"omitempty,gt=0"`
	SubentityID                *int64  `json:"subentityId" validate:"omitempty,gt=0"`
	ProductID                  *int64  `json:"productId" validate:"omitempty,gt=0"`
	TransactionID              *string `json:"transactionId"`
	CreditBureauID             *int64  `json:"creditBureauId"`
	OrganisationCreditBureauID *int64  `json:"organisationCreditBureauId"`
	TemplateID                 *int64  `json:"templateId"`
	JobName                    *string `json:"jobName"`
}

func (r commandRequest) envelope() (*domain.Envelope, error) {
	return domain.NewEnvelope(domain.Envelope{
		ActionName:                 r.ActionName,
		EntityName:                 r.EntityName,
		Href:                       r.Href,
		JSON:                       r.JSON,
		IdempotencyKey:             r.IdempotencyKey,
		OfficeID:                   r.OfficeID,
		GroupID:                    r.GroupID,
		ClientID:                   r.ClientID,
		LoanID:                     r.LoanID,
		SavingsID:                  r.SavingsID,
		EntityID:                   r.EntityID,
		SubentityID:                r.SubentityID,
		ProductID:                  r.ProductID,
		TransactionID:              r.TransactionID,
		CreditBureauID:             r.CreditBureauID,
		OrganisationCreditBureauID: r.OrganisationCreditBureauID,
		TemplateID:                 r.TemplateID,
		JobName:                    r.JobName,
	})
}

// GET /api/transactions/status/:correlationId response body
type statusResponse struct {
	CorrelationID string `json:"correlationId"`
	Complete      bool   `json:"complete"`
}

// maker-checker decision response body
type decisionResponse struct {
	CommandID string `json:"commandId"`
	Status    string `json:"status"`
}

type makerCheckerQuery struct {
	Status string `query:"status"`
	Limit  int    `query:"limit" validate:"gte=0,lte=500"`
	Offset int    `query:"offset" validate:"gte=0"`
}
