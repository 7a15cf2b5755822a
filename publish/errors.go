package publish

import (
	"errors"
	"net/http"

	"github.com/fiterafrica/fineract-template/domain"
)

// ErrorBody is the structured failure document sent to clients, both as a
// synchronous HTTP response and on the result channel.
type ErrorBody struct {
	CorrelationID      string         `json:"correlationId,omitempty"`
	Status             string         `json:"status,omitempty"`
	HTTPStatusCode     int            `json:"httpStatusCode"`
	Code               string         `json:"userMessageGlobalisationCode"`
	DefaultUserMessage string         `json:"defaultUserMessage"`
	DeveloperMessage   string         `json:"developerMessage,omitempty"`
	ErrorMessage       string         `json:"errorMessage,omitempty"`
	Params             map[string]any `json:"params,omitempty"`
}

type formatter func(err error) ErrorBody

// formatters is closed over domain.ErrorKind. Kinds without an entry fall
// back to the internal formatter.
var formatters = map[domain.ErrorKind]formatter{
	domain.KindValidation: func(err error) ErrorBody {
		b := withStatus(err, http.StatusBadRequest)
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			b.DefaultUserMessage = ve.Message
			b.Params = ve.Params
		}
		return b
	},
	domain.KindAuthorization: func(err error) ErrorBody {
		return withStatus(err, http.StatusForbidden)
	},
	domain.KindConflict: func(err error) ErrorBody {
		return withStatus(err, http.StatusConflict)
	},
	domain.KindApprovalRequired: func(err error) ErrorBody {
		return withStatus(err, http.StatusAccepted)
	},
	domain.KindNotFound: func(err error) ErrorBody {
		return withStatus(err, http.StatusNotFound)
	},
	domain.KindBusiness: func(err error) ErrorBody {
		b := withStatus(err, http.StatusForbidden)
		var be *domain.BusinessError
		if errors.As(err, &be) && be.Message != "" {
			b.DefaultUserMessage = be.Message
		}
		return b
	},
	domain.KindInternal: func(err error) ErrorBody {
		b := withStatus(err, http.StatusInternalServerError)
		b.DefaultUserMessage = "Platform service is unavailable"
		return b
	},
}

func withStatus(err error, status int) ErrorBody {
	return ErrorBody{
		HTTPStatusCode:     status,
		Code:               domain.ErrorCode(err),
		DefaultUserMessage: err.Error(),
		DeveloperMessage:   err.Error(),
	}
}

// FormatError maps err to the response body for its kind and tags it with
// correlationID.
func FormatError(err error, correlationID string) ErrorBody {
	f, ok := formatters[domain.KindOf(err)]
	if !ok {
		f = formatters[domain.KindInternal]
	}
	b := f(err)
	b.CorrelationID = correlationID
	return b
}
