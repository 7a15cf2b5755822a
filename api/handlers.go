package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/domain"
	"github.com/fiterafrica/fineract-template/publish"
	"github.com/fiterafrica/fineract-template/storage"
)

const healthTimeout = 2 * time.Second

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) {
	auth := authenticate(deps.Auth)
	e.POST("/api/commands", postCommand(deps), instrument("/api/commands", logger), auth)
	e.GET("/api/transactions/status/:correlationId", getStatus(deps), instrument("/api/transactions/status", logger), auth)
	e.GET("/api/makercheckers", listMakerCheckers(deps), instrument("/api/makercheckers", logger), auth)
	e.POST("/api/makercheckers/:id", decideMakerChecker(deps), instrument("/api/makercheckers/:id", logger), auth)
	e.DELETE("/api/makercheckers/:id", deleteMakerChecker(deps), instrument("/api/makercheckers/:id", logger), auth)
	e.GET("/healthz", healthz(deps.Health))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func healthz(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if p == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := p.PingContext(ctx); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.NoContent(http.StatusOK)
	}
}

// session resolves the execution context of the authenticated caller.
func session(c echo.Context, s Sessions, correlationID string) (domain.ExecutionContext, error) {
	p := principalFrom(c)
	return s.Establish(c.Request().Context(), domain.Headers{
		CorrelationID: correlationID,
		AuthToken:     p.Token,
		RunAs:         p.Username,
		TenantID:      p.TenantID,
	})
}

func fail(c echo.Context, err error, correlationID string) error {
	body := publish.FormatError(err, correlationID)
	metricsFrom(c).SetErrorStage(domain.KindOf(err).String())
	return c.JSON(body.HTTPStatusCode, body)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError("error.msg.validation.errors.exist", err.Error())
	}
	ve := domain.NewValidationError("error.msg.validation.errors.exist", "Validation errors exist.")
	ve.Params = make(map[string]any, len(verrs))
	for _, fe := range verrs {
		ve.Params[fe.Field()] = fe.Tag()
	}
	return ve
}

func postCommand(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		correlationID := uuid.NewString()

		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, postCommandMaxSize))
		dec.DisallowUnknownFields()
		var req commandRequest
		if err := dec.Decode(&req); err != nil {
			return fail(c, domain.NewValidationError("error.msg.invalid.request.body", "invalid body"), correlationID)
		}
		if err := validate.Struct(req); err != nil {
			return fail(c, validationError(err), correlationID)
		}
		env, err := req.envelope()
		if err != nil {
			return fail(c, err, correlationID)
		}
		m.SetCommand(env.ActionName, env.EntityName)

		ec, err := session(c, deps.Sessions, correlationID)
		if err != nil {
			return fail(c, err, correlationID)
		}

		start := time.Now()
		out := deps.Gate.Submit(c.Request().Context(), ec, env)
		m.ObserveExecution(time.Since(start))
		m.SetOutcome(out.Kind.String())

		result, err := out.Unwrap()
		if err != nil {
			return fail(c, err, correlationID)
		}
		if result == nil {
			result = &domain.Result{}
		}
		if result.CorrelationID != "" {
			correlationID = result.CorrelationID
		}
		c.Response().Header().Set(domain.HeaderCorrelationID, correlationID)
		if out.Kind == domain.OutcomeRequiresApproval || deps.Router.IsAsync(env) {
			return c.JSON(http.StatusAccepted, result)
		}
		return c.JSON(http.StatusOK, result)
	}
}

func getStatus(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("correlationId"))
		if id == "" {
			return fail(c, domain.NewValidationError("error.msg.correlation.id.required", "correlation id is required"), "")
		}
		complete, err := deps.Tracker.IsComplete(c.Request().Context(), id)
		if err != nil {
			return fail(c, err, id)
		}
		return c.JSON(http.StatusOK, statusResponse{CorrelationID: id, Complete: complete})
	}
}

func listMakerCheckers(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var q makerCheckerQuery
		if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
			return fail(c, domain.NewValidationError("error.msg.invalid.query", err.Error()), "")
		}
		if err := validate.Struct(q); err != nil {
			return fail(c, validationError(err), "")
		}
		status := domain.StatusAwaitingApproval
		if q.Status != "" {
			var err error
			if status, err = domain.ParseProcessingStatus(q.Status); err != nil {
				return fail(c, err, "")
			}
		}

		ec, err := session(c, deps.Sessions, "")
		if err != nil {
			return fail(c, err, "")
		}
		if !ec.User.CanExecute(readMakerChecker) {
			return fail(c, &domain.AuthorizationError{User: ec.User.Username, Permission: readMakerChecker}, "")
		}

		entries, err := deps.Log.List(c.Request().Context(), storage.ListFilter{
			TenantID: ec.Tenant.ID,
			Status:   status,
			Limit:    q.Limit,
			Offset:   q.Offset,
		})
		if err != nil {
			return fail(c, err, "")
		}
		return c.JSON(http.StatusOK, entries)
	}
}

func decideMakerChecker(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		correlationID := uuid.NewString()
		ec, err := session(c, deps.Sessions, correlationID)
		if err != nil {
			return fail(c, err, correlationID)
		}
		ctx := c.Request().Context()

		switch strings.ToLower(c.QueryParam("command")) {
		case "approve":
			out := deps.Gate.Approve(ctx, ec, id)
			metricsFrom(c).SetOutcome(out.Kind.String())
			result, err := out.Unwrap()
			if err != nil {
				return fail(c, err, correlationID)
			}
			return c.JSON(http.StatusOK, result)
		case "reject":
			if err := deps.Gate.Reject(ctx, ec, id); err != nil {
				return fail(c, err, correlationID)
			}
			return c.JSON(http.StatusOK, decisionResponse{CommandID: id, Status: domain.StatusRejected.String()})
		default:
			return fail(c, domain.NewValidationError("error.msg.unsupported.command", "command must be approve or reject"), correlationID)
		}
	}
}

func deleteMakerChecker(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		ec, err := session(c, deps.Sessions, "")
		if err != nil {
			return fail(c, err, "")
		}
		if err := deps.Gate.Delete(c.Request().Context(), ec, id); err != nil {
			return fail(c, err, "")
		}
		return c.JSON(http.StatusOK, decisionResponse{CommandID: id, Status: "DELETED"})
	}
}
