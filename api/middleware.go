package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/publish"
)

const principalKey = "principal"

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers can
// work with plain JSON payloads. Requests with invalid gzip payloads are
// rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// authenticate rejects requests without a valid bearer token and stores the
// principal on the echo context.
func authenticate(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			p, err := auth.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization), c.Request().Header.Get(tenantHeader))
			m := metricsFrom(c)
			m.ObserveAuth(time.Since(start))
			if err != nil {
				m.SetErrorStage("auth")
				return c.JSON(http.StatusUnauthorized, publish.ErrorBody{
					HTTPStatusCode:     http.StatusUnauthorized,
					Code:               "error.msg.not.authenticated",
					DefaultUserMessage: "Unauthenticated. Please login.",
					DeveloperMessage:   err.Error(),
				})
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

func principalFrom(c echo.Context) Principal {
	p, _ := c.Get(principalKey).(Principal)
	return p
}

const metricsKey = "request_metrics"

// instrument wraps every request of route in requestMetrics.
func instrument(route string, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m, ctx := newRequestMetrics(c.Request().Context(), logger, route)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsKey, m)
			err := next(c)
			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				status = he.Code
			}
			m.Log(status, err)
			return err
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsKey).(*requestMetrics)
	return m
}
