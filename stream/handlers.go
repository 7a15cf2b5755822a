package stream

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/api"
)

const (
	tenantHeader      = "Fineract-Platform-TenantId"
	defaultHeartbeat  = 30 * time.Second
	sseDataPrefix     = "data: "
	sseEventSeparator = "\n\n"
)

type Authenticator interface {
	Authenticate(authHeader, tenantHeader string) (api.Principal, error)
}

// Handler serves the result stream.
type Handler struct {
	Sessions  *Sessions
	Auth      Authenticator
	Logger    *log.Logger
	Heartbeat time.Duration
}

// Register wires up stream endpoints on the given Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/results", h.streamResults)
}

// streamResults authenticates the caller, registers a connection and
// writes every routed notification as an SSE data frame. Browsers cannot
// set headers on an EventSource, so the token and tenant may also come
// from the query string.
func (h *Handler) streamResults(c echo.Context) error {
	req := c.Request()
	authHeader := req.Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	tenant := req.Header.Get(tenantHeader)
	if tenant == "" {
		tenant = c.QueryParam("tenantId")
	}
	p, err := h.Auth.Authenticate(authHeader, tenant)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	conn := h.Sessions.Register(User{TenantID: p.TenantID, Username: p.Username})
	defer h.Sessions.Unregister(conn.Key)
	logger := h.Logger.WithFields(log.Fields{"tenant": p.TenantID, "user": p.Username, "connection": conn.Key})
	logger.Debug("result stream opened")
	defer logger.Debug("result stream closed")

	if _, err := res.Write([]byte("event: session\n" + sseDataPrefix + `{"connectionKey":"` + conn.Key + `"}` + sseEventSeparator)); err != nil {
		return err
	}
	flusher.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := res.Write([]byte(":" + sseEventSeparator)); err != nil {
				logger.WithError(err).Debug("heartbeat failed")
				return nil
			}
		case data := <-conn.Events():
			if _, err := res.Write([]byte(sseDataPrefix)); err != nil {
				logger.WithError(err).Error("write notification")
				return nil
			}
			if _, err := res.Write(data); err != nil {
				logger.WithError(err).Error("write notification")
				return nil
			}
			if _, err := res.Write([]byte(sseEventSeparator)); err != nil {
				logger.WithError(err).Error("write notification")
				return nil
			}
		}
		flusher.Flush()
	}
}
