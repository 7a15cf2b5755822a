package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "github.com/fiterafrica/fineract-template/api"
	requestEventName    = "commands.request"
	requestEventDomain  = "fineract.api"
	observabilityEvent  = "observability.event"
	attrPrefix          = "fineract.request."
	requestSpanNameBase = "api "
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fineract",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "API requests by route and status code.",
	}, []string{"route", "code"})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fineract",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "API request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// requestMetrics records one API request as a span, a structured log event
// and prometheus samples. A nil *requestMetrics ignores every call.
type requestMetrics struct {
	logger       *log.Logger
	route        string
	span         trace.Span
	start        time.Time
	authDuration time.Duration
	execDuration time.Duration
	action       string
	entity       string
	outcome      string
	errorStage   string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanNameBase+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)))
	return &requestMetrics{logger: logger, route: route, span: span, start: time.Now()}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil {
		return
	}
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveExecution(d time.Duration) {
	if m == nil {
		return
	}
	if d > 0 {
		m.execDuration = d
	}
}

func (m *requestMetrics) SetCommand(action, entity string) {
	if m == nil {
		return
	}
	m.action = action
	m.entity = entity
}

func (m *requestMetrics) SetOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcome = outcome
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil {
		return
	}
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *requestMetrics) attributes(status int) map[string]any {
	attrs := map[string]any{
		"http.route":       m.route,
		"http.status_code": status,
	}
	attrs[attrPrefix+"total_ms"] = durationToMillis(time.Since(m.start))
	if m.authDuration > 0 {
		attrs[attrPrefix+"auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.execDuration > 0 {
		attrs[attrPrefix+"execute_ms"] = durationToMillis(m.execDuration)
	}
	if m.action != "" {
		attrs[attrPrefix+"action"] = m.action
		attrs[attrPrefix+"entity"] = m.entity
	}
	if m.outcome != "" {
		attrs[attrPrefix+"outcome"] = m.outcome
	}
	if m.errorStage != "" {
		attrs[attrPrefix+"error_stage"] = m.errorStage
	}
	return attrs
}

// Log ends the span and emits the request event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status)
	requestsTotal.WithLabelValues(m.route, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(m.route).Observe(time.Since(m.start).Seconds())

	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, val))
		case int:
			kvs = append(kvs, attribute.Int(k, val))
		case float64:
			kvs = append(kvs, attribute.Float64(k, val))
		}
	}
	m.span.SetAttributes(kvs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(attribute.String("event.name", requestEventName)))
	if err != nil || status >= http.StatusInternalServerError {
		if err != nil {
			m.span.RecordError(err)
		}
		m.span.SetStatus(codes.Error, http.StatusText(status))
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	severity, number := severityForStatus(status, err)
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrs,
		"severity_text":   severity,
		"severity_number": number,
	}
	if sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	switch severity {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest, err != nil:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
