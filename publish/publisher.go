package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/domain"
)

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fineract",
	Subsystem: "publish",
	Name:      "messages_total",
	Help:      "Result notifications by command status and delivery outcome",
}, []string{"status", "delivery"})

// Sink delivers result notifications. Successful and failed outcomes may be
// routed to different destinations.
type Sink interface {
	PublishResult(ctx context.Context, msg domain.Message) error
	PublishError(ctx context.Context, msg domain.Message) error
}

// CorrelationEnder removes a correlation id from the in-flight set.
type CorrelationEnder interface {
	End(ctx context.Context, correlationID string) error
}

// Publisher reports the outcome of an async command and closes its
// correlation id.
type Publisher struct {
	sink    Sink
	tracker CorrelationEnder
	logger  *log.Logger
}

func NewPublisher(sink Sink, tracker CorrelationEnder, logger *log.Logger) *Publisher {
	return &Publisher{sink: sink, tracker: tracker, logger: logger}
}

// Publish dispatches on the outcome kind. A parked command is reported as a
// success carrying its logged-for-approval result.
func (p *Publisher) Publish(ctx context.Context, h domain.Headers, out domain.Outcome) error {
	r, err := out.Unwrap()
	if err != nil {
		return p.Failure(ctx, h, err)
	}
	return p.Success(ctx, h, r)
}

// Success publishes r with status SUCCESSFUL unless r carries its own.
func (p *Publisher) Success(ctx context.Context, h domain.Headers, r *domain.Result) error {
	defer p.end(ctx, h.CorrelationID)

	if r == nil {
		r = &domain.Result{}
	}
	stamped := *r
	stamped.CorrelationID = h.CorrelationID
	body, err := stamped.Encode()
	if err != nil {
		publishedTotal.WithLabelValues(domain.StatusSuccessful, "encode_error").Inc()
		return fmt.Errorf("encode result: %w", err)
	}
	msg := domain.Message{Headers: outbound(h), Body: body}
	if err := p.sink.PublishResult(ctx, msg); err != nil {
		publishedTotal.WithLabelValues(domain.StatusSuccessful, "failed").Inc()
		p.logger.WithError(err).WithField("correlation_id", h.CorrelationID).Error("unable to publish command result")
		return err
	}
	publishedTotal.WithLabelValues(domain.StatusSuccessful, "ok").Inc()
	return nil
}

// Failure publishes the structured error for cause with status FAILED and
// the raw message in the error header.
func (p *Publisher) Failure(ctx context.Context, h domain.Headers, cause error) error {
	defer p.end(ctx, h.CorrelationID)

	if cause == nil {
		cause = errors.New("unknown failure")
	}
	b := FormatError(cause, h.CorrelationID)
	b.Status = domain.StatusFailed
	b.ErrorMessage = cause.Error()
	body, err := sonic.Marshal(b)
	if err != nil {
		publishedTotal.WithLabelValues(domain.StatusFailed, "encode_error").Inc()
		return fmt.Errorf("encode error body: %w", err)
	}
	headers := outbound(h)
	headers.ErrorMessage = cause.Error()
	msg := domain.Message{Headers: headers, Body: body}
	if err := p.sink.PublishError(ctx, msg); err != nil {
		publishedTotal.WithLabelValues(domain.StatusFailed, "failed").Inc()
		p.logger.WithError(err).WithField("correlation_id", h.CorrelationID).Error("unable to publish command failure")
		return err
	}
	publishedTotal.WithLabelValues(domain.StatusFailed, "ok").Inc()
	return nil
}

func (p *Publisher) end(ctx context.Context, correlationID string) {
	if correlationID == "" || p.tracker == nil {
		return
	}
	if err := p.tracker.End(context.WithoutCancel(ctx), correlationID); err != nil {
		p.logger.WithError(err).WithField("correlation_id", correlationID).Error("unable to end correlation")
	}
}

// outbound drops the caller's credentials before a message leaves the
// worker.
func outbound(h domain.Headers) domain.Headers {
	h.AuthToken = ""
	return h
}
