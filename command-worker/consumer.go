package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/dispatch"
	"github.com/fiterafrica/fineract-template/domain"
	"github.com/fiterafrica/fineract-template/storage"
)

type commandQueue interface {
	Receive(ctx context.Context, max int, visibility time.Duration) ([]storage.Delivery, error)
	Delete(ctx context.Context, d storage.Delivery) error
	Extend(ctx context.Context, d *storage.Delivery, visibility time.Duration) error
}

type sessionResolver interface {
	Establish(ctx context.Context, h domain.Headers) (domain.ExecutionContext, error)
}

type executor interface {
	Execute(ctx context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome
}

type outcomePublisher interface {
	Publish(ctx context.Context, h domain.Headers, out domain.Outcome) error
	Failure(ctx context.Context, h domain.Headers, cause error) error
}

type submitter interface {
	Submit(ctx context.Context, key string, task dispatch.Task) error
}

type consumerConfig struct {
	Batch           int
	Interval        time.Duration
	Visibility      time.Duration
	MaxDequeueCount int64
}

// consumer moves commands from the queue onto the dispatcher. A message is
// deleted once the dispatcher has accepted it, or straight away when it can
// never be processed. Until then its visibility is renewed, so a dispatcher
// that blocks does not hand the message to a second worker.
type consumer struct {
	queue      commandQueue
	sessions   sessionResolver
	gate       executor
	publisher  outcomePublisher
	dispatcher submitter
	cfg        consumerConfig
	logger     *log.Logger
}

func (c *consumer) run(ctx context.Context) {
	c.logger.WithFields(log.Fields{
		"batch":    c.cfg.Batch,
		"interval": c.cfg.Interval,
	}).Info("command consumer started")
	for {
		n, err := c.poll(ctx)
		if ctx.Err() != nil {
			c.logger.Info("command consumer stopped")
			return
		}
		if err != nil {
			c.logger.WithError(err).Error("receive commands")
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
				c.logger.Info("command consumer stopped")
				return
			case <-time.After(c.cfg.Interval):
			}
		}
	}
}

// poll handles one batch and returns its size.
func (c *consumer) poll(ctx context.Context) (int, error) {
	deliveries, err := c.queue.Receive(ctx, c.cfg.Batch, c.cfg.Visibility)
	if err != nil {
		return 0, err
	}
	l := c.hold(ctx, deliveries)
	defer l.stop()
	for _, d := range deliveries {
		if err := c.handle(ctx, d, l); err != nil {
			return len(deliveries), err
		}
	}
	return len(deliveries), nil
}

// handle returns an error only when the dispatcher refused the message,
// which leaves it on the queue for another attempt.
func (c *consumer) handle(ctx context.Context, d storage.Delivery, l *lease) error {
	logger := c.logger.WithField("message_id", d.ID)
	msg, err := domain.DecodeMessage([]byte(d.Text))
	if err != nil {
		logger.WithError(err).Error("dropping undecodable command message")
		c.delete(ctx, l.release(d), logger)
		return nil
	}
	logger = logger.WithFields(log.Fields{
		"correlation_id": msg.Headers.CorrelationID,
		"tenant":         msg.Headers.TenantID,
		"user":           msg.Headers.RunAs,
	})
	if c.cfg.MaxDequeueCount > 0 && d.DequeueCount > c.cfg.MaxDequeueCount {
		logger.WithField("dequeue_count", d.DequeueCount).Error("dropping command message after too many deliveries")
		c.fail(ctx, msg.Headers, fmt.Errorf("command delivered %d times without completing", d.DequeueCount), logger)
		c.delete(ctx, l.release(d), logger)
		return nil
	}
	env, err := domain.DecodeEnvelope(msg.Body)
	if err != nil {
		logger.WithError(err).Error("dropping command message with malformed envelope")
		c.fail(ctx, msg.Headers, err, logger)
		c.delete(ctx, l.release(d), logger)
		return nil
	}

	if err := c.dispatcher.Submit(ctx, env.EntityKey(), c.task(msg.Headers, env)); err != nil {
		return fmt.Errorf("dispatch %s: %w", msg.Headers.CorrelationID, err)
	}
	logger.WithField("key", env.EntityKey()).Debug("command dispatched")
	c.delete(ctx, l.release(d), logger)
	return nil
}

// task runs env as the user named in h and reports the outcome.
func (c *consumer) task(h domain.Headers, env *domain.Envelope) dispatch.Task {
	return func(ctx context.Context) error {
		ec, err := c.sessions.Establish(ctx, h)
		if err != nil {
			return c.publisher.Failure(ctx, h, err)
		}
		return c.publisher.Publish(ctx, h, c.gate.Execute(ctx, ec, env))
	}
}

func (c *consumer) fail(ctx context.Context, h domain.Headers, cause error, logger *log.Entry) {
	if err := c.publisher.Failure(ctx, h, cause); err != nil {
		logger.WithError(err).Error("publish command failure")
	}
}

func (c *consumer) delete(ctx context.Context, d storage.Delivery, logger *log.Entry) {
	if err := c.queue.Delete(context.WithoutCancel(ctx), d); err != nil {
		logger.WithError(err).Warn("delete command message")
	}
}
