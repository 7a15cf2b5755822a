package commands

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/domain"
)

var retriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fineract",
		Subsystem: "commands",
		Name:      "conflict_retries_total",
		Help:      "Conflict retries by outcome of the attempt that followed",
	},
	[]string{"result"},
)

// RetryPolicy bounds conflict retries. Both values are tenant settings.
type RetryPolicy struct {
	MaxRetries         int
	MaxIntervalSeconds int
}

// PolicyFor reads the retry bounds configured for t.
func PolicyFor(t domain.Tenant) RetryPolicy {
	p := RetryPolicy{MaxRetries: t.MaxRetries, MaxIntervalSeconds: t.MaxIntervalSeconds}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.MaxIntervalSeconds < 0 {
		p.MaxIntervalSeconds = 0
	}
	return p
}

// Backoff is the pause before the next attempt. It is at least one second
// plus a whole number of seconds drawn from [0, MaxIntervalSeconds].
func (p RetryPolicy) Backoff() time.Duration {
	jitter := 0
	if p.MaxIntervalSeconds > 0 {
		jitter = rand.Intn(p.MaxIntervalSeconds + 1)
	}
	return time.Second + time.Duration(jitter)*time.Second
}

// Retrier re-runs an attempt while it fails with a storage conflict.
type Retrier struct {
	logger *log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetrier(logger *log.Logger) *Retrier {
	return &Retrier{logger: logger, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs attempt until it succeeds, fails with a non-conflict error, or has
// failed with a conflict MaxRetries+1 times. The last conflict is returned
// unchanged in that case.
func (r *Retrier) Do(ctx context.Context, p RetryPolicy, attempt func(ctx context.Context, n int) domain.Outcome) domain.Outcome {
	retries := 0
	for {
		out := attempt(ctx, retries+1)
		if retries > 0 {
			retriesTotal.WithLabelValues(out.Kind.String()).Inc()
		}
		if out.Kind != domain.OutcomeFailed || !domain.IsConflict(out.Err) {
			return out
		}
		if retries >= p.MaxRetries {
			r.logger.WithError(out.Err).WithField("attempts", retries+1).
				Warn("command retried for the max allowed attempts and will be rolled back")
			return out
		}
		wait := p.Backoff()
		r.logger.WithError(out.Err).WithFields(log.Fields{"attempt": retries + 1, "backoff": wait}).
			Info("command hit a storage conflict, retrying")
		if err := r.sleep(ctx, wait); err != nil {
			return out
		}
		retries++
	}
}
