package main

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/storage"
)

// lease keeps a received batch hidden from other workers while the consumer
// waits on the dispatcher. Every half visibility period each message still
// held gets its visibility renewed.
type lease struct {
	queue      commandQueue
	visibility time.Duration
	logger     *log.Logger

	// mu is held across Extend calls so a released delivery always carries
	// the latest pop receipt.
	mu   sync.Mutex
	held map[string]*storage.Delivery

	done     chan struct{}
	finished chan struct{}
}

func (c *consumer) hold(ctx context.Context, deliveries []storage.Delivery) *lease {
	l := &lease{
		queue:      c.queue,
		visibility: c.cfg.Visibility,
		logger:     c.logger,
		held:       make(map[string]*storage.Delivery, len(deliveries)),
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
	for i := range deliveries {
		d := deliveries[i]
		l.held[d.ID] = &d
	}
	if c.cfg.Visibility <= 0 || len(deliveries) == 0 {
		close(l.finished)
		return l
	}
	go l.renew(ctx, c.cfg.Visibility/2)
	return l
}

func (l *lease) renew(ctx context.Context, every time.Duration) {
	defer close(l.finished)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			l.extend(ctx)
		}
	}
}

func (l *lease) extend(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, d := range l.held {
		if err := l.queue.Extend(ctx, d, l.visibility); err != nil {
			l.logger.WithError(err).WithField("message_id", id).Warn("extend command message lease")
		}
	}
}

// release stops renewing d and returns it with its current pop receipt.
func (l *lease) release(d storage.Delivery) storage.Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.held[d.ID]
	if !ok {
		return d
	}
	delete(l.held, d.ID)
	return *held
}

// stop ends renewal and waits for an extension in flight to finish.
func (l *lease) stop() {
	close(l.done)
	<-l.finished
}
