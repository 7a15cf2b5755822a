package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned by Submit once Close has been called.
var ErrClosed = errors.New("dispatcher closed")

var (
	queuedItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fineract",
		Subsystem: "dispatch",
		Name:      "items",
		Help:      "Items queued or in flight",
	})
	activeKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fineract",
		Subsystem: "dispatch",
		Name:      "active_keys",
		Help:      "Entity keys with queued or in-flight items",
	})
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fineract",
		Subsystem: "dispatch",
		Name:      "items_total",
		Help:      "Items executed by result",
	}, []string{"result"})
	submitWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fineract",
		Subsystem: "dispatch",
		Name:      "submit_wait_seconds",
		Help:      "Time producers spent blocked on capacity",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

// Task is one unit of work. The context is cancelled only when Close gives
// up waiting for the queue to drain.
type Task func(ctx context.Context) error

// Config fixes the pool size and the bound on queued plus in-flight items.
type Config struct {
	Workers  int
	Capacity int
}

type keyQueue struct {
	tasks []Task
}

// Dispatcher runs tasks on a fixed pool of workers. Tasks sharing a key run
// one at a time in submission order; tasks with different keys run in
// parallel.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[string]*keyQueue
	closed bool

	slots   chan struct{}
	ready   chan string
	closing chan struct{}
	quit    chan struct{}

	pending sync.WaitGroup
	workers sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger
}

func New(cfg Config, logger *log.Logger) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = cfg.Workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queues:  make(map[string]*keyQueue),
		slots:   make(chan struct{}, cfg.Capacity),
		ready:   make(chan string, cfg.Capacity),
		closing: make(chan struct{}),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
	for i := 1; i <= cfg.Workers; i++ {
		d.workers.Add(1)
		name := fmt.Sprintf("be-worker-%d", i)
		go pprof.Do(ctx, pprof.Labels("worker", name), func(context.Context) {
			d.work(name)
		})
	}
	logger.Infof("dispatcher started, workers: %d, capacity: %d", cfg.Workers, cfg.Capacity)
	return d
}

// Submit queues task behind any earlier task with the same key. It blocks
// while the dispatcher is at capacity and never drops a task it accepted.
func (d *Dispatcher) Submit(ctx context.Context, key string, task Task) error {
	start := time.Now()
	select {
	case d.slots <- struct{}{}:
	case <-d.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	submitWait.Observe(time.Since(start).Seconds())

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.slots
		return ErrClosed
	}
	d.pending.Add(1)
	queuedItems.Inc()
	q, busy := d.queues[key]
	if !busy {
		q = &keyQueue{}
		d.queues[key] = q
		activeKeys.Inc()
	}
	q.tasks = append(q.tasks, task)
	d.mu.Unlock()

	// Every key in ready holds at least one slot, so this never blocks.
	if !busy {
		d.ready <- key
	}
	return nil
}

func (d *Dispatcher) work(name string) {
	defer d.workers.Done()
	logger := d.logger.WithField("worker", name)
	for {
		select {
		case <-d.quit:
			return
		case key := <-d.ready:
			d.mu.Lock()
			q := d.queues[key]
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			d.mu.Unlock()

			d.run(logger, key, task)

			d.mu.Lock()
			more := len(q.tasks) > 0
			if !more {
				delete(d.queues, key)
				activeKeys.Dec()
			}
			d.mu.Unlock()
			queuedItems.Dec()
			<-d.slots
			if more {
				d.ready <- key
			}
			d.pending.Done()
		}
	}
}

func (d *Dispatcher) run(logger *log.Entry, key string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			itemsTotal.WithLabelValues("panic").Inc()
			logger.WithField("key", key).Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	if err := task(d.ctx); err != nil {
		itemsTotal.WithLabelValues("error").Inc()
		logger.WithError(err).WithField("key", key).Warn("task failed")
		return
	}
	itemsTotal.WithLabelValues("ok").Inc()
}

// Close stops accepting tasks and waits for accepted ones to finish. If ctx
// ends first, running tasks see their context cancelled and Close returns
// without waiting for the rest.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.closing)
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		d.logger.WithError(err).Warn("dispatcher closed before its queue drained")
	}
	d.cancel()
	close(d.quit)
	if err == nil {
		d.workers.Wait()
	}
	return err
}
