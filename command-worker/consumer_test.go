package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/fiterafrica/fineract-template/dispatch"
	"github.com/fiterafrica/fineract-template/domain"
	"github.com/fiterafrica/fineract-template/storage"
)

type fakeQueue struct {
	mu       sync.Mutex
	batches  [][]storage.Delivery
	deleted  []string
	receipts []string
	extended int
	err      error
}

func (q *fakeQueue) Receive(_ context.Context, _ int, _ time.Duration) ([]storage.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	if len(q.batches) == 0 {
		return nil, nil
	}
	b := q.batches[0]
	q.batches = q.batches[1:]
	return b, nil
}

func (q *fakeQueue) Delete(_ context.Context, d storage.Delivery) error {
	q.mu.Lock()
	q.deleted = append(q.deleted, d.ID)
	q.receipts = append(q.receipts, d.PopReceipt)
	q.mu.Unlock()
	return nil
}

func (q *fakeQueue) Extend(_ context.Context, d *storage.Delivery, _ time.Duration) error {
	q.mu.Lock()
	q.extended++
	q.mu.Unlock()
	d.PopReceipt += "+"
	return nil
}

func (q *fakeQueue) Extended() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.extended
}

func (q *fakeQueue) Receipts() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.receipts...)
}

func (q *fakeQueue) Deleted() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

type fakeSessions struct{ err error }

func (s fakeSessions) Establish(_ context.Context, h domain.Headers) (domain.ExecutionContext, error) {
	if s.err != nil {
		return domain.ExecutionContext{}, s.err
	}
	return domain.ExecutionContext{
		Tenant:        domain.Tenant{ID: h.TenantID},
		User:          domain.User{Username: h.RunAs},
		CorrelationID: h.CorrelationID,
	}, nil
}

type recordingGate struct {
	mu      sync.Mutex
	order   []string
	delay   time.Duration
	outcome *domain.Outcome
}

func (g *recordingGate) Execute(_ context.Context, ec domain.ExecutionContext, env *domain.Envelope) domain.Outcome {
	time.Sleep(g.delay)
	g.mu.Lock()
	g.order = append(g.order, ec.CorrelationID)
	g.mu.Unlock()
	if g.outcome != nil {
		return *g.outcome
	}
	return domain.Completed(domain.ResultFromEnvelope(env))
}

func (g *recordingGate) Order() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

type published struct {
	headers domain.Headers
	out     domain.Outcome
	cause   error
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, h domain.Headers, out domain.Outcome) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, published{headers: h, out: out})
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Failure(_ context.Context, h domain.Headers, cause error) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, published{headers: h, cause: cause})
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) All() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

// inlineDispatcher runs tasks on the caller's goroutine.
type inlineDispatcher struct {
	keys []string
	err  error
}

func (d *inlineDispatcher) Submit(ctx context.Context, key string, task dispatch.Task) error {
	if d.err != nil {
		return d.err
	}
	d.keys = append(d.keys, key)
	return task(ctx)
}

func commandDelivery(t *testing.T, id, correlationID string, savingsID int64) storage.Delivery {
	t.Helper()
	env, err := domain.NewEnvelope(domain.Envelope{
		ActionName: "ASYNCDEPOSIT",
		EntityName: "SAVINGSACCOUNT",
		SavingsID:  domain.Ptr(savingsID),
		JSON:       `{"transactionAmount":100}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	body, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	text, err := domain.Message{
		Headers: domain.Headers{CorrelationID: correlationID, RunAs: "mifos", TenantID: "default"},
		Body:    body,
	}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return storage.Delivery{ID: id, PopReceipt: "pop-" + id, Text: string(text), DequeueCount: 1}
}

func newTestConsumer(q *fakeQueue, s sessionResolver, g executor, p outcomePublisher, d submitter) *consumer {
	logger, _ := test.NewNullLogger()
	return &consumer{
		queue:      q,
		sessions:   s,
		gate:       g,
		publisher:  p,
		dispatcher: d,
		cfg:        consumerConfig{Batch: 16, Interval: time.Millisecond, Visibility: time.Minute, MaxDequeueCount: 5},
		logger:     logger,
	}
}

func TestConsumerDispatchesAndPublishes(t *testing.T) {
	q := &fakeQueue{batches: [][]storage.Delivery{{commandDelivery(t, "m1", "c1", 42)}}}
	gate := &recordingGate{}
	pub := &recordingPublisher{}
	d := &inlineDispatcher{}
	c := newTestConsumer(q, fakeSessions{}, gate, pub, d)

	n, err := c.poll(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("poll = %d, %v", n, err)
	}
	if len(d.keys) != 1 || d.keys[0] != "SAVINGSACCOUNT-42" {
		t.Fatalf("unexpected dispatch keys %v", d.keys)
	}
	msgs := pub.All()
	if len(msgs) != 1 || msgs[0].headers.CorrelationID != "c1" || msgs[0].out.Kind != domain.OutcomeCompleted {
		t.Fatalf("unexpected publications %+v", msgs)
	}
	if r := msgs[0].out.Result; r == nil || r.SavingsID == nil || *r.SavingsID != 42 {
		t.Fatalf("unexpected result %+v", r)
	}
	if got := q.Deleted(); len(got) != 1 || got[0] != "m1" {
		t.Fatalf("expected m1 deleted, got %v", got)
	}
}

func TestConsumerDropsUndecodableMessage(t *testing.T) {
	q := &fakeQueue{batches: [][]storage.Delivery{{{ID: "bad", Text: "not json", DequeueCount: 1}}}}
	pub := &recordingPublisher{}
	d := &inlineDispatcher{}
	c := newTestConsumer(q, fakeSessions{}, &recordingGate{}, pub, d)

	if _, err := c.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := q.Deleted(); len(got) != 1 || got[0] != "bad" {
		t.Fatalf("expected poison message deleted, got %v", got)
	}
	if len(d.keys) != 0 || len(pub.All()) != 0 {
		t.Fatalf("poison message must not be dispatched or published")
	}
}

func TestConsumerReportsMalformedEnvelope(t *testing.T) {
	text, _ := domain.Message{
		Headers: domain.Headers{CorrelationID: "c2", RunAs: "mifos", TenantID: "default"},
		Body:    []byte(`{"actionName":"","entityName":""}`),
	}.Encode()
	q := &fakeQueue{batches: [][]storage.Delivery{{{ID: "m2", Text: string(text), DequeueCount: 1}}}}
	pub := &recordingPublisher{}
	c := newTestConsumer(q, fakeSessions{}, &recordingGate{}, pub, &inlineDispatcher{})

	if _, err := c.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs := pub.All()
	if len(msgs) != 1 || msgs[0].cause == nil || msgs[0].headers.CorrelationID != "c2" {
		t.Fatalf("expected failure for c2, got %+v", msgs)
	}
	if domain.KindOf(msgs[0].cause) != domain.KindValidation {
		t.Fatalf("expected validation failure, got %v", msgs[0].cause)
	}
	if got := q.Deleted(); len(got) != 1 {
		t.Fatalf("expected message deleted, got %v", got)
	}
}

func TestConsumerDropsRedeliveredMessage(t *testing.T) {
	d := commandDelivery(t, "m3", "c3", 1)
	d.DequeueCount = 6
	q := &fakeQueue{batches: [][]storage.Delivery{{d}}}
	pub := &recordingPublisher{}
	disp := &inlineDispatcher{}
	c := newTestConsumer(q, fakeSessions{}, &recordingGate{}, pub, disp)

	if _, err := c.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(disp.keys) != 0 {
		t.Fatalf("exhausted message must not be dispatched")
	}
	if msgs := pub.All(); len(msgs) != 1 || msgs[0].cause == nil {
		t.Fatalf("expected failure publication, got %+v", msgs)
	}
	if got := q.Deleted(); len(got) != 1 || got[0] != "m3" {
		t.Fatalf("expected m3 deleted, got %v", got)
	}
}

func TestConsumerKeepsMessageWhenDispatcherRefuses(t *testing.T) {
	q := &fakeQueue{batches: [][]storage.Delivery{{commandDelivery(t, "m4", "c4", 1)}}}
	c := newTestConsumer(q, fakeSessions{}, &recordingGate{}, &recordingPublisher{}, &inlineDispatcher{err: dispatch.ErrClosed})

	if _, err := c.poll(context.Background()); !errors.Is(err, dispatch.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if got := q.Deleted(); len(got) != 0 {
		t.Fatalf("refused message must stay on the queue, deleted %v", got)
	}
}

// blockingDispatcher accepts a task only after wait has passed.
type blockingDispatcher struct {
	wait time.Duration
}

func (d blockingDispatcher) Submit(context.Context, string, dispatch.Task) error {
	time.Sleep(d.wait)
	return nil
}

func TestConsumerRenewsLeaseWhileDispatcherBlocks(t *testing.T) {
	q := &fakeQueue{batches: [][]storage.Delivery{{commandDelivery(t, "m6", "c6", 1)}}}
	c := newTestConsumer(q, fakeSessions{}, &recordingGate{}, &recordingPublisher{}, blockingDispatcher{wait: 80 * time.Millisecond})
	c.cfg.Visibility = 20 * time.Millisecond

	if _, err := c.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if q.Extended() == 0 {
		t.Fatal("lease was not renewed while the dispatcher blocked")
	}
	receipts := q.Receipts()
	if len(receipts) != 1 {
		t.Fatalf("expected one delete, got %v", receipts)
	}
	if want := "pop-m6" + strings.Repeat("+", q.Extended()); receipts[0] != want {
		t.Fatalf("delete used receipt %q, want %q", receipts[0], want)
	}
}

func TestConsumerSkipsRenewalWithoutVisibility(t *testing.T) {
	q := &fakeQueue{batches: [][]storage.Delivery{{commandDelivery(t, "m7", "c7", 1)}}}
	c := newTestConsumer(q, fakeSessions{}, &recordingGate{}, &recordingPublisher{}, blockingDispatcher{wait: 10 * time.Millisecond})
	c.cfg.Visibility = 0

	if _, err := c.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if q.Extended() != 0 {
		t.Fatalf("expected no renewal, got %d", q.Extended())
	}
	if got := q.Receipts(); len(got) != 1 || got[0] != "pop-m7" {
		t.Fatalf("unexpected delete receipts %v", got)
	}
}

func TestConsumerPublishesSessionFailure(t *testing.T) {
	q := &fakeQueue{batches: [][]storage.Delivery{{commandDelivery(t, "m5", "c5", 1)}}}
	gate := &recordingGate{}
	pub := &recordingPublisher{}
	missing := &domain.NotFoundError{Resource: "user", ID: "mifos"}
	c := newTestConsumer(q, fakeSessions{err: missing}, gate, pub, &inlineDispatcher{})

	if _, err := c.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(gate.Order()) != 0 {
		t.Fatalf("gate must not run without a session")
	}
	if msgs := pub.All(); len(msgs) != 1 || !errors.Is(msgs[0].cause, missing) {
		t.Fatalf("expected session failure published, got %+v", msgs)
	}
}

func TestConsumerPreservesOrderPerEntity(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := dispatch.New(dispatch.Config{Workers: 4, Capacity: 16}, logger)
	batch := []storage.Delivery{
		commandDelivery(t, "m1", "a1", 7),
		commandDelivery(t, "m2", "b1", 8),
		commandDelivery(t, "m3", "a2", 7),
		commandDelivery(t, "m4", "a3", 7),
	}
	q := &fakeQueue{batches: [][]storage.Delivery{batch}}
	gate := &recordingGate{delay: 5 * time.Millisecond}
	c := newTestConsumer(q, fakeSessions{}, gate, &recordingPublisher{}, d)

	if _, err := c.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	var sameAccount []string
	for _, id := range gate.Order() {
		if id[0] == 'a' {
			sameAccount = append(sameAccount, id)
		}
	}
	if len(sameAccount) != 3 || sameAccount[0] != "a1" || sameAccount[1] != "a2" || sameAccount[2] != "a3" {
		t.Fatalf("commands on one account ran out of order: %v", gate.Order())
	}
	if got := q.Deleted(); len(got) != 4 {
		t.Fatalf("expected all messages deleted, got %v", got)
	}
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	q := &fakeQueue{err: errors.New("queue unavailable")}
	c := newTestConsumer(q, fakeSessions{}, &recordingGate{}, &recordingPublisher{}, &inlineDispatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
