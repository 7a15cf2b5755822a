package publish

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/fiterafrica/fineract-template/domain"
)

type fakeTracker struct {
	mu    sync.Mutex
	ended []string
}

func (f *fakeTracker) End(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, id)
	return nil
}

type fakeSink struct {
	results []domain.Message
	errs    []domain.Message
	fail    error
}

func (f *fakeSink) PublishResult(_ context.Context, msg domain.Message) error {
	if f.fail != nil {
		return f.fail
	}
	f.results = append(f.results, msg)
	return nil
}

func (f *fakeSink) PublishError(_ context.Context, msg domain.Message) error {
	if f.fail != nil {
		return f.fail
	}
	f.errs = append(f.errs, msg)
	return nil
}

func testHeaders() domain.Headers {
	return domain.Headers{CorrelationID: "corr-1", AuthToken: "secret", RunAs: "maker", TenantID: "default"}
}

func TestSuccessStampsStatusAndCorrelation(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &fakeSink{}
	tracker := &fakeTracker{}
	p := NewPublisher(sink, tracker, logger)

	if err := p.Success(context.Background(), testHeaders(), &domain.Result{SavingsID: domain.Ptr(int64(7))}); err != nil {
		t.Fatalf("success: %v", err)
	}
	if len(sink.results) != 1 {
		t.Fatalf("expected one result message")
	}
	msg := sink.results[0]
	if msg.Headers.AuthToken != "" {
		t.Fatalf("auth token leaked onto the result channel")
	}
	r, err := domain.DecodeResult(msg.Body)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != domain.StatusSuccessful || r.CorrelationID != "corr-1" || *r.SavingsID != 7 {
		t.Fatalf("unexpected result %+v", r)
	}
	if len(tracker.ended) != 1 || tracker.ended[0] != "corr-1" {
		t.Fatalf("correlation id not ended: %v", tracker.ended)
	}
}

func TestFailureCarriesErrorMessage(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &fakeSink{}
	tracker := &fakeTracker{}
	p := NewPublisher(sink, tracker, logger)

	cause := domain.NewValidationError("error.msg.invalid.json", "payload is not JSON")
	if err := p.Failure(context.Background(), testHeaders(), cause); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if len(sink.errs) != 1 {
		t.Fatalf("expected one error message")
	}
	msg := sink.errs[0]
	if msg.Headers.ErrorMessage != cause.Error() {
		t.Fatalf("error header missing: %+v", msg.Headers)
	}
	var b ErrorBody
	if err := sonic.Unmarshal(msg.Body, &b); err != nil {
		t.Fatal(err)
	}
	if b.Status != domain.StatusFailed || b.CorrelationID != "corr-1" || b.ErrorMessage != cause.Error() {
		t.Fatalf("unexpected body %+v", b)
	}
	if b.Code != "error.msg.invalid.json" || b.HTTPStatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected mapping %+v", b)
	}
	if len(tracker.ended) != 1 {
		t.Fatalf("correlation id not ended")
	}
}

func TestTrackerEndedWhenPublishingFails(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tracker := &fakeTracker{}
	p := NewPublisher(&fakeSink{fail: errors.New("broker down")}, tracker, logger)

	if err := p.Success(context.Background(), testHeaders(), &domain.Result{}); err == nil {
		t.Fatalf("expected publish error")
	}
	if err := p.Failure(context.Background(), testHeaders(), errors.New("boom")); err == nil {
		t.Fatalf("expected publish error")
	}
	if len(tracker.ended) != 2 {
		t.Fatalf("tracker must be cleared even when publishing fails, got %v", tracker.ended)
	}
	if len(hook.AllEntries()) == 0 {
		t.Fatalf("expected publish failures to be logged")
	}
}

func TestPublishOutcome(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &fakeSink{}
	p := NewPublisher(sink, &fakeTracker{}, logger)

	entry := &domain.CommandLogEntry{ID: "cmd-1", Status: domain.StatusAwaitingApproval}
	_ = p.Publish(context.Background(), testHeaders(), domain.RequiresApproval(entry))
	_ = p.Publish(context.Background(), testHeaders(), domain.Failed(domain.ErrConcurrencyConflict))

	if len(sink.results) != 1 || len(sink.errs) != 1 {
		t.Fatalf("unexpected routing: %d results, %d errors", len(sink.results), len(sink.errs))
	}
	r, _ := domain.DecodeResult(sink.results[0].Body)
	if r.CommandID == nil || *r.CommandID != "cmd-1" || r.RollbackTransaction == nil || !*r.RollbackTransaction {
		t.Fatalf("parked command should be reported with its log entry: %+v", r)
	}
}

func TestFormatErrorKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&domain.AuthorizationError{User: "u", Permission: "DEPOSIT_SAVINGSACCOUNT"}, http.StatusForbidden, "error.msg.not.authorized"},
		{domain.ErrConcurrencyConflict, http.StatusConflict, "error.msg.concurrency.conflict"},
		{&domain.NotFoundError{Resource: "command", ID: "x"}, http.StatusNotFound, "error.msg.resource.not.found"},
		{&domain.BusinessError{Code: "error.msg.savings.insufficient", Message: "insufficient funds"}, http.StatusForbidden, "error.msg.savings.insufficient"},
		{errors.New("nil pointer"), http.StatusInternalServerError, "error.msg.platform.service.unavailable"},
	}
	for _, tc := range cases {
		b := FormatError(tc.err, "corr-9")
		if b.HTTPStatusCode != tc.status || b.Code != tc.code || b.CorrelationID != "corr-9" {
			t.Errorf("%v: unexpected body %+v", tc.err, b)
		}
	}
}

func TestRedisSinkPublishesToChannel(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	ctx := context.Background()

	pubsub := rc.Subscribe(ctx, "command-results")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	done := make(chan string, 1)
	go func() {
		msg := <-pubsub.Channel()
		done <- msg.Payload
	}()

	logger, _ := test.NewNullLogger()
	p := NewPublisher(NewRedisSink(rc, "command-results"), &fakeTracker{}, logger)
	if err := p.Failure(ctx, testHeaders(), errors.New("boom")); err != nil {
		t.Fatalf("failure: %v", err)
	}

	select {
	case pl := <-done:
		msg, err := domain.DecodeMessage([]byte(pl))
		if err != nil {
			t.Fatal(err)
		}
		if msg.Headers.CorrelationID != "corr-1" || msg.Headers.ErrorMessage != "boom" {
			t.Fatalf("unexpected message %+v", msg.Headers)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message received")
	}
}

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaSinkRoutesByOutcome(t *testing.T) {
	logger, _ := test.NewNullLogger()
	w := &recordingWriter{}
	sink := newKafkaSink(w, KafkaConfig{ResultTopic: "results", ErrorTopic: "errors"}, logger)
	p := NewPublisher(sink, &fakeTracker{}, logger)

	_ = p.Success(context.Background(), testHeaders(), &domain.Result{})
	_ = p.Failure(context.Background(), testHeaders(), errors.New("boom"))

	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if w.msgs[0].Topic != "results" || w.msgs[1].Topic != "errors" {
		t.Fatalf("unexpected topics %s, %s", w.msgs[0].Topic, w.msgs[1].Topic)
	}
	if string(w.msgs[1].Key) != "corr-1" {
		t.Fatalf("messages must be keyed by correlation id")
	}
	found := false
	for _, h := range w.msgs[1].Headers {
		if h.Key == domain.HeaderErrorMessage && string(h.Value) == "boom" {
			found = true
		}
	}
	if !found {
		t.Fatalf("error header missing from kafka message")
	}

	single := newKafkaSink(w, KafkaConfig{ResultTopic: "results"}, logger)
	if single.errorTopic != "results" {
		t.Fatalf("failures should default to the result topic")
	}
}
