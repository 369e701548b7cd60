package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/election-backend/internal/config"
)

type ackRecord struct {
	acked, nacked, requeued bool
}

type fakeAck struct {
	mu  sync.Mutex
	rec ackRecord
}

func (f *fakeAck) Ack(uint64, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec.acked = true
	return nil
}

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec.nacked = true
	f.rec.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(_ uint64, requeue bool) error { return f.Nack(0, false, requeue) }

type published struct {
	queue string
	msg   amqp.Publishing
	job   Job
}

type fakeBroker struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (b *fakeBroker) publish(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if b.err != nil {
		return b.err
	}
	var j Job
	_ = json.Unmarshal(msg.Body, &j)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, published{queue: key, msg: msg, job: j})
	return nil
}

type countingThrottle struct{ calls int }

func (c *countingThrottle) Wait(context.Context, string, int, time.Duration) error {
	c.calls++
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func delivery(t *testing.T, job Job) (amqp.Delivery, *fakeAck) {
	t.Helper()
	body, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	ack := &fakeAck{}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body, MessageId: job.ID}, ack
}

func testPolicies() (Policy, Policy) {
	cfg := config.QueueConfig{
		OTP: config.QueuePolicyConfig{Name: "mail.otp", Concurrency: 5, Attempts: 3, BaseBackoff: time.Second, Retention: 1000},
		Broadcast: config.QueuePolicyConfig{
			Name: "mail.broadcast", Concurrency: 5, Attempts: 5, BaseBackoff: 5 * time.Second,
			Retention: 5000, ThrottleLimit: 5, ThrottleEvery: 5 * time.Second,
		},
	}
	return OTPPolicy(cfg), BroadcastPolicy(cfg)
}

func TestBackoffDoubles(t *testing.T) {
	otp, bc := testPolicies()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := otp.Backoff(i + 1); got != w {
			t.Fatalf("otp attempt %d: got %v want %v", i+1, got, w)
		}
	}
	if got := bc.Backoff(4); got != 40*time.Second {
		t.Fatalf("broadcast attempt 4: got %v", got)
	}
	if otp.Throttle != nil {
		t.Fatal("otp queue must not be throttled")
	}
	if bc.Throttle == nil || bc.Throttle.Limit != 5 || bc.Throttle.Window != 5*time.Second {
		t.Fatalf("broadcast throttle = %+v", bc.Throttle)
	}
}

func TestProcessSuccessAcks(t *testing.T) {
	otp, _ := testPolicies()
	var got Job
	w := NewWorker("", otp, HandlerFunc(func(_ context.Context, j Job) error { got = j; return nil }), nil, quietLogger())
	b := &fakeBroker{}
	d, ack := delivery(t, NewOTPJob("a@x.test", "A", "123456", 5*time.Minute))

	w.process(context.Background(), b.publish, d)

	if !ack.rec.acked || ack.rec.nacked {
		t.Fatalf("ack state %+v", ack.rec)
	}
	if got.Attempt != 1 || got.Code != "123456" || got.ExpiresMin != 5 {
		t.Fatalf("handler saw %+v", got)
	}
	if len(b.sent) != 0 {
		t.Fatal("successful jobs must not be re-published")
	}
}

func TestProcessFailureSchedulesRetryThenParks(t *testing.T) {
	otp, _ := testPolicies()
	w := NewWorker("", otp, HandlerFunc(func(context.Context, Job) error { return errors.New("smtp down") }), nil, quietLogger())
	b := &fakeBroker{}

	job := NewOTPJob("a@x.test", "A", "123456", 5*time.Minute)
	for attempt := 1; attempt <= 3; attempt++ {
		d, ack := delivery(t, job)
		w.process(context.Background(), b.publish, d)
		if !ack.rec.acked {
			t.Fatalf("attempt %d: original delivery should be acked", attempt)
		}
		last := b.sent[len(b.sent)-1]
		if last.job.Attempt != attempt || last.job.LastError != "smtp down" {
			t.Fatalf("attempt %d: republished %+v", attempt, last.job)
		}
		if attempt < 3 {
			if want := fmt.Sprintf("mail.otp.retry.%d", attempt); last.queue != want {
				t.Fatalf("attempt %d went to %s, want %s", attempt, last.queue, want)
			}
		} else if last.queue != "mail.otp.failed" {
			t.Fatalf("exhausted job went to %s", last.queue)
		}
		if last.msg.Expiration != "" {
			t.Fatalf("attempt %d: delay belongs to the queue, got expiration %q", attempt, last.msg.Expiration)
		}
		if last.msg.DeliveryMode != amqp.Persistent {
			t.Fatal("messages must be persistent")
		}
		job = last.job
	}
}

func TestProcessRequeuesWhenRetryPublishFails(t *testing.T) {
	otp, _ := testPolicies()
	w := NewWorker("", otp, HandlerFunc(func(context.Context, Job) error { return errors.New("boom") }), nil, quietLogger())
	b := &fakeBroker{err: errors.New("channel closed")}
	d, ack := delivery(t, NewOTPJob("a@x.test", "", "000001", time.Minute))

	w.process(context.Background(), b.publish, d)

	if ack.rec.acked || !ack.rec.nacked || !ack.rec.requeued {
		t.Fatalf("want nack+requeue, got %+v", ack.rec)
	}
}

func TestProcessParksUndecodable(t *testing.T) {
	otp, _ := testPolicies()
	called := false
	w := NewWorker("", otp, HandlerFunc(func(context.Context, Job) error { called = true; return nil }), nil, quietLogger())
	b := &fakeBroker{}
	ack := &fakeAck{}

	w.process(context.Background(), b.publish, amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")})

	if called {
		t.Fatal("handler must not run for garbage")
	}
	if !ack.rec.acked || len(b.sent) != 1 || b.sent[0].queue != "mail.otp.failed" {
		t.Fatalf("garbage should be parked: ack=%+v sent=%+v", ack.rec, b.sent)
	}
}

func TestBroadcastWaitsOnThrottle(t *testing.T) {
	_, bc := testPolicies()
	th := &countingThrottle{}
	w := NewWorker("", bc, HandlerFunc(func(context.Context, Job) error { return nil }), th, quietLogger())
	b := &fakeBroker{}
	for i := 0; i < 3; i++ {
		d, _ := delivery(t, NewBroadcastJob("a@x.test", "A", "Hi", "Hello {{name}}", map[string]string{"name": "A"}, "", ""))
		w.process(context.Background(), b.publish, d)
	}
	if th.calls != 3 {
		t.Fatalf("throttle waited %d times, want 3", th.calls)
	}
}

type recordingDeclarer struct {
	decls map[string]amqp.Table
}

func (r *recordingDeclarer) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue " + name + " not durable")
	}
	r.decls[name] = args
	return amqp.Queue{Name: name}, nil
}

func TestDeclareTopology(t *testing.T) {
	_, bc := testPolicies()
	d := &recordingDeclarer{decls: map[string]amqp.Table{}}
	if err := Declare(d, bc); err != nil {
		t.Fatal(err)
	}
	// work + four retry stages + parking
	if len(d.decls) != 6 {
		t.Fatalf("declared %v", d.decls)
	}
	for attempt, ttl := range map[int]int32{1: 5000, 2: 10000, 3: 20000, 4: 40000} {
		retry := d.decls[fmt.Sprintf("mail.broadcast.retry.%d", attempt)]
		if retry["x-message-ttl"] != ttl || retry["x-dead-letter-routing-key"] != "mail.broadcast" || retry["x-dead-letter-exchange"] != "" {
			t.Fatalf("retry %d args %v", attempt, retry)
		}
	}
	if _, ok := d.decls["mail.broadcast.retry.5"]; ok {
		t.Fatal("the last attempt parks instead of retrying")
	}
	if d.decls["mail.broadcast.failed"]["x-max-length"] != int32(5000) {
		t.Fatalf("failed args %v", d.decls["mail.broadcast.failed"])
	}
}

type fakeConfirm struct {
	acked bool
	block bool
}

func (f fakeConfirm) WaitContext(ctx context.Context) (bool, error) {
	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.acked, nil
}

func TestAwaitConfirm(t *testing.T) {
	publishing := func(conf confirmation, err error) publishFunc {
		return awaitConfirm(func(context.Context, string, string, bool, bool, amqp.Publishing) (confirmation, error) {
			return conf, err
		})
	}
	job := NewOTPJob("a@x.test", "A", "123456", time.Minute)

	if err := publishJob(context.Background(), publishing(fakeConfirm{acked: true}, nil), "mail.otp", job); err != nil {
		t.Fatalf("acked: %v", err)
	}
	if err := publishJob(context.Background(), publishing(fakeConfirm{}, nil), "mail.otp", job); !errors.Is(err, errNacked) {
		t.Fatalf("nacked: %v", err)
	}
	if err := publishJob(context.Background(), publishing(nil, nil), "mail.otp", job); err == nil {
		t.Fatal("a channel without confirms must not report success")
	}
	if err := publishJob(context.Background(), publishing(nil, errors.New("closed")), "mail.otp", job); err == nil {
		t.Fatal("publish error swallowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := publishJob(ctx, publishing(fakeConfirm{block: true}, nil), "mail.otp", job); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unconfirmed: %v", err)
	}
}
