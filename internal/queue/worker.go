package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler delivers one job.  Returning an error schedules a retry or, once
// the policy's attempts are used up, parks the job.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// Throttler blocks until one more job may start under a shared window.
type Throttler interface {
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// Worker drains one queue with Policy.Concurrency goroutines.
type Worker struct {
	url      string
	policy   Policy
	handler  Handler
	throttle Throttler
	log      *slog.Logger
}

func NewWorker(url string, policy Policy, handler Handler, throttle Throttler, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		url:      url,
		policy:   policy,
		handler:  handler,
		throttle: throttle,
		log:      log.With("queue", policy.Queue),
	}
}

// Run consumes until ctx is cancelled, redialing the broker with capped
// exponential backoff whenever the connection or channel goes away.
func (w *Worker) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(w.url)
		if err != nil {
			w.log.Warn("dial broker failed", "err", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = w.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn("consume loop ended, reconnecting", "err", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (w *Worker) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(w.policy.Concurrency, 0, false); err != nil {
		w.log.Warn("set QoS failed", "err", err)
	}
	if err := Declare(ch, w.policy); err != nil {
		return err
	}
	msgs, err := ch.Consume(w.policy.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	w.log.Info("worker consuming", "concurrency", w.policy.Concurrency)

	// amqp channels are not safe for concurrent publishes.
	var pubMu sync.Mutex
	publish := func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
		pubMu.Lock()
		defer pubMu.Unlock()
		return ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
	}

	var wg sync.WaitGroup
	for i := 0; i < w.policy.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					w.process(ctx, publish, d)
				}
			}
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("deliveries channel closed")
}

// process runs one delivery to completion: it either acks it, re-publishes
// it to the retry queue, parks it, or (when the worker is shutting down)
// hands it back to the broker.
func (w *Worker) process(ctx context.Context, publish publishFunc, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		w.log.Error("undecodable job parked", "err", err)
		w.park(ctx, publish, d, Job{ID: d.MessageId, LastError: "decode: " + err.Error(), Data: map[string]string{"raw": string(d.Body)}})
		return
	}

	if w.throttle != nil && w.policy.Throttle != nil {
		t := w.policy.Throttle
		if err := w.throttle.Wait(ctx, t.Key, t.Limit, t.Window); err != nil {
			// shutdown or counter store down: let another consumer take it
			_ = d.Nack(false, true)
			return
		}
	}

	job.Attempt++
	err := w.handler.Handle(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		w.log.Debug("job done", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
		return
	}

	job.LastError = err.Error()
	if job.Attempt >= w.policy.Attempts {
		w.log.Error("job failed permanently", "id", job.ID, "kind", job.Kind, "attempts", job.Attempt, "err", err)
		w.park(ctx, publish, d, job)
		return
	}

	delay := w.policy.Backoff(job.Attempt)
	if perr := publishJob(context.WithoutCancel(ctx), publish, w.policy.RetryQueue(job.Attempt), job); perr != nil {
		w.log.Error("schedule retry failed, requeueing", "id", job.ID, "err", perr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
	w.log.Warn("job failed, retry scheduled", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "delay", delay, "err", err)
}

func (w *Worker) park(ctx context.Context, publish publishFunc, d amqp.Delivery, job Job) {
	if err := publishJob(context.WithoutCancel(ctx), publish, w.policy.FailedQueue(), job); err != nil {
		w.log.Error("park job failed, requeueing", "id", job.ID, "err", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RunPools runs one Worker per policy and blocks until all of them return,
// which happens once ctx is cancelled.
func RunPools(ctx context.Context, url string, handler Handler, throttle Throttler, log *slog.Logger, policies ...Policy) {
	var wg sync.WaitGroup
	for _, p := range policies {
		w := NewWorker(url, p, handler, throttle, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Run(ctx)
		}()
	}
	wg.Wait()
}
