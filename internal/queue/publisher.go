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

// publishFunc matches (*amqp.Channel).PublishWithContext.
type publishFunc func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

// confirmation is the part of *amqp.DeferredConfirmation Enqueue waits on.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// confirmPublishFunc is (*amqp.Channel).PublishWithDeferredConfirmWithContext
// with the confirmation behind an interface.
type confirmPublishFunc func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (confirmation, error)

var errNacked = errors.New("queue: broker nacked publish")

// awaitConfirm turns publish into a publishFunc that returns only once the
// broker has confirmed the message, so a nil error means it is stored.
func awaitConfirm(publish confirmPublishFunc) publishFunc {
	return func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
		conf, err := publish(ctx, exchange, key, mandatory, immediate, msg)
		if err != nil {
			return err
		}
		if conf == nil {
			return errors.New("queue: channel is not in confirm mode")
		}
		acked, err := conf.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("queue: wait for confirm: %w", err)
		}
		if !acked {
			return errNacked
		}
		return nil
	}
}

func channelConfirmer(ch *amqp.Channel) confirmPublishFunc {
	return func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (confirmation, error) {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
		if err != nil || dc == nil {
			return nil, err
		}
		return dc, nil
	}
}

// Publisher enqueues jobs on a long-lived channel, reconnecting lazily when
// the broker connection drops.  It is safe for concurrent use.
type Publisher struct {
	url      string
	log      *slog.Logger
	policies map[Kind]Policy

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string, log *slog.Logger, policies ...Policy) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	m := make(map[Kind]Policy, len(policies))
	for _, p := range policies {
		m[p.Kind] = p
	}
	return &Publisher{url: url, log: log, policies: m}
}

// Enqueue publishes job as a persistent message to its kind's work queue
// and waits for the broker's publisher confirm.
func (p *Publisher) Enqueue(ctx context.Context, job Job) error {
	pol, ok := p.policies[job.Kind]
	if !ok {
		return fmt.Errorf("queue: no policy for job kind %q", job.Kind)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := publishJob(ctx, awaitConfirm(channelConfirmer(ch)), pol.Queue, job); err != nil {
		p.reset()
		return fmt.Errorf("queue: publish %s: %w", job.Kind, err)
	}
	return nil
}

// channel returns the open channel, dialing and declaring topology when
// none is usable.  Callers hold p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: channel open: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue: confirm mode: %w", err)
	}
	for _, pol := range p.policies {
		if err := Declare(ch, pol); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}
	p.conn, p.ch = conn, ch
	p.log.Info("queue publisher connected")
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// publishJob marshals job and publishes it to queue through the default
// exchange.
func publishJob(ctx context.Context, publish publishFunc, queue string, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         string(job.Kind),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	return publish(ctx, "", queue, false, false, msg)
}
