package queue

import (
	"fmt"
	"time"

	"github.com/iliyamo/election-backend/internal/config"
)

// Throttle caps how many jobs may start per Window across every worker
// sharing Key.
type Throttle struct {
	Key    string
	Limit  int
	Window time.Duration
}

// Policy describes one queue and how its jobs are retried.
type Policy struct {
	Kind        Kind
	Queue       string
	Concurrency int
	Attempts    int
	BaseBackoff time.Duration
	Retention   int
	Throttle    *Throttle
}

// RetryQueue holds jobs whose attempt-th try failed.  Each attempt gets its
// own queue so every message in it shares one TTL and expires in order.
func (p Policy) RetryQueue(attempt int) string { return fmt.Sprintf("%s.retry.%d", p.Queue, attempt) }
func (p Policy) FailedQueue() string           { return p.Queue + ".failed" }

// Backoff is the delay before the next try after attempt failures:
// base * 2^(attempt-1).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func policyFrom(kind Kind, c config.QueuePolicyConfig) Policy {
	p := Policy{
		Kind:        kind,
		Queue:       c.Name,
		Concurrency: c.Concurrency,
		Attempts:    c.Attempts,
		BaseBackoff: c.BaseBackoff,
		Retention:   c.Retention,
	}
	if p.Concurrency < 1 {
		p.Concurrency = 1
	}
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = time.Second
	}
	if c.ThrottleLimit > 0 && c.ThrottleEvery > 0 {
		p.Throttle = &Throttle{Key: "throttle:" + c.Name, Limit: c.ThrottleLimit, Window: c.ThrottleEvery}
	}
	return p
}

// OTPPolicy is the high-priority, unthrottled policy for codes.
func OTPPolicy(cfg config.QueueConfig) Policy { return policyFrom(KindSendOTP, cfg.OTP) }

// BroadcastPolicy is the throttled policy for bulk announcements.
func BroadcastPolicy(cfg config.QueueConfig) Policy {
	return policyFrom(KindSendBroadcast, cfg.Broadcast)
}
