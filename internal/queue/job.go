// Package queue carries mail delivery jobs over RabbitMQ.  Each job class
// has its own durable work queue, one retry queue per failed attempt that
// dead-letters back into it once the attempt's backoff has elapsed, and a
// bounded parking queue for jobs that ran out of attempts.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates job payloads.
type Kind string

const (
	KindSendOTP       Kind = "send-otp"
	KindSendBroadcast Kind = "send-broadcast"
)

// Job is the JSON payload of every message.  Attempt counts completed tries
// and travels with the message across retries.
type Job struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
	LastError string    `json:"last_error,omitempty"`

	To   string `json:"to"`
	Name string `json:"name,omitempty"`

	// send-otp
	Code       string `json:"code,omitempty"`
	ExpiresMin int    `json:"expires_min,omitempty"`

	// send-broadcast
	Subject  string            `json:"subject,omitempty"`
	Template string            `json:"template,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	CTAText  string            `json:"cta_text,omitempty"`
	CTAURL   string            `json:"cta_url,omitempty"`
}

// NewOTPJob builds a send-otp job.
func NewOTPJob(to, name, code string, ttl time.Duration) Job {
	return Job{
		ID:         uuid.NewString(),
		Kind:       KindSendOTP,
		CreatedAt:  time.Now().UTC(),
		To:         to,
		Name:       name,
		Code:       code,
		ExpiresMin: int(ttl / time.Minute),
	}
}

// NewBroadcastJob builds a send-broadcast job.  template may contain
// {{key}} placeholders resolved from data at delivery time.
func NewBroadcastJob(to, name, subject, template string, data map[string]string, ctaText, ctaURL string) Job {
	return Job{
		ID:        uuid.NewString(),
		Kind:      KindSendBroadcast,
		CreatedAt: time.Now().UTC(),
		To:        to,
		Name:      name,
		Subject:   subject,
		Template:  template,
		Data:      data,
		CTAText:   ctaText,
		CTAURL:    ctaURL,
	}
}
