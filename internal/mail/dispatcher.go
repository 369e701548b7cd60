package mail

import (
	"context"
	"fmt"

	"github.com/iliyamo/election-backend/internal/queue"
)

// Sender delivers a rendered message.  *Transport implements it.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// Dispatcher turns queue jobs into mail.  It implements queue.Handler and
// is safe for concurrent use.  Sending the same job twice only sends a
// duplicate email.
type Dispatcher struct {
	sender Sender
	brand  Brand
}

func NewDispatcher(sender Sender, brand Brand) *Dispatcher {
	return &Dispatcher{sender: sender, brand: brand}
}

// Handle renders and sends one job.
func (d *Dispatcher) Handle(ctx context.Context, job queue.Job) error {
	if job.To == "" {
		return fmt.Errorf("job %s: empty recipient", job.ID)
	}
	switch job.Kind {
	case queue.KindSendOTP:
		body := d.brand.OTPBody(job.Name, job.Code, job.ExpiresMin)
		return d.sender.Send(ctx, job.To, d.brand.OTPSubject(), body)
	case queue.KindSendBroadcast:
		body := d.brand.BroadcastBody(job.Template, job.Data, job.CTAText, job.CTAURL)
		return d.sender.Send(ctx, job.To, job.Subject, body)
	default:
		return fmt.Errorf("job %s: unknown kind %q", job.ID, job.Kind)
	}
}
