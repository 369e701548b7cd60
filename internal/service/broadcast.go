package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/iliyamo/election-backend/internal/queue"
	"github.com/iliyamo/election-backend/internal/repository"
)

// BroadcastRequest is an announcement to voters.  Nims restricts the
// audience when Target is "selection"; otherwise every live voter is used.
type BroadcastRequest struct {
	Subject  string
	Template string
	Target   string
	Nims     []string
	CTAText  string
	CTAURL   string
}

// BroadcastResult counts queued, skipped and failed recipients.  Queued
// jobs are not withdrawn when a later one fails, so resending the same
// broadcast mails the queued recipients twice.
type BroadcastResult struct {
	RecipientCount int      `json:"recipientCount"`
	SkippedCount   int      `json:"skippedCount"`
	FailedCount    int      `json:"failedCount"`
	Failed         []string `json:"failed,omitempty"` // roll numbers
}

// BroadcastService fans an announcement out to one delivery job per voter.
type BroadcastService struct {
	store repository.Store
	queue Enqueuer
	log   *slog.Logger
}

func NewBroadcastService(store repository.Store, q Enqueuer, log *slog.Logger) *BroadcastService {
	if log == nil {
		log = slog.Default()
	}
	return &BroadcastService{store: store, queue: q, log: log}
}

// Send queues one send-broadcast job per recipient with a usable address.
// An enqueue failure is counted and the fan-out carries on; the call fails
// only when nothing at all could be queued.
func (s *BroadcastService) Send(ctx context.Context, req BroadcastRequest) (BroadcastResult, error) {
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Template) == "" {
		return BroadcastResult{}, rejected(ErrInvalidInput, "subject and template are required")
	}
	var nims []string
	if req.Target == "selection" {
		if len(req.Nims) == 0 {
			return BroadcastResult{}, rejected(ErrInvalidInput, "nims are required for a selection broadcast")
		}
		nims = req.Nims
	}
	users, err := s.store.BroadcastRecipients(ctx, nims)
	if err != nil {
		return BroadcastResult{}, infra("load recipients", err)
	}

	var (
		res     BroadcastResult
		lastErr error
	)
	for _, u := range users {
		addr := u.EmailAddr()
		if _, perr := mail.ParseAddress(addr); addr == "" || perr != nil {
			res.SkippedCount++
			continue
		}
		data := map[string]string{"name": u.Name, "nim": u.NIM, "email": addr}
		job := queue.NewBroadcastJob(addr, u.Name, req.Subject, req.Template, data, req.CTAText, req.CTAURL)
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.log.Error("enqueue broadcast failed", "nim", u.NIM, "err", err)
			res.FailedCount++
			res.Failed = append(res.Failed, u.NIM)
			lastErr = err
			continue
		}
		res.RecipientCount++
	}
	if res.RecipientCount == 0 {
		if lastErr != nil {
			return res, infra("enqueue broadcast", lastErr)
		}
		return res, rejected(ErrInvalidInput, "no valid recipients found")
	}
	s.log.Info("broadcast queued", "subject", req.Subject, "recipients", res.RecipientCount,
		"skipped", res.SkippedCount, "failed", res.FailedCount)
	return res, nil
}

// sampleRecipient fills previews when no roll number is given or it is
// unknown.
var sampleRecipient = map[string]string{
	"name":  "Sample Voter",
	"nim":   "0110221001",
	"email": "sample.voter@example.com",
}

// PreviewData returns the substitution map a broadcast would use for the
// voter with roll number nim.
func (s *BroadcastService) PreviewData(ctx context.Context, nim string) (map[string]string, error) {
	data := map[string]string{}
	for k, v := range sampleRecipient {
		data[k] = v
	}
	nim = strings.TrimSpace(nim)
	if nim == "" {
		return data, nil
	}
	u, err := s.store.UserByNIM(ctx, nim)
	if errors.Is(err, repository.ErrNotFound) {
		return data, nil
	}
	if err != nil {
		return nil, infra("load preview voter", err)
	}
	data["name"], data["nim"], data["email"] = u.Name, u.NIM, u.EmailAddr()
	if data["email"] == "" {
		data["email"] = "-"
	}
	return data, nil
}
