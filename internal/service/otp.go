package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/election-backend/internal/config"
	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/queue"
	"github.com/iliyamo/election-backend/internal/ratelimit"
	"github.com/iliyamo/election-backend/internal/repository"
	"github.com/iliyamo/election-backend/internal/utils"
)

// Limiter is the fixed-window counter used for OTP quotas.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error)
	Reset(ctx context.Context, keys ...string) error
}

// Enqueuer hands a delivery job to the mail queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// OTPService issues and verifies one-time codes for online voters.
type OTPService struct {
	store   repository.Store
	limiter Limiter
	queue   Enqueuer
	cfg     config.OTPConfig
	secret  string
	log     *slog.Logger
	now     func() time.Time
	gen     func() (string, error)
}

func NewOTPService(store repository.Store, limiter Limiter, q Enqueuer, cfg config.OTPConfig, jwtSecret string, log *slog.Logger) *OTPService {
	if log == nil {
		log = slog.Default()
	}
	return &OTPService{
		store:   store,
		limiter: limiter,
		queue:   q,
		cfg:     cfg,
		secret:  jwtSecret,
		log:     log,
		now:     time.Now,
		gen:     utils.GenerateOTP,
	}
}

// Issued describes a code that was stored and queued for delivery.
type Issued struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VoterSession is returned by a successful verification.
type VoterSession struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      model.User `json:"-"`
}

func (s *OTPService) quotaKey(email string) string    { return s.cfg.QuotaPrefix + ":" + email }
func (s *OTPService) cooldownKey(email string) string { return s.cfg.CooldownPrefix + ":" + email }

// RequestOTP runs the self-service issuance path: eligibility checks, then
// the hourly quota, then the cooldown.  A rejected limiter check still
// counts against its own window.
func (s *OTPService) RequestOTP(ctx context.Context, email string) (Issued, error) {
	email = normalizeEmail(email)
	u, err := s.eligibleVoter(ctx, email)
	if err != nil {
		return Issued{}, err
	}

	quota, err := s.limiter.Check(ctx, s.quotaKey(email), s.cfg.QuotaLimit, s.cfg.QuotaWindow)
	if err != nil {
		return Issued{}, infra("otp quota", err)
	}
	if !quota.Allowed {
		return Issued{}, &RateLimitError{Scope: "quota", RemainingSeconds: quota.RetryAfterSeconds()}
	}
	cool, err := s.limiter.Check(ctx, s.cooldownKey(email), s.cfg.CooldownLimit, s.cfg.CooldownWindow)
	if err != nil {
		return Issued{}, infra("otp cooldown", err)
	}
	if !cool.Allowed {
		return Issued{}, &RateLimitError{Scope: "cooldown", RemainingSeconds: cool.RetryAfterSeconds()}
	}

	return s.issue(ctx, u, email, s.cfg.SelfServiceTTL)
}

// IssueManualOTP is the operator-triggered path: a longer-lived code and no
// rate limiting.  Eligibility rules still apply.
func (s *OTPService) IssueManualOTP(ctx context.Context, email string) (Issued, error) {
	email = normalizeEmail(email)
	u, err := s.eligibleVoter(ctx, email)
	if err != nil {
		return Issued{}, err
	}
	return s.issue(ctx, u, email, s.cfg.ManualTTL)
}

// VerifyOTP exchanges a valid code for a voter session.  Success removes
// every outstanding code for the email, so neither this code nor a sibling
// can be replayed.
func (s *OTPService) VerifyOTP(ctx context.Context, email, code string) (VoterSession, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || len(code) != 6 {
		return VoterSession{}, rejected(ErrInvalidOrExpired, "invalid or expired code")
	}
	u, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return VoterSession{}, rejected(ErrInvalidOrExpired, "invalid or expired code")
	}
	if err != nil {
		return VoterSession{}, infra("load voter", err)
	}
	if u.Role != model.RoleVoter {
		return VoterSession{}, rejected(ErrForbidden, "staff accounts sign in with a password")
	}
	if u.AccessType == model.ChannelOffline {
		return VoterSession{}, rejected(ErrForbidden, "this voter is registered for offline voting")
	}
	if u.HasVoted {
		return VoterSession{}, alreadyVoted(u)
	}

	ok, err := s.store.ConsumeOTP(ctx, email, code, s.now())
	if err != nil {
		return VoterSession{}, infra("consume otp", err)
	}
	if !ok {
		return VoterSession{}, rejected(ErrInvalidOrExpired, "invalid or expired code")
	}

	tok, err := utils.NewSessionToken(s.secret, utils.Session{
		UserID: u.ID, NIM: u.NIM, Name: u.Name, Role: string(u.Role),
	}, s.cfg.SessionTTL)
	if err != nil {
		return VoterSession{}, infra("sign session", err)
	}
	return VoterSession{Token: tok.Token, ExpiresAt: tok.Exp, User: u}, nil
}

// ResetLimit clears both limiter windows and every outstanding code for
// email so the voter can start over.
func (s *OTPService) ResetLimit(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return rejected(ErrInvalidInput, "email is required")
	}
	if err := s.limiter.Reset(ctx, s.quotaKey(email), s.cooldownKey(email)); err != nil {
		return infra("reset otp limits", err)
	}
	if err := s.store.DeleteOTPs(ctx, email); err != nil {
		return infra("delete otp codes", err)
	}
	return nil
}

// eligibleVoter applies the checks shared by both issuance paths.
func (s *OTPService) eligibleVoter(ctx context.Context, email string) (model.User, error) {
	if email == "" {
		return model.User{}, rejected(ErrInvalidInput, "email is required")
	}
	u, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, rejected(ErrNotFound, "email is not registered as a voter")
	}
	if err != nil {
		return model.User{}, infra("load voter", err)
	}
	if u.Role != model.RoleVoter {
		return model.User{}, rejected(ErrForbidden, "only voters can request a code")
	}
	if u.HasVoted {
		return model.User{}, alreadyVoted(u)
	}
	if u.AccessType == model.ChannelOffline {
		return model.User{}, rejected(ErrForbidden, "this voter is registered for offline voting")
	}
	return u, nil
}

func (s *OTPService) issue(ctx context.Context, u model.User, email string, ttl time.Duration) (Issued, error) {
	code, err := s.gen()
	if err != nil {
		return Issued{}, infra("generate otp", err)
	}
	expires := s.now().UTC().Add(ttl)
	if err := s.store.InsertOTP(ctx, email, code, expires); err != nil {
		return Issued{}, infra("store otp", err)
	}
	// Once enqueued the request has succeeded; delivery failures are the
	// queue's to retry.  The stored code stays valid if enqueueing fails.
	if err := s.queue.Enqueue(ctx, queue.NewOTPJob(email, u.Name, code, ttl)); err != nil {
		s.log.Error("enqueue otp delivery failed", "email", email, "err", err)
		return Issued{}, infra("enqueue otp", err)
	}
	s.log.Info("otp issued", "email", email, "expires_at", expires)
	return Issued{Email: email, ExpiresAt: expires}, nil
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }
