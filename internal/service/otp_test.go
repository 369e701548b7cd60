package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/election-backend/internal/cache"
	"github.com/iliyamo/election-backend/internal/config"
	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/queue"
	"github.com/iliyamo/election-backend/internal/ratelimit"
	"github.com/iliyamo/election-backend/internal/utils"
)

type captureQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *captureQueue) Enqueue(_ context.Context, job queue.Job) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *captureQueue) last() queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[len(q.jobs)-1]
}

type otpFixture struct {
	store *memStore
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	q     *captureQueue
	svc   *OTPService
}

const testSecret = "test-secret"

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemStore()
	store.addVoter(1, "2201001", "online@x.test", model.ChannelOnline)
	store.addVoter(2, "2201002", "offline@x.test", model.ChannelOffline)
	store.addCandidate(10, 1, "Alpha")
	store.addCandidate(11, 2, "Beta")

	cfg := config.OTPConfig{
		QuotaLimit: 3, QuotaWindow: time.Hour,
		CooldownLimit: 1, CooldownWindow: time.Minute,
		SelfServiceTTL: 5 * time.Minute, ManualTTL: 10 * time.Minute, SessionTTL: time.Hour,
		QuotaPrefix: "otp_limit", CooldownPrefix: "otp_cooldown",
	}
	q := &captureQueue{}
	svc := NewOTPService(store, ratelimit.New(rdb), q, cfg, testSecret, quietLogger())
	return &otpFixture{store: store, mr: mr, rdb: rdb, q: q, svc: svc}
}

func TestOTPRoundTripAndReplay(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	issued, err := f.svc.RequestOTP(ctx, "  Online@X.test ")
	if err != nil {
		t.Fatal(err)
	}
	if d := time.Until(issued.ExpiresAt); d < 4*time.Minute || d > 5*time.Minute {
		t.Fatalf("self-service code expires in %v", d)
	}
	job := f.q.last()
	if job.Kind != queue.KindSendOTP || job.To != "online@x.test" || len(job.Code) != 6 || job.ExpiresMin != 5 {
		t.Fatalf("queued job %+v", job)
	}

	sess, err := f.svc.VerifyOTP(ctx, "online@x.test", job.Code)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := utils.ParseSessionToken(testSecret, sess.Token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 1 || claims.NIM != "2201001" || claims.Role != "voter" {
		t.Fatalf("session claims %+v", claims)
	}
	if d := time.Until(sess.ExpiresAt); d < 59*time.Minute || d > time.Hour {
		t.Fatalf("session lifetime %v", d)
	}

	if _, err := f.svc.VerifyOTP(ctx, "online@x.test", job.Code); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("replay: %v", err)
	}
}

func TestVerifyDeletesSiblingCodes(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
		t.Fatal(err)
	}
	first := f.q.last().Code
	f.mr.FastForward(61 * time.Second)
	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
		t.Fatal(err)
	}
	second := f.q.last().Code
	if f.store.otpCount("online@x.test") != 2 {
		t.Fatal("issuing must not invalidate earlier codes")
	}

	if _, err := f.svc.VerifyOTP(ctx, "online@x.test", second); err != nil {
		t.Fatal(err)
	}
	if f.store.otpCount("online@x.test") != 0 {
		t.Fatal("verification must delete every code for the email")
	}
	if first != second {
		if _, err := f.svc.VerifyOTP(ctx, "online@x.test", first); !errors.Is(err, ErrInvalidOrExpired) {
			t.Fatalf("sibling replay: %v", err)
		}
	}
}

func TestVerifyRejectsWrongAndExpiredCodes(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	_ = f.store.InsertOTP(ctx, "online@x.test", "111111", time.Now().Add(-time.Second))
	_ = f.store.InsertOTP(ctx, "online@x.test", "222222", time.Now().Add(time.Minute))

	for _, code := range []string{"111111", "333333", "12", ""} {
		if _, err := f.svc.VerifyOTP(ctx, "online@x.test", code); !errors.Is(err, ErrInvalidOrExpired) {
			t.Fatalf("code %q: %v", code, err)
		}
	}
	if f.store.otpCount("online@x.test") != 2 {
		t.Fatal("failed verification must not change state")
	}
	if _, err := f.svc.VerifyOTP(ctx, "nobody@x.test", "222222"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("unknown email: %v", err)
	}
}

func TestRequestOTPQuota(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		f.mr.FastForward(61 * time.Second)
	}

	_, err := f.svc.RequestOTP(ctx, "online@x.test")
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.Scope != "quota" {
		t.Fatalf("fourth request: %v", err)
	}
	if rl.RemainingSeconds <= 0 || rl.RemainingSeconds > 3600 {
		t.Fatalf("remaining seconds %d", rl.RemainingSeconds)
	}
	if len(f.q.jobs) != 3 {
		t.Fatalf("queued %d jobs, want 3", len(f.q.jobs))
	}

	f.mr.FastForward(time.Hour)
	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
		t.Fatalf("after the window: %v", err)
	}
}

func TestRequestOTPCooldown(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
		t.Fatal(err)
	}
	f.mr.FastForward(10 * time.Second)
	_, err := f.svc.RequestOTP(ctx, "online@x.test")
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.Scope != "cooldown" {
		t.Fatalf("second request: %v", err)
	}
	if rl.RemainingSeconds < 49 || rl.RemainingSeconds > 50 {
		t.Fatalf("remaining seconds %d, want about 50", rl.RemainingSeconds)
	}

	f.mr.FastForward(51 * time.Second)
	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
		t.Fatalf("61s after the first: %v", err)
	}
}

func TestRequestOTPEligibility(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	voting := NewVotingService(f.store, nil, quietLogger())
	if _, err := voting.CastVote(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}

	cases := map[string]error{
		"ghost@x.test":   ErrNotFound,
		"online@x.test":  ErrAlreadyVoted,
		"offline@x.test": ErrForbidden,
		"":               ErrInvalidInput,
	}
	for email, want := range cases {
		if _, err := f.svc.RequestOTP(ctx, email); !errors.Is(err, want) {
			t.Fatalf("%q: got %v want %v", email, err, want)
		}
	}
	if len(f.q.jobs) != 0 {
		t.Fatal("ineligible requests must not queue mail")
	}
	if f.mr.Exists("otp_limit:ghost@x.test") {
		t.Fatal("eligibility is checked before the limiter")
	}
}

func TestOfflineVoterCannotVerifyOrCast(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	// a code left over from before the voter was moved offline
	_ = f.store.InsertOTP(ctx, "offline@x.test", "424242", time.Now().Add(5*time.Minute))

	if _, err := f.svc.VerifyOTP(ctx, "offline@x.test", "424242"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("verify: %v", err)
	}
	if _, err := NewVotingService(f.store, nil, quietLogger()).CastVote(ctx, 2, 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cast: %v", err)
	}
}

func TestVerifyOTPStaffAccountMessage(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	f.store.addVoter(3, "S1", "staff@x.test", model.ChannelOnline)
	f.store.users[3].Role = model.RolePanitia
	_ = f.store.InsertOTP(ctx, "staff@x.test", "111111", time.Now().Add(5*time.Minute))

	_, err := f.svc.VerifyOTP(ctx, "staff@x.test", "111111")
	if !errors.Is(err, ErrForbidden) || err.Error() != "staff accounts sign in with a password" {
		t.Fatalf("staff verify: %v", err)
	}
	_, err = f.svc.VerifyOTP(ctx, "offline@x.test", "222222")
	if err == nil || err.Error() != "this voter is registered for offline voting" {
		t.Fatalf("offline verify: %v", err)
	}
}

func TestCheckInAfterOTPRevokesOnlineChannel(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	offline := NewOfflineService(f.store, nil, quietLogger())

	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
		t.Fatal(err)
	}
	code := f.q.last().Code
	if _, err := offline.CheckIn(ctx, "2201001", 9); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.VerifyOTP(ctx, "online@x.test", code); !errors.Is(err, ErrForbidden) {
		t.Fatalf("verify after check-in: %v", err)
	}
	if _, err := offline.UnCheckIn(ctx, "2201001"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.VerifyOTP(ctx, "online@x.test", code); !errors.Is(err, ErrForbidden) {
		t.Fatalf("verify after un-check-in: %v", err)
	}
}

func TestManualOTPSkipsLimiter(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		issued, err := f.svc.IssueManualOTP(ctx, "online@x.test")
		if err != nil {
			t.Fatalf("manual %d: %v", i, err)
		}
		if d := time.Until(issued.ExpiresAt); d < 9*time.Minute || d > 10*time.Minute {
			t.Fatalf("manual code expires in %v", d)
		}
	}
	if f.mr.Exists("otp_limit:online@x.test") || f.mr.Exists("otp_cooldown:online@x.test") {
		t.Fatal("manual issuance must not touch the limiter")
	}
	if f.q.last().ExpiresMin != 10 {
		t.Fatalf("job %+v", f.q.last())
	}
	if _, err := f.svc.IssueManualOTP(ctx, "offline@x.test"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("manual for offline voter: %v", err)
	}
}

func TestResetLimit(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err == nil {
		t.Fatal("cooldown should apply")
	}
	if err := f.svc.ResetLimit(ctx, "ONLINE@x.test"); err != nil {
		t.Fatal(err)
	}
	if f.mr.Exists("otp_limit:online@x.test") || f.mr.Exists("otp_cooldown:online@x.test") {
		t.Fatal("limiter keys survived the reset")
	}
	if f.store.otpCount("online@x.test") != 0 {
		t.Fatal("codes survived the reset")
	}
	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestEnqueueFailureIsInfra(t *testing.T) {
	f := newOTPFixture(t)
	f.q.err = errors.New("broker down")
	if _, err := f.svc.RequestOTP(context.Background(), "online@x.test"); !errors.Is(err, ErrTransientInfra) {
		t.Fatalf("got %v", err)
	}
}

// Voter B requests a code, verifies, votes, and the results view shows the
// new vote straight away because the cast evicted the cached aggregates.
func TestOnlineFlowRefreshesResults(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	rc := cache.NewResults(config.CacheConfig{Enabled: true, TTL: 30 * time.Second, Prefix: "results"}, f.rdb)
	voting := NewVotingService(f.store, rc, quietLogger())
	results := NewResultsService(f.store)

	before, err := results.Results(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := rc.Set(ctx, cache.KeyResults, []byte("stale")); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.RequestOTP(ctx, "online@x.test"); err != nil {
		t.Fatal(err)
	}
	sess, err := f.svc.VerifyOTP(ctx, "online@x.test", f.q.last().Code)
	if err != nil {
		t.Fatal(err)
	}
	claims, _ := utils.ParseSessionToken(testSecret, sess.Token)
	if _, err := voting.CastVote(ctx, claims.UserID, 11); err != nil {
		t.Fatal(err)
	}

	if _, ok := rc.Get(ctx, cache.KeyResults); ok {
		t.Fatal("cast must evict cached results")
	}
	after, err := results.Results(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after[1].ID != 11 || after[1].OnlineVotes != before[1].OnlineVotes+1 || after[1].Votes != before[1].Votes+1 {
		t.Fatalf("before %+v after %+v", before[1], after[1])
	}

	stats, err := results.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.VotesCast != 1 || stats.TotalVoters != 2 || stats.Turnout != "50.00%" || stats.OnlineVotes != 1 {
		t.Fatalf("stats %+v", stats)
	}
}
