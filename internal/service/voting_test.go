package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCastVoteConcurrentSameVoterExactlyOnce(t *testing.T) {
	store := newMemStore()
	store.addVoter(1, "2201001", "a@x.test", model.ChannelOnline)
	store.addCandidate(10, 1, "Alpha")
	store.addCandidate(11, 2, "Beta")
	cache := &countingCache{}
	svc := NewVotingService(store, cache, quietLogger())

	const n = 64
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		already   int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := svc.CastVote(context.Background(), 1, uint64(10+i%2))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyVoted):
				already++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if successes != 1 || already != n-1 {
		t.Fatalf("successes=%d already=%d, want 1 and %d", successes, already, n-1)
	}
	if got := store.voteCount(model.ChannelOnline); got != 1 {
		t.Fatalf("ledger has %d online votes, want 1", got)
	}
	u := store.user(1)
	if !u.HasVoted || u.VoteMethod == nil || *u.VoteMethod != model.ChannelOnline || u.VotedAt == nil {
		t.Fatalf("voter state %+v", u)
	}
	if cache.count() != 1 {
		t.Fatalf("cache invalidated %d times, want 1", cache.count())
	}
}

func TestCastVoteManyVotersRandomArrival(t *testing.T) {
	store := newMemStore()
	store.addCandidate(10, 1, "Alpha")
	const voters = 20
	for i := 1; i <= voters; i++ {
		store.addVoter(uint64(i), string(rune('A'+i)), "", model.ChannelOnline)
	}
	svc := NewVotingService(store, nil, quietLogger())

	rng := rand.New(rand.NewSource(7))
	var calls []uint64
	for i := 1; i <= voters; i++ {
		for k := 0; k < 1+rng.Intn(5); k++ {
			calls = append(calls, uint64(i))
		}
	}
	rng.Shuffle(len(calls), func(i, j int) { calls[i], calls[j] = calls[j], calls[i] })

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won = map[uint64]int{}
	)
	for _, id := range calls {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if _, err := svc.CastVote(context.Background(), id, 10); err == nil {
				mu.Lock()
				won[id]++
				mu.Unlock()
			} else if !errors.Is(err, ErrAlreadyVoted) {
				t.Errorf("voter %d: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	for i := 1; i <= voters; i++ {
		if won[uint64(i)] != 1 {
			t.Fatalf("voter %d succeeded %d times", i, won[uint64(i)])
		}
	}
	if got := store.voteCount(model.ChannelOnline); got != voters {
		t.Fatalf("ledger has %d votes, want %d", got, voters)
	}
}

func TestCastVoteRejections(t *testing.T) {
	store := newMemStore()
	store.addVoter(1, "1", "on@x.test", model.ChannelOnline)
	store.addVoter(2, "2", "off@x.test", model.ChannelOffline)
	store.addCandidate(10, 1, "Alpha")
	store.addCandidate(11, 2, "Gone")
	gone := time.Now()
	store.candidates[11].DeletedAt = &gone
	cache := &countingCache{}
	svc := NewVotingService(store, cache, quietLogger())
	ctx := context.Background()

	cases := []struct {
		name      string
		voter     uint64
		candidate uint64
		want      error
	}{
		{"unknown voter", 99, 10, ErrNotFound},
		{"offline voter", 2, 10, ErrForbidden},
		{"unknown candidate", 1, 77, ErrNotFound},
		{"deleted candidate", 1, 11, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CastVote(ctx, tc.voter, tc.candidate); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
	if store.voteCount(model.ChannelOnline) != 0 || store.user(1).HasVoted {
		t.Fatal("rejected casts must not change state")
	}
	if cache.count() != 0 {
		t.Fatal("rejected casts must not invalidate the cache")
	}
}

func TestCastVoteInfraError(t *testing.T) {
	store := newMemStore()
	store.beginErr = errors.New("connection refused")
	svc := NewVotingService(store, nil, quietLogger())
	_, err := svc.CastVote(context.Background(), 1, 1)
	if !errors.Is(err, ErrTransientInfra) {
		t.Fatalf("want ErrTransientInfra, got %v", err)
	}
}

func TestVoteStatus(t *testing.T) {
	store := newMemStore()
	store.addVoter(1, "1", "", model.ChannelOnline)
	store.addCandidate(10, 1, "Alpha")
	svc := NewVotingService(store, nil, quietLogger())
	ctx := context.Background()

	st, err := svc.Status(ctx, 1)
	if err != nil || st.HasVoted || st.VoteMethod != nil || st.AccessType != model.ChannelOnline {
		t.Fatalf("before: %+v %v", st, err)
	}
	if _, err := svc.CastVote(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}
	st, err = svc.Status(ctx, 1)
	if err != nil || !st.HasVoted || *st.VoteMethod != model.ChannelOnline {
		t.Fatalf("after: %+v %v", st, err)
	}
}

func TestDeleteVoteGraceWindow(t *testing.T) {
	store := newMemStore()
	store.addVoter(1, "1", "", model.ChannelOnline)
	store.addVoter(2, "2", "", model.ChannelOnline)
	store.addCandidate(10, 1, "Alpha")
	cache := &countingCache{}
	svc := NewVotingService(store, cache, quietLogger())
	ctx := context.Background()

	fresh, err := svc.CastVote(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	old, err := svc.CastVote(ctx, 2, 10)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.DeleteVote(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown vote: %v", err)
	}
	if _, err := svc.DeleteVote(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh vote: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.DeleteVote(ctx, old.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("old vote: %v", err)
	}
	if got := store.voteCount(model.ChannelOnline); got != 1 {
		t.Fatalf("ledger has %d votes, want 1", got)
	}
	if cache.count() != 3 {
		t.Fatalf("invalidations = %d, want 3 (two casts, one delete)", cache.count())
	}
}

func (s *memStore) stampVote(id uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.votes {
		if s.votes[i].ID == id {
			s.votes[i].CreatedAt = at
		}
	}
}

func TestDeleteVoteRejectsFutureTimestamp(t *testing.T) {
	store := newMemStore()
	store.addVoter(1, "1", "", model.ChannelOnline)
	store.addCandidate(10, 1, "Alpha")
	svc := NewVotingService(store, nil, quietLogger())
	ctx := context.Background()

	v, err := svc.CastVote(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	// A database writing local time seven hours ahead of UTC.
	now := time.Now()
	store.stampVote(v.ID, now.Add(7*time.Hour))
	svc.now = func() time.Time { return now.Add(3 * time.Hour) }

	if _, err := svc.DeleteVote(ctx, v.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete 3h after cast: %v", err)
	}
	if got := store.voteCount(model.ChannelOnline); got != 1 {
		t.Fatalf("ledger has %d votes, want 1", got)
	}
}

func TestDeleteVoteWindowCheckedByStore(t *testing.T) {
	store := newMemStore()
	store.addVoter(1, "1", "", model.ChannelOnline)
	store.addCandidate(10, 1, "Alpha")
	svc := NewVotingService(store, nil, quietLogger())
	ctx := context.Background()

	v, err := svc.CastVote(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	cast := time.Now().Add(-2 * time.Minute)
	store.stampVote(v.ID, cast)
	// The application clock lags; only the store sees the vote is stale.
	svc.now = func() time.Time { return cast.Add(10 * time.Second) }

	if _, err := svc.DeleteVote(ctx, v.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stale by store clock: %v", err)
	}
	if got := store.voteCount(model.ChannelOnline); got != 1 {
		t.Fatalf("ledger has %d votes, want 1", got)
	}
}
