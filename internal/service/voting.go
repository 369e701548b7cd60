package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/repository"
)

// Invalidator evicts cached aggregates after a ledger write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// DeleteGrace is how long after casting a vote may still be removed.
const DeleteGrace = time.Minute

var errOutsideGrace = rejected(ErrForbidden, "cannot delete a vote older than 1 minute")

// VotingService runs the online casting transaction and ledger corrections.
type VotingService struct {
	store repository.Store
	cache Invalidator
	log   *slog.Logger
	now   func() time.Time
}

func NewVotingService(store repository.Store, cache Invalidator, log *slog.Logger) *VotingService {
	if log == nil {
		log = slog.Default()
	}
	return &VotingService{store: store, cache: cache, log: log, now: time.Now}
}

// VoteStatus is what a voter sees about their own ballot.
type VoteStatus struct {
	HasVoted   bool           `json:"hasVoted"`
	VoteMethod *model.Channel `json:"voteMethod"`
	AccessType model.Channel  `json:"accessType"`
}

// CastVote records an online vote for voterID.  The voter row is locked
// for the whole transaction, so of any number of concurrent calls for one
// voter exactly one sees has_voted = false.
func (s *VotingService) CastVote(ctx context.Context, voterID, candidateID uint64) (model.Vote, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return model.Vote{}, infra("begin cast", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	voter, err := tx.LockUserByID(ctx, voterID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Vote{}, rejected(ErrNotFound, "voter not found")
	}
	if err != nil {
		return model.Vote{}, infra("lock voter", err)
	}
	if voter.HasVoted {
		return model.Vote{}, alreadyVoted(voter)
	}
	if voter.AccessType == model.ChannelOffline {
		return model.Vote{}, rejected(ErrForbidden, "this voter is registered for offline voting")
	}

	if _, err := tx.ActiveCandidate(ctx, candidateID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Vote{}, rejected(ErrNotFound, "candidate not found")
		}
		return model.Vote{}, infra("load candidate", err)
	}

	now := s.now().UTC()
	voteID, err := tx.InsertVote(ctx, candidateID, model.ChannelOnline)
	if err != nil {
		return model.Vote{}, infra("insert vote", err)
	}
	if err := tx.MarkVoted(ctx, voterID, model.ChannelOnline, now); err != nil {
		return model.Vote{}, infra("mark voted", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Vote{}, infra("commit cast", err)
	}
	committed = true

	s.invalidate(ctx)
	return model.Vote{ID: voteID, CandidateID: candidateID, Source: model.ChannelOnline, CreatedAt: now}, nil
}

// Status reports the caller's voting state.
func (s *VotingService) Status(ctx context.Context, voterID uint64) (VoteStatus, error) {
	u, err := s.store.UserByID(ctx, voterID)
	if errors.Is(err, repository.ErrNotFound) {
		return VoteStatus{}, rejected(ErrNotFound, "voter not found")
	}
	if err != nil {
		return VoteStatus{}, infra("load voter", err)
	}
	return VoteStatus{HasVoted: u.HasVoted, VoteMethod: u.VoteMethod, AccessType: u.AccessType}, nil
}

// DeleteVote removes a ledger entry cast less than DeleteGrace ago.  Older
// votes are permanent.  A vote stamped in the future fails the check too;
// the delete statement repeats it against the database clock.
func (s *VotingService) DeleteVote(ctx context.Context, voteID uint64) (model.Vote, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return model.Vote{}, infra("begin delete", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	v, err := tx.LockVote(ctx, voteID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Vote{}, rejected(ErrNotFound, "vote not found")
	}
	if err != nil {
		return model.Vote{}, infra("lock vote", err)
	}
	if age := s.now().Sub(v.CreatedAt); age < 0 || age > DeleteGrace {
		return model.Vote{}, errOutsideGrace
	}
	if err := tx.DeleteRecentVote(ctx, voteID, DeleteGrace); err != nil {
		if errors.Is(err, repository.ErrOutsideWindow) {
			return model.Vote{}, errOutsideGrace
		}
		return model.Vote{}, infra("delete vote", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Vote{}, infra("commit delete", err)
	}
	committed = true

	s.invalidate(ctx)
	return v, nil
}

func (s *VotingService) invalidate(ctx context.Context) {
	invalidate(ctx, s.cache, s.log)
}

func invalidate(ctx context.Context, c Invalidator, log *slog.Logger) {
	if c == nil {
		return
	}
	if err := c.Invalidate(context.WithoutCancel(ctx)); err != nil {
		log.Warn("results cache invalidation failed", "err", err)
	}
}

func alreadyVoted(u model.User) error {
	if u.VoteMethod != nil {
		return rejected(ErrAlreadyVoted, "already voted (%s)", *u.VoteMethod)
	}
	return rejected(ErrAlreadyVoted, "already voted")
}
