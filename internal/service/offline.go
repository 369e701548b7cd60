package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/repository"
)

// MaxTallyCount caps a single tally entry.
const MaxTallyCount = 10000

// OfflineService handles in-person check-in and paper ballot tally entry.
//
// Tally entry recomputes the guard from committed state on every call.
// tallyMu serializes tally entries and un-check-ins within this process;
// concurrent entries from separate processes may still overlap.
type OfflineService struct {
	store   repository.Store
	cache   Invalidator
	log     *slog.Logger
	now     func() time.Time
	tallyMu sync.Mutex
}

func NewOfflineService(store repository.Store, cache Invalidator, log *slog.Logger) *OfflineService {
	if log == nil {
		log = slog.Default()
	}
	return &OfflineService{store: store, cache: cache, log: log, now: time.Now}
}

// TallyResult reports a successful tally entry.
type TallyResult struct {
	LogID       uint64 `json:"logId"`
	CandidateID uint64 `json:"candidateId"`
	Count       int    `json:"count"`
	Present     int64  `json:"present"`
	Tallied     int64  `json:"tallied"`
	Remaining   int64  `json:"remaining"`
}

// CheckIn marks the voter with roll number nim as physically present.  It
// consumes the voting right and makes the voter offline-only.
func (s *OfflineService) CheckIn(ctx context.Context, nim string, operatorID uint64) (model.User, error) {
	nim = strings.TrimSpace(nim)
	if nim == "" {
		return model.User{}, rejected(ErrInvalidInput, "nim is required")
	}
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return model.User{}, infra("begin check-in", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	u, err := tx.LockUserByNIM(ctx, nim)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, rejected(ErrNotFound, "voter %s not found", nim)
	}
	if err != nil {
		return model.User{}, infra("lock voter", err)
	}
	if u.HasVoted {
		if u.VoteMethod != nil && *u.VoteMethod == model.ChannelOnline {
			return model.User{}, rejected(ErrAlreadyVoted, "voter %s already voted online", nim)
		}
		return model.User{}, rejected(ErrAlreadyVoted, "voter %s is already checked in", nim)
	}

	now := s.now().UTC()
	if err := tx.MarkCheckedIn(ctx, u.ID, operatorID, now); err != nil {
		return model.User{}, infra("check in", err)
	}
	if err := tx.Commit(); err != nil {
		return model.User{}, infra("commit check-in", err)
	}
	committed = true

	offline := model.ChannelOffline
	u.HasVoted = true
	u.VoteMethod = &offline
	u.AccessType = model.ChannelOffline
	u.VotedAt = &now
	u.CheckedInAt = &now
	u.CheckedInBy = &operatorID
	s.invalidate(ctx)
	return u, nil
}

// UnCheckIn reverts a check-in.  Online votes cannot be undone here, and a
// check-in whose ballot is already tallied cannot be withdrawn because the
// tally would then exceed attendance.  The voter stays offline-only.
func (s *OfflineService) UnCheckIn(ctx context.Context, nim string) (model.User, error) {
	nim = strings.TrimSpace(nim)
	if nim == "" {
		return model.User{}, rejected(ErrInvalidInput, "nim is required")
	}
	s.tallyMu.Lock()
	defer s.tallyMu.Unlock()

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return model.User{}, infra("begin un-check-in", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	u, err := tx.LockUserByNIM(ctx, nim)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, rejected(ErrNotFound, "voter %s not found", nim)
	}
	if err != nil {
		return model.User{}, infra("lock voter", err)
	}
	if u.VoteMethod != nil && *u.VoteMethod == model.ChannelOnline {
		return model.User{}, rejected(ErrForbidden, "voter %s voted online; that vote cannot be undone", nim)
	}
	if !u.CheckedIn() {
		return model.User{}, rejected(ErrInvalidInput, "voter %s is not checked in", nim)
	}

	present, tallied, err := offlineCounts(ctx, tx)
	if err != nil {
		return model.User{}, err
	}
	if tallied >= present {
		return model.User{}, rejected(ErrForbidden,
			"cannot undo check-in: %d offline ballots already tallied for %d checked-in voters", tallied, present)
	}

	if err := tx.ClearVote(ctx, u.ID); err != nil {
		return model.User{}, infra("clear check-in", err)
	}
	if err := tx.Commit(); err != nil {
		return model.User{}, infra("commit un-check-in", err)
	}
	committed = true

	u.HasVoted = false
	u.VoteMethod = nil
	u.VotedAt = nil
	u.CheckedInAt = nil
	u.CheckedInBy = nil
	s.invalidate(ctx)
	return u, nil
}

// ManualVote records count paper ballots for candidateID entered by
// operatorID.  It fails with *InflationGuardError when the offline ledger
// would exceed the number of checked-in voters.
func (s *OfflineService) ManualVote(ctx context.Context, candidateID uint64, count int, operatorID uint64) (TallyResult, error) {
	if count < 1 || count > MaxTallyCount {
		return TallyResult{}, rejected(ErrInvalidInput, "count must be between 1 and %d", MaxTallyCount)
	}
	s.tallyMu.Lock()
	defer s.tallyMu.Unlock()

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return TallyResult{}, infra("begin tally", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ActiveCandidate(ctx, candidateID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TallyResult{}, rejected(ErrNotFound, "candidate not found")
		}
		return TallyResult{}, infra("load candidate", err)
	}

	present, tallied, err := offlineCounts(ctx, tx)
	if err != nil {
		return TallyResult{}, err
	}
	attempted := int64(count)
	if tallied+attempted > present {
		remaining := present - tallied
		if remaining < 0 {
			remaining = 0
		}
		return TallyResult{}, &InflationGuardError{
			Present:   present,
			Tallied:   tallied,
			Attempted: attempted,
			Excess:    tallied + attempted - present,
			Remaining: remaining,
		}
	}

	logID, err := tx.InsertOfflineVoteLog(ctx, candidateID, count, operatorID)
	if err != nil {
		return TallyResult{}, infra("insert tally log", err)
	}
	if err := tx.InsertVotes(ctx, candidateID, model.ChannelOffline, count); err != nil {
		return TallyResult{}, infra("insert offline votes", err)
	}
	if err := tx.Commit(); err != nil {
		return TallyResult{}, infra("commit tally", err)
	}
	committed = true

	s.invalidate(ctx)
	return TallyResult{
		LogID:       logID,
		CandidateID: candidateID,
		Count:       count,
		Present:     present,
		Tallied:     tallied + attempted,
		Remaining:   present - tallied - attempted,
	}, nil
}

func (s *OfflineService) invalidate(ctx context.Context) {
	invalidate(ctx, s.cache, s.log)
}

func offlineCounts(ctx context.Context, tx repository.Tx) (present, tallied int64, err error) {
	present, err = tx.CountCheckedIn(ctx)
	if err != nil {
		return 0, 0, infra("count checked in", err)
	}
	tallied, err = tx.CountVotesBySource(ctx, model.ChannelOffline)
	if err != nil {
		return 0, 0, infra("count offline votes", err)
	}
	return present, tallied, nil
}
