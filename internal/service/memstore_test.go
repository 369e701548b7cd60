package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/repository"
)

// memStore is an in-memory repository.Store.  Lock* calls take a real
// per-row mutex held until Commit or Rollback, and transactional writes are
// buffered until Commit, so concurrent transactions behave like InnoDB row
// locking under READ COMMITTED.
type memStore struct {
	mu         sync.Mutex
	users      map[uint64]*model.User
	candidates map[uint64]*model.Candidate
	votes      []model.Vote
	nextVoteID uint64
	logs       []model.OfflineVoteLog
	otps       []model.OTPCode
	actions    []model.ActionLog
	rowLocks   map[uint64]*sync.Mutex
	beginErr   error
}

func newMemStore() *memStore {
	return &memStore{
		users:      map[uint64]*model.User{},
		candidates: map[uint64]*model.Candidate{},
		rowLocks:   map[uint64]*sync.Mutex{},
	}
}

func strPtr(s string) *string { return &s }

func (s *memStore) addVoter(id uint64, nim, email string, access model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &model.User{ID: id, NIM: nim, Name: "Voter " + nim, Role: model.RoleVoter, AccessType: access}
	if email != "" {
		u.Email = strPtr(email)
	}
	s.users[id] = u
}

func (s *memStore) addCandidate(id uint64, order int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[id] = &model.Candidate{ID: id, OrderNumber: order, Name: name}
}

func (s *memStore) user(id uint64) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *memStore) voteCount(source model.Channel) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countVotesLocked(source)
}

func (s *memStore) countVotesLocked(source model.Channel) int64 {
	var n int64
	for _, v := range s.votes {
		if v.Source == source {
			n++
		}
	}
	return n
}

func (s *memStore) countCheckedInLocked() int64 {
	var n int64
	for _, u := range s.users {
		if u.DeletedAt == nil && u.CheckedIn() {
			n++
		}
	}
	return n
}

func (s *memStore) rowLock(id uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[id] = l
	}
	return l
}

func (s *memStore) userByLocked(match func(*model.User) bool) (model.User, error) {
	for _, u := range s.users {
		if u.DeletedAt == nil && match(u) {
			return *u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *memStore) BeginTx(ctx context.Context) (repository.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memTx{s: s}, nil
}

func (s *memStore) UserByID(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userByLocked(func(u *model.User) bool { return u.ID == id })
}

func (s *memStore) UserByEmail(_ context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userByLocked(func(u *model.User) bool { return u.EmailAddr() == email })
}

func (s *memStore) UserByNIM(_ context.Context, nim string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userByLocked(func(u *model.User) bool { return u.NIM == nim })
}

func (s *memStore) BroadcastRecipients(_ context.Context, nims []string) ([]model.User, error) {
	want := map[string]bool{}
	for _, n := range nims {
		want[n] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.User
	for _, u := range s.users {
		if u.DeletedAt != nil || u.Role != model.RoleVoter {
			continue
		}
		if len(nims) > 0 && !want[u.NIM] {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NIM < out[j].NIM })
	return out, nil
}

func (s *memStore) SetUserRole(_ context.Context, id uint64, role model.Role, passwordHash *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Role = role
		if passwordHash != nil {
			u.PasswordHash = passwordHash
		}
	}
	return nil
}

func (s *memStore) ActiveCandidates(context.Context) ([]model.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Candidate
	for _, c := range s.candidates {
		if c.DeletedAt == nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out, nil
}

func (s *memStore) UserByIDAny(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return *u, nil
}

func (s *memStore) CreateVoter(_ context.Context, u model.User) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var maxID uint64
	for id, have := range s.users {
		if have.NIM == u.NIM {
			return 0, repository.ErrConflict
		}
		if id > maxID {
			maxID = id
		}
	}
	u.ID = maxID + 1
	u.Role = model.RoleVoter
	s.users[u.ID] = &u
	return u.ID, nil
}

func (s *memStore) SearchVoters(_ context.Context, f model.VoterFilter) ([]model.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(f.Search))
	var match []model.User
	for _, u := range s.users {
		if u.Role != model.RoleVoter || (u.DeletedAt != nil && !f.IncludeDeleted) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(u.Name), q) &&
			!strings.Contains(strings.ToLower(u.NIM), q) && !strings.Contains(u.EmailAddr(), q) {
			continue
		}
		match = append(match, *u)
	}
	sort.Slice(match, func(i, j int) bool { return match[i].NIM < match[j].NIM })
	from, to := f.Offset(), f.Offset()+f.Limit
	if from > len(match) {
		from = len(match)
	}
	if to > len(match) {
		to = len(match)
	}
	return match[from:to], len(match), nil
}

func (s *memStore) AllUsers(context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.User
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) SetUserDeleted(_ context.Context, id uint64, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.DeletedAt = at
	return nil
}

func (s *memStore) ListCandidates(ctx context.Context, includeDeleted bool) ([]model.Candidate, error) {
	if !includeDeleted {
		return s.ActiveCandidates(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Candidate
	for _, c := range s.candidates {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out, nil
}

func (s *memStore) CandidateByID(_ context.Context, id uint64) (model.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return model.Candidate{}, repository.ErrNotFound
	}
	return *c, nil
}

func (s *memStore) orderTakenLocked(order int, except uint64) bool {
	for id, c := range s.candidates {
		if id != except && c.OrderNumber == order {
			return true
		}
	}
	return false
}

func (s *memStore) CreateCandidate(_ context.Context, c model.Candidate) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orderTakenLocked(c.OrderNumber, 0) {
		return 0, repository.ErrConflict
	}
	var maxID uint64
	for id := range s.candidates {
		if id > maxID {
			maxID = id
		}
	}
	c.ID = maxID + 1
	c.CreatedAt = time.Now()
	s.candidates[c.ID] = &c
	return c.ID, nil
}

func (s *memStore) UpdateCandidate(_ context.Context, c model.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	have, ok := s.candidates[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if s.orderTakenLocked(c.OrderNumber, c.ID) {
		return repository.ErrConflict
	}
	have.OrderNumber, have.Name = c.OrderNumber, c.Name
	have.Vision, have.Mission, have.PhotoURL = c.Vision, c.Mission, c.PhotoURL
	return nil
}

func (s *memStore) SetCandidateDeleted(_ context.Context, id uint64, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.DeletedAt = at
	return nil
}

// DeleteCandidate mirrors the votes foreign key.
func (s *memStore) DeleteCandidate(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.candidates[id]; !ok {
		return repository.ErrNotFound
	}
	for _, v := range s.votes {
		if v.CandidateID == id {
			return repository.ErrConflict
		}
	}
	delete(s.candidates, id)
	return nil
}

func (s *memStore) InsertOTP(_ context.Context, email, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otps = append(s.otps, model.OTPCode{Email: email, Code: code, ExpiresAt: expiresAt, CreatedAt: time.Now()})
	return nil
}

func (s *memStore) ConsumeOTP(_ context.Context, email, code string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, o := range s.otps {
		if o.Email == email && o.Code == code && o.ExpiresAt.After(now) {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}
	s.deleteOTPsLocked(email)
	return true, nil
}

func (s *memStore) DeleteOTPs(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteOTPsLocked(email)
	return nil
}

func (s *memStore) deleteOTPsLocked(email string) {
	kept := s.otps[:0]
	for _, o := range s.otps {
		if o.Email != email {
			kept = append(kept, o)
		}
	}
	s.otps = kept
}

func (s *memStore) otpCount(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.otps {
		if o.Email == email {
			n++
		}
	}
	return n
}

func (s *memStore) Stats(context.Context) (model.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st model.Stats
	for _, u := range s.users {
		if u.DeletedAt != nil || u.Role != model.RoleVoter {
			continue
		}
		st.TotalVoters++
		if u.HasVoted {
			st.VotesCast++
		}
	}
	st.OnlineVotes = s.countVotesLocked(model.ChannelOnline)
	st.OfflineVotes = s.countVotesLocked(model.ChannelOffline)
	st.CheckedIn = s.countCheckedInLocked()
	return st, nil
}

func (s *memStore) Results(context.Context) ([]model.CandidateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CandidateResult
	for _, c := range s.candidates {
		if c.DeletedAt != nil {
			continue
		}
		r := model.CandidateResult{ID: c.ID, Name: c.Name, OrderNumber: c.OrderNumber}
		for _, v := range s.votes {
			if v.CandidateID != c.ID {
				continue
			}
			if v.Source == model.ChannelOnline {
				r.OnlineVotes++
			} else {
				r.OfflineVotes++
			}
			r.Votes++
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out, nil
}

func (s *memStore) RecentActivity(_ context.Context, limit int) ([]model.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Activity
	for i := len(s.votes) - 1; i >= 0 && len(out) < limit; i-- {
		v := s.votes[i]
		out = append(out, model.Activity{
			ID: v.ID, Timestamp: v.CreatedAt, CandidateID: v.CandidateID,
			CandidateName: s.candidates[v.CandidateID].Name, Source: v.Source,
		})
	}
	return out, nil
}

func (s *memStore) InsertActionLog(_ context.Context, e model.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, e)
	return nil
}

type memTx struct {
	s    *memStore
	held []*sync.Mutex
	ops  []func()
	done bool
}

func (t *memTx) lockUser(match func(*model.User) bool) (model.User, error) {
	t.s.mu.Lock()
	u, err := t.s.userByLocked(match)
	t.s.mu.Unlock()
	if err != nil {
		return u, err
	}
	l := t.s.rowLock(u.ID)
	l.Lock()
	t.held = append(t.held, l)
	// re-read after the lock: the previous holder may have committed
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return *t.s.users[u.ID], nil
}

func (t *memTx) LockUserByID(_ context.Context, id uint64) (model.User, error) {
	return t.lockUser(func(u *model.User) bool { return u.ID == id })
}

func (t *memTx) LockUserByNIM(_ context.Context, nim string) (model.User, error) {
	return t.lockUser(func(u *model.User) bool { return u.NIM == nim })
}

func (t *memTx) ActiveCandidate(_ context.Context, id uint64) (model.Candidate, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	c, ok := t.s.candidates[id]
	if !ok || c.DeletedAt != nil {
		return model.Candidate{}, repository.ErrNotFound
	}
	return *c, nil
}

func (t *memTx) InsertVote(_ context.Context, candidateID uint64, source model.Channel) (uint64, error) {
	t.s.mu.Lock()
	t.s.nextVoteID++
	id := t.s.nextVoteID
	t.s.mu.Unlock()
	t.ops = append(t.ops, func() {
		t.s.votes = append(t.s.votes, model.Vote{ID: id, CandidateID: candidateID, Source: source, CreatedAt: time.Now()})
	})
	return id, nil
}

func (t *memTx) InsertVotes(ctx context.Context, candidateID uint64, source model.Channel, n int) error {
	for i := 0; i < n; i++ {
		if _, err := t.InsertVote(ctx, candidateID, source); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) LockVote(_ context.Context, id uint64) (model.Vote, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, v := range t.s.votes {
		if v.ID == id {
			return v, nil
		}
	}
	return model.Vote{}, repository.ErrNotFound
}

// DeleteRecentVote judges the window by the wall clock, standing in for
// the database's NOW().
func (t *memTx) DeleteRecentVote(_ context.Context, id uint64, grace time.Duration) error {
	t.s.mu.Lock()
	var age time.Duration
	for _, v := range t.s.votes {
		if v.ID == id {
			age = time.Since(v.CreatedAt)
		}
	}
	t.s.mu.Unlock()
	if age < 0 || age > grace {
		return repository.ErrOutsideWindow
	}
	t.ops = append(t.ops, func() {
		kept := t.s.votes[:0]
		for _, v := range t.s.votes {
			if v.ID != id {
				kept = append(kept, v)
			}
		}
		t.s.votes = kept
	})
	return nil
}

func (t *memTx) MarkVoted(_ context.Context, userID uint64, method model.Channel, at time.Time) error {
	t.ops = append(t.ops, func() {
		u := t.s.users[userID]
		u.HasVoted = true
		u.VoteMethod = &method
		u.VotedAt = &at
	})
	return nil
}

func (t *memTx) MarkCheckedIn(_ context.Context, userID, operatorID uint64, at time.Time) error {
	t.ops = append(t.ops, func() {
		u := t.s.users[userID]
		offline := model.ChannelOffline
		u.HasVoted = true
		u.VoteMethod = &offline
		u.AccessType = model.ChannelOffline
		u.VotedAt = &at
		u.CheckedInAt = &at
		u.CheckedInBy = &operatorID
	})
	return nil
}

func (t *memTx) ClearVote(_ context.Context, userID uint64) error {
	t.ops = append(t.ops, func() {
		u := t.s.users[userID]
		u.HasVoted = false
		u.VoteMethod = nil
		u.VotedAt = nil
		u.CheckedInAt = nil
		u.CheckedInBy = nil
	})
	return nil
}

func (t *memTx) CountCheckedIn(context.Context) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.countCheckedInLocked(), nil
}

func (t *memTx) CountVotesBySource(_ context.Context, source model.Channel) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.countVotesLocked(source), nil
}

func (t *memTx) InsertOfflineVoteLog(_ context.Context, candidateID uint64, count int, inputBy uint64) (uint64, error) {
	t.s.mu.Lock()
	id := uint64(len(t.s.logs) + 1)
	t.s.mu.Unlock()
	t.ops = append(t.ops, func() {
		t.s.logs = append(t.s.logs, model.OfflineVoteLog{ID: id, CandidateID: candidateID, Count: count, InputBy: inputBy})
	})
	return id, nil
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
	t.done = true
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.s.mu.Lock()
	for _, op := range t.ops {
		op()
	}
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

// countingCache records invalidations.
type countingCache struct {
	mu sync.Mutex
	n  int
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
