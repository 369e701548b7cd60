package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
)

// Tx is one database transaction.  Methods named Lock* take an exclusive
// row lock (SELECT ... FOR UPDATE) held until Commit or Rollback; a second
// transaction locking the same row waits and then sees the committed state.
type Tx interface {
	LockUserByID(ctx context.Context, id uint64) (model.User, error)
	LockUserByNIM(ctx context.Context, nim string) (model.User, error)
	ActiveCandidate(ctx context.Context, id uint64) (model.Candidate, error)

	InsertVote(ctx context.Context, candidateID uint64, source model.Channel) (uint64, error)
	InsertVotes(ctx context.Context, candidateID uint64, source model.Channel, n int) error
	LockVote(ctx context.Context, id uint64) (model.Vote, error)
	DeleteRecentVote(ctx context.Context, id uint64, grace time.Duration) error

	MarkVoted(ctx context.Context, userID uint64, method model.Channel, at time.Time) error
	MarkCheckedIn(ctx context.Context, userID, operatorID uint64, at time.Time) error
	ClearVote(ctx context.Context, userID uint64) error

	CountCheckedIn(ctx context.Context) (int64, error)
	CountVotesBySource(ctx context.Context, source model.Channel) (int64, error)
	InsertOfflineVoteLog(ctx context.Context, candidateID uint64, count int, inputBy uint64) (uint64, error)

	Commit() error
	Rollback() error
}

// Store is everything the service layer reads or writes.  Single-statement
// operations run directly on the pool; multi-step ones go through BeginTx.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	UserByID(ctx context.Context, id uint64) (model.User, error)
	UserByEmail(ctx context.Context, email string) (model.User, error)
	UserByNIM(ctx context.Context, nim string) (model.User, error)
	BroadcastRecipients(ctx context.Context, nims []string) ([]model.User, error)
	SetUserRole(ctx context.Context, id uint64, role model.Role, passwordHash *string) error
	UserByIDAny(ctx context.Context, id uint64) (model.User, error)
	CreateVoter(ctx context.Context, u model.User) (uint64, error)
	SearchVoters(ctx context.Context, f model.VoterFilter) ([]model.User, int, error)
	AllUsers(ctx context.Context) ([]model.User, error)
	SetUserDeleted(ctx context.Context, id uint64, at *time.Time) error

	ActiveCandidates(ctx context.Context) ([]model.Candidate, error)
	ListCandidates(ctx context.Context, includeDeleted bool) ([]model.Candidate, error)
	CandidateByID(ctx context.Context, id uint64) (model.Candidate, error)
	CreateCandidate(ctx context.Context, c model.Candidate) (uint64, error)
	UpdateCandidate(ctx context.Context, c model.Candidate) error
	SetCandidateDeleted(ctx context.Context, id uint64, at *time.Time) error
	DeleteCandidate(ctx context.Context, id uint64) error

	InsertOTP(ctx context.Context, email, code string, expiresAt time.Time) error
	ConsumeOTP(ctx context.Context, email, code string, now time.Time) (bool, error)
	DeleteOTPs(ctx context.Context, email string) error

	Stats(ctx context.Context) (model.Stats, error)
	Results(ctx context.Context) ([]model.CandidateResult, error)
	RecentActivity(ctx context.Context, limit int) ([]model.Activity, error)

	InsertActionLog(ctx context.Context, entry model.ActionLog) error
}

// MySQLStore implements Store over a *sql.DB by delegating to the per-table
// repositories.
type MySQLStore struct {
	db         *sql.DB
	Users      *UserRepo
	Candidates *CandidateRepo
	Votes      *VoteRepo
	OTPs       *OTPRepo
	ActionLogs *ActionLogRepo
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		db:         db,
		Users:      NewUserRepo(db),
		Candidates: NewCandidateRepo(db),
		Votes:      NewVoteRepo(db),
		OTPs:       NewOTPRepo(db),
		ActionLogs: NewActionLogRepo(db),
	}
}

func (s *MySQLStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	return &mysqlTx{tx: tx, s: s}, nil
}

func (s *MySQLStore) UserByID(ctx context.Context, id uint64) (model.User, error) {
	return s.Users.GetByID(ctx, id)
}

func (s *MySQLStore) UserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.Users.GetByEmail(ctx, email)
}

func (s *MySQLStore) UserByNIM(ctx context.Context, nim string) (model.User, error) {
	return s.Users.GetByNIM(ctx, nim)
}

func (s *MySQLStore) BroadcastRecipients(ctx context.Context, nims []string) ([]model.User, error) {
	return s.Users.ListVoters(ctx, nims)
}

func (s *MySQLStore) SetUserRole(ctx context.Context, id uint64, role model.Role, passwordHash *string) error {
	return s.Users.SetRole(ctx, id, role, passwordHash)
}

func (s *MySQLStore) UserByIDAny(ctx context.Context, id uint64) (model.User, error) {
	return s.Users.GetByIDAny(ctx, id)
}

func (s *MySQLStore) CreateVoter(ctx context.Context, u model.User) (uint64, error) {
	return s.Users.CreateVoter(ctx, u)
}

func (s *MySQLStore) SearchVoters(ctx context.Context, f model.VoterFilter) ([]model.User, int, error) {
	return s.Users.SearchVoters(ctx, f)
}

func (s *MySQLStore) AllUsers(ctx context.Context) ([]model.User, error) {
	return s.Users.ListAll(ctx)
}

func (s *MySQLStore) SetUserDeleted(ctx context.Context, id uint64, at *time.Time) error {
	return s.Users.SetDeleted(ctx, id, at)
}

func (s *MySQLStore) ActiveCandidates(ctx context.Context) ([]model.Candidate, error) {
	return s.Candidates.ListActive(ctx)
}

func (s *MySQLStore) ListCandidates(ctx context.Context, includeDeleted bool) ([]model.Candidate, error) {
	return s.Candidates.List(ctx, includeDeleted)
}

func (s *MySQLStore) CandidateByID(ctx context.Context, id uint64) (model.Candidate, error) {
	return s.Candidates.GetByID(ctx, id)
}

func (s *MySQLStore) CreateCandidate(ctx context.Context, c model.Candidate) (uint64, error) {
	return s.Candidates.Create(ctx, c)
}

func (s *MySQLStore) UpdateCandidate(ctx context.Context, c model.Candidate) error {
	return s.Candidates.Update(ctx, c)
}

func (s *MySQLStore) SetCandidateDeleted(ctx context.Context, id uint64, at *time.Time) error {
	return s.Candidates.SetDeleted(ctx, id, at)
}

func (s *MySQLStore) DeleteCandidate(ctx context.Context, id uint64) error {
	return s.Candidates.Delete(ctx, id)
}

func (s *MySQLStore) InsertOTP(ctx context.Context, email, code string, expiresAt time.Time) error {
	return s.OTPs.Create(ctx, email, code, expiresAt)
}

func (s *MySQLStore) ConsumeOTP(ctx context.Context, email, code string, now time.Time) (bool, error) {
	return s.OTPs.Consume(ctx, email, code, now)
}

func (s *MySQLStore) DeleteOTPs(ctx context.Context, email string) error {
	return s.OTPs.DeleteByEmail(ctx, email)
}

func (s *MySQLStore) Stats(ctx context.Context) (model.Stats, error) {
	return s.Votes.Stats(ctx)
}

func (s *MySQLStore) Results(ctx context.Context) ([]model.CandidateResult, error) {
	return s.Votes.Results(ctx)
}

func (s *MySQLStore) RecentActivity(ctx context.Context, limit int) ([]model.Activity, error) {
	return s.Votes.Recent(ctx, limit)
}

func (s *MySQLStore) InsertActionLog(ctx context.Context, entry model.ActionLog) error {
	return s.ActionLogs.Create(ctx, entry)
}

// mysqlTx binds the repositories' *Tx methods to one *sql.Tx.
type mysqlTx struct {
	tx *sql.Tx
	s  *MySQLStore
}

func (t *mysqlTx) LockUserByID(ctx context.Context, id uint64) (model.User, error) {
	return t.s.Users.LockByIDTx(ctx, t.tx, id)
}

func (t *mysqlTx) LockUserByNIM(ctx context.Context, nim string) (model.User, error) {
	return t.s.Users.LockByNIMTx(ctx, t.tx, nim)
}

func (t *mysqlTx) ActiveCandidate(ctx context.Context, id uint64) (model.Candidate, error) {
	return t.s.Candidates.GetActiveTx(ctx, t.tx, id)
}

func (t *mysqlTx) InsertVote(ctx context.Context, candidateID uint64, source model.Channel) (uint64, error) {
	return t.s.Votes.CreateTx(ctx, t.tx, candidateID, source)
}

func (t *mysqlTx) InsertVotes(ctx context.Context, candidateID uint64, source model.Channel, n int) error {
	return t.s.Votes.CreateManyTx(ctx, t.tx, candidateID, source, n)
}

func (t *mysqlTx) LockVote(ctx context.Context, id uint64) (model.Vote, error) {
	return t.s.Votes.LockByIDTx(ctx, t.tx, id)
}

func (t *mysqlTx) DeleteRecentVote(ctx context.Context, id uint64, grace time.Duration) error {
	return t.s.Votes.DeleteRecentTx(ctx, t.tx, id, grace)
}

func (t *mysqlTx) MarkVoted(ctx context.Context, userID uint64, method model.Channel, at time.Time) error {
	return t.s.Users.MarkVotedTx(ctx, t.tx, userID, method, at)
}

func (t *mysqlTx) MarkCheckedIn(ctx context.Context, userID, operatorID uint64, at time.Time) error {
	return t.s.Users.MarkCheckedInTx(ctx, t.tx, userID, operatorID, at)
}

func (t *mysqlTx) ClearVote(ctx context.Context, userID uint64) error {
	return t.s.Users.ClearVoteTx(ctx, t.tx, userID)
}

func (t *mysqlTx) CountCheckedIn(ctx context.Context) (int64, error) {
	return t.s.Users.CountCheckedInTx(ctx, t.tx)
}

func (t *mysqlTx) CountVotesBySource(ctx context.Context, source model.Channel) (int64, error) {
	return t.s.Votes.CountBySourceTx(ctx, t.tx, source)
}

func (t *mysqlTx) InsertOfflineVoteLog(ctx context.Context, candidateID uint64, count int, inputBy uint64) (uint64, error) {
	return t.s.Votes.CreateOfflineLogTx(ctx, t.tx, candidateID, count, inputBy)
}

func (t *mysqlTx) Commit() error   { return t.tx.Commit() }
func (t *mysqlTx) Rollback() error { return t.tx.Rollback() }
