package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
)

// VoteRepo handles the votes ledger and the offline tally log.
type VoteRepo struct{ db *sql.DB }

func NewVoteRepo(db *sql.DB) *VoteRepo { return &VoteRepo{db: db} }

// maxVotesPerInsert bounds one multi-row INSERT well below MySQL's
// placeholder limit.
const maxVotesPerInsert = 500

// CreateTx appends one vote and returns its id.
func (r *VoteRepo) CreateTx(ctx context.Context, tx *sql.Tx, candidateID uint64, source model.Channel) (uint64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO votes (candidate_id, source) VALUES (?, ?)", candidateID, string(source))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// CreateManyTx appends n identical votes with multi-row inserts.
func (r *VoteRepo) CreateManyTx(ctx context.Context, tx *sql.Tx, candidateID uint64, source model.Channel, n int) error {
	for n > 0 {
		batch := n
		if batch > maxVotesPerInsert {
			batch = maxVotesPerInsert
		}
		query := "INSERT INTO votes (candidate_id, source) VALUES "
		args := make([]interface{}, 0, batch*2)
		for i := 0; i < batch; i++ {
			if i > 0 {
				query += ","
			}
			query += "(?, ?)"
			args = append(args, candidateID, string(source))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %d votes: %w", batch, err)
		}
		n -= batch
	}
	return nil
}

// LockByIDTx reads a vote with an exclusive lock.
func (r *VoteRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Vote, error) {
	var (
		v   model.Vote
		src string
	)
	err := tx.QueryRowContext(ctx,
		"SELECT id, candidate_id, source, created_at FROM votes WHERE id=? FOR UPDATE", id).
		Scan(&v.ID, &v.CandidateID, &src, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Vote{}, ErrNotFound
	}
	if err != nil {
		return model.Vote{}, err
	}
	v.Source = model.Channel(src)
	return v, nil
}

// DeleteRecentTx removes a vote cast at most grace ago, judged by the
// database clock.  The caller has locked the row, so no match means it is
// out of the window.
func (r *VoteRepo) DeleteRecentTx(ctx context.Context, tx *sql.Tx, id uint64, grace time.Duration) error {
	err := execOne(ctx, tx,
		"DELETE FROM votes WHERE id=? AND created_at <= NOW() AND created_at >= NOW() - INTERVAL ? SECOND",
		id, int64(grace/time.Second))
	if errors.Is(err, ErrNotFound) {
		return ErrOutsideWindow
	}
	return err
}

// CountBySourceTx counts ledger rows from one channel.
func (r *VoteRepo) CountBySourceTx(ctx context.Context, tx *sql.Tx, source model.Channel) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM votes WHERE source=?", string(source)).Scan(&n)
	return n, err
}

// CreateOfflineLogTx writes the audit row for one tally entry.
func (r *VoteRepo) CreateOfflineLogTx(ctx context.Context, tx *sql.Tx, candidateID uint64, count int, inputBy uint64) (uint64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO offline_vote_logs (candidate_id, count, input_by) VALUES (?, ?, ?)",
		candidateID, count, inputBy)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Stats returns raw turnout counts.  Turnout is formatted by the caller.
func (r *VoteRepo) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users WHERE role='voter' AND deleted_at IS NULL),
			(SELECT COUNT(*) FROM users WHERE role='voter' AND deleted_at IS NULL AND has_voted=1),
			(SELECT COUNT(*) FROM votes WHERE source='online'),
			(SELECT COUNT(*) FROM votes WHERE source='offline'),
			(SELECT COUNT(*) FROM users WHERE vote_method='offline' AND deleted_at IS NULL)`).
		Scan(&s.TotalVoters, &s.VotesCast, &s.OnlineVotes, &s.OfflineVotes, &s.CheckedIn)
	return s, err
}

// Results returns the per-candidate online/offline split for live candidates.
func (r *VoteRepo) Results(ctx context.Context) ([]model.CandidateResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.order_number,
			COALESCE(SUM(v.source='online'), 0),
			COALESCE(SUM(v.source='offline'), 0),
			COUNT(v.id)
		FROM candidates c
		LEFT JOIN votes v ON v.candidate_id = c.id
		WHERE c.deleted_at IS NULL
		GROUP BY c.id, c.name, c.order_number
		ORDER BY c.order_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CandidateResult{}
	for rows.Next() {
		var cr model.CandidateResult
		if err := rows.Scan(&cr.ID, &cr.Name, &cr.OrderNumber, &cr.OnlineVotes, &cr.OfflineVotes, &cr.Votes); err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

// Recent returns the latest votes, newest first.
func (r *VoteRepo) Recent(ctx context.Context, limit int) ([]model.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT v.id, v.created_at, v.candidate_id, c.name, v.source
		FROM votes v
		JOIN candidates c ON c.id = v.candidate_id
		ORDER BY v.created_at DESC, v.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Activity{}
	for rows.Next() {
		var (
			a   model.Activity
			src string
		)
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.CandidateID, &a.CandidateName, &src); err != nil {
			return nil, err
		}
		a.Source = model.Channel(src)
		out = append(out, a)
	}
	return out, rows.Err()
}
