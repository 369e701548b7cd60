package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
)

const candidateColumns = "id, order_number, name, vision, mission, photo_url, created_at, deleted_at"

// CandidateRepo manages the candidates table.  Reads named *Active skip
// soft-deleted rows; the rest see every row.
type CandidateRepo struct{ db *sql.DB }

func NewCandidateRepo(db *sql.DB) *CandidateRepo { return &CandidateRepo{db: db} }

func scanCandidate(row rowScanner) (model.Candidate, error) {
	var (
		c                      model.Candidate
		vision, mission, photo sql.NullString
		deleted                sql.NullTime
	)
	err := row.Scan(&c.ID, &c.OrderNumber, &c.Name, &vision, &mission, &photo, &c.CreatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Candidate{}, ErrNotFound
	}
	if err != nil {
		return model.Candidate{}, err
	}
	if vision.Valid {
		c.Vision = &vision.String
	}
	if mission.Valid {
		c.Mission = &mission.String
	}
	if photo.Valid {
		c.PhotoURL = &photo.String
	}
	if deleted.Valid {
		c.DeletedAt = &deleted.Time
	}
	return c, nil
}

// ListActive returns live candidates ordered by ballot position.
func (r *CandidateRepo) ListActive(ctx context.Context) ([]model.Candidate, error) {
	return r.List(ctx, false)
}

// List returns candidates ordered by ballot position, soft-deleted ones
// included when includeDeleted is set.
func (r *CandidateRepo) List(ctx context.Context, includeDeleted bool) ([]model.Candidate, error) {
	query := "SELECT " + candidateColumns + " FROM candidates"
	if !includeDeleted {
		query += " WHERE deleted_at IS NULL"
	}
	rows, err := r.db.QueryContext(ctx, query+" ORDER BY order_number")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Candidate{}
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetActiveTx reads a live candidate inside tx.  A shared lock keeps the row
// from being soft deleted before the vote referencing it commits.
func (r *CandidateRepo) GetActiveTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Candidate, error) {
	return scanCandidate(tx.QueryRowContext(ctx,
		"SELECT "+candidateColumns+" FROM candidates WHERE id=? AND deleted_at IS NULL LOCK IN SHARE MODE", id))
}

// GetByID reads a candidate whether or not it is soft deleted.
func (r *CandidateRepo) GetByID(ctx context.Context, id uint64) (model.Candidate, error) {
	return scanCandidate(r.db.QueryRowContext(ctx,
		"SELECT "+candidateColumns+" FROM candidates WHERE id=?", id))
}

// Create inserts c and returns its id.  A taken ballot position is
// ErrConflict.
func (r *CandidateRepo) Create(ctx context.Context, c model.Candidate) (uint64, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO candidates (order_number, name, vision, mission, photo_url) VALUES (?, ?, ?, ?, ?)",
		c.OrderNumber, c.Name, c.Vision, c.Mission, c.PhotoURL)
	if err != nil {
		return 0, translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Update replaces the editable fields of candidate c.ID.
func (r *CandidateRepo) Update(ctx context.Context, c model.Candidate) error {
	return affectOne(r.db.ExecContext(ctx,
		"UPDATE candidates SET order_number=?, name=?, vision=?, mission=?, photo_url=? WHERE id=?",
		c.OrderNumber, c.Name, c.Vision, c.Mission, c.PhotoURL, c.ID))
}

// SetDeleted soft deletes the candidate at at, or restores it when at is nil.
func (r *CandidateRepo) SetDeleted(ctx context.Context, id uint64, at *time.Time) error {
	return affectOne(r.db.ExecContext(ctx, "UPDATE candidates SET deleted_at=? WHERE id=?", utcPtr(at), id))
}

// Delete removes the row for good.  Votes reference candidates, so a
// candidate that received any is ErrConflict.
func (r *CandidateRepo) Delete(ctx context.Context, id uint64) error {
	return affectOne(r.db.ExecContext(ctx, "DELETE FROM candidates WHERE id=?", id))
}
