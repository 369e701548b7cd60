package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// OTPRepo stores one-time codes.  Codes are never updated: they are inserted
// on issuance and deleted in bulk on successful verification or reset.
type OTPRepo struct{ db *sql.DB }

func NewOTPRepo(db *sql.DB) *OTPRepo { return &OTPRepo{db: db} }

func normEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts a code.  Earlier outstanding codes stay valid.
func (r *OTPRepo) Create(ctx context.Context, email, code string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO otp_codes (email, code, expires_at) VALUES (?, ?, ?)",
		normEmail(email), code, expiresAt.UTC())
	return err
}

// Consume checks for an unexpired matching code and, when one exists,
// deletes every code for the email in the same transaction.  Two concurrent
// calls with the same code cannot both succeed: the loser blocks on the row
// lock and then finds nothing.
func (r *OTPRepo) Consume(ctx context.Context, email, code string, now time.Time) (bool, error) {
	email = normEmail(email)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var id uint64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM otp_codes WHERE email=? AND code=? AND expires_at > ? LIMIT 1 FOR UPDATE",
		email, code, now.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM otp_codes WHERE email=?", email); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// DeleteByEmail removes all codes for email.
func (r *OTPRepo) DeleteByEmail(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM otp_codes WHERE email=?", normEmail(email))
	return err
}
