package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
)

const userColumns = `id, nim, name, email, angkatan, role, password_hash, access_type,
	has_voted, vote_method, voted_at, checked_in_at, checked_in_by, created_at, updated_at, deleted_at`

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u                          model.User
		email, angkatan, pwd, meth sql.NullString
		role, access               string
		votedAt, checkedAt, delAt  sql.NullTime
		checkedBy                  sql.NullInt64
	)
	err := row.Scan(&u.ID, &u.NIM, &u.Name, &email, &angkatan, &role, &pwd, &access,
		&u.HasVoted, &meth, &votedAt, &checkedAt, &checkedBy, &u.CreatedAt, &u.UpdatedAt, &delAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	u.AccessType = model.Channel(access)
	if email.Valid {
		u.Email = &email.String
	}
	if angkatan.Valid {
		u.Angkatan = &angkatan.String
	}
	if pwd.Valid {
		u.PasswordHash = &pwd.String
	}
	if meth.Valid {
		m := model.Channel(meth.String)
		u.VoteMethod = &m
	}
	if votedAt.Valid {
		u.VotedAt = &votedAt.Time
	}
	if checkedAt.Valid {
		u.CheckedInAt = &checkedAt.Time
	}
	if checkedBy.Valid {
		by := uint64(checkedBy.Int64)
		u.CheckedInBy = &by
	}
	if delAt.Valid {
		u.DeletedAt = &delAt.Time
	}
	return u, nil
}

func scanUsers(rows *sql.Rows) ([]model.User, error) {
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetByID fetches a live user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? AND deleted_at IS NULL LIMIT 1", id))
}

// GetByEmail fetches a live user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? AND deleted_at IS NULL LIMIT 1", email))
}

// GetByNIM fetches a live user by roll number.
func (r *UserRepo) GetByNIM(ctx context.Context, nim string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE nim=? AND deleted_at IS NULL LIMIT 1", strings.TrimSpace(nim)))
}

// ListVoters returns live voters, all of them when nims is empty or only the
// listed roll numbers otherwise.
func (r *UserRepo) ListVoters(ctx context.Context, nims []string) ([]model.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE role='voter' AND deleted_at IS NULL"
	args := make([]interface{}, 0, len(nims))
	if len(nims) > 0 {
		query += " AND nim IN (" + placeholders(len(nims)) + ")"
		for _, n := range nims {
			args = append(args, n)
		}
	}
	query += " ORDER BY nim"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

// GetByIDAny fetches a user by id, soft-deleted or not.
func (r *UserRepo) GetByIDAny(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// CreateVoter inserts a voter row and returns its id.  A roll number that
// is already taken, by a live or a soft-deleted row, is ErrConflict.
func (r *UserRepo) CreateVoter(ctx context.Context, u model.User) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (nim, name, email, angkatan, role, access_type) VALUES (?, ?, ?, ?, 'voter', ?)",
		u.NIM, u.Name, u.Email, u.Angkatan, string(u.AccessType))
	if err != nil {
		return 0, translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// SearchVoters returns one page of voters matching f and the total number
// of matches.
func (r *UserRepo) SearchVoters(ctx context.Context, f model.VoterFilter) ([]model.User, int, error) {
	where := " WHERE role='voter'"
	var args []interface{}
	if !f.IncludeDeleted {
		where += " AND deleted_at IS NULL"
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
		where += " AND (LOWER(name) LIKE ? OR LOWER(nim) LIKE ? OR LOWER(email) LIKE ?)"
		args = append(args, like, like, like)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users"+where+" ORDER BY nim LIMIT ? OFFSET ?",
		append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	users, err := scanUsers(rows)
	return users, total, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// ListAll returns every account, staff and voters, deleted ones included.
func (r *UserRepo) ListAll(ctx context.Context) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY role, nim")
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

// SetDeleted soft deletes the user at at, or restores it when at is nil.
func (r *UserRepo) SetDeleted(ctx context.Context, id uint64, at *time.Time) error {
	return affectOne(r.DB.ExecContext(ctx, "UPDATE users SET deleted_at=? WHERE id=?", utcPtr(at), id))
}

// SetRole changes a user's role.  A non-nil passwordHash replaces the
// stored hash; nil keeps it.
func (r *UserRepo) SetRole(ctx context.Context, id uint64, role model.Role, passwordHash *string) error {
	query := "UPDATE users SET role=?"
	args := []interface{}{string(role)}
	if passwordHash != nil {
		query += ", password_hash=?"
		args = append(args, *passwordHash)
	}
	query += " WHERE id=? AND deleted_at IS NULL"
	args = append(args, id)
	_, err := r.DB.ExecContext(ctx, query, args...)
	return err
}

// LockByIDTx reads the user row with an exclusive lock held until tx ends.
func (r *UserRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.User, error) {
	return scanUser(tx.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? AND deleted_at IS NULL FOR UPDATE", id))
}

// LockByNIMTx is LockByIDTx keyed by roll number.
func (r *UserRepo) LockByNIMTx(ctx context.Context, tx *sql.Tx, nim string) (model.User, error) {
	return scanUser(tx.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE nim=? AND deleted_at IS NULL FOR UPDATE", strings.TrimSpace(nim)))
}

// MarkVotedTx consumes the voting right through the given channel.
func (r *UserRepo) MarkVotedTx(ctx context.Context, tx *sql.Tx, userID uint64, method model.Channel, at time.Time) error {
	return execOne(ctx, tx,
		"UPDATE users SET has_voted=1, vote_method=?, voted_at=? WHERE id=?",
		string(method), at.UTC(), userID)
}

// MarkCheckedInTx records an offline check-in.  The voter becomes offline-only.
func (r *UserRepo) MarkCheckedInTx(ctx context.Context, tx *sql.Tx, userID, operatorID uint64, at time.Time) error {
	at = at.UTC()
	return execOne(ctx, tx,
		`UPDATE users SET has_voted=1, vote_method='offline', access_type='offline',
			voted_at=?, checked_in_at=?, checked_in_by=? WHERE id=?`,
		at, at, operatorID, userID)
}

// ClearVoteTx undoes a check-in.  access_type is left as is.
func (r *UserRepo) ClearVoteTx(ctx context.Context, tx *sql.Tx, userID uint64) error {
	return execOne(ctx, tx,
		`UPDATE users SET has_voted=0, vote_method=NULL, voted_at=NULL,
			checked_in_at=NULL, checked_in_by=NULL WHERE id=?`, userID)
}

// CountCheckedInTx counts voters whose right was consumed offline.
func (r *UserRepo) CountCheckedInTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE vote_method='offline' AND deleted_at IS NULL").Scan(&n)
	return n, err
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
