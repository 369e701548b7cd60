// Package repository holds the MySQL data access layer.  The sentinel
// errors below let the service layer tell missing rows apart from
// infrastructure failures without depending on database/sql.
package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no live row.  Soft-deleted
// users and candidates count as missing.
var ErrNotFound = errors.New("not found")

// ErrOutsideWindow is returned by time-boxed writes whose row exists but is
// no longer, or not yet, inside the allowed window.
var ErrOutsideWindow = errors.New("outside time window")

// ErrConflict is returned when a write collides with a unique key, such as
// a duplicate roll number.
var ErrConflict = errors.New("conflict")

// MySQL server error numbers translated into ErrConflict.
const (
	errDupEntry        = 1062
	errRowIsReferenced = 1451
)

// translate maps unique key and foreign key violations onto ErrConflict and
// passes every other error through.
func translate(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == errDupEntry || me.Number == errRowIsReferenced) {
		return ErrConflict
	}
	return err
}

// affectOne checks that a statement run outside a transaction matched
// exactly one row.
func affectOne(res sql.Result, err error) error {
	if err != nil {
		return translate(err)
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

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
