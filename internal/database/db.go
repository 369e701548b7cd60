package database

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Options describes the MySQL connection and its pool.
type Options struct {
	User, Pass, Host, Port, Name string
	MaxOpenConns                 int
}

// dsn renders opts as a go-sql-driver DSN.  The session runs in UTC so
// NOW() and CURRENT_TIMESTAMP defaults agree with the UTC time.Time values
// the driver parses.  multiStatements stays off; Migrate runs one statement
// per Exec.
func dsn(opts Options) string {
	c := mysql.NewConfig()
	c.User = opts.User
	c.Passwd = opts.Pass
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(opts.Host, opts.Port)
	c.DBName = opts.Name
	c.ParseTime = true
	c.Loc = time.UTC
	// RowsAffected counts matched rows, so an UPDATE that leaves a row
	// unchanged is not mistaken for a missing one.
	c.ClientFoundRows = true
	c.Params = map[string]string{"charset": "utf8mb4", "time_zone": "'+00:00'"}
	return c.FormatDSN()
}

// Open connects to MySQL and pings it.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn(opts))
	if err != nil {
		return nil, err
	}

	// Every cast holds one connection for the lifetime of its row lock, so
	// the pool size caps concurrent in-flight votes.
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
