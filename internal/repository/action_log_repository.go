package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/election-backend/internal/model"
)

type ActionLogRepo struct{ db *sql.DB }

func NewActionLogRepo(db *sql.DB) *ActionLogRepo { return &ActionLogRepo{db: db} }

// Create appends an audit entry.
func (r *ActionLogRepo) Create(ctx context.Context, e model.ActionLog) error {
	var actor interface{}
	if e.ActorID != nil {
		actor = *e.ActorID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO action_logs (actor_id, actor_name, action, target, details, ip_address, user_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		actor, nullIfEmpty(e.ActorName), e.Action, nullIfEmpty(e.Target), nullIfEmpty(e.Details),
		nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent))
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
