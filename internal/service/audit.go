package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/repository"
)

// Actor identifies who triggered an audited action.
type Actor struct {
	ID        uint64
	Name      string
	IP        string
	UserAgent string
}

// Auditor writes action_logs rows.  A failed write is logged and dropped;
// it never undoes the action being audited.
type Auditor struct {
	store repository.Store
	log   *slog.Logger
}

func NewAuditor(store repository.Store, log *slog.Logger) *Auditor {
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{store: store, log: log}
}

// LogAction records action on target by actor.
func (a *Auditor) LogAction(ctx context.Context, actor Actor, action, target, details string) {
	if a == nil {
		return
	}
	var id *uint64
	if actor.ID != 0 {
		id = &actor.ID
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	err := a.store.InsertActionLog(ctx, model.ActionLog{
		ActorID:   id,
		ActorName: actor.Name,
		Action:    action,
		Target:    target,
		Details:   details,
		IPAddress: actor.IP,
		UserAgent: actor.UserAgent,
	})
	if err != nil {
		a.log.Warn("audit log write failed", "action", action, "target", target, "err", err)
	}
}
