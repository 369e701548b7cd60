package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/service"
)

type offlineService interface {
	CheckIn(ctx context.Context, nim string, operatorID uint64) (model.User, error)
	UnCheckIn(ctx context.Context, nim string) (model.User, error)
	ManualVote(ctx context.Context, candidateID uint64, count int, operatorID uint64) (service.TallyResult, error)
}

// OfflineHandler serves the polling-station desk: check-in, its reversal
// and paper ballot tally entry.
type OfflineHandler struct {
	Offline offlineService
	Audit   auditor
	Log     *slog.Logger
}

func NewOfflineHandler(offline offlineService, audit auditor, log *slog.Logger) *OfflineHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OfflineHandler{Offline: offline, Audit: audit, Log: log}
}

type nimReq struct {
	NIM string `json:"nim"`
}

type tallyReq struct {
	CandidateID uint64 `json:"candidateId"`
	Count       int    `json:"count"`
}

// CheckIn: POST /api/votes/checkin
func (h *OfflineHandler) CheckIn(c echo.Context) error {
	var req nimReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.NIM) == "" {
		return badRequest(c, "nim is required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	actor := actorOf(c)
	u, err := h.Offline.CheckIn(ctx, strings.TrimSpace(req.NIM), actor.ID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actor, "CHECKIN", u.NIM, "")
	return c.JSON(http.StatusOK, echo.Map{
		"message": u.Name + " checked in",
		"voter":   toUserPart(u),
	})
}

// UnCheckIn: POST /api/votes/uncheckin
func (h *OfflineHandler) UnCheckIn(c echo.Context) error {
	var req nimReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.NIM) == "" {
		return badRequest(c, "nim is required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Offline.UnCheckIn(ctx, strings.TrimSpace(req.NIM))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), "UNCHECKIN", u.NIM, "")
	return c.JSON(http.StatusOK, echo.Map{
		"message": "check-in for " + u.Name + " has been reverted",
		"voter":   toUserPart(u),
	})
}

// Tally: POST /api/votes/offline
func (h *OfflineHandler) Tally(c echo.Context) error {
	var req tallyReq
	if err := c.Bind(&req); err != nil || req.CandidateID == 0 {
		return badRequest(c, "candidateId is required")
	}
	if req.Count < 1 {
		return badRequest(c, "count must be a positive integer")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	actor := actorOf(c)
	res, err := h.Offline.ManualVote(ctx, req.CandidateID, req.Count, actor.ID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actor, "OFFLINE_TALLY", strconv.FormatUint(res.CandidateID, 10),
		fmt.Sprintf("count=%d remaining=%d", res.Count, res.Remaining))
	return c.JSON(http.StatusCreated, echo.Map{
		"message": fmt.Sprintf("%d offline vote(s) tallied", res.Count),
		"tally":   res,
	})
}
