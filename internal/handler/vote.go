package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/middleware"
	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/service"
)

type votingService interface {
	CastVote(ctx context.Context, voterID, candidateID uint64) (model.Vote, error)
	Status(ctx context.Context, voterID uint64) (service.VoteStatus, error)
	DeleteVote(ctx context.Context, voteID uint64) (model.Vote, error)
}

type resultsService interface {
	Stats(ctx context.Context) (model.Stats, error)
	Results(ctx context.Context) ([]model.CandidateResult, error)
	Activity(ctx context.Context) ([]model.Activity, error)
	Candidates(ctx context.Context) ([]model.Candidate, error)
}

// VoteHandler serves the ballot endpoints and the read-only aggregates.
type VoteHandler struct {
	Voting  votingService
	Results resultsService
	Audit   auditor
	Log     *slog.Logger
}

func NewVoteHandler(voting votingService, results resultsService, audit auditor, log *slog.Logger) *VoteHandler {
	if log == nil {
		log = slog.Default()
	}
	return &VoteHandler{Voting: voting, Results: results, Audit: audit, Log: log}
}

type castReq struct {
	CandidateID uint64 `json:"candidateId"`
}

// Cast: POST /api/votes
func (h *VoteHandler) Cast(c echo.Context) error {
	s, ok := middleware.SessionFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}
	var req castReq
	if err := c.Bind(&req); err != nil || req.CandidateID == 0 {
		return badRequest(c, "candidateId is required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	v, err := h.Voting.CastVote(ctx, s.UserID, req.CandidateID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Vote cast successfully",
		"voteId":  v.ID,
	})
}

// Status: GET /api/votes/status
func (h *VoteHandler) Status(c echo.Context) error {
	s, ok := middleware.SessionFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	st, err := h.Voting.Status(ctx, s.UserID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Delete: DELETE /api/votes/:id
func (h *VoteHandler) Delete(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid vote id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	v, err := h.Voting.DeleteVote(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), "DELETE_VOTE", strconv.FormatUint(v.ID, 10),
		"candidate "+strconv.FormatUint(v.CandidateID, 10)+" ("+string(v.Source)+")")
	return c.JSON(http.StatusOK, echo.Map{"message": "Vote deleted successfully"})
}

// Stats: GET /api/votes/stats
func (h *VoteHandler) Stats(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	st, err := h.Results.Stats(ctx)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, st)
}

// ResultsList: GET /api/votes/results
func (h *VoteHandler) ResultsList(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Results.Results(ctx)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"results": res})
}

// Activity: GET /api/votes/activity
func (h *VoteHandler) Activity(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	act, err := h.Results.Activity(ctx)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"activity": act})
}

// Candidates: GET /api/candidates
func (h *VoteHandler) Candidates(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Results.Candidates(ctx)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"candidates": list})
}
