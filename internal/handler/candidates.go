package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/service"
)

type candidateService interface {
	List(ctx context.Context, includeDeleted bool) ([]model.Candidate, error)
	Create(ctx context.Context, in service.CandidateInput) (model.Candidate, error)
	Update(ctx context.Context, id uint64, in service.CandidateInput) (model.Candidate, error)
	SoftDelete(ctx context.Context, id uint64) (model.Candidate, error)
	Restore(ctx context.Context, id uint64) (model.Candidate, error)
	Purge(ctx context.Context, id uint64) (model.Candidate, error)
}

// CandidateHandler edits the ballot.
type CandidateHandler struct {
	Candidates candidateService
	Audit      auditor
	Log        *slog.Logger
}

func NewCandidateHandler(candidates candidateService, audit auditor, log *slog.Logger) *CandidateHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CandidateHandler{Candidates: candidates, Audit: audit, Log: log}
}

type candidateReq struct {
	OrderNumber int     `json:"orderNumber"`
	Name        string  `json:"name"`
	Vision      *string `json:"vision"`
	Mission     *string `json:"mission"`
	PhotoURL    *string `json:"photoUrl"`
}

func (r candidateReq) input() service.CandidateInput {
	return service.CandidateInput{
		OrderNumber: r.OrderNumber, Name: r.Name,
		Vision: r.Vision, Mission: r.Mission, PhotoURL: r.PhotoURL,
	}
}

// List: GET /api/admin/candidates?includeDeleted=true
func (h *CandidateHandler) List(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Candidates.List(ctx, c.QueryParam("includeDeleted") == "true")
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"candidates": list})
}

// Create: POST /api/admin/candidates
func (h *CandidateHandler) Create(c echo.Context) error {
	var req candidateReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	cand, err := h.Candidates.Create(ctx, req.input())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), "CREATE_CANDIDATE", candidateTarget(cand), fmt.Sprintf("order %d", cand.OrderNumber))
	return c.JSON(http.StatusCreated, echo.Map{"message": "Candidate created successfully", "candidate": cand})
}

// Update: PUT /api/admin/candidates/:id
func (h *CandidateHandler) Update(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid candidate id")
	}
	var req candidateReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	cand, err := h.Candidates.Update(ctx, id, req.input())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), "UPDATE_CANDIDATE", candidateTarget(cand), "")
	return c.JSON(http.StatusOK, echo.Map{"message": "Candidate updated successfully", "candidate": cand})
}

// Delete: DELETE /api/admin/candidates/:id
func (h *CandidateHandler) Delete(c echo.Context) error {
	return h.byID(c, h.Candidates.SoftDelete, "DELETE_CANDIDATE", "Candidate deleted (soft)")
}

// Restore: POST /api/admin/candidates/:id/restore
func (h *CandidateHandler) Restore(c echo.Context) error {
	return h.byID(c, h.Candidates.Restore, "RESTORE_CANDIDATE", "Candidate restored")
}

// Purge: DELETE /api/admin/candidates/:id/permanent
func (h *CandidateHandler) Purge(c echo.Context) error {
	return h.byID(c, h.Candidates.Purge, "PERMANENT_DELETE_CANDIDATE", "Candidate permanently deleted")
}

func (h *CandidateHandler) byID(c echo.Context, op func(context.Context, uint64) (model.Candidate, error), action, msg string) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid candidate id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	cand, err := op(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), action, candidateTarget(cand), "")
	return c.JSON(http.StatusOK, echo.Map{"message": msg, "candidate": cand})
}

func candidateTarget(c model.Candidate) string {
	return fmt.Sprintf("candidate %d (%s)", c.ID, c.Name)
}
