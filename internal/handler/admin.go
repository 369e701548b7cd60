package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/service"
)

type userAdminService interface {
	SetRole(ctx context.Context, userID uint64, role model.Role, password string) (model.User, error)
	CreateVoter(ctx context.Context, in service.VoterInput) (model.User, error)
	SearchVoters(ctx context.Context, f model.VoterFilter) (service.VoterPage, error)
	Users(ctx context.Context) ([]model.User, error)
	DeleteVoter(ctx context.Context, id uint64) (model.User, error)
	RestoreVoter(ctx context.Context, id uint64) (model.User, error)
}

// AdminHandler manages the voter register and staff accounts.
type AdminHandler struct {
	Users userAdminService
	Audit auditor
	Log   *slog.Logger
}

func NewAdminHandler(users userAdminService, audit auditor, log *slog.Logger) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{Users: users, Audit: audit, Log: log}
}

type roleReq struct {
	Role     string `json:"role"`
	Password string `json:"password"`
}

type voterReq struct {
	NIM        string `json:"nim"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Angkatan   string `json:"angkatan"`
	AccessType string `json:"accessType"`
}

// userView is the register's view of an account.  Password hashes never
// leave the service.
type userView struct {
	ID          uint64         `json:"id"`
	NIM         string         `json:"nim"`
	Name        string         `json:"name"`
	Email       *string        `json:"email"`
	Angkatan    *string        `json:"angkatan"`
	Role        model.Role     `json:"role"`
	AccessType  model.Channel  `json:"accessType"`
	HasVoted    bool           `json:"hasVoted"`
	VoteMethod  *model.Channel `json:"voteMethod"`
	CheckedInAt *time.Time     `json:"checkedInAt,omitempty"`
	DeletedAt   *time.Time     `json:"deletedAt,omitempty"`
}

func toUserView(u model.User) userView {
	return userView{
		ID: u.ID, NIM: u.NIM, Name: u.Name, Email: u.Email, Angkatan: u.Angkatan,
		Role: u.Role, AccessType: u.AccessType, HasVoted: u.HasVoted, VoteMethod: u.VoteMethod,
		CheckedInAt: u.CheckedInAt, DeletedAt: u.DeletedAt,
	}
}

func toUserViews(us []model.User) []userView {
	out := make([]userView, 0, len(us))
	for _, u := range us {
		out = append(out, toUserView(u))
	}
	return out
}

// SetRole: PATCH /api/admin/users/:id/role
func (h *AdminHandler) SetRole(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	var req roleReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Role) == "" {
		return badRequest(c, "role is required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Users.SetRole(ctx, id, model.Role(strings.TrimSpace(req.Role)), req.Password)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), "SET_ROLE", u.NIM, string(u.Role))
	return c.JSON(http.StatusOK, echo.Map{"user": toUserPart(u)})
}

// ListUsers: GET /api/admin/users
func (h *AdminHandler) ListUsers(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	us, err := h.Users.Users(ctx)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": toUserViews(us)})
}

// Voters: GET /api/admin/voters?search=&page=&limit=&includeDeleted=
func (h *AdminHandler) Voters(c echo.Context) error {
	f := model.VoterFilter{
		Search:         c.QueryParam("search"),
		IncludeDeleted: c.QueryParam("includeDeleted") == "true",
	}
	if v := c.QueryParam("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return badRequest(c, "page must be a positive number")
		}
		f.Page = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive number")
		}
		f.Limit = n
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	page, err := h.Users.SearchVoters(ctx, f)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":       toUserViews(page.Data),
		"total":      page.Total,
		"page":       page.Page,
		"totalPages": page.TotalPages,
	})
}

// CreateVoter: POST /api/admin/voters
func (h *AdminHandler) CreateVoter(c echo.Context) error {
	var req voterReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Users.CreateVoter(ctx, service.VoterInput{
		NIM: req.NIM, Name: req.Name, Email: req.Email, Angkatan: req.Angkatan,
		AccessType: model.Channel(strings.ToLower(strings.TrimSpace(req.AccessType))),
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), "CREATE_VOTER", u.NIM, u.Name)
	return c.JSON(http.StatusCreated, echo.Map{"message": "Voter created successfully", "voter": toUserView(u)})
}

// DeleteVoter: DELETE /api/admin/voters/:id
func (h *AdminHandler) DeleteVoter(c echo.Context) error {
	return h.voterByID(c, h.Users.DeleteVoter, "DELETE_VOTER", "Voter deleted (soft)")
}

// RestoreVoter: POST /api/admin/voters/:id/restore
func (h *AdminHandler) RestoreVoter(c echo.Context) error {
	return h.voterByID(c, h.Users.RestoreVoter, "RESTORE_VOTER", "Voter restored")
}

func (h *AdminHandler) voterByID(c echo.Context, op func(context.Context, uint64) (model.User, error), action, msg string) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid voter id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := op(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), action, u.NIM, "")
	return c.JSON(http.StatusOK, echo.Map{"message": msg, "voter": toUserView(u)})
}
