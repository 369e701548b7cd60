package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/middleware"
	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/service"
)

type otpService interface {
	RequestOTP(ctx context.Context, email string) (service.Issued, error)
	IssueManualOTP(ctx context.Context, email string) (service.Issued, error)
	VerifyOTP(ctx context.Context, email, code string) (service.VoterSession, error)
	ResetLimit(ctx context.Context, email string) error
}

type loginService interface {
	Login(ctx context.Context, identifier, password string) (service.OperatorSession, error)
}

// AuthHandler serves voter OTP sign-in and operator password login.
type AuthHandler struct {
	OTP   otpService
	Login loginService
	Audit auditor
	Log   *slog.Logger
}

func NewAuthHandler(otp otpService, login loginService, audit auditor, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{OTP: otp, Login: login, Audit: audit, Log: log}
}

// ----- DTOs -----

type emailReq struct {
	Email string `json:"email"`
}

type verifyReq struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type loginReq struct {
	Identifier string `json:"identifier"`
	NIM        string `json:"nim"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type userPart struct {
	ID   uint64     `json:"id"`
	NIM  string     `json:"nim"`
	Name string     `json:"name"`
	Role model.Role `json:"role"`
}

type sessionResp struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      userPart  `json:"user"`
}

func toUserPart(u model.User) userPart {
	return userPart{ID: u.ID, NIM: u.NIM, Name: u.Name, Role: u.Role}
}

// RequestOTP: POST /api/auth/otp-request
func (h *AuthHandler) RequestOTP(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return badRequest(c, "email is required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	issued, err := h.OTP.RequestOTP(ctx, req.Email)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), "REQUEST_OTP", issued.Email, "")
	return c.JSON(http.StatusOK, echo.Map{
		"message":   "a sign-in code has been sent to your email",
		"email":     issued.Email,
		"expiresAt": issued.ExpiresAt,
	})
}

// VerifyOTP: POST /api/auth/otp-verify
func (h *AuthHandler) VerifyOTP(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" {
		return badRequest(c, "email and code are required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := h.OTP.VerifyOTP(ctx, req.Email, req.Code)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, sessionResp{
		Message:   "login successful",
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      toUserPart(sess.User),
	})
}

// ManualOTP: POST /api/auth/otp-manual (operators)
func (h *AuthHandler) ManualOTP(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return badRequest(c, "email is required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	issued, err := h.OTP.IssueManualOTP(ctx, req.Email)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), "MANUAL_OTP", issued.Email, "")
	return c.JSON(http.StatusOK, echo.Map{
		"message":   "code sent to " + issued.Email,
		"email":     issued.Email,
		"expiresAt": issued.ExpiresAt,
	})
}

// ResetOTPLimit: POST /api/auth/reset-otp-limit (operators)
func (h *AuthHandler) ResetOTPLimit(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return badRequest(c, "email is required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.OTP.ResetLimit(ctx, req.Email); err != nil {
		return writeError(c, h.Log, err)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	h.Audit.LogAction(ctx, actorOf(c), "RESET_OTP_LIMIT", email, "")
	return c.JSON(http.StatusOK, echo.Map{"message": "code limit for " + email + " has been reset"})
}

// OperatorLogin: POST /api/auth/login
func (h *AuthHandler) OperatorLogin(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	id := req.Identifier
	if id == "" {
		id = req.NIM
	}
	if id == "" {
		id = req.Email
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := h.Login.Login(ctx, id, req.Password)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, service.Actor{ID: sess.User.ID, Name: sess.User.Name, IP: c.RealIP(), UserAgent: c.Request().UserAgent()},
		"LOGIN", sess.User.NIM, "")
	return c.JSON(http.StatusOK, sessionResp{
		Message:   "login successful",
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      toUserPart(sess.User),
	})
}

// Me: GET /api/auth/me
func (h *AuthHandler) Me(c echo.Context) error {
	s, ok := middleware.SessionFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}
	role := model.Role(s.Role)
	return c.JSON(http.StatusOK, echo.Map{
		"user":         userPart{ID: s.UserID, NIM: s.NIM, Name: s.Name, Role: role},
		"capabilities": role.Capabilities(),
	})
}
