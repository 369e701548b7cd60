package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/middleware"
	"github.com/iliyamo/election-backend/internal/service"
)

const requestTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// auditor is the action log writer.  A nil *service.Auditor is valid.
type auditor interface {
	LogAction(ctx context.Context, actor service.Actor, action, target, details string)
}

func actorOf(c echo.Context) service.Actor {
	a := service.Actor{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
	if s, ok := middleware.SessionFrom(c); ok {
		a.ID, a.Name = s.UserID, s.Name
	}
	return a
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"message": msg})
}

func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// writeError maps service errors onto status codes.  Business errors carry
// their message to the client; anything else is logged and hidden.
func writeError(c echo.Context, log *slog.Logger, err error) error {
	var (
		guard *service.InflationGuardError
		rl    *service.RateLimitError
	)
	switch {
	case errors.As(err, &guard):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": "offline tally would exceed the number of checked-in voters",
			"detail":  guard,
		})
	case errors.As(err, &rl):
		c.Response().Header().Set("Retry-After", strconv.Itoa(rl.RemainingSeconds))
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"message":          rl.Error(),
			"remainingSeconds": rl.RemainingSeconds,
		})
	case errors.Is(err, service.ErrTransientInfra):
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"message": err.Error()})
	case errors.Is(err, service.ErrAlreadyVoted),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidOrExpired):
		return c.JSON(http.StatusBadRequest, echo.Map{"message": err.Error()})
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"message": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"message": err.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": err.Error()})
	}
	log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal server error"})
}
