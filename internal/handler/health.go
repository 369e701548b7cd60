package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything whose liveness /healthz reports, such as *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RedisPinger adapts a redis client's Ping to Pinger.
type RedisPinger func(ctx context.Context) error

func (f RedisPinger) PingContext(ctx context.Context) error { return f(ctx) }

// Health returns a health check handler for load balancers.  It answers
// 200 "ok" while every dependency pings, otherwise 503 naming the failing
// one.
func Health(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		for name, p := range deps {
			if p == nil {
				continue
			}
			if err := p.PingContext(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "down", "dependency": name})
			}
		}
		return c.String(http.StatusOK, "ok")
	}
}
