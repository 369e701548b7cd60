package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/utils"
)

// JWTAuth validates a Bearer session token and stores the caller's identity
// in the context: "session" (utils.Session), "user_id" (uint64) and "role"
// (string).  Voter and operator tokens share the format and the secret.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			s, err := utils.ParseSessionToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid or expired token"})
			}
			c.Set(sessionKey, s)
			c.Set("user_id", s.UserID)
			c.Set("role", s.Role)
			return next(c)
		}
	}
}
