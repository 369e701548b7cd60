package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/utils"
)

const sessionKey = "session"

// SessionFrom returns the identity stored by JWTAuth.
func SessionFrom(c echo.Context) (utils.Session, bool) {
	s, ok := c.Get(sessionKey).(utils.Session)
	return s, ok
}

// userID is the rate-limit identity of the caller, "anon" before login.
func userID(c echo.Context) string {
	if s, ok := SessionFrom(c); ok && s.UserID != 0 {
		return strconv.FormatUint(s.UserID, 10)
	}
	return "anon"
}
