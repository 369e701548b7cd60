package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/cache"
)

// captureWriter copies up to limit bytes of the response body while
// forwarding everything to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 || cw.size+int64(len(b)) <= cw.limit {
		cw.buf.Write(b)
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// CacheAggregate serves a GET endpoint from the results cache entry name.
// On a miss the handler runs and a 200 JSON body is stored for the cache
// TTL; bodies over maxBody bytes are not stored.  Ledger writes evict the
// entry through cache.Results.Invalidate.
func CacheAggregate(rc *cache.Results, name string, maxBody int) echo.MiddlewareFunc {
	if !rc.Enabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodGet {
				return next(c)
			}
			ctx := c.Request().Context()

			if body, ok := rc.Get(ctx, name); ok {
				h := c.Response().Header()
				h.Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
				h.Set("X-Cache", "HIT")
				h.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(rc.TTL().Seconds())))
				return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, body)
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: int64(maxBody)}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status == http.StatusOK && (maxBody <= 0 || cw.size <= int64(maxBody)) {
				_ = rc.Set(context.WithoutCancel(ctx), name, cw.buf.Bytes())
			}
			return nil
		}
	}
}
