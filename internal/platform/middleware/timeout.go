package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context. Database calls
// observe it, so a booking stuck behind a slot lock is abandoned and its
// transaction rolled back once the deadline passes. The handler runs on the
// calling goroutine; a 504 is written only if it returns after the deadline
// without having written a response.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return c.JSON(http.StatusGatewayTimeout,
					errorBody("TIMEOUT", "request processing exceeded the allowed time limit"))
			}
			return err
		}
	}
}

// errorBody matches the JSON shape of apperrors.Error so clients see one
// error format regardless of which layer rejected the request.
func errorBody(code, message string) map[string]any {
	return map[string]any{"code": code, "message": message}
}
