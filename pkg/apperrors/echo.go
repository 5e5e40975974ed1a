package apperrors

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ToHTTP converts err into an *echo.HTTPError whose body is the error's
// code, message and details. Causes of internal errors are not exposed.
func ToHTTP(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Internal("internal server error", err)
	}
	body := &Error{Kind: appErr.Kind, Message: appErr.Message, Details: appErr.Details}
	if appErr.Kind == KindInternal {
		body.Message = "internal server error"
		body.Details = nil
	}
	return echo.NewHTTPError(HTTPStatus(appErr.Kind), body).SetInternal(err)
}

// BadRequest is a shortcut for malformed path or query parameters.
func BadRequest(message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, &Error{Kind: KindInvalid, Message: message})
}
