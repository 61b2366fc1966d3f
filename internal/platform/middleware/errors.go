package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/pkg/response"
)

// Classify maps an error returned by a handler to the response status and a
// message that is safe to show the caller. Anything that is neither an
// apperr nor an echo error, an expired request deadline included, is an
// internal error.
func Classify(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = fmt.Sprint(he.Message)
		}
		if he.Code >= http.StatusInternalServerError {
			msg = http.StatusText(he.Code)
		}
		return he.Code, msg
	}
	ae := apperr.As(err)
	return apperr.HTTPStatus(ae.Kind), ae.Message
}

// statusOf is the status the request will end with, for middleware that
// runs before the error handler has written the response.
func statusOf(c echo.Context, err error) int {
	if err != nil {
		status, _ := Classify(err)
		return status
	}
	return c.Response().Status
}

// ErrorHandler renders every error as the standard envelope. Server-side
// failures are logged with their cause; the caller only sees a generic
// message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, msg := Classify(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", requestID(c)).
				Str("method", c.Request().Method).
				Str("route", c.Path()).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = response.Fail(c, status, msg)
		}
		if werr != nil {
			logger.Error().Err(werr).Str("request_id", requestID(c)).Msg("failed to write error response")
		}
	}
}
