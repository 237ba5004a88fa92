package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorHandler renders every failure as an Envelope. Messages of 5xx errors
// are replaced with a generic one and the cause is logged.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := http.StatusText(status)
		var fields []FieldError

		var verr *ValidationError
		var herr *echo.HTTPError
		switch {
		case errors.As(err, &verr):
			status = http.StatusBadRequest
			message = "Validation failed"
			fields = verr.Fields
		case errors.As(err, &herr):
			status = herr.Code
			if status < http.StatusInternalServerError {
				message = httpMessage(herr)
			}
			if herr.Internal != nil && errors.As(herr.Internal, &verr) {
				fields = verr.Fields
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", status).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = Fail(c, status, message, fields...)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}

func httpMessage(herr *echo.HTTPError) string {
	switch m := herr.Message.(type) {
	case string:
		return m
	case error:
		return m.Error()
	case nil:
		return http.StatusText(herr.Code)
	default:
		return fmt.Sprint(m)
	}
}
