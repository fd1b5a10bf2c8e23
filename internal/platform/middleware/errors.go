package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// errorEnvelope is the failure shape every endpoint returns. Clients key on
// the success flag before reading anything else.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ErrorHandler renders every error as the {"success":false,"error":...}
// envelope the API contract promises. Upstream messages are surfaced
// verbatim so callers can tell a misconfigured ledger from a transient one.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := err.Error()

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if s, ok := he.Message.(string); ok {
				msg = s
			} else {
				msg = fmt.Sprintf("%v", he.Message)
			}
		}

		if writeErr := c.JSON(code, errorEnvelope{Success: false, Error: msg}); writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}
