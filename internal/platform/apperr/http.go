package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON shape of every error response.
type Body struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Render maps err to a status code and response body.
func Render(err error) (int, Body) {
	var (
		ve  *ValidationError
		ce  *ConflictError
		pe  *PermissionError
		ge  *GatewayError
		nfe *NotFoundError
		he  *echo.HTTPError
	)

	switch {
	case errors.As(err, new(*InternalError)):
		return http.StatusInternalServerError, Body{Error: "internal_error", Message: "internal server error"}
	case errors.As(err, &ve):
		return http.StatusBadRequest, Body{Error: "validation_error", Message: "request failed validation", Fields: ve.Fields}
	case errors.As(err, &ce):
		return http.StatusConflict, Body{Error: "conflict", Message: ce.Message}
	case errors.As(err, &pe):
		return http.StatusForbidden, Body{Error: "permission_denied", Message: pe.Error()}
	case errors.As(err, &nfe):
		return http.StatusNotFound, Body{Error: "not_found", Message: nfe.Error()}
	case errors.As(err, &ge):
		code := http.StatusBadGateway
		if ge.Kind == GatewayConfiguration {
			code = http.StatusServiceUnavailable
		}
		return code, Body{Error: "gateway_" + string(ge.Kind), Message: ge.Message}
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, Body{Error: "http_error", Message: msg}
	default:
		return http.StatusInternalServerError, Body{Error: "internal_error", Message: "internal server error"}
	}
}

// HTTPErrorHandler replaces echo's default handler so that every service
// error reaches the client in the same shape.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := Render(err)
		evt := logger.Debug()
		if code >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.Err(err).
			Int("status", code).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("request failed")

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to write error response")
		}
	}
}
