package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/logging"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
)

// ErrorBody is the error envelope every failed request returns.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	FellBack bool   `json:"fell_back,omitempty"`
}

// statusForKind maps a routed failure to the status the API answers with.
// Auth failures are the bridge's own credentials, so they surface as 502.
func statusForKind(k router.Kind) int {
	switch k {
	case router.KindNotFound:
		return http.StatusNotFound
	case router.KindValidation:
		return http.StatusBadRequest
	case router.KindAuth:
		return http.StatusBadGateway
	case router.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func kindForHTTPStatus(code int) string {
	switch {
	case code == http.StatusNotFound:
		return router.KindNotFound.String()
	case code >= 400 && code < 500:
		return router.KindValidation.String()
	case code == http.StatusServiceUnavailable:
		return router.KindTransient.String()
	default:
		return router.KindUnknown.String()
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		detail ErrorDetail
		routed *router.Error
		httpe  *echo.HTTPError
	)
	switch {
	case errors.As(err, &routed):
		status = statusForKind(routed.Kind)
		detail = ErrorDetail{Kind: routed.Kind.String(), Message: routed.Message, FellBack: routed.FellBack}
	case errors.As(err, &httpe):
		status = httpe.Code
		msg, ok := httpe.Message.(string)
		if !ok {
			msg = http.StatusText(status)
		}
		detail = ErrorDetail{Kind: kindForHTTPStatus(status), Message: msg}
	default:
		status = http.StatusInternalServerError
		detail = ErrorDetail{Kind: router.KindUnknown.String(), Message: http.StatusText(status)}
	}

	if status >= http.StatusInternalServerError {
		fields := append(logging.ContextFields(c.Request().Context()), zap.Error(err))
		s.logger.Warn("request failed", fields...)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, ErrorBody{Error: detail})
	}
	if werr != nil {
		s.logger.Error("failed to write error response", zap.Error(werr))
	}
}
