package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"kiro-relay/internal/proxy"
	"kiro-relay/internal/translator"
)

const dialectKey = "dialect"

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

// withDialect tags the route so errors are written in the caller's format.
func withDialect(d translator.Dialect) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(dialectKey, d)
			return next(c)
		}
	}
}

func dialectOf(c echo.Context) translator.Dialect {
	if d, ok := c.Get(dialectKey).(translator.Dialect); ok {
		return d
	}
	return translator.DialectAnthropic
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	return c.JSON(status, translator.ErrorBody(dialectOf(c), errType, message, code))
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		s.logger.Warn("error after response was committed", "uri", c.Request().RequestURI, "err", err)
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), errorTypeForStatus(he.Code), "")
		return
	}

	s.logger.Error("unhandled error", "uri", c.Request().RequestURI, "err", err)
	_ = writeError(c, http.StatusInternalServerError, "internal server error", translator.ErrorTypeAPI, "")
}

func errorTypeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return translator.ErrorTypeAuthentication
	case status == http.StatusNotFound:
		return translator.ErrorTypeNotFound
	case status == http.StatusTooManyRequests:
		return translator.ErrorTypeRateLimit
	case status >= 500:
		return translator.ErrorTypeAPI
	default:
		return translator.ErrorTypeInvalidRequest
	}
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var perr *proxy.Error
	if errors.As(err, &perr) {
		errType := translator.ErrorTypeAPI
		if perr.Kind == proxy.KindInvalidRequest {
			errType = translator.ErrorTypeInvalidRequest
		}
		return requestError{
			Status:  perr.Kind.HTTPStatus(),
			Message: perr.Error(),
			Type:    errType,
			Code:    perr.Kind.String(),
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    translator.ErrorTypeAPI,
	}
}
