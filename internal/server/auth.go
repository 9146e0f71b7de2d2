package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"kiro-relay/internal/storage"
	"kiro-relay/internal/translator"
)

const headerAPIKey = "x-api-key"

// requireAPIKey accepts "Authorization: Bearer <key>" or "x-api-key". Auth
// failures always use the Messages-style envelope.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := apiKeyFrom(c.Request())
		if key == "" {
			return authError("missing api key")
		}

		if _, err := s.apiKeys.LookupAPIKey(c.Request().Context(), key); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return authError("invalid api key")
			}
			s.logger.Error("api key lookup failed", "err", err)
			return requestError{Status: http.StatusInternalServerError, Message: "internal server error", Type: translator.ErrorTypeAPI}
		}
		return next(c)
	}
}

func apiKeyFrom(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization)); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return auth
	}
	return strings.TrimSpace(r.Header.Get(headerAPIKey))
}

func authError(message string) error {
	return requestError{Status: http.StatusUnauthorized, Message: message, Type: translator.ErrorTypeAuthentication}
}
