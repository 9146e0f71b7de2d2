package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"kiro-relay/internal/models"
	"kiro-relay/internal/translator"
)

const (
	modelCreated      = 1234567890
	healthPingTimeout = 2 * time.Second
)

func (s *Server) handleHealth(c echo.Context) error {
	status, code := "ok", http.StatusOK
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "err", err)
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, map[string]string{
		"status":    status,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMessages(c echo.Context) error {
	var req translator.MessagesRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	return s.proxyRequest(c, translator.DialectAnthropic, req.ToCanonical())
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	return s.proxyRequest(c, translator.DialectOpenAI, req.ToCanonical())
}

func (s *Server) proxyRequest(c echo.Context, dialect translator.Dialect, req models.CanonicalRequest) error {
	res, err := s.proxy.Handle(c.Request().Context(), dialect, req)
	if err != nil {
		return toHTTPError(err)
	}
	if req.Stream {
		return writeStream(c, translator.StreamEvents(dialect, res.Completion, res.IDs))
	}
	return c.JSON(http.StatusOK, res.Body)
}

type modelObject struct {
	ID              string `json:"id"`
	Object          string `json:"object"`
	Created         int64  `json:"created"`
	OwnedBy         string `json:"owned_by"`
	DisplayName     string `json:"display_name"`
	Type            string `json:"type"`
	MaxTokens       int    `json:"max_tokens"`
	InternalModelID string `json:"internal_model_id"`
	Description     string `json:"description"`
}

type modelList struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

func toModelObject(m models.ModelInfo) modelObject {
	return modelObject{
		ID:              m.ID,
		Object:          "model",
		Created:         modelCreated,
		OwnedBy:         "anthropic",
		DisplayName:     m.ID,
		Type:            "text",
		MaxTokens:       m.MaxTokens,
		InternalModelID: m.InternalID,
		Description:     m.Description,
	}
}

func (s *Server) handleListModels(c echo.Context) error {
	list := s.catalog.List()
	out := modelList{Object: "list", Data: make([]modelObject, 0, len(list))}
	for _, m := range list {
		out.Data = append(out.Data, toModelObject(m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetModel(c echo.Context) error {
	id := c.Param("id")
	m, err := s.catalog.Lookup(id)
	if err != nil {
		if errors.Is(err, models.ErrUnknownModel) {
			return requestError{Status: http.StatusNotFound, Message: fmt.Sprintf("model %q not found", id), Type: translator.ErrorTypeNotFound}
		}
		return err
	}
	return c.JSON(http.StatusOK, toModelObject(m))
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    translator.ErrorTypeInvalidRequest,
			}
		}
		if errors.Is(err, translator.ErrInvalidRequest) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: err.Error(),
				Type:    translator.ErrorTypeInvalidRequest,
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    translator.ErrorTypeInvalidRequest,
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    translator.ErrorTypeInvalidRequest,
		}
	}
	return nil
}

// writeStream replays a buffered completion as server-sent events.
func writeStream(c echo.Context, events []translator.SSEEvent) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    translator.ErrorTypeAPI,
		}
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	for _, ev := range events {
		if err := translator.WriteSSE(c.Response(), ev); err != nil {
			return err
		}
		flusher.Flush()
	}
	return nil
}
