package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/agent/service"
	"github.com/researchagent/backend/internal/api/stream"
	"github.com/researchagent/backend/pkg/logger"
)

// StreamHandler serves POST /stream, the SSE entry point.
type StreamHandler struct {
	svc *service.Service
}

func NewStreamHandler(svc *service.Service) *StreamHandler {
	return &StreamHandler{svc: svc}
}

type streamRequest struct {
	Query                string   `json:"query"`
	Provider             string   `json:"provider"`
	Model                string   `json:"model"`
	TopK                 *int     `json:"top_k"`
	GuardrailThreshold   *int     `json:"guardrail_threshold"`
	MaxRetrievalAttempts *int     `json:"max_retrieval_attempts"`
	Temperature          *float32 `json:"temperature"`
	SessionID            string   `json:"session_id"`
	ConversationWindow   *int     `json:"conversation_window"`
}

func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	var req streamRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	sink, err := h.svc.Ask(c.Context(), service.Request{
		Query:                req.Query,
		SessionID:            req.SessionID,
		Provider:             req.Provider,
		Model:                req.Model,
		TopK:                 req.TopK,
		GuardrailThreshold:   req.GuardrailThreshold,
		MaxRetrievalAttempts: req.MaxRetrievalAttempts,
		Temperature:          req.Temperature,
		ConversationWindow:   req.ConversationWindow,
	})
	if err != nil {
		if isValidationError(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		logger.Error("failed to start agent run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to start agent run"})
	}

	stream.Write(c, sink)
	return nil
}

func isValidationError(err error) bool {
	return errors.Is(err, service.ErrEmptyQuery) ||
		errors.Is(err, service.ErrInvalidTopK) ||
		errors.Is(err, service.ErrInvalidThreshold) ||
		errors.Is(err, service.ErrInvalidRetryBudget) ||
		errors.Is(err, service.ErrInvalidWindow) ||
		errors.Is(err, service.ErrInvalidTemperature) ||
		errors.Is(err, service.ErrInvalidMaxIterations)
}
