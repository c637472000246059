package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/storage/sqlite"
	"github.com/researchagent/backend/pkg/logger"
)

// ConversationHandler serves the conversation introspection endpoints:
// list, fetch-with-turns, delete.
type ConversationHandler struct {
	store *sqlite.Client
}

func NewConversationHandler(store *sqlite.Client) *ConversationHandler {
	return &ConversationHandler{store: store}
}

func (h *ConversationHandler) List(c *fiber.Ctx) error {
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	summaries, total, err := h.store.ListSessions(offset, limit)
	if err != nil {
		logger.Error("failed to list conversations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list conversations"})
	}

	conversations := make([]fiber.Map, 0, len(summaries))
	for _, s := range summaries {
		entry := fiber.Map{
			"session_id": s.SessionID,
			"turn_count": s.TurnCount,
			"created_at": s.CreatedAt,
			"updated_at": s.UpdatedAt,
		}
		if s.LastQuery != "" {
			entry["last_query"] = s.LastQuery
		}
		conversations = append(conversations, entry)
	}

	return c.JSON(fiber.Map{
		"total":         total,
		"offset":        offset,
		"limit":         limit,
		"conversations": conversations,
	})
}

func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	sessionID := c.Params("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "session_id is required"})
	}

	conv, turns, err := h.store.GetConversationWithTurns(sessionID)
	if err != nil {
		logger.Error("failed to load conversation", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load conversation"})
	}
	if conv == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown session"})
	}

	return c.JSON(fiber.Map{
		"session_id": conv.SessionID,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
		"turns":      turns,
	})
}

func (h *ConversationHandler) Delete(c *fiber.Ctx) error {
	sessionID := c.Params("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "session_id is required"})
	}

	turnsDeleted, err := h.store.DeleteConversation(sessionID)
	if err != nil {
		logger.Error("failed to delete conversation", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete conversation"})
	}

	return c.JSON(fiber.Map{
		"session_id":    sessionID,
		"turns_deleted": turnsDeleted,
	})
}
