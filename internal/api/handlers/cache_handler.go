package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/pkg/logger"
)

type CacheHandler struct {
	cache *cache.Layered
}

func NewCacheHandler(c *cache.Layered) *CacheHandler {
	return &CacheHandler{cache: c}
}

func (h *CacheHandler) Cleanup(c *fiber.Ctx) error {
	removed := h.cache.CleanupExpired(c.UserContext())
	logger.Info("Cache cleanup requested", zap.Int("removed", removed))
	return c.JSON(fiber.Map{
		"removed": removed,
		"entries": h.cache.Len(),
	})
}

func (h *CacheHandler) Clear(c *fiber.Ctx) error {
	h.cache.Clear(c.UserContext())
	logger.Info("Cache cleared")
	return c.SendStatus(fiber.StatusNoContent)
}
