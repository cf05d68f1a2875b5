package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/statchart/backend/internal/catalog"
)

type CatalogHandler struct {
	catalog *catalog.Catalog
}

func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: cat}
}

// Search handles GET /catalog?q=&source=&topic=. topic may repeat or be
// comma separated.
func (h *CatalogHandler) Search(c *fiber.Ctx) error {
	var topics []string
	for _, raw := range c.Context().QueryArgs().PeekMulti("topic") {
		for _, t := range strings.Split(string(raw), ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	entries := h.catalog.Search(c.Query("q"), catalog.Filter{
		SourceID: c.Query("source"),
		Topics:   topics,
	})
	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *CatalogHandler) Topics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"topics": h.catalog.AvailableTopics(),
	})
}
