package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/source"
)

type SourceHandler struct {
	registry *adapter.Registry
}

func NewSourceHandler(registry *adapter.Registry) *SourceHandler {
	return &SourceHandler{registry: registry}
}

type sourceView struct {
	source.Config
	Capabilities []string `json:"capabilities"`
}

func viewOf(s adapter.Source) sourceView {
	return sourceView{Config: s.Config(), Capabilities: s.Capabilities()}
}

func (h *SourceHandler) List(c *fiber.Ctx) error {
	list := h.registry.List()
	out := make([]sourceView, 0, len(list))
	for _, s := range list {
		out = append(out, viewOf(s))
	}
	return c.JSON(fiber.Map{"sources": out})
}

func (h *SourceHandler) Get(c *fiber.Ctx) error {
	s, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return respondError(c, "Unknown source", err)
	}
	return c.JSON(viewOf(s))
}

func (h *SourceHandler) Entities(c *fiber.Ctx) error {
	s, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return respondError(c, "Unknown source", err)
	}
	entities, err := s.Entities(c.UserContext())
	if err != nil {
		return respondError(c, "Failed to list entities", err)
	}
	return c.JSON(fiber.Map{"entities": entities, "count": len(entities)})
}

func (h *SourceHandler) Indicators(c *fiber.Ctx) error {
	s, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return respondError(c, "Unknown source", err)
	}
	entries, err := s.SearchIndicators(c.UserContext(), c.Query("q"))
	if err != nil {
		return respondError(c, "Failed to search indicators", err)
	}
	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}
