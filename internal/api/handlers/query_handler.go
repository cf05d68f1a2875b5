package handlers

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/export"
	"github.com/statchart/backend/internal/middleware/validation"
	"github.com/statchart/backend/internal/query"
	"github.com/statchart/backend/internal/sharestate"
	"github.com/statchart/backend/pkg/logger"
)

const defaultHistoryLimit = 50

type QueryHandler struct {
	queryEngine *query.Engine
}

func NewQueryHandler(queryEngine *query.Engine) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
	}
}

// canonicalQuery returns the query validated by the validation middleware,
// parsing the body itself when the middleware is not mounted.
func canonicalQuery(c *fiber.Ctx) (dataset.Query, error) {
	if q, ok := c.Locals(validation.QueryKey).(dataset.Query); ok {
		return q, nil
	}
	return validation.ParseQuery(c.Body())
}

func resultBody(res *query.Result) (fiber.Map, error) {
	data, err := dataset.Marshal(res.Dataset)
	if err != nil {
		return nil, err
	}
	return fiber.Map{
		"id":        res.ID,
		"query":     res.Query,
		"dataset":   json.RawMessage(data),
		"state":     res.State,
		"latencyMs": res.LatencyMS,
	}, nil
}

func (h *QueryHandler) ExecuteQuery(c *fiber.Ctx) error {
	q, err := canonicalQuery(c)
	if err != nil {
		return respondError(c, "Invalid query", err)
	}

	res, err := h.queryEngine.Execute(c.UserContext(), q)
	if err != nil {
		return respondError(c, "Failed to execute query", err)
	}

	body, err := resultBody(res)
	if err != nil {
		return respondError(c, "Failed to encode dataset", err)
	}
	return c.JSON(body)
}

func (h *QueryHandler) ExecuteShared(c *fiber.Ctx) error {
	res, err := h.queryEngine.ExecuteShared(c.UserContext(), c.Params("state"))
	if err != nil {
		return respondError(c, "Failed to execute shared query", err)
	}

	body, err := resultBody(res)
	if err != nil {
		return respondError(c, "Failed to encode dataset", err)
	}
	return c.JSON(body)
}

func (h *QueryHandler) ExportCSV(c *fiber.Ctx) error {
	q, err := canonicalQuery(c)
	if err != nil {
		return respondError(c, "Invalid query", err)
	}

	res, err := h.queryEngine.Execute(c.UserContext(), q)
	if err != nil {
		return respondError(c, "Failed to execute query", err)
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, res.Dataset); err != nil {
		return respondError(c, "Failed to write CSV", err)
	}

	c.Attachment(export.Filename(res.Dataset))
	c.Set(fiber.HeaderContentType, export.ContentType)
	return c.Send(buf.Bytes())
}

func (h *QueryHandler) EncodeState(c *fiber.Ctx) error {
	q, err := canonicalQuery(c)
	if err != nil {
		return respondError(c, "Invalid query", err)
	}

	state, err := sharestate.Encode(q)
	if err != nil {
		return respondError(c, "Failed to encode state", err)
	}
	return c.JSON(fiber.Map{"state": state})
}

func (h *QueryHandler) DecodeState(c *fiber.Ctx) error {
	q, err := sharestate.Decode(c.Params("token"))
	if err != nil {
		return respondError(c, "Invalid share state", err)
	}
	return c.JSON(fiber.Map{"query": q})
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 || limit > 1000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 1000",
		})
	}

	records, err := h.queryEngine.History(c.UserContext(), c.Query("source"), limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Query history unavailable",
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":          r.ID,
			"sourceId":    r.SourceID,
			"queryType":   r.QueryType,
			"queryUrl":    r.QueryURL,
			"status":      r.Status,
			"datasetKind": r.DatasetKind,
			"error":       r.ErrorText,
			"latencyMs":   r.LatencyMS,
			"createdAt":   r.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}
