package validation

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/dataset"
)

// QueryKey is the fiber.Locals key holding the validated dataset.Query.
const QueryKey = "canonical_query"

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	// QueryPaths are path suffixes whose POST body is a canonical query.
	QueryPaths          []string
	MaxSearchLength     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxSearchLength == 0 {
		cfg.MaxSearchLength = 200
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowedContentType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if term := c.Query("q"); term != "" {
			if len(term) > cfg.MaxSearchLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Search term exceeds maximum length",
				})
			}
			if containsXSS(term) {
				cfg.Logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("term", term),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid search term",
				})
			}
		}

		if c.Method() == fiber.MethodPost && matchesPath(c.Path(), cfg.QueryPaths) {
			q, err := ParseQuery(c.Body())
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
			c.Locals(QueryKey, q)
		}

		return c.Next()
	}
}

// ParseQuery decodes and validates a canonical query body.
func ParseQuery(body []byte) (dataset.Query, error) {
	var q dataset.Query
	if len(body) == 0 {
		return q, &dataset.ValidationError{Fields: []string{"request body is empty"}}
	}
	if err := json.Unmarshal(body, &q); err != nil {
		return q, &dataset.ValidationError{Fields: []string{"invalid JSON: " + err.Error()}}
	}
	q = sanitizeQuery(q)
	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}

func sanitizeQuery(q dataset.Query) dataset.Query {
	q = q.Clone()
	q.SourceID = sanitizeString(q.SourceID)
	for i, e := range q.Entities {
		q.Entities[i] = sanitizeString(e)
	}
	for i := range q.Y {
		q.Y[i].ID = sanitizeString(q.Y[i].ID)
	}
	q.Filters.TimeRange.Start = sanitizeString(q.Filters.TimeRange.Start)
	q.Filters.TimeRange.End = sanitizeString(q.Filters.TimeRange.End)
	return q
}

func allowedContentType(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}

func matchesPath(path string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
