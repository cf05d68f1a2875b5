// Package sharestate turns canonical queries into URL-safe tokens and back.
//
// A token is the query's JSON in base64 with '+' and '/' replaced by '-' and
// '_' and the padding stripped.
package sharestate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/statchart/backend/internal/dataset"
)

var ErrInvalidState = errors.New("invalid share state")

// maxTokenLen bounds what Decode will look at; shared links are short.
const maxTokenLen = 16 << 10

func Encode(q dataset.Query) (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encode share state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode reverses Encode. Any malformed token, including one that decodes to
// a query failing validation, yields ErrInvalidState.
func Decode(token string) (q dataset.Query, err error) {
	defer func() {
		if r := recover(); r != nil {
			q, err = dataset.Query{}, fmt.Errorf("%w: %v", ErrInvalidState, r)
		}
	}()

	token = strings.TrimRight(strings.TrimSpace(token), "=")
	if token == "" || len(token) > maxTokenLen {
		return dataset.Query{}, ErrInvalidState
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return dataset.Query{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return dataset.Query{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := q.Validate(); err != nil {
		return dataset.Query{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return q, nil
}
