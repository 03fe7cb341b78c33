package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"healthbridge-backend/pkg/constants"
)

// Params holds cursor-based pagination parameters. The cursor is an opaque
// token produced by a previous page; callers must not interpret it.
type Params struct {
	Limit  int
	Cursor []byte
}

// Page wraps one page of results together with the cursor for the next page.
// NextCursor is empty when there are no further pages.
type Page struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// Parse parses limit and cursor query parameters. An absent limit falls back
// to the default page size; out-of-range limits are clamped.
func Parse(limitStr, cursorStr string) (*Params, error) {
	limit := constants.DefaultPageSize
	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < 1:
			limit = constants.DefaultPageSize
		case l > constants.MaxPageSize:
			limit = constants.MaxPageSize
		default:
			limit = l
		}
	}

	var cursor []byte
	if cursorStr != "" {
		decoded, err := base64.URLEncoding.DecodeString(cursorStr)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor parameter: %w", err)
		}
		cursor = decoded
	}

	return &Params{Limit: limit, Cursor: cursor}, nil
}

// EncodeCursor converts a storage-level page state into an opaque token
func EncodeCursor(pageState []byte) string {
	if len(pageState) == 0 {
		return ""
	}
	return base64.URLEncoding.EncodeToString(pageState)
}

// NewPage builds a page response from items and the raw next page state
func NewPage(items interface{}, nextPageState []byte) *Page {
	return &Page{
		Items:      items,
		NextCursor: EncodeCursor(nextPageState),
	}
}
