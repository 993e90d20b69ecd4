package handlers

import (
	"errors"
	"strconv"
)

var errInvalidPagination = errors.New("invalid pagination params")

const maxPageSize = 100

// parsePaginationParams defaults to page 1 of 20 and caps the page size.
func parsePaginationParams(pageStr, limitStr string) (int64, int64, error) {
	page := int64(1)
	limit := int64(20)

	if pageStr != "" {
		p, err := strconv.ParseInt(pageStr, 10, 64)
		if err != nil || p < 1 {
			return 0, 0, errInvalidPagination
		}
		page = p
	}

	if limitStr != "" {
		l, err := strconv.ParseInt(limitStr, 10, 64)
		if err != nil || l < 1 {
			return 0, 0, errInvalidPagination
		}
		limit = l
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	return page, limit, nil
}

func paginationBody(data any, page, limit, total int64) map[string]any {
	pages := int64(0)
	if total > 0 {
		pages = (total + limit - 1) / limit
	}
	return map[string]any{
		"data": data,
		"pagination": map[string]any{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": pages,
		},
	}
}
