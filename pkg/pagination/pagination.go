package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// FromContext extracts page/limit from the query string. Page is 1-based.
func FromContext(c echo.Context) Params {
	return New(atoi(c.QueryParam("page")), atoi(c.QueryParam("limit")))
}

// New normalises a page and limit into Params.
func New(page, limit int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page <= 0 {
		page = 1
	}
	return Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Pagination is the block returned alongside list results.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// Of builds the pagination block for a result set of size total.
func (p Params) Of(total int) *Pagination {
	pages := 0
	if total > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return &Pagination{Total: total, Page: p.Page, Limit: p.Limit, Pages: pages}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}
