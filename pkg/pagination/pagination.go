package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts ?limit= and ?offset= from the echo context. Missing or
// invalid values fall back to the defaults.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}

// Slice returns the page of items selected by p.
func Slice[T any](items []T, p Params) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Links builds self/next/previous links for a listing at basePath. Filters in
// query are carried on every link.
func (p Params) Links(basePath string, query url.Values, total int) []Link {
	links := []Link{{Relation: "self", URL: pageURL(basePath, query, p.Offset, p.Limit)}}
	if p.HasNext(total) {
		links = append(links, Link{Relation: "next", URL: pageURL(basePath, query, p.NextOffset(), p.Limit)})
	}
	if p.HasPrevious() {
		links = append(links, Link{Relation: "previous", URL: pageURL(basePath, query, p.PreviousOffset(), p.Limit)})
	}
	return links
}

func pageURL(basePath string, query url.Values, offset, limit int) string {
	q := url.Values{}
	for k, v := range query {
		if k == "limit" || k == "offset" {
			continue
		}
		q[k] = v
	}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return basePath + "?" + q.Encode()
}

// Link is one navigation entry of a paginated response.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}
