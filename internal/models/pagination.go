package models

// Paging defaults shared by list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	SortAsc         = "asc"
	SortDesc        = "desc"
)

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
