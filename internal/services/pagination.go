package services

// Pagination bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// pageBounds converts a 1-based page and size into offset and limit,
// applying defaults and the upper bound.
func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return (page - 1) * pageSize, pageSize
}
