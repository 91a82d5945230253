package pkg

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Paginate returns the zero-based page of items. Out of range pages are empty.
func Paginate[T any](items []T, page int, pageSize int) []T {
	page, pageSize = NormalizePage(page, pageSize)
	// compare before multiplying so huge pages cannot overflow start
	if len(items) == 0 || page > (len(items)-1)/pageSize {
		return []T{}
	}
	start := page * pageSize
	end := start + pageSize

	if end > len(items) {
		end = len(items)
	}

	return items[start:end]
}

// NormalizePage clamps request paging parameters.
func NormalizePage(page int, pageSize int) (int, int) {
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
