package shared

// Pagination describes how a counted result set splits into fixed-size pages.
type Pagination struct {
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata. A non-positive perPage falls
// back to 1000 rows, the default row ceiling of the backing store.
func NewPagination(perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 1000
	}
	if total < 0 {
		total = 0
	}
	return Pagination{PerPage: perPage, Total: total, TotalPages: (total + perPage - 1) / perPage}
}

// Limit returns the row limit for the next page given how many rows were
// already received. It never exceeds PerPage and never asks past Total.
func (p Pagination) Limit(received int) int {
	remaining := p.Total - received
	if remaining <= 0 {
		return 0
	}
	if remaining < p.PerPage {
		return remaining
	}
	return p.PerPage
}

// Offset returns the zero-based row offset of page.
func (p Pagination) Offset(page int) int {
	if page <= 0 {
		return 0
	}
	return page * p.PerPage
}
