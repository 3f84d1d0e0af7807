package types

// Page describes one page of a paginated listing.
type Page struct {
	Number   int `json:"page"`
	Size     int `json:"page_size"`
	NumPages int `json:"num_pages"`
	Total    int `json:"total"`
}

// NewPage clamps the requested page number into range for the given total.
// Page numbers are 1-based; out-of-range requests snap to the nearest valid
// page rather than erroring, so stale pagination links keep working.
func NewPage(number, size, total int) Page {
	if size <= 0 {
		size = 20
	}
	numPages := (total + size - 1) / size
	if numPages < 1 {
		numPages = 1
	}
	if number < 1 {
		number = 1
	}
	if number > numPages {
		number = numPages
	}
	return Page{Number: number, Size: size, NumPages: numPages, Total: total}
}

// Offset returns the row offset for SQL LIMIT/OFFSET queries.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// HasNext reports whether a following page exists.
func (p Page) HasNext() bool {
	return p.Number < p.NumPages
}

// HasPrev reports whether a preceding page exists.
func (p Page) HasPrev() bool {
	return p.Number > 1
}
