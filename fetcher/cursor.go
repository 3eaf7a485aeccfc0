package fetcher

import "fmt"

// DefaultPageSize is used when a non-positive page size is configured.
const DefaultPageSize = 100

// Cursor tracks the pagination state of one issue stream: the page to
// request next, how many items have arrived and how many the service
// claims exist.
type Cursor struct {
	pageSize  int
	page      int
	base      int
	fetched   int
	calls     int
	lastCount int
	total     int
}

// NewCursor creates a cursor positioned on page 1.
func NewCursor(pageSize int) *Cursor {
	return NewCursorAt(pageSize, 1)
}

// NewCursorAt creates a cursor resuming at page. Items on earlier pages are
// counted as already fetched.
func NewCursorAt(pageSize, page int) *Cursor {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	base := (page - 1) * pageSize
	return &Cursor{
		pageSize: pageSize,
		page:     page,
		base:     base,
		fetched:  base,
	}
}

// Page returns the page index to request next.
func (c *Cursor) Page() int { return c.page }

// PageSize returns the configured page size.
func (c *Cursor) PageSize() int { return c.pageSize }

// Fetched returns the cumulative item count, including skipped pages when resuming.
func (c *Cursor) Fetched() int { return c.fetched }

// Calls returns how many pages have been recorded.
func (c *Cursor) Calls() int { return c.calls }

// Total returns the last declared total.
func (c *Cursor) Total() int { return c.total }

// Done reports whether harvesting is complete: either everything declared
// has arrived or the last page came back empty.
func (c *Cursor) Done(totalDeclared int) bool {
	if c.calls == 0 {
		return false
	}
	return c.fetched >= totalDeclared || c.lastCount == 0
}

// MaxCalls is the most pages a stream of totalDeclared items may take.
func (c *Cursor) MaxCalls(totalDeclared int) int {
	remaining := totalDeclared - c.base
	if remaining < 0 {
		remaining = 0
	}
	return (remaining+c.pageSize-1)/c.pageSize + 1
}

// Advance records a page of itemsReturned items and reports whether the
// stream is finished. When it is not, the cursor moves to the next page.
// It fails with ErrProtocolViolation instead of allowing more page requests
// than totalDeclared can justify.
func (c *Cursor) Advance(itemsReturned, totalDeclared int) (bool, error) {
	c.calls++
	c.fetched += itemsReturned
	c.lastCount = itemsReturned
	c.total = totalDeclared

	if c.Done(totalDeclared) {
		return true, nil
	}
	if c.calls >= c.MaxCalls(totalDeclared) {
		return false, fmt.Errorf("%w: %d pages fetched, %d of %d items", ErrProtocolViolation, c.calls, c.fetched, totalDeclared)
	}
	c.page++
	return false, nil
}
