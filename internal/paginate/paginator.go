// Package paginate turns a cursor-returning endpoint into a lazy sequence
// of pages, per §4.3.
package paginate

import "context"

// Page is one fetched page: its records and the cursor for the next
// page, or "" if there is none.
type Page struct {
	Data       []map[string]any
	NextCursor string
}

// FetchFunc retrieves the page identified by cursor (empty for the first
// page).
type FetchFunc func(ctx context.Context, cursor string) (Page, error)

// Paginator lazily walks every page a FetchFunc produces.
type Paginator struct {
	fetch FetchFunc
}

// New builds a Paginator over fetch.
func New(fetch FetchFunc) *Paginator {
	return &Paginator{fetch: fetch}
}

// Each calls yield once per page, in order, until fetch reports no
// further cursor or returns an error. An empty page's data array is
// legal and does not terminate iteration on its own (§4.3) — only the
// absence of nextCursor does. Returning false from yield stops
// iteration early without error (consumer-driven cancellation).
func (p *Paginator) Each(ctx context.Context, yield func(Page) (bool, error)) error {
	cursor := ""
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		page, err := p.fetch(ctx, cursor)
		if err != nil {
			return err
		}

		cont, err := yield(page)
		if err != nil {
			return err
		}
		if !cont || page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}
