package bulkmut

import (
	"context"
	"fmt"
)

// DefaultPageSize is the pager's page size when the selector leaves it unset.
const DefaultPageSize = 500

// ErrStopIteration may be returned by a page callback to abandon a read
// early without surfacing an error to the caller.
var ErrStopIteration = fmt.Errorf("stop iteration")

// Pager walks a paginated read, advancing the selector's start index in
// place. Selectors are commonly shared and reused, so whatever happens —
// completion, an early stop, or an error — the cursor is restored to the
// start index the walk began with.
type Pager struct {
	service  EntityService
	clientID int64
	entity   string
}

func NewPager(service EntityService, clientID int64, entity string) *Pager {
	return &Pager{service: service, clientID: clientID, entity: entity}
}

// Each invokes fn for every entity the selector matches, page by page. The
// walk stops at the reported total, or early when a page comes back empty,
// or when fn returns an error (ErrStopIteration stops silently).
func (p *Pager) Each(ctx context.Context, selector *Selector, fn func(entry map[string]any) error) error {
	if selector.PageSize <= 0 {
		selector.PageSize = DefaultPageSize
	}
	origin := selector.StartIndex
	defer func() { selector.StartIndex = origin }()

	for {
		page, err := p.service.Query(ctx, p.clientID, p.entity, *selector)
		if err != nil {
			return fmt.Errorf("query %s page at %d: %w", p.entity, selector.StartIndex, err)
		}
		if len(page.Entries) == 0 {
			return nil
		}
		for _, entry := range page.Entries {
			if err := fn(entry); err != nil {
				if err == ErrStopIteration {
					return nil
				}
				return err
			}
		}
		selector.StartIndex += selector.PageSize
		if selector.StartIndex >= page.TotalEntries {
			return nil
		}
	}
}

// Collect reads every matching entity into a slice.
func (p *Pager) Collect(ctx context.Context, selector *Selector) ([]map[string]any, error) {
	var entries []map[string]any
	err := p.Each(ctx, selector, func(entry map[string]any) error {
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}
