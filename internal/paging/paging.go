// Package paging drives bulk "queue everything" operations over catalogs
// too large to load at once.
package paging

import (
	"context"
	"iter"
)

// JobsAssetPaginationSize is the page size used by bulk job producers.
const JobsAssetPaginationSize = 1000

// Pagination is an offset window.
type Pagination struct {
	Take int
	Skip int
}

// Page is one window of results. HasNextPage=false ends iteration even if
// Items is full.
type Page[T any] struct {
	Items       []T
	HasNextPage bool
}

// FetchFunc loads one page.
type FetchFunc[T any] func(ctx context.Context, p Pagination) (Page[T], error)

// Pages returns a lazy sequence of pages. A page is fetched only when the
// consumer asks for it, so at most one page is held in memory. Iteration
// ends on an empty page, when HasNextPage is false, when the consumer stops,
// or after yielding a fetch error. Ranging the sequence again starts over
// from the first page.
func Pages[T any](ctx context.Context, pageSize int, fetch FetchFunc[T]) iter.Seq2[[]T, error] {
	if pageSize <= 0 {
		pageSize = JobsAssetPaginationSize
	}
	return func(yield func([]T, error) bool) {
		skip := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page, err := fetch(ctx, Pagination{Take: pageSize, Skip: skip})
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page.Items) == 0 {
				return
			}
			if !yield(page.Items, nil) {
				return
			}
			if !page.HasNextPage {
				return
			}
			skip += pageSize
		}
	}
}

// FromSlice adapts an offset query that returns up to Take+1 rows: the extra
// row signals that another page exists and is dropped from the result.
func FromSlice[T any](rows []T, p Pagination) Page[T] {
	if len(rows) > p.Take {
		return Page[T]{Items: rows[:p.Take], HasNextPage: true}
	}
	return Page[T]{Items: rows, HasNextPage: false}
}
