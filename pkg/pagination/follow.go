package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds cursor follower configuration
type Config struct {
	// MaxPages bounds the number of pages fetched, including the first one.
	// The right value depends on the page size requested from the API.
	MaxPages int
}

// DefaultConfig returns the default page bound
func DefaultConfig() Config {
	return Config{
		MaxPages: 10,
	}
}

// Page is one page of a cursor-paginated response
type Page[T any] struct {
	// Items are the rows of this page
	Items []T
	// HasMore reports whether the API announced another page
	HasMore bool
	// Next is the opaque cursor of the next page
	Next string
}

// NextFunc fetches the page addressed by cursor
type NextFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Result is the concatenation of all followed pages
type Result[T any] struct {
	// Items are the rows of every fetched page, in page order
	Items []T
	// Pages is the number of pages fetched
	Pages int
	// Truncated is true when MaxPages was reached while more pages were announced
	Truncated bool
}

// Follow fetches every page after first until the API stops announcing more or
// MaxPages is reached. On error the pages collected so far are returned with it.
func Follow[T any](ctx context.Context, first Page[T], next NextFunc[T], config Config) (Result[T], error) {
	maxPages := config.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultConfig().MaxPages
	}

	start := time.Now()
	result := Result[T]{
		Items: append([]T(nil), first.Items...),
		Pages: 1,
	}

	page := first
	for page.HasMore {
		if result.Pages >= maxPages {
			result.Truncated = true
			log.Warn().
				Int("pages", result.Pages).
				Int("max_pages", maxPages).
				Int("items", len(result.Items)).
				Msg("Page bound reached with more pages outstanding")
			break
		}

		if page.Next == "" {
			return result, fmt.Errorf("page %d announced more data without a cursor", result.Pages)
		}

		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("fetch page %d: %w", result.Pages+1, err)
		}

		var err error
		page, err = next(ctx, page.Next)
		if err != nil {
			return result, fmt.Errorf("fetch page %d: %w", result.Pages+1, err)
		}

		result.Items = append(result.Items, page.Items...)
		result.Pages++
	}

	log.Debug().
		Int("pages", result.Pages).
		Int("items", len(result.Items)).
		Bool("truncated", result.Truncated).
		Dur("duration", time.Since(start)).
		Msg("Pagination complete")

	return result, nil
}
