// Package pagination follows cursor-paginated API responses.
//
// The insights API returns a page of rows plus a "next" cursor while more rows are
// available. Cursors must be followed one after another, so pages are fetched
// sequentially, bounded by a configurable maximum to guard against an API that
// never stops returning cursors.
//
// Example usage:
//
//	first, err := fetchFirstPage(ctx)
//	if err != nil {
//		return err
//	}
//	result, err := pagination.Follow(ctx, first, fetchPage, pagination.DefaultConfig())
//	if result.Truncated {
//		// The page bound was hit - result.Items is valid but incomplete
//	}
//
// Follow:
//   - Starts from an already fetched first page
//   - Calls the NextFunc with each page's cursor until HasMore is false
//   - Stops at MaxPages and reports Truncated instead of silently dropping rows
//   - Returns the pages collected so far together with any error
package pagination
