package pagination

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedSource serves totalPages pages of perPage ints; cursors are page numbers.
type pagedSource struct {
	totalPages int
	perPage    int
	calls      int
	failAt     int
}

func (s *pagedSource) page(n int) Page[int] {
	items := make([]int, s.perPage)
	for i := range items {
		items[i] = (n-1)*s.perPage + i
	}
	p := Page[int]{Items: items}
	if n < s.totalPages {
		p.HasMore = true
		p.Next = strconv.Itoa(n + 1)
	}
	return p
}

func (s *pagedSource) next(ctx context.Context, cursor string) (Page[int], error) {
	s.calls++
	n, err := strconv.Atoi(cursor)
	if err != nil {
		return Page[int]{}, err
	}
	if n == s.failAt {
		return Page[int]{}, fmt.Errorf("boom on page %d", n)
	}
	return s.page(n), nil
}

func TestFollow_AllPages(t *testing.T) {
	src := &pagedSource{totalPages: 3, perPage: 10}

	result, err := Follow(context.Background(), src.page(1), src.next, DefaultConfig())
	require.NoError(t, err)

	assert.Len(t, result.Items, 30)
	assert.Equal(t, 3, result.Pages)
	assert.False(t, result.Truncated)
	assert.Equal(t, 2, src.calls)
	for i, v := range result.Items {
		assert.Equal(t, i, v)
	}
}

func TestFollow_SinglePage(t *testing.T) {
	src := &pagedSource{totalPages: 1, perPage: 5}

	result, err := Follow(context.Background(), src.page(1), src.next, DefaultConfig())
	require.NoError(t, err)

	assert.Len(t, result.Items, 5)
	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, 0, src.calls)
}

func TestFollow_Truncated(t *testing.T) {
	src := &pagedSource{totalPages: 20, perPage: 2}

	result, err := Follow(context.Background(), src.page(1), src.next, Config{MaxPages: 4})
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Equal(t, 4, result.Pages)
	assert.Len(t, result.Items, 8)
}

func TestFollow_ExactlyAtBoundIsComplete(t *testing.T) {
	src := &pagedSource{totalPages: 4, perPage: 2}

	result, err := Follow(context.Background(), src.page(1), src.next, Config{MaxPages: 4})
	require.NoError(t, err)

	assert.False(t, result.Truncated)
	assert.Equal(t, 4, result.Pages)
}

func TestFollow_DefaultBound(t *testing.T) {
	src := &pagedSource{totalPages: 50, perPage: 1}

	result, err := Follow(context.Background(), src.page(1), src.next, Config{})
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Equal(t, 10, result.Pages)
}

func TestFollow_ErrorReturnsPartial(t *testing.T) {
	src := &pagedSource{totalPages: 5, perPage: 3, failAt: 3}

	result, err := Follow(context.Background(), src.page(1), src.next, DefaultConfig())
	require.Error(t, err)

	assert.Contains(t, err.Error(), "fetch page 3")
	assert.Equal(t, 2, result.Pages)
	assert.Len(t, result.Items, 6)
}

func TestFollow_MissingCursor(t *testing.T) {
	first := Page[int]{Items: []int{1}, HasMore: true}

	_, err := Follow(context.Background(), first, func(context.Context, string) (Page[int], error) {
		t.Fatal("next should not be called without a cursor")
		return Page[int]{}, nil
	}, DefaultConfig())
	assert.Error(t, err)
}

func TestFollow_ContextCancelled(t *testing.T) {
	src := &pagedSource{totalPages: 5, perPage: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Follow(ctx, src.page(1), src.next, DefaultConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, 0, src.calls)
}
