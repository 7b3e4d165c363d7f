package paginate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usedatabrew/klaviyo-source/internal/paginate"
)

func TestPaginatorWalksAllPages(t *testing.T) {
	pages := []paginate.Page{
		{Data: []map[string]any{{"id": "1"}}, NextCursor: "c2"},
		{Data: []map[string]any{{"id": "2"}}, NextCursor: "c3"},
		{Data: []map[string]any{{"id": "3"}}, NextCursor: ""},
	}
	idx := 0
	p := paginate.New(func(ctx context.Context, cursor string) (paginate.Page, error) {
		page := pages[idx]
		idx++
		return page, nil
	})

	var seen []string
	err := p.Each(context.Background(), func(page paginate.Page) (bool, error) {
		for _, rec := range page.Data {
			seen = append(seen, rec["id"].(string))
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, seen)
	assert.Equal(t, 3, idx)
}

func TestEmptyPageDoesNotTerminateIteration(t *testing.T) {
	pages := []paginate.Page{
		{Data: nil, NextCursor: "c2"},
		{Data: []map[string]any{{"id": "only"}}, NextCursor: ""},
	}
	idx := 0
	p := paginate.New(func(ctx context.Context, cursor string) (paginate.Page, error) {
		page := pages[idx]
		idx++
		return page, nil
	})

	var total int
	err := p.Each(context.Background(), func(page paginate.Page) (bool, error) {
		total += len(page.Data)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 2, idx)
}

func TestPaginatorPropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	p := paginate.New(func(ctx context.Context, cursor string) (paginate.Page, error) {
		return paginate.Page{}, boom
	})
	err := p.Each(context.Background(), func(page paginate.Page) (bool, error) {
		return true, nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestYieldFalseStopsEarly(t *testing.T) {
	calls := 0
	p := paginate.New(func(ctx context.Context, cursor string) (paginate.Page, error) {
		calls++
		return paginate.Page{Data: []map[string]any{{"id": "x"}}, NextCursor: "more"}, nil
	})
	err := p.Each(context.Background(), func(page paginate.Page) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
