package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
)

type countingLoader struct {
	mu    sync.Mutex
	items map[int]inventory.Attributes
	calls int
	err   error
}

func (l *countingLoader) Get(ctx context.Context, id int) (*inventory.Item, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	attrs, ok := l.items[id]
	if !ok {
		return nil, nil
	}
	return inventory.New(inventory.Shirt{}, attrs)
}

func TestCatalog_PutGet(t *testing.T) {
	c := inventory.NewCatalog()
	item := newShirt(t, validAttrs())

	require.NoError(t, c.Put(item))
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Same(t, item, got)

	err := c.Put(newShirt(t, validAttrs()))
	assert.ErrorIs(t, err, inventory.ErrDuplicateItem)

	_, ok = c.Get(2)
	assert.False(t, ok)
}

func TestCatalog_GetOrLoad_SingleInstance(t *testing.T) {
	loader := &countingLoader{items: map[int]inventory.Attributes{1: validAttrs()}}
	c := inventory.NewCatalog()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []*inventory.Item
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := c.GetOrLoad(context.Background(), 1, loader)
			if err != nil {
				return
			}
			mu.Lock()
			got = append(got, item)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, got, 20)
	for _, item := range got {
		assert.Same(t, got[0], item)
	}
	assert.Equal(t, 1, loader.calls)
}

func TestCatalog_GetOrLoad_Miss(t *testing.T) {
	c := inventory.NewCatalog()

	_, err := c.GetOrLoad(context.Background(), 9, &countingLoader{})
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	_, err = c.GetOrLoad(context.Background(), 9, nil)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestCatalog_GetOrLoad_LoaderError(t *testing.T) {
	boom := errors.New("boom")
	c := inventory.NewCatalog()

	_, err := c.GetOrLoad(context.Background(), 1, &countingLoader{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestCatalog_ItemsSorted(t *testing.T) {
	c := inventory.NewCatalog()
	for _, id := range []int{3, 1, 2} {
		attrs := validAttrs()
		attrs.ID = id
		require.NoError(t, c.Put(newShirt(t, attrs)))
	}

	items := c.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{items[0].ID(), items[1].ID(), items[2].ID()})
}

func TestCatalog_RefreshPicksUpStoredStock(t *testing.T) {
	loader := &countingLoader{items: map[int]inventory.Attributes{1: validAttrs()}}
	c := inventory.NewCatalog()

	first, err := c.GetOrLoad(context.Background(), 1, loader)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Stock())

	// another process sold two units
	attrs := validAttrs()
	attrs.Stock = 3
	loader.items[1] = attrs

	cached, err := c.GetOrLoad(context.Background(), 1, loader)
	require.NoError(t, err)
	assert.Equal(t, 5, cached.Stock(), "GetOrLoad serves the registered instance")

	refreshed, err := c.Refresh(context.Background(), 1, loader)
	require.NoError(t, err)
	assert.Same(t, first, refreshed)
	assert.Equal(t, 3, refreshed.Stock())

	delete(loader.items, 1)
	_, err = c.Refresh(context.Background(), 1, loader)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}
