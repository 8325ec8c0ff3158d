package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/imrishuroy/go-clothing-orderflow/internal/keylock"
)

var (
	// ErrNotFound is returned when neither the catalog nor its loader knows an id.
	ErrNotFound = errors.New("item not found")
	// ErrDuplicateItem is returned by Put for an id the catalog already owns.
	ErrDuplicateItem = errors.New("item already in catalog")
)

// Loader fetches an item from persistence. A miss is reported as (nil, nil).
type Loader interface {
	Get(ctx context.Context, id int) (*Item, error)
}

// Catalog owns the single in-process instance of every item it has seen.
// Orders hold items obtained from here, so concurrent orders for the same id
// always mutate the same stock counter.
type Catalog struct {
	mu    sync.RWMutex
	items map[int]*Item

	// loadMu serializes loads so two callers never install different
	// instances for one id.
	loadMu sync.Mutex

	stockLocks keylock.Map
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{items: map[int]*Item{}}
}

// Put registers item.
func (c *Catalog) Put(item *Item) error {
	if item == nil {
		return errors.New("nil item")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[item.ID()]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateItem, item.ID())
	}
	c.items[item.ID()] = item
	return nil
}

// Get returns the registered item for id.
func (c *Catalog) Get(id int) (*Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

// GetOrLoad returns the registered item for id, loading and registering it on
// first use.
func (c *Catalog) GetOrLoad(ctx context.Context, id int, loader Loader) (*Item, error) {
	if item, ok := c.Get(id); ok {
		return item, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if item, ok := c.Get(id); ok {
		return item, nil
	}
	if loader == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	item, err := loader.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", id, err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if item.ID() != id {
		return nil, fmt.Errorf("load item %d: loader returned item %d", id, item.ID())
	}

	c.mu.Lock()
	c.items[id] = item
	c.mu.Unlock()
	return item, nil
}

// Lock serializes stock changes to id that must stay in step with the store.
// It is not taken by Item's own methods.
func (c *Catalog) Lock(id int) (unlock func()) {
	return c.stockLocks.Lock(id)
}

// Refresh returns the registered item for id with its stock re-read through
// loader. Other processes change stored stock, so readers that show stock
// use Refresh instead of GetOrLoad.
func (c *Catalog) Refresh(ctx context.Context, id int, loader Loader) (*Item, error) {
	item, err := c.GetOrLoad(ctx, id, loader)
	if err != nil {
		return nil, err
	}

	unlock := c.Lock(id)
	defer unlock()
	fresh, err := loader.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", id, err)
	}
	if fresh == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	item.SyncStock(fresh.StockState())
	return item, nil
}

// Items returns every registered item ordered by id.
func (c *Catalog) Items() []*Item {
	c.mu.RLock()
	out := make([]*Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered items.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
