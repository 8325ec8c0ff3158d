package inventory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/imrishuroy/go-clothing-orderflow/internal/validation"
)

// PremiumThreshold is the price above which an item counts as premium.
const PremiumThreshold = 35000.0

// Attributes are the validated construction fields of an Item.
type Attributes struct {
	ID    int     `validate:"gt=0"`
	Name  string  `validate:"notblank"`
	Size  string  `validate:"notblank"`
	Price float64 `validate:"gte=0"`
	Brand string  `validate:"notblank"`
	Stock int     `validate:"gte=0"`
}

// Item is a sellable clothing product. Everything except the stock counter is
// immutable after construction; stock changes only through ReduceStock and
// IncreaseStock, which are safe for concurrent use.
type Item struct {
	kind  Kind
	id    int
	name  string
	size  string
	price float64
	brand string

	mu      sync.Mutex
	stock   int
	version int64
}

// New validates attrs and returns an Item of the given kind. Nothing is
// constructed when validation fails.
func New(kind Kind, attrs Attributes) (*Item, error) {
	if kind == nil {
		return nil, validation.Errorf("Kind", "Kind is required")
	}

	attrs.Name = strings.TrimSpace(attrs.Name)
	attrs.Size = strings.TrimSpace(attrs.Size)
	attrs.Brand = strings.TrimSpace(attrs.Brand)
	if err := validation.Struct(attrs); err != nil {
		return nil, err
	}

	return &Item{
		kind:  kind,
		id:    attrs.ID,
		name:  attrs.Name,
		size:  attrs.Size,
		price: attrs.Price,
		brand: attrs.Brand,
		stock: attrs.Stock,
	}, nil
}

func (i *Item) ID() int                  { return i.id }
func (i *Item) Name() string             { return i.name }
func (i *Item) Size() string             { return i.size }
func (i *Item) Price() float64           { return i.price }
func (i *Item) Brand() string            { return i.brand }
func (i *Item) Kind() Kind               { return i.kind }
func (i *Item) TypeLabel() string        { return i.kind.Label() }
func (i *Item) CareInstructions() string { return i.kind.CareInstructions() }

// Stock returns the current stock quantity.
func (i *Item) Stock() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stock
}

// StockState returns stock and the version of the last stock change as one
// consistent pair.
func (i *Item) StockState() (stock int, version int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stock, i.version
}

func (i *Item) IsInStock() bool { return i.Stock() > 0 }

func (i *Item) IsPremium() bool { return i.price > PremiumThreshold }

// ReduceStock takes amount units out of stock. It reports false, leaving
// stock untouched, when fewer than amount units remain.
func (i *Item) ReduceStock(amount int) (bool, error) {
	if amount <= 0 {
		return false, validation.Errorf("Amount", "Amount must be positive")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if amount > i.stock {
		return false, nil
	}
	i.stock -= amount
	i.version++
	return true, nil
}

// IncreaseStock puts amount units back into stock.
func (i *Item) IncreaseStock(amount int) error {
	if amount <= 0 {
		return validation.Errorf("Amount", "Amount must be positive")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.stock += amount
	i.version++
	return nil
}

// SyncStock replaces the stock counter and its version with values read
// from persistence.
func (i *Item) SyncStock(stock int, version int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stock = stock
	i.version = version
}

// Attributes returns a snapshot of the item's fields.
func (i *Item) Attributes() Attributes {
	return Attributes{
		ID:    i.id,
		Name:  i.name,
		Size:  i.size,
		Price: i.price,
		Brand: i.brand,
		Stock: i.Stock(),
	}
}

// DisplayInfo is the one-line listing used by the catalog views.
func (i *Item) DisplayInfo() string {
	return fmt.Sprintf("[%s] id=%d, name='%s', size='%s', price=%.2f, brand='%s', stock=%d",
		i.TypeLabel(), i.id, i.name, i.size, i.price, i.brand, i.Stock())
}

func (i *Item) String() string {
	return fmt.Sprintf("Item{id=%d, kind=%s, name=%q, stock=%d}", i.id, i.TypeLabel(), i.name, i.Stock())
}
