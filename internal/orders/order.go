package orders

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
	"github.com/imrishuroy/go-clothing-orderflow/internal/validation"
)

type line struct {
	item     *inventory.Item
	quantity int
}

// Order is the aggregate that owns a sequence of lines and coordinates stock
// reservations on the items they reference.
//
// The order mutex is held for the whole of AddItem, Complete and Cancel. Item
// locks are only ever taken while holding it, never the other way round.
type Order struct {
	mu        sync.Mutex
	id        int
	customer  *customers.Customer
	lines     []*line
	status    Status
	createdAt time.Time
	updatedAt time.Time
	revision  int64
	nowFunc   func() time.Time
}

// New returns a PENDING order bound to customer.
func New(id int, customer *customers.Customer) (*Order, error) {
	if customer == nil {
		return nil, validation.Errorf("Customer", "Customer cannot be nil")
	}
	o, err := NewUnassigned(id)
	if err != nil {
		return nil, err
	}
	o.customer = customer
	return o, nil
}

// NewUnassigned returns a PENDING order with no customer. It cannot take
// items or complete until AssignCustomer is called.
func NewUnassigned(id int) (*Order, error) {
	if id <= 0 {
		return nil, validation.Errorf("ID", "Order ID must be positive")
	}
	now := time.Now().UTC()
	return &Order{
		id:        id,
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
		nowFunc:   time.Now,
	}, nil
}

// Restore rebuilds a persisted order. items must contain every item the
// record references; their stock is not touched because the reservations
// were already applied when the lines were first added.
func Restore(rec Record, customer *customers.Customer, items map[int]*inventory.Item) (*Order, error) {
	o, err := NewUnassigned(rec.OrderID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case StatusPending, StatusCompleted, StatusCancelled:
	default:
		return nil, validation.Errorf("Status", "unknown order status %q", rec.Status)
	}
	if customer != nil && customer.ID() != rec.CustomerID {
		return nil, validation.Errorf("Customer", "order %d belongs to customer %d, got %d", rec.OrderID, rec.CustomerID, customer.ID())
	}

	o.customer = customer
	o.status = rec.Status
	o.revision = rec.Revision
	if !rec.CreatedAt.IsZero() {
		o.createdAt = rec.CreatedAt
	}
	if !rec.UpdatedAt.IsZero() {
		o.updatedAt = rec.UpdatedAt
	}
	for _, lr := range rec.Lines {
		item, ok := items[lr.ItemID]
		if !ok || item == nil {
			return nil, validation.Errorf("Lines", "order %d references unknown item %d", rec.OrderID, lr.ItemID)
		}
		if lr.Quantity <= 0 {
			return nil, validation.Errorf("Lines", "order %d has non-positive quantity for item %d", rec.OrderID, lr.ItemID)
		}
		if existing := o.findLine(lr.ItemID); existing != nil {
			existing.quantity += lr.Quantity
			continue
		}
		o.lines = append(o.lines, &line{item: item, quantity: lr.Quantity})
	}
	return o, nil
}

func (o *Order) ID() int { return o.id }

func (o *Order) Customer() *customers.Customer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.customer
}

func (o *Order) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Order) IsPending() bool { return o.Status() == StatusPending }

// AssignCustomer binds customer to a pending order.
func (o *Order) AssignCustomer(customer *customers.Customer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != StatusPending {
		return &OperationError{Op: "assign customer to", Status: o.status, Reason: "order is not pending"}
	}
	if customer == nil {
		return validation.Errorf("Customer", "Customer cannot be nil")
	}
	o.customer = customer
	o.touch()
	return nil
}

// AddItem reserves quantity units of item and records them on the order.
// It reports false, with the order and stock unchanged, when the item does
// not have enough stock. Adding an item that already has a line grows that
// line instead of creating a second one.
func (o *Order) AddItem(item *inventory.Item, quantity int) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.addable(); err != nil {
		return false, err
	}
	if item == nil {
		return false, validation.Errorf("Item", "Item cannot be nil")
	}
	if quantity <= 0 {
		return false, validation.Errorf("Quantity", "Quantity must be positive")
	}

	reserved, err := item.ReduceStock(quantity)
	if err != nil {
		return false, err
	}
	if !reserved {
		return false, nil
	}

	if existing := o.findLine(item.ID()); existing != nil {
		existing.quantity += quantity
	} else {
		o.lines = append(o.lines, &line{item: item, quantity: quantity})
	}
	o.touch()
	return true, nil
}

// Complete locks in the sale. Stock was already reserved by AddItem.
func (o *Order) Complete() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.completable(); err != nil {
		return err
	}
	o.status = StatusCompleted
	o.touch()
	return nil
}

// Cancel returns every reserved unit to stock and voids the order.
func (o *Order) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.cancellable(); err != nil {
		return err
	}
	for _, l := range o.lines {
		// quantity is always positive, so this cannot fail
		if err := l.item.IncreaseStock(l.quantity); err != nil {
			return fmt.Errorf("restore stock for item %d: %w", l.item.ID(), err)
		}
	}

	o.status = StatusCancelled
	o.touch()
	return nil
}

// CalculateTotal sums price × quantity over all lines. No discount is applied.
func (o *Order) CalculateTotal() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total()
}

// Lines returns copies of the lines in insertion order.
func (o *Order) Lines() []Line {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Line, 0, len(o.lines))
	for _, l := range o.lines {
		out = append(out, Line{
			ItemID:    l.item.ID(),
			Name:      l.item.Name(),
			Quantity:  l.quantity,
			UnitPrice: l.item.Price(),
		})
	}
	return out
}

// Items returns the distinct items referenced by the order's lines.
func (o *Order) Items() []*inventory.Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*inventory.Item, 0, len(o.lines))
	for _, l := range o.lines {
		out = append(out, l.item)
	}
	return out
}

// Snapshot returns the persisted form of the order.
func (o *Order) Snapshot() Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec := Record{
		OrderID:   o.id,
		Status:    o.status,
		Total:     o.total(),
		CreatedAt: o.createdAt,
		UpdatedAt: o.updatedAt,
		Revision:  o.revision,
	}
	if o.customer != nil {
		rec.CustomerID = o.customer.ID()
	}
	for _, l := range o.lines {
		rec.Lines = append(rec.Lines, LineRecord{
			ItemID:    l.item.ID(),
			Quantity:  l.quantity,
			UnitPrice: l.item.Price(),
		})
	}
	return rec
}

func (o *Order) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	customer := "none"
	if o.customer != nil {
		customer = o.customer.Name()
	}
	return fmt.Sprintf("Order{id=%d, customer=%s, lines=%d, total=%.2f, status=%s}",
		o.id, customer, len(o.lines), o.total(), o.status)
}

// check runs one of the precondition helpers below under the order lock.
func (o *Order) check(precondition func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return precondition()
}

func (o *Order) addable() error {
	switch {
	case o.status != StatusPending:
		return &OperationError{Op: "add items to", Status: o.status, Reason: "order is not pending"}
	case o.customer == nil:
		return &OperationError{Op: "add items to", Status: o.status, Reason: "no customer assigned"}
	}
	return nil
}

func (o *Order) completable() error {
	switch {
	case o.status != StatusPending:
		return &OperationError{Op: "complete", Status: o.status, Reason: "order is not pending"}
	case o.customer == nil:
		return &OperationError{Op: "complete", Status: o.status, Reason: "no customer assigned"}
	case len(o.lines) == 0:
		return &OperationError{Op: "complete", Status: o.status, Reason: "order has no lines"}
	}
	return nil
}

func (o *Order) cancellable() error {
	if o.status != StatusPending {
		return &OperationError{Op: "cancel", Status: o.status, Reason: "order is not pending"}
	}
	return nil
}

// undoAdd reverses a successful AddItem of quantity units of item, returning
// the units to stock and shrinking or dropping the line.
func (o *Order) undoAdd(item *inventory.Item, quantity int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, l := range o.lines {
		if l.item.ID() != item.ID() {
			continue
		}
		if quantity > l.quantity {
			quantity = l.quantity
		}
		l.quantity -= quantity
		if l.quantity == 0 {
			o.lines = append(o.lines[:i], o.lines[i+1:]...)
		}
		if quantity > 0 {
			_ = l.item.IncreaseStock(quantity)
		}
		o.touch()
		return
	}
}

type reservation struct {
	item     *inventory.Item
	quantity int
}

// reservations lists the units each line holds, ordered by item id.
func (o *Order) reservations() []reservation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]reservation, 0, len(o.lines))
	for _, l := range o.lines {
		out = append(out, reservation{item: l.item, quantity: l.quantity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].item.ID() < out[j].item.ID() })
	return out
}

// committed records that the stored copy moved to the next revision.
func (o *Order) committed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.revision++
}

// refreshCustomer swaps in a newer copy of the order's own customer.
func (o *Order) refreshCustomer(c *customers.Customer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c != nil && o.customer != nil && o.customer.ID() == c.ID() {
		o.customer = c
	}
}

func (o *Order) total() float64 {
	var sum float64
	for _, l := range o.lines {
		sum += l.item.Price() * float64(l.quantity)
	}
	return sum
}

func (o *Order) findLine(itemID int) *line {
	for _, l := range o.lines {
		if l.item.ID() == itemID {
			return l
		}
	}
	return nil
}

func (o *Order) touch() {
	o.updatedAt = o.nowFunc().UTC()
}
