package orders_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
	"github.com/imrishuroy/go-clothing-orderflow/internal/orders"
	"github.com/imrishuroy/go-clothing-orderflow/internal/validation"
)

func newItem(t *testing.T, id int, price float64, stock int) *inventory.Item {
	t.Helper()
	item, err := inventory.New(inventory.Shirt{}, inventory.Attributes{
		ID: id, Name: "Oxford", Size: "M", Price: price, Brand: "Acme", Stock: stock,
	})
	require.NoError(t, err)
	return item
}

func newCustomer(t *testing.T, id int) *customers.Customer {
	t.Helper()
	c, err := customers.New(customers.Attributes{ID: id, Name: "Dana", PreferredSize: "M"})
	require.NoError(t, err)
	return c
}

func newOrder(t *testing.T) *orders.Order {
	t.Helper()
	o, err := orders.New(1, newCustomer(t, 1))
	require.NoError(t, err)
	return o
}

func TestNew_Validates(t *testing.T) {
	_, err := orders.New(0, newCustomer(t, 1))
	assert.ErrorIs(t, err, validation.ErrInvalidInput)

	_, err = orders.New(1, nil)
	assert.ErrorIs(t, err, validation.ErrInvalidInput)

	o := newOrder(t)
	assert.Equal(t, orders.StatusPending, o.Status())
	assert.True(t, o.IsPending())
	assert.Empty(t, o.Lines())
	assert.Zero(t, o.CalculateTotal())
}

func TestAddItem_ReservesStockAndGrowsTotal(t *testing.T) {
	o := newOrder(t)
	item := newItem(t, 1, 250, 10)

	ok, err := o.AddItem(item, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, item.Stock())
	assert.Equal(t, 1000.0, o.CalculateTotal())
}

func TestAddItem_InsufficientStockLeavesStateUnchanged(t *testing.T) {
	o := newOrder(t)
	item := newItem(t, 1, 100, 3)

	ok, err := o.AddItem(item, 4)
	require.NoError(t, err, "insufficient stock is not an error")
	assert.False(t, ok)
	assert.Equal(t, 3, item.Stock())
	assert.Empty(t, o.Lines())
}

func TestAddItem_SameItemMergesLine(t *testing.T) {
	o := newOrder(t)
	item := newItem(t, 1, 10, 10)

	for _, q := range []int{2, 3} {
		ok, err := o.AddItem(item, q)
		require.NoError(t, err)
		require.True(t, ok)
	}

	lines := o.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Quantity)
	assert.Equal(t, 50.0, lines[0].Total())
	assert.Equal(t, 5, item.Stock())
}

func TestAddItem_RejectsBadInput(t *testing.T) {
	o := newOrder(t)
	item := newItem(t, 1, 10, 10)

	for _, q := range []int{0, -1} {
		ok, err := o.AddItem(item, q)
		assert.False(t, ok)
		assert.ErrorIs(t, err, validation.ErrInvalidInput)
	}
	_, err := o.AddItem(nil, 1)
	assert.ErrorIs(t, err, validation.ErrInvalidInput)
	assert.Equal(t, 10, item.Stock())
}

func TestAddItem_RequiresCustomer(t *testing.T) {
	o, err := orders.NewUnassigned(7)
	require.NoError(t, err)
	item := newItem(t, 1, 10, 10)

	_, err = o.AddItem(item, 1)
	assert.ErrorIs(t, err, orders.ErrInvalidOperation)
	assert.Equal(t, 10, item.Stock())

	require.NoError(t, o.AssignCustomer(newCustomer(t, 2)))
	ok, err := o.AddItem(item, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestComplete(t *testing.T) {
	o := newOrder(t)
	err := o.Complete()
	assert.True(t, orders.IsInvalidOperation(err), "empty order cannot complete")
	assert.Equal(t, orders.StatusPending, o.Status())

	item := newItem(t, 1, 10, 10)
	_, err = o.AddItem(item, 2)
	require.NoError(t, err)

	require.NoError(t, o.Complete())
	assert.Equal(t, orders.StatusCompleted, o.Status())
	assert.Equal(t, 8, item.Stock(), "completion does not touch stock")
}

func TestComplete_Unassigned(t *testing.T) {
	o, err := orders.NewUnassigned(3)
	require.NoError(t, err)
	var opErr *orders.OperationError
	require.ErrorAs(t, o.Complete(), &opErr)
	assert.Equal(t, "no customer assigned", opErr.Reason)
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	completed := newOrder(t)
	item := newItem(t, 1, 10, 10)
	_, err := completed.AddItem(item, 1)
	require.NoError(t, err)
	require.NoError(t, completed.Complete())

	cancelled := newOrder(t)
	require.NoError(t, cancelled.Cancel())

	for name, o := range map[string]*orders.Order{"completed": completed, "cancelled": cancelled} {
		t.Run(name, func(t *testing.T) {
			before := o.Status()
			stock := item.Stock()

			assert.ErrorIs(t, o.Complete(), orders.ErrInvalidOperation)
			assert.ErrorIs(t, o.Cancel(), orders.ErrInvalidOperation)
			_, err := o.AddItem(item, 1)
			assert.ErrorIs(t, err, orders.ErrInvalidOperation)
			assert.ErrorIs(t, o.AssignCustomer(newCustomer(t, 9)), orders.ErrInvalidOperation)

			assert.Equal(t, before, o.Status())
			assert.Equal(t, stock, item.Stock())
		})
	}
}

func TestCancel_RestoresEveryLine(t *testing.T) {
	o := newOrder(t)
	a := newItem(t, 1, 10, 4)
	b := newItem(t, 2, 20, 6)
	before := a.Stock() + b.Stock()

	for _, step := range []struct {
		item *inventory.Item
		qty  int
	}{{a, 1}, {b, 5}, {a, 2}} {
		ok, err := o.AddItem(step.item, step.qty)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, before-8, a.Stock()+b.Stock())

	require.NoError(t, o.Cancel())
	assert.Equal(t, orders.StatusCancelled, o.Status())
	assert.Equal(t, 4, a.Stock())
	assert.Equal(t, 6, b.Stock())
}

func TestScenario_ReserveUntilEmptyThenCancel(t *testing.T) {
	o := newOrder(t)
	a := newItem(t, 1, 100, 5)

	ok, err := o.AddItem(a, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, a.Stock())
	assert.Equal(t, 300.0, o.CalculateTotal())

	ok, err = o.AddItem(a, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, a.Stock())
	assert.Equal(t, 500.0, o.CalculateTotal())
	require.Len(t, o.Lines(), 1)
	assert.Equal(t, 5, o.Lines()[0].Quantity)

	ok, err = o.AddItem(a, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, a.Stock())

	require.NoError(t, o.Cancel())
	assert.Equal(t, 5, a.Stock())
	assert.Equal(t, orders.StatusCancelled, o.Status())
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	item := newItem(t, 1, 10, 20)
	c := newCustomer(t, 1)
	const workers = 50

	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := orders.New(i+1, c)
			if err != nil {
				return
			}
			results[i], _ = o.AddItem(item, 1)
		}(i)
	}
	wg.Wait()

	var reserved int
	for _, ok := range results {
		if ok {
			reserved++
		}
	}
	assert.Equal(t, 20, reserved)
	assert.Equal(t, 0, item.Stock())
}

func TestSnapshotAndRestore(t *testing.T) {
	c := newCustomer(t, 1)
	o, err := orders.New(5, c)
	require.NoError(t, err)
	item := newItem(t, 3, 40, 10)
	_, err = o.AddItem(item, 2)
	require.NoError(t, err)

	rec := o.Snapshot()
	assert.Equal(t, 5, rec.OrderID)
	assert.Equal(t, 1, rec.CustomerID)
	assert.Equal(t, orders.StatusPending, rec.Status)
	assert.Equal(t, 80.0, rec.Total)
	assert.Equal(t, []orders.LineRecord{{ItemID: 3, Quantity: 2, UnitPrice: 40}}, rec.Lines)

	assert.Zero(t, rec.Revision)

	rec.Revision = 4
	restored, err := orders.Restore(rec, c, map[int]*inventory.Item{3: item})
	require.NoError(t, err)
	assert.Equal(t, 80.0, restored.CalculateTotal())
	assert.Equal(t, 8, item.Stock(), "restore does not reserve again")
	assert.Equal(t, int64(4), restored.Snapshot().Revision)

	_, err = orders.Restore(rec, c, map[int]*inventory.Item{})
	assert.ErrorIs(t, err, validation.ErrInvalidInput)

	rec.Status = "SHIPPED"
	_, err = orders.Restore(rec, c, map[int]*inventory.Item{3: item})
	assert.ErrorIs(t, err, validation.ErrInvalidInput)
}

func TestString(t *testing.T) {
	o := newOrder(t)
	assert.Equal(t, "Order{id=1, customer=Dana, lines=0, total=0.00, status=PENDING}", o.String())
}
