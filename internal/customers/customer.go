package customers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/imrishuroy/go-clothing-orderflow/internal/validation"
)

const (
	// VIPThreshold is the number of points a customer must exceed to be VIP.
	VIPThreshold = 100
	// VIPDiscountRate is the flat discount offered to VIP customers.
	VIPDiscountRate = 0.10
)

// Attributes are the validated construction fields of a Customer.
type Attributes struct {
	ID            int    `validate:"gt=0"`
	Name          string `validate:"notblank"`
	PreferredSize string `validate:"notblank"`
	Points        int    `validate:"gte=0"`
}

// Customer is a shopper with a loyalty points balance.
type Customer struct {
	id            int
	name          string
	preferredSize string

	mu     sync.Mutex
	points int
}

// New validates attrs and returns a Customer.
func New(attrs Attributes) (*Customer, error) {
	attrs.Name = strings.TrimSpace(attrs.Name)
	attrs.PreferredSize = strings.TrimSpace(attrs.PreferredSize)
	if err := validation.Struct(attrs); err != nil {
		return nil, err
	}
	return &Customer{
		id:            attrs.ID,
		name:          attrs.Name,
		preferredSize: attrs.PreferredSize,
		points:        attrs.Points,
	}, nil
}

func (c *Customer) ID() int               { return c.id }
func (c *Customer) Name() string          { return c.name }
func (c *Customer) PreferredSize() string { return c.preferredSize }

func (c *Customer) Points() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.points
}

// AddPoints credits n loyalty points.
func (c *Customer) AddPoints(n int) error {
	if n <= 0 {
		return validation.Errorf("Points", "Points to add must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points += n
	return nil
}

// IsVIP reports whether the balance is strictly above VIPThreshold.
func (c *Customer) IsVIP() bool {
	return c.Points() > VIPThreshold
}

// DiscountRate is derived from the current balance on every call.
func (c *Customer) DiscountRate() float64 {
	if c.IsVIP() {
		return VIPDiscountRate
	}
	return 0
}

// Attributes returns a snapshot of the customer's fields.
func (c *Customer) Attributes() Attributes {
	return Attributes{
		ID:            c.id,
		Name:          c.name,
		PreferredSize: c.preferredSize,
		Points:        c.Points(),
	}
}

func (c *Customer) Profile() string {
	return fmt.Sprintf("Customer#%d %s | preferredSize=%s | points=%d", c.id, c.name, c.preferredSize, c.Points())
}

func (c *Customer) String() string {
	return fmt.Sprintf("Customer{id=%d, name=%q, preferredSize=%q, points=%d}", c.id, c.name, c.preferredSize, c.Points())
}
