package orders

import "time"

// Status is an order lifecycle state.
type Status string

// Order statuses. PENDING is initial; the other two are terminal.
const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Line is a read-only view of one order line.
type Line struct {
	ItemID    int
	Name      string
	Quantity  int
	UnitPrice float64
}

// Total is UnitPrice × Quantity.
func (l Line) Total() float64 {
	return l.UnitPrice * float64(l.Quantity)
}

// Record represents the item stored in the Orders DynamoDB table.
type Record struct {
	OrderID    int          `dynamodbav:"order_id"`              // PK
	CustomerID int          `dynamodbav:"customer_id,omitempty"` // customer reference
	Status     Status       `dynamodbav:"status"`                // PENDING | COMPLETED | CANCELLED
	Lines      []LineRecord `dynamodbav:"lines,omitempty"`
	Total      float64      `dynamodbav:"total"`
	CreatedAt  time.Time    `dynamodbav:"created_at"`
	UpdatedAt  time.Time    `dynamodbav:"updated_at"`
	Revision   int64        `dynamodbav:"revision"` // bumped by every conditional write
}

// LineRecord is the persisted form of a line. UnitPrice is informational;
// totals are always recomputed from the live item.
type LineRecord struct {
	ItemID    int     `dynamodbav:"item_id"`
	Quantity  int     `dynamodbav:"quantity"`
	UnitPrice float64 `dynamodbav:"unit_price"`
}
