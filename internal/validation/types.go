package validation

// LineRequest is one requested order line.
type LineRequest struct {
	ItemID   int `json:"item_id" validate:"required,gt=0"`
	Quantity int `json:"quantity" validate:"required,gt=0"` // must be >= 1
}

// CreateOrderRequest is the payload for POST /orders. Items may be empty; lines
// can be added later with POST /orders/:id/items.
type CreateOrderRequest struct {
	CustomerID int           `json:"customer_id" validate:"required,gt=0"`
	Items      []LineRequest `json:"items" validate:"omitempty,dive"`
}

// AddItemRequest is the payload for POST /orders/:id/items.
type AddItemRequest struct {
	ItemID   int `json:"item_id" validate:"required,gt=0"`
	Quantity int `json:"quantity" validate:"required,gt=0"`
}
