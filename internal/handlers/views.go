package handlers

import (
	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
	"github.com/imrishuroy/go-clothing-orderflow/internal/orders"
)

type lineView struct {
	ItemID    int     `json:"item_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

// orderView reports total and discount_rate side by side. The discount is
// informational and never applied to total.
type orderView struct {
	OrderID      int           `json:"order_id"`
	CustomerID   int           `json:"customer_id,omitempty"`
	Status       orders.Status `json:"status"`
	Lines        []lineView    `json:"lines"`
	Total        float64       `json:"total"`
	DiscountRate float64       `json:"discount_rate"`
}

func newOrderView(o *orders.Order) orderView {
	v := orderView{
		OrderID: o.ID(),
		Status:  o.Status(),
		Lines:   []lineView{},
		Total:   o.CalculateTotal(),
	}
	if c := o.Customer(); c != nil {
		v.CustomerID = c.ID()
		v.DiscountRate = c.DiscountRate()
	}
	for _, l := range o.Lines() {
		v.Lines = append(v.Lines, lineView{
			ItemID:    l.ItemID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.Total(),
		})
	}
	return v
}

type createOrderView struct {
	Order    orderView             `json:"order"`
	Rejected []orders.RejectedLine `json:"rejected"`
}

type itemView struct {
	ItemID           int     `json:"item_id"`
	Type             string  `json:"type"`
	Name             string  `json:"name"`
	Size             string  `json:"size"`
	Brand            string  `json:"brand"`
	Price            float64 `json:"price"`
	Stock            int     `json:"stock"`
	InStock          bool    `json:"in_stock"`
	Premium          bool    `json:"premium"`
	CareInstructions string  `json:"care_instructions"`
	Display          string  `json:"display"`
}

func newItemView(i *inventory.Item) itemView {
	return itemView{
		ItemID:           i.ID(),
		Type:             i.TypeLabel(),
		Name:             i.Name(),
		Size:             i.Size(),
		Brand:            i.Brand(),
		Price:            i.Price(),
		Stock:            i.Stock(),
		InStock:          i.IsInStock(),
		Premium:          i.IsPremium(),
		CareInstructions: i.CareInstructions(),
		Display:          i.DisplayInfo(),
	}
}

type customerView struct {
	CustomerID    int     `json:"customer_id"`
	Name          string  `json:"name"`
	PreferredSize string  `json:"preferred_size"`
	Points        int     `json:"points"`
	VIP           bool    `json:"vip"`
	DiscountRate  float64 `json:"discount_rate"`
	Profile       string  `json:"profile"`
}

func newCustomerView(c *customers.Customer) customerView {
	return customerView{
		CustomerID:    c.ID(),
		Name:          c.Name(),
		PreferredSize: c.PreferredSize(),
		Points:        c.Points(),
		VIP:           c.IsVIP(),
		DiscountRate:  c.DiscountRate(),
		Profile:       c.Profile(),
	}
}
