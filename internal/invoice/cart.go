// Package invoice holds the cart engine, the totals aggregation, payload
// assembly and the DANFE preview model for a single invoice draft.
package invoice

import (
	"fmt"

	"github.com/fabirmss/notaFi/internal/catalog"
	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Resolver resolves a product id against a catalog snapshot.
type Resolver interface {
	Resolve(productID string) (catalog.Resolved, bool)
}

// Cart is the ordered list of line items of a draft. Every mutation
// writes a complete, recomputed line; there is no state where a line's
// subtotal or tax amounts disagree with its quantity, price and rates.
//
// Cart is not safe for concurrent use; Draft serializes access.
type Cart struct {
	items []domain.LineItem
}

func NewCart() *Cart {
	return &Cart{items: []domain.LineItem{}}
}

func (c *Cart) Len() int {
	return len(c.items)
}

// Items returns a copy of the current lines.
func (c *Cart) Items() []domain.LineItem {
	out := make([]domain.LineItem, len(c.items))
	copy(out, c.items)
	return out
}

// AddItem appends a line for productID with quantity 1 and the catalog
// price and rates. A resolution miss leaves the cart unchanged.
func (c *Cart) AddItem(r Resolver, productID string) bool {
	res, ok := r.Resolve(productID)
	if !ok {
		return false
	}
	line := fromResolved(res, 1)
	c.items = append(c.items, recompute(line))
	return true
}

// AddBlank appends a placeholder line with no product selected.
func (c *Cart) AddBlank() {
	c.items = append(c.items, recompute(domain.LineItem{Quantity: 1}))
}

// UpdateItemProduct replaces the product of the line at index, keeping
// its quantity and resetting price and rates from the catalog.
func (c *Cart) UpdateItemProduct(r Resolver, index int, productID string) (bool, error) {
	if err := c.check(index); err != nil {
		return false, err
	}
	res, ok := r.Resolve(productID)
	if !ok {
		return false, nil
	}
	c.items[index] = recompute(fromResolved(res, c.items[index].Quantity))
	return true, nil
}

// UpdateQuantity sets the quantity of a line. Values below 1 are clamped.
func (c *Cart) UpdateQuantity(index, quantity int) error {
	if err := c.check(index); err != nil {
		return err
	}
	if quantity < 1 {
		quantity = 1
	}
	line := c.items[index]
	line.Quantity = quantity
	c.items[index] = recompute(line)
	return nil
}

// UpdateUnitPrice overrides the catalog price of a line. Negative values
// are clamped to zero. A placeholder line has no price to override.
func (c *Cart) UpdateUnitPrice(index int, price decimal.Decimal) error {
	if err := c.check(index); err != nil {
		return err
	}
	if !c.items[index].Resolved() {
		return &ValidationError{Field: "unit_price", Message: "select a product before changing the price"}
	}
	if price.IsNegative() {
		price = decimal.Zero
	}
	line := c.items[index]
	line.UnitPrice = price
	c.items[index] = recompute(line)
	return nil
}

// RemoveItem deletes the line at index; later lines shift down by one.
func (c *Cart) RemoveItem(index int) error {
	if err := c.check(index); err != nil {
		return err
	}
	next := make([]domain.LineItem, 0, len(c.items)-1)
	next = append(next, c.items[:index]...)
	next = append(next, c.items[index+1:]...)
	c.items = next
	return nil
}

func (c *Cart) Clear() {
	c.items = []domain.LineItem{}
}

// Totals aggregates the current lines with the given header charges.
func (c *Cart) Totals(charges Charges) domain.InvoiceTotals {
	return ComputeTotals(c.items, charges)
}

func (c *Cart) check(index int) error {
	if index < 0 || index >= len(c.items) {
		return fmt.Errorf("%w: %d (cart has %d lines)", ErrIndexOutOfRange, index, len(c.items))
	}
	return nil
}

func fromResolved(res catalog.Resolved, quantity int) domain.LineItem {
	return domain.LineItem{
		ProductID:   res.ProductID,
		Description: res.Name,
		Quantity:    quantity,
		UnitPrice:   res.UnitPrice,
		ICMSRate:    res.ICMSRate,
		IPIRate:     res.IPIRate,
	}
}

func recompute(line domain.LineItem) domain.LineItem {
	line.Subtotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
	line.ICMSAmount = line.Subtotal.Mul(line.ICMSRate).Div(hundred)
	line.IPIAmount = line.Subtotal.Mul(line.IPIRate).Div(hundred)
	return line
}
