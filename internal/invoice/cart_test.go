package invoice

import (
	"errors"
	"testing"
	"time"

	"github.com/fabirmss/notaFi/internal/catalog"
	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, got.Equal(d(want)), "expected %s, got %s", want, got.String())
}

func testCatalog() *catalog.Snapshot {
	return catalog.NewSnapshot([]domain.Product{
		{ID: "p1", Name: "Cadeira", UnitPrice: d("100"), ICMSRate: d("18"), IPIRate: d("5")},
		{ID: "p2", Name: "Mesa", UnitPrice: d("50"), ICMSRate: d("10"), IPIRate: decimal.Zero},
		{ID: "p3", Name: "Brinde", UnitPrice: decimal.Zero},
	}, time.Now())
}

func TestCartScenarioTotals(t *testing.T) {
	snap := testCatalog()
	cart := NewCart()
	require.True(t, cart.AddItem(snap, "p1"))
	require.NoError(t, cart.UpdateQuantity(0, 2))
	require.True(t, cart.AddItem(snap, "p2"))

	totals := cart.Totals(Charges{Freight: d("20")})

	assertDecimal(t, "250", totals.ProductsSubtotal)
	assertDecimal(t, "250", totals.ICMSBase)
	assertDecimal(t, "41", totals.ICMSTotal)
	assertDecimal(t, "10", totals.IPITotal)
	assertDecimal(t, "280", totals.GrandTotal)
}

func TestGrandTotalIgnoresInsuranceOtherExpensesAndDiscount(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p2")

	totals := cart.Totals(Charges{Freight: d("5"), Insurance: d("7"), OtherExpenses: d("3"), Discount: d("4")})

	assertDecimal(t, "55", totals.GrandTotal)
	assertDecimal(t, "7", totals.Insurance)
	assertDecimal(t, "3", totals.OtherExpenses)
	assertDecimal(t, "4", totals.Discount)
}

func TestComputeTotalsEmptyCart(t *testing.T) {
	totals := ComputeTotals(nil, Charges{})
	assert.True(t, totals.ProductsSubtotal.IsZero())
	assert.True(t, totals.GrandTotal.IsZero())
}

func TestComputeTotalsIsIdempotent(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")
	cart.AddItem(testCatalog(), "p2")
	charges := Charges{Freight: d("12.34")}

	first := cart.Totals(charges)
	second := cart.Totals(charges)

	assert.Equal(t, first.GrandTotal.String(), second.GrandTotal.String())
	assert.Equal(t, first.ICMSTotal.String(), second.ICMSTotal.String())
}

func TestAddItemResolutionMissLeavesCartUnchanged(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")

	assert.False(t, cart.AddItem(testCatalog(), "ghost"))
	assert.Equal(t, 1, cart.Len())
}

func TestAddItemZeroPriceProduct(t *testing.T) {
	cart := NewCart()
	require.True(t, cart.AddItem(testCatalog(), "p3"))

	line := cart.Items()[0]
	assert.Equal(t, 1, line.Quantity)
	assert.True(t, line.Subtotal.IsZero())
	assert.True(t, line.ICMSAmount.IsZero())
}

func TestUpdateQuantityClampsToOne(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")

	require.NoError(t, cart.UpdateQuantity(0, 0))
	assert.Equal(t, 1, cart.Items()[0].Quantity)

	require.NoError(t, cart.UpdateQuantity(0, -5))
	line := cart.Items()[0]
	assert.Equal(t, 1, line.Quantity)
	assertDecimal(t, "100", line.Subtotal)
	assertDecimal(t, "18", line.ICMSAmount)
	assertDecimal(t, "5", line.IPIAmount)
}

func TestOutOfRangeIndex(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")

	assert.True(t, errors.Is(cart.UpdateQuantity(3, 2), ErrIndexOutOfRange))
	assert.True(t, errors.Is(cart.UpdateQuantity(-1, 2), ErrIndexOutOfRange))
	assert.True(t, errors.Is(cart.RemoveItem(1), ErrIndexOutOfRange))
	_, err := cart.UpdateItemProduct(testCatalog(), 9, "p2")
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	assert.True(t, errors.Is(cart.UpdateUnitPrice(5, d("1")), ErrIndexOutOfRange))
}

func TestUpdateItemProductOverwritesPriceAndKeepsQuantity(t *testing.T) {
	snap := testCatalog()
	cart := NewCart()
	cart.AddItem(snap, "p1")
	require.NoError(t, cart.UpdateQuantity(0, 3))
	require.NoError(t, cart.UpdateUnitPrice(0, d("80")))

	changed, err := cart.UpdateItemProduct(snap, 0, "p1")
	require.NoError(t, err)
	require.True(t, changed)

	line := cart.Items()[0]
	assert.Equal(t, 3, line.Quantity)
	assertDecimal(t, "100", line.UnitPrice)
	assertDecimal(t, "300", line.Subtotal)
}

func TestUpdateItemProductMissIsNoOp(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")

	changed, err := cart.UpdateItemProduct(testCatalog(), 0, "ghost")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "p1", cart.Items()[0].ProductID)
}

func TestUpdateUnitPriceClampsNegative(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")

	require.NoError(t, cart.UpdateUnitPrice(0, d("-3")))
	line := cart.Items()[0]
	assert.True(t, line.UnitPrice.IsZero())
	assert.True(t, line.IPIAmount.IsZero())
}

func TestRemoveItemShiftsLaterLines(t *testing.T) {
	snap := testCatalog()
	cart := NewCart()
	cart.AddItem(snap, "p1")
	cart.AddItem(snap, "p2")
	cart.AddItem(snap, "p3")

	require.NoError(t, cart.RemoveItem(1))
	items := cart.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "p1", items[0].ProductID)
	assert.Equal(t, "p3", items[1].ProductID)
}

func TestItemsReturnsACopy(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")

	items := cart.Items()
	items[0].Quantity = 99

	assert.Equal(t, 1, cart.Items()[0].Quantity)
}

func TestAddBlankLineHasNoProduct(t *testing.T) {
	cart := NewCart()
	cart.AddBlank()

	line := cart.Items()[0]
	assert.False(t, line.Resolved())
	assert.True(t, line.Subtotal.IsZero())

	changed, err := cart.UpdateItemProduct(testCatalog(), 0, "p2")
	require.NoError(t, err)
	assert.True(t, changed)
	assertDecimal(t, "50", cart.Items()[0].Subtotal)
}

func TestUpdateUnitPriceRejectsPlaceholderLine(t *testing.T) {
	cart := NewCart()
	cart.AddBlank()

	err := cart.UpdateUnitPrice(0, d("1000"))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, cart.Items()[0].Subtotal.IsZero())
}

// Every step of an edit sequence must leave each line consistent with its
// quantity and price, and the products subtotal equal to the line sum.
func TestCartStaysConsistentAcrossEditSequences(t *testing.T) {
	type step struct {
		name  string
		apply func(c *Cart)
	}
	snap := testCatalog()
	sequences := map[string][]step{
		"add, requantify, override, remove": {
			{"add p1", func(c *Cart) { c.AddItem(snap, "p1") }},
			{"add p2", func(c *Cart) { c.AddItem(snap, "p2") }},
			{"qty 0 -> 3", func(c *Cart) { _ = c.UpdateQuantity(0, 3) }},
			{"override price", func(c *Cart) { _ = c.UpdateUnitPrice(1, d("12.345")) }},
			{"remove first", func(c *Cart) { _ = c.RemoveItem(0) }},
			{"qty clamp", func(c *Cart) { _ = c.UpdateQuantity(0, -2) }},
		},
		"placeholders and reselect": {
			{"blank", func(c *Cart) { c.AddBlank() }},
			{"price on blank", func(c *Cart) { _ = c.UpdateUnitPrice(0, d("1000")) }},
			{"qty on blank", func(c *Cart) { _ = c.UpdateQuantity(0, 7) }},
			{"add p1", func(c *Cart) { c.AddItem(snap, "p1") }},
			{"choose product on blank", func(c *Cart) { _, _ = c.UpdateItemProduct(snap, 0, "p2") }},
			{"negative override", func(c *Cart) { _ = c.UpdateUnitPrice(1, d("-9")) }},
			{"reselect restores price", func(c *Cart) { _, _ = c.UpdateItemProduct(snap, 1, "p1") }},
			{"miss", func(c *Cart) { c.AddItem(snap, "ghost") }},
			{"out of range", func(c *Cart) { _ = c.RemoveItem(5) }},
			{"blank again", func(c *Cart) { c.AddBlank() }},
		},
	}

	for name, steps := range sequences {
		t.Run(name, func(t *testing.T) {
			cart := NewCart()
			for _, s := range steps {
				s.apply(cart)
				sum := decimal.Zero
				for i, line := range cart.Items() {
					want := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
					require.Truef(t, line.Subtotal.Equal(want), "%s: line %d subtotal %s, want %s", s.name, i, line.Subtotal, want)
					require.GreaterOrEqualf(t, line.Quantity, 1, "%s: line %d quantity", s.name, i)
					sum = sum.Add(line.Subtotal)
				}
				totals := cart.Totals(Charges{Freight: d("10")})
				require.Truef(t, totals.ProductsSubtotal.Equal(sum), "%s: products %s, lines sum %s", s.name, totals.ProductsSubtotal, sum)
			}
		})
	}
}
