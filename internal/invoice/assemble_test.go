package invoice

import (
	"errors"
	"testing"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validHeader() domain.InvoiceHeader {
	return domain.InvoiceHeader{
		Number:            "12",
		Series:            "1",
		ClientID:          "c1",
		Client:            &domain.Party{ID: "c1", Name: "ACME"},
		NatureOfOperation: "Venda",
		Freight:           d("20"),
	}
}

func TestAssembleRequiresClient(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")
	h := validHeader()
	h.ClientID = ""

	_, err := Assemble("e1", "u1", h, cart.Items())

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "client_id", verr.Field)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestAssembleRequiresResolvedLine(t *testing.T) {
	cart := NewCart()
	cart.AddBlank()
	h := validHeader()

	_, err := Assemble("e1", "u1", h, cart.Items())

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "items", verr.Field)
}

func TestAssembleRejectsNegativeCharges(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")
	h := validHeader()
	h.Insurance = d("-1")

	_, err := Assemble("e1", "u1", h, cart.Items())
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestAssembleDropsPlaceholdersAndCopies(t *testing.T) {
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")
	cart.AddBlank()
	h := validHeader()
	items := cart.Items()

	payload, err := Assemble("e1", "u1", h, items)
	require.NoError(t, err)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "e1", payload.EmitterID)
	assert.Equal(t, "u1", payload.CreatedBy)
	assertDecimal(t, "125", payload.Totals.GrandTotal)

	items[0].Quantity = 50
	h.Client.Name = "changed"
	require.NoError(t, cart.UpdateQuantity(0, 7))

	assert.Equal(t, 1, payload.Items[0].Quantity)
	assert.Equal(t, "ACME", payload.Header.Client.Name)
}
