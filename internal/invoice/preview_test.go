package invoice

import (
	"strings"
	"testing"
	"time"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload(t *testing.T) domain.InvoicePayload {
	t.Helper()
	cart := NewCart()
	cart.AddItem(testCatalog(), "p1")
	require.NoError(t, cart.UpdateQuantity(0, 2))
	cart.AddItem(testCatalog(), "p2")

	h := validHeader()
	h.EmittedAt = time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	h.Transporter = &domain.Party{ID: "t1", Name: "Rapido", Document: "12345678000190", Plate: "ABC1D23"}
	h.TransporterID = "t1"
	payload, err := Assemble("e1", "u1", h, cart.Items())
	require.NoError(t, err)
	return payload
}

func TestToPreviewModelFormatsValues(t *testing.T) {
	emitter := domain.Emitter{ID: "e1", LegalName: "Loja Modelo LTDA", CNPJ: "11222333000144", City: "Campinas", State: "SP", CEP: "13010000"}

	p := ToPreviewModel(samplePayload(t), emitter)

	assert.Equal(t, "000.000.012", p.Number)
	assert.Equal(t, "05/03/2024", p.EmissionDate)
	assert.Equal(t, "14:30:00", p.ExitTime)
	assert.Equal(t, DefaultCFOP, p.CFOP)
	assert.Equal(t, "11.222.333/0001-44", p.Emitter.Document)
	assert.Equal(t, "13010-000", p.Emitter.CEP)
	assert.Equal(t, "ACME", p.Client.Name)
	require.NotNil(t, p.Transporter)
	assert.Equal(t, "12.345.678/0001-90", p.Transporter.Document)

	require.Len(t, p.Items, 2)
	assert.Equal(t, "R$ 200,00", p.Items[0].Subtotal)
	assert.Equal(t, "18,00%", p.Items[0].ICMSRate)

	assert.Equal(t, "R$ 250,00", p.Totals.Products)
	assert.Equal(t, "R$ 41,00", p.Totals.ICMS)
	assert.Equal(t, "R$ 10,00", p.Totals.IPI)
	assert.Equal(t, "R$ 20,00", p.Totals.Freight)
	assert.Equal(t, "R$ 280,00", p.Totals.Total)
}

func TestRenderHTMLEscapesFields(t *testing.T) {
	payload := samplePayload(t)
	payload.Header.Observations = "<script>alert(1)</script>"

	page, err := RenderHTML(ToPreviewModel(payload, domain.Emitter{LegalName: "Loja"}))
	require.NoError(t, err)

	html := string(page)
	assert.True(t, strings.HasPrefix(html, "<!doctype html>"))
	assert.Contains(t, html, "R$ 280,00")
	assert.Contains(t, html, "Placa: ABC1D23")
	assert.NotContains(t, html, "<script>alert(1)</script>")
}
