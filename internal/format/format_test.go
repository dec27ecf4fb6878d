package format

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBRL(t *testing.T) {
	assert.Equal(t, "R$ 1.234,50", BRL(decimal.RequireFromString("1234.5")))
	assert.Equal(t, "R$ 0,00", BRL(decimal.Zero))
	assert.Equal(t, "R$ 280,00", BRL(decimal.NewFromInt(280)))
	assert.Equal(t, "-R$ 10,25", BRL(decimal.RequireFromString("-10.249")))
}

func TestBRLKeepsEveryDigitOfLargeAmounts(t *testing.T) {
	assert.Equal(t, "R$ 123.456.789.012.345,67", BRL(decimal.RequireFromString("123456789012345.67")))
	assert.Equal(t, "R$ 98.765.432.109.876.543.210,99", BRL(decimal.RequireFromString("98765432109876543210.99")))
	assert.Equal(t, "0,01", Decimal(decimal.RequireFromString("0.005")))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "18,00%", Percent(decimal.NewFromInt(18)))
	assert.Equal(t, "5,50%", Percent(decimal.RequireFromString("5.5")))
}

func TestDocumentMasks(t *testing.T) {
	assert.Equal(t, "12.345.678/0001-90", CNPJ("12345678000190"))
	assert.Equal(t, "12.345.678/0001-90", CNPJ("12.345.678/0001-90"))
	assert.Equal(t, "1234", CNPJ("1234"))

	assert.Equal(t, "123.456.789-01", CPF("12345678901"))
	assert.Equal(t, "abc", CPF("abc"))

	assert.Equal(t, "123.456.789-01", Document("12345678901"))
	assert.Equal(t, "12.345.678/0001-90", Document("12345678000190"))
	assert.Equal(t, "", Document(""))

	assert.Equal(t, "01310-100", CEP("01310100"))
}

func TestInvoiceNumber(t *testing.T) {
	assert.Equal(t, "000.000.042", InvoiceNumber("42"))
	assert.Equal(t, "123.456.789", InvoiceNumber("123456789"))
	assert.Equal(t, "NF-1", InvoiceNumber("NF-1"))
	assert.Equal(t, "1234567890", InvoiceNumber("1234567890"))
}
