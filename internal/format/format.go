// Package format renders monetary values and Brazilian document numbers
// for printable output. Nothing here performs arithmetic on amounts
// beyond rounding for display.
package format

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var brazil = message.NewPrinter(language.BrazilianPortuguese)

// BRL formats an amount as Brazilian reais, e.g. "R$ 1.234,50".
func BRL(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Abs()
	}
	return sign + "R$ " + localized(rounded)
}

// Decimal formats an amount with pt-BR separators and two decimals.
func Decimal(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	if rounded.IsNegative() {
		return "-" + localized(rounded.Abs())
	}
	return localized(rounded)
}

// Percent formats a percentage rate, e.g. "18,00%".
func Percent(rate decimal.Decimal) string {
	return Decimal(rate) + "%"
}

// localized expects a non-negative amount. Digits come from the decimal
// itself; only the integer grouping is delegated to the locale printer.
func localized(amount decimal.Decimal) string {
	whole, frac, _ := strings.Cut(amount.StringFixed(2), ".")
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		whole = brazil.Sprintf("%d", n)
	} else {
		whole = groupThousands(whole)
	}
	return whole + "," + frac
}

func groupThousands(whole string) string {
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CNPJ masks a 14-digit company registry number as NN.NNN.NNN/NNNN-NN.
// Values that do not have exactly 14 digits are returned unchanged.
func CNPJ(value string) string {
	d := digits(value)
	if len(d) != 14 {
		return value
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}

// CPF masks an 11-digit taxpayer number as NNN.NNN.NNN-NN.
// Values that do not have exactly 11 digits are returned unchanged.
func CPF(value string) string {
	d := digits(value)
	if len(d) != 11 {
		return value
	}
	return d[0:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:11]
}

// Document applies the CPF or CNPJ mask depending on the digit count.
func Document(value string) string {
	switch len(digits(value)) {
	case 11:
		return CPF(value)
	case 14:
		return CNPJ(value)
	default:
		return value
	}
}

// CEP masks an 8-digit postal code as NNNNN-NNN.
func CEP(value string) string {
	d := digits(value)
	if len(d) != 8 {
		return value
	}
	return d[0:5] + "-" + d[5:8]
}

// InvoiceNumber zero-pads a numeric invoice number to nine digits and
// groups it as NNN.NNN.NNN, the layout printed on a DANFE.
func InvoiceNumber(value string) string {
	d := digits(value)
	if d == "" || len(d) != len(strings.TrimSpace(value)) || len(d) > 9 {
		return value
	}
	d = strings.Repeat("0", 9-len(d)) + d
	return d[0:3] + "." + d[3:6] + "." + d[6:9]
}

// Digits strips everything but ASCII digits.
func Digits(value string) string {
	return digits(value)
}

func digits(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
