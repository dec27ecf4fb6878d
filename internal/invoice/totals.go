package invoice

import (
	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/shopspring/decimal"
)

// Charges are the header-level amounts that feed the totals.
type Charges struct {
	Freight       decimal.Decimal
	Insurance     decimal.Decimal
	OtherExpenses decimal.Decimal
	Discount      decimal.Decimal
}

func ChargesOf(h domain.InvoiceHeader) Charges {
	return Charges{
		Freight:       h.Freight,
		Insurance:     h.Insurance,
		OtherExpenses: h.OtherExpenses,
		Discount:      h.Discount,
	}
}

// ComputeTotals is a pure fold over the lines. The ICMS base equals the
// products subtotal. The grand total is products + IPI + freight; ICMS is
// embedded in the product price and insurance, other expenses and
// discount are reported but not added.
func ComputeTotals(items []domain.LineItem, charges Charges) domain.InvoiceTotals {
	products := decimal.Zero
	icms := decimal.Zero
	ipi := decimal.Zero
	for _, line := range items {
		products = products.Add(line.Subtotal)
		icms = icms.Add(line.ICMSAmount)
		ipi = ipi.Add(line.IPIAmount)
	}
	return domain.InvoiceTotals{
		ProductsSubtotal: products,
		ICMSBase:         products,
		ICMSTotal:        icms,
		IPITotal:         ipi,
		Freight:          charges.Freight,
		Insurance:        charges.Insurance,
		OtherExpenses:    charges.OtherExpenses,
		Discount:         charges.Discount,
		GrandTotal:       products.Add(ipi).Add(charges.Freight),
	}
}
