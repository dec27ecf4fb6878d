package invoice

import (
	"strings"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/shopspring/decimal"
)

// Assemble validates a draft and builds the payload handed to the store.
// The payload shares no mutable state with the inputs. Placeholder lines
// without a product are left out and the totals are folded over the lines
// that remain, so the frozen totals always match the frozen items.
func Assemble(emitterID, createdBy string, header domain.InvoiceHeader, items []domain.LineItem) (domain.InvoicePayload, error) {
	if err := validateHeader(header); err != nil {
		return domain.InvoicePayload{}, err
	}

	lines := make([]domain.LineItem, 0, len(items))
	for _, line := range items {
		if line.Resolved() {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return domain.InvoicePayload{}, &ValidationError{Field: "items", Message: "add at least one product"}
	}

	return domain.InvoicePayload{
		EmitterID: emitterID,
		CreatedBy: createdBy,
		Header:    cloneHeader(header),
		Items:     lines,
		Totals:    ComputeTotals(lines, ChargesOf(header)),
	}, nil
}

func validateHeader(h domain.InvoiceHeader) error {
	if strings.TrimSpace(h.ClientID) == "" {
		return &ValidationError{Field: "client_id", Message: "select a client"}
	}
	if strings.TrimSpace(h.Number) == "" {
		return &ValidationError{Field: "number", Message: "invoice number is required"}
	}
	if strings.TrimSpace(h.Series) == "" {
		return &ValidationError{Field: "series", Message: "series is required"}
	}
	for _, charge := range []struct {
		field  string
		amount decimal.Decimal
	}{
		{"freight", h.Freight},
		{"insurance", h.Insurance},
		{"other_expenses", h.OtherExpenses},
		{"discount", h.Discount},
	} {
		if charge.amount.IsNegative() {
			return &ValidationError{Field: charge.field, Message: "must not be negative"}
		}
	}
	return nil
}

func cloneHeader(h domain.InvoiceHeader) domain.InvoiceHeader {
	out := h
	if h.Client != nil {
		c := *h.Client
		out.Client = &c
	}
	if h.Transporter != nil {
		t := *h.Transporter
		out.Transporter = &t
	}
	return out
}
