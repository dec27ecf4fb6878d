package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabirmss/notaFi/internal/catalog"
	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/store"
)

func payload(number string) domain.InvoicePayload {
	return domain.InvoicePayload{
		EmitterID: DemoEmitterID,
		CreatedBy: "user-1",
		Header:    domain.InvoiceHeader{Number: number, Series: "1", ClientID: "cli-acme", Client: &domain.Party{ID: "cli-acme", Name: "ACME"}},
		Items:     []domain.LineItem{{ProductID: "prod-mesa", Quantity: 1, UnitPrice: decimal.NewFromInt(50), Subtotal: decimal.NewFromInt(50)}},
		Totals:    domain.InvoiceTotals{GrandTotal: decimal.NewFromInt(50)},
	}
}

func TestSeededListingsNormalize(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()

	rows, err := s.ListProductRecords(ctx, DemoEmitterID)
	require.NoError(t, err)
	snap := catalog.FromRecords(rows, time.Now())
	require.Equal(t, 4, snap.Len())

	mesa, ok := snap.Resolve("prod-mesa")
	require.True(t, ok)
	assert.True(t, mesa.UnitPrice.Equal(decimal.NewFromInt(50)))
	caneta, ok := snap.Resolve("prod-caneta")
	require.True(t, ok)
	assert.True(t, caneta.UnitPrice.Equal(decimal.RequireFromString("12.90")))
	brinde, ok := snap.Resolve("prod-brinde")
	require.True(t, ok)
	assert.True(t, brinde.UnitPrice.IsZero())

	clientRows, err := s.ListClientRecords(ctx, DemoEmitterID)
	require.NoError(t, err)
	clients := catalog.Clients(clientRows)
	require.Len(t, clients, 2)
	assert.Equal(t, "ACME Industria LTDA", clients[1].Name)
}

func TestListingReturnsCopies(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	rows, _ := s.ListProductRecords(context.Background(), DemoEmitterID)
	rows[0]["descricao"] = "mutated"

	again, _ := s.ListProductRecords(context.Background(), DemoEmitterID)
	assert.Equal(t, "Cadeira de escritorio", again[0]["descricao"])
}

func TestCreateProductRoundTripsThroughAdapter(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		EmitterID: DemoEmitterID, Name: "Lapis", Unit: "UN",
		UnitPrice: decimal.RequireFromString("1.25"), ICMSRate: decimal.NewFromInt(12),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	rows, _ := s.ListProductRecords(ctx, DemoEmitterID)
	r, ok := catalog.FromRecords(rows, time.Now()).Resolve(created.ID)
	require.True(t, ok)
	assert.True(t, r.UnitPrice.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, r.ICMSRate.Equal(decimal.NewFromInt(12)))
}

func TestCreateProductUnknownEmitter(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	_, err := s.CreateProduct(context.Background(), domain.Product{EmitterID: "nope", Name: "x"})
	assert.True(t, errors.Is(err, store.ErrInvalidInput))
}

func TestInvoiceNumberingAndConflict(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()

	highest, err := s.MaxInvoiceNumber(ctx, DemoEmitterID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), highest)

	_, err = s.CreateInvoice(ctx, payload("7"))
	require.NoError(t, err)
	_, err = s.CreateInvoice(ctx, payload("12"))
	require.NoError(t, err)
	_, err = s.CreateInvoice(ctx, payload("NF-A"))
	require.NoError(t, err)

	highest, err = s.MaxInvoiceNumber(ctx, DemoEmitterID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), highest)

	_, err = s.CreateInvoice(ctx, payload("12"))
	assert.True(t, errors.Is(err, store.ErrConflict))
}

func TestMaxInvoiceNumberIgnoresOversizedAndSignedNumbers(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()

	for _, number := range []string{"30", "9223372036854775807", "+40", "-5", "999999999999999999"} {
		_, err := s.CreateInvoice(ctx, payload(number))
		require.NoError(t, err)
	}

	highest, err := s.MaxInvoiceNumber(ctx, DemoEmitterID)
	require.NoError(t, err)
	assert.Equal(t, int64(999999999999999999), highest)
}

func TestInvoicesAreStoredAsCopies(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()
	p := payload("1")

	created, err := s.CreateInvoice(ctx, p)
	require.NoError(t, err)
	p.Items[0].Quantity = 99
	p.Header.Client.Name = "changed"
	created.Items[0].Quantity = 77

	stored, err := s.GetInvoice(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity)
	assert.Equal(t, "ACME", stored.Header.Client.Name)
}

func TestListInvoicesNewestFirstAndScoped(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()
	other, err := s.CreateEmitter(ctx, domain.Emitter{CNPJ: "55666777000188", LegalName: "Outra"})
	require.NoError(t, err)

	_, _ = s.CreateInvoice(ctx, payload("1"))
	_, _ = s.CreateInvoice(ctx, payload("2"))
	foreign := payload("1")
	foreign.EmitterID = other.ID
	_, err = s.CreateInvoice(ctx, foreign)
	require.NoError(t, err)

	mine, err := s.ListInvoices(ctx, DemoEmitterID, 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "2", mine[0].Header.Number)

	all, err := s.ListInvoices(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDashboardCountsAndSums(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()
	_, _ = s.CreateInvoice(ctx, payload("1"))
	_, _ = s.CreateInvoice(ctx, payload("2"))

	summary, err := s.Dashboard(ctx, DemoEmitterID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Invoices)
	assert.Equal(t, 4, summary.Products)
	assert.Equal(t, 2, summary.Clients)
	assert.Equal(t, 1, summary.Transporters)
	assert.True(t, summary.BilledTotal.Equal(decimal.NewFromInt(100)))
}

func TestUsersSeedAndPasswordUpdate(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
	assert.Equal(t, DemoEmitterID, users[1].EmitterID)

	assert.True(t, errors.Is(s.UpdateUserPassword(ctx, "ghost", "x"), store.ErrNotFound))
	require.NoError(t, s.UpdateUserPassword(ctx, "LOJA", "new-hash"))

	err = s.CreateUser(ctx, domain.UserAccount{Username: "loja", Password: "x", EmitterID: DemoEmitterID})
	assert.True(t, errors.Is(err, store.ErrConflict))
	err = s.CreateUser(ctx, domain.UserAccount{Username: "filial", Password: "x", EmitterID: "nope"})
	assert.True(t, errors.Is(err, store.ErrInvalidInput))
}

func TestUpdateProductReplacesLegacyRow(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()

	_, err := s.UpdateProduct(ctx, domain.Product{
		ID: "prod-mesa", EmitterID: DemoEmitterID, Name: "Mesa redonda", Unit: "UN",
		UnitPrice: decimal.RequireFromString("75.50"),
	})
	require.NoError(t, err)

	rows, _ := s.ListProductRecords(ctx, DemoEmitterID)
	snap := catalog.FromRecords(rows, time.Now())
	assert.Equal(t, 4, snap.Len())
	mesa, ok := snap.Resolve("prod-mesa")
	require.True(t, ok)
	assert.Equal(t, "Mesa redonda", mesa.Name)
	assert.True(t, mesa.UnitPrice.Equal(decimal.RequireFromString("75.5")))

	_, err = s.UpdateProduct(ctx, domain.Product{ID: "prod-mesa", EmitterID: "emit-other", Name: "Mesa"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = s.UpdateProduct(ctx, domain.Product{ID: "prod-mesa", EmitterID: DemoEmitterID, Name: " "})
	assert.True(t, errors.Is(err, store.ErrInvalidInput))
}

func TestUpdateClientAndTransporter(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()

	_, err := s.UpdateClient(ctx, domain.Client{
		ID: "cli-acme", EmitterID: DemoEmitterID, Kind: domain.ClientKindCompany,
		Name: "ACME Comercio LTDA", Document: "11222333000181",
	})
	require.NoError(t, err)
	clientRows, _ := s.ListClientRecords(ctx, DemoEmitterID)
	names := make([]string, 0, 2)
	for _, c := range catalog.Clients(clientRows) {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "ACME Comercio LTDA")

	_, err = s.UpdateTransporter(ctx, domain.Transporter{ID: "tr-rapido", EmitterID: DemoEmitterID, Name: "Rapido Log"})
	require.NoError(t, err)
	_, err = s.UpdateTransporter(ctx, domain.Transporter{ID: "tr-ghost", EmitterID: DemoEmitterID, Name: "x"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDeleteTransporterKeepsInvoices(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()

	p := payload("7")
	p.Header.TransporterID = "tr-rapido"
	p.Header.Transporter = &domain.Party{ID: "tr-rapido", Name: "Rapido Transportes SA"}
	inv, err := s.CreateInvoice(ctx, p)
	require.NoError(t, err)

	assert.True(t, errors.Is(s.DeleteTransporter(ctx, "emit-other", "tr-rapido"), store.ErrNotFound))
	require.NoError(t, s.DeleteTransporter(ctx, DemoEmitterID, "tr-rapido"))
	assert.True(t, errors.Is(s.DeleteTransporter(ctx, DemoEmitterID, "tr-rapido"), store.ErrNotFound))

	rows, _ := s.ListTransporterRecords(ctx, DemoEmitterID)
	assert.Empty(t, rows)
	saved, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, saved.Header.Transporter)
	assert.Equal(t, "Rapido Transportes SA", saved.Header.Transporter.Name)
}

func TestUpdateAndDeleteUser(t *testing.T) {
	s := NewSeeded(zerolog.Nop())
	ctx := context.Background()

	users, _ := s.ListUsers(ctx)
	lojaUser := users[1]
	oldHash := lojaUser.Password

	err := s.UpdateUser(ctx, domain.UserAccount{ID: lojaUser.ID, Email: "Filial@NotaFi.local", Name: "Filial", EmitterID: DemoEmitterID})
	require.NoError(t, err)
	users, _ = s.ListUsers(ctx)
	assert.Equal(t, "filial@notafi.local", users[1].Email)
	assert.Equal(t, "loja", users[1].Username)
	assert.False(t, users[1].Active)
	assert.Equal(t, oldHash, users[1].Password)

	err = s.UpdateUser(ctx, domain.UserAccount{ID: lojaUser.ID, EmitterID: "nope"})
	assert.True(t, errors.Is(err, store.ErrInvalidInput))
	assert.True(t, errors.Is(s.UpdateUser(ctx, domain.UserAccount{ID: "user-ghost"}), store.ErrNotFound))

	require.NoError(t, s.DeleteUser(ctx, lojaUser.ID))
	assert.True(t, errors.Is(s.DeleteUser(ctx, lojaUser.ID), store.ErrNotFound))
	users, _ = s.ListUsers(ctx)
	assert.Len(t, users, 1)
}
