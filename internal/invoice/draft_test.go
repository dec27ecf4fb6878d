package invoice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePersister struct {
	mu       sync.Mutex
	err      error
	block    chan struct{}
	entered  chan struct{}
	payloads []domain.InvoicePayload
}

func (f *fakePersister) CreateInvoice(_ context.Context, payload domain.InvoicePayload) (*domain.Invoice, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &domain.Invoice{ID: "inv-1", InvoicePayload: payload, CreatedAt: time.Now()}, nil
}

func strPtr(s string) *string { return &s }

func loadedDraft(t *testing.T) *Draft {
	t.Helper()
	draft := NewDraft("draft-1", domain.Actor{UserID: "u1", EmitterID: "e1", Role: domain.RoleStore}, domain.InvoiceHeader{Series: "1", NatureOfOperation: "Venda"}, nil)
	view := draft.Load(Listings{
		Catalog:      testCatalog(),
		Clients:      []domain.Client{{ID: "c1", Name: "ACME", Document: "12345678000190"}},
		Transporters: []domain.Transporter{{ID: "t1", Name: "Rapido", Plate: "ABC1D23"}},
		NextNumber:   "42",
	})
	require.Equal(t, StatusReady, view.Status)
	require.Equal(t, "42", view.Header.Number)
	return draft
}

func TestFinalizeBeforeLoadIsRejected(t *testing.T) {
	draft := NewDraft("d", domain.Actor{UserID: "u1"}, domain.InvoiceHeader{}, nil)
	_, err := draft.Finalize(context.Background(), &fakePersister{})
	assert.True(t, errors.Is(err, ErrDraftNotReady))
}

func TestApplyHeaderSelectsKnownPartiesOnly(t *testing.T) {
	draft := loadedDraft(t)

	view, err := draft.ApplyHeader(domain.DraftHeaderUpdate{ClientID: strPtr("c1"), TransporterID: strPtr("ghost")})
	require.NoError(t, err)
	assert.Equal(t, "c1", view.Header.ClientID)
	require.NotNil(t, view.Header.Client)
	assert.Equal(t, "ACME", view.Header.Client.Name)
	assert.Empty(t, view.Header.TransporterID)

	view, err = draft.ApplyHeader(domain.DraftHeaderUpdate{ClientID: strPtr("")})
	require.NoError(t, err)
	assert.Empty(t, view.Header.ClientID)
	assert.Nil(t, view.Header.Client)
}

func TestApplyHeaderRejectsNegativeFreight(t *testing.T) {
	draft := loadedDraft(t)
	freight := d("-1")

	_, err := draft.ApplyHeader(domain.DraftHeaderUpdate{Freight: &freight})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, draft.View().Header.Freight.IsZero())
}

func TestUpdateItemFailureLeavesCartUntouched(t *testing.T) {
	draft := loadedDraft(t)
	_, _, err := draft.AddItem("p1")
	require.NoError(t, err)

	qty := 4
	_, err = draft.UpdateItem(3, domain.DraftItemUpdate{Quantity: &qty})
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	assert.Equal(t, 1, draft.View().Items[0].Quantity)
}

func TestUpdateItemAppliesProductThenPrice(t *testing.T) {
	draft := loadedDraft(t)
	_, _, err := draft.AddItem("")
	require.NoError(t, err)

	price := d("40")
	qty := 2
	view, err := draft.UpdateItem(0, domain.DraftItemUpdate{ProductID: strPtr("p2"), Quantity: &qty, UnitPrice: &price})
	require.NoError(t, err)
	assertDecimal(t, "80", view.Items[0].Subtotal)
	assertDecimal(t, "80", view.Totals.ProductsSubtotal)
}

func TestFinalizeSuccessClearsCartAndCloses(t *testing.T) {
	draft := loadedDraft(t)
	_, err := draft.ApplyHeader(domain.DraftHeaderUpdate{ClientID: strPtr("c1")})
	require.NoError(t, err)
	_, _, err = draft.AddItem("p1")
	require.NoError(t, err)

	p := &fakePersister{}
	inv, err := draft.Finalize(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "inv-1", inv.ID)
	assert.Equal(t, "42", inv.Header.Number)
	assert.False(t, inv.Header.EmittedAt.IsZero())

	view := draft.View()
	assert.Equal(t, StatusFinalized, view.Status)
	assert.Empty(t, view.Items)

	_, _, err = draft.AddItem("p1")
	assert.True(t, errors.Is(err, ErrDraftClosed))
}

func TestFinalizeValidationKeepsDraft(t *testing.T) {
	draft := loadedDraft(t)
	_, _, err := draft.AddItem("p1")
	require.NoError(t, err)

	_, err = draft.Finalize(context.Background(), &fakePersister{})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, StatusReady, draft.Status())
	assert.Len(t, draft.View().Items, 1)
}

func TestFinalizePersistenceFailureKeepsDraft(t *testing.T) {
	draft := loadedDraft(t)
	_, err := draft.ApplyHeader(domain.DraftHeaderUpdate{ClientID: strPtr("c1")})
	require.NoError(t, err)
	_, _, err = draft.AddItem("p1")
	require.NoError(t, err)
	before := draft.View()

	_, err = draft.Finalize(context.Background(), &fakePersister{err: errors.New("connection reset")})

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "connection reset")

	after := draft.View()
	assert.Equal(t, StatusReady, after.Status)
	assert.Equal(t, before.Items, after.Items)
	assert.Equal(t, before.Header.ClientID, after.Header.ClientID)
}

func TestSecondFinalizeWhileInFlightIsRejected(t *testing.T) {
	draft := loadedDraft(t)
	_, err := draft.ApplyHeader(domain.DraftHeaderUpdate{ClientID: strPtr("c1")})
	require.NoError(t, err)
	_, _, err = draft.AddItem("p1")
	require.NoError(t, err)

	p := &fakePersister{block: make(chan struct{}), entered: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		_, err := draft.Finalize(context.Background(), p)
		done <- err
	}()
	<-p.entered

	_, err = draft.Finalize(context.Background(), p)
	assert.True(t, errors.Is(err, ErrFinalizeInFlight))
	_, _, err = draft.AddItem("p2")
	assert.True(t, errors.Is(err, ErrFinalizeInFlight))

	close(p.block)
	require.NoError(t, <-done)
	assert.Len(t, p.payloads, 1)
}

func TestReloadKeepsLinesAndNumber(t *testing.T) {
	draft := loadedDraft(t)
	_, _, err := draft.AddItem("p1")
	require.NoError(t, err)

	require.NoError(t, draft.BeginReload())
	assert.Equal(t, StatusLoading, draft.Status())

	view := draft.Load(Listings{Catalog: testCatalog(), NextNumber: "99"})
	assert.Equal(t, StatusReady, view.Status)
	assert.Equal(t, "42", view.Header.Number)
	assert.Len(t, view.Items, 1)
}

func TestFinalizedTotalsMatchFinalizedItems(t *testing.T) {
	draft := loadedDraft(t)
	_, err := draft.ApplyHeader(domain.DraftHeaderUpdate{ClientID: strPtr("c1")})
	require.NoError(t, err)
	_, _, err = draft.AddItem("p1")
	require.NoError(t, err)
	_, _, err = draft.AddItem("")
	require.NoError(t, err)
	price := d("1000")
	_, err = draft.UpdateItem(1, domain.DraftItemUpdate{UnitPrice: &price})
	require.True(t, errors.Is(err, ErrValidation))

	view := draft.View()
	assertDecimal(t, "100", view.Totals.ProductsSubtotal)

	p := &fakePersister{}
	_, err = draft.Finalize(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, p.payloads, 1)

	payload := p.payloads[0]
	sum := decimal.Zero
	for _, line := range payload.Items {
		sum = sum.Add(line.Subtotal)
	}
	require.Len(t, payload.Items, 1)
	assert.True(t, payload.Totals.ProductsSubtotal.Equal(sum))
	assertDecimal(t, "105", payload.Totals.GrandTotal)
}

func TestRetryAfterStoreFailureSendsSamePayload(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	draft := NewDraft("draft-2", domain.Actor{UserID: "u1", EmitterID: "e1", Role: domain.RoleStore}, domain.InvoiceHeader{Series: "1"}, func() time.Time { return clock })
	draft.Load(Listings{Catalog: testCatalog(), Clients: []domain.Client{{ID: "c1", Name: "ACME"}}, NextNumber: "7"})
	_, err := draft.ApplyHeader(domain.DraftHeaderUpdate{ClientID: strPtr("c1")})
	require.NoError(t, err)
	_, _, err = draft.AddItem("p2")
	require.NoError(t, err)

	failing := &recordingPersister{err: errors.New("timeout")}
	_, err = draft.Finalize(context.Background(), failing)
	require.Error(t, err)

	clock = clock.Add(5 * time.Minute)
	_, err = draft.Finalize(context.Background(), failing)
	require.Error(t, err)

	require.Len(t, failing.seen, 2)
	assert.Equal(t, failing.seen[0], failing.seen[1])
	assert.True(t, failing.seen[1].Header.EmittedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
}

type recordingPersister struct {
	err  error
	seen []domain.InvoicePayload
}

func (r *recordingPersister) CreateInvoice(_ context.Context, payload domain.InvoicePayload) (*domain.Invoice, error) {
	r.seen = append(r.seen, payload)
	return nil, r.err
}
