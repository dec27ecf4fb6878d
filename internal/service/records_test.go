package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/store"
	"github.com/fabirmss/notaFi/internal/store/memory"
)

func TestEditingProductAfterFinalizeKeepsSavedInvoice(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	opened, err := svc.OpenDraft(ctx, storeActor)
	if err != nil {
		t.Fatalf("open draft failed: %v", err)
	}
	buildScenario(t, svc, opened.ID)
	inv, err := svc.FinalizeDraft(ctx, storeActor, opened.ID)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	edited, err := svc.UpdateProduct(ctx, storeActor, "prod-cadeira", domain.ProductCreateRequest{
		Name: "Cadeira gamer", UnitPrice: decimal.NewFromInt(999), ICMSRate: decimal.NewFromInt(18),
	})
	if err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	if edited.ID != "prod-cadeira" || edited.EmitterID != memory.DemoEmitterID {
		t.Fatalf("unexpected product %+v", edited)
	}

	saved, err := svc.GetInvoice(ctx, storeActor, inv.ID)
	if err != nil {
		t.Fatalf("get invoice failed: %v", err)
	}
	if !saved.Items[0].UnitPrice.Equal(decimal.NewFromInt(100)) || saved.Items[0].Description == "Cadeira gamer" {
		t.Fatalf("saved line changed with the catalog: %+v", saved.Items[0])
	}
	if !saved.Totals.ProductsSubtotal.Equal(decimal.NewFromInt(250)) || !saved.Totals.GrandTotal.Equal(decimal.NewFromInt(280)) {
		t.Fatalf("saved totals changed: %+v", saved.Totals)
	}

	next, err := svc.OpenDraft(ctx, storeActor)
	if err != nil {
		t.Fatalf("open second draft failed: %v", err)
	}
	view, err := svc.AddDraftItem(ctx, storeActor, next.ID, domain.DraftItemRequest{ProductID: "prod-cadeira"})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if !view.Items[0].UnitPrice.Equal(decimal.NewFromInt(999)) {
		t.Fatalf("expected new draft to use the edited price, got %s", view.Items[0].UnitPrice)
	}
}

func TestRecordEditsAreScopedToEmitter(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()
	req := domain.TransporterCreateRequest{Name: "Rapido Log", Document: "99888777000166"}

	if _, err := svc.UpdateTransporter(ctx, storeActor, "tr-rapido", domain.TransporterCreateRequest{
		EmitterID: "emit-other", Name: "x", Document: "99888777000166",
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for foreign emitter, got %v", err)
	}
	if _, err := svc.UpdateTransporter(ctx, storeActor, "tr-ghost", req); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.UpdateClient(ctx, storeActor, "cli-acme", domain.ClientCreateRequest{Name: "ACME", Document: "123"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid document, got %v", err)
	}
	if err := svc.DeleteTransporter(ctx, adminActor, "", "tr-rapido"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected admin to name an emitter, got %v", err)
	}
}

func TestDeleteTransporterEvictsListing(t *testing.T) {
	listings := newMapCache()
	svc := New(memory.NewSeeded(zerolog.Nop()), listings, nil, zerolog.Nop(), Options{})
	ctx := context.Background()

	if transporters, err := svc.ListTransporters(ctx, storeActor, ""); err != nil || len(transporters) != 1 {
		t.Fatalf("list transporters: %d / %v", len(transporters), err)
	}
	if err := svc.DeleteTransporter(ctx, storeActor, "", "tr-rapido"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	transporters, err := svc.ListTransporters(ctx, storeActor, "")
	if err != nil {
		t.Fatalf("list transporters failed: %v", err)
	}
	if len(transporters) != 0 {
		t.Fatalf("expected deleted transporter to leave the listing, got %d", len(transporters))
	}
	if err := svc.DeleteTransporter(ctx, storeActor, "", "tr-rapido"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
