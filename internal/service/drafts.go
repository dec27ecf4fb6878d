package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fabirmss/notaFi/internal/cache"
	"github.com/fabirmss/notaFi/internal/catalog"
	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/invoice"
	"github.com/fabirmss/notaFi/internal/xid"
)

// OpenDraft starts an authoring session for a store user. The catalog,
// client and transporter listings are fetched before the draft is
// returned; a failed fetch discards the draft.
func (s *Service) OpenDraft(ctx context.Context, actor domain.Actor) (domain.DraftView, error) {
	if actor.Role != domain.RoleStore || actor.EmitterID == "" || actor.UserID == "" {
		return domain.DraftView{}, ErrForbidden
	}
	s.sweepExpired()

	draft := invoice.NewDraft(xid.New("draft"), actor, domain.InvoiceHeader{
		Series:            s.opts.DefaultSeries,
		NatureOfOperation: s.opts.DefaultNature,
		CFOP:              invoice.DefaultCFOP,
	}, func() time.Time { return s.now() })
	s.putDraft(draft)

	listings, err := s.loadListings(ctx, actor.EmitterID, true)
	if err != nil {
		s.dropDraft(draft.ID())
		s.metrics.DraftMutation("open", err)
		return domain.DraftView{}, err
	}
	view := draft.Load(listings)
	s.metrics.DraftMutation("open", nil)
	s.logger.Debug().Str("draft_id", draft.ID()).Str("emitter_id", actor.EmitterID).Int("products", listings.Catalog.Len()).Msg("draft opened")
	return view, nil
}

func (s *Service) GetDraft(_ context.Context, actor domain.Actor, id string) (domain.DraftView, error) {
	draft, err := s.draftFor(actor, id)
	if err != nil {
		return domain.DraftView{}, err
	}
	return draft.View(), nil
}

func (s *Service) UpdateDraftHeader(_ context.Context, actor domain.Actor, id string, u domain.DraftHeaderUpdate) (domain.DraftView, error) {
	draft, err := s.draftFor(actor, id)
	if err != nil {
		return domain.DraftView{}, err
	}
	view, err := draft.ApplyHeader(u)
	s.metrics.DraftMutation("header", err)
	return view, err
}

// AddDraftItem appends a line. An unknown product id leaves the draft as
// it was and is not an error.
func (s *Service) AddDraftItem(_ context.Context, actor domain.Actor, id string, req domain.DraftItemRequest) (domain.DraftView, error) {
	draft, err := s.draftFor(actor, id)
	if err != nil {
		return domain.DraftView{}, err
	}
	view, changed, err := draft.AddItem(req.ProductID)
	s.metrics.DraftMutation("add_item", err)
	if err == nil && !changed {
		s.logger.Debug().Str("draft_id", id).Str("product_id", req.ProductID).Msg("product not in catalog snapshot")
	}
	return view, err
}

func (s *Service) UpdateDraftItem(_ context.Context, actor domain.Actor, id string, index int, u domain.DraftItemUpdate) (domain.DraftView, error) {
	draft, err := s.draftFor(actor, id)
	if err != nil {
		return domain.DraftView{}, err
	}
	view, err := draft.UpdateItem(index, u)
	s.metrics.DraftMutation("update_item", err)
	return view, err
}

func (s *Service) RemoveDraftItem(_ context.Context, actor domain.Actor, id string, index int) (domain.DraftView, error) {
	draft, err := s.draftFor(actor, id)
	if err != nil {
		return domain.DraftView{}, err
	}
	view, err := draft.RemoveItem(index)
	s.metrics.DraftMutation("remove_item", err)
	return view, err
}

// RefreshDraftCatalog refetches every listing straight from the store.
// Lines already in the cart keep their prices until re-selected.
func (s *Service) RefreshDraftCatalog(ctx context.Context, actor domain.Actor, id string) (domain.DraftView, error) {
	draft, err := s.draftFor(actor, id)
	if err != nil {
		return domain.DraftView{}, err
	}
	if err := draft.BeginReload(); err != nil {
		s.metrics.DraftMutation("refresh", err)
		return domain.DraftView{}, err
	}

	listings, err := s.loadListings(ctx, draft.EmitterID(), false)
	if err != nil {
		draft.AbortReload()
		s.metrics.DraftMutation("refresh", err)
		return domain.DraftView{}, err
	}
	s.metrics.DraftMutation("refresh", nil)
	return draft.Load(listings), nil
}

// PreviewDraft renders the draft as it would be finalized, without
// persisting anything.
func (s *Service) PreviewDraft(ctx context.Context, actor domain.Actor, id string) (invoice.Preview, error) {
	draft, err := s.draftFor(actor, id)
	if err != nil {
		return invoice.Preview{}, err
	}
	payload, err := draft.Payload()
	if err != nil {
		return invoice.Preview{}, err
	}
	return s.preview(ctx, payload)
}

// FinalizeDraft persists the draft as an invoice. A successful finalize
// closes the draft; any failure leaves it open for a retry.
func (s *Service) FinalizeDraft(ctx context.Context, actor domain.Actor, id string) (domain.Invoice, error) {
	draft, err := s.draftFor(actor, id)
	if err != nil {
		return domain.Invoice{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	created, err := draft.Finalize(sctx, s.repo)
	s.metrics.Finalized(err)
	if err != nil {
		var perr *invoice.PersistenceError
		if errors.As(err, &perr) {
			s.logger.Error().Err(perr.Err).Str("draft_id", id).Str("emitter_id", draft.EmitterID()).Msg("invoice persistence failed")
		}
		return domain.Invoice{}, err
	}

	s.dropDraft(id)
	s.logger.Info().
		Str("invoice_id", created.ID).
		Str("number", created.Header.Number).
		Str("emitter_id", created.EmitterID).
		Str("grand_total", created.Totals.GrandTotal.StringFixed(2)).
		Msg("invoice finalized")
	return *created, nil
}

// DiscardDraft abandons a session. A draft with a finalize in flight
// cannot be discarded.
func (s *Service) DiscardDraft(_ context.Context, actor domain.Actor, id string) error {
	draft, err := s.draftFor(actor, id)
	if err != nil {
		return err
	}
	if draft.Status() == invoice.StatusSubmitting {
		return invoice.ErrFinalizeInFlight
	}
	s.dropDraft(id)
	return nil
}

func (s *Service) loadListings(ctx context.Context, emitterID string, cached bool) (invoice.Listings, error) {
	products, err := s.listing(ctx, cache.KindProducts, emitterID, cached)
	if err != nil {
		return invoice.Listings{}, err
	}
	clients, err := s.listing(ctx, cache.KindClients, emitterID, cached)
	if err != nil {
		return invoice.Listings{}, err
	}
	transporters, err := s.listing(ctx, cache.KindTransporters, emitterID, cached)
	if err != nil {
		return invoice.Listings{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	highest, err := s.repo.MaxInvoiceNumber(sctx, emitterID)
	if err != nil {
		return invoice.Listings{}, fmt.Errorf("next invoice number: %w", err)
	}

	return invoice.Listings{
		Catalog:      catalog.FromRecords(products, s.now()),
		Clients:      catalog.Clients(clients),
		Transporters: catalog.Transporters(transporters),
		NextNumber:   strconv.FormatInt(highest+1, 10),
	}, nil
}

// draftFor looks up a live draft owned by actor. Drafts of other users are
// reported as missing.
func (s *Service) draftFor(actor domain.Actor, id string) (*invoice.Draft, error) {
	s.mu.Lock()
	draft, ok := s.drafts[id]
	s.mu.Unlock()
	if !ok || draft.OwnerID() != actor.UserID {
		return nil, ErrDraftNotFound
	}
	if s.expired(draft, s.now()) {
		s.dropDraft(id)
		return nil, ErrDraftNotFound
	}
	return draft, nil
}

func (s *Service) putDraft(d *invoice.Draft) {
	s.mu.Lock()
	s.drafts[d.ID()] = d
	n := len(s.drafts)
	s.mu.Unlock()
	s.metrics.SetOpenDrafts(n)
}

func (s *Service) dropDraft(id string) {
	s.mu.Lock()
	delete(s.drafts, id)
	n := len(s.drafts)
	s.mu.Unlock()
	s.metrics.SetOpenDrafts(n)
}

func (s *Service) expired(d *invoice.Draft, now time.Time) bool {
	if d.Status() == invoice.StatusSubmitting {
		return false
	}
	return now.Sub(d.UpdatedAt()) > s.opts.DraftTTL
}

// sweepExpired discards drafts idle for longer than the draft TTL.
func (s *Service) sweepExpired() {
	now := s.now()
	s.mu.Lock()
	removed := 0
	for id, d := range s.drafts {
		if s.expired(d, now) {
			delete(s.drafts, id)
			removed++
		}
	}
	n := len(s.drafts)
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("expired drafts discarded")
		s.metrics.SetOpenDrafts(n)
	}
}
