package service

import (
	"context"
	"strings"

	"github.com/fabirmss/notaFi/internal/cache"
	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/store"
)

// Record edits replace the whole row. Drafts keep the catalog snapshot
// they loaded and finalized invoices carry frozen lines, so neither sees
// the change; open drafts pick it up on refresh.

func (s *Service) UpdateProduct(ctx context.Context, actor domain.Actor, id string, req domain.ProductCreateRequest) (domain.Product, error) {
	emitterID, err := scopeEmitter(actor, req.EmitterID, false)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := productFromRequest(emitterID, req)
	if err != nil {
		return domain.Product{}, err
	}
	product.ID = strings.TrimSpace(id)
	if product.ID == "" {
		return domain.Product{}, store.ErrNotFound
	}
	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, cache.KindProducts, emitterID)
	s.logger.Info().Str("product_id", updated.ID).Str("by", actor.Username).Msg("product updated")
	return *updated, nil
}

func (s *Service) UpdateClient(ctx context.Context, actor domain.Actor, id string, req domain.ClientCreateRequest) (domain.Client, error) {
	emitterID, err := scopeEmitter(actor, req.EmitterID, false)
	if err != nil {
		return domain.Client{}, err
	}
	client, err := clientFromRequest(emitterID, req)
	if err != nil {
		return domain.Client{}, err
	}
	client.ID = strings.TrimSpace(id)
	if client.ID == "" {
		return domain.Client{}, store.ErrNotFound
	}
	updated, err := s.repo.UpdateClient(ctx, client)
	if err != nil {
		return domain.Client{}, err
	}
	s.invalidate(ctx, cache.KindClients, emitterID)
	return *updated, nil
}

func (s *Service) UpdateTransporter(ctx context.Context, actor domain.Actor, id string, req domain.TransporterCreateRequest) (domain.Transporter, error) {
	emitterID, err := scopeEmitter(actor, req.EmitterID, false)
	if err != nil {
		return domain.Transporter{}, err
	}
	transporter, err := transporterFromRequest(emitterID, req)
	if err != nil {
		return domain.Transporter{}, err
	}
	transporter.ID = strings.TrimSpace(id)
	if transporter.ID == "" {
		return domain.Transporter{}, store.ErrNotFound
	}
	updated, err := s.repo.UpdateTransporter(ctx, transporter)
	if err != nil {
		return domain.Transporter{}, err
	}
	s.invalidate(ctx, cache.KindTransporters, emitterID)
	return *updated, nil
}

// DeleteTransporter removes a transporter from the emitter's listing.
// Invoices that named it keep their frozen copy of the party.
func (s *Service) DeleteTransporter(ctx context.Context, actor domain.Actor, emitterID, id string) error {
	emitterID, err := scopeEmitter(actor, emitterID, false)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTransporter(ctx, emitterID, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.invalidate(ctx, cache.KindTransporters, emitterID)
	s.logger.Info().Str("transporter_id", id).Str("by", actor.Username).Msg("transporter deleted")
	return nil
}
