package cache

import (
	"context"
	"time"

	"github.com/fabirmss/notaFi/internal/domain"
)

const (
	KindProducts     = "products"
	KindClients      = "clients"
	KindTransporters = "transporters"
)

// ListingKey names the cache entry holding one emitter's raw listing.
func ListingKey(kind string, emitterID string) string {
	return "notafi:listing:" + kind + ":" + emitterID
}

// ListingCache holds raw listing rows between draft openings so that a
// burst of new drafts does not refetch the same catalog.
type ListingCache interface {
	Get(ctx context.Context, key string) ([]domain.Record, bool, error)
	Set(ctx context.Context, key string, rows []domain.Record, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type NoopListingCache struct{}

func (NoopListingCache) Get(_ context.Context, _ string) ([]domain.Record, bool, error) {
	return nil, false, nil
}

func (NoopListingCache) Set(_ context.Context, _ string, _ []domain.Record, _ time.Duration) error {
	return nil
}

func (NoopListingCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
