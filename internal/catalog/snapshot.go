package catalog

import (
	"time"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/shopspring/decimal"
)

// Resolved is what the cart needs to know about a product.
type Resolved struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	ICMSRate  decimal.Decimal
	IPIRate   decimal.Decimal
}

// Snapshot is an immutable view of one emitter's catalog taken when a
// draft loads its listings. Resolution never reaches back to the store.
type Snapshot struct {
	products []domain.Product
	byID     map[string]int
	loadedAt time.Time
}

func NewSnapshot(products []domain.Product, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		products: make([]domain.Product, len(products)),
		byID:     make(map[string]int, len(products)),
		loadedAt: loadedAt,
	}
	copy(s.products, products)
	for i, p := range s.products {
		if _, dup := s.byID[p.ID]; !dup {
			s.byID[p.ID] = i
		}
	}
	return s
}

// FromRecords normalizes a raw listing into a snapshot.
func FromRecords(records []domain.Record, loadedAt time.Time) *Snapshot {
	return NewSnapshot(Products(records), loadedAt)
}

// Resolve looks a product up by id. A nil snapshot resolves nothing.
func (s *Snapshot) Resolve(productID string) (Resolved, bool) {
	if s == nil {
		return Resolved{}, false
	}
	idx, ok := s.byID[productID]
	if !ok {
		return Resolved{}, false
	}
	p := s.products[idx]
	return Resolved{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		ICMSRate:  p.ICMSRate,
		IPIRate:   p.IPIRate,
	}, true
}

func (s *Snapshot) Products() []domain.Product {
	if s == nil {
		return []domain.Product{}
	}
	out := make([]domain.Product, len(s.products))
	copy(out, s.products)
	return out
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.products)
}

func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}
