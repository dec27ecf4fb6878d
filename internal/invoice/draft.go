package invoice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fabirmss/notaFi/internal/catalog"
	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	StatusLoading    = "loading"
	StatusReady      = "ready"
	StatusSubmitting = "submitting"
	StatusFinalized  = "finalized"
)

// Persister stores an assembled payload.
type Persister interface {
	CreateInvoice(ctx context.Context, payload domain.InvoicePayload) (*domain.Invoice, error)
}

// Listings is everything a draft loads from the store before it can be
// finalized.
type Listings struct {
	Catalog      *catalog.Snapshot
	Clients      []domain.Client
	Transporters []domain.Transporter
	NextNumber   string
}

// Draft is one user's invoice authoring session. All mutations run under
// the draft lock and are rejected while a finalize is in flight.
type Draft struct {
	mu sync.Mutex

	id        string
	ownerID   string
	emitterID string
	now       func() time.Time

	status       string
	header       domain.InvoiceHeader
	cart         *Cart
	catalog      *catalog.Snapshot
	clients      []domain.Client
	transporters []domain.Transporter
	updatedAt    time.Time
	emittedAt    time.Time
}

func NewDraft(id string, actor domain.Actor, header domain.InvoiceHeader, now func() time.Time) *Draft {
	if now == nil {
		now = time.Now
	}
	return &Draft{
		id:        id,
		ownerID:   actor.UserID,
		emitterID: actor.EmitterID,
		now:       now,
		status:    StatusLoading,
		header:    header,
		cart:      NewCart(),
		updatedAt: now(),
	}
}

func (d *Draft) ID() string        { return d.id }
func (d *Draft) OwnerID() string   { return d.ownerID }
func (d *Draft) EmitterID() string { return d.emitterID }

// UpdatedAt reports the last time the draft was touched.
func (d *Draft) UpdatedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updatedAt
}

func (d *Draft) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// BeginReload puts the draft back into loading so a fresh catalog can be
// fetched. Existing lines keep their prices until re-selected.
func (d *Draft) BeginReload() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.mutable(); err != nil {
		return err
	}
	d.status = StatusLoading
	d.updatedAt = d.now()
	return nil
}

// AbortReload returns a reloading draft to ready with the listings it
// already had. A draft that never loaded stays in loading.
func (d *Draft) AbortReload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusLoading && d.catalog != nil {
		d.status = StatusReady
	}
}

// Load installs freshly fetched listings and marks the draft ready. The
// invoice number is only filled in when the user has not set one.
func (d *Draft) Load(l Listings) domain.DraftView {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catalog = l.Catalog
	d.clients = append([]domain.Client(nil), l.Clients...)
	d.transporters = append([]domain.Transporter(nil), l.Transporters...)
	if strings.TrimSpace(d.header.Number) == "" {
		d.header.Number = l.NextNumber
	}
	if d.status == StatusLoading {
		d.status = StatusReady
	}
	d.updatedAt = d.now()
	return d.viewLocked()
}

// ApplyHeader edits header fields. Unknown client or transporter ids are
// ignored, matching product resolution misses.
func (d *Draft) ApplyHeader(u domain.DraftHeaderUpdate) (domain.DraftView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.mutable(); err != nil {
		return domain.DraftView{}, err
	}
	for _, charge := range []struct {
		field string
		value *decimal.Decimal
	}{
		{"freight", u.Freight},
		{"insurance", u.Insurance},
		{"other_expenses", u.OtherExpenses},
		{"discount", u.Discount},
	} {
		if charge.value != nil && charge.value.IsNegative() {
			return domain.DraftView{}, &ValidationError{Field: charge.field, Message: "must not be negative"}
		}
	}

	h := d.header
	if u.Number != nil {
		h.Number = strings.TrimSpace(*u.Number)
	}
	if u.ClientID != nil {
		id := strings.TrimSpace(*u.ClientID)
		if id == "" {
			h.ClientID, h.Client = "", nil
		} else if c, ok := d.findClient(id); ok {
			h.ClientID, h.Client = c.ID, clientParty(c)
		}
	}
	if u.TransporterID != nil {
		id := strings.TrimSpace(*u.TransporterID)
		if id == "" {
			h.TransporterID, h.Transporter = "", nil
		} else if t, ok := d.findTransporter(id); ok {
			h.TransporterID, h.Transporter = t.ID, transporterParty(t)
		}
	}
	if u.Series != nil {
		h.Series = strings.TrimSpace(*u.Series)
	}
	if u.NatureOfOperation != nil {
		h.NatureOfOperation = strings.TrimSpace(*u.NatureOfOperation)
	}
	if u.CFOP != nil {
		h.CFOP = strings.TrimSpace(*u.CFOP)
	}
	if u.Observations != nil {
		h.Observations = *u.Observations
	}
	if u.Freight != nil {
		h.Freight = *u.Freight
	}
	if u.Insurance != nil {
		h.Insurance = *u.Insurance
	}
	if u.OtherExpenses != nil {
		h.OtherExpenses = *u.OtherExpenses
	}
	if u.Discount != nil {
		h.Discount = *u.Discount
	}
	d.header = h
	d.updatedAt = d.now()
	return d.viewLocked(), nil
}

// AddItem appends a line for productID, or a placeholder line when
// productID is empty. The boolean reports whether the cart changed.
func (d *Draft) AddItem(productID string) (domain.DraftView, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.mutable(); err != nil {
		return domain.DraftView{}, false, err
	}
	changed := true
	if strings.TrimSpace(productID) == "" {
		d.cart.AddBlank()
	} else {
		changed = d.cart.AddItem(d.catalog, productID)
	}
	d.updatedAt = d.now()
	return d.viewLocked(), changed, nil
}

// UpdateItem applies product, quantity and price edits to one line, in
// that order, so a price override survives a product change in the same
// request.
func (d *Draft) UpdateItem(index int, u domain.DraftItemUpdate) (domain.DraftView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.mutable(); err != nil {
		return domain.DraftView{}, err
	}

	// Work on a scratch cart so a failed step leaves the draft untouched.
	scratch := &Cart{items: d.cart.Items()}
	if u.ProductID != nil {
		if _, err := scratch.UpdateItemProduct(d.catalog, index, strings.TrimSpace(*u.ProductID)); err != nil {
			return domain.DraftView{}, err
		}
	}
	if u.Quantity != nil {
		if err := scratch.UpdateQuantity(index, *u.Quantity); err != nil {
			return domain.DraftView{}, err
		}
	}
	if u.UnitPrice != nil {
		if err := scratch.UpdateUnitPrice(index, *u.UnitPrice); err != nil {
			return domain.DraftView{}, err
		}
	}
	if u.ProductID == nil && u.Quantity == nil && u.UnitPrice == nil {
		if err := scratch.check(index); err != nil {
			return domain.DraftView{}, err
		}
	}
	d.cart = scratch
	d.updatedAt = d.now()
	return d.viewLocked(), nil
}

func (d *Draft) RemoveItem(index int) (domain.DraftView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.mutable(); err != nil {
		return domain.DraftView{}, err
	}
	if err := d.cart.RemoveItem(index); err != nil {
		return domain.DraftView{}, err
	}
	d.updatedAt = d.now()
	return d.viewLocked(), nil
}

func (d *Draft) View() domain.DraftView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewLocked()
}

// Payload assembles the draft as it would be finalized now, without
// persisting it.
func (d *Draft) Payload() (domain.InvoicePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.assembleLocked()
}

// assembleLocked stamps the emission time of the first finalize attempt,
// so a retry after a store failure sends the same payload. Previews use
// the current time until then.
func (d *Draft) assembleLocked() (domain.InvoicePayload, error) {
	header := d.header
	header.EmittedAt = d.emittedAt
	if header.EmittedAt.IsZero() {
		header.EmittedAt = d.now()
	}
	return Assemble(d.emitterID, d.ownerID, header, d.cart.Items())
}

// Finalize assembles the payload and hands it to p. The lock is released
// while p runs; concurrent mutations and a second finalize are rejected
// until it returns. On success the cart is cleared and the draft closes.
// On any failure the draft is left exactly as it was.
func (d *Draft) Finalize(ctx context.Context, p Persister) (*domain.Invoice, error) {
	d.mu.Lock()
	switch d.status {
	case StatusLoading:
		d.mu.Unlock()
		return nil, ErrDraftNotReady
	case StatusSubmitting:
		d.mu.Unlock()
		return nil, ErrFinalizeInFlight
	case StatusFinalized:
		d.mu.Unlock()
		return nil, ErrDraftClosed
	}
	payload, err := d.assembleLocked()
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.emittedAt = payload.Header.EmittedAt
	d.status = StatusSubmitting
	d.mu.Unlock()

	created, err := p.CreateInvoice(ctx, payload)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.updatedAt = d.now()
	if err != nil {
		d.status = StatusReady
		return nil, &PersistenceError{Err: err}
	}
	d.cart.Clear()
	d.status = StatusFinalized
	return created, nil
}

func (d *Draft) mutable() error {
	switch d.status {
	case StatusSubmitting:
		return ErrFinalizeInFlight
	case StatusFinalized:
		return ErrDraftClosed
	}
	return nil
}

func (d *Draft) viewLocked() domain.DraftView {
	items := d.cart.Items()
	clients := make([]domain.Option, 0, len(d.clients))
	for _, c := range d.clients {
		clients = append(clients, domain.Option{ID: c.ID, Name: c.Name})
	}
	transporters := make([]domain.Option, 0, len(d.transporters))
	for _, t := range d.transporters {
		transporters = append(transporters, domain.Option{ID: t.ID, Name: t.Name})
	}
	return domain.DraftView{
		ID:           d.id,
		Status:       d.status,
		Header:       cloneHeader(d.header),
		Items:        items,
		Totals:       ComputeTotals(items, ChargesOf(d.header)),
		Products:     d.catalog.Products(),
		Clients:      clients,
		Transporters: transporters,
		UpdatedAt:    d.updatedAt,
	}
}

func (d *Draft) findClient(id string) (domain.Client, bool) {
	for _, c := range d.clients {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Client{}, false
}

func (d *Draft) findTransporter(id string) (domain.Transporter, bool) {
	for _, t := range d.transporters {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Transporter{}, false
}

func clientParty(c domain.Client) *domain.Party {
	return &domain.Party{
		ID:                c.ID,
		Name:              c.Name,
		Document:          c.Document,
		StateRegistration: c.StateRegistration,
		Address:           c.Address,
		Neighborhood:      c.Neighborhood,
		City:              c.City,
		State:             c.State,
		CEP:               c.CEP,
		Phone:             c.Phone,
	}
}

func transporterParty(t domain.Transporter) *domain.Party {
	return &domain.Party{
		ID:                t.ID,
		Name:              t.Name,
		Document:          t.Document,
		StateRegistration: t.StateRegistration,
		Address:           t.Address,
		City:              t.City,
		State:             t.State,
		Plate:             t.Plate,
	}
}
