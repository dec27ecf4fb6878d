package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fabirmss/notaFi/internal/cache"
	"github.com/fabirmss/notaFi/internal/catalog"
	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/format"
	"github.com/fabirmss/notaFi/internal/invoice"
	"github.com/fabirmss/notaFi/internal/obs"
	"github.com/fabirmss/notaFi/internal/store"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrDraftNotFound = errors.New("draft not found")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	StoreTimeout  time.Duration
	CacheTTL      time.Duration
	DraftTTL      time.Duration
	DefaultSeries string
	DefaultNature string
}

type Service struct {
	repo    store.Repository
	cache   cache.ListingCache
	metrics *obs.Metrics
	logger  zerolog.Logger
	opts    Options
	now     func() time.Time

	mu     sync.Mutex
	drafts map[string]*invoice.Draft
}

func New(repo store.Repository, listings cache.ListingCache, metrics *obs.Metrics, logger zerolog.Logger, opts Options) *Service {
	if listings == nil {
		listings = cache.NoopListingCache{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.DraftTTL <= 0 {
		opts.DraftTTL = 2 * time.Hour
	}
	if opts.DefaultSeries == "" {
		opts.DefaultSeries = "1"
	}
	if opts.DefaultNature == "" {
		opts.DefaultNature = "Venda de mercadoria"
	}
	return &Service{
		repo:    repo,
		cache:   listings,
		metrics: metrics,
		logger:  logger.With().Str("component", "service").Logger(),
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		drafts:  make(map[string]*invoice.Draft),
	}
}

// scopeEmitter picks the emitter a request operates on. Store users are
// pinned to their own emitter; admins must name one unless allowAll is set.
func scopeEmitter(actor domain.Actor, requested string, allowAll bool) (string, error) {
	requested = strings.TrimSpace(requested)
	if actor.IsAdmin() {
		if requested == "" && !allowAll {
			return "", fmt.Errorf("%w: emitter_id is required", store.ErrInvalidInput)
		}
		return requested, nil
	}
	if actor.Role != domain.RoleStore || actor.EmitterID == "" {
		return "", ErrForbidden
	}
	if requested != "" && requested != actor.EmitterID {
		return "", ErrForbidden
	}
	return actor.EmitterID, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

func (s *Service) ListEmitters(ctx context.Context, actor domain.Actor) ([]domain.Emitter, error) {
	if actor.IsAdmin() {
		return s.repo.ListEmitters(ctx)
	}
	emitterID, err := scopeEmitter(actor, "", false)
	if err != nil {
		return nil, err
	}
	emitter, err := s.repo.GetEmitter(ctx, emitterID)
	if err != nil {
		return nil, err
	}
	return []domain.Emitter{*emitter}, nil
}

func (s *Service) GetEmitter(ctx context.Context, actor domain.Actor, id string) (domain.Emitter, error) {
	emitterID, err := scopeEmitter(actor, id, false)
	if err != nil {
		return domain.Emitter{}, err
	}
	emitter, err := s.repo.GetEmitter(ctx, emitterID)
	if err != nil {
		return domain.Emitter{}, err
	}
	return *emitter, nil
}

func (s *Service) CreateEmitter(ctx context.Context, actor domain.Actor, req domain.EmitterCreateRequest) (domain.Emitter, error) {
	if !actor.IsAdmin() {
		return domain.Emitter{}, ErrForbidden
	}
	cnpj := format.Digits(req.CNPJ)
	if len(cnpj) != 14 {
		return domain.Emitter{}, fmt.Errorf("%w: cnpj must have 14 digits", store.ErrInvalidInput)
	}
	legalName := strings.TrimSpace(req.LegalName)
	if legalName == "" {
		return domain.Emitter{}, fmt.Errorf("%w: legal_name is required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateEmitter(ctx, domain.Emitter{
		CNPJ:              cnpj,
		LegalName:         legalName,
		TradeName:         strings.TrimSpace(req.TradeName),
		StateRegistration: strings.TrimSpace(req.StateRegistration),
		Street:            strings.TrimSpace(req.Street),
		Number:            strings.TrimSpace(req.Number),
		Neighborhood:      strings.TrimSpace(req.Neighborhood),
		City:              strings.TrimSpace(req.City),
		State:             strings.ToUpper(strings.TrimSpace(req.State)),
		CEP:               format.Digits(req.CEP),
		Phone:             strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Emitter{}, err
	}
	s.logger.Info().Str("emitter_id", created.ID).Str("by", actor.Username).Msg("emitter created")
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context, actor domain.Actor, emitterID string) ([]domain.Product, error) {
	emitterID, err := scopeEmitter(actor, emitterID, false)
	if err != nil {
		return nil, err
	}
	rows, err := s.listing(ctx, cache.KindProducts, emitterID, true)
	if err != nil {
		return nil, err
	}
	return catalog.Products(rows), nil
}

func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.ProductCreateRequest) (domain.Product, error) {
	emitterID, err := scopeEmitter(actor, req.EmitterID, false)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := productFromRequest(emitterID, req)
	if err != nil {
		return domain.Product{}, err
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, cache.KindProducts, emitterID)
	return *created, nil
}

func (s *Service) ListClients(ctx context.Context, actor domain.Actor, emitterID string) ([]domain.Client, error) {
	emitterID, err := scopeEmitter(actor, emitterID, false)
	if err != nil {
		return nil, err
	}
	rows, err := s.listing(ctx, cache.KindClients, emitterID, true)
	if err != nil {
		return nil, err
	}
	return catalog.Clients(rows), nil
}

func (s *Service) CreateClient(ctx context.Context, actor domain.Actor, req domain.ClientCreateRequest) (domain.Client, error) {
	emitterID, err := scopeEmitter(actor, req.EmitterID, false)
	if err != nil {
		return domain.Client{}, err
	}
	client, err := clientFromRequest(emitterID, req)
	if err != nil {
		return domain.Client{}, err
	}
	created, err := s.repo.CreateClient(ctx, client)
	if err != nil {
		return domain.Client{}, err
	}
	s.invalidate(ctx, cache.KindClients, emitterID)
	return *created, nil
}

func (s *Service) ListTransporters(ctx context.Context, actor domain.Actor, emitterID string) ([]domain.Transporter, error) {
	emitterID, err := scopeEmitter(actor, emitterID, false)
	if err != nil {
		return nil, err
	}
	rows, err := s.listing(ctx, cache.KindTransporters, emitterID, true)
	if err != nil {
		return nil, err
	}
	return catalog.Transporters(rows), nil
}

func (s *Service) CreateTransporter(ctx context.Context, actor domain.Actor, req domain.TransporterCreateRequest) (domain.Transporter, error) {
	emitterID, err := scopeEmitter(actor, req.EmitterID, false)
	if err != nil {
		return domain.Transporter{}, err
	}
	transporter, err := transporterFromRequest(emitterID, req)
	if err != nil {
		return domain.Transporter{}, err
	}
	created, err := s.repo.CreateTransporter(ctx, transporter)
	if err != nil {
		return domain.Transporter{}, err
	}
	s.invalidate(ctx, cache.KindTransporters, emitterID)
	return *created, nil
}

func (s *Service) Dashboard(ctx context.Context, actor domain.Actor, emitterID string) (domain.DashboardSummary, error) {
	emitterID, err := scopeEmitter(actor, emitterID, true)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	return s.repo.Dashboard(ctx, emitterID)
}

func (s *Service) ListInvoices(ctx context.Context, actor domain.Actor, emitterID string, limit int) ([]domain.Invoice, error) {
	emitterID, err := scopeEmitter(actor, emitterID, true)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListInvoices(ctx, emitterID, limit)
}

// GetInvoice hides invoices of other emitters behind ErrNotFound.
func (s *Service) GetInvoice(ctx context.Context, actor domain.Actor, id string) (domain.Invoice, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Invoice{}, store.ErrNotFound
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if !actor.IsAdmin() && inv.EmitterID != actor.EmitterID {
		return domain.Invoice{}, store.ErrNotFound
	}
	return *inv, nil
}

func (s *Service) PreviewInvoice(ctx context.Context, actor domain.Actor, id string) (invoice.Preview, error) {
	inv, err := s.GetInvoice(ctx, actor, id)
	if err != nil {
		return invoice.Preview{}, err
	}
	return s.preview(ctx, inv.InvoicePayload)
}

func (s *Service) preview(ctx context.Context, payload domain.InvoicePayload) (invoice.Preview, error) {
	emitter, err := s.repo.GetEmitter(ctx, payload.EmitterID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return invoice.Preview{}, err
		}
		s.logger.Warn().Str("emitter_id", payload.EmitterID).Msg("preview without emitter profile")
		emitter = &domain.Emitter{ID: payload.EmitterID}
	}
	return invoice.ToPreviewModel(payload, *emitter), nil
}

// listing returns raw rows for one emitter, going through the listing
// cache when cached is set.
func (s *Service) listing(ctx context.Context, kind, emitterID string, cached bool) ([]domain.Record, error) {
	key := cache.ListingKey(kind, emitterID)
	if cached {
		rows, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("listing cache read failed")
		} else if ok {
			s.metrics.CatalogLoaded("cache")
			return rows, nil
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	var (
		rows []domain.Record
		err  error
	)
	switch kind {
	case cache.KindProducts:
		rows, err = s.repo.ListProductRecords(sctx, emitterID)
	case cache.KindClients:
		rows, err = s.repo.ListClientRecords(sctx, emitterID)
	case cache.KindTransporters:
		rows, err = s.repo.ListTransporterRecords(sctx, emitterID)
	default:
		return nil, fmt.Errorf("unknown listing kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	s.metrics.CatalogLoaded("store")

	if err := s.cache.Set(ctx, key, rows, s.opts.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("listing cache write failed")
	}
	return rows, nil
}

func (s *Service) invalidate(ctx context.Context, kind, emitterID string) {
	if err := s.cache.Delete(ctx, cache.ListingKey(kind, emitterID)); err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Str("emitter_id", emitterID).Msg("listing cache invalidation failed")
	}
}

func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(decimal.NewFromInt(100))
}

func productFromRequest(emitterID string, req domain.ProductCreateRequest) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	if req.UnitPrice.IsNegative() || req.Stock.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: unit_price and stock must not be negative", store.ErrInvalidInput)
	}
	if !validRate(req.ICMSRate) || !validRate(req.IPIRate) {
		return domain.Product{}, fmt.Errorf("%w: rates must be between 0 and 100", store.ErrInvalidInput)
	}
	unit := strings.ToUpper(strings.TrimSpace(req.Unit))
	if unit == "" {
		unit = "UN"
	}
	return domain.Product{
		EmitterID:    emitterID,
		Name:         name,
		InternalCode: strings.TrimSpace(req.InternalCode),
		NCM:          format.Digits(req.NCM),
		Unit:         unit,
		UnitPrice:    req.UnitPrice,
		ICMSRate:     req.ICMSRate,
		IPIRate:      req.IPIRate,
		Stock:        req.Stock,
	}, nil
}

// clientFromRequest derives PF or PJ from the document length.
func clientFromRequest(emitterID string, req domain.ClientCreateRequest) (domain.Client, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Client{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	document := format.Digits(req.Document)
	kind := ""
	switch len(document) {
	case 11:
		kind = domain.ClientKindPerson
	case 14:
		kind = domain.ClientKindCompany
	default:
		return domain.Client{}, fmt.Errorf("%w: document must be a CPF (11 digits) or CNPJ (14 digits)", store.ErrInvalidInput)
	}
	return domain.Client{
		EmitterID:         emitterID,
		Kind:              kind,
		Name:              name,
		TradeName:         strings.TrimSpace(req.TradeName),
		Document:          document,
		StateRegistration: strings.TrimSpace(req.StateRegistration),
		Email:             strings.TrimSpace(req.Email),
		Phone:             strings.TrimSpace(req.Phone),
		Address:           strings.TrimSpace(req.Address),
		Neighborhood:      strings.TrimSpace(req.Neighborhood),
		City:              strings.TrimSpace(req.City),
		State:             strings.ToUpper(strings.TrimSpace(req.State)),
		CEP:               format.Digits(req.CEP),
	}, nil
}

func transporterFromRequest(emitterID string, req domain.TransporterCreateRequest) (domain.Transporter, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Transporter{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	document := format.Digits(req.Document)
	if len(document) != 11 && len(document) != 14 {
		return domain.Transporter{}, fmt.Errorf("%w: document must be a CPF or CNPJ", store.ErrInvalidInput)
	}
	return domain.Transporter{
		EmitterID:         emitterID,
		Name:              name,
		Document:          document,
		StateRegistration: strings.TrimSpace(req.StateRegistration),
		Address:           strings.TrimSpace(req.Address),
		City:              strings.TrimSpace(req.City),
		State:             strings.ToUpper(strings.TrimSpace(req.State)),
		Plate:             strings.ToUpper(strings.TrimSpace(req.Plate)),
	}, nil
}
