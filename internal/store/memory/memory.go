package memory

import (
	"context"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/store"
	"github.com/fabirmss/notaFi/internal/xid"
)

// DemoEmitterID is the emitter the seeded store user belongs to.
const DemoEmitterID = "emit-demo"

// Store keeps everything in process memory. Product, client and
// transporter rows are held raw, in the same mixed legacy shapes the
// relational store returns, so the catalog adapter sees the same input.
type Store struct {
	mu              sync.RWMutex
	emitters        map[string]domain.Emitter
	products        map[string][]domain.Record
	clients         map[string][]domain.Record
	transporters    map[string][]domain.Record
	invoicesByID    map[string]domain.Invoice
	invoiceOrder    []string
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial accounts for dev/demo mode. Passwords come
// from SEED_ADMIN_PASSWORD and SEED_STORE_PASSWORD, with dev defaults when
// unset.
func seedUsers(logger zerolog.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	storePwd := envOr("SEED_STORE_PASSWORD", "loja123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STORE_PASSWORD") == "" {
		logger.Warn().Msg("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_STORE_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username  string
		email     string
		password  string
		role      string
		emitterID string
	}{
		{"admin", "admin@notafi.local", adminPwd, domain.RoleAdmin, ""},
		{"loja", "loja@notafi.local", storePwd, domain.RoleStore, DemoEmitterID},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal().Err(err).Str("username", u.username).Msg("hash seed password")
		}
		users[u.username] = domain.UserAccount{
			ID:        xid.New("user"),
			Username:  u.username,
			Email:     u.email,
			Password:  string(hash),
			Role:      u.role,
			EmitterID: u.emitterID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded(logger zerolog.Logger) *Store {
	s := New()
	s.usersByUsername = seedUsers(logger)
	s.emitters[DemoEmitterID] = domain.Emitter{
		ID:                DemoEmitterID,
		CNPJ:              "11222333000144",
		LegalName:         "Loja Modelo Comercio LTDA",
		TradeName:         "Loja Modelo",
		StateRegistration: "123456789110",
		Street:            "Rua das Flores",
		Number:            "100",
		Neighborhood:      "Centro",
		City:              "Campinas",
		State:             "SP",
		CEP:               "13010000",
		Phone:             "1932320000",
		CreatedAt:         time.Now().UTC(),
	}
	// Rows deliberately mix the current and legacy column names.
	s.products[DemoEmitterID] = []domain.Record{
		{"id": "prod-cadeira", "idemitente": DemoEmitterID, "descricao": "Cadeira de escritorio", "ncm": "94013000", "unidademedida": "UN", "valor_unitario": "100.00", "aliquota_icms": "18", "aliquota_ipi": "5", "estoque": "40"},
		{"idproduto": "prod-mesa", "idemitente": DemoEmitterID, "descricao": "Mesa retangular", "ncm": "94033000", "unidademedida": "UN", "valorunitario": "50.00", "icms": "10"},
		{"id": "prod-caneta", "idemitente": DemoEmitterID, "descricao": "Caneta azul", "codigointerno": "CAN-01", "unidade_medida": "CX", "valorunitario": "12,90", "aliquota_icms": "18"},
		{"id": "prod-brinde", "idemitente": DemoEmitterID, "descricao": "Brinde promocional", "valor_unitario": nil},
	}
	s.clients[DemoEmitterID] = []domain.Record{
		{"id": "cli-maria", "idemitente": DemoEmitterID, "tipo": "PF", "nome": "Maria Souza", "cpf": "12345678901", "municipio": "Campinas", "uf": "SP", "email": "maria@example.com"},
		{"idcliente": "cli-acme", "idemitente": DemoEmitterID, "tipo": "PJ", "razaosocial": "ACME Industria LTDA", "nomefantasia": "ACME", "cnpj": "12345678000190", "inscricaoestadual": "987654321", "municipio": "Sao Paulo", "uf": "SP"},
	}
	s.transporters[DemoEmitterID] = []domain.Record{
		{"id": "tr-rapido", "idemitente": DemoEmitterID, "razao_social": "Rapido Transportes SA", "cpf_cnpj": "99888777000166", "municipio": "Jundiai", "uf": "SP", "placa": "ABC1D23"},
	}
	return s
}

// New returns an empty store.
func New() *Store {
	return &Store{
		emitters:        make(map[string]domain.Emitter),
		products:        make(map[string][]domain.Record),
		clients:         make(map[string][]domain.Record),
		transporters:    make(map[string][]domain.Record),
		invoicesByID:    make(map[string]domain.Invoice),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) ListEmitters(_ context.Context) ([]domain.Emitter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emitters := slices.Collect(maps.Values(s.emitters))
	slices.SortFunc(emitters, func(a, b domain.Emitter) int {
		return strings.Compare(a.LegalName, b.LegalName)
	})
	return emitters, nil
}

func (s *Store) GetEmitter(_ context.Context, id string) (*domain.Emitter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emitter, ok := s.emitters[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &emitter, nil
}

func (s *Store) CreateEmitter(_ context.Context, emitter domain.Emitter) (*domain.Emitter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(emitter.CNPJ) == "" || strings.TrimSpace(emitter.LegalName) == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.emitters {
		if existing.CNPJ == emitter.CNPJ {
			return nil, store.ErrConflict
		}
	}
	if emitter.ID == "" {
		emitter.ID = xid.New("emit")
	}
	if emitter.CreatedAt.IsZero() {
		emitter.CreatedAt = time.Now().UTC()
	}
	s.emitters[emitter.ID] = emitter
	created := emitter
	return &created, nil
}

func (s *Store) ListProductRecords(_ context.Context, emitterID string) ([]domain.Record, error) {
	return s.records(s.products, emitterID), nil
}

func (s *Store) ListClientRecords(_ context.Context, emitterID string) ([]domain.Record, error) {
	return s.records(s.clients, emitterID), nil
}

func (s *Store) ListTransporterRecords(_ context.Context, emitterID string) ([]domain.Record, error) {
	return s.records(s.transporters, emitterID), nil
}

func (s *Store) records(table map[string][]domain.Record, emitterID string) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := table[emitterID]
	out := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, maps.Clone(row))
	}
	return out
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emitters[product.EmitterID]; !ok || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	s.products[product.EmitterID] = append(s.products[product.EmitterID], productRow(product))
	created := product
	return &created, nil
}

func productRow(product domain.Product) domain.Record {
	return domain.Record{
		"id":             product.ID,
		"idemitente":     product.EmitterID,
		"descricao":      product.Name,
		"codigointerno":  product.InternalCode,
		"ncm":            product.NCM,
		"unidademedida":  product.Unit,
		"valor_unitario": product.UnitPrice.String(),
		"aliquota_icms":  product.ICMSRate.String(),
		"aliquota_ipi":   product.IPIRate.String(),
		"estoque":        product.Stock.String(),
	}
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emitters[client.EmitterID]; !ok || strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if client.ID == "" {
		client.ID = xid.New("cli")
	}
	s.clients[client.EmitterID] = append(s.clients[client.EmitterID], clientRow(client))
	created := client
	return &created, nil
}

func clientRow(client domain.Client) domain.Record {
	row := domain.Record{
		"id":                 client.ID,
		"idemitente":         client.EmitterID,
		"tipo":               client.Kind,
		"nome_fantasia":      client.TradeName,
		"inscricao_estadual": client.StateRegistration,
		"email":              client.Email,
		"telefone":           client.Phone,
		"endereco":           client.Address,
		"bairro":             client.Neighborhood,
		"municipio":          client.City,
		"uf":                 client.State,
		"cep":                client.CEP,
	}
	if client.Kind == domain.ClientKindPerson {
		row["nome"], row["cpf"] = client.Name, client.Document
	} else {
		row["razao_social"], row["cnpj"] = client.Name, client.Document
	}
	return row
}

func (s *Store) CreateTransporter(_ context.Context, transporter domain.Transporter) (*domain.Transporter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emitters[transporter.EmitterID]; !ok || strings.TrimSpace(transporter.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if transporter.ID == "" {
		transporter.ID = xid.New("tr")
	}
	s.transporters[transporter.EmitterID] = append(s.transporters[transporter.EmitterID], transporterRow(transporter))
	created := transporter
	return &created, nil
}

func transporterRow(transporter domain.Transporter) domain.Record {
	return domain.Record{
		"id":                 transporter.ID,
		"idemitente":         transporter.EmitterID,
		"razao_social":       transporter.Name,
		"cpf_cnpj":           transporter.Document,
		"inscricao_estadual": transporter.StateRegistration,
		"endereco":           transporter.Address,
		"municipio":          transporter.City,
		"uf":                 transporter.State,
		"placa":              transporter.Plate,
	}
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if !replaceRow(s.products[product.EmitterID], product.ID, productRow(product)) {
		return nil, store.ErrNotFound
	}
	updated := product
	return &updated, nil
}

func (s *Store) UpdateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if !replaceRow(s.clients[client.EmitterID], client.ID, clientRow(client)) {
		return nil, store.ErrNotFound
	}
	updated := client
	return &updated, nil
}

func (s *Store) UpdateTransporter(_ context.Context, transporter domain.Transporter) (*domain.Transporter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(transporter.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if !replaceRow(s.transporters[transporter.EmitterID], transporter.ID, transporterRow(transporter)) {
		return nil, store.ErrNotFound
	}
	updated := transporter
	return &updated, nil
}

func (s *Store) DeleteTransporter(_ context.Context, emitterID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.transporters[emitterID]
	idx := slices.IndexFunc(rows, func(row domain.Record) bool { return rowID(row) == id })
	if id == "" || idx < 0 {
		return store.ErrNotFound
	}
	s.transporters[emitterID] = slices.Delete(rows, idx, idx+1)
	return nil
}

// replaceRow swaps the row with the given id in place. The new row uses
// the current column names, so legacy spellings on the old row are gone.
func replaceRow(rows []domain.Record, id string, row domain.Record) bool {
	if id == "" {
		return false
	}
	for i := range rows {
		if rowID(rows[i]) == id {
			rows[i] = row
			return true
		}
	}
	return false
}

// rowID reads the primary key under the current or the legacy column name.
func rowID(row domain.Record) string {
	for _, key := range []string{"id", "idproduto", "idcliente", "idtransportadora"} {
		if v, ok := row[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (s *Store) MaxInvoiceNumber(_ context.Context, emitterID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var highest int64
	for _, inv := range s.invoicesByID {
		if inv.EmitterID != emitterID {
			continue
		}
		if n, ok := sequenceNumber(inv.Header.Number); ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}

// sequenceNumber accepts 1 to 18 plain digits, the same numbers the
// postgres store counts, so highest+1 never overflows.
func sequenceNumber(number string) (int64, bool) {
	if len(number) == 0 || len(number) > 18 {
		return 0, false
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(number, 10, 64)
	return n, err == nil
}

func (s *Store) CreateInvoice(_ context.Context, payload domain.InvoicePayload) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emitters[payload.EmitterID]; !ok {
		return nil, store.ErrInvalidInput
	}
	if strings.TrimSpace(payload.Header.Number) == "" || len(payload.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.invoicesByID {
		if existing.EmitterID == payload.EmitterID &&
			existing.Header.Series == payload.Header.Series &&
			existing.Header.Number == payload.Header.Number {
			return nil, store.ErrConflict
		}
	}

	inv := domain.Invoice{
		ID:             xid.New("inv"),
		InvoicePayload: payload,
		CreatedAt:      time.Now().UTC(),
	}
	inv = cloneInvoice(inv)
	s.invoicesByID[inv.ID] = inv
	s.invoiceOrder = append(s.invoiceOrder, inv.ID)
	created := cloneInvoice(inv)
	return &created, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneInvoice(inv)
	return &dup, nil
}

func (s *Store) ListInvoices(_ context.Context, emitterID string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]domain.Invoice, 0, min(limit, len(s.invoiceOrder)))
	for i := len(s.invoiceOrder) - 1; i >= 0 && len(out) < limit; i-- {
		inv := s.invoicesByID[s.invoiceOrder[i]]
		if emitterID != "" && inv.EmitterID != emitterID {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	return out, nil
}

func (s *Store) Dashboard(_ context.Context, emitterID string) (domain.DashboardSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.DashboardSummary{EmitterID: emitterID, BilledTotal: decimal.Zero}
	count := func(table map[string][]domain.Record) int {
		if emitterID != "" {
			return len(table[emitterID])
		}
		total := 0
		for _, rows := range table {
			total += len(rows)
		}
		return total
	}
	summary.Products = count(s.products)
	summary.Clients = count(s.clients)
	summary.Transporters = count(s.transporters)
	for _, inv := range s.invoicesByID {
		if emitterID != "" && inv.EmitterID != emitterID {
			continue
		}
		summary.Invoices++
		summary.BilledTotal = summary.BilledTotal.Add(inv.Totals.GrandTotal)
	}
	return summary, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	if user.Role == "" {
		user.Role = domain.RoleStore
	}
	if user.Role == domain.RoleStore {
		if _, ok := s.emitters[user.EmitterID]; !ok {
			return store.ErrInvalidInput
		}
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := slices.Collect(maps.Values(s.usersByUsername))
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for username, existing := range s.usersByUsername {
		if existing.ID != user.ID || user.ID == "" {
			continue
		}
		if existing.Role == domain.RoleStore {
			if _, ok := s.emitters[user.EmitterID]; !ok {
				return store.ErrInvalidInput
			}
			existing.EmitterID = user.EmitterID
		}
		existing.Email = strings.ToLower(strings.TrimSpace(user.Email))
		existing.Name = user.Name
		existing.Active = user.Active
		if strings.TrimSpace(user.Password) != "" {
			existing.Password = user.Password
		}
		s.usersByUsername[username] = existing
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for username, existing := range s.usersByUsername {
		if existing.ID == id && id != "" {
			delete(s.usersByUsername, username)
			return nil
		}
	}
	return store.ErrNotFound
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	items := make([]domain.LineItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	if src.Header.Client != nil {
		c := *src.Header.Client
		dup.Header.Client = &c
	}
	if src.Header.Transporter != nil {
		t := *src.Header.Transporter
		dup.Header.Transporter = &t
	}
	return dup
}
