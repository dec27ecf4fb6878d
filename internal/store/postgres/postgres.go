package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/store"
	"github.com/fabirmss/notaFi/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListEmitters(ctx context.Context) ([]domain.Emitter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+emitterColumns+`
		FROM emitters
		ORDER BY razao_social
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emitters := make([]domain.Emitter, 0, 8)
	for rows.Next() {
		e, err := scanEmitter(rows)
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return emitters, nil
}

func (s *Store) GetEmitter(ctx context.Context, id string) (*domain.Emitter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+emitterColumns+` FROM emitters WHERE id = $1`, id)
	e, err := scanEmitter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateEmitter(ctx context.Context, emitter domain.Emitter) (*domain.Emitter, error) {
	if strings.TrimSpace(emitter.CNPJ) == "" || strings.TrimSpace(emitter.LegalName) == "" {
		return nil, store.ErrInvalidInput
	}
	if emitter.ID == "" {
		emitter.ID = xid.New("emit")
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO emitters (id, cnpj, razao_social, nome_fantasia, inscricao_estadual,
			logradouro, numero, bairro, municipio, uf, cep, telefone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at
	`, emitter.ID, emitter.CNPJ, emitter.LegalName, emitter.TradeName, emitter.StateRegistration,
		emitter.Street, emitter.Number, emitter.Neighborhood, emitter.City, emitter.State, emitter.CEP, emitter.Phone,
	).Scan(&emitter.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	emitter.CreatedAt = emitter.CreatedAt.UTC()
	return &emitter, nil
}

const emitterColumns = `id, cnpj, razao_social, nome_fantasia, inscricao_estadual,
	logradouro, numero, bairro, municipio, uf, cep, telefone, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmitter(row rowScanner) (domain.Emitter, error) {
	var e domain.Emitter
	err := row.Scan(&e.ID, &e.CNPJ, &e.LegalName, &e.TradeName, &e.StateRegistration,
		&e.Street, &e.Number, &e.Neighborhood, &e.City, &e.State, &e.CEP, &e.Phone, &e.CreatedAt)
	e.State = strings.TrimSpace(e.State)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, err
}

// Reference rows are returned through row_to_json so the caller sees the
// table's own column names, legacy spellings included.

func (s *Store) ListProductRecords(ctx context.Context, emitterID string) ([]domain.Record, error) {
	return s.listRecords(ctx, `
		SELECT row_to_json(p)::text FROM produto p
		WHERE p.idemitente = $1
		ORDER BY p.descricao
	`, emitterID)
}

func (s *Store) ListClientRecords(ctx context.Context, emitterID string) ([]domain.Record, error) {
	return s.listRecords(ctx, `
		SELECT row_to_json(c)::text FROM cliente c
		WHERE c.idemitente = $1
		ORDER BY COALESCE(c.nome, c.razao_social)
	`, emitterID)
}

func (s *Store) ListTransporterRecords(ctx context.Context, emitterID string) ([]domain.Record, error) {
	return s.listRecords(ctx, `
		SELECT row_to_json(t)::text FROM transportadora t
		WHERE t.idemitente = $1
		ORDER BY t.razao_social
	`, emitterID)
}

func (s *Store) listRecords(ctx context.Context, query string, emitterID string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, emitterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.Record, 0, 64)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// decodeRecord keeps numbers as json.Number so NUMERIC columns reach the
// catalog adapter without a float round trip.
func decodeRecord(raw []byte) (domain.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec domain.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return rec, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.EmitterID) == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.Unit == "" {
		product.Unit = "UN"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO produto (idproduto, idemitente, descricao, codigointerno, ncm, unidademedida,
			valor_unitario, aliquota_icms, aliquota_ipi, estoque)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.EmitterID, product.Name, nullIfEmpty(product.InternalCode), nullIfEmpty(product.NCM),
		product.Unit, product.UnitPrice, product.ICMSRate, product.IPIRate, product.Stock)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &product, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if strings.TrimSpace(client.EmitterID) == "" || strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if client.ID == "" {
		client.ID = xid.New("cli")
	}

	var nome, razao, cpf, cnpj any
	if client.Kind == domain.ClientKindPerson {
		nome, cpf = client.Name, nullIfEmpty(client.Document)
	} else {
		razao, cnpj = client.Name, nullIfEmpty(client.Document)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cliente (idcliente, idemitente, tipo, nome, razao_social, nome_fantasia, cpf, cnpj,
			inscricao_estadual, email, telefone, endereco, bairro, municipio, uf, cep)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, client.ID, client.EmitterID, client.Kind, nome, razao, nullIfEmpty(client.TradeName), cpf, cnpj,
		nullIfEmpty(client.StateRegistration), nullIfEmpty(client.Email), nullIfEmpty(client.Phone),
		nullIfEmpty(client.Address), nullIfEmpty(client.Neighborhood), nullIfEmpty(client.City),
		nullIfEmpty(client.State), nullIfEmpty(client.CEP))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &client, nil
}

func (s *Store) CreateTransporter(ctx context.Context, transporter domain.Transporter) (*domain.Transporter, error) {
	if strings.TrimSpace(transporter.EmitterID) == "" || strings.TrimSpace(transporter.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if transporter.ID == "" {
		transporter.ID = xid.New("tr")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transportadora (idtransportadora, idemitente, razao_social, cpf_cnpj,
			inscricao_estadual, endereco, municipio, uf, placa)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, transporter.ID, transporter.EmitterID, transporter.Name, nullIfEmpty(transporter.Document),
		nullIfEmpty(transporter.StateRegistration), nullIfEmpty(transporter.Address),
		nullIfEmpty(transporter.City), nullIfEmpty(transporter.State), nullIfEmpty(transporter.Plate))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &transporter, nil
}

// UpdateProduct writes the price to valor_unitario and clears the legacy
// valorunitario column so the two spellings cannot disagree.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Unit == "" {
		product.Unit = "UN"
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE produto
		SET descricao = $3, codigointerno = $4, ncm = $5, unidademedida = $6,
			valor_unitario = $7, valorunitario = NULL, aliquota_icms = $8, aliquota_ipi = $9, estoque = $10
		WHERE idproduto = $1 AND idemitente = $2
	`, product.ID, product.EmitterID, product.Name, nullIfEmpty(product.InternalCode), nullIfEmpty(product.NCM),
		product.Unit, product.UnitPrice, product.ICMSRate, product.IPIRate, product.Stock)
	if err := affectedOne(res, err); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if strings.TrimSpace(client.ID) == "" || strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	var nome, razao, cpf, cnpj any
	if client.Kind == domain.ClientKindPerson {
		nome, cpf = client.Name, nullIfEmpty(client.Document)
	} else {
		razao, cnpj = client.Name, nullIfEmpty(client.Document)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE cliente
		SET tipo = $3, nome = $4, razao_social = $5, nome_fantasia = $6, cpf = $7, cnpj = $8,
			inscricao_estadual = $9, email = $10, telefone = $11, endereco = $12, bairro = $13,
			municipio = $14, uf = $15, cep = $16
		WHERE idcliente = $1 AND idemitente = $2
	`, client.ID, client.EmitterID, client.Kind, nome, razao, nullIfEmpty(client.TradeName), cpf, cnpj,
		nullIfEmpty(client.StateRegistration), nullIfEmpty(client.Email), nullIfEmpty(client.Phone),
		nullIfEmpty(client.Address), nullIfEmpty(client.Neighborhood), nullIfEmpty(client.City),
		nullIfEmpty(client.State), nullIfEmpty(client.CEP))
	if err := affectedOne(res, err); err != nil {
		return nil, err
	}
	return &client, nil
}

func (s *Store) UpdateTransporter(ctx context.Context, transporter domain.Transporter) (*domain.Transporter, error) {
	if strings.TrimSpace(transporter.ID) == "" || strings.TrimSpace(transporter.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE transportadora
		SET razao_social = $3, cpf_cnpj = $4, inscricao_estadual = $5, endereco = $6,
			municipio = $7, uf = $8, placa = $9
		WHERE idtransportadora = $1 AND idemitente = $2
	`, transporter.ID, transporter.EmitterID, transporter.Name, nullIfEmpty(transporter.Document),
		nullIfEmpty(transporter.StateRegistration), nullIfEmpty(transporter.Address),
		nullIfEmpty(transporter.City), nullIfEmpty(transporter.State), nullIfEmpty(transporter.Plate))
	if err := affectedOne(res, err); err != nil {
		return nil, err
	}
	return &transporter, nil
}

func (s *Store) DeleteTransporter(ctx context.Context, emitterID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM transportadora WHERE idtransportadora = $1 AND idemitente = $2
	`, id, emitterID)
	return affectedOne(res, err)
}

// affectedOne maps a write that matched no row to ErrNotFound.
func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MaxInvoiceNumber(ctx context.Context, emitterID string) (int64, error) {
	var highest int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(number::bigint), 0)
		FROM invoices
		WHERE emitter_id = $1 AND number ~ '^[0-9]{1,18}$'
	`, emitterID).Scan(&highest)
	if err != nil {
		return 0, err
	}
	return highest, nil
}

func (s *Store) CreateInvoice(ctx context.Context, payload domain.InvoicePayload) (*domain.Invoice, error) {
	if strings.TrimSpace(payload.EmitterID) == "" || strings.TrimSpace(payload.Header.Number) == "" || len(payload.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	header, err := json.Marshal(payload.Header)
	if err != nil {
		return nil, err
	}
	items, err := json.Marshal(payload.Items)
	if err != nil {
		return nil, err
	}
	totals, err := json.Marshal(payload.Totals)
	if err != nil {
		return nil, err
	}

	inv := domain.Invoice{ID: xid.New("inv"), InvoicePayload: payload}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO invoices (id, emitter_id, number, series, client_id, transporter_id, created_by,
			emitted_at, header, items, totals, grand_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at
	`, inv.ID, payload.EmitterID, payload.Header.Number, payload.Header.Series, payload.Header.ClientID,
		nullIfEmpty(payload.Header.TransporterID), payload.CreatedBy, payload.Header.EmittedAt,
		string(header), string(items), string(totals), payload.Totals.GrandTotal,
	).Scan(&inv.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	inv.CreatedAt = inv.CreatedAt.UTC()

	// Hand back a decoded copy so callers never alias the input slices.
	return decodeInvoice(inv.ID, inv.EmitterID, inv.CreatedBy, inv.CreatedAt, header, items, totals)
}

const invoiceColumns = `id, emitter_id, created_by, created_at, header, items, totals`

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, emitterID string, limit int) ([]domain.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE ($1 = '' OR emitter_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, emitterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var (
		id, emitterID, createdBy string
		createdAt                time.Time
		header, items, totals    []byte
	)
	if err := row.Scan(&id, &emitterID, &createdBy, &createdAt, &header, &items, &totals); err != nil {
		return nil, err
	}
	return decodeInvoice(id, emitterID, createdBy, createdAt, header, items, totals)
}

func decodeInvoice(id, emitterID, createdBy string, createdAt time.Time, header, items, totals []byte) (*domain.Invoice, error) {
	inv := domain.Invoice{
		ID:        id,
		CreatedAt: createdAt.UTC(),
		InvoicePayload: domain.InvoicePayload{
			EmitterID: emitterID,
			CreatedBy: createdBy,
		},
	}
	if err := json.Unmarshal(header, &inv.Header); err != nil {
		return nil, fmt.Errorf("decode invoice header: %w", err)
	}
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return nil, fmt.Errorf("decode invoice items: %w", err)
	}
	if err := json.Unmarshal(totals, &inv.Totals); err != nil {
		return nil, fmt.Errorf("decode invoice totals: %w", err)
	}
	return &inv, nil
}

func (s *Store) Dashboard(ctx context.Context, emitterID string) (domain.DashboardSummary, error) {
	summary := domain.DashboardSummary{EmitterID: emitterID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM invoices WHERE $1 = '' OR emitter_id = $1),
			(SELECT COUNT(*) FROM produto WHERE $1 = '' OR idemitente = $1),
			(SELECT COUNT(*) FROM cliente WHERE $1 = '' OR idemitente = $1),
			(SELECT COUNT(*) FROM transportadora WHERE $1 = '' OR idemitente = $1),
			(SELECT COALESCE(SUM(grand_total), 0) FROM invoices WHERE $1 = '' OR emitter_id = $1)
	`, emitterID).Scan(&summary.Invoices, &summary.Products, &summary.Clients, &summary.Transporters, &summary.BilledTotal)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	return summary, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleStore
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, email, name, password, role, emitter_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, user.ID, user.Username, strings.ToLower(strings.TrimSpace(user.Email)), user.Name, user.Password,
		user.Role, nullIfEmpty(user.EmitterID), true, user.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, name, password, role, emitter_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var emitterID sql.NullString
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.Name, &user.Password,
			&user.Role, &emitterID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.EmitterID = emitterID.String
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateUser only moves a store account between emitters; admins stay
// unbound. An empty password keeps the stored hash.
func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) error {
	if strings.TrimSpace(user.ID) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET email = $2, name = $3, active = $4,
			emitter_id = CASE WHEN role = 'store' THEN $5 ELSE emitter_id END,
			password = COALESCE($6, password),
			updated_at = now()
		WHERE id = $1
	`, user.ID, strings.ToLower(strings.TrimSpace(user.Email)), user.Name, user.Active,
		nullIfEmpty(user.EmitterID), nullIfEmpty(user.Password))
	return affectedOne(res, err)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_users WHERE id = $1`, id)
	return affectedOne(res, err)
}

func mapWriteError(err error) error {
	switch {
	case isUniqueViolation(err):
		return store.ErrConflict
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: unknown reference", store.ErrInvalidInput)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
