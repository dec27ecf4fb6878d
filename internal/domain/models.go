package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin = "admin"
	RoleStore = "store"
)

const (
	ClientKindPerson  = "PF"
	ClientKindCompany = "PJ"
)

// Record is a loosely-typed row as returned by the listing fetches. Field
// names follow the legacy store schema and may vary between rows.
type Record map[string]any

// Actor is the authenticated identity of a request. It is created at login
// and carried in the access token; it is never looked up ambiently.
type Actor struct {
	UserID    string
	Username  string
	Role      string
	EmitterID string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type Emitter struct {
	ID                string    `json:"id"`
	CNPJ              string    `json:"cnpj"`
	LegalName         string    `json:"legal_name"`
	TradeName         string    `json:"trade_name,omitempty"`
	StateRegistration string    `json:"state_registration,omitempty"`
	Street            string    `json:"street,omitempty"`
	Number            string    `json:"number,omitempty"`
	Neighborhood      string    `json:"neighborhood,omitempty"`
	City              string    `json:"city,omitempty"`
	State             string    `json:"state,omitempty"`
	CEP               string    `json:"cep,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type EmitterCreateRequest struct {
	CNPJ              string `json:"cnpj" validate:"required"`
	LegalName         string `json:"legal_name" validate:"required,max=120"`
	TradeName         string `json:"trade_name" validate:"max=120"`
	StateRegistration string `json:"state_registration" validate:"max=20"`
	Street            string `json:"street"`
	Number            string `json:"number"`
	Neighborhood      string `json:"neighborhood"`
	City              string `json:"city"`
	State             string `json:"state" validate:"omitempty,len=2"`
	CEP               string `json:"cep"`
	Phone             string `json:"phone"`
}

// Product is the strict catalog shape produced by the normalization
// adapter. Monetary and rate fields are never null.
type Product struct {
	ID           string          `json:"id"`
	EmitterID    string          `json:"emitter_id"`
	Name         string          `json:"name"`
	InternalCode string          `json:"internal_code,omitempty"`
	NCM          string          `json:"ncm,omitempty"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	ICMSRate     decimal.Decimal `json:"icms_rate"`
	IPIRate      decimal.Decimal `json:"ipi_rate"`
	Stock        decimal.Decimal `json:"stock"`
}

type ProductCreateRequest struct {
	EmitterID    string          `json:"emitter_id"`
	Name         string          `json:"name" validate:"required,max=120"`
	InternalCode string          `json:"internal_code" validate:"max=40"`
	NCM          string          `json:"ncm" validate:"omitempty,numeric,len=8"`
	Unit         string          `json:"unit" validate:"max=6"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	ICMSRate     decimal.Decimal `json:"icms_rate"`
	IPIRate      decimal.Decimal `json:"ipi_rate"`
	Stock        decimal.Decimal `json:"stock"`
}

type Client struct {
	ID                string `json:"id"`
	EmitterID         string `json:"emitter_id"`
	Kind              string `json:"kind"`
	Name              string `json:"name"`
	TradeName         string `json:"trade_name,omitempty"`
	Document          string `json:"document"`
	StateRegistration string `json:"state_registration,omitempty"`
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Address           string `json:"address,omitempty"`
	Neighborhood      string `json:"neighborhood,omitempty"`
	City              string `json:"city,omitempty"`
	State             string `json:"state,omitempty"`
	CEP               string `json:"cep,omitempty"`
}

type ClientCreateRequest struct {
	EmitterID         string `json:"emitter_id"`
	Name              string `json:"name" validate:"required,max=120"`
	TradeName         string `json:"trade_name" validate:"max=120"`
	Document          string `json:"document" validate:"required"`
	StateRegistration string `json:"state_registration" validate:"max=20"`
	Email             string `json:"email" validate:"omitempty,email"`
	Phone             string `json:"phone"`
	Address           string `json:"address"`
	Neighborhood      string `json:"neighborhood"`
	City              string `json:"city"`
	State             string `json:"state" validate:"omitempty,len=2"`
	CEP               string `json:"cep"`
}

type Transporter struct {
	ID                string `json:"id"`
	EmitterID         string `json:"emitter_id"`
	Name              string `json:"name"`
	Document          string `json:"document"`
	StateRegistration string `json:"state_registration,omitempty"`
	Address           string `json:"address,omitempty"`
	City              string `json:"city,omitempty"`
	State             string `json:"state,omitempty"`
	Plate             string `json:"plate,omitempty"`
}

type TransporterCreateRequest struct {
	EmitterID         string `json:"emitter_id"`
	Name              string `json:"name" validate:"required,max=120"`
	Document          string `json:"document" validate:"required"`
	StateRegistration string `json:"state_registration" validate:"max=20"`
	Address           string `json:"address"`
	City              string `json:"city"`
	State             string `json:"state" validate:"omitempty,len=2"`
	Plate             string `json:"plate" validate:"max=8"`
}

type UserAccount struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	EmitterID string    `json:"emitter_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username  string `json:"username" validate:"required,min=4,max=40"`
	Email     string `json:"email" validate:"omitempty,email"`
	Name      string `json:"name" validate:"max=120"`
	Password  string `json:"password" validate:"required,min=6"`
	EmitterID string `json:"emitter_id" validate:"required"`
}

// UserUpdateRequest edits a store user. A nil field keeps its value; an
// empty password keeps the current one.
type UserUpdateRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	Name      *string `json:"name" validate:"omitempty,max=120"`
	Password  *string `json:"password" validate:"omitempty,min=6"`
	EmitterID *string `json:"emitter_id"`
	Active    *bool   `json:"active"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	EmitterID   string `json:"emitter_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// LineItem is one invoice row. Subtotal and tax amounts are derived from
// quantity, unit price and rates and are always written together.
type LineItem struct {
	ProductID   string          `json:"product_id,omitempty"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ICMSRate    decimal.Decimal `json:"icms_rate"`
	IPIRate     decimal.Decimal `json:"ipi_rate"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	ICMSAmount  decimal.Decimal `json:"icms_amount"`
	IPIAmount   decimal.Decimal `json:"ipi_amount"`
}

func (l LineItem) Resolved() bool {
	return l.ProductID != ""
}

type InvoiceTotals struct {
	ProductsSubtotal decimal.Decimal `json:"products_subtotal"`
	ICMSBase         decimal.Decimal `json:"icms_base"`
	ICMSTotal        decimal.Decimal `json:"icms_total"`
	IPITotal         decimal.Decimal `json:"ipi_total"`
	Freight          decimal.Decimal `json:"freight"`
	Insurance        decimal.Decimal `json:"insurance"`
	OtherExpenses    decimal.Decimal `json:"other_expenses"`
	Discount         decimal.Decimal `json:"discount"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
}

// Party is the frozen copy of a client or transporter stored on an invoice.
type Party struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Document          string `json:"document,omitempty"`
	StateRegistration string `json:"state_registration,omitempty"`
	Address           string `json:"address,omitempty"`
	Neighborhood      string `json:"neighborhood,omitempty"`
	City              string `json:"city,omitempty"`
	State             string `json:"state,omitempty"`
	CEP               string `json:"cep,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Plate             string `json:"plate,omitempty"`
}

type InvoiceHeader struct {
	Number            string          `json:"number"`
	Series            string          `json:"series"`
	EmittedAt         time.Time       `json:"emitted_at"`
	ClientID          string          `json:"client_id"`
	Client            *Party          `json:"client,omitempty"`
	TransporterID     string          `json:"transporter_id,omitempty"`
	Transporter       *Party          `json:"transporter,omitempty"`
	NatureOfOperation string          `json:"nature_of_operation"`
	CFOP              string          `json:"cfop,omitempty"`
	Observations      string          `json:"observations,omitempty"`
	Freight           decimal.Decimal `json:"freight"`
	Insurance         decimal.Decimal `json:"insurance"`
	OtherExpenses     decimal.Decimal `json:"other_expenses"`
	Discount          decimal.Decimal `json:"discount"`
}

// InvoicePayload is what gets handed to the store on finalize.
type InvoicePayload struct {
	EmitterID string        `json:"emitter_id"`
	CreatedBy string        `json:"created_by"`
	Header    InvoiceHeader `json:"header"`
	Items     []LineItem    `json:"items"`
	Totals    InvoiceTotals `json:"totals"`
}

type Invoice struct {
	ID string `json:"id"`
	InvoicePayload
	CreatedAt time.Time `json:"created_at"`
}

// DraftHeaderUpdate carries a partial header edit. Nil fields are left
// untouched; an empty client or transporter id clears the selection.
type DraftHeaderUpdate struct {
	Number            *string          `json:"number,omitempty" validate:"omitempty,numeric,max=9"`
	ClientID          *string          `json:"client_id,omitempty"`
	TransporterID     *string          `json:"transporter_id,omitempty"`
	Series            *string          `json:"series,omitempty" validate:"omitempty,max=3"`
	NatureOfOperation *string          `json:"nature_of_operation,omitempty" validate:"omitempty,max=60"`
	CFOP              *string          `json:"cfop,omitempty" validate:"omitempty,numeric,len=4"`
	Observations      *string          `json:"observations,omitempty" validate:"omitempty,max=500"`
	Freight           *decimal.Decimal `json:"freight,omitempty"`
	Insurance         *decimal.Decimal `json:"insurance,omitempty"`
	OtherExpenses     *decimal.Decimal `json:"other_expenses,omitempty"`
	Discount          *decimal.Decimal `json:"discount,omitempty"`
}

type DraftItemRequest struct {
	ProductID string `json:"product_id"`
}

type DraftItemUpdate struct {
	ProductID *string          `json:"product_id,omitempty"`
	Quantity  *int             `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DraftView is the observable state of an authoring session.
type DraftView struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	Header       InvoiceHeader `json:"header"`
	Items        []LineItem    `json:"items"`
	Totals       InvoiceTotals `json:"totals"`
	Products     []Product     `json:"products"`
	Clients      []Option      `json:"clients"`
	Transporters []Option      `json:"transporters"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type DashboardSummary struct {
	EmitterID    string          `json:"emitter_id,omitempty"`
	Invoices     int             `json:"invoices"`
	Products     int             `json:"products"`
	Clients      int             `json:"clients"`
	Transporters int             `json:"transporters"`
	BilledTotal  decimal.Decimal `json:"billed_total"`
}
