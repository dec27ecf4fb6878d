package store

import (
	"context"
	"errors"

	"github.com/fabirmss/notaFi/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("already exists")
)

// Repository is the persistence boundary. Listing fetches for products,
// clients and transporters return raw rows; callers normalize them through
// the catalog adapter.
type Repository interface {
	ListEmitters(ctx context.Context) ([]domain.Emitter, error)
	GetEmitter(ctx context.Context, id string) (*domain.Emitter, error)
	CreateEmitter(ctx context.Context, emitter domain.Emitter) (*domain.Emitter, error)

	ListProductRecords(ctx context.Context, emitterID string) ([]domain.Record, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListClientRecords(ctx context.Context, emitterID string) ([]domain.Record, error)
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	ListTransporterRecords(ctx context.Context, emitterID string) ([]domain.Record, error)
	CreateTransporter(ctx context.Context, transporter domain.Transporter) (*domain.Transporter, error)

	// Updates replace the row matching both ID and EmitterID and return
	// ErrNotFound when there is none.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	UpdateTransporter(ctx context.Context, transporter domain.Transporter) (*domain.Transporter, error)
	DeleteTransporter(ctx context.Context, emitterID, id string) error

	// MaxInvoiceNumber returns the highest numeric invoice number issued by
	// the emitter, or 0 when there is none.
	MaxInvoiceNumber(ctx context.Context, emitterID string) (int64, error)
	CreateInvoice(ctx context.Context, payload domain.InvoicePayload) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	// ListInvoices returns the newest invoices first. An empty emitterID
	// lists every emitter.
	ListInvoices(ctx context.Context, emitterID string, limit int) ([]domain.Invoice, error)
	Dashboard(ctx context.Context, emitterID string) (domain.DashboardSummary, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	// UpdateUser rewrites the account with user.ID. The username never
	// changes and an empty Password keeps the stored hash.
	UpdateUser(ctx context.Context, user domain.UserAccount) error
	DeleteUser(ctx context.Context, id string) error
}
