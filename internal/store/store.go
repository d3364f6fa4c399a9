package store

import (
	"context"
	"errors"
	"time"

	"kiranapos/backend/internal/domain"
)

var (
	// ErrNotFound signals a missing product, sale, or user.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock signals a sale whose quantity exceeds the locked
	// product stock. Retryable by the caller with a smaller quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidInput signals malformed or out-of-range caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict signals a business-rule violation such as deleting a
	// product that is referenced by recorded sales.
	ErrConflict = errors.New("conflict")
)

// Repository is the persistence contract shared by the postgres and memory
// backends. RecordSale is the only stock mutator: it locks the product row,
// verifies stock, prices the sale, persists it with a snapshot, and
// decrements stock as one atomic unit.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
