// Package memory is a mutex-guarded in-memory Repository used for dev mode
// and tests. The single write lock serializes sale recording, which gives
// the same per-product linearizability the postgres backend gets from row
// locks.
package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kiranapos/backend/internal/domain"
	"kiranapos/backend/internal/money"
	"kiranapos/backend/internal/store"
	"kiranapos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	salesByID       map[string]domain.Sale
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		salesByID:       make(map[string]domain.Sale),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with the demo catalog and counter
// accounts. Passwords come from SEED_ADMIN_PASSWORD / SEED_STAFF_PASSWORD;
// hardcoded dev defaults are used (with a warning) when unset. Production
// deployments use PostgreSQL and never hit this path.
func NewSeeded() *Store {
	s := New()

	for _, p := range []struct {
		id, name, hsn, price, gstPct string
		stock                        int
	}{
		{"p-apple-250", "7 Up 250ml", "2202", "41.00", "12.00", 12},
		{"p-orange-250", "Frooti 250ml", "2202", "50.00", "15.00", 0},
		{"p-mango-500", "Maaza 500ml", "0403", "90.00", "18.00", 7},
		{"p-lime-100", "Sprite 300ml", "2202", "41.00", "14.00", 5},
	} {
		s.products[p.id] = domain.Product{
			ID:             p.id,
			Name:           p.name,
			HSN:            p.hsn,
			Price:          mustDecimal(p.price),
			TaxRatePercent: mustDecimal(p.gstPct),
			Stock:          p.stock,
		}
	}

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	for _, u := range []struct {
		username, name, password, role string
		counter                        int
	}{
		{"admin", "Admin", adminPwd, domain.RoleAdmin, 0},
		{"c1", "Counter 1", staffPwd, domain.RoleStaff, 1},
		{"c2", "Counter 2", staffPwd, domain.RoleStaff, 2},
		{"c3", "Counter 3", staffPwd, domain.RoleStaff, 3},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		s.usersByUsername[u.username] = domain.UserAccount{
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Role:      u.role,
			Counter:   u.counter,
			Active:    true,
			CreatedAt: now,
		}
	}

	return s
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("[memory-store] bad seed decimal %q: %v", s, err)
	}
	return d
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price.IsNegative() || product.TaxRatePercent.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Price.IsNegative() || product.TaxRatePercent.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.ID] = product
	saved := product
	return &saved, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	for _, sale := range s.salesByID {
		if sale.ProductID == id {
			return store.ErrConflict
		}
	}
	delete(s.products, id)
	return nil
}

// RecordSale performs the whole sale transaction under the write lock:
// stock check, pricing against the current product row, snapshot capture,
// and stock decrement. Nothing is persisted on any failure path.
func (s *Store) RecordSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.Qty < 1 || sale.Discount.IsNegative() || !domain.ValidMode(sale.Mode) {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sale.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Stock < sale.Qty {
		return nil, store.ErrInsufficientStock
	}

	totals := money.Compute(product.Price, sale.Qty, sale.Discount, product.TaxRatePercent)
	sale.Taxable = totals.Taxable
	sale.Tax = totals.Tax
	sale.Total = totals.Total
	sale.Snapshot = domain.ProductSnapshot{
		ID:             product.ID,
		Name:           product.Name,
		Price:          product.Price,
		TaxRatePercent: product.TaxRatePercent,
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	product.Stock -= sale.Qty
	s.products[product.ID] = product
	s.salesByID[sale.ID] = sale

	recorded := sale
	return &recorded, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := sale
	return &copied, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		sales = append(sales, sale)
	}
	sortSalesByDateDesc(sales)
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) ListSalesBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.Date.Before(from) || !sale.Date.Before(to) {
			continue
		}
		sales = append(sales, sale)
	}
	sortSalesByDateDesc(sales)
	return sales, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.salesByID, id)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortSalesByDateDesc(sales []domain.Sale) {
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.Date.Equal(b.Date) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
}
