// Package postgres implements store.Repository on PostgreSQL via the pgx
// stdlib driver. Sale recording relies on a row-level SELECT ... FOR UPDATE
// lock so concurrent sales of the same product serialize at the database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kiranapos/backend/internal/domain"
	"kiranapos/backend/internal/money"
	"kiranapos/backend/internal/store"
	"kiranapos/backend/internal/xid"
)

// saleTxnTimeout bounds how long a sale transaction may wait on a contended
// product row lock before the context cancels it.
const saleTxnTimeout = 5 * time.Second

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

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			hsn TEXT NOT NULL DEFAULT '',
			price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
			gst_pct NUMERIC(5,2) NOT NULL CHECK (gst_pct >= 0),
			stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'staff',
			counter INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			date TIMESTAMPTZ NOT NULL,
			counter INTEGER NOT NULL DEFAULT 0,
			staff_id TEXT NOT NULL,
			staff_name TEXT NOT NULL DEFAULT '',
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
			qty INTEGER NOT NULL CHECK (qty >= 1),
			discount NUMERIC(10,2) NOT NULL DEFAULT 0,
			taxable NUMERIC(12,2) NOT NULL,
			gst NUMERIC(12,2) NOT NULL,
			total NUMERIC(12,2) NOT NULL,
			mode TEXT NOT NULL DEFAULT 'Cash',
			product_snapshot JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales (date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_product ON sales (product_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, hsn, price, gst_pct, stock
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.HSN, &p.Price, &p.TaxRatePercent, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, hsn, price, gst_pct, stock
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.HSN, &p.Price, &p.TaxRatePercent, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price.IsNegative() || product.TaxRatePercent.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, hsn, price, gst_pct, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
	`, product.ID, product.Name, product.HSN, product.Price, product.TaxRatePercent, product.Stock)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price.IsNegative() || product.TaxRatePercent.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, hsn = $3, price = $4, gst_pct = $5, stock = $6, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.HSN, product.Price, product.TaxRatePercent, product.Stock)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	saved := product
	return &saved, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		// The RESTRICT constraint on sales.product_id blocks deleting a
		// product with recorded sales.
		if isForeignKeyViolation(err) {
			return store.ErrConflict
		}
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

// RecordSale runs the sale as a single serializable transaction: lock the
// product row, verify stock, price the sale from the locked values, insert
// the sale with its snapshot, and decrement stock. Any failure rolls the
// whole transaction back.
func (s *Store) RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.Qty < 1 || sale.Discount.IsNegative() || !domain.ValidMode(sale.Mode) {
		return nil, store.ErrInvalidInput
	}

	txnCtx, cancel := context.WithTimeout(ctx, saleTxnTimeout)
	defer cancel()

	pgTx, err := s.db.BeginTx(txnCtx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var product domain.Product
	err = pgTx.QueryRowContext(txnCtx, `
		SELECT id, name, hsn, price, gst_pct, stock
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, sale.ProductID).Scan(&product.ID, &product.Name, &product.HSN, &product.Price, &product.TaxRatePercent, &product.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
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

	snapshot, err := json.Marshal(sale.Snapshot)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(txnCtx, `
		INSERT INTO sales (
			id, date, counter, staff_id, staff_name, product_id,
			qty, discount, taxable, gst, total, mode, product_snapshot
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.Date, sale.Counter, sale.StaffID, sale.StaffName, sale.ProductID,
		sale.Qty, sale.Discount, sale.Taxable, sale.Tax, sale.Total, sale.Mode, snapshot)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(txnCtx, `
		UPDATE products
		SET stock = stock - $1, updated_at = now()
		WHERE id = $2
	`, sale.Qty, sale.ProductID)
	if err != nil {
		// The stock >= 0 check constraint backs up the pre-check above.
		if isCheckViolation(err) {
			return nil, store.ErrInsufficientStock
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, date, counter, staff_id, staff_name, product_id,
		       qty, discount, taxable, gst, total, mode, product_snapshot
		FROM sales
		WHERE id = $1
	`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, counter, staff_id, staff_name, product_id,
		       qty, discount, taxable, gst, total, mode, product_snapshot
		FROM sales
		ORDER BY date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSales(rows)
}

func (s *Store) ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, counter, staff_id, staff_name, product_id,
		       qty, discount, taxable, gst, total, mode, product_snapshot
		FROM sales
		WHERE date >= $1 AND date < $2
		ORDER BY date DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSales(rows)
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
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

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, name, password, role, counter, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.Username, user.Name, user.Password, user.Role, user.Counter, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, name, password, role, counter, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Name, &u.Password, &u.Role, &u.Counter, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var snapshot []byte
	err := row.Scan(&sale.ID, &sale.Date, &sale.Counter, &sale.StaffID, &sale.StaffName,
		&sale.ProductID, &sale.Qty, &sale.Discount, &sale.Taxable, &sale.Tax,
		&sale.Total, &sale.Mode, &snapshot)
	if err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &sale.Snapshot); err != nil {
			return nil, err
		}
	}
	return &sale, nil
}

func collectSales(rows *sql.Rows) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
